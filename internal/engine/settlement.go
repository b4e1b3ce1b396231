package engine

import (
	"CoffeeFutures/internal/coffee"
	"CoffeeFutures/internal/event"
	"CoffeeFutures/internal/keys"
	fpmath "CoffeeFutures/internal/math"
	"CoffeeFutures/internal/merkle"
	"CoffeeFutures/internal/token"
)

// handleSettleCash settles a cash deal: fee slices on notional at the
// reference price, P&L transfer from the loser's vault, residual return
// above the dust threshold. Total vault outflow equals total inflow to the
// winner, the loser's refund, and the two treasuries, up to sub-dust
// residuals.
func (e *Engine) handleSettleCash(c *event.SettleCash) ([]applied, error) {
	m, d, err := e.dealFor(c.Market, c.Deal)
	if err != nil {
		return nil, err
	}
	if err := requireUnpaused(m); err != nil {
		return nil, err
	}
	if d.PhysicalDelivery {
		return nil, coffee.Errf(coffee.CodeInvalidAssetBasket, "deal %s settles physically", d.Address)
	}
	if d.Settled {
		return nil, coffee.Err(coffee.CodeAlreadySettled)
	}

	// Settleable at market expiry, after the deal deadline once both sides
	// funded, or immediately once liquidation is flagged.
	settleable := c.TS >= m.SettlementTS ||
		(c.TS >= d.DeadlineTS && d.BothDeposited()) ||
		d.Liquidated
	if !settleable {
		return nil, coffee.Errf(coffee.CodeDeadlineNotReached,
			"now %d < settlement %d and deadline %d", c.TS, m.SettlementTS, d.DeadlineTS)
	}

	if err := d.StartSettling(); err != nil {
		return nil, err
	}
	released := false
	defer func() {
		if !released && !d.Settled {
			d.StopSettling()
		}
	}()

	refPrice := m.RefPrice()
	if refPrice == 0 {
		return nil, coffee.Err(coffee.CodeZeroPrice)
	}

	notional, ok := fpmath.CheckedMul(refPrice, d.QuantityKg)
	if !ok {
		return nil, coffee.Err(coffee.CodeMathOverflow)
	}
	pnlAbs, buyerWins, ok := fpmath.LongPnL(d.AgreedPricePerKg, refPrice, d.QuantityKg)
	if !ok {
		return nil, coffee.Err(coffee.CodeMathOverflow)
	}

	protocolCut, ok1 := fpmath.MulBps(notional, m.FeeBps)
	farmerCut, ok2 := fpmath.MulBps(notional, m.FarmerFeeBps)
	buyerCut, ok3 := fpmath.MulBps(notional, m.BuyerFeeBps)
	insuranceCut, ok4 := fpmath.MulBps(notional, m.InsuranceBps)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, coffee.Err(coffee.CodeMathOverflow)
	}

	farmerBal := e.tokens.Balance(d.FarmerVault)
	buyerBal := e.tokens.Balance(d.BuyerVault)

	batch := token.NewBatch(c.IdempotencyKey())
	var fees event.FeeBreakdown
	var winnerPayment uint64

	debitFee := func(vault keys.Address, bal *uint64, amount uint64, treasury keys.Address, memo string) uint64 {
		if amount == 0 {
			return 0
		}
		if amount < m.MinTransferAmount {
			if e.metrics != nil {
				e.metrics.DustSkipped.WithLabelValues(m.Address.String()).Inc()
			}
			return 0
		}
		batch.Transfer(vault, treasury, amount, d.VaultAuth, memo)
		*bal -= amount
		return amount
	}

	if pnlAbs > 0 {
		loserVault := d.FarmerVault
		loserBal := &farmerBal
		winnerReceive := c.BuyerReceive
		if !buyerWins {
			loserVault = d.BuyerVault
			loserBal = &buyerBal
			winnerReceive = c.FarmerReceive
		}

		// Fee slices come out of the loser's vault; if they do not fit, all
		// four scale down proportionally and the rounding residual stays
		// with the loser's refund.
		scaled, scaledTotal, ok := fpmath.ScaleToFit(
			[]uint64{protocolCut, farmerCut, buyerCut, insuranceCut}, *loserBal)
		if !ok {
			return nil, coffee.Err(coffee.CodeMathOverflow)
		}

		fees.Protocol = debitFee(loserVault, loserBal, scaled[0], c.FeeTreasury, "protocol fee")
		fees.Farmer = debitFee(loserVault, loserBal, scaled[1], c.FeeTreasury, "farmer fee")
		fees.Buyer = debitFee(loserVault, loserBal, scaled[2], c.FeeTreasury, "buyer fee")
		fees.Insurance = debitFee(loserVault, loserBal, scaled[3], m.InsuranceTreasury, "insurance fee")

		want, _ := fpmath.CheckedSub(pnlAbs, scaledTotal)
		winnerPayment = want
		if winnerPayment > *loserBal {
			winnerPayment = *loserBal
		}
		if winnerPayment > 0 {
			batch.Transfer(loserVault, winnerReceive, winnerPayment, d.VaultAuth, "pnl payment")
			*loserBal -= winnerPayment
		}
	} else {
		// Zero P&L: no loser, so each side carries half of every slice,
		// capped at its own vault.
		halve := func(v uint64) (uint64, uint64) { return v / 2, v - v/2 }

		pF, pB := halve(protocolCut)
		fF, fB := halve(farmerCut)
		bF, bB := halve(buyerCut)
		iF, iB := halve(insuranceCut)

		farmerSide, _, ok1 := fpmath.ScaleToFit([]uint64{pF, fF, bF, iF}, farmerBal)
		buyerSide, _, ok2 := fpmath.ScaleToFit([]uint64{pB, fB, bB, iB}, buyerBal)
		if !ok1 || !ok2 {
			return nil, coffee.Err(coffee.CodeMathOverflow)
		}

		fees.Protocol = debitFee(d.FarmerVault, &farmerBal, farmerSide[0], c.FeeTreasury, "protocol fee") +
			debitFee(d.BuyerVault, &buyerBal, buyerSide[0], c.FeeTreasury, "protocol fee")
		fees.Farmer = debitFee(d.FarmerVault, &farmerBal, farmerSide[1], c.FeeTreasury, "farmer fee") +
			debitFee(d.BuyerVault, &buyerBal, buyerSide[1], c.FeeTreasury, "farmer fee")
		fees.Buyer = debitFee(d.FarmerVault, &farmerBal, farmerSide[2], c.FeeTreasury, "buyer fee") +
			debitFee(d.BuyerVault, &buyerBal, buyerSide[2], c.FeeTreasury, "buyer fee")
		fees.Insurance = debitFee(d.FarmerVault, &farmerBal, farmerSide[3], m.InsuranceTreasury, "insurance fee") +
			debitFee(d.BuyerVault, &buyerBal, buyerSide[3], m.InsuranceTreasury, "insurance fee")
	}

	// Residual return above the dust threshold; anything smaller stays in
	// the retired vault.
	var farmerResidual, buyerResidual uint64
	if farmerBal >= m.MinTransferAmount && farmerBal > 0 {
		farmerResidual = farmerBal
		batch.Transfer(d.FarmerVault, c.FarmerReceive, farmerResidual, d.VaultAuth, "residual (farmer)")
	}
	if buyerBal >= m.MinTransferAmount && buyerBal > 0 {
		buyerResidual = buyerBal
		batch.Transfer(d.BuyerVault, c.BuyerReceive, buyerResidual, d.VaultAuth, "residual (buyer)")
	}

	if err := e.tokens.Apply(batch); err != nil {
		return nil, err
	}

	d.MarkSettled()
	released = true

	if e.metrics != nil {
		label := m.Address.String()
		e.metrics.SettlementsCash.WithLabelValues(label).Inc()
		e.metrics.FeesCollected.WithLabelValues(label, "protocol").Add(float64(fees.Protocol))
		e.metrics.FeesCollected.WithLabelValues(label, "farmer").Add(float64(fees.Farmer))
		e.metrics.FeesCollected.WithLabelValues(label, "buyer").Add(float64(fees.Buyer))
		e.metrics.FeesCollected.WithLabelValues(label, "insurance").Add(float64(fees.Insurance))
	}

	return []applied{{
		etype:  event.EventTypeSettledCash,
		market: c.Market,
		deal:   c.Deal,
		batch:  batch,
		payload: event.SettledCashRecord{
			Deal:           d.Address,
			Market:         m.Address,
			RefPrice:       refPrice,
			PnlAbs:         pnlAbs,
			BuyerWins:      buyerWins,
			Fees:           fees,
			WinnerPayment:  winnerPayment,
			FarmerResidual: farmerResidual,
			BuyerResidual:  buyerResidual,
		},
	}}, nil
}

// handleSettlePhysical records one proof-gated delivery: delivery-token
// minting, payment of agreed_price x delivered_kg to the farmer, and on full
// delivery the residual unwind and final settlement.
func (e *Engine) handleSettlePhysical(c *event.SettlePhysical) ([]applied, error) {
	m, d, err := e.dealFor(c.Market, c.Deal)
	if err != nil {
		return nil, err
	}
	if err := requireUnpaused(m); err != nil {
		return nil, err
	}
	if !d.PhysicalDelivery {
		return nil, coffee.Errf(coffee.CodeInvalidAssetBasket, "deal %s settles in cash", d.Address)
	}
	if c.Verifier != m.Verifier {
		return nil, coffee.Errf(coffee.CodeUnauthorized, "%s is not the market verifier", c.Verifier)
	}
	if d.Settled {
		return nil, coffee.Err(coffee.CodeAlreadySettled)
	}
	if d.Liquidated {
		return nil, coffee.Errf(coffee.CodeInsufficientMargin, "deal %s is liquidated", d.Address)
	}
	if c.DeliveredKg == 0 {
		return nil, coffee.Err(coffee.CodeZeroQty)
	}
	if len(c.ProofHashes) > merkle.MaxProofHashes {
		return nil, coffee.Errf(coffee.CodeProofTooLarge, "%d proof hashes, max %d", len(c.ProofHashes), merkle.MaxProofHashes)
	}

	if d.HasMerkleRoot() {
		if c.Leaf == nil {
			return nil, coffee.Err(coffee.CodeMerkleProofMissing)
		}
		proof := make([]merkle.Hash, len(c.ProofHashes))
		for i, p := range c.ProofHashes {
			proof[i] = p
		}
		if !merkle.VerifyProof(merkle.Hash(*c.Leaf), proof, merkle.Hash(d.MerkleRoot)) {
			return nil, coffee.Err(coffee.CodeBadMerkleProof)
		}
	}

	newTotal, ok := fpmath.CheckedAdd(d.DeliveredKgTotal, c.DeliveredKg)
	if !ok {
		return nil, coffee.Err(coffee.CodeMathOverflow)
	}
	if newTotal > d.QuantityKg {
		return nil, coffee.Errf(coffee.CodeExceedsQuantity,
			"delivered %d + %d exceeds %d kg", d.DeliveredKgTotal, c.DeliveredKg, d.QuantityKg)
	}

	if err := d.StartSettling(); err != nil {
		return nil, err
	}
	released := false
	defer func() {
		if !released && !d.Settled {
			d.StopSettling()
		}
	}()

	batch := token.NewBatch(c.IdempotencyKey())

	// Delivery tokens: 10^decimals units per delivered kg, minted only when
	// the deal's basket is empty or lists the market's CFT mint.
	var mintedUnits uint64
	var createdCftAccount bool
	if d.AssetCount == 0 || d.BasketContains(m.CftMint) {
		cftMint, ok := e.tokens.MintInfo(m.CftMint)
		if !ok {
			return nil, coffee.Errf(coffee.CodeInvalidAssetBasket, "cft mint %s not initialized", m.CftMint)
		}
		scale, scaleOK := fpmath.Pow10(cftMint.Decimals)
		if !scaleOK {
			return nil, coffee.Err(coffee.CodeMathOverflow)
		}
		mintedUnits, ok = fpmath.CheckedMul(c.DeliveredKg, scale)
		if !ok {
			return nil, coffee.Err(coffee.CodeMathOverflow)
		}

		if acct, exists := e.tokens.Account(c.BuyerCftAccount); !exists {
			if err := e.tokens.CreateAccount(c.BuyerCftAccount, m.CftMint, d.Buyer); err != nil {
				return nil, err
			}
			createdCftAccount = true
		} else if acct.Mint != m.CftMint {
			return nil, coffee.Errf(coffee.CodeInvalidAssetBasket, "account %s does not hold the cft mint", c.BuyerCftAccount)
		}

		batch.MintTo(m.CftMint, c.BuyerCftAccount, mintedUnits, cftMint.Authority, "delivery tokens")
	}

	// Payment to the farmer: agreed_price x delivered_kg, capped at the
	// buyer's remaining margin.
	payment, ok := fpmath.CheckedMul(d.AgreedPricePerKg, c.DeliveredKg)
	if !ok {
		return nil, coffee.Err(coffee.CodeMathOverflow)
	}
	buyerBal := e.tokens.Balance(d.BuyerVault)
	if payment > buyerBal {
		payment = buyerBal
	}
	batch.Transfer(d.BuyerVault, c.FarmerReceive, payment, d.VaultAuth, "delivery payment")
	buyerBal -= payment

	completed := newTotal == d.QuantityKg
	if completed {
		farmerBal := e.tokens.Balance(d.FarmerVault)
		if farmerBal >= m.MinTransferAmount && farmerBal > 0 {
			batch.Transfer(d.FarmerVault, c.FarmerReceive, farmerBal, d.VaultAuth, "residual (farmer)")
		}
		if buyerBal >= m.MinTransferAmount && buyerBal > 0 {
			batch.Transfer(d.BuyerVault, c.BuyerReceive, buyerBal, d.VaultAuth, "residual (buyer)")
		}
	}

	if err := e.tokens.Apply(batch); err != nil {
		if createdCftAccount {
			e.tokens.CloseAccount(c.BuyerCftAccount)
		}
		return nil, err
	}

	d.DeliveredKgTotal = newTotal
	if completed {
		d.MarkSettled()
		released = true
	} else {
		d.StopSettling()
		released = true
	}

	if e.metrics != nil {
		label := m.Address.String()
		e.metrics.SettlementsPhysical.WithLabelValues(label).Inc()
		e.metrics.DeliveredKg.WithLabelValues(label).Add(float64(c.DeliveredKg))
	}

	return []applied{{
		etype:  event.EventTypeSettledPhysical,
		market: c.Market,
		deal:   c.Deal,
		batch:  batch,
		payload: event.SettledPhysicalRecord{
			Deal:        d.Address,
			Market:      m.Address,
			DeliveredKg: c.DeliveredKg,
			Cumulative:  newTotal,
			MintedUnits: mintedUnits,
			Payment:     payment,
			Completed:   completed,
		},
	}}, nil
}
