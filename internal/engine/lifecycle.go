package engine

import (
	"CoffeeFutures/internal/coffee"
	"CoffeeFutures/internal/event"
	"CoffeeFutures/internal/keys"
	"CoffeeFutures/internal/market"
	fpmath "CoffeeFutures/internal/math"
	"CoffeeFutures/internal/token"
)

func (e *Engine) handleInitCftMint(c *event.InitCftMint) ([]applied, error) {
	authority, _ := keys.CftMintAuthAddress(c.CftMint)

	if existing, ok := e.tokens.MintInfo(c.CftMint); ok {
		if existing.Decimals != c.Decimals {
			return nil, coffee.Errf(coffee.CodeMintDecimalsMismatch,
				"mint %s has %d decimals, command says %d", c.CftMint, existing.Decimals, c.Decimals)
		}
		return nil, coffee.Errf(coffee.CodeInvalidAssetBasket, "mint %s already initialized", c.CftMint)
	}

	if err := e.tokens.CreateMint(c.CftMint, c.Decimals, authority); err != nil {
		return nil, err
	}

	return []applied{{
		etype: event.EventTypeCftMintInitialized,
		payload: event.CftMintInitializedRecord{
			CftMint:   c.CftMint,
			Authority: c.Payer,
			Decimals:  c.Decimals,
		},
	}}, nil
}

func (e *Engine) handleCreateMarket(c *event.CreateMarket) ([]applied, error) {
	if c.CftMint.IsZero() || c.QuoteMint.IsZero() {
		return nil, coffee.Errf(coffee.CodeInvalidAssetBasket, "market mints must be non-zero")
	}
	if c.InitialMarginBps > fpmath.BpsDenominator || c.MaintenanceMarginBps > fpmath.BpsDenominator ||
		c.FeeBps > fpmath.BpsDenominator || c.FarmerFeeBps > fpmath.BpsDenominator ||
		c.BuyerFeeBps > fpmath.BpsDenominator || c.InsuranceBps > fpmath.BpsDenominator {
		return nil, coffee.Errf(coffee.CodeBadMarginParams, "bps parameter exceeds 10000")
	}
	if c.InitialMarginBps < c.MaintenanceMarginBps {
		return nil, coffee.Errf(coffee.CodeBadMarginParams,
			"initial margin %d bps < maintenance %d bps", c.InitialMarginBps, c.MaintenanceMarginBps)
	}
	if uint32(c.FeeBps)+uint32(c.FarmerFeeBps)+uint32(c.BuyerFeeBps)+uint32(c.InsuranceBps) > fpmath.BpsDenominator {
		return nil, coffee.Errf(coffee.CodeBadMarginParams, "fee slices sum exceeds 10000 bps")
	}
	if c.ContractSizeKg == 0 {
		return nil, coffee.Err(coffee.CodeZeroQty)
	}
	if c.TwapWindowSec < market.MinTwapWindowSec {
		return nil, coffee.Errf(coffee.CodeInvalidTwapWindow, "window %d sec", c.TwapWindowSec)
	}

	if treasury, ok := e.tokens.Account(c.InsuranceTreasury); !ok {
		return nil, coffee.Errf(coffee.CodeInvalidAssetBasket, "insurance treasury %s does not exist", c.InsuranceTreasury)
	} else if treasury.Mint != c.QuoteMint {
		return nil, coffee.Errf(coffee.CodeInvalidAssetBasket, "insurance treasury holds the wrong mint")
	}

	addr, _ := keys.MarketAddress(c.Authority, c.CftMint, c.QuoteMint)
	if _, exists := e.markets[addr]; exists {
		return nil, coffee.Errf(coffee.CodeMarketExists, "market %s already exists", addr)
	}

	m := &market.Market{
		Version:                   market.ProgramVersion,
		Address:                   addr,
		Authority:                 c.Authority,
		Verifier:                  c.Verifier,
		OraclePublisher:           c.OraclePublisher,
		CftMint:                   c.CftMint,
		QuoteMint:                 c.QuoteMint,
		InsuranceTreasury:         c.InsuranceTreasury,
		SettlementTS:              c.SettlementTS,
		ContractSizeKg:            c.ContractSizeKg,
		InitialMarginBps:          c.InitialMarginBps,
		MaintenanceMarginBps:      c.MaintenanceMarginBps,
		FeeBps:                    c.FeeBps,
		FarmerFeeBps:              c.FarmerFeeBps,
		BuyerFeeBps:               c.BuyerFeeBps,
		InsuranceBps:              c.InsuranceBps,
		DefaultMarginCallGraceSec: c.DefaultMarginCallGraceSec,
		MaxNotionalPerDeal:        c.MaxNotionalPerDeal,
		MaxQtyPerDeal:             c.MaxQtyPerDeal,
		MaxOracleAgeSec:           c.MaxOracleAgeSec,
		TwapWindowSec:             c.TwapWindowSec,
		PriceMode:                 c.PriceMode,
		MinTransferAmount:         c.MinTransferAmount,
		ProgramVersion:            market.ProgramVersion,
	}
	e.markets[addr] = m

	return []applied{{
		etype:  event.EventTypeMarketCreated,
		market: addr,
		payload: event.MarketCreatedRecord{
			Market:       addr,
			Authority:    c.Authority,
			CftMint:      c.CftMint,
			QuoteMint:    c.QuoteMint,
			SettlementTS: c.SettlementTS,
		},
	}}, nil
}

func (e *Engine) handlePublishPrice(c *event.PublishPrice) ([]applied, error) {
	m, err := e.marketFor(c.Market)
	if err != nil {
		return nil, err
	}
	if err := requireUnpaused(m); err != nil {
		return nil, err
	}
	if c.Publisher != m.OraclePublisher {
		return nil, coffee.Errf(coffee.CodeUnauthorized, "%s is not the oracle publisher", c.Publisher)
	}

	if err := m.ApplyPrice(c.PricePerKg, c.Nonce, c.TS); err != nil {
		if e.metrics != nil {
			e.metrics.OraclePricesRejected.WithLabelValues(m.Address.String(), string(coffee.CodeOf(err))).Inc()
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.OraclePricesAccepted.WithLabelValues(m.Address.String()).Inc()
		e.metrics.OracleLastPrice.WithLabelValues(m.Address.String()).Set(float64(c.PricePerKg))
		e.metrics.OracleTwapTimeAcc.WithLabelValues(m.Address.String()).Set(float64(m.TwapTimeAcc))
	}

	return []applied{{
		etype:  event.EventTypePricePublished,
		market: m.Address,
		payload: event.PricePublishedRecord{
			Market:     m.Address,
			PricePerKg: c.PricePerKg,
			Publisher:  c.Publisher,
			Nonce:      c.Nonce,
			TS:         c.TS,
		},
	}}, nil
}

func (e *Engine) handleOpenDeal(c *event.OpenDeal) ([]applied, error) {
	m, err := e.marketFor(c.Market)
	if err != nil {
		return nil, err
	}
	if err := requireUnpaused(m); err != nil {
		return nil, err
	}
	if c.AgreedPricePerKg == 0 {
		return nil, coffee.Err(coffee.CodeZeroPrice)
	}
	if c.QuantityKg == 0 {
		return nil, coffee.Err(coffee.CodeZeroQty)
	}
	if len(c.Assets) != len(c.AssetQty) {
		return nil, coffee.Errf(coffee.CodeInvalidAssetBasket,
			"assets/qty length mismatch: %d vs %d", len(c.Assets), len(c.AssetQty))
	}
	if len(c.Assets) > market.MaxAssets {
		return nil, coffee.Errf(coffee.CodeTooManyAssets, "%d assets, max %d", len(c.Assets), market.MaxAssets)
	}
	if c.QuantityKg > m.MaxQtyPerDeal {
		return nil, coffee.Errf(coffee.CodeCapExceeded,
			"quantity %d kg exceeds per-deal cap %d", c.QuantityKg, m.MaxQtyPerDeal)
	}

	notional, ok := fpmath.CheckedMul(c.AgreedPricePerKg, c.QuantityKg)
	if !ok {
		return nil, coffee.Err(coffee.CodeMathOverflow)
	}
	if notional > m.MaxNotionalPerDeal {
		return nil, coffee.Errf(coffee.CodeCapExceeded,
			"notional %d exceeds per-deal cap %d", notional, m.MaxNotionalPerDeal)
	}
	if c.DeadlineTS > m.SettlementTS+DealDeadlineToleranceSec {
		return nil, coffee.Errf(coffee.CodeCapExceeded,
			"deadline %d too far past settlement %d", c.DeadlineTS, m.SettlementTS)
	}

	dealAddr, _ := keys.DealAddress(c.Market, c.Farmer, c.Buyer)
	if _, exists := e.deals[dealAddr]; exists {
		return nil, coffee.Errf(coffee.CodeDealExists, "deal %s already exists", dealAddr)
	}

	vaultAuth, bump := keys.VaultAuthAddress(dealAddr)
	farmerVault, _ := keys.SubAddress(vaultAuth, "farmer_vault")
	buyerVault, _ := keys.SubAddress(vaultAuth, "buyer_vault")

	if err := e.tokens.CreateAccount(farmerVault, m.QuoteMint, vaultAuth); err != nil {
		return nil, err
	}
	if err := e.tokens.CreateAccount(buyerVault, m.QuoteMint, vaultAuth); err != nil {
		e.tokens.CloseAccount(farmerVault)
		return nil, err
	}

	// Initial margin each = ceil(notional * initial_margin_bps / 10000)
	reqMargin, ok := fpmath.CeilBps(notional, m.InitialMarginBps)
	if !ok {
		e.tokens.CloseAccount(farmerVault)
		e.tokens.CloseAccount(buyerVault)
		return nil, coffee.Err(coffee.CodeMathOverflow)
	}

	// Both legs in one batch: if either party cannot fund, the whole open
	// aborts, the vaults are unwound, and no deal record exists.
	batch := token.NewBatch(c.IdempotencyKey())
	batch.Transfer(c.FarmerFunding, farmerVault, reqMargin, c.Farmer, "initial margin (farmer)")
	batch.Transfer(c.BuyerFunding, buyerVault, reqMargin, c.Buyer, "initial margin (buyer)")
	if err := e.tokens.Apply(batch); err != nil {
		e.tokens.CloseAccount(farmerVault)
		e.tokens.CloseAccount(buyerVault)
		return nil, err
	}

	d := &market.Deal{
		Version:           market.ProgramVersion,
		Address:           dealAddr,
		Market:            c.Market,
		Farmer:            c.Farmer,
		Buyer:             c.Buyer,
		Referrer:          c.Referrer,
		FeeSplitBps:       c.FeeSplitBps,
		AgreedPricePerKg:  c.AgreedPricePerKg,
		QuantityKg:        c.QuantityKg,
		InitialMarginEach: reqMargin,
		PhysicalDelivery:  c.PhysicalDelivery,
		DeadlineTS:        c.DeadlineTS,
		FarmerDeposited:   true,
		BuyerDeposited:    true,
		VaultAuth:         vaultAuth,
		VaultAuthBump:     bump,
		FarmerVault:       farmerVault,
		BuyerVault:        buyerVault,
	}
	d.AssetCount = uint8(len(c.Assets))
	for i := range c.Assets {
		d.Assets[i] = c.Assets[i]
		d.AssetQty[i] = c.AssetQty[i]
	}
	if c.MerkleRoot != nil {
		d.MerkleRoot = *c.MerkleRoot
	}
	e.deals[dealAddr] = d

	if e.metrics != nil {
		e.metrics.DealsOpened.WithLabelValues(m.Address.String()).Inc()
	}

	return []applied{{
		etype:  event.EventTypeDealOpened,
		market: c.Market,
		deal:   dealAddr,
		batch:  batch,
		payload: event.DealOpenedRecord{
			Deal:             dealAddr,
			Market:           c.Market,
			Farmer:           c.Farmer,
			Buyer:            c.Buyer,
			AgreedPricePerKg: c.AgreedPricePerKg,
			QuantityKg:       c.QuantityKg,
			InitialMargin:    reqMargin,
			PhysicalDelivery: c.PhysicalDelivery,
		},
	}}, nil
}

func (e *Engine) handleTopUpMargin(c *event.TopUpMargin) ([]applied, error) {
	m, d, err := e.dealFor(c.Market, c.Deal)
	if err != nil {
		return nil, err
	}
	if err := requireUnpaused(m); err != nil {
		return nil, err
	}
	if c.Amount == 0 {
		return nil, coffee.Err(coffee.CodeZeroAmount)
	}
	if d.Settled {
		return nil, coffee.Err(coffee.CodeAlreadySettled)
	}
	if d.Liquidated {
		return nil, coffee.Errf(coffee.CodeInsufficientMargin, "deal %s is liquidated", d.Address)
	}
	if !d.IsCounterparty(c.Who) {
		return nil, coffee.Errf(coffee.CodeInvalidCounterparty, "%s is not a party to deal %s", c.Who, d.Address)
	}

	side := "farmer"
	vault := d.FarmerVault
	if c.Who == d.Buyer {
		side = "buyer"
		vault = d.BuyerVault
	}

	batch := token.NewBatch(c.IdempotencyKey())
	batch.Transfer(c.From, vault, c.Amount, c.Who, "margin top-up")
	if err := e.tokens.Apply(batch); err != nil {
		return nil, err
	}

	return []applied{{
		etype:  event.EventTypeMarginToppedUp,
		market: c.Market,
		deal:   c.Deal,
		batch:  batch,
		payload: event.MarginToppedUpRecord{
			Deal:   d.Address,
			Who:    c.Who,
			Side:   side,
			Amount: c.Amount,
		},
	}}, nil
}

func (e *Engine) handleCancelDeal(c *event.CancelDeal) ([]applied, error) {
	m, d, err := e.dealFor(c.Market, c.Deal)
	if err != nil {
		return nil, err
	}
	// cancel_deal stays available while the market is paused
	if d.Settled {
		return nil, coffee.Err(coffee.CodeAlreadySettled)
	}

	// Cancelable while either side has not deposited, or before the deadline.
	if d.BothDeposited() && c.TS >= d.DeadlineTS {
		return nil, coffee.Errf(coffee.CodeCannotCancel,
			"both deposited and deadline %d passed", d.DeadlineTS)
	}

	farmerRefund := e.tokens.Balance(d.FarmerVault)
	buyerRefund := e.tokens.Balance(d.BuyerVault)

	batch := token.NewBatch(c.IdempotencyKey())
	batch.Transfer(d.FarmerVault, c.FarmerReceive, farmerRefund, d.VaultAuth, "cancel refund (farmer)")
	batch.Transfer(d.BuyerVault, c.BuyerReceive, buyerRefund, d.VaultAuth, "cancel refund (buyer)")
	if err := e.tokens.Apply(batch); err != nil {
		return nil, err
	}

	d.MarkSettled()

	if e.metrics != nil {
		e.metrics.DealsCanceled.WithLabelValues(m.Address.String()).Inc()
	}

	return []applied{{
		etype:  event.EventTypeDealCanceled,
		market: c.Market,
		deal:   c.Deal,
		batch:  batch,
		payload: event.DealCanceledRecord{
			Deal:         d.Address,
			Market:       m.Address,
			FarmerRefund: farmerRefund,
			BuyerRefund:  buyerRefund,
		},
	}}, nil
}

func (e *Engine) handleCloseDeal(c *event.CloseDeal) ([]applied, error) {
	_, d, err := e.dealFor(c.Market, c.Deal)
	if err != nil {
		return nil, err
	}
	if !d.Settled {
		return nil, coffee.Err(coffee.CodeNotSettled)
	}

	delete(e.deals, c.Deal)

	return []applied{{
		etype:  event.EventTypeDealClosed,
		market: c.Market,
		deal:   c.Deal,
		payload: event.DealClosedRecord{
			Deal:   c.Deal,
			Market: c.Market,
		},
	}}, nil
}

func (e *Engine) handleProposeRotateOracle(c *event.ProposeRotateOracle) ([]applied, error) {
	m, err := e.marketFor(c.Market)
	if err != nil {
		return nil, err
	}
	if c.Authority != m.Authority {
		return nil, coffee.Errf(coffee.CodeUnauthorized, "%s is not the market authority", c.Authority)
	}
	if c.EffectiveAfterTS < c.TS+MinRotationDelaySec {
		return nil, coffee.Errf(coffee.CodeRotationNotEffective,
			"effective ts %d is inside the %ds timelock", c.EffectiveAfterTS, MinRotationDelaySec)
	}

	m.PendingOracle = c.NewOracle
	m.PendingOracleEffectiveTS = c.EffectiveAfterTS

	return []applied{{
		etype:  event.EventTypeRoleRotationProposed,
		market: c.Market,
		payload: event.RoleRotationProposedRecord{
			Market:      m.Address,
			Role:        "oracle",
			Pending:     c.NewOracle,
			EffectiveTS: c.EffectiveAfterTS,
		},
	}}, nil
}

func (e *Engine) handleActivateRotateOracle(c *event.ActivateRotateOracle) ([]applied, error) {
	m, err := e.marketFor(c.Market)
	if err != nil {
		return nil, err
	}
	if c.Authority != m.Authority {
		return nil, coffee.Errf(coffee.CodeUnauthorized, "%s is not the market authority", c.Authority)
	}
	if m.PendingOracle.IsZero() {
		return nil, coffee.Err(coffee.CodeNoPendingRotation)
	}
	if c.TS < m.PendingOracleEffectiveTS {
		return nil, coffee.Errf(coffee.CodeRotationNotEffective,
			"now %d < effective %d", c.TS, m.PendingOracleEffectiveTS)
	}

	m.OraclePublisher = m.PendingOracle
	m.PendingOracle = keys.ZeroAddress
	m.PendingOracleEffectiveTS = 0

	return []applied{{
		etype:  event.EventTypeRoleRotationActivated,
		market: c.Market,
		payload: event.RoleRotationActivatedRecord{
			Market:    m.Address,
			Role:      "oracle",
			Activated: m.OraclePublisher,
		},
	}}, nil
}

func (e *Engine) handleSetPaused(c *event.SetPaused) ([]applied, error) {
	m, err := e.marketFor(c.Market)
	if err != nil {
		return nil, err
	}
	if c.Authority != m.Authority {
		return nil, coffee.Errf(coffee.CodeUnauthorized, "%s is not the market authority", c.Authority)
	}

	m.Paused = c.Paused

	return []applied{{
		etype:  event.EventTypeMarketPauseSet,
		market: c.Market,
		payload: event.MarketPauseSetRecord{
			Market: m.Address,
			Paused: c.Paused,
		},
	}}, nil
}
