package engine

import (
	"CoffeeFutures/internal/coffee"
	"CoffeeFutures/internal/event"
	fpmath "CoffeeFutures/internal/math"
)

// handleMarginCall lets the market authority override the grace window and
// optionally restart the margin-call clock.
func (e *Engine) handleMarginCall(c *event.MarginCall) ([]applied, error) {
	m, d, err := e.dealFor(c.Market, c.Deal)
	if err != nil {
		return nil, err
	}
	if c.Authority != m.Authority {
		return nil, coffee.Errf(coffee.CodeUnauthorized, "%s is not the market authority", c.Authority)
	}
	if d.Settled {
		return nil, coffee.Err(coffee.CodeAlreadySettled)
	}

	d.MarginCallGraceSec = c.GraceSec
	if c.SetCallTS {
		d.MarginCallTS = c.TS
	}

	if e.metrics != nil {
		e.metrics.MarginCalls.WithLabelValues(m.Address.String()).Inc()
	}

	return []applied{{
		etype:  event.EventTypeMarginCalled,
		market: c.Market,
		deal:   c.Deal,
		payload: event.MarginCalledRecord{
			Deal:     d.Address,
			RefPrice: m.RefPrice(),
			TS:       d.MarginCallTS,
			GraceSec: c.GraceSec,
		},
	}}, nil
}

// handleMarkToMarket is the permissionless margin check. The losing side's
// effective equity is its vault balance minus |pnl|; falling under the
// maintenance requirement opens a margin call, and an unhealed call past its
// grace window flags the deal for liquidation.
func (e *Engine) handleMarkToMarket(c *event.MarkToMarket) ([]applied, error) {
	m, d, err := e.dealFor(c.Market, c.Deal)
	if err != nil {
		return nil, err
	}
	if err := requireUnpaused(m); err != nil {
		return nil, err
	}
	if d.Settled {
		return nil, coffee.Err(coffee.CodeAlreadySettled)
	}

	refPrice := m.RefPrice()
	if refPrice == 0 {
		return nil, coffee.Err(coffee.CodeZeroPrice)
	}

	notionalNow, ok := fpmath.CheckedMul(refPrice, d.QuantityKg)
	if !ok {
		return nil, coffee.Err(coffee.CodeMathOverflow)
	}
	maintenance, ok := fpmath.CeilBps(notionalNow, m.MaintenanceMarginBps)
	if !ok {
		return nil, coffee.Err(coffee.CodeMathOverflow)
	}

	pnlAbs, buyerWins, ok := fpmath.LongPnL(d.AgreedPricePerKg, refPrice, d.QuantityKg)
	if !ok {
		return nil, coffee.Err(coffee.CodeMathOverflow)
	}

	var farmerLoss, buyerLoss uint64
	if pnlAbs > 0 {
		if buyerWins {
			farmerLoss = pnlAbs
		} else {
			buyerLoss = pnlAbs
		}
	}

	farmerHealthy := sideHealthy(e.tokens.Balance(d.FarmerVault), farmerLoss, maintenance)
	buyerHealthy := sideHealthy(e.tokens.Balance(d.BuyerVault), buyerLoss, maintenance)

	if farmerHealthy && buyerHealthy {
		// Recovered: clear an open margin call.
		if d.MarginCallTS != 0 {
			d.MarginCallTS = 0
			if e.metrics != nil {
				e.metrics.MarginCallsCleared.WithLabelValues(m.Address.String()).Inc()
			}
		}
		return nil, nil
	}

	if d.MarginCallTS == 0 {
		d.MarginCallTS = c.TS
		if d.MarginCallGraceSec == 0 {
			d.MarginCallGraceSec = m.DefaultMarginCallGraceSec
		}
		if e.metrics != nil {
			e.metrics.MarginCalls.WithLabelValues(m.Address.String()).Inc()
		}
		return []applied{{
			etype:  event.EventTypeMarginCalled,
			market: c.Market,
			deal:   c.Deal,
			payload: event.MarginCalledRecord{
				Deal:     d.Address,
				RefPrice: refPrice,
				TS:       d.MarginCallTS,
				GraceSec: d.MarginCallGraceSec,
			},
		}}, nil
	}

	graceEnd := d.MarginCallTS + int64(d.MarginCallGraceSec)
	if c.TS >= graceEnd && !d.Liquidated {
		d.Liquidated = true
		if e.metrics != nil {
			e.metrics.Liquidations.WithLabelValues(m.Address.String()).Inc()
		}
		return []applied{{
			etype:  event.EventTypeLiquidationFlagged,
			market: c.Market,
			deal:   c.Deal,
			payload: event.LiquidationFlaggedRecord{
				Deal: d.Address,
				TS:   c.TS,
			},
		}}, nil
	}

	// Inside the grace window: nothing changes, nothing is logged.
	return nil, nil
}

// sideHealthy reports balance - loss >= maintenance without underflowing.
func sideHealthy(balance, loss, maintenance uint64) bool {
	required, ok := fpmath.CheckedAdd(loss, maintenance)
	if !ok {
		return false
	}
	return balance >= required
}
