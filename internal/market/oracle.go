package market

import (
	"CoffeeFutures/internal/coffee"
	fpmath "CoffeeFutures/internal/math"
)

// ApplyPrice runs the oracle pipeline for one published price: nonce replay
// protection, the ±25% price band against the last accepted price, the
// staleness check (a stale chain is accepted but resets the TWAP
// accumulators), the TWAP update, and finally the commit of
// prev/last/nonce/timestamp.
//
// On any error the market is left untouched.
func (m *Market) ApplyPrice(pricePerKg, nonce uint64, now int64) error {
	if nonce <= m.LastPriceNonce {
		return coffee.Errf(coffee.CodeNonceReplay,
			"nonce %d <= last %d", nonce, m.LastPriceNonce)
	}
	if pricePerKg == 0 {
		return coffee.Err(coffee.CodeZeroPrice)
	}

	// Price band against the last accepted price: |p1 - p0| * 4 <= p0.
	if m.LastPricePerKg > 0 {
		if err := priceBandOK(m.LastPricePerKg, pricePerKg, PriceBandMaxDeltaBps); err != nil {
			return err
		}
	}

	// Staleness: a gap beyond max_oracle_age_sec does not reject the update —
	// the chain is broken, so the TWAP restarts from here instead.
	stale := false
	if m.LastOracleUpdateTS > 0 && m.MaxOracleAgeSec > 0 {
		age := now - m.LastOracleUpdateTS
		if age > int64(m.MaxOracleAgeSec) {
			stale = true
		}
	}

	if stale {
		m.TwapAcc = 0
		m.TwapTimeAcc = 0
	} else if err := m.updateTwap(now); err != nil {
		return err
	}

	m.PrevPricePerKg = m.LastPricePerKg
	m.LastPricePerKg = pricePerKg
	m.LastPriceNonce = nonce
	m.LastOracleUpdateTS = now
	return nil
}

// updateTwap folds the previous price over the elapsed interval into the
// accumulators, then compresses them back into the window so
// twap_time_acc <= twap_window_sec always holds afterwards.
func (m *Market) updateTwap(now int64) error {
	if m.LastOracleUpdateTS == 0 {
		// First publish: nothing to accumulate yet.
		return nil
	}

	dt := now - m.LastOracleUpdateTS
	if dt <= 0 {
		return nil
	}

	add := uint64(dt)
	if add > m.TwapWindowSec {
		add = m.TwapWindowSec
	}

	addVal, ok := fpmath.CheckedMul(m.LastPricePerKg, add)
	if !ok {
		return coffee.Err(coffee.CodeMathOverflow)
	}
	acc, ok := fpmath.CheckedAdd(m.TwapAcc, addVal)
	if !ok {
		return coffee.Err(coffee.CodeMathOverflow)
	}
	timeAcc, ok := fpmath.CheckedAdd(m.TwapTimeAcc, add)
	if !ok {
		return coffee.Err(coffee.CodeMathOverflow)
	}

	if timeAcc > m.TwapWindowSec {
		scaled, ok := fpmath.MulDiv(acc, m.TwapWindowSec, timeAcc, fpmath.RoundDown)
		if !ok {
			return coffee.Err(coffee.CodeMathOverflow)
		}
		acc = scaled
		timeAcc = m.TwapWindowSec
	}

	m.TwapAcc = acc
	m.TwapTimeAcc = timeAcc
	return nil
}

func priceBandOK(prev, next, maxDeltaBps uint64) error {
	var delta uint64
	if next >= prev {
		delta = next - prev
	} else {
		delta = prev - next
	}

	deltaBps, ok := fpmath.MulDiv(delta, fpmath.BpsDenominator, prev, fpmath.RoundUp)
	if !ok {
		return coffee.Err(coffee.CodeMathOverflow)
	}
	if deltaBps > maxDeltaBps {
		return coffee.Errf(coffee.CodePriceBand,
			"move of %d bps exceeds %d bps cap (prev=%d next=%d)", deltaBps, maxDeltaBps, prev, next)
	}
	return nil
}
