package market_test

import (
	"testing"

	"CoffeeFutures/internal/coffee"
	"CoffeeFutures/internal/market"
)

func newOracleMarket() *market.Market {
	return &market.Market{
		Version:         market.ProgramVersion,
		ProgramVersion:  market.ProgramVersion,
		TwapWindowSec:   60,
		MaxOracleAgeSec: 3_600,
		PriceMode:       market.PriceModeLast,
	}
}

const now = int64(1_700_000_000)

// ============================================================================
// Test: nonce monotonicity
// ============================================================================

func TestApplyPrice_NonceMustIncrease(t *testing.T) {
	m := newOracleMarket()

	if err := m.ApplyPrice(1_000, 5, now); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	err := m.ApplyPrice(1_100, 5, now+10)
	if !coffee.IsCode(err, coffee.CodeNonceReplay) {
		t.Fatalf("equal nonce: expected NonceReplay, got %v", err)
	}
	err = m.ApplyPrice(1_100, 4, now+10)
	if !coffee.IsCode(err, coffee.CodeNonceReplay) {
		t.Fatalf("lower nonce: expected NonceReplay, got %v", err)
	}

	if err := m.ApplyPrice(1_100, 6, now+10); err != nil {
		t.Fatalf("higher nonce: %v", err)
	}
	if m.LastPriceNonce != 6 {
		t.Errorf("nonce: got %d, want 6", m.LastPriceNonce)
	}
}

// ============================================================================
// Test: price band
// ============================================================================

func TestApplyPrice_Band(t *testing.T) {
	m := newOracleMarket()

	if err := m.ApplyPrice(1_000, 1, now); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	// Exactly 25% is allowed.
	if err := m.ApplyPrice(1_250, 2, now+1); err != nil {
		t.Fatalf("25%% move: %v", err)
	}

	// Over 25% is rejected and nothing commits.
	err := m.ApplyPrice(1_600, 3, now+2)
	if !coffee.IsCode(err, coffee.CodePriceBand) {
		t.Fatalf("expected PriceBand, got %v", err)
	}
	if m.LastPricePerKg != 1_250 || m.LastPriceNonce != 2 {
		t.Errorf("rejected publish mutated state: price=%d nonce=%d", m.LastPricePerKg, m.LastPriceNonce)
	}

	// Downward band holds too.
	err = m.ApplyPrice(900, 3, now+3)
	if !coffee.IsCode(err, coffee.CodePriceBand) {
		t.Fatalf("expected PriceBand on -28%% move, got %v", err)
	}
}

func TestApplyPrice_ZeroRejected(t *testing.T) {
	m := newOracleMarket()
	err := m.ApplyPrice(0, 1, now)
	if !coffee.IsCode(err, coffee.CodeZeroPrice) {
		t.Fatalf("expected ZeroPrice, got %v", err)
	}
}

// ============================================================================
// Test: TWAP accumulation, compression, staleness reset
// ============================================================================

func TestApplyPrice_TwapAccumulates(t *testing.T) {
	m := newOracleMarket()

	// First publish only anchors the timestamp.
	if err := m.ApplyPrice(100, 1, now); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if m.TwapAcc != 0 || m.TwapTimeAcc != 0 {
		t.Fatalf("first publish accumulated: acc=%d time=%d", m.TwapAcc, m.TwapTimeAcc)
	}

	// 10 seconds at price 100.
	if err := m.ApplyPrice(120, 2, now+10); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if m.TwapAcc != 1_000 || m.TwapTimeAcc != 10 {
		t.Errorf("after 10s: acc=%d time=%d, want 1000/10", m.TwapAcc, m.TwapTimeAcc)
	}

	// 20 more seconds at price 120.
	if err := m.ApplyPrice(110, 3, now+30); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if m.TwapAcc != 3_400 || m.TwapTimeAcc != 30 {
		t.Errorf("after 30s: acc=%d time=%d, want 3400/30", m.TwapAcc, m.TwapTimeAcc)
	}

	m.PriceMode = market.PriceModeTWAP
	if got := m.RefPrice(); got != 113 { // 3400/30
		t.Errorf("twap ref price: got %d, want 113", got)
	}
}

func TestApplyPrice_TwapCompressesToWindow(t *testing.T) {
	m := newOracleMarket() // 60s window

	if err := m.ApplyPrice(100, 1, now); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := m.ApplyPrice(100, 2, now+50); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// 50 more seconds pushes the time accumulator to 100 > 60: both
	// accumulators scale down by 60/100.
	if err := m.ApplyPrice(100, 3, now+100); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if m.TwapTimeAcc != 60 {
		t.Errorf("time acc after compression: got %d, want 60", m.TwapTimeAcc)
	}
	if m.TwapAcc != 6_000 { // 10000 * 60/100
		t.Errorf("acc after compression: got %d, want 6000", m.TwapAcc)
	}

	// The window cap holds after every publish.
	if m.TwapTimeAcc > m.TwapWindowSec {
		t.Error("twap_time_acc exceeds window")
	}
}

func TestApplyPrice_StaleChainAcceptedResetsTwap(t *testing.T) {
	m := newOracleMarket() // max age 3600

	if err := m.ApplyPrice(100, 1, now); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := m.ApplyPrice(110, 2, now+10); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if m.TwapTimeAcc == 0 {
		t.Fatal("expected twap accumulation before the gap")
	}

	// A gap beyond max_oracle_age_sec: the update is ACCEPTED, the TWAP
	// restarts from here.
	if err := m.ApplyPrice(120, 3, now+10+7_200); err != nil {
		t.Fatalf("stale-chain publish rejected: %v", err)
	}
	if m.TwapAcc != 0 || m.TwapTimeAcc != 0 {
		t.Errorf("twap not reset: acc=%d time=%d", m.TwapAcc, m.TwapTimeAcc)
	}
	if m.LastPricePerKg != 120 || m.LastPriceNonce != 3 {
		t.Errorf("stale-chain update not committed: price=%d nonce=%d", m.LastPricePerKg, m.LastPriceNonce)
	}

	// prev_price tracks last_price across the commit.
	if m.PrevPricePerKg != 110 {
		t.Errorf("prev price: got %d, want 110", m.PrevPricePerKg)
	}
}

func TestRefPrice_FallsBackToLastPrice(t *testing.T) {
	m := newOracleMarket()
	m.PriceMode = market.PriceModeTWAP
	m.LastPricePerKg = 500

	// TWAP mode with no accumulated time falls back to the last price.
	if got := m.RefPrice(); got != 500 {
		t.Errorf("ref price: got %d, want 500", got)
	}
}
