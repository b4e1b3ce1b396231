package market

import (
	"CoffeeFutures/internal/coffee"
	"CoffeeFutures/internal/keys"
)

// ProgramVersion guards persisted records against schema drift. Every
// market-touching entrypoint rejects a record written by a different version.
const ProgramVersion uint8 = 1

// MinTwapWindowSec is the smallest accepted TWAP window.
const MinTwapWindowSec uint64 = 1

// PriceBandMaxDeltaBps caps the move between two successive accepted oracle
// prices at ±25%.
const PriceBandMaxDeltaBps uint64 = 2_500

// PriceMode selects the reference price used by margin and settlement.
type PriceMode uint8

const (
	PriceModeLast PriceMode = iota
	PriceModeTWAP
)

// Market is a per-harvest venue: role bindings, token bindings, economics,
// oracle state, and governance flags. Identified by
// (authority, cft_mint, quote_mint) through its derived address.
type Market struct {
	Version uint8
	Address keys.Address

	// Role bindings
	Authority       keys.Address
	Verifier        keys.Address
	OraclePublisher keys.Address

	// Pending oracle rotation (timelocked)
	PendingOracle            keys.Address
	PendingOracleEffectiveTS int64

	// Token bindings
	CftMint           keys.Address
	QuoteMint         keys.Address
	InsuranceTreasury keys.Address

	// Economics
	SettlementTS         int64
	ContractSizeKg       uint64
	InitialMarginBps     uint16
	MaintenanceMarginBps uint16
	FeeBps               uint16
	FarmerFeeBps         uint16
	BuyerFeeBps          uint16
	InsuranceBps         uint16

	DefaultMarginCallGraceSec uint64

	// Exposure caps
	MaxNotionalPerDeal uint64
	MaxQtyPerDeal      uint64

	// Oracle state
	LastPricePerKg     uint64
	PrevPricePerKg     uint64
	LastPriceNonce     uint64
	LastOracleUpdateTS int64
	MaxOracleAgeSec    uint64

	// TWAP accumulators: twap_acc = Σ price·dt, twap_time_acc = Σ dt,
	// compressed so twap_time_acc never exceeds the window.
	TwapAcc       uint64
	TwapTimeAcc   uint64
	TwapWindowSec uint64
	PriceMode     PriceMode

	// Governance
	Paused            bool
	MinTransferAmount uint64
	ProgramVersion    uint8
}

// VersionGuard rejects records written by a different program version.
func (m *Market) VersionGuard() error {
	if m.ProgramVersion != ProgramVersion {
		return coffee.Errf(coffee.CodeVersionMismatch,
			"market %s has version %d, running %d", m.Address, m.ProgramVersion, ProgramVersion)
	}
	return nil
}

// RefPrice selects the reference price for margin and settlement: the TWAP
// quotient when the market is in TWAP mode and has accumulated time,
// otherwise the last published price.
func (m *Market) RefPrice() uint64 {
	if m.PriceMode == PriceModeTWAP && m.TwapTimeAcc > 0 {
		return m.TwapAcc / m.TwapTimeAcc
	}
	return m.LastPricePerKg
}

// FeeSliceTotalBps sums the four fee slices for the create-time invariant
// check (must not exceed 10_000).
func (m *Market) FeeSliceTotalBps() uint32 {
	return uint32(m.FeeBps) + uint32(m.FarmerFeeBps) + uint32(m.BuyerFeeBps) + uint32(m.InsuranceBps)
}
