package event

import (
	"CoffeeFutures/internal/keys"
)

// Result records are the JSON payloads stored inside envelopes. Field names
// use snake_case to match the outbound wire format.

type CftMintInitializedRecord struct {
	CftMint   keys.Address `json:"cft_mint"`
	Authority keys.Address `json:"authority"`
	Decimals  uint8        `json:"decimals"`
}

type MarketCreatedRecord struct {
	Market       keys.Address `json:"market"`
	Authority    keys.Address `json:"authority"`
	CftMint      keys.Address `json:"cft_mint"`
	QuoteMint    keys.Address `json:"quote_mint"`
	SettlementTS int64        `json:"settlement_ts"`
}

type PricePublishedRecord struct {
	Market     keys.Address `json:"market"`
	PricePerKg uint64       `json:"price_per_kg"`
	Publisher  keys.Address `json:"publisher"`
	Nonce      uint64       `json:"nonce"`
	TS         int64        `json:"ts"`
}

type DealOpenedRecord struct {
	Deal             keys.Address `json:"deal"`
	Market           keys.Address `json:"market"`
	Farmer           keys.Address `json:"farmer"`
	Buyer            keys.Address `json:"buyer"`
	AgreedPricePerKg uint64       `json:"agreed_price_per_kg"`
	QuantityKg       uint64       `json:"quantity_kg"`
	InitialMargin    uint64       `json:"initial_margin_each"`
	PhysicalDelivery bool         `json:"physical_delivery"`
}

type MarginToppedUpRecord struct {
	Deal   keys.Address `json:"deal"`
	Who    keys.Address `json:"who"`
	Side   string       `json:"side"` // "farmer" or "buyer"
	Amount uint64       `json:"amount"`
}

type MarginCalledRecord struct {
	Deal     keys.Address `json:"deal"`
	RefPrice uint64       `json:"ref_price"`
	TS       int64        `json:"ts"`
	GraceSec uint64       `json:"grace_sec"`
}

type LiquidationFlaggedRecord struct {
	Deal keys.Address `json:"deal"`
	TS   int64        `json:"ts"`
}

// FeeBreakdown carries the four applied fee slices (after any proportional
// scaling) of a cash settlement.
type FeeBreakdown struct {
	Protocol  uint64 `json:"protocol"`
	Farmer    uint64 `json:"farmer"`
	Buyer     uint64 `json:"buyer"`
	Insurance uint64 `json:"insurance"`
}

func (f FeeBreakdown) Total() uint64 {
	return f.Protocol + f.Farmer + f.Buyer + f.Insurance
}

type SettledCashRecord struct {
	Deal           keys.Address `json:"deal"`
	Market         keys.Address `json:"market"`
	RefPrice       uint64       `json:"ref_price"`
	PnlAbs         uint64       `json:"pnl_abs"`
	BuyerWins      bool         `json:"buyer_wins"`
	Fees           FeeBreakdown `json:"fees"`
	WinnerPayment  uint64       `json:"winner_payment"`
	FarmerResidual uint64       `json:"farmer_residual"`
	BuyerResidual  uint64       `json:"buyer_residual"`
}

type SettledPhysicalRecord struct {
	Deal        keys.Address `json:"deal"`
	Market      keys.Address `json:"market"`
	DeliveredKg uint64       `json:"delivered_kg"`
	Cumulative  uint64       `json:"cumulative"`
	MintedUnits uint64       `json:"minted_units"`
	Payment     uint64       `json:"payment"`
	Completed   bool         `json:"completed"`
}

type DealCanceledRecord struct {
	Deal         keys.Address `json:"deal"`
	Market       keys.Address `json:"market"`
	FarmerRefund uint64       `json:"farmer_refund"`
	BuyerRefund  uint64       `json:"buyer_refund"`
}

type DealClosedRecord struct {
	Deal   keys.Address `json:"deal"`
	Market keys.Address `json:"market"`
}

type RoleRotationProposedRecord struct {
	Market      keys.Address `json:"market"`
	Role        string       `json:"role"`
	Pending     keys.Address `json:"pending"`
	EffectiveTS int64        `json:"effective_ts"`
}

type RoleRotationActivatedRecord struct {
	Market    keys.Address `json:"market"`
	Role      string       `json:"role"`
	Activated keys.Address `json:"activated"`
}

type MarketPauseSetRecord struct {
	Market keys.Address `json:"market"`
	Paused bool         `json:"paused"`
}
