package event

import (
	"fmt"

	"CoffeeFutures/internal/keys"
	"CoffeeFutures/internal/market"

	"github.com/google/uuid"
)

// InitCftMint creates the delivery-token mint under its derived authority.
type InitCftMint struct {
	CommandID uuid.UUID
	Payer     keys.Address
	CftMint   keys.Address
	Decimals  uint8
	TS        int64
}

func (c *InitCftMint) IdempotencyKey() string      { return fmt.Sprintf("init_cft:%s", c.CommandID) }
func (c *InitCftMint) EventType() EventType        { return EventTypeCftMintInitialized }
func (c *InitCftMint) MarketAddress() keys.Address { return keys.ZeroAddress }
func (c *InitCftMint) UnixTS() int64               { return c.TS }

// CreateMarket persists a new market record.
type CreateMarket struct {
	CommandID uuid.UUID

	Authority         keys.Address
	Verifier          keys.Address
	OraclePublisher   keys.Address
	CftMint           keys.Address
	QuoteMint         keys.Address
	InsuranceTreasury keys.Address

	SettlementTS         int64
	ContractSizeKg       uint64
	InitialMarginBps     uint16
	MaintenanceMarginBps uint16
	FeeBps               uint16
	FarmerFeeBps         uint16
	BuyerFeeBps          uint16
	InsuranceBps         uint16

	MaxNotionalPerDeal uint64
	MaxQtyPerDeal      uint64
	MaxOracleAgeSec    uint64
	TwapWindowSec      uint64
	PriceMode          market.PriceMode

	MinTransferAmount         uint64
	DefaultMarginCallGraceSec uint64

	TS int64
}

func (c *CreateMarket) IdempotencyKey() string { return fmt.Sprintf("create_market:%s", c.CommandID) }
func (c *CreateMarket) EventType() EventType   { return EventTypeMarketCreated }
func (c *CreateMarket) MarketAddress() keys.Address {
	addr, _ := keys.MarketAddress(c.Authority, c.CftMint, c.QuoteMint)
	return addr
}
func (c *CreateMarket) UnixTS() int64 { return c.TS }

// PublishPrice is the oracle entrypoint. The idempotency key covers the
// nonce, price and timestamp, so only an identical redelivery is skipped as a
// duplicate; any other publish that reuses or lowers a nonce reaches the
// pipeline and is rejected there.
type PublishPrice struct {
	Market     keys.Address
	Publisher  keys.Address
	PricePerKg uint64
	Nonce      uint64
	TS         int64
}

func (c *PublishPrice) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d:%d:%d", c.Market, c.Nonce, c.PricePerKg, c.TS)
}
func (c *PublishPrice) EventType() EventType        { return EventTypePricePublished }
func (c *PublishPrice) MarketAddress() keys.Address { return c.Market }
func (c *PublishPrice) UnixTS() int64               { return c.TS }

// OpenDeal creates a bilateral contract and escrows initial margin from both
// parties. Either transfer failing aborts the whole operation.
type OpenDeal struct {
	CommandID uuid.UUID
	Market    keys.Address

	Farmer keys.Address
	Buyer  keys.Address

	// Funding accounts initial margin is drawn from
	FarmerFunding keys.Address
	BuyerFunding  keys.Address

	AgreedPricePerKg uint64
	QuantityKg       uint64
	PhysicalDelivery bool
	DeadlineTS       int64

	Assets   []keys.Address
	AssetQty []uint64

	MerkleRoot  *[32]byte
	Referrer    keys.Address
	FeeSplitBps uint16

	TS int64
}

func (c *OpenDeal) IdempotencyKey() string      { return fmt.Sprintf("open_deal:%s", c.CommandID) }
func (c *OpenDeal) EventType() EventType        { return EventTypeDealOpened }
func (c *OpenDeal) MarketAddress() keys.Address { return c.Market }
func (c *OpenDeal) UnixTS() int64               { return c.TS }

// TopUpMargin adds collateral to the signer's side of a deal.
type TopUpMargin struct {
	CommandID uuid.UUID
	Market    keys.Address
	Deal      keys.Address
	Who       keys.Address
	From      keys.Address
	Amount    uint64
	TS        int64
}

func (c *TopUpMargin) IdempotencyKey() string      { return fmt.Sprintf("top_up:%s", c.CommandID) }
func (c *TopUpMargin) EventType() EventType        { return EventTypeMarginToppedUp }
func (c *TopUpMargin) MarketAddress() keys.Address { return c.Market }
func (c *TopUpMargin) UnixTS() int64               { return c.TS }

// MarginCall lets the authority override the grace window and optionally
// restart the margin-call clock.
type MarginCall struct {
	CommandID uuid.UUID
	Market    keys.Address
	Deal      keys.Address
	Authority keys.Address
	GraceSec  uint64
	SetCallTS bool
	TS        int64
}

func (c *MarginCall) IdempotencyKey() string      { return fmt.Sprintf("margin_call:%s", c.CommandID) }
func (c *MarginCall) EventType() EventType        { return EventTypeMarginCalled }
func (c *MarginCall) MarketAddress() keys.Address { return c.Market }
func (c *MarginCall) UnixTS() int64               { return c.TS }

// MarkToMarket is the permissionless margin check. It may open a margin
// call, flag a liquidation after the grace window, or clear a recovered
// call; opening a call and flagging a liquidation are each logged as their
// own derived event, while clearing a call emits no event.
type MarkToMarket struct {
	CommandID uuid.UUID
	Market    keys.Address
	Deal      keys.Address
	TS        int64
}

func (c *MarkToMarket) IdempotencyKey() string      { return fmt.Sprintf("mtm:%s", c.CommandID) }
func (c *MarkToMarket) EventType() EventType        { return EventTypeMarginCalled }
func (c *MarkToMarket) MarketAddress() keys.Address { return c.Market }
func (c *MarkToMarket) UnixTS() int64               { return c.TS }

// SettleCash settles a cash deal: fee slicing, P&L transfer, residual
// return.
type SettleCash struct {
	ID     uuid.UUID
	Market keys.Address
	Deal   keys.Address
	Caller keys.Address

	FarmerReceive keys.Address
	BuyerReceive  keys.Address
	FeeTreasury   keys.Address

	TS int64
}

func (c *SettleCash) IdempotencyKey() string      { return fmt.Sprintf("settle_cash:%s", c.ID) }
func (c *SettleCash) EventType() EventType        { return EventTypeSettledCash }
func (c *SettleCash) MarketAddress() keys.Address { return c.Market }
func (c *SettleCash) UnixTS() int64               { return c.TS }

// SettlePhysical records a proof-gated delivery: CFT minting, payment per
// delivered kg, and on completion the residual unwind.
type SettlePhysical struct {
	ID       uuid.UUID
	Market   keys.Address
	Deal     keys.Address
	Verifier keys.Address

	DeliveredKg uint64
	ProofHashes [][32]byte
	Leaf        *[32]byte

	BuyerCftAccount keys.Address
	FarmerReceive   keys.Address
	BuyerReceive    keys.Address

	TS int64
}

func (c *SettlePhysical) IdempotencyKey() string      { return fmt.Sprintf("settle_physical:%s", c.ID) }
func (c *SettlePhysical) EventType() EventType        { return EventTypeSettledPhysical }
func (c *SettlePhysical) MarketAddress() keys.Address { return c.Market }
func (c *SettlePhysical) UnixTS() int64               { return c.TS }

// CancelDeal refunds held margin before both sides have deposited or before
// the deadline.
type CancelDeal struct {
	ID     uuid.UUID
	Market keys.Address
	Deal   keys.Address
	Caller keys.Address

	FarmerReceive keys.Address
	BuyerReceive  keys.Address

	TS int64
}

func (c *CancelDeal) IdempotencyKey() string      { return fmt.Sprintf("cancel_deal:%s", c.ID) }
func (c *CancelDeal) EventType() EventType        { return EventTypeDealCanceled }
func (c *CancelDeal) MarketAddress() keys.Address { return c.Market }
func (c *CancelDeal) UnixTS() int64               { return c.TS }

// CloseDeal reclaims storage for a settled deal.
type CloseDeal struct {
	ID     uuid.UUID
	Market keys.Address
	Deal   keys.Address
	Caller keys.Address
	TS     int64
}

func (c *CloseDeal) IdempotencyKey() string      { return fmt.Sprintf("close_deal:%s", c.ID) }
func (c *CloseDeal) EventType() EventType        { return EventTypeDealClosed }
func (c *CloseDeal) MarketAddress() keys.Address { return c.Market }
func (c *CloseDeal) UnixTS() int64               { return c.TS }

// ProposeRotateOracle records a timelocked oracle replacement.
type ProposeRotateOracle struct {
	ID               uuid.UUID
	Market           keys.Address
	Authority        keys.Address
	NewOracle        keys.Address
	EffectiveAfterTS int64
	TS               int64
}

func (c *ProposeRotateOracle) IdempotencyKey() string      { return fmt.Sprintf("rotate_propose:%s", c.ID) }
func (c *ProposeRotateOracle) EventType() EventType        { return EventTypeRoleRotationProposed }
func (c *ProposeRotateOracle) MarketAddress() keys.Address { return c.Market }
func (c *ProposeRotateOracle) UnixTS() int64               { return c.TS }

// ActivateRotateOracle swaps in the pending oracle once the timelock has
// elapsed.
type ActivateRotateOracle struct {
	ID        uuid.UUID
	Market    keys.Address
	Authority keys.Address
	TS        int64
}

func (c *ActivateRotateOracle) IdempotencyKey() string      { return fmt.Sprintf("rotate_activate:%s", c.ID) }
func (c *ActivateRotateOracle) EventType() EventType        { return EventTypeRoleRotationActivated }
func (c *ActivateRotateOracle) MarketAddress() keys.Address { return c.Market }
func (c *ActivateRotateOracle) UnixTS() int64               { return c.TS }

// SetPaused flips the market-wide pause flag.
type SetPaused struct {
	ID        uuid.UUID
	Market    keys.Address
	Authority keys.Address
	Paused    bool
	TS        int64
}

func (c *SetPaused) IdempotencyKey() string      { return fmt.Sprintf("set_paused:%s", c.ID) }
func (c *SetPaused) EventType() EventType        { return EventTypeMarketPauseSet }
func (c *SetPaused) MarketAddress() keys.Address { return c.Market }
func (c *SetPaused) UnixTS() int64               { return c.TS }

// WithdrawInsurance is the (permanently disabled) insurance-treasury
// drawdown path. It always fails Unauthorized; the command exists so the
// refusal is explicit and testable.
type WithdrawInsurance struct {
	ID     uuid.UUID
	Market keys.Address
	Caller keys.Address
	To     keys.Address
	Amount uint64
	TS     int64
}

func (c *WithdrawInsurance) IdempotencyKey() string      { return fmt.Sprintf("withdraw_insurance:%s", c.ID) }
func (c *WithdrawInsurance) EventType() EventType        { return EventTypeUnknown }
func (c *WithdrawInsurance) MarketAddress() keys.Address { return c.Market }
func (c *WithdrawInsurance) UnixTS() int64               { return c.TS }
