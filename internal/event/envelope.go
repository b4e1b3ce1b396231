package event

import (
	"CoffeeFutures/internal/keys"
)

// EventType discriminates entries in the append-only event log. Values are
// persisted; never reorder.
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCftMintInitialized
	EventTypeMarketCreated
	EventTypePricePublished
	EventTypeDealOpened
	EventTypeMarginToppedUp
	EventTypeMarginCalled
	EventTypeLiquidationFlagged
	EventTypeSettledCash
	EventTypeSettledPhysical
	EventTypeDealCanceled
	EventTypeDealClosed
	EventTypeRoleRotationProposed
	EventTypeRoleRotationActivated
	EventTypeMarketPauseSet
)

func (et EventType) String() string {
	switch et {
	case EventTypeCftMintInitialized:
		return "CftMintInitialized"
	case EventTypeMarketCreated:
		return "MarketCreated"
	case EventTypePricePublished:
		return "PricePublished"
	case EventTypeDealOpened:
		return "DealOpened"
	case EventTypeMarginToppedUp:
		return "MarginToppedUp"
	case EventTypeMarginCalled:
		return "MarginCalled"
	case EventTypeLiquidationFlagged:
		return "LiquidationFlagged"
	case EventTypeSettledCash:
		return "SettledCash"
	case EventTypeSettledPhysical:
		return "SettledPhysical"
	case EventTypeDealCanceled:
		return "DealCanceled"
	case EventTypeDealClosed:
		return "DealClosed"
	case EventTypeRoleRotationProposed:
		return "RoleRotationProposed"
	case EventTypeRoleRotationActivated:
		return "RoleRotationActivated"
	case EventTypeMarketPauseSet:
		return "MarketPauseSet"
	default:
		return "Unknown"
	}
}

// Envelope wraps every applied event in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the core
	Sequence int64

	// Stable idempotency key from the originating command
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Market and deal context (zero address when not applicable)
	Market keys.Address
	Deal   keys.Address

	// Versioned input timestamp in epoch seconds (NOT wall-clock)
	Timestamp int64

	// JSON-encoded result record
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all entrypoint commands implement. The shell
// parses wire payloads into commands; the core consumes them one at a time.
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the log discriminator for a successful application
	EventType() EventType

	// MarketAddress returns the market context (zero for init_cft_mint)
	MarketAddress() keys.Address

	// UnixTS returns the versioned command timestamp in epoch seconds
	UnixTS() int64
}
