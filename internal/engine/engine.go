package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"CoffeeFutures/internal/coffee"
	"CoffeeFutures/internal/event"
	"CoffeeFutures/internal/keys"
	"CoffeeFutures/internal/market"
	"CoffeeFutures/internal/observability"
	"CoffeeFutures/internal/token"
)

// MinRotationDelaySec is the shortest accepted oracle-rotation timelock.
const MinRotationDelaySec int64 = 3_600

// DealDeadlineToleranceSec bounds how far past market settlement a deal
// deadline may reach.
const DealDeadlineToleranceSec int64 = 7 * 86_400

// Engine is the single-threaded deterministic settlement core. Every
// entrypoint is one atomic transition over the markets, deals, and the token
// ledger: on any error nothing is mutated and nothing is emitted.
//
// State transitions never read the wall clock; each command carries its own
// versioned timestamp. The wall clock is read only to time commands for
// metrics.
type Engine struct {
	sequence    int64
	hasher      *StateHasher
	markets     map[keys.Address]*market.Market
	deals       map[keys.Address]*market.Deal
	tokens      *token.Ledger
	validator   *token.InvariantValidator
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics

	persistChan    chan<- Output
	projectionChan chan<- Output
}

// Output pairs the envelope with the token batch it applied (nil for
// state-only transitions like publish_price).
type Output struct {
	Envelope *event.Envelope
	Batch    *token.Batch
}

// applied is one loggable outcome of a command. A single command may produce
// several (mark_to_market deriving a MarginCalled or LiquidationFlagged).
type applied struct {
	etype   event.EventType
	market  keys.Address
	deal    keys.Address
	payload interface{}
	batch   *token.Batch
}

func NewEngine(
	startSequence int64,
	persistChan, projectionChan chan<- Output,
	dbChecker DBIdempotencyChecker,
	lruCapacity int,
	metrics *observability.Metrics,
) *Engine {
	tokens := token.NewLedger()
	return &Engine{
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		markets:        make(map[keys.Address]*market.Market),
		deals:          make(map[keys.Address]*market.Deal),
		tokens:         tokens,
		validator:      token.NewInvariantValidator(tokens),
		idempotency:    NewIdempotencyChecker(lruCapacity, dbChecker),
		metrics:        metrics,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// Tokens exposes the token collaborator for the shell (funding in tests and
// genesis provisioning).
func (e *Engine) Tokens() *token.Ledger {
	return e.tokens
}

// Market returns the market record for queries; callers must not mutate it.
func (e *Engine) Market(addr keys.Address) (*market.Market, bool) {
	m, ok := e.markets[addr]
	return m, ok
}

// Deal returns the deal record for queries; callers must not mutate it.
func (e *Engine) Deal(addr keys.Address) (*market.Deal, bool) {
	d, ok := e.deals[addr]
	return d, ok
}

// ProcessCommand is the main pipeline: dedup, dispatch, apply, hash, emit.
func (e *Engine) ProcessCommand(cmd event.Command) error {
	start := time.Now()
	eventType := cmd.EventType().String()
	idempotencyKey := cmd.IdempotencyKey()

	if e.idempotency.IsDuplicate(eventType, idempotencyKey) {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	results, err := e.dispatch(cmd)
	if err != nil {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(eventType, string(coffee.CodeOf(err))).Inc()
		}
		return fmt.Errorf("%s: %w", eventType, err)
	}

	for _, res := range results {
		e.emit(res, idempotencyKey, cmd.UnixTS())
	}

	// Post-check: token supply conservation must hold after every applied
	// command. A violation is a bug, not an input error.
	if err := e.validator.ValidateSupply(); err != nil {
		panic(fmt.Sprintf("FATAL: token conservation violated after %s: %v", eventType, err))
	}

	e.idempotency.MarkProcessed(eventType, idempotencyKey)

	if e.metrics != nil {
		e.metrics.CoreCommandsApplied.WithLabelValues(eventType).Inc()
		e.metrics.CoreCommandDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}

	return nil
}

func (e *Engine) dispatch(cmd event.Command) ([]applied, error) {
	switch c := cmd.(type) {
	case *event.InitCftMint:
		return e.handleInitCftMint(c)
	case *event.CreateMarket:
		return e.handleCreateMarket(c)
	case *event.PublishPrice:
		return e.handlePublishPrice(c)
	case *event.OpenDeal:
		return e.handleOpenDeal(c)
	case *event.TopUpMargin:
		return e.handleTopUpMargin(c)
	case *event.MarginCall:
		return e.handleMarginCall(c)
	case *event.MarkToMarket:
		return e.handleMarkToMarket(c)
	case *event.SettleCash:
		return e.handleSettleCash(c)
	case *event.SettlePhysical:
		return e.handleSettlePhysical(c)
	case *event.CancelDeal:
		return e.handleCancelDeal(c)
	case *event.CloseDeal:
		return e.handleCloseDeal(c)
	case *event.ProposeRotateOracle:
		return e.handleProposeRotateOracle(c)
	case *event.ActivateRotateOracle:
		return e.handleActivateRotateOracle(c)
	case *event.SetPaused:
		return e.handleSetPaused(c)
	case *event.WithdrawInsurance:
		// The drawdown path is documented as permanently disabled.
		return nil, coffee.Errf(coffee.CodeUnauthorized, "insurance treasury drawdown is disabled")
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// emit assigns a sequence, chains the state hash, and pushes the envelope to
// the persist (blocking) and projection (drop-on-full) channels.
func (e *Engine) emit(res applied, idempotencyKey string, ts int64) {
	payload, err := json.Marshal(res.payload)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %s payload: %v", res.etype, err))
	}

	digest := e.computeStateDigest(res)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)

	envelope := &event.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      res.etype,
		Market:         res.market,
		Deal:           res.deal,
		Timestamp:      ts,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	e.sequence++

	output := Output{Envelope: envelope, Batch: res.batch}

	// Persistence: blocking send — the core stalls until the persistence
	// worker drains. No applied event is ever lost.
	e.persistChan <- output

	// Projections: non-blocking send — when the projection channel is full
	// the event is dropped for the read models and is not re-sent.
	select {
	case e.projectionChan <- output:
	default:
	}
}

// computeStateDigest builds canonical bytes over everything the transition
// touched: affected token accounts (sorted by address) plus the encoded
// market and deal records.
func (e *Engine) computeStateDigest(res applied) []byte {
	var addrs []keys.Address
	if res.batch != nil {
		for addr := range res.batch.Touched() {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool {
		for k := 0; k < len(addrs[i]); k++ {
			if addrs[i][k] != addrs[j][k] {
				return addrs[i][k] < addrs[j][k]
			}
		}
		return false
	})

	digest := make([]byte, 0, len(addrs)*40+512)
	for _, addr := range addrs {
		digest = append(digest, addr[:]...)
		digest = appendUint64LE(digest, e.tokens.Balance(addr))
	}

	if m, ok := e.markets[res.market]; ok {
		digest = append(digest, market.EncodeMarket(m)...)
	}
	if d, ok := e.deals[res.deal]; ok {
		digest = append(digest, market.EncodeDeal(d)...)
	}

	return digest
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// --- Shared gates ---

func (e *Engine) marketFor(addr keys.Address) (*market.Market, error) {
	m, ok := e.markets[addr]
	if !ok {
		return nil, coffee.Errf(coffee.CodeUnknownMarket, "market %s", addr)
	}
	if err := m.VersionGuard(); err != nil {
		return nil, err
	}
	return m, nil
}

func (e *Engine) dealFor(marketAddr, dealAddr keys.Address) (*market.Market, *market.Deal, error) {
	m, err := e.marketFor(marketAddr)
	if err != nil {
		return nil, nil, err
	}
	d, ok := e.deals[dealAddr]
	if !ok {
		return nil, nil, coffee.Errf(coffee.CodeUnknownDeal, "deal %s", dealAddr)
	}
	if d.Market != marketAddr {
		return nil, nil, coffee.Errf(coffee.CodeUnknownDeal, "deal %s does not belong to market %s", dealAddr, marketAddr)
	}
	return m, d, nil
}

func requireUnpaused(m *market.Market) error {
	if m.Paused {
		return coffee.Errf(coffee.CodePaused, "market %s is paused", m.Address)
	}
	return nil
}

// --- Snapshot & startup ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Markets         []*market.Market
	Deals           []*market.Deal
	Mints           []*token.Mint
	Accounts        []*token.Account
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        e.sequence - 1, // last processed sequence
		StateHash:       e.hasher.GetPrevHash(),
		Mints:           e.tokens.Mints(),
		Accounts:        e.tokens.Accounts(),
		IdempotencyKeys: e.idempotency.lru.GetAllKeys(),
	}
	for _, m := range e.markets {
		snap.Markets = append(snap.Markets, m)
	}
	for _, d := range e.deals {
		snap.Deals = append(snap.Deals, d)
	}
	return snap
}

// RestoreFromSnapshot restores the core's in-memory state. On warm restart
// the shell loads the latest snapshot; events logged past it are counted and
// reported, not re-applied.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	e.sequence = snap.Sequence + 1
	e.hasher.SetPrevHash(snap.StateHash)

	for _, m := range snap.Mints {
		e.tokens.RestoreMint(m)
	}
	for _, a := range snap.Accounts {
		e.tokens.RestoreAccount(a)
	}
	for _, m := range snap.Markets {
		cp := *m
		e.markets[m.Address] = &cp
	}
	for _, d := range snap.Deals {
		cp := *d
		e.deals[d.Address] = &cp
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (e *Engine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}
