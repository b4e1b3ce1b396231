package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter writes events and token steps to Postgres using multi-row
// INSERTs. Batching amortizes round trips; switch to pgx CopyFrom if the
// write path ever becomes the bottleneck.
type EventLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Market         *string
	Deal           *string
	Payload        []byte // JSON-encoded result record
	StateHash      []byte
	PrevHash       []byte
	Timestamp      int64 // epoch seconds (versioned input)
}

// StepRow represents a row in event_log.token_steps
type StepRow struct {
	StepID      string
	BatchID     string
	EventRef    string
	Sequence    int64
	Kind        int32
	FromAccount string
	ToAccount   string
	Mint        string
	Amount      int64
	Signer      string
	Memo        string
	Timestamp   int64
}

func NewEventLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *EventLogWriter {
	return &EventLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, market, deal, payload, state_hash, prev_hash, ts)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Market, e.Deal,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// WriteStepBatch writes a batch of token steps to event_log.token_steps.
func (w *EventLogWriter) WriteStepBatch(ctx context.Context, steps []StepRow) error {
	if len(steps) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.token_steps
		(step_id, batch_id, event_ref, sequence, kind, from_account, to_account, mint, amount, signer, memo, ts)
		VALUES `

	values := make([]string, 0, len(steps))
	args := make([]interface{}, 0, len(steps)*12)

	for i, s := range steps {
		base := i * 12
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11, base+12,
		))
		args = append(args,
			s.StepID, s.BatchID, s.EventRef, s.Sequence, s.Kind,
			s.FromAccount, s.ToAccount, s.Mint, s.Amount, s.Signer, s.Memo, s.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (step_id) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}
