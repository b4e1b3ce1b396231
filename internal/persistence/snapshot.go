package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotManager persists and restores full in-memory state snapshots.
// Market and deal records are stored in their binary wire encoding; token
// state travels as JSON.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SnapshotData is the serialized snapshot row.
type SnapshotData struct {
	Sequence        int64           `json:"sequence"`
	StateHash       []byte          `json:"state_hash"`
	Markets         [][]byte        `json:"markets"` // market.EncodeMarket bytes
	Deals           [][]byte        `json:"deals"`   // market.EncodeDeal bytes
	Mints           []MintSnapshot  `json:"mints"`
	Accounts        []AccountSnap   `json:"accounts"`
	IdempotencyKeys []string        `json:"idempotency_keys"`
	CreatedAt       time.Time       `json:"created_at"`
}

type MintSnapshot struct {
	Address   string `json:"address"`
	Decimals  uint8  `json:"decimals"`
	Authority string `json:"authority"`
	Supply    uint64 `json:"supply"`
}

type AccountSnap struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
	Balance uint64 `json:"balance"`
}

// SaveSnapshot writes a snapshot row keyed by sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots (sequence, state_hash, body, created_at, verified)
		VALUES ($1, $2, $3, $4, false)
		ON CONFLICT (sequence) DO NOTHING
	`, snap.Sequence, hex.EncodeToString(snap.StateHash), body, snap.CreatedAt)
	return err
}

// LoadLatestSnapshot returns the most recent verified snapshot, or nil when
// none exists.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var body []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT body FROM event_log.snapshots
		WHERE verified = true
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified flags a snapshot as restorable.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = true WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom reads up to limit event rows starting at fromSequence, for
// replay after snapshot restore.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, market, deal, payload, state_hash, prev_hash, ts
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Market, &e.Deal,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
