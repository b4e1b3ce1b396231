package persistence_test

import (
	"context"
	"testing"
	"time"

	"CoffeeFutures/internal/persistence"
	"CoffeeFutures/internal/testutil"
)

func TestEventLogWriter_WriteAndDedup(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations")
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := persistence.NewEventLogWriter(db, 50, 10*time.Millisecond)

	mkt := "aa11"
	rows := []persistence.EventRow{
		{
			Sequence:       0,
			EventType:      "PricePublished",
			IdempotencyKey: "m1:price:1",
			Market:         &mkt,
			Payload:        []byte(`{"price_per_kg":1500}`),
			StateHash:      make([]byte, 32),
			PrevHash:       make([]byte, 32),
			Timestamp:      1_700_000_000,
		},
	}
	if err := writer.WriteEventBatch(ctx, rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Idempotent re-write.
	if err := writer.WriteEventBatch(ctx, rows); err != nil {
		t.Fatalf("re-write: %v", err)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("PricePublished", "m1:price:1")
	if err != nil {
		t.Fatalf("dedup lookup: %v", err)
	}
	if !dup {
		t.Error("written event should be a duplicate")
	}

	dup, err = checker.IsDuplicate("PricePublished", "m1:price:2")
	if err != nil {
		t.Fatalf("dedup lookup: %v", err)
	}
	if dup {
		t.Error("unwritten event should not be a duplicate")
	}
}

func TestSnapshotManager_RoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations")
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	sm := persistence.NewSnapshotManager(db)

	snap := &persistence.SnapshotData{
		Sequence:  41,
		StateHash: make([]byte, 32),
		Markets:   [][]byte{{1, 2, 3}},
		IdempotencyKeys: []string{
			"PricePublished:m1:price:1",
		},
		CreatedAt: time.Now(),
	}
	if err := sm.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := sm.MarkVerified(ctx, 41); err != nil {
		t.Fatalf("verify: %v", err)
	}

	loaded, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.Sequence != 41 {
		t.Fatalf("loaded snapshot: %+v", loaded)
	}
	if len(loaded.Markets) != 1 || len(loaded.IdempotencyKeys) != 1 {
		t.Errorf("snapshot body lost data: %+v", loaded)
	}
}
