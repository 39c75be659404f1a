package energylens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chronicle-db/energylens/internal/testutil"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	_, path := testutil.TempDBPath(t)
	store, err := OpenStore(context.Background(), StoreConfig{Driver: "sqlite", DSN: path})
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLStoreSaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	run := analyzedRun(t)

	if store.Name() != "sqlite-store" {
		t.Errorf("unexpected sink name %q", store.Name())
	}
	if err := store.Deliver(ctx, run); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	got, err := store.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Summary != run.Summary {
		t.Errorf("stored summary differs: %+v", got.Summary)
	}
	if len(got.AnomalyRows) != len(run.AnomalyRows) {
		t.Errorf("expected %d anomaly rows, got %d", len(run.AnomalyRows), len(got.AnomalyRows))
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if err := store.SaveRun(ctx, run); err == nil {
		t.Error("expected saving the same run twice to fail")
	}
}

func TestSQLStoreListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		run := analyzedRun(t)
		run.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
		ids = append(ids, run.RunID)
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].RunID != ids[2] || runs[2].RunID != ids[0] {
		t.Errorf("expected newest first, got %v", runs)
	}
	if !runs[0].CreatedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("unexpected created_at %v", runs[0].CreatedAt)
	}
	if runs[0].Rows != 48 {
		t.Errorf("expected 48 rows, got %d", runs[0].Rows)
	}

	limited, _ := store.ListRuns(ctx, 2)
	if len(limited) != 2 {
		t.Errorf("expected 2 runs with limit, got %d", len(limited))
	}

	for _, key := range []string{"Kitchen", "kitchen_kwh", "KITCHEN"} {
		history, err := store.ApplianceHistory(ctx, key)
		if err != nil {
			t.Fatalf("ApplianceHistory(%q) failed: %v", key, err)
		}
		if len(history) != 3 || history[0].TotalKWh != 24 || history[0].Column != "kitchen_kwh" {
			t.Fatalf("expected three kitchen totals of 24 for %q, got %+v", key, history)
		}
		if history[0].RunID != ids[0] || history[2].RunID != ids[2] {
			t.Errorf("expected oldest first for %q, got %+v", key, history)
		}
	}

	none, err := store.ApplianceHistory(ctx, "sauna")
	if err != nil || len(none) != 0 {
		t.Errorf("expected no history for an unknown appliance, got %v %v", none, err)
	}
}

func TestSQLStoreSameDisplayName(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	tbl := mustTable(t, time.Time{}, []string{TotalColumn, "living_room_kwh", "living-room_kwh"},
		testutil.Constant(6, 3), testutil.Constant(6, 1), testutil.Constant(6, 2))
	run, err := NewAnalyzer(DefaultAnalysisConfig(), nil).Analyze(ctx, tbl)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(run.Report) != 2 || run.Report[0].Appliance != run.Report[1].Appliance {
		t.Fatalf("expected two entries sharing a display name, got %+v", run.Report)
	}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	history, err := store.ApplianceHistory(ctx, "living-room_kwh")
	if err != nil {
		t.Fatalf("ApplianceHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].TotalKWh != 12 {
		t.Errorf("expected the living-room column alone, got %+v", history)
	}
	if both, _ := store.ApplianceHistory(ctx, "Living Room"); len(both) != 2 {
		t.Errorf("expected both columns by display name, got %+v", both)
	}
}

func TestSQLStoreRebind(t *testing.T) {
	pg := &SQLStore{driver: "postgres"}
	if got := pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"); got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Errorf("unexpected postgres query %q", got)
	}
	lite := &SQLStore{driver: "sqlite"}
	if got := lite.rebind("x = ?"); got != "x = ?" {
		t.Errorf("sqlite queries must not change, got %q", got)
	}
}

func TestOpenStoreValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenStore(ctx, StoreConfig{Driver: "postgres"}); err == nil {
		t.Error("expected postgres without dsn to fail")
	}
	if _, err := OpenStore(ctx, StoreConfig{Driver: "mysql"}); err == nil {
		t.Error("expected unknown driver to fail")
	}
}
