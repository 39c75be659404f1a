package energylens

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestServiceRunsFromArchive(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	s, err := NewService(ctx, cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	defer s.Close()

	if _, _, err := s.Current(); !errors.Is(err, ErrNoDataset) {
		t.Errorf("expected ErrNoDataset before the first load, got %v", err)
	}

	first, err := s.Load(ctx, householdTable(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := s.Load(ctx, householdTable(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	runs, err := s.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != second.RunID || runs[1].RunID != first.RunID {
		t.Errorf("expected archived runs newest first, got %v", runs)
	}

	got, err := s.Run(ctx, first.RunID)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got.Summary != first.Summary {
		t.Error("archived run differs from the loaded one")
	}
	if _, err := s.Run(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}

	history, err := s.ApplianceHistory(ctx, "kitchen")
	if err != nil {
		t.Fatalf("ApplianceHistory failed: %v", err)
	}
	if len(history) != 2 || history[0].RunID != first.RunID || history[1].TotalKWh != 24 {
		t.Errorf("expected two archived kitchen points oldest first, got %+v", history)
	}
}

func TestServiceWithoutSinks(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Archive.Enabled = false
	cfg.Stream.Enabled = false

	s, err := NewService(ctx, cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	defer s.Close()

	if s.Events() != nil {
		t.Error("expected no event hub when streaming is disabled")
	}
	runs, err := s.Runs(ctx, 10)
	if err != nil || len(runs) != 0 {
		t.Errorf("expected no runs, got %v, %v", runs, err)
	}

	run, err := s.Load(ctx, householdTable(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got, err := s.Run(ctx, run.RunID); err != nil || got != run {
		t.Errorf("the latest run should always be found, got %v", err)
	}
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTP.Addr = ""
	if _, err := NewService(context.Background(), cfg); err == nil {
		t.Error("expected invalid config to fail")
	}
}
