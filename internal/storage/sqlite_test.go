//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"lethe/internal/model"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "lethe.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	checkpoint := testCheckpoint("run-1", 100)
	if err := store.SaveCheckpoint(ctx, checkpoint); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	if err := store.SaveCheckpoint(ctx, testCheckpoint("run-1", 200)); err != nil {
		t.Fatalf("save second checkpoint: %v", err)
	}

	loaded, ok, err := store.GetCheckpoint(ctx, "run-1", 100)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if !ok {
		t.Fatal("expected checkpoint at step 100")
	}
	if loaded.Step != 100 || len(loaded.State.Params) != len(checkpoint.State.Params) {
		t.Fatalf("unexpected checkpoint loaded: %+v", loaded)
	}

	latest, ok, err := store.LatestCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	if !ok || latest.Step != 200 {
		t.Fatalf("latest = ok=%t step=%d, want step 200", ok, latest.Step)
	}

	summary := model.FitSummary{
		VersionedRecord: Stamp(),
		RunID:           "run-1",
		Status:          "converged",
		Steps:           200,
		TrainLoss:       0.5,
		Converged:       true,
	}
	if err := store.SaveFitSummary(ctx, summary); err != nil {
		t.Fatalf("save summary: %v", err)
	}
	loadedSummary, ok, err := store.GetFitSummary(ctx, "run-1")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if !ok || loadedSummary.Steps != summary.Steps {
		t.Fatalf("unexpected summary loaded: %+v", loadedSummary)
	}

	history := []float64{1.5, 1.1, 0.8}
	if err := store.SaveLossHistory(ctx, "run-1", history); err != nil {
		t.Fatalf("save history: %v", err)
	}
	loadedHistory, ok, err := store.GetLossHistory(ctx, "run-1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if !ok || len(loadedHistory) != len(history) || loadedHistory[1] != history[1] {
		t.Fatalf("unexpected history loaded: %+v", loadedHistory)
	}

	diagnostics := []model.StepDiagnostics{
		{Step: 0, TrainLoss: 1.5, GradNorm: 2.4, ElapsedMS: 10},
	}
	if err := store.SaveDiagnostics(ctx, "run-1", diagnostics); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	loadedDiagnostics, ok, err := store.GetDiagnostics(ctx, "run-1")
	if err != nil {
		t.Fatalf("get diagnostics: %v", err)
	}
	if !ok || len(loadedDiagnostics) != 1 || loadedDiagnostics[0].GradNorm != 2.4 {
		t.Fatalf("unexpected diagnostics loaded: %+v", loadedDiagnostics)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "lethe.db")

	first := NewSQLiteStore(dbPath)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := first.SaveCheckpoint(ctx, testCheckpoint("persisted-run", 300)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}

	second := NewSQLiteStore(dbPath)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	t.Cleanup(func() {
		_ = second.Close()
	})

	loaded, ok, err := second.LatestCheckpoint(ctx, "persisted-run")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if !ok || loaded.Step != 300 {
		t.Fatalf("expected persisted checkpoint, got ok=%t value=%+v", ok, loaded)
	}
}
