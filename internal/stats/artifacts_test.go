package stats

import (
	"os"
	"path/filepath"
	"testing"

	"lethe/internal/config"
	"lethe/internal/model"
)

func testArtifacts(runID string) RunArtifacts {
	return RunArtifacts{
		Config: RunConfig{
			RunID: runID,
			Spec: model.Spec{
				Predictors: []model.PredictorSpec{{Name: "x", Family: "exp"}},
			},
			Training:     config.TrainingConfig{MaxSteps: 100, LearningRate: 0.01, Seed: 7},
			Store:        "memory",
			CreatedAtUTC: "2026-02-01T00:00:00Z",
		},
		LossHistory: []float64{2.0, 1.5, 1.2},
		Summary: model.FitSummary{
			RunID:     runID,
			Status:    "converged",
			Steps:     100,
			TrainLoss: 1.2,
			Converged: true,
		},
	}
}

func TestWriteAndReadRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()

	runDir, err := WriteRunArtifacts(baseDir, testArtifacts("run-1"))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	if filepath.Base(runDir) != "run-1" {
		t.Fatalf("unexpected run dir: %s", runDir)
	}

	cfg, ok, err := ReadRunConfig(baseDir, "run-1")
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !ok || cfg.RunID != "run-1" || len(cfg.Spec.Predictors) != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Training.MaxSteps != 100 {
		t.Fatalf("training config lost: %+v", cfg.Training)
	}

	summary, ok, err := ReadFitSummary(baseDir, "run-1")
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if !ok || !summary.Converged || summary.Steps != 100 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	history, ok, err := ReadLossHistory(baseDir, "run-1")
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if !ok || len(history) != 3 || history[2] != 1.2 {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestReadRunConfigMissing(t *testing.T) {
	_, ok, err := ReadRunConfig(t.TempDir(), "nope")
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if ok {
		t.Fatal("expected no config for unknown run")
	}
}

func TestPredictionsCSVRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	runDir, err := WriteRunArtifacts(baseDir, testArtifacts("run-1"))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	predictions := []model.Prediction{
		{Index: 0, Series: "s", Time: 1.5, Mean: 0.75},
		{Index: 1, Series: "s", Time: 2.5, Mean: 1.25, HasInterval: true, Lower: 0.9, Upper: 1.6},
	}
	if err := WritePredictionsCSV(runDir, predictions); err != nil {
		t.Fatalf("write predictions: %v", err)
	}

	loaded, ok, err := ReadPredictionsCSV(baseDir, "run-1")
	if err != nil {
		t.Fatalf("read predictions: %v", err)
	}
	if !ok || len(loaded) != 2 {
		t.Fatalf("unexpected predictions: %+v", loaded)
	}
	if loaded[0].HasInterval {
		t.Fatal("point prediction gained an interval")
	}
	if !loaded[1].HasInterval || loaded[1].Lower != 0.9 || loaded[1].Upper != 1.6 {
		t.Fatalf("interval lost: %+v", loaded[1])
	}
}

func TestRunIndexAppendAndList(t *testing.T) {
	baseDir := t.TempDir()

	entries := []RunIndexEntry{
		{RunID: "run-1", Status: "converged", Steps: 100, CreatedAtUTC: "2026-02-01T00:00:00Z"},
		{RunID: "run-2", Status: "stopped_early", Steps: 500, CreatedAtUTC: "2026-02-02T00:00:00Z"},
	}
	for _, e := range entries {
		if err := AppendRunIndex(baseDir, e); err != nil {
			t.Fatalf("append %s: %v", e.RunID, err)
		}
	}

	listed, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("got %d entries, want 2", len(listed))
	}
	if listed[0].RunID != "run-2" {
		t.Fatalf("expected newest first, got %s", listed[0].RunID)
	}

	// Upsert replaces the run-1 entry in place.
	if err := AppendRunIndex(baseDir, RunIndexEntry{
		RunID: "run-1", Status: "failed", Steps: 42, CreatedAtUTC: "2026-02-03T00:00:00Z",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	listed, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list after upsert: %v", err)
	}
	if len(listed) != 2 || listed[0].RunID != "run-1" || listed[0].Status != "failed" {
		t.Fatalf("unexpected index after upsert: %+v", listed)
	}
}

func TestExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := t.TempDir()

	runDir, err := WriteRunArtifacts(baseDir, testArtifacts("run-1"))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	if err := WritePredictionsCSV(runDir, []model.Prediction{{Index: 0, Series: "s", Time: 1, Mean: 2}}); err != nil {
		t.Fatalf("write predictions: %v", err)
	}

	dst, err := ExportRunArtifacts(baseDir, "run-1", outDir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, file := range []string{"config.json", "loss_history.json", "fit_summary.json", "predictions.csv"} {
		if _, err := os.Stat(filepath.Join(dst, file)); err != nil {
			t.Fatalf("exported %s: %v", file, err)
		}
	}
}

func TestExportRunArtifactsUnknownRun(t *testing.T) {
	if _, err := ExportRunArtifacts(t.TempDir(), "nope", t.TempDir()); err == nil {
		t.Fatal("expected error for unknown run")
	}
}
