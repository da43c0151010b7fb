package storage

import (
	"context"

	"lethe/internal/model"
)

// Store defines persistence operations for fitted-model artifacts. Writes
// are whole-record: a checkpoint is saved or it is not, never partially.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, runID string, step int64) (model.Checkpoint, bool, error)
	LatestCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error)
	ListCheckpointSteps(ctx context.Context, runID string) ([]int64, error)
	SaveFitSummary(ctx context.Context, summary model.FitSummary) error
	GetFitSummary(ctx context.Context, runID string) (model.FitSummary, bool, error)
	SaveLossHistory(ctx context.Context, runID string, history []float64) error
	GetLossHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveDiagnostics(ctx context.Context, runID string, diagnostics []model.StepDiagnostics) error
	GetDiagnostics(ctx context.Context, runID string) ([]model.StepDiagnostics, bool, error)
}
