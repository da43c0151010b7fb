package storage

import (
	"context"
	"sort"
	"sync"

	"lethe/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	checkpoints map[string]map[int64]model.Checkpoint
	summaries   map[string]model.FitSummary
	history     map[string][]float64
	diagnostics map[string][]model.StepDiagnostics
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.checkpoints = make(map[string]map[int64]model.Checkpoint)
	s.summaries = make(map[string]model.FitSummary)
	s.history = make(map[string][]float64)
	s.diagnostics = make(map[string][]model.StepDiagnostics)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStep, ok := s.checkpoints[checkpoint.RunID]
	if !ok {
		byStep = make(map[int64]model.Checkpoint)
		s.checkpoints[checkpoint.RunID] = byStep
	}
	byStep[checkpoint.Step] = checkpoint
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, runID string, step int64) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoint, ok := s.checkpoints[runID][step]
	return checkpoint, ok, nil
}

func (s *MemoryStore) LatestCheckpoint(_ context.Context, runID string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStep, ok := s.checkpoints[runID]
	if !ok || len(byStep) == 0 {
		return model.Checkpoint{}, false, nil
	}
	var latest model.Checkpoint
	found := false
	for _, checkpoint := range byStep {
		if !found || checkpoint.Step > latest.Step {
			latest = checkpoint
			found = true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) ListCheckpointSteps(_ context.Context, runID string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStep := s.checkpoints[runID]
	steps := make([]int64, 0, len(byStep))
	for step := range byStep {
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })
	return steps, nil
}

func (s *MemoryStore) SaveFitSummary(_ context.Context, summary model.FitSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetFitSummary(_ context.Context, runID string) (model.FitSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summaries[runID]
	return summary, ok, nil
}

func (s *MemoryStore) SaveLossHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := append([]float64(nil), history...)
	s.history[runID] = copied
	return nil
}

func (s *MemoryStore) GetLossHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	copied := append([]float64(nil), history...)
	return copied, true, nil
}

func (s *MemoryStore) SaveDiagnostics(_ context.Context, runID string, diagnostics []model.StepDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.StepDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	s.diagnostics[runID] = copied
	return nil
}

func (s *MemoryStore) GetDiagnostics(_ context.Context, runID string) ([]model.StepDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.StepDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	return copied, true, nil
}
