// Package lethe is the public facade over model fitting, evaluation, and
// run management. A Client owns the store lifecycle; callers hand it data
// and a resolved model specification and get summaries back.
package lethe

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"lethe/internal/config"
	"lethe/internal/data"
	"lethe/internal/evaluate"
	"lethe/internal/history"
	"lethe/internal/model"
	"lethe/internal/stats"
	"lethe/internal/storage"
	"lethe/internal/training"
	"lethe/pkg/logger"
	"lethe/pkg/metrics"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "lethe.db"
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Log        logger.Logger
	Metrics    *metrics.Manager
}

type Client struct {
	store      storage.Store
	runsDir    string
	exportsDir string
	log        logger.Logger
	metrics    *metrics.Manager

	initOnce sync.Once
	initErr  error
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		store:      store,
		runsDir:    runsDir,
		exportsDir: exportsDir,
		log:        log,
		metrics:    opts.Metrics,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

// FitRequest is one training job. Validation may be given explicitly; when
// absent and ValFraction is positive, a seeded split carves it from
// Responses.
type FitRequest struct {
	RunID string

	Spec       model.Spec
	Events     []model.Event
	Responses  []model.Response
	Validation []model.Response

	ValFraction float64
	Training    training.Config
	StoreLabel  string
}

type FitResult struct {
	RunID        string
	Summary      model.FitSummary
	ArtifactsDir string
}

// Fit validates, trains, persists checkpoints and artifacts, and reports.
func (c *Client) Fit(ctx context.Context, req FitRequest) (FitResult, error) {
	if err := c.init(ctx); err != nil {
		return FitResult{}, err
	}
	if err := data.Validate(req.Spec, req.Events, append(append([]model.Response(nil), req.Responses...), req.Validation...)); err != nil {
		return FitResult{}, err
	}

	train, val := req.Responses, req.Validation
	if len(val) == 0 && req.ValFraction > 0 {
		train, val = data.Split(req.Responses, req.ValFraction, req.Training.Seed)
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	trainer, err := training.New(req.Training, req.Spec, req.Events, train, val)
	if err != nil {
		return FitResult{}, err
	}
	c.attach(trainer, runID, req.Training.Seed)

	result, runErr := trainer.Run(ctx)
	req.Responses, req.Validation = train, val
	return c.finishRun(ctx, runID, req, result, runErr)
}

// ResumeRequest continues a run from its latest checkpoint. The data and
// spec must match the original fit.
type ResumeRequest struct {
	RunID string

	Spec       model.Spec
	Events     []model.Event
	Responses  []model.Response
	Validation []model.Response

	ValFraction float64
	Training    training.Config
}

// Resume picks up from the newest persisted checkpoint of a run.
func (c *Client) Resume(ctx context.Context, req ResumeRequest) (FitResult, error) {
	if err := c.init(ctx); err != nil {
		return FitResult{}, err
	}
	if req.RunID == "" {
		return FitResult{}, fmt.Errorf("%w: run id is required to resume", model.ErrInvalidSpec)
	}
	checkpoint, ok, err := c.store.LatestCheckpoint(ctx, req.RunID)
	if err != nil {
		return FitResult{}, err
	}
	if !ok {
		return FitResult{}, fmt.Errorf("%w: no checkpoint for run %s", model.ErrInvalidSpec, req.RunID)
	}
	if err := data.Validate(req.Spec, req.Events, append(append([]model.Response(nil), req.Responses...), req.Validation...)); err != nil {
		return FitResult{}, err
	}

	train, val := req.Responses, req.Validation
	if len(val) == 0 && req.ValFraction > 0 {
		train, val = data.Split(req.Responses, req.ValFraction, checkpoint.Seed)
	}

	cfg := req.Training
	cfg.Seed = checkpoint.Seed
	cfg.Variational = checkpoint.State.Variational
	trainer, err := training.New(cfg, req.Spec, req.Events, train, val)
	if err != nil {
		return FitResult{}, err
	}
	if err := trainer.Resume(checkpoint); err != nil {
		return FitResult{}, err
	}
	c.attach(trainer, req.RunID, checkpoint.Seed)

	result, runErr := trainer.Run(ctx)
	return c.finishRun(ctx, req.RunID, FitRequest{
		RunID:      req.RunID,
		Spec:       req.Spec,
		Events:     req.Events,
		Responses:  train,
		Validation: val,
		Training:   cfg,
	}, result, runErr)
}

func (c *Client) attach(trainer *training.Trainer, runID string, seed int64) {
	trainer.Log = c.log.Named("trainer")
	trainer.Metrics = c.metrics
	trainer.Checkpoint = func(ctx context.Context, step int64, state model.State, opt model.OptimizerState) error {
		state.VersionedRecord = storage.Stamp()
		opt.VersionedRecord = storage.Stamp()
		opt.Step = step
		return c.store.SaveCheckpoint(ctx, model.Checkpoint{
			VersionedRecord: storage.Stamp(),
			RunID:           runID,
			Step:            step,
			Seed:            seed,
			State:           state,
			Optimizer:       opt,
			CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (c *Client) finishRun(ctx context.Context, runID string, req FitRequest, result training.Result, runErr error) (FitResult, error) {
	if runErr != nil {
		// Diagnostics for a failed or canceled run still get persisted;
		// the error propagates.
		if len(result.Diagnostics) > 0 {
			_ = c.store.SaveDiagnostics(ctx, runID, result.Diagnostics)
		}
		return FitResult{RunID: runID}, runErr
	}

	summary := model.FitSummary{
		VersionedRecord: storage.Stamp(),
		RunID:           runID,
		Status:          string(result.Status),
		Steps:           result.Steps,
		TrainLoss:       result.TrainLoss,
		Converged:       result.Status == training.StatusConverged,
		CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339),
	}
	if !math.IsNaN(result.ValLoss) {
		summary.ValLoss = result.ValLoss
	}
	if result.Warning != nil {
		summary.Warning = result.Warning.Error()
	}

	histCfg := history.Config{
		Horizon:   req.Training.Horizon,
		MaxEvents: req.Training.MaxEvents,
		CacheSize: req.Training.CacheSize,
	}
	evaluator, err := evaluate.New(req.Spec, result.State, histCfg, req.Events)
	if err != nil {
		return FitResult{}, err
	}
	train := req.Responses
	if summary.Train, err = evaluator.Summarize(train); err != nil {
		return FitResult{}, err
	}
	if len(req.Validation) > 0 {
		if summary.Validation, err = evaluator.Summarize(req.Validation); err != nil {
			return FitResult{}, err
		}
	}

	if err := c.store.SaveFitSummary(ctx, summary); err != nil {
		return FitResult{}, err
	}
	if err := c.store.SaveLossHistory(ctx, runID, result.LossHistory); err != nil {
		return FitResult{}, err
	}
	if err := c.store.SaveDiagnostics(ctx, runID, result.Diagnostics); err != nil {
		return FitResult{}, err
	}

	artifactsDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID: runID,
			Spec:  req.Spec,
			Training: config.TrainingConfig{
				BatchSize:       req.Training.BatchSize,
				MaxSteps:        req.Training.MaxSteps,
				LearningRate:    req.Training.LearningRate,
				KernelLRScale:   req.Training.KernelLRScale,
				Patience:        req.Training.Patience,
				Tolerance:       req.Training.Tolerance,
				ValidateEvery:   req.Training.ValidateEvery,
				CheckpointEvery: req.Training.CheckpointEvery,
				LogEvery:        req.Training.LogEvery,
				Seed:            req.Training.Seed,
				Variational:     req.Training.Variational,
				LossGoal:        req.Training.LossGoal,
				ValFraction:     req.ValFraction,
			},
			History: config.HistoryConfig{
				Horizon:   req.Training.Horizon,
				MaxEvents: req.Training.MaxEvents,
				CacheSize: req.Training.CacheSize,
			},
			Store:        req.StoreLabel,
			CreatedAtUTC: summary.CreatedAtUTC,
		},
		LossHistory: result.LossHistory,
		Summary:     summary,
	})
	if err != nil {
		return FitResult{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:        runID,
		Status:       summary.Status,
		Steps:        summary.Steps,
		TrainLoss:    summary.TrainLoss,
		ValLoss:      summary.ValLoss,
		Variational:  req.Training.Variational,
		Seed:         req.Training.Seed,
		CreatedAtUTC: summary.CreatedAtUTC,
	}); err != nil {
		return FitResult{}, err
	}

	return FitResult{RunID: runID, Summary: summary, ArtifactsDir: artifactsDir}, nil
}

// PredictRequest scores responses with a fitted run. IntervalLevel > 0
// requests credible intervals and needs a variational fit.
type PredictRequest struct {
	RunID string

	Spec      model.Spec
	Events    []model.Event
	Responses []model.Response
	History   history.Config

	IntervalLevel   float64
	IntervalSamples int
	Seed            int64

	// WriteArtifact also writes predictions.csv under the run directory.
	WriteArtifact bool
}

// Predict loads the newest checkpoint of a run and produces predictions in
// input order.
func (c *Client) Predict(ctx context.Context, req PredictRequest) ([]model.Prediction, error) {
	if err := c.init(ctx); err != nil {
		return nil, err
	}
	checkpoint, ok, err := c.store.LatestCheckpoint(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no checkpoint for run %s", model.ErrInvalidSpec, req.RunID)
	}

	evaluator, err := evaluate.New(req.Spec, checkpoint.State, req.History, req.Events)
	if err != nil {
		return nil, err
	}
	predictions, err := evaluator.Predict(req.Responses, evaluate.Config{
		IntervalLevel:   req.IntervalLevel,
		IntervalSamples: req.IntervalSamples,
		Seed:            req.Seed,
	})
	if err != nil {
		return nil, err
	}

	if req.WriteArtifact {
		runDir, err := stats.EnsureRunDir(c.runsDir, req.RunID)
		if err != nil {
			return nil, err
		}
		if err := stats.WritePredictionsCSV(runDir, predictions); err != nil {
			return nil, err
		}
	}
	return predictions, nil
}

// EvaluateRequest scores held-out responses against a fitted run.
type EvaluateRequest struct {
	RunID string

	Spec      model.Spec
	Events    []model.Event
	Responses []model.Response
	History   history.Config
}

// Evaluate computes goodness-of-fit statistics without touching model
// state.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (model.FitStats, error) {
	if err := c.init(ctx); err != nil {
		return model.FitStats{}, err
	}
	checkpoint, ok, err := c.store.LatestCheckpoint(ctx, req.RunID)
	if err != nil {
		return model.FitStats{}, err
	}
	if !ok {
		return model.FitStats{}, fmt.Errorf("%w: no checkpoint for run %s", model.ErrInvalidSpec, req.RunID)
	}

	evaluator, err := evaluate.New(req.Spec, checkpoint.State, req.History, req.Events)
	if err != nil {
		return model.FitStats{}, err
	}
	return evaluator.Summarize(req.Responses)
}

// Runs lists the run index, newest first.
func (c *Client) Runs(_ context.Context, limit int) ([]stats.RunIndexEntry, error) {
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

// Checkpoints lists the persisted checkpoint steps of a run, ascending.
func (c *Client) Checkpoints(ctx context.Context, runID string) ([]int64, error) {
	if err := c.init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListCheckpointSteps(ctx, runID)
}

// Checkpoint fetches one addressable checkpoint by step.
func (c *Client) Checkpoint(ctx context.Context, runID string, step int64) (model.Checkpoint, bool, error) {
	if err := c.init(ctx); err != nil {
		return model.Checkpoint{}, false, err
	}
	return c.store.GetCheckpoint(ctx, runID, step)
}

// LatestCheckpoint exposes the newest checkpoint of a run.
func (c *Client) LatestCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error) {
	if err := c.init(ctx); err != nil {
		return model.Checkpoint{}, false, err
	}
	return c.store.LatestCheckpoint(ctx, runID)
}

// Export copies a run's artifact directory. An empty runID exports the
// newest run.
func (c *Client) Export(_ context.Context, runID, outDir string) (string, error) {
	if runID == "" {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", fmt.Errorf("no runs to export")
		}
		runID = entries[0].RunID
	}
	if outDir == "" {
		outDir = c.exportsDir
	}
	return stats.ExportRunArtifacts(c.runsDir, runID, outDir)
}
