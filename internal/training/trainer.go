// Package training drives joint gradient-based fitting of kernel shapes and
// regression coefficients: minibatching, adaptive updates over one flat
// parameter vector, convergence monitoring, and checkpointing.
package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"lethe/internal/convolve"
	"lethe/internal/history"
	"lethe/internal/model"
	"lethe/internal/numerr"
	"lethe/internal/regression"
	"lethe/pkg/logger"
	"lethe/pkg/metrics"
)

// Status is the trainer state machine position.
type Status string

const (
	StatusInitialized  Status = "initialized"
	StatusRunning      Status = "running"
	StatusConverged    Status = "converged"
	StatusStoppedEarly Status = "stopped_early"
	StatusFailed       Status = "failed"
)

// ErrNoConvergence reports that the step budget ran out before the loss
// goal was reached. It accompanies a usable result; the caller decides
// whether to accept it.
var ErrNoConvergence = errors.New("maximum steps reached before reaching the loss goal")

// Config carries the training hyperparameters.
type Config struct {
	BatchSize       int
	MaxSteps        int64
	LearningRate    float64
	KernelLRScale   float64
	Patience        int
	Tolerance       float64
	ValidateEvery   int64
	CheckpointEvery int64
	LogEvery        int64
	Seed            int64
	Variational     bool
	// LossGoal, when positive, defines a validation loss the run should
	// reach; missing it within MaxSteps is reported as ErrNoConvergence.
	LossGoal float64

	// History assembly bounds.
	Horizon   float64
	MaxEvents int
	CacheSize int
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 5000
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.01
	}
	if c.KernelLRScale <= 0 {
		c.KernelLRScale = 1
	}
	if c.Patience <= 0 {
		c.Patience = 10
	}
	if c.Tolerance < 0 {
		c.Tolerance = 0
	}
	if c.ValidateEvery <= 0 {
		c.ValidateEvery = 50
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 500
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 100
	}
	if c.CacheSize < 0 {
		c.CacheSize = 0
	}
}

// CheckpointFunc persists one completed snapshot. It is only ever called at
// minibatch boundaries, after an update has fully applied, so no partial
// state can become durable.
type CheckpointFunc func(ctx context.Context, step int64, state model.State, opt model.OptimizerState) error

// Result is the terminal report of a run.
type Result struct {
	Status      Status
	Steps       int64
	TrainLoss   float64
	ValLoss     float64
	State       model.State
	Optimizer   model.OptimizerState
	Diagnostics []model.StepDiagnostics
	LossHistory []float64
	// Warning carries ErrNoConvergence when the run ended usable but
	// short of its loss goal.
	Warning error
}

// Trainer owns the model state for the duration of a fit.
type Trainer struct {
	cfg  Config
	spec model.Spec

	objective   *regression.Objective
	variational *regression.Variational
	assembler   *history.Assembler
	schema      model.Schema

	trainResponses []model.Response
	trainIndices   []int
	valResponses   []model.Response
	valIndices     []int

	state     model.State
	opt       model.OptimizerState
	startStep int64
	status    Status

	stdMean float64
	stdSD   float64

	adam     Adam
	lrScales []float64

	// Per-epoch shuffle cache; the permutation is a pure function of
	// (seed, epoch) so resumed runs walk the same data order.
	permEpoch int64
	perm      []int

	Checkpoint CheckpointFunc
	Log        logger.Logger
	Metrics    *metrics.Manager
}

// New builds a trainer over pre-validated inputs. Configuration problems are
// detected here, before any step runs.
func New(cfg Config, spec model.Spec, events []model.Event, trainResponses, valResponses []model.Response) (*Trainer, error) {
	cfg.defaults()
	if err := model.ValidateSpec(spec); err != nil {
		return nil, err
	}
	if len(trainResponses) == 0 {
		return nil, fmt.Errorf("%w: no training responses", model.ErrInvalidSpec)
	}

	schema, err := model.ResolveSchemaWith(spec, append(append([]model.Response(nil), trainResponses...), valResponses...),
		model.SchemaOptions{KernelLRScale: cfg.KernelLRScale})
	if err != nil {
		return nil, err
	}

	engine, err := convolve.NewEngine(spec)
	if err != nil {
		return nil, err
	}
	objective := regression.NewObjective(spec, engine)

	t := &Trainer{
		cfg:       cfg,
		spec:      spec,
		objective: objective,
		schema:    schema,
		assembler: history.NewAssembler(history.Config{
			Horizon:   cfg.Horizon,
			MaxEvents: cfg.MaxEvents,
			CacheSize: cfg.CacheSize,
		}, events),
		status:    StatusInitialized,
		adam:      NewAdam(cfg.LearningRate),
		permEpoch: -1,
	}

	t.trainResponses, t.valResponses = trainResponses, valResponses
	if spec.StandardizeResponse {
		t.standardizeResponses()
	}
	t.trainIndices = make([]int, len(t.trainResponses))
	for i := range t.trainIndices {
		t.trainIndices[i] = i
	}
	t.valIndices = make([]int, len(t.valResponses))
	for i := range t.valIndices {
		t.valIndices[i] = len(t.trainResponses) + i
	}

	params := model.InitParams(spec, &t.schema)
	t.state = model.State{
		Schema:      schema,
		Params:      params,
		Variational: cfg.Variational,
	}
	if spec.StandardizeResponse {
		t.state.Standardized = true
		t.state.ResponseMean = t.responseMean()
		t.state.ResponseSD = t.responseSD()
	}
	if cfg.Variational {
		loc, rho := regression.InitPosterior(&t.schema, params)
		t.state.VarLoc, t.state.VarRho = loc, rho
		t.variational = regression.NewVariational(objective, params, cfg.Seed)
	}

	t.lrScales = make([]float64, 0, t.flatLen())
	for _, slot := range t.schema.Slots {
		t.lrScales = append(t.lrScales, slot.LRScale)
	}
	if cfg.Variational {
		for _, slot := range t.schema.Slots {
			t.lrScales = append(t.lrScales, slot.LRScale)
		}
	}
	return t, nil
}

func (t *Trainer) standardizeResponses() {
	values := make([]float64, len(t.trainResponses))
	for i, r := range t.trainResponses {
		values[i] = r.Value
	}
	mean, sd := stat.MeanStdDev(values, nil)
	if sd == 0 || math.IsNaN(sd) {
		sd = 1
	}
	t.stdMean, t.stdSD = mean, sd

	rescale := func(in []model.Response) []model.Response {
		out := make([]model.Response, len(in))
		copy(out, in)
		for i := range out {
			out[i].Value = (out[i].Value - mean) / sd
		}
		return out
	}
	t.trainResponses = rescale(t.trainResponses)
	t.valResponses = rescale(t.valResponses)
}

func (t *Trainer) responseMean() float64 { return t.stdMean }
func (t *Trainer) responseSD() float64   { return t.stdSD }

// Resume restores state and optimizer memory from a checkpoint. With the
// same data order and seed, every subsequent gradient matches the
// uninterrupted run bit for bit.
func (t *Trainer) Resume(cp model.Checkpoint) error {
	if len(cp.State.Params) != t.schema.NumParams() {
		return fmt.Errorf("%w: checkpoint has %d params, schema has %d",
			model.ErrInvalidSpec, len(cp.State.Params), t.schema.NumParams())
	}
	if cp.State.Variational != t.cfg.Variational {
		return fmt.Errorf("%w: checkpoint variational mode mismatch", model.ErrInvalidSpec)
	}
	t.state = cp.State
	t.state.Schema = t.schema
	t.opt = cp.Optimizer
	t.startStep = cp.Step
	t.cfg.Seed = cp.Seed
	if t.cfg.Variational {
		t.variational = regression.NewVariational(t.objective, model.InitParams(t.spec, &t.schema), cp.Seed)
	}
	return nil
}

// Status reports the trainer state machine position.
func (t *Trainer) Status() Status { return t.status }

func (t *Trainer) flatLen() int {
	if t.cfg.Variational {
		return 2 * t.schema.NumParams()
	}
	return t.schema.NumParams()
}

func (t *Trainer) flatVector() []float64 {
	if !t.cfg.Variational {
		return append([]float64(nil), t.state.Params...)
	}
	w := make([]float64, 0, t.flatLen())
	w = append(w, t.state.VarLoc...)
	w = append(w, t.state.VarRho...)
	return w
}

func (t *Trainer) unpackFlat(w []float64) {
	n := t.schema.NumParams()
	if !t.cfg.Variational {
		copy(t.state.Params, w)
		return
	}
	copy(t.state.VarLoc, w[:n])
	copy(t.state.VarRho, w[n:])
	// The posterior mean doubles as the MAP point estimate.
	copy(t.state.Params, w[:n])
}

func (t *Trainer) minibatch(step int64) ([]model.Response, []int) {
	n := len(t.trainResponses)
	b := t.cfg.BatchSize
	if b > n {
		b = n
	}
	perEpoch := int64((n + b - 1) / b)
	epoch := step / perEpoch
	if epoch != t.permEpoch {
		t.perm = rand.New(rand.NewSource(t.cfg.Seed + epoch)).Perm(n)
		t.permEpoch = epoch
	}
	pos := int(step%perEpoch) * b
	end := pos + b
	if end > n {
		end = n
	}
	responses := make([]model.Response, 0, end-pos)
	indices := make([]int, 0, end-pos)
	for _, i := range t.perm[pos:end] {
		responses = append(responses, t.trainResponses[i])
		indices = append(indices, t.trainIndices[i])
	}
	return responses, indices
}

func (t *Trainer) stepLoss(step int64, w []float64) (float64, []float64, error) {
	responses, indices := t.minibatch(step)
	batch := t.assembler.Batch(responses, indices)
	if !t.cfg.Variational {
		return t.objective.Loss(&batch, &t.schema, w, step, len(t.trainResponses))
	}
	n := t.schema.NumParams()
	loss, gLoc, gRho, err := t.variational.Loss(&batch, &t.schema, w[:n], w[n:], step, len(t.trainResponses))
	if err != nil {
		return 0, nil, err
	}
	grad := make([]float64, 0, t.flatLen())
	grad = append(grad, gLoc...)
	grad = append(grad, gRho...)
	return loss, grad, nil
}

func (t *Trainer) validationLoss(step int64, w []float64) (float64, error) {
	if len(t.valResponses) == 0 {
		return math.NaN(), nil
	}
	batch := t.assembler.Batch(t.valResponses, t.valIndices)
	mapParams := w
	if t.cfg.Variational {
		mapParams = w[:t.schema.NumParams()]
	}
	return t.objective.EvalLoss(&batch, &t.schema, mapParams, step)
}

func (t *Trainer) snapshot(w []float64) (model.State, model.OptimizerState) {
	t.unpackFlat(w)
	state := t.state
	state.Params = append([]float64(nil), t.state.Params...)
	state.VarLoc = append([]float64(nil), t.state.VarLoc...)
	state.VarRho = append([]float64(nil), t.state.VarRho...)
	opt := t.opt
	opt.M = append([]float64(nil), t.opt.M...)
	opt.V = append([]float64(nil), t.opt.V...)
	return state, opt
}

// Run executes the training loop until convergence, early stop, step
// exhaustion, cancellation, or numeric failure. Cancellation is honored at
// minibatch boundaries only; the in-progress step is discarded.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	t.status = StatusRunning
	w := t.flatVector()

	result := Result{Status: StatusRunning}
	bestVal := math.Inf(1)
	if t.opt.BestValSet {
		bestVal = t.opt.BestValLoss
	}
	patienceUsed := t.opt.PatienceUsed
	lastVal := math.NaN()
	start := time.Now()

	finish := func(status Status) {
		t.status = status
		result.Status = status
		result.State, result.Optimizer = t.snapshot(w)
		result.ValLoss = lastVal
	}

	for step := t.startStep; step < t.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			finish(StatusStoppedEarly)
			return result, err
		}

		stepStart := time.Now()
		loss, grad, err := t.stepLoss(step, w)
		if err != nil {
			t.failed(ctx, err)
			finish(StatusFailed)
			return result, err
		}
		t.adam.Step(w, grad, t.lrScales, &t.opt)

		gradNorm := floats.Norm(grad, 2)
		result.Steps = step + 1
		result.TrainLoss = loss
		result.LossHistory = append(result.LossHistory, loss)
		diag := model.StepDiagnostics{
			Step:      step,
			TrainLoss: loss,
			GradNorm:  gradNorm,
			ElapsedMS: time.Since(stepStart).Milliseconds(),
		}
		t.Metrics.ObserveStep(loss, gradNorm, time.Since(stepStart).Seconds())

		if (step+1)%t.cfg.ValidateEvery == 0 && len(t.valResponses) > 0 {
			val, err := t.validationLoss(step, w)
			if err != nil {
				t.failed(ctx, err)
				finish(StatusFailed)
				return result, err
			}
			lastVal = val
			diag.ValLoss = &val
			t.Metrics.ObserveValidation(val)

			if bestVal-val > t.cfg.Tolerance {
				bestVal = val
				patienceUsed = 0
			} else {
				patienceUsed++
			}
			t.opt.BestValSet = true
			t.opt.BestValLoss = bestVal
			t.opt.PatienceUsed = patienceUsed

			if patienceUsed >= t.cfg.Patience {
				result.Diagnostics = append(result.Diagnostics, diag)
				finish(StatusConverged)
				if err := t.writeCheckpoint(ctx, step+1, w); err != nil {
					return result, err
				}
				t.logTerminal(ctx, result, start)
				return result, nil
			}
		}
		result.Diagnostics = append(result.Diagnostics, diag)

		if (step+1)%t.cfg.CheckpointEvery == 0 {
			if err := t.writeCheckpoint(ctx, step+1, w); err != nil {
				finish(StatusFailed)
				return result, err
			}
		}
		if (step+1)%t.cfg.LogEvery == 0 && t.Log != nil {
			t.Log.Info(ctx, "training progress",
				logger.String("step", humanize.Comma(step+1)),
				logger.Float64("train_loss", loss),
				logger.Float64("grad_norm", gradNorm),
				logger.String("elapsed", humanize.RelTime(start, time.Now(), "", "")),
			)
		}
	}

	finish(StatusStoppedEarly)
	if t.cfg.LossGoal > 0 && !(bestVal <= t.cfg.LossGoal) {
		result.Warning = ErrNoConvergence
	}
	if err := t.writeCheckpoint(ctx, t.cfg.MaxSteps, w); err != nil {
		return result, err
	}
	t.logTerminal(ctx, result, start)
	return result, nil
}

func (t *Trainer) writeCheckpoint(ctx context.Context, step int64, w []float64) error {
	if t.Checkpoint == nil {
		return nil
	}
	state, opt := t.snapshot(w)
	if err := t.Checkpoint(ctx, step, state, opt); err != nil {
		return fmt.Errorf("checkpoint at step %d: %w", step, err)
	}
	t.Metrics.ObserveCheckpoint()
	return nil
}

func (t *Trainer) failed(ctx context.Context, err error) {
	var inst *numerr.Instability
	if errors.As(err, &inst) {
		t.Metrics.ObserveInstability()
		if t.Log != nil {
			t.Log.Error(ctx, "numeric instability, aborting run",
				logger.Int64("step", inst.Step),
				logger.Error(err),
			)
		}
	}
}

func (t *Trainer) logTerminal(ctx context.Context, result Result, start time.Time) {
	if t.Log == nil {
		return
	}
	t.Log.Info(ctx, "training finished",
		logger.String("status", string(result.Status)),
		logger.String("steps", humanize.Comma(result.Steps)),
		logger.Float64("train_loss", result.TrainLoss),
		logger.Float64("val_loss", result.ValLoss),
		logger.String("took", humanize.RelTime(start, time.Now(), "", "")),
	)
}
