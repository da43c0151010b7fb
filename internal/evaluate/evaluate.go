// Package evaluate produces predictions and goodness-of-fit summaries from a
// fitted model state. Everything here is read-only over the state.
package evaluate

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"lethe/internal/convolve"
	"lethe/internal/history"
	"lethe/internal/model"
	"lethe/internal/regression"
)

// DefaultIntervalSamples is the posterior draw count behind credible
// intervals when the caller does not choose one.
const DefaultIntervalSamples = 200

// Config controls prediction behavior.
type Config struct {
	// IntervalLevel is the credible interval mass, e.g. 0.95. Intervals
	// are only available for variational states; zero disables them.
	IntervalLevel   float64
	IntervalSamples int
	Seed            int64
}

// Evaluator scores responses against a fitted state.
type Evaluator struct {
	spec      model.Spec
	state     model.State
	objective *regression.Objective
	assembler *history.Assembler
}

// New builds an evaluator over the given state and event history. The
// history bounds must match the ones used in training for predictions to be
// comparable.
func New(spec model.Spec, state model.State, histCfg history.Config, events []model.Event) (*Evaluator, error) {
	if err := model.ValidateSpec(spec); err != nil {
		return nil, err
	}
	if len(state.Params) != state.Schema.NumParams() {
		return nil, fmt.Errorf("%w: state has %d params, schema has %d",
			model.ErrInvalidSpec, len(state.Params), state.Schema.NumParams())
	}
	engine, err := convolve.NewEngine(spec)
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		spec:      spec,
		state:     state,
		objective: regression.NewObjective(spec, engine),
		assembler: history.NewAssembler(histCfg, events),
	}, nil
}

// Predict returns one prediction per response, in input order. Responses on
// unseen grouping levels fall back to the population-level estimate, which
// the parameter resolution already encodes: missing levels contribute no
// deviation.
func (e *Evaluator) Predict(responses []model.Response, cfg Config) ([]model.Prediction, error) {
	indices := make([]int, len(responses))
	for i := range indices {
		indices[i] = i
	}
	batch := e.assembler.Batch(responses, indices)
	schema := e.state.Schema

	means, err := e.objective.Means(&batch, &schema, e.state.Params, 0)
	if err != nil {
		return nil, err
	}

	preds := make([]model.Prediction, len(responses))
	for i, r := range responses {
		preds[i] = model.Prediction{
			Index:  i,
			Series: r.Series,
			Time:   r.Time,
			Mean:   e.unstandardize(means[i]),
		}
	}

	if cfg.IntervalLevel > 0 {
		if !e.state.Variational {
			return nil, fmt.Errorf("%w: credible intervals need a variational state", model.ErrInvalidSpec)
		}
		if err := e.addIntervals(&batch, preds, cfg); err != nil {
			return nil, err
		}
	}
	return preds, nil
}

// addIntervals draws posterior parameter samples and takes empirical
// quantiles of the resulting predicted means.
func (e *Evaluator) addIntervals(batch *history.Batch, preds []model.Prediction, cfg Config) error {
	samples := cfg.IntervalSamples
	if samples <= 0 {
		samples = DefaultIntervalSamples
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	schema := e.state.Schema

	draws := make([][]float64, len(preds))
	for i := range draws {
		draws[i] = make([]float64, 0, samples)
	}
	for s := 0; s < samples; s++ {
		params := regression.SampleParams(e.state.VarLoc, e.state.VarRho, rng)
		means, err := e.objective.Means(batch, &schema, params, 0)
		if err != nil {
			return err
		}
		for i := range preds {
			draws[i] = append(draws[i], e.unstandardize(means[i]))
		}
	}

	alpha := (1 - cfg.IntervalLevel) / 2
	for i := range preds {
		sort.Float64s(draws[i])
		preds[i].HasInterval = true
		preds[i].Lower = stat.Quantile(alpha, stat.Empirical, draws[i], nil)
		preds[i].Upper = stat.Quantile(1-alpha, stat.Empirical, draws[i], nil)
	}
	return nil
}

// Summarize computes aggregate fit statistics over a response set.
func (e *Evaluator) Summarize(responses []model.Response) (model.FitStats, error) {
	if len(responses) == 0 {
		return model.FitStats{}, fmt.Errorf("%w: no responses to summarize", model.ErrInvalidSpec)
	}
	indices := make([]int, len(responses))
	for i := range indices {
		indices[i] = i
	}
	batch := e.assembler.Batch(responses, indices)
	schema := e.state.Schema

	means, err := e.objective.Means(&batch, &schema, e.state.Params, 0)
	if err != nil {
		return model.FitStats{}, err
	}
	sigma := regression.NoiseScale(&schema, e.state.Params) * e.sdScale()

	noise := distuv.Normal{Mu: 0, Sigma: sigma}
	observed := make([]float64, len(responses))
	var logLik, sse float64
	for i, r := range responses {
		observed[i] = r.Value
		resid := r.Value - e.unstandardize(means[i])
		logLik += noise.LogProb(resid)
		sse += resid * resid
	}
	mse := sse / float64(len(responses))
	variance := stat.Variance(observed, nil)
	explained := math.NaN()
	if variance > 0 {
		explained = 1 - mse/variance
	}
	return model.FitStats{
		N:            len(responses),
		LogLik:       logLik,
		MSE:          mse,
		ExplainedVar: explained,
	}, nil
}

func (e *Evaluator) unstandardize(v float64) float64 {
	if !e.state.Standardized {
		return v
	}
	return v*e.state.ResponseSD + e.state.ResponseMean
}

func (e *Evaluator) sdScale() float64 {
	if !e.state.Standardized {
		return 1
	}
	return e.state.ResponseSD
}
