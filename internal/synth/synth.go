// Package synth generates synthetic event streams and responses from a
// known kernel and coefficient configuration. Recovery tests fit against
// this data and compare estimates to the generating truth.
package synth

import (
	"fmt"
	"math/rand"
	"strconv"

	"lethe/internal/convolve"
	"lethe/internal/data"
	"lethe/internal/history"
	"lethe/internal/model"
	"lethe/internal/regression"
)

// Config describes one synthetic dataset. The truth values, together with
// the spec's kernel initialization, fully determine the generating model.
type Config struct {
	Series    int
	Events    int // per series
	Responses int // per series
	Seed      int64

	Intercept float64
	// Coefficients is aligned with the spec's predictor order.
	Coefficients []float64
	NoiseSD      float64
	// MeanGap is the mean spacing between consecutive event times; times
	// follow a Poisson process.
	MeanGap float64
}

func (c *Config) defaults() {
	if c.Series <= 0 {
		c.Series = 4
	}
	if c.Events <= 0 {
		c.Events = 64
	}
	if c.Responses <= 0 {
		c.Responses = 32
	}
	if c.NoiseSD < 0 {
		c.NoiseSD = 0
	}
	if c.MeanGap <= 0 {
		c.MeanGap = 1
	}
}

// Dataset is a generated dataset plus the flat parameter vector that
// produced it.
type Dataset struct {
	Events    []model.Event
	Responses []model.Response
	Truth     []float64
	Schema    model.Schema
}

// Generate builds events and responses under the spec with known
// parameters. Each series gets its own grouping level for every factor, so
// hierarchical specs see multiple levels.
func Generate(spec model.Spec, cfg Config) (Dataset, error) {
	cfg.defaults()
	if err := model.ValidateSpec(spec); err != nil {
		return Dataset{}, err
	}
	if len(cfg.Coefficients) != len(spec.Predictors) {
		return Dataset{}, fmt.Errorf("%w: %d coefficients for %d predictors",
			model.ErrInvalidSpec, len(cfg.Coefficients), len(spec.Predictors))
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	var events []model.Event
	var responses []model.Response
	for s := 0; s < cfg.Series; s++ {
		series := "series-" + strconv.Itoa(s)
		groups := make([]string, len(spec.GroupingFactors))
		for i := range groups {
			groups[i] = spec.GroupingFactors[i] + "-" + strconv.Itoa(s)
		}

		t := 0.0
		var last float64
		for e := 0; e < cfg.Events; e++ {
			t += rng.ExpFloat64() * cfg.MeanGap
			values := make([]float64, len(spec.Predictors))
			for i, p := range spec.Predictors {
				if p.Name == data.RatePredictor {
					values[i] = 1
					continue
				}
				values[i] = rng.NormFloat64()
			}
			events = append(events, model.Event{Series: series, Time: t, Values: values})
			last = t
		}
		for r := 0; r < cfg.Responses; r++ {
			responses = append(responses, model.Response{
				Series: series,
				Time:   rng.Float64() * last,
				Groups: groups,
			})
		}
	}

	schema, err := model.ResolveSchema(spec, responses)
	if err != nil {
		return Dataset{}, err
	}
	truth := model.InitParams(spec, &schema)
	truth[schema.InterceptSlot()] = cfg.Intercept
	for i, p := range spec.Predictors {
		slot, _ := schema.CoefSlot(p.Name)
		truth[slot] = cfg.Coefficients[i]
	}

	engine, err := convolve.NewEngine(spec)
	if err != nil {
		return Dataset{}, err
	}
	objective := regression.NewObjective(spec, engine)
	assembler := history.NewAssembler(history.Config{}, events)

	indices := make([]int, len(responses))
	for i := range indices {
		indices[i] = i
	}
	batch := assembler.Batch(responses, indices)
	means, err := objective.Means(&batch, &schema, truth, 0)
	if err != nil {
		return Dataset{}, err
	}
	for i := range responses {
		responses[i].Value = means[i] + cfg.NoiseSD*rng.NormFloat64()
	}

	return Dataset{Events: events, Responses: responses, Truth: truth, Schema: schema}, nil
}
