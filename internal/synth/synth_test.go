package synth

import (
	"errors"
	"math"
	"testing"

	"lethe/internal/model"
)

func TestGenerateDeterministic(t *testing.T) {
	spec := model.Spec{Predictors: []model.PredictorSpec{{Name: "x", Family: "exp"}}}
	cfg := Config{Series: 2, Events: 16, Responses: 8, Seed: 3, Coefficients: []float64{1.5}, NoiseSD: 0.1}

	a, err := Generate(spec, cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate(spec, cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(a.Events) != 32 || len(a.Responses) != 16 {
		t.Fatalf("sizes = %d events, %d responses", len(a.Events), len(a.Responses))
	}
	for i := range a.Responses {
		if a.Responses[i].Value != b.Responses[i].Value {
			t.Fatalf("same seed produced different response %d: %v vs %v",
				i, a.Responses[i].Value, b.Responses[i].Value)
		}
	}
}

func TestGenerateNoiselessMatchesTruthModel(t *testing.T) {
	spec := model.Spec{Predictors: []model.PredictorSpec{{Name: "x", Family: "exp"}}}
	cfg := Config{Series: 1, Events: 8, Responses: 8, Seed: 7, Intercept: 0.25, Coefficients: []float64{2}, NoiseSD: 0}

	ds, err := Generate(spec, cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// With a rate-1 exponential kernel and zero noise, every response is
	// intercept + 2*sum(value_i * exp(-lag_i)) over its causal history.
	for i, r := range ds.Responses {
		want := cfg.Intercept
		for _, e := range ds.Events {
			lag := r.Time - e.Time
			if lag < 0 {
				continue
			}
			want += 2 * e.Values[0] * math.Exp(-lag)
		}
		if math.Abs(r.Value-want) > 1e-9 {
			t.Fatalf("response %d = %v, want %v", i, r.Value, want)
		}
	}
}

func TestGenerateGroupLevelsPerSeries(t *testing.T) {
	spec := model.Spec{
		Predictors:      []model.PredictorSpec{{Name: "x", Family: "exp"}},
		GroupingFactors: []string{"subject"},
		InterceptGroups: []string{"subject"},
	}
	cfg := Config{Series: 3, Events: 8, Responses: 4, Seed: 1, Coefficients: []float64{1}}

	ds, err := Generate(spec, cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	levels := make(map[string]bool)
	for _, r := range ds.Responses {
		levels[r.Groups[0]] = true
	}
	if len(levels) != 3 {
		t.Fatalf("got %d subject levels, want 3", len(levels))
	}
	if len(ds.Schema.FactorLevels["subject"]) != 3 {
		t.Fatalf("schema has %d subject levels, want 3", len(ds.Schema.FactorLevels["subject"]))
	}
}

func TestGenerateCoefficientMismatch(t *testing.T) {
	spec := model.Spec{Predictors: []model.PredictorSpec{{Name: "x", Family: "exp"}}}
	_, err := Generate(spec, Config{Coefficients: []float64{1, 2}})
	if !errors.Is(err, model.ErrInvalidSpec) {
		t.Fatalf("Generate = %v, want ErrInvalidSpec", err)
	}
}
