package kernel

import (
	"math"
	"math/rand"
	"testing"
)

func TestByNameKnownFamilies(t *testing.T) {
	for _, name := range []string{"exp", "gamma", "shiftedgamma", "normal", "doublegamma", "gaussbasis", "dirac"} {
		f, err := ByName(name)
		if err != nil {
			t.Fatalf("by name %s: %v", name, err)
		}
		if f.Name() != name {
			t.Fatalf("family %s reports name %s", name, f.Name())
		}
		if got := len(f.Init()); got != f.ParamCount() {
			t.Fatalf("family %s: init length %d, param count %d", name, got, f.ParamCount())
		}
		if got := len(f.ParamNames()); got != f.ParamCount() {
			t.Fatalf("family %s: %d param names for %d params", name, got, f.ParamCount())
		}
	}
}

func TestByNameUnknownFamily(t *testing.T) {
	if _, err := ByName("lorentzian"); err == nil {
		t.Fatal("expected error for unknown family")
	}
}

func TestExpMatchesClosedForm(t *testing.T) {
	f := Exp{}
	params, err := f.Transform(f.Init())
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if math.Abs(params[0]-1) > 1e-12 {
		t.Fatalf("default rate = %v, want exactly 1", params[0])
	}

	cases := []struct {
		lag  float64
		want float64
	}{
		{0, 1},
		{1, math.Exp(-1)},
		{2, math.Exp(-2)},
	}
	for _, tc := range cases {
		got := f.Evaluate(params, tc.lag)
		if math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("exp(rate=1, lag=%v) = %v, want %v", tc.lag, got, tc.want)
		}
	}
}

func TestDomainValidity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	lags := []float64{0, 0.01, 0.5, 1, 2, 5, 10, 50, 200}

	for _, name := range Names() {
		f, err := ByName(name)
		if err != nil {
			t.Fatalf("by name %s: %v", name, err)
		}
		t.Run(name, func(t *testing.T) {
			for trial := 0; trial < 50; trial++ {
				raw := make([]float64, f.ParamCount())
				for i := range raw {
					raw[i] = rng.NormFloat64() * 3
				}
				params, err := f.Transform(raw)
				if err != nil {
					t.Fatalf("transform: %v", err)
				}
				for _, lag := range lags {
					w := f.Evaluate(params, lag)
					if math.IsNaN(w) || math.IsInf(w, 0) {
						t.Fatalf("non-finite weight %v for raw=%v lag=%v", w, raw, lag)
					}
					if w < 0 {
						t.Fatalf("negative weight %v for raw=%v lag=%v", w, raw, lag)
					}
				}
			}
		})
	}
}

func TestShiftedGammaShiftIsNegative(t *testing.T) {
	f := ShiftedGamma{}
	for _, raw := range []float64{-4, -1, 0, 1, 4} {
		params, err := f.Transform([]float64{0, 0, raw})
		if err != nil {
			t.Fatalf("transform: %v", err)
		}
		if params[2] >= 0 {
			t.Fatalf("shift %v not negative for raw %v", params[2], raw)
		}
	}
}

func TestDiracPointMass(t *testing.T) {
	f := Dirac{}
	if got := f.Evaluate(nil, 0); got != 1 {
		t.Fatalf("dirac at lag 0 = %v, want 1", got)
	}
	if got := f.Evaluate(nil, 0.5); got != 0 {
		t.Fatalf("dirac at lag 0.5 = %v, want 0", got)
	}
}

func TestNormalizedFlags(t *testing.T) {
	normalized := map[string]bool{"gaussbasis": true}
	for _, name := range Names() {
		f, _ := ByName(name)
		if f.Normalized() != normalized[name] {
			t.Fatalf("family %s: normalized = %v", name, f.Normalized())
		}
	}
}

func TestTransformRejectsNonFinite(t *testing.T) {
	f := Normal{}
	if _, err := f.Transform([]float64{math.NaN(), 0}); err == nil {
		t.Fatal("expected error for NaN raw parameter")
	}
}

func TestSoftplusRoundTrip(t *testing.T) {
	for _, y := range []float64{1e-4, 0.1, 1, 6, 40} {
		got := Softplus(InvSoftplus(y))
		if math.Abs(got-y) > 1e-9*math.Max(1, y) {
			t.Fatalf("softplus(invsoftplus(%v)) = %v", y, got)
		}
	}
}
