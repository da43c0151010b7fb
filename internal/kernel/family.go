// Package kernel implements the impulse response families used to weight
// event histories by elapsed time. Families are stateless and deterministic:
// they expose an unconstrained-to-valid parameter transform, a weight
// evaluation at a non-negative lag, and analytic derivatives of both, which
// is the contract gradient-based fitting relies on.
package kernel

import (
	"errors"
	"fmt"
	"sort"

	"lethe/internal/numerr"
)

var ErrUnknownFamily = errors.New("unknown kernel family")

// Family is one impulse response shape. Callers guarantee lag >= 0; weights
// for negative lags are excluded upstream when histories are assembled.
type Family interface {
	Name() string
	ParamCount() int
	ParamNames() []string

	// Transform maps a raw parameter vector into the family's valid domain.
	// It fails with a numerr.ErrNonFinite-wrapping error when the mapped
	// values are not finite.
	Transform(raw []float64) ([]float64, error)
	// TransformGrad returns d constrained_i / d raw_i. Transforms are
	// elementwise, so the Jacobian is diagonal.
	TransformGrad(raw []float64) []float64

	// Evaluate returns the impulse weight at the given lag for constrained
	// parameters.
	Evaluate(params []float64, lag float64) float64
	// EvaluateGrad returns the weight's partial derivatives with respect to
	// each constrained parameter at the given lag.
	EvaluateGrad(params []float64, lag float64) []float64

	// Normalized reports whether window weights should be rescaled to sum
	// to one before they multiply predictor values.
	Normalized() bool

	// Init returns the default raw-space initialization.
	Init() []float64
}

var families = map[string]Family{}

func register(f Family) {
	families[f.Name()] = f
}

func init() {
	register(Exp{})
	register(Gamma{})
	register(ShiftedGamma{})
	register(Normal{})
	register(DoubleGamma{})
	register(GaussBasis{})
	register(Dirac{})
}

// ByName resolves a family tag to its implementation.
func ByName(name string) (Family, error) {
	f, ok := families[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, name)
	}
	return f, nil
}

// Names lists the registered family tags in sorted order.
func Names() []string {
	out := make([]string, 0, len(families))
	for name := range families {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func checkFiniteParams(name string, params []float64) error {
	if err := numerr.CheckFiniteSlice("transform "+name, 0, nil, params); err != nil {
		return err
	}
	return nil
}
