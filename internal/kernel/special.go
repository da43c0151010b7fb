package kernel

import (
	"math"
	"strconv"
)

// DoubleGamma is the canonical hemodynamic-style response: a primary gamma
// peak minus a scaled undershoot gamma, floored at zero so the weight stays
// non-negative over the whole lag domain.
type DoubleGamma struct{}

func (DoubleGamma) Name() string    { return "doublegamma" }
func (DoubleGamma) ParamCount() int { return 5 }

func (DoubleGamma) ParamNames() []string {
	return []string{"alpha1", "beta1", "alpha2", "beta2", "c"}
}

func (DoubleGamma) Normalized() bool { return false }

func (DoubleGamma) Init() []float64 {
	return []float64{
		InvSoftplus(6),
		InvSoftplus(1),
		InvSoftplus(16),
		InvSoftplus(1),
		InvSoftplus(1.0 / 6.0),
	}
}

func (DoubleGamma) Transform(raw []float64) ([]float64, error) {
	out := make([]float64, 5)
	for i, r := range raw {
		out[i] = Softplus(r)
	}
	if err := checkFiniteParams("doublegamma", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (DoubleGamma) TransformGrad(raw []float64) []float64 {
	out := make([]float64, 5)
	for i, r := range raw {
		out[i] = SoftplusGrad(r)
	}
	return out
}

func (DoubleGamma) Evaluate(params []float64, lag float64) float64 {
	x := lag + lagEpsilon
	w := gammaPDF(params[0], params[1], x) - params[4]*gammaPDF(params[2], params[3], x)
	if w < 0 {
		return 0
	}
	return w
}

func (DoubleGamma) EvaluateGrad(params []float64, lag float64) []float64 {
	x := lag + lagEpsilon
	g1 := gammaPDF(params[0], params[1], x)
	g2 := gammaPDF(params[2], params[3], x)
	if g1-params[4]*g2 < 0 {
		// Inside the floor the weight is constant zero.
		return make([]float64, 5)
	}
	gg1 := Gamma{}.EvaluateGrad(params[:2], lag)
	gg2 := Gamma{}.EvaluateGrad(params[2:4], lag)
	return []float64{
		gg1[0],
		gg1[1],
		-params[4] * gg2[0],
		-params[4] * gg2[1],
		-g2,
	}
}

// gaussBasisCount Gaussian bumps with fixed unit spacing and unit width span
// lags 0..gaussBasisCount-1; only the bump amplitudes are learned, giving a
// nonparametric shape on that support.
const gaussBasisCount = 5

// GaussBasis is the nonparametric family: a non-negative linear combination
// of fixed Gaussian basis functions. It is the one family flagged for
// window-sum normalization, since the raw combination is not a density.
type GaussBasis struct{}

func (GaussBasis) Name() string    { return "gaussbasis" }
func (GaussBasis) ParamCount() int { return gaussBasisCount }

func (GaussBasis) ParamNames() []string {
	names := make([]string, gaussBasisCount)
	for i := range names {
		names[i] = "a" + strconv.Itoa(i)
	}
	return names
}

func (GaussBasis) Normalized() bool { return true }

func (GaussBasis) Init() []float64 {
	out := make([]float64, gaussBasisCount)
	for i := range out {
		out[i] = InvSoftplus(1)
	}
	return out
}

func (GaussBasis) Transform(raw []float64) ([]float64, error) {
	out := make([]float64, gaussBasisCount)
	for i, r := range raw {
		out[i] = Softplus(r)
	}
	if err := checkFiniteParams("gaussbasis", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (GaussBasis) TransformGrad(raw []float64) []float64 {
	out := make([]float64, gaussBasisCount)
	for i, r := range raw {
		out[i] = SoftplusGrad(r)
	}
	return out
}

func (GaussBasis) Evaluate(params []float64, lag float64) float64 {
	var w float64
	for i, a := range params {
		w += a * gaussBump(lag, float64(i))
	}
	return w
}

func (GaussBasis) EvaluateGrad(params []float64, lag float64) []float64 {
	out := make([]float64, gaussBasisCount)
	for i := range params {
		out[i] = gaussBump(lag, float64(i))
	}
	return out
}

func gaussBump(lag, center float64) float64 {
	d := lag - center
	return math.Exp(-0.5 * d * d)
}

// diracTolerance bounds the lag window treated as simultaneous with the
// response when timestamps carry floating-point noise.
const diracTolerance = 1e-9

// Dirac is the zero-lag point mass. With the reserved constant-one rate
// predictor it turns simultaneous event occurrence itself into a feature.
type Dirac struct{}

func (Dirac) Name() string         { return "dirac" }
func (Dirac) ParamCount() int      { return 0 }
func (Dirac) ParamNames() []string { return nil }
func (Dirac) Normalized() bool     { return false }
func (Dirac) Init() []float64      { return nil }

func (Dirac) Transform(raw []float64) ([]float64, error) { return nil, nil }
func (Dirac) TransformGrad(raw []float64) []float64      { return nil }

func (Dirac) Evaluate(params []float64, lag float64) float64 {
	if lag <= diracTolerance {
		return 1
	}
	return 0
}

func (Dirac) EvaluateGrad(params []float64, lag float64) []float64 { return nil }
