package kernel

import (
	"math"

	"gonum.org/v1/gonum/mathext"
)

// lagEpsilon keeps the gamma-family log paths defined at lag zero, where
// x^(alpha-1) is singular for alpha < 1.
const lagEpsilon = 1e-8

// Exp is the exponential decay density: w(t) = beta * exp(-beta t).
type Exp struct{}

func (Exp) Name() string         { return "exp" }
func (Exp) ParamCount() int      { return 1 }
func (Exp) ParamNames() []string { return []string{"beta"} }
func (Exp) Normalized() bool     { return false }

func (Exp) Init() []float64 { return []float64{InvSoftplus(1)} }

func (Exp) Transform(raw []float64) ([]float64, error) {
	out := []float64{Softplus(raw[0])}
	if err := checkFiniteParams("exp", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (Exp) TransformGrad(raw []float64) []float64 {
	return []float64{SoftplusGrad(raw[0])}
}

func (Exp) Evaluate(params []float64, lag float64) float64 {
	beta := params[0]
	return beta * math.Exp(-beta*lag)
}

func (Exp) EvaluateGrad(params []float64, lag float64) []float64 {
	beta := params[0]
	w := beta * math.Exp(-beta*lag)
	// d/dbeta [beta e^(-beta t)] = w (1/beta - t)
	return []float64{w * (1/beta - lag)}
}

// Gamma is the gamma density over lag with shape alpha and rate beta,
// evaluated in log space to survive large lags and extreme shapes.
type Gamma struct{}

func (Gamma) Name() string         { return "gamma" }
func (Gamma) ParamCount() int      { return 2 }
func (Gamma) ParamNames() []string { return []string{"alpha", "beta"} }
func (Gamma) Normalized() bool     { return false }

func (Gamma) Init() []float64 {
	return []float64{InvSoftplus(2), InvSoftplus(1)}
}

func (Gamma) Transform(raw []float64) ([]float64, error) {
	out := []float64{Softplus(raw[0]), Softplus(raw[1])}
	if err := checkFiniteParams("gamma", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (Gamma) TransformGrad(raw []float64) []float64 {
	return []float64{SoftplusGrad(raw[0]), SoftplusGrad(raw[1])}
}

func (Gamma) Evaluate(params []float64, lag float64) float64 {
	return gammaPDF(params[0], params[1], lag+lagEpsilon)
}

func (Gamma) EvaluateGrad(params []float64, lag float64) []float64 {
	alpha, beta := params[0], params[1]
	x := lag + lagEpsilon
	w := gammaPDF(alpha, beta, x)
	return []float64{
		w * (math.Log(beta) + math.Log(x) - mathext.Digamma(alpha)),
		w * (alpha/beta - x),
	}
}

func gammaPDF(alpha, beta, x float64) float64 {
	lg, _ := math.Lgamma(alpha)
	return math.Exp(alpha*math.Log(beta) + (alpha-1)*math.Log(x) - beta*x - lg)
}

// ShiftedGamma is a gamma density whose support starts at a learned offset
// delta < 0, letting influence rise before the nominal event time alignment.
type ShiftedGamma struct{}

func (ShiftedGamma) Name() string         { return "shiftedgamma" }
func (ShiftedGamma) ParamCount() int      { return 3 }
func (ShiftedGamma) ParamNames() []string { return []string{"alpha", "beta", "delta"} }
func (ShiftedGamma) Normalized() bool     { return false }

func (ShiftedGamma) Init() []float64 {
	return []float64{InvSoftplus(2), InvSoftplus(1), InvSoftplus(0.5)}
}

func (ShiftedGamma) Transform(raw []float64) ([]float64, error) {
	// The shift is constrained strictly negative so lag-delta stays positive
	// over the whole lag >= 0 domain.
	out := []float64{Softplus(raw[0]), Softplus(raw[1]), -Softplus(raw[2])}
	if err := checkFiniteParams("shiftedgamma", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (ShiftedGamma) TransformGrad(raw []float64) []float64 {
	return []float64{SoftplusGrad(raw[0]), SoftplusGrad(raw[1]), -SoftplusGrad(raw[2])}
}

func (ShiftedGamma) Evaluate(params []float64, lag float64) float64 {
	return gammaPDF(params[0], params[1], lag-params[2]+lagEpsilon)
}

func (ShiftedGamma) EvaluateGrad(params []float64, lag float64) []float64 {
	alpha, beta, delta := params[0], params[1], params[2]
	x := lag - delta + lagEpsilon
	w := gammaPDF(alpha, beta, x)
	return []float64{
		w * (math.Log(beta) + math.Log(x) - mathext.Digamma(alpha)),
		w * (alpha/beta - x),
		w * (beta - (alpha-1)/x),
	}
}

// Normal is a Gaussian bump over lag with unconstrained center mu and
// positive width sigma.
type Normal struct{}

func (Normal) Name() string         { return "normal" }
func (Normal) ParamCount() int      { return 2 }
func (Normal) ParamNames() []string { return []string{"mu", "sigma"} }
func (Normal) Normalized() bool     { return false }

func (Normal) Init() []float64 {
	return []float64{1, InvSoftplus(1)}
}

func (Normal) Transform(raw []float64) ([]float64, error) {
	out := []float64{raw[0], Softplus(raw[1])}
	if err := checkFiniteParams("normal", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (Normal) TransformGrad(raw []float64) []float64 {
	return []float64{1, SoftplusGrad(raw[1])}
}

func (Normal) Evaluate(params []float64, lag float64) float64 {
	mu, sigma := params[0], params[1]
	z := (lag - mu) / sigma
	return math.Exp(-0.5*z*z) / (sigma * math.Sqrt(2*math.Pi))
}

func (n Normal) EvaluateGrad(params []float64, lag float64) []float64 {
	mu, sigma := params[0], params[1]
	w := n.Evaluate(params, lag)
	d := lag - mu
	return []float64{
		w * d / (sigma * sigma),
		w * (d*d/(sigma*sigma*sigma) - 1/sigma),
	}
}
