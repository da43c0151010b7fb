package kernel

import "math"

// Softplus maps an unconstrained value onto (0, inf). The large-argument
// branch avoids overflow in exp; the small-argument branch avoids log1p(0)
// rounding to zero prematurely.
func Softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	if x < -30 {
		return math.Exp(x)
	}
	return math.Log1p(math.Exp(x))
}

// SoftplusGrad is d softplus(x)/dx, the logistic sigmoid.
func SoftplusGrad(x float64) float64 {
	return Sigmoid(x)
}

// Sigmoid is the standard logistic function.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// InvSoftplus is the inverse of Softplus on (0, inf), used to seed raw
// parameters so that the constrained initialization is exact.
func InvSoftplus(y float64) float64 {
	if y > 30 {
		return y
	}
	return math.Log(math.Expm1(y))
}
