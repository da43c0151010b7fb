package training

import (
	"math"

	"lethe/internal/model"
)

// Adam applies bias-corrected momentum and variance normalization over one
// flat parameter vector. Per-slot learning-rate scaling is data supplied by
// the caller, not a structural split between parameter classes.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

func NewAdam(learningRate float64) Adam {
	return Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Step updates params in place from grad, advancing the optimizer state.
// lrScales may be nil for uniform scaling.
func (a Adam) Step(params, grad, lrScales []float64, state *model.OptimizerState) {
	if len(state.M) != len(params) {
		state.M = make([]float64, len(params))
		state.V = make([]float64, len(params))
	}
	state.Step++
	t := float64(state.Step)
	c1 := 1 - math.Pow(a.Beta1, t)
	c2 := 1 - math.Pow(a.Beta2, t)

	for i := range params {
		g := grad[i]
		state.M[i] = a.Beta1*state.M[i] + (1-a.Beta1)*g
		state.V[i] = a.Beta2*state.V[i] + (1-a.Beta2)*g*g
		mHat := state.M[i] / c1
		vHat := state.V[i] / c2
		lr := a.LearningRate
		if lrScales != nil {
			lr *= lrScales[i]
		}
		params[i] -= lr * mHat / (math.Sqrt(vHat) + a.Epsilon)
	}
}
