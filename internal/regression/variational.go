package regression

import (
	"math"
	"math/rand"

	"lethe/internal/history"
	"lethe/internal/kernel"
	"lethe/internal/model"
	"lethe/internal/numerr"
)

// minPosteriorScale keeps sampled posterior widths strictly positive.
const minPosteriorScale = 1e-8

// DefaultPosteriorInitRatio sets the initial posterior width as a fraction
// of the prior width.
const DefaultPosteriorInitRatio = 0.1

// Variational evaluates the negative evidence lower bound for a mean-field
// Normal posterior over the flat parameter vector: a reparameterized sample
// through the point objective, plus per-parameter KL divergence to a Normal
// prior centered on the initialization.
type Variational struct {
	base     *Objective
	priorLoc []float64
	seed     int64
}

func NewVariational(base *Objective, priorLoc []float64, seed int64) *Variational {
	return &Variational{
		base:     base,
		priorLoc: append([]float64(nil), priorLoc...),
		seed:     seed,
	}
}

// InitPosterior seeds the variational parameters: locations at the initial
// point estimate, widths at a fixed ratio of each slot's prior width.
func InitPosterior(schema *model.Schema, params []float64) (loc, rho []float64) {
	loc = append([]float64(nil), params...)
	rho = make([]float64, len(params))
	for i, slot := range schema.Slots {
		rho[i] = kernel.InvSoftplus(slot.PriorScale * DefaultPosteriorInitRatio)
	}
	return loc, rho
}

// Loss returns the per-datum negative ELBO and its gradients with respect to
// posterior locations and raw scales. nTotal is the full training set size,
// which scales the KL penalty so minibatch losses stay comparable. Sampling
// is seeded by (seed, step), making every step reproducible bit for bit.
func (v *Variational) Loss(batch *history.Batch, schema *model.Schema, loc, rho []float64, step int64, nTotal int) (float64, []float64, []float64, error) {
	nParams := len(loc)
	rng := rand.New(rand.NewSource(v.seed ^ int64(uint64(step+1)*0x9E3779B97F4A7C15)))

	eps := make([]float64, nParams)
	scale := make([]float64, nParams)
	theta := make([]float64, nParams)
	for j := range theta {
		eps[j] = rng.NormFloat64()
		scale[j] = kernel.Softplus(rho[j]) + minPosteriorScale
		theta[j] = loc[j] + scale[j]*eps[j]
	}

	// The KL term carries the prior; the sampled objective runs without
	// the point-mode shrinkage penalty.
	loss, gTheta, err := v.base.lossAt(batch, schema, theta, step, nTotal, false)
	if err != nil {
		return 0, nil, nil, err
	}

	gLoc := make([]float64, nParams)
	gRho := make([]float64, nParams)
	invTotal := 1 / float64(maxInt(nTotal, 1))
	for j, slot := range schema.Slots {
		p := slot.PriorScale
		m := v.priorLoc[j]
		s := scale[j]
		kl := math.Log(p/s) + (s*s+(loc[j]-m)*(loc[j]-m))/(2*p*p) - 0.5
		loss += kl * invTotal

		sg := kernel.SoftplusGrad(rho[j])
		gLoc[j] = gTheta[j] + (loc[j]-m)/(p*p)*invTotal
		gRho[j] = gTheta[j]*eps[j]*sg + (-1/s+s/(p*p))*sg*invTotal
	}

	if err := numerr.CheckFinite("elbo", step, theta, loss); err != nil {
		return 0, nil, nil, err
	}
	return loss, gLoc, gRho, nil
}

// SampleParams draws one reparameterized parameter vector from the
// posterior, used by evaluation to form credible intervals.
func SampleParams(loc, rho []float64, rng *rand.Rand) []float64 {
	theta := make([]float64, len(loc))
	for j := range theta {
		s := kernel.Softplus(rho[j]) + minPosteriorScale
		theta[j] = loc[j] + s*rng.NormFloat64()
	}
	return theta
}
