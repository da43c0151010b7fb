// Package regression combines convolved features with fixed and hierarchical
// coefficients into a Gaussian likelihood, and produces the loss and its
// gradient with respect to every learnable parameter. It never mutates
// state; updates belong to the trainer.
package regression

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"lethe/internal/convolve"
	"lethe/internal/history"
	"lethe/internal/kernel"
	"lethe/internal/model"
	"lethe/internal/numerr"
)

// minNoise keeps the observation scale bounded away from zero so the
// likelihood stays finite on interpolating fits.
const minNoise = 1e-6

type Objective struct {
	spec   model.Spec
	engine *convolve.Engine
}

func NewObjective(spec model.Spec, engine *convolve.Engine) *Objective {
	return &Objective{spec: spec, engine: engine}
}

// NoiseScale maps the raw noise slot to the constrained observation scale.
func NoiseScale(schema *model.Schema, params []float64) float64 {
	return kernel.Softplus(params[schema.NoiseSlot()]) + minNoise
}

// Means computes per-response predicted means without gradients.
func (o *Objective) Means(batch *history.Batch, schema *model.Schema, params []float64, step int64) ([]float64, error) {
	features, err := o.engine.Features(batch, schema, params, step)
	if err != nil {
		return nil, err
	}
	return o.means(batch, schema, params, features), nil
}

func (o *Objective) means(batch *history.Batch, schema *model.Schema, params []float64, features *mat.Dense) []float64 {
	n := batch.Len()
	nPred := len(o.spec.Predictors)

	// Fixed-effect part in one multiply; hierarchical deviations are added
	// response by response.
	fixedCoefs := mat.NewVecDense(maxInt(nPred, 1), nil)
	for p, pred := range o.spec.Predictors {
		slot, _ := schema.CoefSlot(pred.Name)
		fixedCoefs.SetVec(p, params[slot])
	}
	base := mat.NewVecDense(maxInt(n, 1), nil)
	if n > 0 && nPred > 0 {
		base.MulVec(features.Slice(0, n, 0, nPred), fixedCoefs)
	}

	means := make([]float64, n)
	intercept := params[schema.InterceptSlot()]
	for i := 0; i < n; i++ {
		m := intercept + base.AtVec(i)
		r := batch.Responses[i]
		for fi, factor := range o.spec.GroupingFactors {
			if fi >= len(r.Groups) || r.Groups[fi] == "" {
				continue
			}
			if slot, ok := schema.RanInterceptSlot(factor, r.Groups[fi]); ok {
				m += params[slot]
			}
		}
		for p, pred := range o.spec.Predictors {
			dev := o.coefDeviation(schema, params, pred, r)
			if dev != 0 {
				m += dev * features.At(i, p)
			}
		}
		means[i] = m
	}
	return means
}

func (o *Objective) coefDeviation(schema *model.Schema, params []float64, pred model.PredictorSpec, r model.Response) float64 {
	var dev float64
	for _, factor := range pred.CoefGroups {
		level := o.levelFor(r, factor)
		if level == "" {
			continue
		}
		if slot, ok := schema.RanCoefSlot(pred.Name, factor, level); ok {
			dev += params[slot]
		}
	}
	return dev
}

func (o *Objective) levelFor(r model.Response, factor string) string {
	for j, f := range o.spec.GroupingFactors {
		if f == factor && j < len(r.Groups) {
			return r.Groups[j]
		}
	}
	return ""
}

// EvalLoss computes the mean Gaussian negative log-likelihood without
// gradients or shrinkage penalties, for validation monitoring and fit
// statistics.
func (o *Objective) EvalLoss(batch *history.Batch, schema *model.Schema, params []float64, step int64) (float64, error) {
	n := batch.Len()
	if n == 0 {
		return 0, nil
	}
	means, err := o.Means(batch, schema, params, step)
	if err != nil {
		return 0, err
	}
	sigma := NoiseScale(schema, params)
	logNorm := 0.5 * math.Log(2*math.Pi*sigma*sigma)
	var loss float64
	for i, m := range means {
		resid := batch.Responses[i].Value - m
		loss += logNorm + resid*resid/(2*sigma*sigma)
	}
	loss /= float64(n)
	if err := numerr.CheckFinite("validation loss", step, params, loss); err != nil {
		return 0, err
	}
	return loss, nil
}

// Loss returns the mean Gaussian negative log-likelihood plus zero-mean
// shrinkage on random-effect slots, and its gradient over the flat raw
// parameter vector. nTotal is the full training-set size; it scales the
// shrinkage penalty so regularization strength does not depend on the
// minibatch size.
func (o *Objective) Loss(batch *history.Batch, schema *model.Schema, params []float64, step int64, nTotal int) (float64, []float64, error) {
	return o.lossAt(batch, schema, params, step, nTotal, true)
}

func (o *Objective) lossAt(batch *history.Batch, schema *model.Schema, params []float64, step int64, nTotal int, shrink bool) (float64, []float64, error) {
	n := batch.Len()
	if n == 0 {
		return 0, make([]float64, len(params)), nil
	}

	features, kernelGrads, err := o.engine.FeaturesWithGrad(batch, schema, params, step)
	if err != nil {
		return 0, nil, err
	}
	means := o.means(batch, schema, params, features)

	sigma := NoiseScale(schema, params)
	invN := 1 / float64(n)
	grad := make([]float64, len(params))

	var loss float64
	var dLdSigma float64
	logNorm := 0.5 * math.Log(2*math.Pi*sigma*sigma)
	for i := 0; i < n; i++ {
		r := batch.Responses[i]
		resid := r.Value - means[i]
		loss += (logNorm + resid*resid/(2*sigma*sigma)) * invN
		dLdSigma += (1/sigma - resid*resid/(sigma*sigma*sigma)) * invN

		dm := -resid / (sigma * sigma) * invN
		grad[schema.InterceptSlot()] += dm
		for fi, factor := range o.spec.GroupingFactors {
			if fi >= len(r.Groups) || r.Groups[fi] == "" {
				continue
			}
			if slot, ok := schema.RanInterceptSlot(factor, r.Groups[fi]); ok {
				grad[slot] += dm
			}
		}
		for p, pred := range o.spec.Predictors {
			f := features.At(i, p)
			coefSlot, _ := schema.CoefSlot(pred.Name)
			grad[coefSlot] += dm * f

			coef := params[coefSlot]
			for _, factor := range pred.CoefGroups {
				level := o.levelFor(r, factor)
				if level == "" {
					continue
				}
				if slot, ok := schema.RanCoefSlot(pred.Name, factor, level); ok {
					grad[slot] += dm * f
					coef += params[slot]
				}
			}

			kg := kernelGrads[i][p]
			upstream := dm * coef
			for _, start := range kg.BlockStarts {
				for k, g := range kg.Grad {
					grad[start+k] += upstream * g
				}
			}
		}
	}
	grad[schema.NoiseSlot()] += dLdSigma * kernel.SoftplusGrad(params[schema.NoiseSlot()])

	if shrink {
		// Zero-mean Gaussian shrinkage keeps random deviations pooled
		// toward their fixed counterparts. The penalty is spread over the
		// training set, matching the ELBO's KL scaling, so a partial final
		// batch is regularized no harder than a full one.
		invTotal := 1 / float64(maxInt(nTotal, 1))
		for i, slot := range schema.Slots {
			switch slot.Kind {
			case model.SlotRanIntercept, model.SlotRanCoef, model.SlotRanKernel:
				u := params[i]
				p2 := slot.PriorScale * slot.PriorScale
				loss += u * u / (2 * p2) * invTotal
				grad[i] += u / p2 * invTotal
			}
		}
	}

	if err := numerr.CheckFinite("loss", step, params, loss); err != nil {
		return 0, nil, err
	}
	if err := numerr.CheckFiniteSlice("gradient", step, params, grad); err != nil {
		return 0, nil, err
	}
	return loss, grad, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
