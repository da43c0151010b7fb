// Package convolve reduces event histories into per-response feature
// vectors by weighting predictor values with impulse response kernels.
// Events are point masses in time, so the causal convolution integral
// degenerates to a masked weighted sum over the window.
package convolve

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"lethe/internal/history"
	"lethe/internal/kernel"
	"lethe/internal/model"
	"lethe/internal/numerr"
)

// Engine evaluates kernels over history batches. It is stateless with
// respect to parameters; the caller supplies the flat vector each call.
type Engine struct {
	spec     model.Spec
	families []kernel.Family
}

func NewEngine(spec model.Spec) (*Engine, error) {
	if err := model.ValidateSpec(spec); err != nil {
		return nil, err
	}
	families := make([]kernel.Family, len(spec.Predictors))
	for i, p := range spec.Predictors {
		families[i] = model.FamilyFor(p)
	}
	return &Engine{spec: spec, families: families}, nil
}

// KernelGrad carries one feature's partial derivatives with respect to raw
// kernel parameters. In hierarchical variants the resolved raw vector is
// fixed params plus by-level deviations, so the same gradient applies to
// every listed block start.
type KernelGrad struct {
	BlockStarts []int
	Grad        []float64
}

// Features computes the convolved design matrix: one row per response, one
// column per predictor. An empty window convolves to exactly zero.
func (e *Engine) Features(batch *history.Batch, schema *model.Schema, params []float64, step int64) (*mat.Dense, error) {
	features, _, err := e.run(batch, schema, params, step, false)
	return features, err
}

// FeaturesWithGrad additionally returns, per response and predictor, the
// feature's gradient with respect to the raw kernel parameter slots.
func (e *Engine) FeaturesWithGrad(batch *history.Batch, schema *model.Schema, params []float64, step int64) (*mat.Dense, [][]KernelGrad, error) {
	return e.run(batch, schema, params, step, true)
}

func (e *Engine) run(batch *history.Batch, schema *model.Schema, params []float64, step int64, withGrad bool) (*mat.Dense, [][]KernelGrad, error) {
	n := batch.Len()
	nPred := len(e.spec.Predictors)
	features := mat.NewDense(maxInt(n, 1), maxInt(nPred, 1), nil)
	var grads [][]KernelGrad
	if withGrad {
		grads = make([][]KernelGrad, n)
	}

	for i := 0; i < n; i++ {
		if withGrad {
			grads[i] = make([]KernelGrad, nPred)
		}
		for p := range e.spec.Predictors {
			value, kg, err := e.convolveOne(batch, schema, params, step, i, p, withGrad)
			if err != nil {
				return nil, nil, err
			}
			features.Set(i, p, value)
			if withGrad {
				grads[i][p] = kg
			}
		}
	}
	return features, grads, nil
}

func (e *Engine) convolveOne(batch *history.Batch, schema *model.Schema, params []float64, step int64, i, p int, withGrad bool) (float64, KernelGrad, error) {
	pred := e.spec.Predictors[p]
	family := e.families[p]
	nParams := family.ParamCount()

	raw, blocks := e.resolveRaw(batch.Responses[i], schema, params, p)
	constrained, err := family.Transform(raw)
	if err != nil {
		return 0, KernelGrad{}, numerr.NewInstability(
			fmt.Sprintf("kernel %s for predictor %s", pred.Family, pred.Name), step, params)
	}

	// Compensated accumulation limits rounding drift over long histories.
	var sum, weightSum kahan
	gradSum := make([]kahan, nParams)
	weightGradSum := make([]kahan, nParams)

	for j := 0; j < batch.Width; j++ {
		if !batch.Mask[i][j] {
			continue
		}
		lag := batch.Lags[i][j]
		value := batch.Values[i][j][p]
		w := family.Evaluate(constrained, lag)
		sum.add(w * value)
		if family.Normalized() {
			weightSum.add(w)
		}
		if withGrad && nParams > 0 {
			wg := family.EvaluateGrad(constrained, lag)
			for k := 0; k < nParams; k++ {
				gradSum[k].add(wg[k] * value)
				if family.Normalized() {
					weightGradSum[k].add(wg[k])
				}
			}
		}
	}

	value := sum.value()
	grad := make([]float64, 0)
	if withGrad && nParams > 0 {
		grad = make([]float64, nParams)
		for k := range grad {
			grad[k] = gradSum[k].value()
		}
	}

	if family.Normalized() {
		total := weightSum.value()
		if total > 0 {
			value = value / total
			if withGrad {
				// Quotient rule for the window-normalized reduction.
				for k := range grad {
					grad[k] = (grad[k] - value*weightGradSum[k].value()) / total
				}
			}
		} else {
			value = 0
			for k := range grad {
				grad[k] = 0
			}
		}
	}

	if withGrad && nParams > 0 {
		// Chain through the domain transform back to raw space.
		tg := family.TransformGrad(raw)
		for k := range grad {
			grad[k] *= tg[k]
		}
	}
	return value, KernelGrad{BlockStarts: blocks, Grad: grad}, nil
}

// resolveRaw builds the per-response raw kernel parameter vector: the fixed
// block plus any by-level deviations for the response's grouping levels.
func (e *Engine) resolveRaw(r model.Response, schema *model.Schema, params []float64, p int) ([]float64, []int) {
	pred := e.spec.Predictors[p]
	start, count := schema.KernelSlots(pred.Name)
	raw := make([]float64, count)
	copy(raw, params[start:start+count])
	blocks := []int{start}

	for _, factor := range pred.KernelGroups {
		level := e.levelFor(r, factor)
		if level == "" {
			continue
		}
		devStart, ok := schema.RanKernelSlots(pred.Name, factor, level)
		if !ok {
			continue
		}
		for k := 0; k < count; k++ {
			raw[k] += params[devStart+k]
		}
		blocks = append(blocks, devStart)
	}
	return raw, blocks
}

func (e *Engine) levelFor(r model.Response, factor string) string {
	for j, f := range e.spec.GroupingFactors {
		if f == factor && j < len(r.Groups) {
			return r.Groups[j]
		}
	}
	return ""
}

// kahan is a compensated float64 accumulator.
type kahan struct {
	sum float64
	c   float64
}

func (k *kahan) add(x float64) {
	y := x - k.c
	t := k.sum + y
	k.c = (t - k.sum) - y
	k.sum = t
}

func (k *kahan) value() float64 { return k.sum }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
