package model

import (
	"fmt"
	"sort"

	"golang.org/x/exp/maps"

	"lethe/internal/kernel"
)

// Slot kinds in the flat parameter vector.
const (
	SlotIntercept    = "intercept"
	SlotRanIntercept = "ran_intercept"
	SlotCoef         = "coef"
	SlotRanCoef      = "ran_coef"
	SlotKernel       = "kernel"
	SlotRanKernel    = "ran_kernel"
	SlotNoise        = "noise"
)

// Default prior scales for the variational mode; random-effect priors are a
// ratio of the fixed-effect prior, which is what shrinks deviations toward
// their shared fixed counterpart.
const (
	DefaultFixedPriorScale  = 1.0
	DefaultRandomPriorRatio = 0.1
)

// Slot describes one position in the flat parameter vector.
type Slot struct {
	Kind      string `json:"kind"`
	Predictor string `json:"predictor,omitempty"`
	Factor    string `json:"factor,omitempty"`
	Level     string `json:"level,omitempty"`
	// Param is the kernel parameter index within the family for kernel
	// slots.
	Param int `json:"param,omitempty"`
	// LRScale multiplies the base learning rate for this slot.
	LRScale float64 `json:"lr_scale"`
	// PriorScale is the zero-mean Normal prior width used for shrinkage
	// and as the variational prior.
	PriorScale float64 `json:"prior_scale"`
}

// Schema is the closed-world slot arena mapping every learnable quantity to
// an index in the flat parameter vector. It is resolved once, eagerly, from
// the spec and the training responses; training-step lookups are map hits,
// never dynamic discovery.
type Schema struct {
	VersionedRecord
	Factors      []string            `json:"factors,omitempty"`
	FactorLevels map[string][]string `json:"factor_levels,omitempty"`
	Slots        []Slot              `json:"slots"`

	idx *schemaIndex
}

type schemaIndex struct {
	intercept    int
	noise        int
	ranIntercept map[string]int // factor|level
	coef         map[string]int
	ranCoef      map[string]int // pred|factor|level
	kernelStart  map[string]int
	kernelCount  map[string]int
	ranKernel    map[string]int // pred|factor|level -> start
}

// SchemaOptions tune slot metadata without changing the layout.
type SchemaOptions struct {
	// KernelLRScale scales the learning rate of kernel-shape slots
	// relative to linear coefficients.
	KernelLRScale float64
	// FixedPriorScale is the prior width on fixed effects.
	FixedPriorScale float64
	// RandomPriorRatio sets random-effect prior width as a fraction of the
	// fixed prior width.
	RandomPriorRatio float64
}

func (o *SchemaOptions) defaults() {
	if o.KernelLRScale <= 0 {
		o.KernelLRScale = 1
	}
	if o.FixedPriorScale <= 0 {
		o.FixedPriorScale = DefaultFixedPriorScale
	}
	if o.RandomPriorRatio <= 0 {
		o.RandomPriorRatio = DefaultRandomPriorRatio
	}
}

// ResolveSchema builds the slot arena from a validated spec and the training
// responses. Every grouping-factor level observed in the responses gets its
// random-effect slots here; a level not in the arena cannot contribute to
// the loss.
func ResolveSchema(spec Spec, responses []Response) (Schema, error) {
	return ResolveSchemaWith(spec, responses, SchemaOptions{})
}

func ResolveSchemaWith(spec Spec, responses []Response, opts SchemaOptions) (Schema, error) {
	if err := ValidateSpec(spec); err != nil {
		return Schema{}, err
	}
	opts.defaults()

	levelSets := make(map[string]map[string]struct{}, len(spec.GroupingFactors))
	for _, f := range spec.GroupingFactors {
		levelSets[f] = make(map[string]struct{})
	}
	for i, r := range responses {
		if len(r.Groups) != len(spec.GroupingFactors) {
			return Schema{}, fmt.Errorf("%w: response %d has %d group labels, spec has %d factors",
				ErrInvalidSpec, i, len(r.Groups), len(spec.GroupingFactors))
		}
		for j, level := range r.Groups {
			if level != "" {
				levelSets[spec.GroupingFactors[j]][level] = struct{}{}
			}
		}
	}
	factorLevels := make(map[string][]string, len(levelSets))
	for f, set := range levelSets {
		levels := maps.Keys(set)
		sort.Strings(levels)
		factorLevels[f] = levels
	}

	randomPrior := opts.FixedPriorScale * opts.RandomPriorRatio
	s := Schema{
		Factors:      append([]string(nil), spec.GroupingFactors...),
		FactorLevels: factorLevels,
	}
	add := func(slot Slot) {
		s.Slots = append(s.Slots, slot)
	}

	add(Slot{Kind: SlotIntercept, LRScale: 1, PriorScale: opts.FixedPriorScale})
	for _, f := range spec.InterceptGroups {
		for _, level := range factorLevels[f] {
			add(Slot{Kind: SlotRanIntercept, Factor: f, Level: level, LRScale: 1, PriorScale: randomPrior})
		}
	}
	for _, p := range spec.Predictors {
		add(Slot{Kind: SlotCoef, Predictor: p.Name, LRScale: 1, PriorScale: opts.FixedPriorScale})
		for _, f := range p.CoefGroups {
			for _, level := range factorLevels[f] {
				add(Slot{Kind: SlotRanCoef, Predictor: p.Name, Factor: f, Level: level, LRScale: 1, PriorScale: randomPrior})
			}
		}
	}
	for _, p := range spec.Predictors {
		family := FamilyFor(p)
		for k := 0; k < family.ParamCount(); k++ {
			add(Slot{Kind: SlotKernel, Predictor: p.Name, Param: k, LRScale: opts.KernelLRScale, PriorScale: opts.FixedPriorScale})
		}
		for _, f := range p.KernelGroups {
			for _, level := range factorLevels[f] {
				for k := 0; k < family.ParamCount(); k++ {
					add(Slot{Kind: SlotRanKernel, Predictor: p.Name, Factor: f, Level: level, Param: k, LRScale: opts.KernelLRScale, PriorScale: randomPrior})
				}
			}
		}
	}
	add(Slot{Kind: SlotNoise, LRScale: 1, PriorScale: opts.FixedPriorScale})

	s.Reindex()
	return s, nil
}

// NumParams is the flat parameter vector length.
func (s *Schema) NumParams() int { return len(s.Slots) }

// Reindex rebuilds the lookup maps after the schema crosses a codec
// boundary.
func (s *Schema) Reindex() {
	idx := &schemaIndex{
		ranIntercept: make(map[string]int),
		coef:         make(map[string]int),
		ranCoef:      make(map[string]int),
		kernelStart:  make(map[string]int),
		kernelCount:  make(map[string]int),
		ranKernel:    make(map[string]int),
	}
	for i, slot := range s.Slots {
		switch slot.Kind {
		case SlotIntercept:
			idx.intercept = i
		case SlotRanIntercept:
			idx.ranIntercept[slot.Factor+"|"+slot.Level] = i
		case SlotCoef:
			idx.coef[slot.Predictor] = i
		case SlotRanCoef:
			idx.ranCoef[slot.Predictor+"|"+slot.Factor+"|"+slot.Level] = i
		case SlotKernel:
			if slot.Param == 0 {
				idx.kernelStart[slot.Predictor] = i
			}
			idx.kernelCount[slot.Predictor]++
		case SlotRanKernel:
			if slot.Param == 0 {
				idx.ranKernel[slot.Predictor+"|"+slot.Factor+"|"+slot.Level] = i
			}
		case SlotNoise:
			idx.noise = i
		}
	}
	s.idx = idx
}

func (s *Schema) index() *schemaIndex {
	if s.idx == nil {
		s.Reindex()
	}
	return s.idx
}

func (s *Schema) InterceptSlot() int { return s.index().intercept }
func (s *Schema) NoiseSlot() int     { return s.index().noise }

func (s *Schema) RanInterceptSlot(factor, level string) (int, bool) {
	i, ok := s.index().ranIntercept[factor+"|"+level]
	return i, ok
}

func (s *Schema) CoefSlot(pred string) (int, bool) {
	i, ok := s.index().coef[pred]
	return i, ok
}

func (s *Schema) RanCoefSlot(pred, factor, level string) (int, bool) {
	i, ok := s.index().ranCoef[pred+"|"+factor+"|"+level]
	return i, ok
}

// KernelSlots returns the start index and count of a predictor's fixed
// kernel parameter block.
func (s *Schema) KernelSlots(pred string) (int, int) {
	idx := s.index()
	return idx.kernelStart[pred], idx.kernelCount[pred]
}

// RanKernelSlots returns the start index of a predictor's by-level kernel
// deviation block; the block length equals the fixed kernel block length.
func (s *Schema) RanKernelSlots(pred, factor, level string) (int, bool) {
	i, ok := s.index().ranKernel[pred+"|"+factor+"|"+level]
	return i, ok
}

// HasLevel reports whether a factor level was present when the arena was
// resolved.
func (s *Schema) HasLevel(factor, level string) bool {
	for _, l := range s.FactorLevels[factor] {
		if l == level {
			return true
		}
	}
	return false
}

// InitParams builds the initial flat parameter vector: zero intercept and
// coefficients, family defaults (or spec overrides) for kernel shapes, zero
// random deviations, unit noise scale.
func InitParams(spec Spec, schema *Schema) []float64 {
	params := make([]float64, schema.NumParams())
	for _, p := range spec.Predictors {
		family := FamilyFor(p)
		init := p.ParamInit
		if len(init) == 0 {
			init = family.Init()
		}
		start, count := schema.KernelSlots(p.Name)
		for k := 0; k < count; k++ {
			params[start+k] = init[k]
		}
	}
	params[schema.NoiseSlot()] = kernel.InvSoftplus(1)
	return params
}
