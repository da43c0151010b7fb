package model

import (
	"errors"
	"fmt"

	"lethe/internal/kernel"
)

var ErrInvalidSpec = errors.New("invalid model spec")

// ValidateSpec checks the resolved specification eagerly, before any data is
// touched or any training step runs.
func ValidateSpec(spec Spec) error {
	if len(spec.Predictors) == 0 {
		return fmt.Errorf("%w: at least one predictor is required", ErrInvalidSpec)
	}

	factors := make(map[string]struct{}, len(spec.GroupingFactors))
	for _, f := range spec.GroupingFactors {
		if f == "" {
			return fmt.Errorf("%w: empty grouping factor name", ErrInvalidSpec)
		}
		if _, dup := factors[f]; dup {
			return fmt.Errorf("%w: duplicate grouping factor %s", ErrInvalidSpec, f)
		}
		factors[f] = struct{}{}
	}
	for _, f := range spec.InterceptGroups {
		if _, ok := factors[f]; !ok {
			return fmt.Errorf("%w: intercept group %s is not a grouping factor", ErrInvalidSpec, f)
		}
	}

	seen := make(map[string]struct{}, len(spec.Predictors))
	for _, p := range spec.Predictors {
		if p.Name == "" {
			return fmt.Errorf("%w: empty predictor name", ErrInvalidSpec)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: duplicate predictor %s", ErrInvalidSpec, p.Name)
		}
		seen[p.Name] = struct{}{}

		family, err := kernel.ByName(p.Family)
		if err != nil {
			return fmt.Errorf("%w: predictor %s: %v", ErrInvalidSpec, p.Name, err)
		}
		if len(p.ParamInit) != 0 && len(p.ParamInit) != family.ParamCount() {
			return fmt.Errorf("%w: predictor %s: init has %d params, family %s takes %d",
				ErrInvalidSpec, p.Name, len(p.ParamInit), p.Family, family.ParamCount())
		}
		for _, f := range p.CoefGroups {
			if _, ok := factors[f]; !ok {
				return fmt.Errorf("%w: predictor %s: coef group %s is not a grouping factor",
					ErrInvalidSpec, p.Name, f)
			}
		}
		for _, f := range p.KernelGroups {
			if _, ok := factors[f]; !ok {
				return fmt.Errorf("%w: predictor %s: kernel group %s is not a grouping factor",
					ErrInvalidSpec, p.Name, f)
			}
		}
	}
	return nil
}

// FamilyFor resolves the kernel family of one predictor. The spec must have
// passed ValidateSpec.
func FamilyFor(p PredictorSpec) kernel.Family {
	family, err := kernel.ByName(p.Family)
	if err != nil {
		panic(fmt.Sprintf("unvalidated spec: %v", err))
	}
	return family
}
