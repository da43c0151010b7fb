// Package numerr carries numeric-instability failures with enough state to
// diagnose where a fit went non-finite.
package numerr

import (
	"errors"
	"fmt"
	"math"
)

var ErrNonFinite = errors.New("non-finite value")

// Instability wraps ErrNonFinite with the training step and a snapshot of the
// parameter vector at the moment the bad value was produced. It is never
// retried; the run that raises it terminates as failed.
type Instability struct {
	Op     string
	Step   int64
	Params []float64
}

func (e *Instability) Error() string {
	return fmt.Sprintf("%s: %v at step %d", e.Op, ErrNonFinite, e.Step)
}

func (e *Instability) Unwrap() error {
	return ErrNonFinite
}

// NewInstability copies params so the snapshot survives later optimizer writes.
func NewInstability(op string, step int64, params []float64) *Instability {
	return &Instability{
		Op:     op,
		Step:   step,
		Params: append([]float64(nil), params...),
	}
}

// CheckFinite returns an Instability describing the first non-finite entry,
// or nil when every value is finite.
func CheckFinite(op string, step int64, params []float64, values ...float64) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewInstability(op, step, params)
		}
	}
	return nil
}

// CheckFiniteSlice is CheckFinite over a whole vector.
func CheckFiniteSlice(op string, step int64, params []float64, values []float64) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewInstability(op, step, params)
		}
	}
	return nil
}
