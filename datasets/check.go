package datasets

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/dsuarezv/nuts-ml/network"
	"github.com/dsuarezv/nuts-ml/nuts"
)

// ErrNaN is returned by CheckNaN.
var ErrNaN = errors.New("NaN encountered")

// nanError reports the offending value after the ErrNaN message.
type nanError struct{ value any }

func (e nanError) Error() string { return fmt.Sprintf("%v: %v", ErrNaN, e.value) }
func (e nanError) Cause() error  { return ErrNaN }
func (e nanError) Unwrap() error { return ErrNaN }

// CheckNaN passes the values of s through and fails with ErrNaN on the first
// value containing a NaN. Floats, float slices, matrices, batches, samples and
// slices of those are inspected; other values pass unchecked.
func CheckNaN[T any](s nuts.Stream[T]) nuts.Stream[T] {
	return nuts.MapErr(s, func(v T) (T, error) {
		if hasNaN(v) {
			return v, nanError{v}
		}
		return v, nil
	})
}

func hasNaN(v any) bool {
	switch x := v.(type) {
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	case []float64:
		for _, f := range x {
			if math.IsNaN(f) {
				return true
			}
		}
	case *mat.Dense:
		return x != nil && matrixHasNaN(x)
	case mat.Matrix:
		return matrixHasNaN(x)
	case network.Batch:
		for _, m := range x {
			if hasNaN(m) {
				return true
			}
		}
	case network.Outputs:
		for _, m := range x {
			if hasNaN(m) {
				return true
			}
		}
	case Sample:
		return hasNaN(x.Features) || hasNaN(x.Target)
	case []any:
		for _, e := range x {
			if hasNaN(e) {
				return true
			}
		}
	}
	return false
}

func matrixHasNaN(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.IsNaN(m.At(i, j)) {
				return true
			}
		}
	}
	return false
}
