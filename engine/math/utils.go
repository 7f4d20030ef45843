package math

import (
	stdmath "math"

	"golang.org/x/exp/constraints"
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// NearlyEqual compares two floats within an absolute tolerance.
func NearlyEqual[T constraints.Float](a, b, tolerance T) bool {
	return T(stdmath.Abs(float64(a-b))) <= tolerance
}
