package facematch

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when an embedding does not have the registry's dimensionality.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// EuclideanDistance computes the L2 distance between two embeddings.
// Returns +Inf for vectors of different or zero length.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// boundedDistance is EuclideanDistance that gives up once the distance is known
// to be strictly greater than bound. The sum is accumulated in the same order, so
// a completed result equals EuclideanDistance(a, b) bit for bit.
func boundedDistance(a, b []float32, bound float64) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1), true
	}

	boundSq := bound * bound
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
		if sum > boundSq && math.Sqrt(sum) > bound {
			return 0, false
		}
	}
	return math.Sqrt(sum), true
}

// Confidence converts a distance into a score in [0, 1] as 1 - distance, clamped.
func Confidence(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return min(max(1-distance, 0), 1)
}

// usableEmbedding reports whether vec has the expected dimensionality and only finite components.
func usableEmbedding(vec []float32, dim int) bool {
	if len(vec) == 0 || len(vec) != dim {
		return false
	}
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// CheckEmbedding validates an observed embedding against the expected dimensionality.
// A dim of zero only requires a non-empty vector.
func CheckEmbedding(vec []float32, dim int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrDimensionMismatch)
	}
	if dim > 0 && len(vec) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dim)
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite component at index %d", i)
		}
	}
	return nil
}
