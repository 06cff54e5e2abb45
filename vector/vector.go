// Package vector provides validation and similarity math for fixed-width
// float32 embedding vectors. All functions are pure and allocation-free
// unless documented otherwise.
package vector

import (
	"fmt"
	"math"
	"slices"
)

// DimensionMismatchError indicates a vector whose width does not match the
// configured dimensionality, or a vector with non-finite components.
type DimensionMismatchError struct {
	Expected int
	Actual   int
	Reason   string
}

func (e *DimensionMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid vector: %s", e.Reason)
	}
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Validate checks that vec has exactly dims finite components.
// A mismatched or non-finite vector is a hard error, never repaired.
func Validate(vec []float32, dims int) error {
	if dims <= 0 {
		return &DimensionMismatchError{Expected: dims, Actual: len(vec), Reason: fmt.Sprintf("configured dimension %d is not positive", dims)}
	}
	if len(vec) != dims {
		return &DimensionMismatchError{Expected: dims, Actual: len(vec)}
	}
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return &DimensionMismatchError{
				Expected: dims,
				Actual:   len(vec),
				Reason:   fmt.Sprintf("non-finite component at index %d", i),
			}
		}
	}
	return nil
}

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// CosineSimilarity returns the cosine of the angle between a and b,
// in [-1, 1]. Returns 0 when either vector has zero norm.
func CosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (float32(math.Sqrt(float64(na))) * float32(math.Sqrt(float64(nb))))
	// Float rounding can push the ratio marginally outside [-1, 1].
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// CosineDistance returns 1 - CosineSimilarity(a, b), in [0, 2].
func CosineDistance(a, b []float32) float32 {
	return ToDistance(CosineSimilarity(a, b))
}

// ToDistance converts a similarity in [-1, 1] to a distance in [0, 2].
func ToDistance(sim float32) float32 {
	return 1 - sim
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}
