// Package vecmath holds the small set of dense vector operations used for fusion and scoring.
package vecmath

import (
	"fmt"
	"math"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
)

// Epsilon is the smallest norm a vector may have and still be normalized.
const Epsilon = 1e-9

// Dot returns the dot product of two equal-length vectors.
func Dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	return math.Sqrt(Dot(v, v))
}

// Normalize returns a unit-length copy of v. A vector with (near) zero norm,
// or one holding NaN/Inf, yields a *domain.DegenerateError naming what.
func Normalize(v []float64, what string) ([]float64, error) {
	n := Norm(v)
	if n < Epsilon || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, &domain.DegenerateError{What: what, Norm: n}
	}
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] / n
	}
	return out, nil
}

// Add accumulates src into dst in place.
func Add(dst, src []float64) error {
	if len(dst) != len(src) {
		return fmt.Errorf("dimension mismatch: %d != %d", len(dst), len(src))
	}
	for i := range src {
		dst[i] += src[i]
	}
	return nil
}

// Scale multiplies v by f in place.
func Scale(v []float64, f float64) {
	for i := range v {
		v[i] *= f
	}
}

// Sum returns a fresh vector holding the elementwise sum of vs.
func Sum(vs ...[]float64) ([]float64, error) {
	if len(vs) == 0 {
		return nil, nil
	}
	out := make([]float64, len(vs[0]))
	for _, v := range vs {
		if err := Add(out, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Fuse sums the given unit vectors and renormalizes the result.
func Fuse(what string, vs ...[]float64) ([]float64, error) {
	sum, err := Sum(vs...)
	if err != nil {
		return nil, err
	}
	return Normalize(sum, what)
}
