package vecmath

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
)

func TestNormalize(t *testing.T) {
	v, err := Normalize([]float64{3, 4}, "test")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-12)
	assert.InDelta(t, 0.8, v[1], 1e-12)
	assert.InDelta(t, 1.0, Norm(v), 1e-12)
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := []float64{3, 4}
	_, err := Normalize(in, "test")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, in)
}

func TestNormalizeDegenerate(t *testing.T) {
	for name, v := range map[string][]float64{
		"zero": {0, 0, 0},
		"tiny": {1e-12, 0},
		"nan":  {math.NaN(), 1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(v, "query")
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrDegenerate))
			var de *domain.DegenerateError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, "query", de.What)
		})
	}
}

func TestSumAndFuse(t *testing.T) {
	s, err := Sum([]float64{1, 0}, []float64{0, 1}, []float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2}, s)

	f, err := Fuse("pair", []float64{1, 0}, []float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1/math.Sqrt2, f[0], 1e-12)
	assert.InDelta(t, 1.0, Norm(f), 1e-12)

	_, err = Fuse("opposite", []float64{1, 0}, []float64{-1, 0})
	assert.ErrorIs(t, err, domain.ErrDegenerate)
}

func TestAddDimensionMismatch(t *testing.T) {
	err := Add([]float64{1, 2}, []float64{1})
	assert.Error(t, err)
}

func TestScaleAndDot(t *testing.T) {
	v := []float64{2, 4}
	Scale(v, 0.5)
	assert.Equal(t, []float64{1, 2}, v)
	assert.Equal(t, 5.0, Dot(v, []float64{1, 2}))
}
