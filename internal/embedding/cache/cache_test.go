package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/fake"
)

func TestCachesText(t *testing.T) {
	inner := fake.NewEncoder(4)
	enc, err := New(inner, 2)
	require.NoError(t, err)

	a1, err := enc.EmbedText(context.Background(), "metal")
	require.NoError(t, err)
	a2, err := enc.EmbedText(context.Background(), "metal")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Equal(t, 1, inner.TextCalls())

	a2[0] = 99
	a3, _ := enc.EmbedText(context.Background(), "metal")
	assert.Equal(t, a1, a3, "callers cannot corrupt the cache")

	_, _ = enc.EmbedText(context.Background(), "paper")
	_, _ = enc.EmbedText(context.Background(), "glass")
	assert.Equal(t, 2, enc.Len())
	assert.Equal(t, "fake", enc.Name())
	assert.Equal(t, 4, enc.Dimension())
}

func TestErrorsAreNotCached(t *testing.T) {
	inner := fake.NewEncoder(4)
	fail := true
	inner.Fail = func(string, string) error {
		if fail {
			return errors.New("down")
		}
		return nil
	}
	enc, err := New(inner, 0)
	require.NoError(t, err)

	_, err = enc.EmbedText(context.Background(), "metal")
	assert.Error(t, err)
	fail = false
	_, err = enc.EmbedText(context.Background(), "metal")
	assert.NoError(t, err)
	assert.Equal(t, 2, inner.TextCalls())
}

func TestImagesPassThrough(t *testing.T) {
	inner := fake.NewEncoder(4)
	enc, err := New(inner, 8)
	require.NoError(t, err)
	img := domain.Image{ID: "i", Data: []byte{1}}
	_, _ = enc.EmbedImage(context.Background(), img)
	_, _ = enc.EmbedImage(context.Background(), img)
	assert.Equal(t, 2, inner.ImageCalls())
}
