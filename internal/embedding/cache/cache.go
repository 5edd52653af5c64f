// Package cache memoizes text embeddings. Identical texts (class names,
// captions, repeated completions) embed to identical vectors, so the encoder
// is only asked once per distinct text.
package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
)

// DefaultSize is the number of texts kept.
const DefaultSize = 4096

// Encoder wraps another encoder with an LRU cache for EmbedText.
// Image embeddings pass through untouched.
type Encoder struct {
	next  domain.Encoder
	cache *lru.Cache[string, []float64]
}

// New wraps next. A size <= 0 uses DefaultSize.
func New(next domain.Encoder, size int) (*Encoder, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, err
	}
	return &Encoder{next: next, cache: c}, nil
}

func (e *Encoder) Name() string   { return e.next.Name() }
func (e *Encoder) Dimension() int { return e.next.Dimension() }

func (e *Encoder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	if v, ok := e.cache.Get(text); ok {
		return append([]float64(nil), v...), nil
	}
	v, err := e.next.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, append([]float64(nil), v...))
	return v, nil
}

func (e *Encoder) EmbedImage(ctx context.Context, image domain.Image) ([]float64, error) {
	return e.next.EmbedImage(ctx, image)
}

// Len returns the number of cached texts.
func (e *Encoder) Len() int { return e.cache.Len() }
