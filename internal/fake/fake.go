// Package fake provides deterministic in-memory Encoder and Generator
// implementations for tests and offline runs.
package fake

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sync"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
)

// Encoder hashes text into a repeatable unit vector unless an explicit vector
// is registered. It is safe for concurrent use.
type Encoder struct {
	Dim int
	// Texts and Images override the hashed vectors.
	Texts  map[string][]float64
	Images map[string][]float64
	// Fail, when set, is consulted before every call; a non-nil result is returned as the error.
	Fail func(op, input string) error

	mu         sync.Mutex
	textCalls  int
	imageCalls int
	seen       []string
}

// NewEncoder returns an Encoder of dimension dim.
func NewEncoder(dim int) *Encoder {
	return &Encoder{Dim: dim, Texts: map[string][]float64{}, Images: map[string][]float64{}}
}

func (e *Encoder) Name() string   { return "fake" }
func (e *Encoder) Dimension() int { return e.Dim }

func (e *Encoder) EmbedText(_ context.Context, text string) ([]float64, error) {
	e.mu.Lock()
	e.textCalls++
	e.seen = append(e.seen, text)
	e.mu.Unlock()
	if e.Fail != nil {
		if err := e.Fail(domain.OpEmbedText, text); err != nil {
			return nil, err
		}
	}
	if v, ok := e.Texts[text]; ok {
		return append([]float64(nil), v...), nil
	}
	return HashVector(text, e.Dim), nil
}

func (e *Encoder) EmbedImage(_ context.Context, image domain.Image) ([]float64, error) {
	e.mu.Lock()
	e.imageCalls++
	e.mu.Unlock()
	if e.Fail != nil {
		if err := e.Fail(domain.OpEmbedImage, image.ID); err != nil {
			return nil, err
		}
	}
	if v, ok := e.Images[image.ID]; ok {
		return append([]float64(nil), v...), nil
	}
	return HashVector(string(image.Data), e.Dim), nil
}

// TextCalls returns how many EmbedText calls were made.
func (e *Encoder) TextCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.textCalls
}

// ImageCalls returns how many EmbedImage calls were made.
func (e *Encoder) ImageCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.imageCalls
}

// Seen returns every text embedded so far, in call order.
func (e *Encoder) Seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.seen...)
}

// Call records one Generate invocation.
type Call struct {
	Prompt      domain.Prompt
	Temperature float64
}

// Generator answers from a function of the prompt. It is safe for concurrent use.
type Generator struct {
	Respond func(prompt domain.Prompt, temperature float64) (string, error)

	mu    sync.Mutex
	calls []Call
}

// NewGenerator echoes text prompts and returns a fixed caption for image prompts.
func NewGenerator() *Generator {
	return &Generator{Respond: func(p domain.Prompt, _ float64) (string, error) {
		if p.Kind == domain.PromptImage {
			return "an object", nil
		}
		return "about " + p.Text, nil
	}}
}

func (g *Generator) Name() string { return "fake" }

func (g *Generator) Generate(_ context.Context, prompt domain.Prompt, temperature float64) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, Call{Prompt: prompt, Temperature: temperature})
	g.mu.Unlock()
	if g.Respond == nil {
		return "", errors.New("fake generator has no responder")
	}
	return g.Respond(prompt, temperature)
}

// Calls returns the recorded invocations.
func (g *Generator) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// HashVector derives a unit vector of length dim from s.
func HashVector(s string, dim int) []float64 {
	v := make([]float64, dim)
	norm := 0.0
	for i := range v {
		h := fnv.New64a()
		_, _ = h.Write([]byte{byte(i), byte(i >> 8)})
		_, _ = h.Write([]byte(s))
		v[i] = float64(h.Sum64()%2001)/1000 - 1
		norm += v[i] * v[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0], norm = 1, 1
	}
	for i := range v {
		v[i] /= norm
	}
	return v
}
