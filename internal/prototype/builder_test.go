package prototype

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/fake"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/vecmath"
)

func newBuilder(enc domain.Encoder, gen domain.Generator, k int, opts ...Option) *Builder {
	return NewBuilder(enc, gen, Config{SamplesPerClass: k, Temperature: DefaultTemperature}, opts...)
}

func TestBuildPrototypeCallCounts(t *testing.T) {
	tests := []struct {
		k          int
		wantGen    int
		wantEmbeds int
	}{
		{k: 5, wantGen: 5, wantEmbeds: 7},
		{k: 10, wantGen: 10, wantEmbeds: 12},
	}
	for _, tt := range tests {
		enc := fake.NewEncoder(8)
		gen := fake.NewGenerator()
		p, err := newBuilder(enc, gen, tt.k).BuildPrototype(context.Background(), "plastic")
		require.NoError(t, err)

		assert.Equal(t, "plastic", p.Class)
		assert.Len(t, p.Weight, 8)
		assert.InDelta(t, 1.0, vecmath.Norm(p.Weight), 1e-9)
		assert.Len(t, gen.Calls(), tt.wantGen)
		assert.Equal(t, tt.wantEmbeds, enc.TextCalls())
		assert.Zero(t, enc.ImageCalls())
	}
}

func TestBuildPrototypeSignals(t *testing.T) {
	enc := fake.NewEncoder(8)
	gen := fake.NewGenerator()
	_, err := newBuilder(enc, gen, 5).BuildPrototype(context.Background(), "metal")
	require.NoError(t, err)

	seen := enc.Seen()
	require.Len(t, seen, 7)
	assert.Equal(t, "metal", seen[0])
	assert.Equal(t, "A photo of metal", seen[1])

	calls := gen.Calls()
	for i, c := range calls {
		assert.Equal(t, domain.PromptText, c.Prompt.Kind)
		assert.Equal(t, Format(DefaultTemplates[i], "metal"), c.Prompt.Text)
		assert.Equal(t, DefaultTemperature, c.Temperature)
	}
}

func TestBuildPrototypeIsMeanOfDescriptions(t *testing.T) {
	enc := fake.NewEncoder(3)
	enc.Texts["cls"] = []float64{1, 0, 0}
	enc.Texts["A photo of cls"] = []float64{1, 0, 0}
	enc.Texts["a cls"] = []float64{0, 1, 0}
	enc.Texts["b cls"] = []float64{0, 0, 1}
	gen := &fake.Generator{Respond: func(p domain.Prompt, _ float64) (string, error) { return p.Text, nil }}

	b := NewBuilder(enc, gen, Config{SamplesPerClass: 4, Templates: []string{"a {class}", "b {class}"}})
	p, err := b.BuildPrototype(context.Background(), "cls")
	require.NoError(t, err)

	// identity + caption + mean(e2, e3, e2, e3) = (2, 0.5, 0.5)
	want, err := vecmath.Normalize([]float64{2, 0.5, 0.5}, "want")
	require.NoError(t, err)
	for i := range want {
		assert.InDelta(t, want[i], p.Weight[i], 1e-12)
	}
}

func TestBuildPrototypeRejectsBadBudget(t *testing.T) {
	for _, k := range []int{0, 3, 7, -5} {
		enc := fake.NewEncoder(8)
		gen := fake.NewGenerator()
		_, err := newBuilder(enc, gen, k).BuildPrototype(context.Background(), "paper")
		require.Error(t, err, "k=%d", k)
		assert.ErrorIs(t, err, domain.ErrConfig)
		assert.Zero(t, enc.TextCalls())
		assert.Empty(t, gen.Calls())
	}
}

func TestBuildClassifierConfigErrors(t *testing.T) {
	gen := fake.NewGenerator()

	_, err := newBuilder(fake.NewEncoder(8), gen, 5).BuildClassifier(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, err = newBuilder(fake.NewEncoder(8), gen, 5).BuildClassifier(context.Background(), []string{"a", "a"})
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, err = newBuilder(fake.NewEncoder(0), gen, 5).BuildClassifier(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, domain.ErrConfig)

	b := NewBuilder(fake.NewEncoder(8), gen, Config{SamplesPerClass: 5, Templates: []string{}})
	_, err = b.BuildClassifier(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, domain.ErrConfig)

	b = NewBuilder(fake.NewEncoder(8), gen, Config{SamplesPerClass: 1, Templates: []string{"no placeholder"}})
	_, err = b.BuildClassifier(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, domain.ErrConfig)

	assert.Empty(t, gen.Calls())
}

func TestBuildClassifierKeepsClassOrder(t *testing.T) {
	classes := []string{"plastic", "metal", "paper", "glass", "cardboard"}
	for _, workers := range []int{1, 3} {
		enc := fake.NewEncoder(16)
		gen := fake.NewGenerator()
		b := NewBuilder(enc, gen, Config{SamplesPerClass: 5, Temperature: DefaultTemperature, Workers: workers})
		m, err := b.BuildClassifier(context.Background(), classes)
		require.NoError(t, err)

		assert.Equal(t, classes, m.ClassNames())
		assert.Equal(t, 16, m.Dimension())
		for i := range classes {
			assert.InDelta(t, 1.0, vecmath.Norm(m.Prototype(i).Weight), 1e-9)
		}
		assert.Len(t, gen.Calls(), 25)
	}
}

func TestBuildClassifierBackendFailure(t *testing.T) {
	for _, workers := range []int{1, 2} {
		enc := fake.NewEncoder(8)
		boom := errors.New("throttled")
		enc.Fail = func(_, input string) error {
			if strings.Contains(input, "metal") {
				return boom
			}
			return nil
		}
		b := NewBuilder(enc, fake.NewGenerator(), Config{SamplesPerClass: 5, Workers: workers})
		m, err := b.BuildClassifier(context.Background(), []string{"plastic", "metal", "paper"})
		require.Error(t, err)
		assert.Nil(t, m)

		var ce *domain.ClassError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "metal", ce.Class)
		assert.ErrorIs(t, err, domain.ErrEmbeddingBackend)
		assert.ErrorIs(t, err, boom)
	}
}

func TestBuildPrototypeGenerationFailures(t *testing.T) {
	gen := &fake.Generator{Respond: func(domain.Prompt, float64) (string, error) { return "", errors.New("quota") }}
	_, err := newBuilder(fake.NewEncoder(8), gen, 5).BuildPrototype(context.Background(), "paper")
	assert.ErrorIs(t, err, domain.ErrGenerationBackend)

	gen = &fake.Generator{Respond: func(domain.Prompt, float64) (string, error) { return "  ", nil }}
	_, err = newBuilder(fake.NewEncoder(8), gen, 5).BuildPrototype(context.Background(), "paper")
	assert.ErrorIs(t, err, domain.ErrGenerationBackend)
}

func TestBuildPrototypeDimensionMismatch(t *testing.T) {
	enc := fake.NewEncoder(8)
	enc.Texts["paper"] = []float64{1, 0}
	_, err := newBuilder(enc, fake.NewGenerator(), 5).BuildPrototype(context.Background(), "paper")
	assert.ErrorIs(t, err, domain.ErrEmbeddingBackend)
}

func TestBuildPrototypeDegenerate(t *testing.T) {
	enc := fake.NewEncoder(3)
	enc.Texts["cls"] = []float64{1, 0, 0}
	enc.Texts["A photo of cls"] = []float64{-1, 0, 0}
	enc.Texts["a cls"] = []float64{0, 1, 0}
	enc.Texts["b cls"] = []float64{0, -1, 0}
	gen := &fake.Generator{Respond: func(p domain.Prompt, _ float64) (string, error) { return p.Text, nil }}

	b := NewBuilder(enc, gen, Config{SamplesPerClass: 2, Templates: []string{"a {class}", "b {class}"}})
	_, err := b.BuildPrototype(context.Background(), "cls")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDegenerate)
	assert.NotErrorIs(t, err, domain.ErrBackend)

	var ce *domain.ClassError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "cls", ce.Class)
}

func TestBuildClassifierCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := fake.NewGenerator()
	calls := 0
	gen.Respond = func(p domain.Prompt, _ float64) (string, error) {
		calls++
		if calls == 5 {
			cancel()
		}
		return p.Text, nil
	}
	m, err := newBuilder(fake.NewEncoder(8), gen, 10).BuildClassifier(ctx, []string{"plastic", "metal"})
	assert.Nil(t, m)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, calls)
}

func TestBuildClassifierProgress(t *testing.T) {
	var (
		mu     sync.Mutex
		events []domain.Progress
	)
	b := newBuilder(fake.NewEncoder(8), fake.NewGenerator(), 10, WithProgress(func(p domain.Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	}))
	_, err := b.BuildClassifier(context.Background(), []string{"plastic", "metal"})
	require.NoError(t, err)

	// per class: started, 2 rounds, done
	require.Len(t, events, 8)
	assert.Equal(t, domain.StageClassStarted, events[0].Stage)
	assert.Equal(t, domain.StageRoundDone, events[1].Stage)
	assert.Equal(t, 1, events[1].Round)
	assert.Equal(t, 2, events[2].Round)
	assert.Equal(t, domain.StageClassDone, events[3].Stage)
	assert.Equal(t, "metal", events[4].Class)
	assert.Equal(t, 2, events[4].ClassCount)
}
