// Package prototype builds per-class prototype vectors from three textual
// signals (the bare class name, a canonical caption and the mean embedding of
// many sampled LLM descriptions) and assembles them into a classifier model.
package prototype

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/model"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/vecmath"
)

// DefaultTemperature is close to the maximum so repeated samples of one template differ.
const DefaultTemperature = 0.99

// Config controls prototype construction.
type Config struct {
	// SamplesPerClass (k) must be a positive multiple of len(Templates).
	SamplesPerClass int
	Templates       []string
	Temperature     float64
	// Workers bounds how many classes are built at once; <= 1 is sequential.
	Workers int
}

// Option customizes a Builder.
type Option func(*Builder)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn domain.ProgressFunc) Option {
	return func(b *Builder) { b.progress = fn }
}

// Builder turns class names into prototypes using an Encoder and a Generator.
type Builder struct {
	encoder   domain.Encoder
	generator domain.Generator
	cfg       Config
	logger    *slog.Logger
	progress  domain.ProgressFunc
}

// NewBuilder creates a Builder. Missing templates default to DefaultTemplates.
func NewBuilder(encoder domain.Encoder, generator domain.Generator, cfg Config, opts ...Option) *Builder {
	if cfg.Templates == nil {
		cfg.Templates = DefaultTemplates
	}
	b := &Builder{
		encoder:   encoder,
		generator: generator,
		cfg:       cfg,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Validate checks the sampling budget, the template set and the encoder
// dimension. It makes no remote calls.
func (b *Builder) Validate() error {
	t := len(b.cfg.Templates)
	if t == 0 {
		return &domain.ConfigError{Field: "templates", Reason: "template set is empty"}
	}
	for i, tmpl := range b.cfg.Templates {
		if !strings.Contains(tmpl, Placeholder) {
			return &domain.ConfigError{Field: "templates", Reason: fmt.Sprintf("template %d has no %s placeholder", i, Placeholder)}
		}
	}
	k := b.cfg.SamplesPerClass
	if k < t || k%t != 0 {
		return &domain.ConfigError{
			Field:  "samples_per_class",
			Reason: fmt.Sprintf("%d is not a positive multiple of the template count %d", k, t),
		}
	}
	if b.encoder.Dimension() <= 0 {
		return &domain.ConfigError{Field: "encoder", Reason: "encoder reports zero dimension"}
	}
	return nil
}

// Rounds returns how many times every template is sampled per class.
func (b *Builder) Rounds() int {
	if len(b.cfg.Templates) == 0 {
		return 0
	}
	return b.cfg.SamplesPerClass / len(b.cfg.Templates)
}

// BuildPrototype builds the unit prototype vector of one class. Errors are
// wrapped in a *domain.ClassError naming class.
func (b *Builder) BuildPrototype(ctx context.Context, class string) (model.Prototype, error) {
	if err := b.Validate(); err != nil {
		return model.Prototype{}, err
	}
	return b.buildPrototype(ctx, class, 0, 1)
}

// BuildClassifier builds one prototype per class, in order. Any failure
// yields no model; the error names the failing class.
func (b *Builder) BuildClassifier(ctx context.Context, classes []string) (*model.Model, error) {
	if err := validateClasses(classes); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	b.logger.Info("building classifier",
		"classes", len(classes),
		"samples_per_class", b.cfg.SamplesPerClass,
		"templates", len(b.cfg.Templates),
		"encoder", b.encoder.Name(),
		"generator", b.generator.Name())

	protos := make([]model.Prototype, len(classes))
	if b.cfg.Workers <= 1 {
		for i, class := range classes {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			p, err := b.buildPrototype(ctx, class, i, len(classes))
			if err != nil {
				return nil, err
			}
			protos[i] = p
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.cfg.Workers)
		for i, class := range classes {
			g.Go(func() error {
				p, err := b.buildPrototype(gctx, class, i, len(classes))
				if err != nil {
					return err
				}
				protos[i] = p
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	m, err := model.New(protos)
	if err != nil {
		return nil, err
	}
	b.logger.Info("classifier built", "classes", m.NumClasses(), "dimension", m.Dimension(), "took", time.Since(start))
	return m, nil
}

func (b *Builder) buildPrototype(ctx context.Context, class string, index, count int) (model.Prototype, error) {
	if strings.TrimSpace(class) == "" {
		return model.Prototype{}, &domain.ConfigError{Field: "classes", Reason: "empty class name"}
	}
	b.emit(domain.Progress{Stage: domain.StageClassStarted, Class: class, ClassIndex: index, ClassCount: count, Rounds: b.Rounds()})
	b.logger.Info("building prototype", "class", class, "index", index)

	weight, err := b.prototypeVector(ctx, class, index, count)
	if err != nil {
		b.logger.Warn("prototype failed", "class", class, "error", err)
		return model.Prototype{}, &domain.ClassError{Class: class, Err: err}
	}
	b.emit(domain.Progress{Stage: domain.StageClassDone, Class: class, ClassIndex: index, ClassCount: count, Round: b.Rounds(), Rounds: b.Rounds()})
	return model.Prototype{Class: class, Weight: weight}, nil
}

func (b *Builder) prototypeVector(ctx context.Context, class string, index, count int) ([]float64, error) {
	identity, err := b.embed(ctx, class, "class name")
	if err != nil {
		return nil, err
	}
	caption, err := b.embed(ctx, Format(CaptionTemplate, class), "caption")
	if err != nil {
		return nil, err
	}
	mean, err := b.meanDescription(ctx, class, index, count)
	if err != nil {
		return nil, err
	}
	return vecmath.Fuse("prototype", identity, caption, mean)
}

// meanDescription folds k sampled description embeddings into a fresh
// accumulator and divides by k.
func (b *Builder) meanDescription(ctx context.Context, class string, index, count int) ([]float64, error) {
	rounds := b.Rounds()
	acc := make([]float64, b.encoder.Dimension())
	for round := 0; round < rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, tmpl := range b.cfg.Templates {
			text, err := b.generator.Generate(ctx, domain.TextPrompt(Format(tmpl, class)), b.cfg.Temperature)
			if err != nil {
				return nil, domain.WrapBackend(domain.OpGenerate, b.generator.Name(), err)
			}
			if strings.TrimSpace(text) == "" {
				return nil, domain.NewGenerationError(b.generator.Name(), errors.New("empty completion"))
			}
			vec, err := b.embed(ctx, text, "description")
			if err != nil {
				return nil, err
			}
			if err := vecmath.Add(acc, vec); err != nil {
				return nil, err
			}
		}
		b.logger.Debug("sampling round done", "class", class, "round", round+1, "rounds", rounds)
		b.emit(domain.Progress{Stage: domain.StageRoundDone, Class: class, ClassIndex: index, ClassCount: count, Round: round + 1, Rounds: rounds})
	}
	vecmath.Scale(acc, 1/float64(b.cfg.SamplesPerClass))
	return acc, nil
}

func (b *Builder) embed(ctx context.Context, text, what string) ([]float64, error) {
	vec, err := b.encoder.EmbedText(ctx, text)
	if err != nil {
		return nil, domain.WrapBackend(domain.OpEmbedText, b.encoder.Name(), err)
	}
	if len(vec) != b.encoder.Dimension() {
		return nil, domain.NewEmbeddingError(domain.OpEmbedText, b.encoder.Name(),
			fmt.Errorf("got %d values, want %d", len(vec), b.encoder.Dimension()))
	}
	return vecmath.Normalize(vec, what)
}

func (b *Builder) emit(p domain.Progress) {
	if b.progress != nil {
		b.progress(p)
	}
}

func validateClasses(classes []string) error {
	if len(classes) == 0 {
		return &domain.ConfigError{Field: "classes", Reason: "class list is empty"}
	}
	seen := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		if strings.TrimSpace(c) == "" {
			return &domain.ConfigError{Field: "classes", Reason: "empty class name"}
		}
		if _, dup := seen[c]; dup {
			return &domain.ConfigError{Field: "classes", Reason: fmt.Sprintf("duplicate class %q", c)}
		}
		seen[c] = struct{}{}
	}
	return nil
}
