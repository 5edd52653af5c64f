// Package logging builds the process logger and decorates the remote
// collaborators so every call is logged with its latency.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
)

// New returns a logger writing to w. format is "text" or "json".
func New(level, format string, w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps debug, info, warn and error to slog levels. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

type encoderDecorator struct {
	next   domain.Encoder
	logger *slog.Logger
}

// NewEncoderDecorator logs every embedding call at debug level and every
// failure at warn level.
func NewEncoderDecorator(next domain.Encoder, logger *slog.Logger) domain.Encoder {
	return &encoderDecorator{next: next, logger: logger.With("encoder", next.Name())}
}

func (d *encoderDecorator) Name() string   { return d.next.Name() }
func (d *encoderDecorator) Dimension() int { return d.next.Dimension() }

func (d *encoderDecorator) EmbedText(ctx context.Context, text string) ([]float64, error) {
	t := time.Now()
	v, err := d.next.EmbedText(ctx, text)
	d.done(ctx, domain.OpEmbedText, t, err, "chars", len(text))
	return v, err
}

func (d *encoderDecorator) EmbedImage(ctx context.Context, image domain.Image) ([]float64, error) {
	t := time.Now()
	v, err := d.next.EmbedImage(ctx, image)
	d.done(ctx, domain.OpEmbedImage, t, err, "image", image.ID, "bytes", len(image.Data))
	return v, err
}

func (d *encoderDecorator) done(ctx context.Context, op string, start time.Time, err error, attrs ...any) {
	attrs = append(attrs, "op", op, "took", time.Since(start))
	if err != nil {
		d.logger.WarnContext(ctx, "embedding failed", append(attrs, "error", err)...)
		return
	}
	d.logger.DebugContext(ctx, "embedding done", attrs...)
}

type generatorDecorator struct {
	next   domain.Generator
	logger *slog.Logger
}

// NewGeneratorDecorator logs prompts and completions at debug level.
func NewGeneratorDecorator(next domain.Generator, logger *slog.Logger) domain.Generator {
	return &generatorDecorator{next: next, logger: logger.With("generator", next.Name())}
}

func (d *generatorDecorator) Name() string { return d.next.Name() }

func (d *generatorDecorator) Generate(ctx context.Context, prompt domain.Prompt, temperature float64) (string, error) {
	text := prompt.Text
	if prompt.Kind == domain.PromptImage {
		text = prompt.System
	}
	t := time.Now()
	out, err := d.next.Generate(ctx, prompt, temperature)
	attrs := []any{"prompt", text, "temperature", temperature, "took", time.Since(t)}
	if err != nil {
		d.logger.WarnContext(ctx, "generation failed", append(attrs, "error", err)...)
		return "", err
	}
	d.logger.DebugContext(ctx, "generation done", append(attrs, "response", out)...)
	return out, nil
}
