// Package classifier classifies a single image against a fitted model by
// fusing the image embedding with embeddings of two generated texts: a
// label-constrained prediction and a label-free description.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/model"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/vecmath"
)

const (
	// DefaultPredictionTemperature is small but not zero.
	DefaultPredictionTemperature = 0.1
	// DefaultDescriptionTemperature is fully deterministic.
	DefaultDescriptionTemperature = 0.0
	// LabelsPlaceholder is replaced with the comma-separated candidate labels.
	LabelsPlaceholder = "{labels}"

	DefaultPredictionPrompt = "You are an image classifier. Look at the image and decide which of the following " +
		"candidate labels best matches the depicted object: " + LabelsPlaceholder + ". " +
		"Answer with the single best-matching label and a short justification."
	DefaultDescriptionPrompt = "What do you see? Describe the depicted object, including its type or class."
)

// Config controls inference.
type Config struct {
	PredictionTemperature  float64
	DescriptionTemperature float64
	PredictionPrompt       string
	DescriptionPrompt      string
	// Workers bounds concurrent images in ClassifyBatch; <= 1 is sequential.
	Workers int
}

// DefaultConfig returns the standard prompts and temperatures.
func DefaultConfig() Config {
	return Config{
		PredictionTemperature:  DefaultPredictionTemperature,
		DescriptionTemperature: DefaultDescriptionTemperature,
		PredictionPrompt:       DefaultPredictionPrompt,
		DescriptionPrompt:      DefaultDescriptionPrompt,
	}
}

// Result is the outcome of classifying one image.
type Result struct {
	ImageID     string
	Class       string
	Index       int
	Scores      []float64
	Ranking     []model.Score
	Prediction  string
	Description string
	Query       []float64
}

// Classifier runs inference. It holds no per-call state and may be shared.
type Classifier struct {
	encoder   domain.Encoder
	generator domain.Generator
	cfg       Config
	logger    *slog.Logger
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Classifier. Empty prompts fall back to the defaults.
func New(encoder domain.Encoder, generator domain.Generator, cfg Config, opts ...Option) *Classifier {
	if cfg.PredictionPrompt == "" {
		cfg.PredictionPrompt = DefaultPredictionPrompt
	}
	if cfg.DescriptionPrompt == "" {
		cfg.DescriptionPrompt = DefaultDescriptionPrompt
	}
	c := &Classifier{
		encoder:   encoder,
		generator: generator,
		cfg:       cfg,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PredictionPrompt renders the label-constrained question for labels.
func (c *Classifier) PredictionPrompt(labels []string) string {
	return strings.ReplaceAll(c.cfg.PredictionPrompt, LabelsPlaceholder, strings.Join(labels, ", "))
}

// Classify scores image against every prototype of m and returns the best
// class. labelHint, when non-empty, replaces m's class names in the
// prediction prompt. m is never modified. Errors are wrapped in a
// *domain.ImageError.
func (c *Classifier) Classify(ctx context.Context, image domain.Image, m *model.Model, labelHint ...string) (*Result, error) {
	if image.ID == "" {
		image.ID = uuid.NewString()
	}
	res, err := c.classify(ctx, image, m, labelHint)
	if err != nil {
		c.logger.Warn("classification failed", "image", image.ID, "error", err)
		return nil, &domain.ImageError{ImageID: image.ID, Err: err}
	}
	return res, nil
}

func (c *Classifier) classify(ctx context.Context, image domain.Image, m *model.Model, labelHint []string) (*Result, error) {
	if m == nil || m.NumClasses() == 0 {
		return nil, &domain.ConfigError{Field: "model", Reason: "no classifier model"}
	}
	if c.encoder.Dimension() != m.Dimension() {
		return nil, &domain.ConfigError{
			Field:  "encoder",
			Reason: fmt.Sprintf("encoder dimension %d does not match model dimension %d", c.encoder.Dimension(), m.Dimension()),
		}
	}
	if len(image.Data) == 0 {
		return nil, &domain.ConfigError{Field: "image", Reason: "empty image data"}
	}
	labels := labelHint
	if len(labels) == 0 {
		labels = m.ClassNames()
	}
	start := time.Now()

	imageVec, err := c.encoder.EmbedImage(ctx, image)
	if err != nil {
		return nil, domain.WrapBackend(domain.OpEmbedImage, c.encoder.Name(), err)
	}
	if imageVec, err = c.unit(imageVec, domain.OpEmbedImage, "image"); err != nil {
		return nil, err
	}

	prediction, err := c.generate(ctx, domain.ImagePrompt(c.PredictionPrompt(labels), image), c.cfg.PredictionTemperature)
	if err != nil {
		return nil, err
	}
	predictionVec, err := c.embedText(ctx, prediction, "prediction")
	if err != nil {
		return nil, err
	}

	description, err := c.generate(ctx, domain.ImagePrompt(c.cfg.DescriptionPrompt, image), c.cfg.DescriptionTemperature)
	if err != nil {
		return nil, err
	}
	descriptionVec, err := c.embedText(ctx, description, "description")
	if err != nil {
		return nil, err
	}

	query, err := vecmath.Fuse("query", imageVec, predictionVec, descriptionVec)
	if err != nil {
		return nil, err
	}
	scores, err := m.Scores(query)
	if err != nil {
		return nil, err
	}
	best := model.Argmax(scores)
	res := &Result{
		ImageID:     image.ID,
		Class:       m.ClassNames()[best],
		Index:       best,
		Scores:      scores,
		Ranking:     m.Rank(scores),
		Prediction:  prediction,
		Description: description,
		Query:       query,
	}
	c.logger.Info("image classified",
		"image", image.ID,
		"class", res.Class,
		"score", scores[best],
		"took", time.Since(start))
	c.logger.Debug("classification detail", "image", image.ID, "scores", scores, "prediction", prediction, "description", description)
	return res, nil
}

func (c *Classifier) generate(ctx context.Context, prompt domain.Prompt, temperature float64) (string, error) {
	text, err := c.generator.Generate(ctx, prompt, temperature)
	if err != nil {
		return "", domain.WrapBackend(domain.OpGenerate, c.generator.Name(), err)
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.NewGenerationError(c.generator.Name(), errors.New("empty completion"))
	}
	return text, nil
}

func (c *Classifier) embedText(ctx context.Context, text, what string) ([]float64, error) {
	vec, err := c.encoder.EmbedText(ctx, text)
	if err != nil {
		return nil, domain.WrapBackend(domain.OpEmbedText, c.encoder.Name(), err)
	}
	return c.unit(vec, domain.OpEmbedText, what)
}

func (c *Classifier) unit(vec []float64, op, what string) ([]float64, error) {
	if len(vec) != c.encoder.Dimension() {
		return nil, domain.NewEmbeddingError(op, c.encoder.Name(),
			fmt.Errorf("got %d values, want %d", len(vec), c.encoder.Dimension()))
	}
	return vecmath.Normalize(vec, what)
}

// BatchItem is the outcome for one image of a batch.
type BatchItem struct {
	Image  domain.Image
	Result *Result
	Err    error
}

// ClassifyBatch classifies every image against m. A failing image only
// fails its own item. Cancellation stops images that have not started.
func (c *Classifier) ClassifyBatch(ctx context.Context, images []domain.Image, m *model.Model) []BatchItem {
	items := make([]BatchItem, len(images))
	workers := c.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, img := range images {
		if img.ID == "" {
			img.ID = uuid.NewString()
		}
		items[i].Image = img
		if err := ctx.Err(); err != nil {
			items[i].Err = &domain.ImageError{ImageID: img.ID, Err: err}
			continue
		}
		g.Go(func() error {
			items[i].Result, items[i].Err = c.Classify(ctx, img, m)
			return nil
		})
	}
	_ = g.Wait()
	return items
}
