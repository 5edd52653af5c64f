// Package bedrock implements domain.Encoder with Amazon Titan multimodal
// embeddings served by AWS Bedrock.
package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	awsbedrock "github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/bedrock"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
)

const (
	// DefaultModel embeds both text and images into one space.
	DefaultModel = "amazon.titan-embed-image-v1"
	// DefaultDimension is the largest output length Titan multimodal supports.
	DefaultDimension = 1024
)

var supportedDimensions = map[int]struct{}{256: {}, 384: {}, 1024: {}}

type titanRequest struct {
	InputText       string               `json:"inputText,omitempty"`
	InputImage      string               `json:"inputImage,omitempty"`
	EmbeddingConfig titanEmbeddingConfig `json:"embeddingConfig"`
}

type titanEmbeddingConfig struct {
	OutputEmbeddingLength int `json:"outputEmbeddingLength"`
}

type titanResponse struct {
	Embedding           []float64 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
	Message             string    `json:"message"`
}

// Config configures the encoder.
type Config struct {
	Model     string
	Dimension int
}

// Encoder is a Titan multimodal embeddings client.
type Encoder struct {
	client    awsbedrock.RuntimeClient
	model     string
	dimension int
}

// New creates an Encoder over client.
func New(client awsbedrock.RuntimeClient, cfg Config) (*Encoder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = DefaultDimension
	}
	if _, ok := supportedDimensions[cfg.Dimension]; !ok {
		return nil, &domain.ConfigError{Field: "encoder.dimension", Reason: fmt.Sprintf("titan does not support %d", cfg.Dimension)}
	}
	return &Encoder{client: client, model: cfg.Model, dimension: cfg.Dimension}, nil
}

// Name returns the identifier of this encoder implementation.
func (e *Encoder) Name() string { return "bedrock:" + e.model }

// Dimension returns the configured output embedding length.
func (e *Encoder) Dimension() int { return e.dimension }

// EmbedText embeds a text string.
func (e *Encoder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, domain.NewEmbeddingError(domain.OpEmbedText, e.Name(), errors.New("empty text"))
	}
	vec, err := e.invoke(ctx, titanRequest{InputText: text})
	if err != nil {
		return nil, domain.NewEmbeddingError(domain.OpEmbedText, e.Name(), err)
	}
	return vec, nil
}

// EmbedImage embeds raw image bytes (JPEG or PNG).
func (e *Encoder) EmbedImage(ctx context.Context, image domain.Image) ([]float64, error) {
	if len(image.Data) == 0 {
		return nil, domain.NewEmbeddingError(domain.OpEmbedImage, e.Name(), errors.New("empty image"))
	}
	vec, err := e.invoke(ctx, titanRequest{InputImage: base64.StdEncoding.EncodeToString(image.Data)})
	if err != nil {
		return nil, domain.NewEmbeddingError(domain.OpEmbedImage, e.Name(), err)
	}
	return vec, nil
}

func (e *Encoder) invoke(ctx context.Context, req titanRequest) ([]float64, error) {
	req.EmbeddingConfig.OutputEmbeddingLength = e.dimension
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke model: %w", err)
	}
	var out titanResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Message != "" && len(out.Embedding) == 0 {
		return nil, fmt.Errorf("titan: %s", out.Message)
	}
	if len(out.Embedding) != e.dimension {
		return nil, fmt.Errorf("titan returned %d values, want %d", len(out.Embedding), e.dimension)
	}
	return out.Embedding, nil
}
