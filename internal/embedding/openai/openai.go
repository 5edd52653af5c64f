package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/retry"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Encoder.
// Images are sent as base64 data URIs, which multimodal servers such as
// CLIP-backed endpoints accept as an "image" input item.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
	retry     retry.Config
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Dimension int
	Timeout   time.Duration
	Retry     *retry.Config
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Dimension <= 0 {
		return nil, &domain.ConfigError{Field: "encoder.dimension", Reason: "must be set for openai encoders"}
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "clip-vit-large-patch14"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	rc := retry.DefaultConfig()
	if cfg.Retry != nil {
		rc = *cfg.Retry
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    key,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: t},
		retry:     rc,
	}, nil
}

// Name returns the identifier of this encoder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Dimension returns the dimensionality of the produced embedding vectors.
func (c *Client) Dimension() int { return c.dimension }

// EmbedText returns an embedding vector for the given text.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float64, error) {
	vec, err := c.embed(ctx, text)
	if err != nil {
		return nil, domain.NewEmbeddingError(domain.OpEmbedText, c.Name(), err)
	}
	return vec, nil
}

// EmbedImage returns an embedding vector for the given image.
func (c *Client) EmbedImage(ctx context.Context, image domain.Image) ([]float64, error) {
	if len(image.Data) == 0 {
		return nil, domain.NewEmbeddingError(domain.OpEmbedImage, c.Name(), errors.New("empty image"))
	}
	mediaType := image.MediaType
	if mediaType == "" {
		mediaType = http.DetectContentType(image.Data)
	}
	uri := "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(image.Data)
	vec, err := c.embed(ctx, []map[string]string{{"image": uri}})
	if err != nil {
		return nil, domain.NewEmbeddingError(domain.OpEmbedImage, c.Name(), err)
	}
	return vec, nil
}

func (c *Client) embed(ctx context.Context, input any) ([]float64, error) {
	type reqBody struct {
		Input any    `json:"input"`
		Model string `json:"model"`
	}
	data, err := json.Marshal(reqBody{Input: input, Model: c.model})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/embeddings", c.baseURL)
	return retry.DoValue(ctx, c.retry, func() ([]float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if retry.Retryable(resp.StatusCode) {
			retry.WaitRetryAfter(ctx, resp)
			return nil, fmt.Errorf("openai embeddings failed: %s", resp.Status)
		}
		if resp.StatusCode >= 300 {
			return nil, retry.Permanent(fmt.Errorf("openai embeddings failed: %s", resp.Status))
		}
		if err != nil {
			return nil, err
		}
		v, err := decodeEmbedding(payload)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		if len(v) != c.dimension {
			return nil, retry.Permanent(fmt.Errorf("embedding has %d values, want %d", len(v), c.dimension))
		}
		return v, nil
	})
}

// decodeEmbedding accepts the OpenAI response shape and the Ollama-native { "embedding": [...] }.
func decodeEmbedding(payload []byte) ([]float64, error) {
	var openaiOut struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil {
		if len(openaiOut.Data) > 0 && len(openaiOut.Data[0].Embedding) > 0 {
			return openaiOut.Data[0].Embedding, nil
		}
	}
	var ollamaOut struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil && len(ollamaOut.Embedding) > 0 {
		return ollamaOut.Embedding, nil
	}
	return nil, errors.New("no embedding returned")
}
