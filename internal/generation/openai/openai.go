// Package openai implements domain.Generator against an OpenAI-compatible
// /chat/completions endpoint (OpenAI, Ollama, vLLM, LM Studio).
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
	"strings"
	"time"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/retry"
)

// Client is a chat completions client.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
	retry     retry.Config
}

// Config configures the chat completions client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Retry     *retry.Config
}

// NewClient creates a new chat client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
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
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	rc := retry.DefaultConfig()
	if cfg.Retry != nil {
		rc = *cfg.Retry
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    key,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    &http.Client{Timeout: t},
		retry:     rc,
	}, nil
}

// Name returns the identifier of this generator implementation.
func (c *Client) Name() string { return "openai:" + c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// Generate sends a single-turn chat request.
func (c *Client) Generate(ctx context.Context, prompt domain.Prompt, temperature float64) (string, error) {
	msgs, err := messages(prompt)
	if err != nil {
		return "", domain.NewGenerationError(c.Name(), err)
	}
	text, err := c.complete(ctx, msgs, temperature)
	if err != nil {
		return "", domain.NewGenerationError(c.Name(), err)
	}
	return text, nil
}

func messages(prompt domain.Prompt) ([]chatMessage, error) {
	switch prompt.Kind {
	case domain.PromptText:
		if strings.TrimSpace(prompt.Text) == "" {
			return nil, errors.New("empty prompt")
		}
		return []chatMessage{{Role: "user", Content: prompt.Text}}, nil
	case domain.PromptImage:
		if len(prompt.Image.Data) == 0 {
			return nil, errors.New("empty image")
		}
		mediaType := prompt.Image.MediaType
		if mediaType == "" {
			mediaType = http.DetectContentType(prompt.Image.Data)
		}
		uri := "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(prompt.Image.Data)
		var msgs []chatMessage
		if prompt.System != "" {
			msgs = append(msgs, chatMessage{Role: "system", Content: prompt.System})
		}
		msgs = append(msgs, chatMessage{Role: "user", Content: []contentPart{{Type: "image_url", ImageURL: &imageURL{URL: uri}}}})
		return msgs, nil
	}
	return nil, fmt.Errorf("unknown prompt kind %d", prompt.Kind)
}

func (c *Client) complete(ctx context.Context, msgs []chatMessage, temperature float64) (string, error) {
	type reqBody struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		Temperature float64       `json:"temperature"`
		MaxTokens   int           `json:"max_tokens"`
	}
	data, err := json.Marshal(reqBody{Model: c.model, Messages: msgs, Temperature: temperature, MaxTokens: c.maxTokens})
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	return retry.DoValue(ctx, c.retry, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return "", retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return "", err
		}
		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if retry.Retryable(resp.StatusCode) {
			retry.WaitRetryAfter(ctx, resp)
			return "", fmt.Errorf("chat completion failed: %s", resp.Status)
		}
		if resp.StatusCode >= 300 {
			return "", retry.Permanent(fmt.Errorf("chat completion failed: %s", resp.Status))
		}
		if err != nil {
			return "", err
		}
		var out struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			return "", retry.Permanent(fmt.Errorf("malformed chat response: %w", err))
		}
		if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
			return "", retry.Permanent(errors.New("no completion returned"))
		}
		return strings.TrimSpace(out.Choices[0].Message.Content), nil
	})
}
