// Package bedrock implements domain.Generator with Anthropic Claude models
// served by AWS Bedrock through the messages API.
package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	awsbedrock "github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/bedrock"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
)

const (
	DefaultModel     = "anthropic.claude-3-sonnet-20240229-v1:0"
	DefaultMaxTokens = 512
	anthropicVersion = "bedrock-2023-05-31"
)

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	System           string    `json:"system,omitempty"`
	Messages         []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Config configures the generator.
type Config struct {
	Model     string
	MaxTokens int
}

// Generator is a Claude-on-Bedrock client.
type Generator struct {
	client    awsbedrock.RuntimeClient
	model     string
	maxTokens int
}

// New creates a Generator over client.
func New(client awsbedrock.RuntimeClient, cfg Config) *Generator {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Generator{client: client, model: cfg.Model, maxTokens: cfg.MaxTokens}
}

// Name returns the identifier of this generator implementation.
func (g *Generator) Name() string { return "bedrock:" + g.model }

// Generate sends one single-turn request. Image prompts carry the system
// prompt and a user turn holding only the image.
func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt, temperature float64) (string, error) {
	req, err := g.request(prompt, temperature)
	if err != nil {
		return "", domain.NewGenerationError(g.Name(), err)
	}
	text, err := g.invoke(ctx, req)
	if err != nil {
		return "", domain.NewGenerationError(g.Name(), err)
	}
	return text, nil
}

func (g *Generator) request(prompt domain.Prompt, temperature float64) (messagesRequest, error) {
	req := messagesRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        g.maxTokens,
		Temperature:      temperature,
	}
	switch prompt.Kind {
	case domain.PromptText:
		if strings.TrimSpace(prompt.Text) == "" {
			return req, errors.New("empty prompt")
		}
		req.Messages = []message{{Role: "user", Content: []contentBlock{{Type: "text", Text: prompt.Text}}}}
	case domain.PromptImage:
		if len(prompt.Image.Data) == 0 {
			return req, errors.New("empty image")
		}
		mediaType := prompt.Image.MediaType
		if mediaType == "" {
			mediaType = http.DetectContentType(prompt.Image.Data)
		}
		req.System = prompt.System
		req.Messages = []message{{Role: "user", Content: []contentBlock{{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      base64.StdEncoding.EncodeToString(prompt.Image.Data),
			},
		}}}}
	default:
		return req, fmt.Errorf("unknown prompt kind %d", prompt.Kind)
	}
	return req, nil
}

func (g *Generator) invoke(ctx context.Context, req messagesRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to invoke model: %w", err)
	}
	var out messagesResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("failed to parse Claude response: %w", err)
	}
	var sb strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errors.New("no text in response")
	}
	return text, nil
}
