package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsbedrock "github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/bedrock"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/config"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	embbedrock "github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/embedding/bedrock"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/embedding/cache"
	embopenai "github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/embedding/openai"
	genbedrock "github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/generation/bedrock"
	genopenai "github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/generation/openai"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/logging"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/metrics"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/store"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/store/file"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/store/memory"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/store/qdrant"
)

// bedrockClients shares one runtime client per region and profile.
type bedrockClients map[string]awsbedrock.RuntimeClient

func (c bedrockClients) get(ctx context.Context, region, profile string, timeout time.Duration) (awsbedrock.RuntimeClient, error) {
	key := region + "|" + profile
	if rc, ok := c[key]; ok {
		return rc, nil
	}
	rc, err := awsbedrock.NewClient(ctx, awsbedrock.ClientConfig{Region: region, Profile: profile, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	c[key] = rc
	return rc, nil
}

// newEncoder builds the configured encoder wrapped as cache(logging(metrics(raw))),
// so only calls that reach the backend are logged and counted.
func newEncoder(ctx context.Context, cfg config.EncoderConfig, clients bedrockClients, m *metrics.Metrics, logger *slog.Logger) (domain.Encoder, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	var enc domain.Encoder
	switch cfg.Type {
	case "bedrock", "":
		rc, err := clients.get(ctx, cfg.Region, cfg.Profile, timeout)
		if err != nil {
			return nil, fmt.Errorf("bedrock client: %w", err)
		}
		titan, err := embbedrock.New(rc, embbedrock.Config{Model: cfg.Model, Dimension: cfg.Dimension})
		if err != nil {
			return nil, err
		}
		enc = titan
	case "openai":
		client, err := embopenai.NewClient(embopenai.Config{
			BaseURL:   cfg.BaseURL,
			APIKeyEnv: cfg.APIKeyEnv,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   timeout,
		})
		if err != nil {
			return nil, err
		}
		enc = client
	default:
		return nil, fmt.Errorf("unknown encoder: %s", cfg.Type)
	}
	if m != nil {
		enc = m.InstrumentEncoder(enc)
	}
	enc = logging.NewEncoderDecorator(enc, logger)
	if cfg.CacheSize > 0 {
		cached, err := cache.New(enc, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		enc = cached
	}
	return enc, nil
}

func newGenerator(ctx context.Context, cfg config.GeneratorConfig, clients bedrockClients, m *metrics.Metrics, logger *slog.Logger) (domain.Generator, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	var gen domain.Generator
	switch cfg.Type {
	case "bedrock", "":
		rc, err := clients.get(ctx, cfg.Region, cfg.Profile, timeout)
		if err != nil {
			return nil, fmt.Errorf("bedrock client: %w", err)
		}
		gen = genbedrock.New(rc, genbedrock.Config{Model: cfg.Model, MaxTokens: cfg.MaxTokens})
	case "openai":
		client, err := genopenai.NewClient(genopenai.Config{
			BaseURL:   cfg.BaseURL,
			APIKeyEnv: cfg.APIKeyEnv,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   timeout,
		})
		if err != nil {
			return nil, err
		}
		gen = client
	default:
		return nil, fmt.Errorf("unknown generator: %s", cfg.Type)
	}
	if m != nil {
		gen = m.InstrumentGenerator(gen)
	}
	return logging.NewGeneratorDecorator(gen, logger), nil
}

func newStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.NewStorage(), nil
	case "file":
		return file.New(cfg.Path), nil
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	}
	return nil, fmt.Errorf("unknown store: %s", cfg.Type)
}
