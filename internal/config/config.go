package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/prototype"
)

// EncoderConfig selects and configures the multimodal encoder.
type EncoderConfig struct {
	Type        string `yaml:"type"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	Region      string `yaml:"region,omitempty"`
	Profile     string `yaml:"profile,omitempty"`
	BaseURL     string `yaml:"base_url,omitempty"`
	APIKeyEnv   string `yaml:"api_key_env,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	CacheSize   int    `yaml:"cache_size"`
}

// GeneratorConfig selects and configures the vision-capable text generator.
type GeneratorConfig struct {
	Type        string `yaml:"type"`
	Model       string `yaml:"model"`
	MaxTokens   int    `yaml:"max_tokens"`
	Region      string `yaml:"region,omitempty"`
	Profile     string `yaml:"profile,omitempty"`
	BaseURL     string `yaml:"base_url,omitempty"`
	APIKeyEnv   string `yaml:"api_key_env,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// BuilderConfig controls prototype construction.
type BuilderConfig struct {
	SamplesPerClass        int      `yaml:"samples_per_class"`
	DescriptionTemperature float64  `yaml:"description_temperature"`
	Templates              []string `yaml:"templates,omitempty"`
	Workers                int      `yaml:"workers"`
}

// ClassifierConfig controls inference.
type ClassifierConfig struct {
	PredictionTemperature  float64 `yaml:"prediction_temperature"`
	DescriptionTemperature float64 `yaml:"description_temperature"`
	Workers                int     `yaml:"workers"`
}

// StoreConfig selects where fitted models are kept: none, memory, file or qdrant.
type StoreConfig struct {
	Type   string        `yaml:"type"`
	Path   string        `yaml:"path,omitempty"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant collection.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Classes    []string         `yaml:"classes"`
	Encoder    EncoderConfig    `yaml:"encoder"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Builder    BuilderConfig    `yaml:"builder"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Store      StoreConfig      `yaml:"store"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/wdys/config.yaml.
// If neither exists, it writes defaults to ~/.config/wdys/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "wdys", "config.yaml"), nil
}

func defaultModelPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "model.json"
	}
	return filepath.Join(home, ".config", "wdys", "model.json")
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Classes: []string{"cardboard", "glass", "metal", "paper", "plastic", "trash"},
		Encoder: EncoderConfig{
			Type:        "bedrock",
			Model:       "amazon.titan-embed-image-v1",
			Dimension:   1024,
			Region:      "us-east-1",
			TimeoutSecs: 30,
			CacheSize:   4096,
		},
		Generator: GeneratorConfig{
			Type:        "bedrock",
			Model:       "anthropic.claude-3-sonnet-20240229-v1:0",
			MaxTokens:   512,
			Region:      "us-east-1",
			TimeoutSecs: 60,
		},
		Builder: BuilderConfig{
			SamplesPerClass:        5,
			DescriptionTemperature: 0.99,
			Workers:                1,
		},
		Classifier: ClassifierConfig{
			PredictionTemperature:  0.1,
			DescriptionTemperature: 0,
			Workers:                1,
		},
		Store: StoreConfig{Type: "file", Path: defaultModelPath()},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Encoder.TimeoutSecs == 0 {
		cfg.Encoder.TimeoutSecs = 30
	}
	if cfg.Generator.TimeoutSecs == 0 {
		cfg.Generator.TimeoutSecs = 60
	}
	if cfg.Generator.MaxTokens == 0 {
		cfg.Generator.MaxTokens = 512
	}
	if cfg.Encoder.Type == "openai" {
		if cfg.Encoder.BaseURL == "" {
			cfg.Encoder.BaseURL = "https://api.openai.com/v1"
		}
	}
	if cfg.Generator.Type == "openai" {
		if cfg.Generator.BaseURL == "" {
			cfg.Generator.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Generator.APIKeyEnv == "" && strings.Contains(cfg.Generator.BaseURL, "api.openai.com") {
			cfg.Generator.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if cfg.Store.Type == "file" && cfg.Store.Path == "" {
		cfg.Store.Path = defaultModelPath()
	}
	if cfg.Store.Type == "qdrant" && cfg.Store.Qdrant != nil {
		if cfg.Store.Qdrant.Collection == "" {
			cfg.Store.Qdrant.Collection = "wdys_prototypes"
		}
		if cfg.Store.Qdrant.TimeoutSecs == 0 {
			cfg.Store.Qdrant.TimeoutSecs = 15
		}
	}
}

// Validate reports the first configuration error found.
func (c *AppConfig) Validate() error {
	bad := func(field, format string, args ...any) error {
		return &domain.ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
	}
	switch c.Encoder.Type {
	case "bedrock", "openai":
	default:
		return bad("encoder.type", "unknown encoder %q", c.Encoder.Type)
	}
	if c.Encoder.Type == "openai" && c.Encoder.Dimension <= 0 {
		return bad("encoder.dimension", "must be positive")
	}
	switch c.Generator.Type {
	case "bedrock", "openai":
	default:
		return bad("generator.type", "unknown generator %q", c.Generator.Type)
	}
	nTemplates := len(c.Builder.Templates)
	if nTemplates == 0 {
		nTemplates = len(prototype.DefaultTemplates)
	}
	if k := c.Builder.SamplesPerClass; k < nTemplates || k%nTemplates != 0 {
		return bad("builder.samples_per_class", "%d is not a positive multiple of %d templates", k, nTemplates)
	}
	for _, temp := range []struct {
		field string
		v     float64
	}{
		{"builder.description_temperature", c.Builder.DescriptionTemperature},
		{"classifier.prediction_temperature", c.Classifier.PredictionTemperature},
		{"classifier.description_temperature", c.Classifier.DescriptionTemperature},
	} {
		if temp.v < 0 || temp.v > 1 {
			return bad(temp.field, "%g is outside [0, 1]", temp.v)
		}
	}
	switch c.Store.Type {
	case "", "none", "memory":
	case "file":
		if c.Store.Path == "" {
			return bad("store.path", "required for file store")
		}
	case "qdrant":
		if c.Store.Qdrant == nil || c.Store.Qdrant.URL == "" {
			return bad("store.qdrant.url", "required for qdrant store")
		}
	default:
		return bad("store.type", "unknown store %q", c.Store.Type)
	}
	return nil
}
