// Package config loads service configuration from an optional YAML file with
// environment variable overrides. The nutrition service URL is deliberately
// optional: the agent keeps answering (with degraded tool results) when the
// backing data service is not configured.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Provider identifiers accepted in Config.Provider.
const (
	ProviderBedrock   = "bedrock"
	ProviderAnthropic = "anthropic"
)

// DefaultModelID is the model used when none is configured.
const DefaultModelID = "us.anthropic.claude-3-5-haiku-20241022-v1:0"

// Config holds the runtime configuration for the nutrition agent service.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// NutritionServiceURL is the base URL of the pet nutrition data service.
	// Empty is valid: lookups return explanatory degraded results.
	NutritionServiceURL string `yaml:"nutrition_service_url"`

	// Provider selects the model backend: "bedrock" or "anthropic".
	Provider string `yaml:"provider"`

	// ModelID is the provider model identifier.
	ModelID string `yaml:"model_id"`

	// MaxTokens caps completion tokens per model call.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is the sampling temperature. Zero uses the provider default.
	Temperature float32 `yaml:"temperature"`

	// RateLimitTPM is the initial tokens-per-minute budget for the adaptive
	// rate limiter. Zero disables the limiter.
	RateLimitTPM float64 `yaml:"rate_limit_tpm"`

	// RateLimitMaxTPM is the rate limiter ceiling. Zero clamps to
	// RateLimitTPM.
	RateLimitMaxTPM float64 `yaml:"rate_limit_max_tpm"`

	// AnthropicAPIKey authenticates direct Anthropic API calls. Environment
	// only (ANTHROPIC_API_KEY); never read from the YAML file.
	AnthropicAPIKey string `yaml:"-"`

	// OTelCollectorAddr is the OTLP gRPC collector address. Empty disables
	// telemetry export.
	OTelCollectorAddr string `yaml:"otel_collector_addr"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		ListenAddr:   "0.0.0.0:8080",
		Provider:     ProviderBedrock,
		ModelID:      DefaultModelID,
		MaxTokens:    4096,
		RateLimitTPM: 60000,
	}
}

// Load builds the configuration by layering, in order: defaults, the YAML
// file at path (skipped when path is empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v, ok := os.LookupEnv("NUTRITION_SERVICE_URL"); ok {
		c.NutritionServiceURL = v
	}
	if v := os.Getenv("MODEL_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("MODEL_ID"); v != "" {
		c.ModelID = v
	}
	if v := os.Getenv("MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_TOKENS: %w", err)
		}
		c.MaxTokens = n
	}
	if v := os.Getenv("TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("TEMPERATURE: %w", err)
		}
		c.Temperature = float32(f)
	}
	if v := os.Getenv("RATE_LIMIT_TPM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_TPM: %w", err)
		}
		c.RateLimitTPM = f
	}
	if v := os.Getenv("RATE_LIMIT_MAX_TPM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_MAX_TPM: %w", err)
		}
		c.RateLimitMaxTPM = f
	}
	if v := os.Getenv("OTEL_COLLECTOR_ADDR"); v != "" {
		c.OTelCollectorAddr = v
	}
	c.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	return nil
}

// Validate checks configuration invariants after all layers are applied.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	switch c.Provider {
	case ProviderBedrock, ProviderAnthropic:
	default:
		return fmt.Errorf("provider must be %q or %q, got %q", ProviderBedrock, ProviderAnthropic, c.Provider)
	}
	if c.ModelID == "" {
		return fmt.Errorf("model_id is required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be in [0, 1], got %g", c.Temperature)
	}
	if c.Provider == ProviderAnthropic && c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when provider is %q", ProviderAnthropic)
	}
	return nil
}
