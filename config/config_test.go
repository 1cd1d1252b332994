package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", cfg.ListenAddr)
	require.Equal(t, ProviderBedrock, cfg.Provider)
	require.Equal(t, DefaultModelID, cfg.ModelID)
	require.Equal(t, 4096, cfg.MaxTokens)
	require.Equal(t, float64(60000), cfg.RateLimitTPM)
	require.Empty(t, cfg.NutritionServiceURL)
}

func TestLoad_File(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr: "127.0.0.1:9090"
nutrition_service_url: "http://nutrition:8081"
model_id: "model-x"
max_tokens: 1024
temperature: 0.5
rate_limit_tpm: 30000
rate_limit_max_tpm: 90000
otel_collector_addr: "collector:4317"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9090", cfg.ListenAddr)
	require.Equal(t, "http://nutrition:8081", cfg.NutritionServiceURL)
	require.Equal(t, "model-x", cfg.ModelID)
	require.Equal(t, 1024, cfg.MaxTokens)
	require.Equal(t, float32(0.5), cfg.Temperature)
	require.Equal(t, float64(30000), cfg.RateLimitTPM)
	require.Equal(t, float64(90000), cfg.RateLimitMaxTPM)
	require.Equal(t, "collector:4317", cfg.OTelCollectorAddr)
	// Unset fields keep their defaults.
	require.Equal(t, ProviderBedrock, cfg.Provider)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config file")
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfigFile(t, "listen_addr: [")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config file")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr: "127.0.0.1:9090"
nutrition_service_url: "http://from-file:8081"
`)
	t.Setenv("LISTEN_ADDR", "0.0.0.0:7070")
	t.Setenv("NUTRITION_SERVICE_URL", "http://from-env:8081")
	t.Setenv("MODEL_ID", "model-env")
	t.Setenv("MAX_TOKENS", "2048")
	t.Setenv("TEMPERATURE", "0.25")
	t.Setenv("RATE_LIMIT_TPM", "15000")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:7070", cfg.ListenAddr)
	require.Equal(t, "http://from-env:8081", cfg.NutritionServiceURL)
	require.Equal(t, "model-env", cfg.ModelID)
	require.Equal(t, 2048, cfg.MaxTokens)
	require.Equal(t, float32(0.25), cfg.Temperature)
	require.Equal(t, float64(15000), cfg.RateLimitTPM)
}

func TestLoad_EmptyNutritionURLEnvClearsFileValue(t *testing.T) {
	// Setting NUTRITION_SERVICE_URL to the empty string is an explicit
	// opt-out, not an unset variable.
	path := writeConfigFile(t, `nutrition_service_url: "http://from-file:8081"`)
	t.Setenv("NUTRITION_SERVICE_URL", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Empty(t, cfg.NutritionServiceURL)
}

func TestLoad_BadNumericEnv(t *testing.T) {
	t.Setenv("MAX_TOKENS", "lots")
	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "MAX_TOKENS")
}

func TestLoad_AnthropicRequiresAPIKey(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", ProviderAnthropic)
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ANTHROPIC_API_KEY")

	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ProviderAnthropic, cfg.Provider)
	require.Equal(t, "sk-test", cfg.AnthropicAPIKey)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }, "listen_addr"},
		{"unknown provider", func(c *Config) { c.Provider = "gemini" }, "provider"},
		{"empty model", func(c *Config) { c.ModelID = "" }, "model_id"},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }, "max_tokens"},
		{"temperature too high", func(c *Config) { c.Temperature = 1.5 }, "temperature"},
		{"negative temperature", func(c *Config) { c.Temperature = -0.1 }, "temperature"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
