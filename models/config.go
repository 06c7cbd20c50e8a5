// Package models defines data structures for configuration, documents and jobs.
package models

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/llm-doc-summarizer/pkg/tokenizer"
)

const (
	DefaultConfigFile = "lds.yaml"

	MinTokenLimit     = 1000
	MaxTokenLimit     = 100000
	DefaultTokenLimit = 32000

	// PromptReserveTokens is held back from the context window for the prompt
	// text sent alongside a chunk or batch.
	PromptReserveTokens = 2000
)

// Config holds runtime configuration. Values come from the YAML file, then the
// environment, then CLI flags.
type Config struct {
	Provider string `yaml:"provider"` // openai | ollama
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	// Encoding is derived from Model when empty.
	Encoding string `yaml:"encoding"`

	// Credential is never read from the YAML file and never written anywhere.
	Credential string `yaml:"-"`

	ContextWindow      int     `yaml:"context_window"`
	InputTokenCeiling  int     `yaml:"input_token_ceiling"`
	OutputTokenCeiling int     `yaml:"output_token_ceiling"`
	Temperature        float32 `yaml:"temperature"`

	MaxConcurrent     int           `yaml:"max_concurrent"`
	MaxAttempts       int           `yaml:"max_attempts"`
	Backoff           time.Duration `yaml:"backoff"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`

	ShrinkRatio     float64 `yaml:"shrink_ratio"`
	MinTargetTokens int     `yaml:"min_target_tokens"`
	MaxPasses       int     `yaml:"max_passes"`

	SupportedLanguages    []string `yaml:"supported_languages"`
	MinLanguageConfidence float64  `yaml:"min_language_confidence"`

	FetchAttempts int           `yaml:"fetch_attempts"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	CacheDir      string        `yaml:"cache_dir"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`

	OutputDir string `yaml:"output_dir"`
	DBPath    string `yaml:"db_path"`
	Addr      string `yaml:"addr"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Provider:              "openai",
		Model:                 "gpt-4o-mini",
		ContextWindow:         128000,
		InputTokenCeiling:     110000,
		OutputTokenCeiling:    16000,
		Temperature:           0.3,
		MaxConcurrent:         2,
		MaxAttempts:           3,
		Backoff:               2 * time.Second,
		RequestTimeout:        2 * time.Minute,
		ShrinkRatio:           0.5,
		MinTargetTokens:       256,
		MaxPasses:             5,
		SupportedLanguages:    []string{"en"},
		MinLanguageConfidence: 0.5,
		FetchAttempts:         2,
		FetchTimeout:          30 * time.Second,
		CacheDir:              ".lds-cache",
		CacheTTL:              time.Hour,
		OutputDir:             "lds-results",
		DBPath:                "lds.db",
		Addr:                  ":8000",
	}
}

// LoadConfig reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	loadDotEnv()
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Provider = getEnv("LDS_PROVIDER", c.Provider)
	c.Model = getEnv("LDS_MODEL", c.Model)
	c.BaseURL = getEnv("LDS_BASE_URL", c.BaseURL)
	c.OutputDir = getEnv("LDS_OUTPUT_DIR", c.OutputDir)
	c.DBPath = getEnv("LDS_DB_PATH", c.DBPath)
	c.Credential = getEnv("LDS_API_KEY", getEnv("OPENAI_API_KEY", c.Credential))
	if c.Provider == "ollama" && c.BaseURL == "" {
		c.BaseURL = getEnv("OLLAMA_HOST", "")
	}

	if v := getEnv("LDS_MAX_CONCURRENT", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LDS_MAX_CONCURRENT %q: %w", v, err)
		}
		c.MaxConcurrent = n
	}
	if v := getEnv("LDS_REQUESTS_PER_MINUTE", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LDS_REQUESTS_PER_MINUTE %q: %w", v, err)
		}
		c.RequestsPerMinute = n
	}
	return nil
}

// Validate rejects configurations the pipeline cannot honour.
func (c Config) Validate() error {
	switch c.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.InputTokenCeiling <= 0 || c.OutputTokenCeiling <= 0 {
		return fmt.Errorf("token ceilings must be positive")
	}
	if c.OutputTokenCeiling > c.InputTokenCeiling {
		return fmt.Errorf("output_token_ceiling (%d) exceeds input_token_ceiling (%d)", c.OutputTokenCeiling, c.InputTokenCeiling)
	}
	if need := c.InputTokenCeiling + c.OutputTokenCeiling + PromptReserveTokens; c.ContextWindow > 0 && need > c.ContextWindow {
		return fmt.Errorf("input_token_ceiling (%d) plus output_token_ceiling (%d) plus %d prompt tokens exceeds context_window (%d)",
			c.InputTokenCeiling, c.OutputTokenCeiling, PromptReserveTokens, c.ContextWindow)
	}
	if known, ok := tokenizer.EncodingForModel(c.Model); ok {
		if c.Encoding != "" && c.Encoding != known {
			return fmt.Errorf("encoding %q does not match model %q, which uses %q", c.Encoding, c.Model, known)
		}
	} else if c.Encoding == "" {
		return fmt.Errorf("encoding is required for model %q", c.Model)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.ShrinkRatio <= 0 || c.ShrinkRatio >= 1 {
		return fmt.Errorf("shrink_ratio must be between 0 and 1, got %v", c.ShrinkRatio)
	}
	if c.MaxPasses < 1 {
		return fmt.Errorf("max_passes must be at least 1")
	}
	if c.MinTargetTokens < 1 {
		return fmt.Errorf("min_target_tokens must be at least 1")
	}
	return nil
}

// loadDotEnv sets variables from a local .env without overriding the real environment.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if _, exists := os.LookupEnv(k); !exists {
			os.Setenv(k, strings.Trim(strings.TrimSpace(v), `"'`))
		}
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
