// Package config holds the run configuration: a YAML file layered over
// defaults, with environment-variable overrides for API keys.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"brandaudit/internal/embedding"
	"brandaudit/internal/fetcher"
	"brandaudit/internal/llm"
	"brandaudit/internal/vectorstore"
)

// Config holds all audit run configuration.
type Config struct {
	// PrimaryDomain anchors tier classification (e.g. "corp.example.com").
	PrimaryDomain string `yaml:"primary_domain"`

	// Parallelism bounds concurrent page audits.
	Parallelism int `yaml:"parallelism"`

	// TopOpportunities caps the ranked opportunity list in aggregates.
	TopOpportunities int `yaml:"top_opportunities"`

	// MethodologyPath overrides the embedded criteria catalogue.
	MethodologyPath string `yaml:"methodology_path"`

	Fetch     FetchConfig        `yaml:"fetch"`
	LLM       LLMConfig          `yaml:"llm"`
	Embedding EmbeddingConfig    `yaml:"embedding"`
	Vectors   vectorstore.Config `yaml:"vector_store"`
}

// FetchConfig configures the page fetcher. Durations are strings so the
// YAML stays human-editable ("30s", "1m").
type FetchConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
	Timeout     string `yaml:"timeout"`
	MaxPerHost  int    `yaml:"max_per_host"`
	UserAgent   string `yaml:"user_agent"`
}

// LLMConfig configures the scoring provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, anthropic
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     string  `yaml:"timeout"`
	MaxRetries  int     `yaml:"max_retries"`
}

// EmbeddingConfig wraps the engine selection plus the builder budgets.
type EmbeddingConfig struct {
	Engine embedding.Config `yaml:",inline"`

	// Enabled gates the whole embedding + upload stage.
	Enabled bool `yaml:"enabled"`

	TokenBudget int    `yaml:"token_budget"`
	BatchSize   int    `yaml:"batch_size"`
	BatchDelay  string `yaml:"batch_delay"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Parallelism:      4,
		TopOpportunities: 10,

		Fetch: FetchConfig{
			MaxAttempts: 3,
			Backoff:     "1s",
			Timeout:     "30s",
			MaxPerHost:  4,
			UserAgent:   fetcher.DefaultConfig().UserAgent,
		},

		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   1024,
			Timeout:     "120s",
			MaxRetries:  3,
		},

		Embedding: EmbeddingConfig{
			Engine:      embedding.DefaultConfig(),
			Enabled:     true,
			TokenBudget: 8000,
			BatchSize:   16,
			BatchDelay:  "1s",
		},

		Vectors: vectorstore.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. A missing file is not an
// error; the defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. A key set in
// the environment wins over the file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.LLM.Provider == "openai" || c.LLM.APIKey == "" {
			c.LLM.APIKey = key
		}
		if c.Embedding.Engine.OpenAIAPIKey == "" {
			c.Embedding.Engine.OpenAIAPIKey = key
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.LLM.Provider == "anthropic" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Embedding.Engine.GenAIAPIKey == "" {
		c.Embedding.Engine.GenAIAPIKey = key
	}
}

// Validate rejects configurations the run could not start with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm provider: %s (use 'openai' or 'anthropic')", c.LLM.Provider)
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive, got %d", c.Parallelism)
	}
	if c.Embedding.Enabled {
		switch c.Embedding.Engine.Provider {
		case "openai", "genai", "ollama":
		default:
			return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Engine.Provider)
		}
		// A mismatch here means every upsert batch would be rejected for
		// vector length, so refuse to start.
		if want := c.Embedding.Engine.EngineDimensions(); want != c.Vectors.Dimensions {
			return fmt.Errorf("vector store dimensions %d do not match embedding provider %s output %d (set vector_store.dimensions: %d)",
				c.Vectors.Dimensions, c.Embedding.Engine.Provider, want, want)
		}
	}
	return nil
}

// FetcherConfig converts to the fetcher's runtime shape.
func (c *Config) FetcherConfig() fetcher.Config {
	return fetcher.Config{
		MaxAttempts: c.Fetch.MaxAttempts,
		Backoff:     duration(c.Fetch.Backoff, time.Second),
		Timeout:     duration(c.Fetch.Timeout, 30*time.Second),
		MaxPerHost:  c.Fetch.MaxPerHost,
		UserAgent:   c.Fetch.UserAgent,
	}
}

// ClientConfig converts to the LLM client's runtime shape.
func (c *Config) ClientConfig() llm.Config {
	return llm.Config{
		Provider:    c.LLM.Provider,
		APIKey:      c.LLM.APIKey,
		BaseURL:     c.LLM.BaseURL,
		Model:       c.LLM.Model,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
		Timeout:     duration(c.LLM.Timeout, 120*time.Second),
		MaxRetries:  c.LLM.MaxRetries,
	}
}

// BuilderConfig converts to the embedding builder's runtime shape.
func (c *Config) BuilderConfig() embedding.BuilderConfig {
	return embedding.BuilderConfig{
		TokenBudget: c.Embedding.TokenBudget,
		BatchSize:   c.Embedding.BatchSize,
		BatchDelay:  duration(c.Embedding.BatchDelay, time.Second),
	}
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
