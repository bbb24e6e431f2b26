// Package embedding turns unified audit rows into embedded documents
// for the retrieval index. Supports OpenAI, Google GenAI and local
// Ollama backends.
package embedding

import (
	"context"
	"fmt"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "openai", "genai" or "ollama".
	Provider string `yaml:"provider"`

	// OpenAI configuration.
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model"` // Default: "text-embedding-3-small"

	// GenAI configuration.
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"` // Default: "gemini-embedding-001"

	// Ollama configuration.
	OllamaEndpoint string `yaml:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `yaml:"ollama_model"`    // Default: "embeddinggemma"

	// Dimensions pins the expected vector length. Engines that support
	// a dimensions parameter (OpenAI) request it; the others must match
	// it natively or the builder refuses to run.
	Dimensions int `yaml:"dimensions"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       "openai",
		OpenAIModel:    "text-embedding-3-small",
		GenAIModel:     "gemini-embedding-001",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		Dimensions:     1536,
	}
}

// EngineDimensions reports the vector length the configured provider
// will produce, without constructing the engine. OpenAI honours the
// requested Dimensions; the other providers have a fixed native length.
func (c Config) EngineDimensions() int {
	switch c.Provider {
	case "genai":
		return genAIDimensions
	case "ollama":
		return ollamaDimensions
	default:
		return c.Dimensions
	}
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEngine(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.Dimensions)
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'openai', 'genai' or 'ollama')", cfg.Provider)
	}
}
