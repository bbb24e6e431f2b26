// Package llm provides the chat-completion clients behind the scorer.
// Providers share one interface and are interchangeable by configuration.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrUnavailable marks a provider that stayed unreachable or
// rate-limited through the retry budget.
var ErrUnavailable = errors.New("llm provider unavailable")

// Client is the narrow interface the scorer depends on.
type Client interface {
	// CompleteWithSystem sends a system + user message pair and returns
	// the completion text.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Model returns the configured model name.
	Model() string
}

// Config selects and tunes a provider.
type Config struct {
	Provider    string // "openai" or "anthropic"
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// UsageCounter accumulates token usage across a run. Safe for concurrent
// use.
type UsageCounter struct {
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
	calls            atomic.Int64
}

// Add records one completed call's usage.
func (u *UsageCounter) Add(promptTokens, completionTokens int) {
	if u == nil {
		return
	}
	u.promptTokens.Add(int64(promptTokens))
	u.completionTokens.Add(int64(completionTokens))
	u.calls.Add(1)
}

// Snapshot returns the totals so far.
func (u *UsageCounter) Snapshot() (promptTokens, completionTokens, calls int64) {
	if u == nil {
		return 0, 0, 0
	}
	return u.promptTokens.Load(), u.completionTokens.Load(), u.calls.Load()
}

// NewClient dispatches on the configured provider.
func NewClient(cfg Config, usage *UsageCounter) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return newOpenAIClient(cfg, usage), nil
	case "anthropic":
		return newAnthropicClient(cfg, usage), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (use 'openai' or 'anthropic')", cfg.Provider)
	}
}

func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}
