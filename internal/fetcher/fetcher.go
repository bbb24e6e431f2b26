// Package fetcher retrieves audited pages over HTTP and reduces them to
// clean text. Transient failures and 5xx responses are retried with
// exponential backoff; 4xx responses (except 429) are not.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"brandaudit/internal/audit"
)

// FetchError reports a page that could not be retrieved or reduced to
// text after the retry budget.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config controls retry and admission behavior.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
	MaxPerHost  int
	UserAgent   string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     time.Second,
		Timeout:     30 * time.Second,
		MaxPerHost:  4,
		UserAgent:   "brandaudit/1.0 (+page audit pipeline)",
	}
}

// Fetcher retrieves pages. Safe for concurrent use; it enforces a
// per-host in-flight cap on top of whatever pool the caller runs.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu    sync.Mutex
	hosts map[string]chan struct{}
}

// New creates a fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxPerHost <= 0 {
		cfg.MaxPerHost = 4
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		hosts:  map[string]chan struct{}{},
	}
}

// Fetch retrieves one page and extracts its textual content. The input
// URL must already start with http:// or https://.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*audit.Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("invalid url: %v", err)}
	}

	release, err := f.acquireHost(ctx, u.Hostname())
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer release()

	var lastErr error
	var lastStatus int

	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(f.cfg.Backoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return nil, &FetchError{URL: rawURL, Err: ctx.Err()}
			}
		}

		body, status, err := f.do(ctx, rawURL)
		if err != nil {
			lastErr = err
			lastStatus = status
			if !retryable(status, err) {
				break
			}
			f.logger.Debug("fetch retry",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Int("status", status),
				zap.Error(err))
			continue
		}

		content, err := Extract(rawURL, body)
		if err != nil {
			// Unparseable payload is terminal; retrying won't help.
			return nil, &FetchError{URL: rawURL, Err: err}
		}

		slug := audit.Slug(rawURL)
		return &audit.Page{
			URL:       rawURL,
			Slug:      slug,
			PageID:    audit.PageID(slug),
			Title:     content.Title,
			Body:      content.Body,
			FetchedAt: time.Now().UTC(),
		}, nil
	}

	return nil, &FetchError{URL: rawURL, StatusCode: lastStatus, Err: lastErr}
}

func (f *Fetcher) do(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little for connection reuse, then report the status.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// retryable reports whether the failure class is worth another attempt:
// transport errors, 5xx and 429.
func retryable(status int, err error) bool {
	if status == 0 {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return status >= 500 || status == http.StatusTooManyRequests
}

func (f *Fetcher) acquireHost(ctx context.Context, host string) (func(), error) {
	host = strings.ToLower(host)

	f.mu.Lock()
	sem, ok := f.hosts[host]
	if !ok {
		sem = make(chan struct{}, f.cfg.MaxPerHost)
		f.hosts[host] = sem
	}
	f.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
