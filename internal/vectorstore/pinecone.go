package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"brandaudit/internal/embedding"
)

// PineconeStore writes vectors to a Pinecone index over its data-plane
// REST API. The host already encodes the index, so Collection is used
// only as the default namespace.
type PineconeStore struct {
	host       string
	apiKey     string
	namespace  string
	dimensions int
	client     *http.Client
	logger     *zap.Logger
}

// NewPineconeStore validates configuration. Pinecone indexes are
// created out of band; only data-plane writes happen here.
func NewPineconeStore(cfg Config, logger *zap.Logger) (*PineconeStore, error) {
	if cfg.PineconeHost == "" {
		return nil, fmt.Errorf("pinecone host is required")
	}
	if cfg.PineconeAPIKey == "" {
		return nil, fmt.Errorf("pinecone api key is required")
	}

	host := cfg.PineconeHost
	if !strings.HasPrefix(host, "http") {
		host = "https://" + host
	}
	namespace := cfg.PineconeNamespace
	if namespace == "" {
		namespace = cfg.Collection
	}

	return &PineconeStore{
		host:       host,
		apiKey:     cfg.PineconeAPIKey,
		namespace:  namespace,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}, nil
}

// Upsert writes one batch of vectors.
func (s *PineconeStore) Upsert(ctx context.Context, entries []embedding.VectorEntry) error {
	if err := checkDimensions(entries, s.dimensions); err != nil {
		return err
	}

	vectors := make([]map[string]any, len(entries))
	for i, e := range entries {
		vectors[i] = map[string]any{
			"id":       e.ID,
			"values":   e.Vector,
			"metadata": flattenMetadata(e.Metadata),
		}
	}

	body, err := json.Marshal(map[string]any{
		"vectors":   vectors,
		"namespace": s.namespace,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.host+"/vectors/upsert", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("pinecone request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pinecone returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// flattenMetadata drops values Pinecone cannot store (nested maps) and
// converts string slices to Pinecone's list-of-strings form.
func flattenMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		switch v.(type) {
		case map[string]any:
			continue
		default:
			out[k] = v
		}
	}
	return out
}

// Name returns the backend name.
func (s *PineconeStore) Name() string {
	return "pinecone:" + s.namespace
}
