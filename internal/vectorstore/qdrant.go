package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"brandaudit/internal/embedding"
)

// QdrantStore writes points to a Qdrant collection over its REST API.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	dimensions int
	client     *http.Client
	logger     *zap.Logger
}

// NewQdrantStore connects and ensures the collection exists.
func NewQdrantStore(cfg Config, logger *zap.Logger) (*QdrantStore, error) {
	if cfg.QdrantURL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}

	s := &QdrantStore{
		baseURL:    cfg.QdrantURL,
		apiKey:     cfg.QdrantAPIKey,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
	if err := s.ensureCollection(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	// PUT is idempotent for an existing collection with the same params.
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimensions,
			"distance": "Cosine",
		},
	}
	status, respBody, err := s.do(ctx, "PUT", "/collections/"+s.collection, body)
	if err != nil {
		return fmt.Errorf("failed to create qdrant collection: %w", err)
	}
	// 409 means the collection already exists.
	if status != http.StatusOK && status != http.StatusConflict {
		return fmt.Errorf("qdrant returned status %d creating collection: %s", status, respBody)
	}
	return nil
}

// Upsert writes one batch of points. Qdrant point ids must be UUIDs or
// integers, so document ids are mapped through a deterministic UUIDv5
// and the original id travels in the payload.
func (s *QdrantStore) Upsert(ctx context.Context, entries []embedding.VectorEntry) error {
	if err := checkDimensions(entries, s.dimensions); err != nil {
		return err
	}

	points := make([]map[string]any, len(entries))
	for i, e := range entries {
		payload := make(map[string]any, len(e.Metadata)+1)
		for k, v := range e.Metadata {
			payload[k] = v
		}
		payload["document_id"] = e.ID

		points[i] = map[string]any{
			"id":      uuid.NewSHA1(uuid.NameSpaceURL, []byte(e.ID)).String(),
			"vector":  e.Vector,
			"payload": payload,
		}
	}

	status, respBody, err := s.do(ctx, "PUT",
		"/collections/"+s.collection+"/points?wait=true",
		map[string]any{"points": points})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("qdrant returned status %d: %s", status, respBody)
	}
	return nil
}

func (s *QdrantStore) do(ctx context.Context, method, path string, body any) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(respBody), nil
}

// Name returns the backend name.
func (s *QdrantStore) Name() string {
	return "qdrant:" + s.collection
}
