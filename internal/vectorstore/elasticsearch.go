package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	es "github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"brandaudit/internal/embedding"
)

// ElasticsearchStore indexes vectors into a dense_vector field with
// cosine similarity.
type ElasticsearchStore struct {
	client     *es.Client
	index      string
	dimensions int
	logger     *zap.Logger
}

// NewElasticsearchStore connects and ensures the index exists.
func NewElasticsearchStore(cfg Config, logger *zap.Logger) (*ElasticsearchStore, error) {
	if cfg.ElasticsearchURL == "" {
		return nil, fmt.Errorf("elasticsearch url is required")
	}

	client, err := es.NewClient(es.Config{
		Addresses: []string{cfg.ElasticsearchURL},
		APIKey:    cfg.ElasticsearchAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	s := &ElasticsearchStore{
		client:     client,
		index:      cfg.Collection,
		dimensions: cfg.Dimensions,
		logger:     logger,
	}
	if err := s.ensureIndex(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ElasticsearchStore) ensureIndex(ctx context.Context) error {
	exists, err := s.client.Indices.Exists([]string{s.index},
		s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	defer exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}

	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"vector": map[string]any{
					"type":       "dense_vector",
					"dims":       s.dimensions,
					"index":      true,
					"similarity": "cosine",
				},
				"metadata": map[string]any{
					"type": "object",
				},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal index mapping: %w", err)
	}

	res, err := s.client.Indices.Create(s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("error creating index: %s", res.String())
	}

	s.logger.Info("created elasticsearch index",
		zap.String("index", s.index), zap.Int("dims", s.dimensions))
	return nil
}

// Upsert bulk-indexes one batch.
func (s *ElasticsearchStore) Upsert(ctx context.Context, entries []embedding.VectorEntry) error {
	if err := checkDimensions(entries, s.dimensions); err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, e := range entries {
		action := map[string]any{"index": map[string]any{"_id": e.ID}}
		doc := map[string]any{"vector": e.Vector, "metadata": e.Metadata}
		if err := json.NewEncoder(&buf).Encode(action); err != nil {
			return fmt.Errorf("failed to encode bulk action: %w", err)
		}
		if err := json.NewEncoder(&buf).Encode(doc); err != nil {
			return fmt.Errorf("failed to encode document %s: %w", e.ID, err)
		}
	}

	res, err := s.client.Bulk(bytes.NewReader(buf.Bytes()),
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithIndex(s.index))
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk indexing error: %s", res.String())
	}

	var result struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int    `json:"status"`
			Error  any    `json:"error"`
			ID     string `json:"_id"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return fmt.Errorf("error decoding bulk response: %w", err)
	}
	if result.Errors {
		for _, item := range result.Items {
			for _, detail := range item {
				if detail.Status >= 300 {
					return fmt.Errorf("bulk item %s failed with status %d", detail.ID, detail.Status)
				}
			}
		}
		return fmt.Errorf("bulk response reported errors")
	}
	return nil
}

// Name returns the backend name.
func (s *ElasticsearchStore) Name() string {
	return "elasticsearch:" + s.index
}
