// Package vectorstore loads embedded documents into a pluggable vector
// backend. All backends are upsert-only: a re-run writes under a new
// run id and never needs to invalidate earlier uploads.
package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"brandaudit/internal/embedding"
)

// Store is one vector backend. Upsert writes a single batch; batching
// and failure isolation live in the Adapter.
type Store interface {
	Upsert(ctx context.Context, entries []embedding.VectorEntry) error
	Name() string
}

// Config selects and parameterizes a backend.
type Config struct {
	// Backend: "sqlite", "elasticsearch", "qdrant" or "pinecone".
	Backend string `yaml:"backend"`

	// Collection names the index/collection/table written to.
	Collection string `yaml:"collection"`

	// Dimensions must equal the embedding engine's dimensionality.
	Dimensions int `yaml:"dimensions"`

	// Metric is the distance metric; only cosine is used.
	Metric string `yaml:"metric"`

	// BatchSize bounds one upsert call.
	BatchSize int `yaml:"batch_size"`

	// SQLite configuration.
	SQLitePath string `yaml:"sqlite_path"`

	// Elasticsearch configuration.
	ElasticsearchURL    string `yaml:"elasticsearch_url"`
	ElasticsearchAPIKey string `yaml:"elasticsearch_api_key"`

	// Qdrant configuration.
	QdrantURL    string `yaml:"qdrant_url"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`

	// Pinecone configuration.
	PineconeHost      string `yaml:"pinecone_host"`
	PineconeAPIKey    string `yaml:"pinecone_api_key"`
	PineconeNamespace string `yaml:"pinecone_namespace"`
}

// DefaultConfig returns the local-first defaults.
func DefaultConfig() Config {
	return Config{
		Backend:    "sqlite",
		Collection: "audit_documents",
		Dimensions: 1536,
		Metric:     "cosine",
		BatchSize:  100,
		SQLitePath: "vectors.db",
		QdrantURL:  "http://localhost:6333",
	}
}

// New creates the configured backend.
func New(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return NewSQLiteStore(cfg, logger)
	case "elasticsearch":
		return NewElasticsearchStore(cfg, logger)
	case "qdrant":
		return NewQdrantStore(cfg, logger)
	case "pinecone":
		return NewPineconeStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s (use 'sqlite', 'elasticsearch', 'qdrant' or 'pinecone')", cfg.Backend)
	}
}

// Adapter batches entries into a Store with per-batch failure
// isolation: a failed batch is retried once, then logged and skipped
// so the remaining batches still land.
type Adapter struct {
	store     Store
	batchSize int
	logger    *zap.Logger
}

// NewAdapter wraps a store.
func NewAdapter(store Store, batchSize int, logger *zap.Logger) *Adapter {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Adapter{store: store, batchSize: batchSize, logger: logger}
}

// UpsertAll writes every entry, returning the number of entries that
// could not be stored. Only context cancellation aborts the loop.
func (a *Adapter) UpsertAll(ctx context.Context, entries []embedding.VectorEntry) (int, error) {
	failed := 0
	for start := 0; start < len(entries); start += a.batchSize {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		end := start + a.batchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]

		err := a.store.Upsert(ctx, batch)
		if err != nil {
			a.logger.Warn("vector batch failed, retrying once",
				zap.String("backend", a.store.Name()),
				zap.Int("batch_start", start),
				zap.Error(err))
			err = a.store.Upsert(ctx, batch)
		}
		if err != nil {
			a.logger.Error("vector batch dropped",
				zap.String("backend", a.store.Name()),
				zap.Int("batch_start", start),
				zap.Int("entries", len(batch)),
				zap.Error(err))
			failed += len(batch)
		}
	}
	return failed, nil
}

// checkDimensions validates every vector in a batch before it is sent.
func checkDimensions(entries []embedding.VectorEntry, want int) error {
	for _, e := range entries {
		if len(e.Vector) != want {
			return fmt.Errorf("entry %s: vector length %d, want %d", e.ID, len(e.Vector), want)
		}
	}
	return nil
}
