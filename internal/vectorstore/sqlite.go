package vectorstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"brandaudit/internal/embedding"
)

// SQLiteStore writes vectors into a local SQLite database using the
// sqlite-vec vec0 virtual table for ANN search, with a plain metadata
// table alongside. Build with the sqlite_vec tag to register the
// extension; without it the virtual table creation fails cleanly.
type SQLiteStore struct {
	db         *sql.DB
	collection string
	dimensions int
	logger     *zap.Logger
}

// NewSQLiteStore opens (or creates) the database and its schema.
func NewSQLiteStore(cfg Config, logger *zap.Logger) (*SQLiteStore, error) {
	if cfg.SQLitePath == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite3", cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	s := &SQLiteStore{
		db:         db,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
		logger:     logger,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	metaTable := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s_meta (
		id TEXT PRIMARY KEY,
		metadata TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`, s.collection)
	if _, err := s.db.Exec(metaTable); err != nil {
		return fmt.Errorf("failed to create metadata table: %w", err)
	}

	vecTable := fmt.Sprintf(`
	CREATE VIRTUAL TABLE IF NOT EXISTS %s_vec USING vec0(
		id TEXT PRIMARY KEY,
		embedding float[%d]
	);`, s.collection, s.dimensions)
	if _, err := s.db.Exec(vecTable); err != nil {
		return fmt.Errorf("failed to create vec0 table (is sqlite-vec compiled in?): %w", err)
	}
	return nil
}

// Upsert writes one batch transactionally.
func (s *SQLiteStore) Upsert(ctx context.Context, entries []embedding.VectorEntry) error {
	if err := checkDimensions(entries, s.dimensions); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	vecStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR REPLACE INTO %s_vec (id, embedding) VALUES (?, ?)`, s.collection))
	if err != nil {
		return fmt.Errorf("failed to prepare vector insert: %w", err)
	}
	defer vecStmt.Close()

	metaStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR REPLACE INTO %s_meta (id, metadata) VALUES (?, ?)`, s.collection))
	if err != nil {
		return fmt.Errorf("failed to prepare metadata insert: %w", err)
	}
	defer metaStmt.Close()

	for _, e := range entries {
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", e.ID, err)
		}
		if _, err := vecStmt.ExecContext(ctx, e.ID, encodeVectorBlob(e.Vector)); err != nil {
			return fmt.Errorf("failed to insert vector %s: %w", e.ID, err)
		}
		if _, err := metaStmt.ExecContext(ctx, e.ID, string(metadata)); err != nil {
			return fmt.Errorf("failed to insert metadata %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// Name returns the backend name.
func (s *SQLiteStore) Name() string {
	return "sqlite:" + s.collection
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeVectorBlob encodes a float32 slice as the little-endian blob
// sqlite-vec expects.
func encodeVectorBlob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}
