package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brandaudit/internal/embedding"
)

type fakeStore struct {
	batches   [][]embedding.VectorEntry
	failUntil int // fail the first n Upsert calls
	calls     int
}

func (f *fakeStore) Upsert(ctx context.Context, entries []embedding.VectorEntry) error {
	f.calls++
	if f.calls <= f.failUntil {
		return fmt.Errorf("transient failure %d", f.calls)
	}
	f.batches = append(f.batches, entries)
	return nil
}

func (f *fakeStore) Name() string { return "fake" }

func entries(n, dims int) []embedding.VectorEntry {
	out := make([]embedding.VectorEntry, n)
	for i := range out {
		out[i] = embedding.VectorEntry{
			ID:       fmt.Sprintf("p1:%04d", i),
			Vector:   make([]float32, dims),
			Metadata: map[string]any{"persona_id": "p1"},
		}
	}
	return out
}

func TestAdapterBatches(t *testing.T) {
	store := &fakeStore{}
	a := NewAdapter(store, 2, zap.NewNop())

	failed, err := a.UpsertAll(context.Background(), entries(5, 4))
	require.NoError(t, err)
	assert.Zero(t, failed)
	require.Len(t, store.batches, 3)
	assert.Len(t, store.batches[0], 2)
	assert.Len(t, store.batches[2], 1)
}

func TestAdapterRetriesOnceThenDrops(t *testing.T) {
	// first call fails, retry succeeds
	store := &fakeStore{failUntil: 1}
	a := NewAdapter(store, 10, zap.NewNop())
	failed, err := a.UpsertAll(context.Background(), entries(3, 4))
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Equal(t, 2, store.calls)

	// both attempts fail; batch dropped, run continues
	store = &fakeStore{failUntil: 2}
	a = NewAdapter(store, 2, zap.NewNop())
	failed, err = a.UpsertAll(context.Background(), entries(4, 4))
	require.NoError(t, err)
	assert.Equal(t, 2, failed)
	require.Len(t, store.batches, 1)
}

func TestCheckDimensions(t *testing.T) {
	good := entries(2, 4)
	require.NoError(t, checkDimensions(good, 4))

	bad := entries(1, 3)
	err := checkDimensions(bad, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector length 3, want 4")
}

func TestQdrantUpsert(t *testing.T) {
	var collectionCreated bool
	var gotPoints []map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "PUT" && r.URL.Path == "/collections/audit":
			collectionCreated = true
			w.WriteHeader(http.StatusOK)
		case r.Method == "PUT" && r.URL.Path == "/collections/audit/points":
			assert.Equal(t, "secret", r.Header.Get("api-key"))
			var body struct {
				Points []map[string]any `json:"points"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			gotPoints = body.Points
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Backend = "qdrant"
	cfg.Collection = "audit"
	cfg.Dimensions = 4
	cfg.QdrantURL = server.URL
	cfg.QdrantAPIKey = "secret"

	store, err := NewQdrantStore(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, collectionCreated)

	in := entries(2, 4)
	require.NoError(t, store.Upsert(context.Background(), in))
	require.Len(t, gotPoints, 2)

	// ids are deterministic UUIDs; original id is preserved in payload
	payload := gotPoints[0]["payload"].(map[string]any)
	assert.Equal(t, "p1:0000", payload["document_id"])
	assert.NotEqual(t, "p1:0000", gotPoints[0]["id"])
}

func TestPineconeUpsert(t *testing.T) {
	var gotBody struct {
		Vectors   []map[string]any `json:"vectors"`
		Namespace string           `json:"namespace"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vectors/upsert", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Backend = "pinecone"
	cfg.Collection = "audit"
	cfg.Dimensions = 4
	cfg.PineconeHost = server.URL
	cfg.PineconeAPIKey = "secret"

	store, err := NewPineconeStore(cfg, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, store.Upsert(context.Background(), entries(1, 4)))
	require.Len(t, gotBody.Vectors, 1)
	assert.Equal(t, "audit", gotBody.Namespace)
	assert.Equal(t, "p1:0000", gotBody.Vectors[0]["id"])
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "chroma"
	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported vector backend")
}
