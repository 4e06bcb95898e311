package embedding

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-ai/aegis/internal/model"
)

// countingProvider returns deterministic vectors and records how many
// texts actually reached it.
type countingProvider struct {
	mu    sync.Mutex
	seen  []string
	calls int
}

func (p *countingProvider) Dimensions() int { return 3 }

func (p *countingProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vecs[0], nil
}

func (p *countingProvider) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.seen = append(p.seen, texts...)
	vecs := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		vecs[i] = pgvector.NewVector([]float32{float32(len(t)), 0, 0})
	}
	return vecs, nil
}

// memStore is an in-memory stand-in for the embedding_cache table.
type memStore struct {
	mu      sync.Mutex
	entries map[string]pgvector.Vector
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]pgvector.Vector)}
}

func (s *memStore) GetCachedEmbeddings(_ context.Context, _ string, hashes []string) (map[string]pgvector.Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := make(map[string]pgvector.Vector)
	for _, h := range hashes {
		if v, ok := s.entries[h]; ok {
			found[h] = v
		}
	}
	return found, nil
}

func (s *memStore) PutCachedEmbeddings(_ context.Context, _ string, entries map[string]pgvector.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, v := range entries {
		s.entries[h] = v
	}
	return nil
}

func (s *memStore) TouchCachedEmbeddings(_ context.Context, _ string, _ []string) error {
	return nil
}

func newTestService(p Provider, st Store) *Service {
	return NewService(p, st, "test-model", 100, 256, slog.Default(), nil)
}

func TestEmbedCachesAcrossCalls(t *testing.T) {
	provider := &countingProvider{}
	svc := newTestService(provider, newMemStore())
	ctx := context.Background()

	first, err := svc.Embed(ctx, "hello world")
	require.NoError(t, err)

	second, err := svc.Embed(ctx, "hello world")
	require.NoError(t, err)

	assert.Equal(t, first.Slice(), second.Slice())
	assert.Len(t, provider.seen, 1, "second call must be a tier-1 hit")
}

func TestEmbedBatchDeduplicatesWithinBatch(t *testing.T) {
	provider := &countingProvider{}
	svc := newTestService(provider, newMemStore())

	// Normalization makes the first two texts the same cache entry.
	vecs, err := svc.EmbedBatch(context.Background(), []string{"Hello", "  hello ", "bye"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.Equal(t, vecs[0].Slice(), vecs[1].Slice())
	assert.Len(t, provider.seen, 2)
}

func TestEmbedBatchHitsPersistentTier(t *testing.T) {
	store := newMemStore()
	warm := &countingProvider{}
	svc := newTestService(warm, store)

	_, err := svc.EmbedBatch(context.Background(), []string{"persisted"})
	require.NoError(t, err)

	// A fresh service shares no LRU, only the store.
	cold := &countingProvider{}
	svc2 := newTestService(cold, store)
	vecs, err := svc2.EmbedBatch(context.Background(), []string{"persisted"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)

	assert.Empty(t, cold.seen, "must be served from the persistent tier")
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	provider := &countingProvider{}
	svc := newTestService(provider, newMemStore())

	texts := []string{"a", "bb", "ccc", "bb"}
	vecs, err := svc.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vecs[i].Slice()[0], "index %d", i)
	}
}

func TestEmbedBatchSplitsLargeBatches(t *testing.T) {
	provider := &countingProvider{}
	svc := NewService(provider, newMemStore(), "test-model", 100, 2, slog.Default(), nil)

	_, err := svc.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)

	assert.Equal(t, 3, provider.calls, "5 texts with maxBatch=2 need 3 provider calls")
}

func TestLRUCacheEvictsOldest(t *testing.T) {
	c := newLRUCache(2)
	c.Put("a", pgvector.NewVector([]float32{1}))
	c.Put("b", pgvector.NewVector([]float32{2}))

	// Touch "a" so "b" becomes the eviction victim.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", pgvector.NewVector([]float32{3}))
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestNoopProviderZeroVectors(t *testing.T) {
	p := NewNoopProvider(4)
	vec, err := p.Embed(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, vec.Slice())
	assert.Equal(t, 4, p.Dimensions())
}

func TestHashSharedWithContentDedup(t *testing.T) {
	// Cache keys and memory dedup use the same normalization.
	assert.Equal(t, model.HashContent("X"), model.HashContent(" x "))
}
