package embedding

import (
	"context"
	"log/slog"

	"github.com/pgvector/pgvector-go"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/aegis-ai/aegis/internal/model"
)

// Store is the persistent tier-2 cache. *storage.DB satisfies it.
type Store interface {
	GetCachedEmbeddings(ctx context.Context, embedModel string, hashes []string) (map[string]pgvector.Vector, error)
	PutCachedEmbeddings(ctx context.Context, embedModel string, entries map[string]pgvector.Vector) error
	TouchCachedEmbeddings(ctx context.Context, embedModel string, hashes []string) error
}

// Service fronts a Provider with a two-tier cache: an in-process LRU and
// the embedding_cache table. Identical concurrent misses are collapsed
// through singleflight so a hot text embeds once.
type Service struct {
	provider Provider
	store    Store
	lru      *lruCache
	sf       singleflight.Group
	model    string
	maxBatch int
	logger   *slog.Logger

	hits     *prometheus.CounterVec
	misses   prometheus.Counter
	requests prometheus.Counter
}

// NewService builds the caching embedding service. reg may be nil to skip
// metric registration (tests).
func NewService(provider Provider, store Store, embedModel string, cacheSize, maxBatch int, logger *slog.Logger, reg prometheus.Registerer) *Service {
	s := &Service{
		provider: provider,
		store:    store,
		lru:      newLRUCache(cacheSize),
		model:    embedModel,
		maxBatch: maxBatch,
		logger:   logger,
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_embedding_cache_hits_total",
			Help: "Embedding cache hits by tier.",
		}, []string{"tier"}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_embedding_cache_misses_total",
			Help: "Embedding cache misses that reached the provider.",
		}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_embedding_provider_requests_total",
			Help: "Batched requests sent to the embedding provider.",
		}),
	}
	if s.maxBatch <= 0 {
		s.maxBatch = 256
	}
	if reg != nil {
		reg.MustRegister(s.hits, s.misses, s.requests)
	}
	return s
}

// Dimensions returns the provider's vector size.
func (s *Service) Dimensions() int {
	return s.provider.Dimensions()
}

// Embed returns the embedding for one text, consulting both cache tiers
// before the provider.
func (s *Service) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	hash := model.HashContent(text)
	if vec, ok := s.lru.Get(hash); ok {
		s.hits.WithLabelValues("memory").Inc()
		return vec, nil
	}

	v, err, _ := s.sf.Do(hash, func() (any, error) {
		vecs, err := s.EmbedBatch(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return v.(pgvector.Vector), nil
}

// EmbedBatch returns embeddings for the given texts in order. Duplicate
// texts within the batch embed once; cache hits are served without
// touching the provider.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(texts))
	byHash := make(map[string]pgvector.Vector)
	for i, text := range texts {
		hashes[i] = model.HashContent(text)
	}

	// Tier 1.
	var missing []string
	missingText := make(map[string]string)
	for i, hash := range hashes {
		if _, seen := byHash[hash]; seen {
			continue
		}
		if vec, ok := s.lru.Get(hash); ok {
			s.hits.WithLabelValues("memory").Inc()
			byHash[hash] = vec
			continue
		}
		if _, queued := missingText[hash]; !queued {
			missing = append(missing, hash)
			missingText[hash] = texts[i]
		}
	}

	// Tier 2.
	if len(missing) > 0 && s.store != nil {
		cached, err := s.store.GetCachedEmbeddings(ctx, s.model, missing)
		if err != nil {
			return nil, err
		}
		if len(cached) > 0 {
			var touched []string
			for hash, vec := range cached {
				s.hits.WithLabelValues("postgres").Inc()
				byHash[hash] = vec
				s.lru.Put(hash, vec)
				delete(missingText, hash)
				touched = append(touched, hash)
			}
			if err := s.store.TouchCachedEmbeddings(ctx, s.model, touched); err != nil {
				s.logger.Warn("embedding: touch cache", "error", err)
			}
			missing = missing[:0]
			for hash := range missingText {
				missing = append(missing, hash)
			}
		}
	}

	// Provider, in maxBatch chunks.
	if len(missing) > 0 {
		fresh := make(map[string]pgvector.Vector, len(missing))
		for start := 0; start < len(missing); start += s.maxBatch {
			end := min(start+s.maxBatch, len(missing))
			chunk := missing[start:end]
			chunkTexts := make([]string, len(chunk))
			for i, hash := range chunk {
				chunkTexts[i] = missingText[hash]
			}

			s.requests.Inc()
			vecs, err := s.provider.EmbedBatch(ctx, chunkTexts)
			if err != nil {
				return nil, err
			}
			for i, hash := range chunk {
				s.misses.Inc()
				byHash[hash] = vecs[i]
				s.lru.Put(hash, vecs[i])
				fresh[hash] = vecs[i]
			}
		}
		if s.store != nil {
			if err := s.store.PutCachedEmbeddings(ctx, s.model, fresh); err != nil {
				s.logger.Warn("embedding: persist cache", "error", err)
			}
		}
	}

	out := make([]pgvector.Vector, len(texts))
	for i, hash := range hashes {
		out[i] = byHash[hash]
	}
	return out, nil
}
