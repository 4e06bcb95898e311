package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// GetCachedEmbeddings looks up persisted embeddings for the given text
// hashes under one model. Hits are returned keyed by hash; misses are
// simply absent.
func (db *DB) GetCachedEmbeddings(ctx context.Context, embedModel string, hashes []string) (map[string]pgvector.Vector, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	rows, err := db.Read().Query(ctx,
		`SELECT text_hash, embedding FROM embedding_cache
		 WHERE model = $1 AND text_hash = ANY($2)`,
		embedModel, hashes,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get cached embeddings: %w", err)
	}
	defer rows.Close()

	found := make(map[string]pgvector.Vector, len(hashes))
	for rows.Next() {
		var hash string
		var vec pgvector.Vector
		if err := rows.Scan(&hash, &vec); err != nil {
			return nil, fmt.Errorf("storage: scan cached embedding: %w", err)
		}
		found[hash] = vec
	}
	return found, rows.Err()
}

// PutCachedEmbeddings upserts freshly computed embeddings. Conflicts
// refresh last_used_at so the eviction sweep keeps hot entries.
func (db *DB) PutCachedEmbeddings(ctx context.Context, embedModel string, entries map[string]pgvector.Vector) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for hash, vec := range entries {
		batch.Queue(
			`INSERT INTO embedding_cache (text_hash, model, embedding)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (text_hash, model)
			 DO UPDATE SET last_used_at = now()`,
			hash, embedModel, vec,
		)
	}
	if err := db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("storage: put cached embeddings: %w", err)
	}
	return nil
}

// TouchCachedEmbeddings refreshes last_used_at for hits so the LRU sweep
// sees them as live.
func (db *DB) TouchCachedEmbeddings(ctx context.Context, embedModel string, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	_, err := db.pool.Exec(ctx,
		`UPDATE embedding_cache SET last_used_at = now()
		 WHERE model = $1 AND text_hash = ANY($2)`,
		embedModel, hashes,
	)
	if err != nil {
		return fmt.Errorf("storage: touch cached embeddings: %w", err)
	}
	return nil
}

// PruneEmbeddingCache deletes entries unused for longer than maxIdle.
func (db *DB) PruneEmbeddingCache(ctx context.Context, maxIdle time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM embedding_cache WHERE last_used_at < now() - make_interval(secs => $1)`,
		maxIdle.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: prune embedding cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
