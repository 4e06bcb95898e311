package storage

import (
	"context"
	"fmt"

	"github.com/aegis-ai/aegis/internal/model"
)

// MemoryStats is the aggregate view of a project's memory store.
type MemoryStats struct {
	Total            int                       `json:"total"`
	Live             int                       `json:"live"`
	Deprecated       int                       `json:"deprecated"`
	ByType           map[model.MemoryType]int  `json:"by_type"`
	HelpfulVotes     int                       `json:"helpful_votes"`
	HarmfulVotes     int                       `json:"harmful_votes"`
	AvgEffectiveness float64                   `json:"avg_effectiveness"`
}

// GetMemoryStats aggregates counts, vote totals, and mean effectiveness
// for a project in two queries.
func (db *DB) GetMemoryStats(ctx context.Context, projectID string) (MemoryStats, error) {
	stats := MemoryStats{ByType: make(map[model.MemoryType]int)}

	err := db.Read().QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE NOT is_deprecated),
		        count(*) FILTER (WHERE is_deprecated),
		        COALESCE(sum(helpful_votes), 0),
		        COALESCE(sum(harmful_votes), 0),
		        COALESCE(avg((helpful_votes - harmful_votes)::float / (helpful_votes + harmful_votes + 1)), 0)
		 FROM memories
		 WHERE project_id = $1`,
		projectID,
	).Scan(&stats.Total, &stats.Live, &stats.Deprecated,
		&stats.HelpfulVotes, &stats.HarmfulVotes, &stats.AvgEffectiveness)
	if err != nil {
		return MemoryStats{}, fmt.Errorf("storage: memory stats: %w", err)
	}

	rows, err := db.Read().Query(ctx,
		`SELECT memory_type, count(*) FROM memories
		 WHERE project_id = $1 AND NOT is_deprecated
		 GROUP BY memory_type`,
		projectID,
	)
	if err != nil {
		return MemoryStats{}, fmt.Errorf("storage: memory stats by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t model.MemoryType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return MemoryStats{}, fmt.Errorf("storage: scan type count: %w", err)
		}
		stats.ByType[t] = n
	}
	return stats, rows.Err()
}

// TopMemories returns the live memories with the highest effectiveness
// that have at least minVotes total votes.
func (db *DB) TopMemories(ctx context.Context, projectID string, minVotes, limit int) ([]model.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Read().Query(ctx,
		`SELECT `+memoryCols+`
		 FROM memories m
		 WHERE m.project_id = $1
		   AND NOT m.is_deprecated
		   AND m.helpful_votes + m.harmful_votes >= $2
		 ORDER BY (m.helpful_votes - m.harmful_votes)::float / (m.helpful_votes + m.harmful_votes + 1) DESC,
		          m.created_at DESC, m.id ASC
		 LIMIT $3`,
		projectID, minVotes, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: top memories: %w", err)
	}
	return collectMemories(rows)
}
