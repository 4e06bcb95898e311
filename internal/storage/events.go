package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aegis-ai/aegis/internal/model"
)

// InsertMemoryEventTx appends one timeline event inside a transaction, so
// the event commits or rolls back with the mutation it records.
func (db *DB) InsertMemoryEventTx(ctx context.Context, tx pgx.Tx, e *model.MemoryEvent) error {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Namespace == "" {
		e.Namespace = model.DefaultNamespace
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO memory_events (event_id, memory_id, project_id, namespace, agent_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.EventID, e.MemoryID, e.ProjectID, e.Namespace, e.AgentID, e.EventType, e.Payload, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert memory event: %w", err)
	}
	return nil
}

// InsertMemoryEvents batch-inserts timeline events. Used for the queried
// events emitted after a search hits multiple memories.
func (db *DB) InsertMemoryEvents(ctx context.Context, events []model.MemoryEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for i := range events {
		e := &events[i]
		if e.EventID == uuid.Nil {
			e.EventID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.Namespace == "" {
			e.Namespace = model.DefaultNamespace
		}
		if e.Payload == nil {
			e.Payload = map[string]any{}
		}
		batch.Queue(
			`INSERT INTO memory_events (event_id, memory_id, project_id, namespace, agent_id, event_type, payload, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.EventID, e.MemoryID, e.ProjectID, e.Namespace, e.AgentID, e.EventType, e.Payload, e.CreatedAt,
		)
	}
	if err := db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("storage: batch insert memory events: %w", err)
	}
	return nil
}

// ListMemoryEvents returns a memory's timeline, newest first.
func (db *DB) ListMemoryEvents(ctx context.Context, projectID, memoryID string, limit int) ([]model.MemoryEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Read().Query(ctx,
		`SELECT event_id, memory_id, project_id, namespace, agent_id, event_type, payload, created_at
		 FROM memory_events
		 WHERE project_id = $1 AND memory_id = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		projectID, memoryID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list memory events: %w", err)
	}
	defer rows.Close()

	var events []model.MemoryEvent
	for rows.Next() {
		var e model.MemoryEvent
		if err := rows.Scan(
			&e.EventID, &e.MemoryID, &e.ProjectID, &e.Namespace, &e.AgentID,
			&e.EventType, &e.Payload, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan memory event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MemoryEventCounts aggregates a project's events by type since the given
// time. Zero since means all time.
func (db *DB) MemoryEventCounts(ctx context.Context, projectID string, since time.Time) (map[model.EventType]int, error) {
	rows, err := db.Read().Query(ctx,
		`SELECT event_type, count(*) FROM memory_events
		 WHERE project_id = $1 AND created_at >= $2
		 GROUP BY event_type`,
		projectID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: memory event counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.EventType]int)
	for rows.Next() {
		var t model.EventType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("storage: scan event count: %w", err)
		}
		counts[t] = n
	}
	return counts, rows.Err()
}
