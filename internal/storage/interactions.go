package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/aegis-ai/aegis/internal/model"
)

const interactionCols = `event_id, project_id, session_id, agent_id, parent_event_id, kind, content, ts`

func scanInteraction(row scanner) (model.InteractionEvent, error) {
	var e model.InteractionEvent
	err := row.Scan(
		&e.EventID, &e.ProjectID, &e.SessionID, &e.AgentID,
		&e.ParentEventID, &e.Kind, &e.Content, &e.Timestamp,
	)
	return e, err
}

// InsertInteractionEvent appends one node to the session's causal tree.
// The parent, when set, must already exist; the FK rejects dangling links.
func (db *DB) InsertInteractionEvent(ctx context.Context, e *model.InteractionEvent) error {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO interaction_events (event_id, project_id, session_id, agent_id, parent_event_id, kind, content, embedding, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.EventID, e.ProjectID, e.SessionID, e.AgentID, e.ParentEventID, e.Kind, e.Content, e.Embedding, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("storage: insert interaction event: %w", err)
	}
	return nil
}

// GetInteractionEvent retrieves one event by ID within a project.
func (db *DB) GetInteractionEvent(ctx context.Context, projectID string, eventID uuid.UUID) (model.InteractionEvent, error) {
	row := db.Read().QueryRow(ctx,
		`SELECT `+interactionCols+` FROM interaction_events
		 WHERE project_id = $1 AND event_id = $2`,
		projectID, eventID,
	)
	e, err := scanInteraction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.InteractionEvent{}, fmt.Errorf("storage: interaction event %s: %w", eventID, ErrNotFound)
		}
		return model.InteractionEvent{}, fmt.Errorf("storage: get interaction event: %w", err)
	}
	return e, nil
}

// ListSessionInteractions returns a session's events in causal (timestamp)
// order; newestFirst flips the order for tail views.
func (db *DB) ListSessionInteractions(ctx context.Context, projectID, sessionID string, newestFirst bool, limit int) ([]model.InteractionEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	rows, err := db.Read().Query(ctx,
		`SELECT `+interactionCols+` FROM interaction_events
		 WHERE project_id = $1 AND session_id = $2
		 ORDER BY ts `+order+`, event_id ASC
		 LIMIT $3`,
		projectID, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list session interactions: %w", err)
	}
	defer rows.Close()

	var events []model.InteractionEvent
	for rows.Next() {
		e, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan interaction event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListAgentInteractions returns an agent's most recent events across all
// sessions, newest first.
func (db *DB) ListAgentInteractions(ctx context.Context, projectID, agentID string, limit int) ([]model.InteractionEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Read().Query(ctx,
		`SELECT `+interactionCols+` FROM interaction_events
		 WHERE project_id = $1 AND agent_id = $2
		 ORDER BY ts DESC, event_id ASC
		 LIMIT $3`,
		projectID, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list agent interactions: %w", err)
	}
	defer rows.Close()

	var events []model.InteractionEvent
	for rows.Next() {
		e, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan interaction event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// InteractionChain walks parent links from the given event back to its
// root and returns the chain in root-first order.
func (db *DB) InteractionChain(ctx context.Context, projectID string, eventID uuid.UUID) ([]model.InteractionEvent, error) {
	rows, err := db.Read().Query(ctx,
		`WITH RECURSIVE chain AS (
		   SELECT `+interactionCols+`, 0 AS depth
		   FROM interaction_events
		   WHERE project_id = $1 AND event_id = $2
		   UNION ALL
		   SELECT e.event_id, e.project_id, e.session_id, e.agent_id, e.parent_event_id, e.kind, e.content, e.ts, c.depth + 1
		   FROM interaction_events e
		   JOIN chain c ON e.event_id = c.parent_event_id
		 )
		 SELECT event_id, project_id, session_id, agent_id, parent_event_id, kind, content, ts
		 FROM chain
		 ORDER BY depth DESC`,
		projectID, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: interaction chain: %w", err)
	}
	defer rows.Close()

	var chain []model.InteractionEvent
	for rows.Next() {
		e, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan chain event: %w", err)
		}
		chain = append(chain, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("storage: interaction event %s: %w", eventID, ErrNotFound)
	}
	return chain, nil
}

// SearchInteractions runs cosine-distance search over embedded interaction
// events, scoped to the requesting agent and optionally one session.
func (db *DB) SearchInteractions(ctx context.Context, projectID, agentID, sessionID string, embedding pgvector.Vector, topK int) ([]model.InteractionSearchResult, error) {
	if topK <= 0 {
		topK = 10
	}
	query := `SELECT ` + interactionCols + `, (embedding <=> $3) AS distance
		 FROM interaction_events
		 WHERE project_id = $1 AND agent_id = $2 AND embedding IS NOT NULL`
	args := []any{projectID, agentID, embedding}
	if sessionID != "" {
		query += ` AND session_id = $4`
		args = append(args, sessionID)
	}
	query += fmt.Sprintf(` ORDER BY distance ASC, ts DESC LIMIT %d`, topK)

	rows, err := db.Read().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: search interactions: %w", err)
	}
	defer rows.Close()

	var results []model.InteractionSearchResult
	for rows.Next() {
		var r model.InteractionSearchResult
		if err := rows.Scan(
			&r.Event.EventID, &r.Event.ProjectID, &r.Event.SessionID, &r.Event.AgentID,
			&r.Event.ParentEventID, &r.Event.Kind, &r.Event.Content, &r.Event.Timestamp,
			&r.Distance,
		); err != nil {
			return nil, fmt.Errorf("storage: scan interaction result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
