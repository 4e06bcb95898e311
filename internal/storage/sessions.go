package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aegis-ai/aegis/internal/model"
)

const sessionCols = `project_id, session_id, agent_id, status, summary, last_action,
	 completed, in_progress, next_steps, blocked, created_at, updated_at`

func scanSession(row scanner) (model.SessionProgress, error) {
	var s model.SessionProgress
	err := row.Scan(
		&s.ProjectID, &s.SessionID, &s.AgentID, &s.Status, &s.Summary, &s.LastAction,
		&s.Completed, &s.InProgress, &s.Next, &s.Blocked, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// CreateSession inserts a new session progress record. Returns ErrDuplicate
// when the session already exists.
func (db *DB) CreateSession(ctx context.Context, s *model.SessionProgress) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = s.CreatedAt
	if s.Status == "" {
		s.Status = model.SessionActive
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO session_progress (`+sessionCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ProjectID, s.SessionID, s.AgentID, s.Status, s.Summary, s.LastAction,
		emptyList(s.Completed), emptyList(s.InProgress), emptyList(s.Next), emptyBlocked(s.Blocked),
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("storage: create session: %w", err)
	}
	return nil
}

// GetSessionTx reads a session for update inside a transaction.
func (db *DB) GetSessionTx(ctx context.Context, tx pgx.Tx, projectID, sessionID string) (model.SessionProgress, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM session_progress
		 WHERE project_id = $1 AND session_id = $2
		 FOR UPDATE`,
		projectID, sessionID,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SessionProgress{}, fmt.Errorf("storage: session %s: %w", sessionID, ErrNotFound)
		}
		return model.SessionProgress{}, fmt.Errorf("storage: get session: %w", err)
	}
	return s, nil
}

// GetSession reads a session outside a transaction.
func (db *DB) GetSession(ctx context.Context, projectID, sessionID string) (model.SessionProgress, error) {
	row := db.Read().QueryRow(ctx,
		`SELECT `+sessionCols+` FROM session_progress
		 WHERE project_id = $1 AND session_id = $2`,
		projectID, sessionID,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SessionProgress{}, fmt.Errorf("storage: session %s: %w", sessionID, ErrNotFound)
		}
		return model.SessionProgress{}, fmt.Errorf("storage: get session: %w", err)
	}
	return s, nil
}

// SaveSessionTx writes the merged session state back.
func (db *DB) SaveSessionTx(ctx context.Context, tx pgx.Tx, s model.SessionProgress) error {
	tag, err := tx.Exec(ctx,
		`UPDATE session_progress
		 SET agent_id = $3, status = $4, summary = $5, last_action = $6,
		     completed = $7, in_progress = $8, next_steps = $9, blocked = $10,
		     updated_at = now()
		 WHERE project_id = $1 AND session_id = $2`,
		s.ProjectID, s.SessionID, s.AgentID, s.Status, s.Summary, s.LastAction,
		emptyList(s.Completed), emptyList(s.InProgress), emptyList(s.Next), emptyBlocked(s.Blocked),
	)
	if err != nil {
		return fmt.Errorf("storage: save session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: session %s: %w", s.SessionID, ErrNotFound)
	}
	return nil
}

// ListSessions returns a project's sessions, most recently updated first,
// optionally filtered by agent.
func (db *DB) ListSessions(ctx context.Context, projectID, agentID string, limit int) ([]model.SessionProgress, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sessionCols + ` FROM session_progress WHERE project_id = $1`
	args := []any{projectID}
	if agentID != "" {
		query += ` AND agent_id = $2`
		args = append(args, agentID)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT %d`, limit)

	rows, err := db.Read().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.SessionProgress
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// emptyList keeps JSONB list columns as [] instead of null.
func emptyList(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func emptyBlocked(v []model.BlockedItem) []model.BlockedItem {
	if v == nil {
		return []model.BlockedItem{}
	}
	return v
}
