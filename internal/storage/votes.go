package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aegis-ai/aegis/internal/model"
)

// InsertVoteTx appends a vote to the audit history. Aggregate counters on
// the memory row are updated separately via ApplyVoteTx in the same
// transaction.
func (db *DB) InsertVoteTx(ctx context.Context, tx pgx.Tx, v *model.VoteHistory) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO vote_history (id, memory_id, project_id, vote, voter_agent_id, context, task_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.MemoryID, v.ProjectID, v.Vote, v.VoterAgentID, v.Context, v.TaskID, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert vote: %w", err)
	}
	return nil
}

// ListVotes returns the vote history for a memory, newest first.
func (db *DB) ListVotes(ctx context.Context, projectID, memoryID string, limit int) ([]model.VoteHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Read().Query(ctx,
		`SELECT id, memory_id, project_id, vote, voter_agent_id, context, task_id, created_at
		 FROM vote_history
		 WHERE project_id = $1 AND memory_id = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		projectID, memoryID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list votes: %w", err)
	}
	defer rows.Close()

	var votes []model.VoteHistory
	for rows.Next() {
		var v model.VoteHistory
		if err := rows.Scan(
			&v.ID, &v.MemoryID, &v.ProjectID, &v.Vote, &v.VoterAgentID,
			&v.Context, &v.TaskID, &v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}
