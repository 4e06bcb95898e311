package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aegis-ai/aegis/internal/model"
)

const runCols = `run_id, project_id, agent_id, task, outcome, memories_used,
	 error_pattern, started_at, completed_at`

func scanRun(row scanner) (model.Run, error) {
	var r model.Run
	err := row.Scan(
		&r.RunID, &r.ProjectID, &r.AgentID, &r.Task, &r.Outcome, &r.MemoriesUsed,
		&r.ErrorPattern, &r.StartedAt, &r.CompletedAt,
	)
	return r, err
}

// InsertRun records the start of an agent execution.
func (db *DB) InsertRun(ctx context.Context, r *model.Run) error {
	if r.RunID == "" {
		r.RunID = model.NewID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO ace_runs (`+runCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.RunID, r.ProjectID, r.AgentID, r.Task, r.Outcome, emptyList(r.MemoriesUsed),
		r.ErrorPattern, r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID within a project.
func (db *DB) GetRun(ctx context.Context, projectID, runID string) (model.Run, error) {
	row := db.Read().QueryRow(ctx,
		`SELECT `+runCols+` FROM ace_runs WHERE project_id = $1 AND run_id = $2`,
		projectID, runID,
	)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, fmt.Errorf("storage: run %s: %w", runID, ErrNotFound)
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return r, nil
}

// CompleteRunTx records the outcome of a run. Completing an already
// completed run returns ErrDuplicate so callers can surface the conflict.
func (db *DB) CompleteRunTx(ctx context.Context, tx pgx.Tx, projectID, runID string, outcome model.RunOutcome, memoriesUsed []string, errorPattern *string) (model.Run, error) {
	row := tx.QueryRow(ctx,
		`UPDATE ace_runs
		 SET outcome = $3, memories_used = $4, error_pattern = $5, completed_at = now()
		 WHERE project_id = $1 AND run_id = $2 AND completed_at IS NULL
		 RETURNING `+runCols,
		projectID, runID, outcome, emptyList(memoriesUsed), errorPattern,
	)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish missing from already-completed.
			var exists bool
			if checkErr := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM ace_runs WHERE project_id = $1 AND run_id = $2)`,
				projectID, runID,
			).Scan(&exists); checkErr != nil {
				return model.Run{}, fmt.Errorf("storage: complete run: %w", checkErr)
			}
			if exists {
				return model.Run{}, fmt.Errorf("storage: run %s already completed: %w", runID, ErrDuplicate)
			}
			return model.Run{}, fmt.Errorf("storage: run %s: %w", runID, ErrNotFound)
		}
		return model.Run{}, fmt.Errorf("storage: complete run: %w", err)
	}
	return r, nil
}

// ListCompletedRuns returns the newest completed runs for a project. Used
// by the dashboard's outcome and correlation views.
func (db *DB) ListCompletedRuns(ctx context.Context, projectID string, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Read().Query(ctx,
		`SELECT `+runCols+` FROM ace_runs
		 WHERE project_id = $1 AND completed_at IS NOT NULL
		 ORDER BY completed_at DESC
		 LIMIT $2`,
		projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list completed runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunOutcomeCounts aggregates completed runs by outcome.
func (db *DB) RunOutcomeCounts(ctx context.Context, projectID string) (map[model.RunOutcome]int, error) {
	rows, err := db.Read().Query(ctx,
		`SELECT outcome, count(*) FROM ace_runs
		 WHERE project_id = $1 AND completed_at IS NOT NULL
		 GROUP BY outcome`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: run outcome counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.RunOutcome]int)
	for rows.Next() {
		var outcome model.RunOutcome
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("storage: scan outcome count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
