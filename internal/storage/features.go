package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aegis-ai/aegis/internal/model"
)

const featureCols = `project_id, feature_id, description, status, test_steps,
	 passes, failure_reason, verified_by, created_at, updated_at`

func scanFeature(row scanner) (model.FeatureTracker, error) {
	var f model.FeatureTracker
	err := row.Scan(
		&f.ProjectID, &f.FeatureID, &f.Description, &f.Status, &f.TestSteps,
		&f.Passes, &f.FailureReason, &f.VerifiedBy, &f.CreatedAt, &f.UpdatedAt,
	)
	return f, err
}

// CreateFeature inserts a new feature tracker record. Returns ErrDuplicate
// when the feature already exists.
func (db *DB) CreateFeature(ctx context.Context, f *model.FeatureTracker) error {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = f.CreatedAt
	if f.Status == "" {
		f.Status = model.FeatureNotStarted
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO feature_tracker (`+featureCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ProjectID, f.FeatureID, f.Description, f.Status, emptyList(f.TestSteps),
		f.Passes, f.FailureReason, f.VerifiedBy, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("storage: create feature: %w", err)
	}
	return nil
}

// GetFeatureTx reads a feature for update inside a transaction.
func (db *DB) GetFeatureTx(ctx context.Context, tx pgx.Tx, projectID, featureID string) (model.FeatureTracker, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+featureCols+` FROM feature_tracker
		 WHERE project_id = $1 AND feature_id = $2
		 FOR UPDATE`,
		projectID, featureID,
	)
	f, err := scanFeature(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FeatureTracker{}, fmt.Errorf("storage: feature %s: %w", featureID, ErrNotFound)
		}
		return model.FeatureTracker{}, fmt.Errorf("storage: get feature: %w", err)
	}
	return f, nil
}

// GetFeature reads a feature outside a transaction.
func (db *DB) GetFeature(ctx context.Context, projectID, featureID string) (model.FeatureTracker, error) {
	row := db.Read().QueryRow(ctx,
		`SELECT `+featureCols+` FROM feature_tracker
		 WHERE project_id = $1 AND feature_id = $2`,
		projectID, featureID,
	)
	f, err := scanFeature(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FeatureTracker{}, fmt.Errorf("storage: feature %s: %w", featureID, ErrNotFound)
		}
		return model.FeatureTracker{}, fmt.Errorf("storage: get feature: %w", err)
	}
	return f, nil
}

// SaveFeatureTx writes the merged feature state back.
func (db *DB) SaveFeatureTx(ctx context.Context, tx pgx.Tx, f model.FeatureTracker) error {
	tag, err := tx.Exec(ctx,
		`UPDATE feature_tracker
		 SET description = $3, status = $4, test_steps = $5, passes = $6,
		     failure_reason = $7, verified_by = $8, updated_at = now()
		 WHERE project_id = $1 AND feature_id = $2`,
		f.ProjectID, f.FeatureID, f.Description, f.Status, emptyList(f.TestSteps),
		f.Passes, f.FailureReason, f.VerifiedBy,
	)
	if err != nil {
		return fmt.Errorf("storage: save feature: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: feature %s: %w", f.FeatureID, ErrNotFound)
	}
	return nil
}

// ListFeatures returns a project's features, optionally filtered by status.
func (db *DB) ListFeatures(ctx context.Context, projectID string, status model.FeatureStatus, limit int) ([]model.FeatureTracker, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + featureCols + ` FROM feature_tracker WHERE project_id = $1`
	args := []any{projectID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT %d`, limit)

	rows, err := db.Read().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list features: %w", err)
	}
	defer rows.Close()

	var features []model.FeatureTracker
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan feature: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}
