package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aegis-ai/aegis/internal/model"
)

// EnsureProject creates the project if it does not exist. Called at
// startup for the default project and lazily when new tenants appear.
func (db *DB) EnsureProject(ctx context.Context, id, name string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO projects (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, name,
	)
	if err != nil {
		return fmt.Errorf("storage: ensure project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (db *DB) GetProject(ctx context.Context, id string) (model.Project, error) {
	var p model.Project
	err := db.Read().QueryRow(ctx,
		`SELECT id, name, is_active, created_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.IsActive, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Project{}, fmt.Errorf("storage: project %s: %w", id, ErrNotFound)
		}
		return model.Project{}, fmt.Errorf("storage: get project: %w", err)
	}
	return p, nil
}

// SetProjectActive toggles a project's active flag. Deactivated projects
// keep their data but their API keys stop authenticating.
func (db *DB) SetProjectActive(ctx context.Context, id string, active bool) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE projects SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("storage: set project active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: project %s: %w", id, ErrNotFound)
	}
	return nil
}

const apiKeyCols = `id, project_id, prefix, key_hash, name, is_active, expires_at, created_at, last_used_at`

func scanAPIKey(row scanner) (model.APIKey, error) {
	var k model.APIKey
	err := row.Scan(
		&k.ID, &k.ProjectID, &k.Prefix, &k.KeyHash, &k.Name,
		&k.IsActive, &k.ExpiresAt, &k.CreatedAt, &k.LastUsedAt,
	)
	return k, err
}

// CreateAPIKey inserts a new API key. The caller has already hashed the
// secret; only the digest and prefix are stored.
func (db *DB) CreateAPIKey(ctx context.Context, k *model.APIKey) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_keys (id, project_id, prefix, key_hash, name, is_active, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7)`,
		k.ID, k.ProjectID, k.Prefix, k.KeyHash, k.Name, k.ExpiresAt, k.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("storage: create api key: %w", err)
	}
	k.IsActive = true
	return nil
}

// GetAPIKeyByPrefix looks up a single active, unexpired API key by prefix.
// Used as an O(1) pre-filter before argon2 verification. Keys of
// deactivated projects are invisible here, so suspending a project cuts
// off all its credentials at once. Returns ErrNotFound if no matching
// active key exists.
func (db *DB) GetAPIKeyByPrefix(ctx context.Context, prefix string) (model.APIKey, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT k.id, k.project_id, k.prefix, k.key_hash, k.name, k.is_active,
		        k.expires_at, k.created_at, k.last_used_at
		 FROM api_keys k
		 JOIN projects p ON p.id = k.project_id AND p.is_active
		 WHERE k.prefix = $1
		   AND k.is_active
		   AND (k.expires_at IS NULL OR k.expires_at > now())
		 LIMIT 1`,
		prefix,
	)
	k, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, ErrNotFound
		}
		return model.APIKey{}, fmt.Errorf("storage: get api key by prefix: %w", err)
	}
	return k, nil
}

// ListAPIKeys returns a project's keys, newest first. Inactive keys are
// included for admin visibility.
func (db *DB) ListAPIKeys(ctx context.Context, projectID string) ([]model.APIKey, error) {
	rows, err := db.Read().Query(ctx,
		`SELECT `+apiKeyCols+` FROM api_keys
		 WHERE project_id = $1
		 ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey deactivates a key within a project.
func (db *DB) RevokeAPIKey(ctx context.Context, projectID string, keyID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET is_active = FALSE WHERE project_id = $1 AND id = $2 AND is_active`,
		projectID, keyID,
	)
	if err != nil {
		return fmt.Errorf("storage: revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: api key %s: %w", keyID, ErrNotFound)
	}
	return nil
}

// TouchAPIKeyLastUsed updates last_used_at. Called from auth on successful
// verification; callers should not block on the result.
func (db *DB) TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("storage: touch api key last_used: %w", err)
	}
	return nil
}
