package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/aegis-ai/aegis/internal/model"
)

// memoryCols is the canonical select list for memory rows. shared_with is
// aggregated from the ACL join table so every read returns the full list.
const memoryCols = `m.id, m.project_id, m.namespace, m.agent_id, m.content, m.content_hash,
	 m.scope, m.memory_type, m.metadata, m.helpful_votes, m.harmful_votes, m.is_deprecated,
	 m.superseded_by, m.deprecation_reason, m.session_id, m.entity_id, m.sequence_number,
	 m.ttl_seconds, m.expires_at, m.created_at, m.updated_at,
	 COALESCE((SELECT array_agg(s.shared_agent_id ORDER BY s.shared_agent_id)
	           FROM memory_shared_agents s WHERE s.memory_id = m.id), '{}')`

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	err := row.Scan(
		&m.ID, &m.ProjectID, &m.Namespace, &m.AgentID, &m.Content, &m.ContentHash,
		&m.Scope, &m.MemoryType, &m.Metadata, &m.HelpfulVotes, &m.HarmfulVotes, &m.IsDeprecated,
		&m.SupersededBy, &m.DeprecationReason, &m.SessionID, &m.EntityID, &m.SequenceNumber,
		&m.TTLSeconds, &m.ExpiresAt, &m.CreatedAt, &m.UpdatedAt,
		&m.SharedWith,
	)
	return m, err
}

// InsertMemoryTx inserts a memory and its shared-agent ACL rows. Missing
// ID, hash, and timestamps are filled in. Returns ErrDuplicate when the
// live-content unique index rejects the row.
func (db *DB) InsertMemoryTx(ctx context.Context, tx pgx.Tx, m *model.Memory) error {
	if m.ID == "" {
		m.ID = model.NewID()
	}
	if m.ContentHash == "" {
		m.ContentHash = model.HashContent(m.Content)
	}
	if m.Namespace == "" {
		m.Namespace = model.DefaultNamespace
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	if m.TTLSeconds != nil && m.ExpiresAt == nil {
		exp := m.CreatedAt.Add(time.Duration(*m.TTLSeconds) * time.Second)
		m.ExpiresAt = &exp
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO memories (id, project_id, namespace, agent_id, content, content_hash,
		 embedding, scope, memory_type, metadata, helpful_votes, harmful_votes, is_deprecated,
		 session_id, entity_id, sequence_number, ttl_seconds, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		m.ID, m.ProjectID, m.Namespace, m.AgentID, m.Content, m.ContentHash,
		m.Embedding, m.Scope, m.MemoryType, m.Metadata, m.HelpfulVotes, m.HarmfulVotes, m.IsDeprecated,
		m.SessionID, m.EntityID, m.SequenceNumber, m.TTLSeconds, m.ExpiresAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("storage: insert memory: %w", err)
	}

	for _, agent := range m.SharedWith {
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory_shared_agents (memory_id, shared_agent_id)
			 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			m.ID, agent,
		); err != nil {
			return fmt.Errorf("storage: insert shared agent: %w", err)
		}
	}
	return nil
}

// GetLiveByContentHashTx returns the non-deprecated memory matching the
// tenant and content hash, for dedup reconciliation after a unique
// violation. Returns ErrNotFound when no live row matches.
func (db *DB) GetLiveByContentHashTx(ctx context.Context, tx pgx.Tx, projectID, namespace, agentID, contentHash string) (model.Memory, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+memoryCols+`
		 FROM memories m
		 WHERE m.project_id = $1 AND m.namespace = $2 AND m.agent_id = $3
		   AND m.content_hash = $4 AND NOT m.is_deprecated`,
		projectID, namespace, agentID, contentHash,
	)
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Memory{}, ErrNotFound
		}
		return model.Memory{}, fmt.Errorf("storage: get memory by hash: %w", err)
	}
	return m, nil
}

// GetMemory retrieves a memory by ID within a project.
func (db *DB) GetMemory(ctx context.Context, projectID, id string) (model.Memory, error) {
	row := db.Read().QueryRow(ctx,
		`SELECT `+memoryCols+` FROM memories m WHERE m.project_id = $1 AND m.id = $2`,
		projectID, id,
	)
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Memory{}, fmt.Errorf("storage: memory %s: %w", id, ErrNotFound)
		}
		return model.Memory{}, fmt.Errorf("storage: get memory: %w", err)
	}
	return m, nil
}

// DeleteMemory removes a memory permanently. ACL rows, votes, and events
// cascade.
func (db *DB) DeleteMemory(ctx context.Context, projectID, id string) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM memories WHERE project_id = $1 AND id = $2`, projectID, id)
	if err != nil {
		return fmt.Errorf("storage: delete memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: memory %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeprecateMemoryTx soft-deletes a memory and returns its namespace for
// event attribution. Deprecated rows stay for audit and fall out of
// search and the dedup index. A target that is already deprecated
// returns ErrAlreadyDeprecated so callers can treat the repeat as a
// no-op.
func (db *DB) DeprecateMemoryTx(ctx context.Context, tx pgx.Tx, projectID, id string, supersededBy, reason *string) (string, error) {
	var namespace string
	err := tx.QueryRow(ctx,
		`UPDATE memories
		 SET is_deprecated = TRUE, superseded_by = $3, deprecation_reason = $4, updated_at = now()
		 WHERE project_id = $1 AND id = $2 AND NOT is_deprecated
		 RETURNING namespace`,
		projectID, id, supersededBy, reason,
	).Scan(&namespace)
	if errors.Is(err, pgx.ErrNoRows) {
		var deprecated bool
		err := tx.QueryRow(ctx,
			`SELECT is_deprecated FROM memories WHERE project_id = $1 AND id = $2`,
			projectID, id,
		).Scan(&deprecated)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("storage: memory %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return "", fmt.Errorf("storage: deprecate memory: %w", err)
		}
		return "", fmt.Errorf("storage: memory %s: %w", id, ErrAlreadyDeprecated)
	}
	if err != nil {
		return "", fmt.Errorf("storage: deprecate memory: %w", err)
	}
	return namespace, nil
}

// MergeMemoryMetadataTx shallow-merges the given keys into the memory's
// metadata bag and returns its namespace for event attribution.
func (db *DB) MergeMemoryMetadataTx(ctx context.Context, tx pgx.Tx, projectID, id string, metadata map[string]any) (string, error) {
	var namespace string
	err := tx.QueryRow(ctx,
		`UPDATE memories SET metadata = metadata || $3::jsonb, updated_at = now()
		 WHERE project_id = $1 AND id = $2
		 RETURNING namespace`,
		projectID, id, metadata,
	).Scan(&namespace)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("storage: memory %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("storage: merge memory metadata: %w", err)
	}
	return namespace, nil
}

// ApplyVoteTx atomically increments the vote counter and returns the new
// tallies plus the memory's namespace for event attribution. The
// increment happens in SQL so concurrent votes never lose updates.
func (db *DB) ApplyVoteTx(ctx context.Context, tx pgx.Tx, projectID, id string, vote model.Vote) (helpful, harmful int, namespace string, err error) {
	col := "helpful_votes"
	if vote == model.VoteHarmful {
		col = "harmful_votes"
	}
	err = tx.QueryRow(ctx,
		`UPDATE memories SET `+col+` = `+col+` + 1, updated_at = now()
		 WHERE project_id = $1 AND id = $2
		 RETURNING helpful_votes, harmful_votes, namespace`,
		projectID, id,
	).Scan(&helpful, &harmful, &namespace)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, "", fmt.Errorf("storage: memory %s: %w", id, ErrNotFound)
		}
		return 0, 0, "", fmt.Errorf("storage: apply vote: %w", err)
	}
	return helpful, harmful, namespace, nil
}

// SearchQuery parameterizes semantic search over memories.
type SearchQuery struct {
	ProjectID string
	Namespace string
	AgentID   string
	Embedding pgvector.Vector
	TopK      int
	// MaxDistance drops results whose cosine distance exceeds it.
	MaxDistance       *float64
	MetadataFilter    map[string]any
	MemoryTypes       []model.MemoryType
	IncludeDeprecated bool
	// TargetAgentIDs switches to cross-agent mode: results come from the
	// listed authors, still subject to the requester's ACL visibility.
	TargetAgentIDs []string
}

// aclVisible is the scope predicate: an agent sees global memories, its own
// rows, and agent-shared rows that list it. Parameter placeholders are for
// the requesting agent.
func aclVisible(agentParam string) string {
	return `(m.scope = 'global'
	   OR m.agent_id = ` + agentParam + `
	   OR (m.scope = 'agent-shared' AND EXISTS (
	        SELECT 1 FROM memory_shared_agents sa
	        WHERE sa.memory_id = m.id AND sa.shared_agent_id = ` + agentParam + `)))`
}

// SearchMemories runs cosine-distance search with ACL, liveness, and
// metadata filtering applied in SQL. Results are ordered by distance, then
// recency, then ID so ties are deterministic.
func (db *DB) SearchMemories(ctx context.Context, q SearchQuery) ([]model.SearchResult, error) {
	if q.TopK <= 0 {
		q.TopK = 10
	}
	if q.Namespace == "" {
		q.Namespace = model.DefaultNamespace
	}

	conds := []string{
		"m.project_id = $1",
		"m.namespace = $2",
		"m.embedding IS NOT NULL",
		"(m.expires_at IS NULL OR m.expires_at > now())",
		aclVisible("$3"),
	}
	args := []any{q.ProjectID, q.Namespace, q.AgentID, q.Embedding}
	next := 5

	if !q.IncludeDeprecated {
		conds = append(conds, "NOT m.is_deprecated")
	}
	if len(q.TargetAgentIDs) > 0 {
		conds = append(conds, fmt.Sprintf("m.agent_id = ANY($%d)", next))
		args = append(args, q.TargetAgentIDs)
		next++
	}
	if len(q.MemoryTypes) > 0 {
		types := make([]string, len(q.MemoryTypes))
		for i, t := range q.MemoryTypes {
			types[i] = string(t)
		}
		conds = append(conds, fmt.Sprintf("m.memory_type = ANY($%d)", next))
		args = append(args, types)
		next++
	}
	if len(q.MetadataFilter) > 0 {
		conds = append(conds, fmt.Sprintf("m.metadata @> $%d::jsonb", next))
		args = append(args, q.MetadataFilter)
		next++
	}
	if q.MaxDistance != nil {
		conds = append(conds, fmt.Sprintf("(m.embedding <=> $4) <= $%d", next))
		args = append(args, *q.MaxDistance)
		next++
	}

	query := fmt.Sprintf(
		`SELECT `+memoryCols+`, (m.embedding <=> $4) AS distance
		 FROM memories m
		 WHERE %s
		 ORDER BY distance ASC, m.created_at DESC, m.id ASC
		 LIMIT %d`,
		strings.Join(conds, " AND "), q.TopK,
	)

	rows, err := db.Read().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: search memories: %w", err)
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var r model.SearchResult
		if err := rows.Scan(
			&r.Memory.ID, &r.Memory.ProjectID, &r.Memory.Namespace, &r.Memory.AgentID,
			&r.Memory.Content, &r.Memory.ContentHash, &r.Memory.Scope, &r.Memory.MemoryType,
			&r.Memory.Metadata, &r.Memory.HelpfulVotes, &r.Memory.HarmfulVotes, &r.Memory.IsDeprecated,
			&r.Memory.SupersededBy, &r.Memory.DeprecationReason,
			&r.Memory.SessionID, &r.Memory.EntityID, &r.Memory.SequenceNumber,
			&r.Memory.TTLSeconds, &r.Memory.ExpiresAt, &r.Memory.CreatedAt, &r.Memory.UpdatedAt,
			&r.Memory.SharedWith, &r.Distance,
		); err != nil {
			return nil, fmt.Errorf("storage: scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// PlaybookQuery parameterizes effectiveness-weighted retrieval.
type PlaybookQuery struct {
	ProjectID        string
	Namespace        string
	AgentID          string
	Embedding        pgvector.Vector
	TopK             int
	MemoryTypes      []model.MemoryType
	MinEffectiveness *float64
}

// PlaybookEntry is a ranked playbook result with its score breakdown.
type PlaybookEntry struct {
	Memory        model.Memory `json:"memory"`
	Similarity    float64      `json:"similarity"`
	Effectiveness float64      `json:"effectiveness"`
	Rank          float64      `json:"rank"`
}

// SearchPlaybook ranks live memories by similarity blended with vote
// effectiveness and a recency bucket. The rank formula lives in SQL so the
// index-assisted candidate set is re-ordered in one round trip.
func (db *DB) SearchPlaybook(ctx context.Context, q PlaybookQuery) ([]PlaybookEntry, error) {
	if q.TopK <= 0 {
		q.TopK = 10
	}
	if q.Namespace == "" {
		q.Namespace = model.DefaultNamespace
	}
	if len(q.MemoryTypes) == 0 {
		q.MemoryTypes = []model.MemoryType{model.TypeStrategy, model.TypeReflection}
	}
	types := make([]string, len(q.MemoryTypes))
	for i, t := range q.MemoryTypes {
		types[i] = string(t)
	}

	conds := []string{
		"m.project_id = $1",
		"m.namespace = $2",
		"m.embedding IS NOT NULL",
		"NOT m.is_deprecated",
		"(m.expires_at IS NULL OR m.expires_at > now())",
		"m.memory_type = ANY($5)",
		aclVisible("$3"),
	}
	args := []any{q.ProjectID, q.Namespace, q.AgentID, q.Embedding, types}
	if q.MinEffectiveness != nil {
		conds = append(conds,
			"(m.helpful_votes - m.harmful_votes)::float / (m.helpful_votes + m.harmful_votes + 1) >= $6")
		args = append(args, *q.MinEffectiveness)
	}

	// Rank = similarity + 0.30*effectiveness + 0.05*recency_bucket, where
	// recency_bucket is 2 (<7d), 1 (<30d), or 0.
	query := fmt.Sprintf(
		`SELECT `+memoryCols+`,
		   1 - (m.embedding <=> $4) AS similarity,
		   (m.helpful_votes - m.harmful_votes)::float / (m.helpful_votes + m.harmful_votes + 1) AS effectiveness,
		   (1 - (m.embedding <=> $4))
		     + 0.30 * ((m.helpful_votes - m.harmful_votes)::float / (m.helpful_votes + m.harmful_votes + 1))
		     + 0.05 * (CASE WHEN m.created_at > now() - interval '7 days' THEN 2
		               WHEN m.created_at > now() - interval '30 days' THEN 1
		               ELSE 0 END) AS rank
		 FROM memories m
		 WHERE %s
		 ORDER BY rank DESC, m.created_at DESC, m.id ASC
		 LIMIT %d`,
		strings.Join(conds, " AND "), q.TopK,
	)

	rows, err := db.Read().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: search playbook: %w", err)
	}
	defer rows.Close()

	var entries []PlaybookEntry
	for rows.Next() {
		var e PlaybookEntry
		if err := rows.Scan(
			&e.Memory.ID, &e.Memory.ProjectID, &e.Memory.Namespace, &e.Memory.AgentID,
			&e.Memory.Content, &e.Memory.ContentHash, &e.Memory.Scope, &e.Memory.MemoryType,
			&e.Memory.Metadata, &e.Memory.HelpfulVotes, &e.Memory.HarmfulVotes, &e.Memory.IsDeprecated,
			&e.Memory.SupersededBy, &e.Memory.DeprecationReason,
			&e.Memory.SessionID, &e.Memory.EntityID, &e.Memory.SequenceNumber,
			&e.Memory.TTLSeconds, &e.Memory.ExpiresAt, &e.Memory.CreatedAt, &e.Memory.UpdatedAt,
			&e.Memory.SharedWith, &e.Similarity, &e.Effectiveness, &e.Rank,
		); err != nil {
			return nil, fmt.Errorf("storage: scan playbook entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListSessionMemories returns a session's memories in sequence order.
func (db *DB) ListSessionMemories(ctx context.Context, projectID, namespace, sessionID string) ([]model.Memory, error) {
	rows, err := db.Read().Query(ctx,
		`SELECT `+memoryCols+`
		 FROM memories m
		 WHERE m.project_id = $1 AND m.namespace = $2 AND m.session_id = $3 AND NOT m.is_deprecated
		 ORDER BY m.sequence_number ASC NULLS LAST, m.created_at ASC`,
		projectID, namespace, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list session memories: %w", err)
	}
	return collectMemories(rows)
}

// ListEntityMemories returns the newest memories attached to an entity.
func (db *DB) ListEntityMemories(ctx context.Context, projectID, namespace, entityID string, limit int) ([]model.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Read().Query(ctx,
		`SELECT `+memoryCols+`
		 FROM memories m
		 WHERE m.project_id = $1 AND m.namespace = $2 AND m.entity_id = $3 AND NOT m.is_deprecated
		 ORDER BY m.created_at DESC, m.id ASC
		 LIMIT $4`,
		projectID, namespace, entityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list entity memories: %w", err)
	}
	return collectMemories(rows)
}

func collectMemories(rows pgx.Rows) ([]model.Memory, error) {
	defer rows.Close()
	var out []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ExportCursor marks a keyset position: the (created_at, id) pair of the
// last row already returned.
type ExportCursor struct {
	CreatedAt time.Time
	ID        string
}

// ExportMemories pages live memories in creation order, keyset-paged on
// (created_at, id) so rows sharing a timestamp never repeat or drop
// across pages. Pass a nil cursor for the first page; a short page means
// the export is done.
func (db *DB) ExportMemories(ctx context.Context, projectID, namespace, agentID string, includeEmbeddings bool, after *ExportCursor, limit int) ([]model.Memory, error) {
	if limit <= 0 {
		limit = 500
	}
	conds := []string{"m.project_id = $1", "NOT m.is_deprecated"}
	args := []any{projectID}
	next := 2
	if after != nil {
		conds = append(conds, fmt.Sprintf("(m.created_at, m.id) > ($%d, $%d)", next, next+1))
		args = append(args, after.CreatedAt, after.ID)
		next += 2
	}
	if namespace != "" {
		conds = append(conds, fmt.Sprintf("m.namespace = $%d", next))
		args = append(args, namespace)
		next++
	}
	if agentID != "" {
		conds = append(conds, fmt.Sprintf("m.agent_id = $%d", next))
		args = append(args, agentID)
		next++
	}

	embCol := "NULL::vector"
	if includeEmbeddings {
		embCol = "m.embedding"
	}
	query := fmt.Sprintf(
		`SELECT `+memoryCols+`, %s
		 FROM memories m
		 WHERE %s
		 ORDER BY m.created_at ASC, m.id ASC
		 LIMIT %d`,
		embCol, strings.Join(conds, " AND "), limit,
	)

	rows, err := db.Read().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: export memories: %w", err)
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		var m model.Memory
		if err := rows.Scan(
			&m.ID, &m.ProjectID, &m.Namespace, &m.AgentID, &m.Content, &m.ContentHash,
			&m.Scope, &m.MemoryType, &m.Metadata, &m.HelpfulVotes, &m.HarmfulVotes, &m.IsDeprecated,
			&m.SupersededBy, &m.DeprecationReason, &m.SessionID, &m.EntityID, &m.SequenceNumber,
			&m.TTLSeconds, &m.ExpiresAt, &m.CreatedAt, &m.UpdatedAt,
			&m.SharedWith, &m.Embedding,
		); err != nil {
			return nil, fmt.Errorf("storage: scan export row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CurationCandidates returns live memories whose effectiveness has sunk to
// or below maxEffectiveness with at least minVotes total votes.
func (db *DB) CurationCandidates(ctx context.Context, projectID string, minVotes int, maxEffectiveness float64) ([]model.Memory, error) {
	rows, err := db.Read().Query(ctx,
		`SELECT `+memoryCols+`
		 FROM memories m
		 WHERE m.project_id = $1
		   AND NOT m.is_deprecated
		   AND m.helpful_votes + m.harmful_votes >= $2
		   AND (m.helpful_votes - m.harmful_votes)::float / (m.helpful_votes + m.harmful_votes + 1) <= $3
		 ORDER BY m.created_at ASC`,
		projectID, minVotes, maxEffectiveness,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: curation candidates: %w", err)
	}
	return collectMemories(rows)
}

// MemoriesMissingEmbeddings returns live rows whose embedding is NULL, for
// the startup backfill.
func (db *DB) MemoriesMissingEmbeddings(ctx context.Context, limit int) ([]model.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+memoryCols+`
		 FROM memories m
		 WHERE m.embedding IS NULL AND NOT m.is_deprecated
		 ORDER BY m.created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: memories missing embeddings: %w", err)
	}
	return collectMemories(rows)
}

// SetMemoryEmbedding writes a backfilled embedding.
func (db *DB) SetMemoryEmbedding(ctx context.Context, id string, embedding pgvector.Vector) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE memories SET embedding = $2, updated_at = now() WHERE id = $1`,
		id, embedding,
	)
	if err != nil {
		return fmt.Errorf("storage: set memory embedding: %w", err)
	}
	return nil
}

// DeleteExpired hard-deletes rows whose expiry passed more than grace ago.
// Search already hides expired rows; the sweeper only reclaims space.
func (db *DB) DeleteExpired(ctx context.Context, grace time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at < now() - make_interval(secs => $1)`,
		grace.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}
