// Package memories implements the core memory operations: add with
// dedup, semantic query with scope ACLs, export/import, typed
// repositories, and TTL sweeping.
package memories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/aegis-ai/aegis/internal/model"
	"github.com/aegis-ai/aegis/internal/service/embedding"
	"github.com/aegis-ai/aegis/internal/storage"
)

// Service orchestrates storage and the embedding pipeline for memory
// operations.
type Service struct {
	db     *storage.DB
	emb    *embedding.Service
	logger *slog.Logger
}

// New builds the memories service.
func New(db *storage.DB, emb *embedding.Service, logger *slog.Logger) *Service {
	return &Service{db: db, emb: emb, logger: logger}
}

// AddResult reports an insert outcome. Created is false when dedup
// returned an existing live memory instead.
type AddResult struct {
	Memory  model.Memory `json:"memory"`
	Created bool         `json:"created"`
}

const maxTopK = 100

// Add inserts one memory, embedding its content first. Duplicate live
// content within the (project, namespace, agent) tenant returns the
// existing memory unchanged.
func (s *Service) Add(ctx context.Context, projectID string, req model.AddMemoryRequest) (AddResult, error) {
	m, err := s.buildMemory(projectID, req)
	if err != nil {
		return AddResult{}, err
	}

	vec, err := s.emb.Embed(ctx, m.Content)
	if err != nil {
		return AddResult{}, err
	}
	m.Embedding = &vec

	var res AddResult
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.insertOne(ctx, tx, &m, &res)
	})
	if err != nil {
		return AddResult{}, err
	}
	return res, nil
}

// AddBatch inserts up to maxBatchItems memories in one transaction,
// embedding all contents in one provider pass. Duplicates inside and
// across the batch are deduplicated.
const maxBatchItems = 100

func (s *Service) AddBatch(ctx context.Context, projectID string, req model.AddBatchRequest) (model.AddBatchResponse, error) {
	if len(req.Items) == 0 {
		return model.AddBatchResponse{}, model.E(model.KindValidation, "items must not be empty")
	}
	if len(req.Items) > maxBatchItems {
		return model.AddBatchResponse{}, model.E(model.KindValidation, "batch exceeds %d items", maxBatchItems)
	}

	ms := make([]model.Memory, len(req.Items))
	texts := make([]string, len(req.Items))
	for i, item := range req.Items {
		m, err := s.buildMemory(projectID, item)
		if err != nil {
			return model.AddBatchResponse{}, model.Wrap(model.KindValidation, err, "item %d", i)
		}
		ms[i] = m
		texts[i] = m.Content
	}

	vecs, err := s.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return model.AddBatchResponse{}, err
	}

	var resp model.AddBatchResponse
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for i := range ms {
			ms[i].Embedding = &vecs[i]
			var res AddResult
			if err := s.insertOne(ctx, tx, &ms[i], &res); err != nil {
				return err
			}
			if res.Created {
				resp.Added++
			} else {
				resp.Deduplicated++
			}
			resp.IDs = append(resp.IDs, res.Memory.ID)
		}
		return nil
	})
	if err != nil {
		return model.AddBatchResponse{}, err
	}
	return resp, nil
}

// insertOne inserts within tx, reconciling dedup collisions against the
// live row and recording the created event.
func (s *Service) insertOne(ctx context.Context, tx pgx.Tx, m *model.Memory, res *AddResult) error {
	err := s.db.InsertMemoryTx(ctx, tx, m)
	if errors.Is(err, storage.ErrDuplicate) {
		existing, getErr := s.db.GetLiveByContentHashTx(ctx, tx, m.ProjectID, m.Namespace, m.AgentID, m.ContentHash)
		if getErr != nil {
			return getErr
		}
		res.Memory = existing
		res.Created = false
		return nil
	}
	if err != nil {
		return err
	}

	res.Memory = *m
	res.Created = true
	return s.db.InsertMemoryEventTx(ctx, tx, &model.MemoryEvent{
		MemoryID:  m.ID,
		ProjectID: m.ProjectID,
		Namespace: m.Namespace,
		AgentID:   &m.AgentID,
		EventType: model.EventCreated,
		Payload:   map[string]any{"scope": m.Scope, "memory_type": m.MemoryType},
	})
}

func (s *Service) buildMemory(projectID string, req model.AddMemoryRequest) (model.Memory, error) {
	if req.Scope == "" {
		req.Scope = model.ScopeAgentPrivate
	}
	if req.MemoryType == "" {
		req.MemoryType = model.TypeStandard
	}
	if req.Namespace == "" {
		req.Namespace = model.DefaultNamespace
	}
	if err := model.ValidateMemoryInput(req.Content, req.AgentID, req.Scope, req.SharedWith, req.MemoryType); err != nil {
		return model.Memory{}, err
	}
	if req.TTLSeconds != nil && *req.TTLSeconds <= 0 {
		return model.Memory{}, model.E(model.KindValidation, "ttl must be positive")
	}

	return model.Memory{
		ProjectID:      projectID,
		Namespace:      req.Namespace,
		AgentID:        req.AgentID,
		Content:        req.Content,
		Scope:          req.Scope,
		SharedWith:     req.SharedWith,
		MemoryType:     req.MemoryType,
		Metadata:       req.Metadata,
		SessionID:      req.SessionID,
		EntityID:       req.EntityID,
		SequenceNumber: req.SequenceNumber,
		TTLSeconds:     req.TTLSeconds,
	}, nil
}

// Query runs semantic search for the requesting agent and records one
// queried event per hit before returning.
func (s *Service) Query(ctx context.Context, projectID string, req model.QueryRequest) ([]model.SearchResult, error) {
	q, err := s.buildSearch(projectID, req)
	if err != nil {
		return nil, err
	}
	return s.search(ctx, q, req.Query)
}

// QueryCrossAgent searches other agents' memories; visibility is still
// bounded by the requester's ACL (global and shared-with rows only).
func (s *Service) QueryCrossAgent(ctx context.Context, projectID string, req model.QueryRequest) ([]model.SearchResult, error) {
	if len(req.TargetAgentIDs) == 0 {
		return nil, model.E(model.KindValidation, "target_agent_ids is required")
	}
	q, err := s.buildSearch(projectID, req)
	if err != nil {
		return nil, err
	}
	return s.search(ctx, q, req.Query)
}

func (s *Service) buildSearch(projectID string, req model.QueryRequest) (storage.SearchQuery, error) {
	if req.Query == "" {
		return storage.SearchQuery{}, model.E(model.KindValidation, "query must not be empty")
	}
	if req.AgentID == "" {
		return storage.SearchQuery{}, model.E(model.KindValidation, "agent_id is required")
	}
	if req.TopK < 0 || req.TopK > maxTopK {
		return storage.SearchQuery{}, model.E(model.KindValidation, "top_k must be between 1 and %d", maxTopK)
	}
	for _, t := range req.MemoryTypes {
		if !t.Valid() {
			return storage.SearchQuery{}, model.E(model.KindValidation, "invalid memory_type %q", t)
		}
	}

	q := storage.SearchQuery{
		ProjectID:         projectID,
		Namespace:         req.Namespace,
		AgentID:           req.AgentID,
		TopK:              req.TopK,
		MetadataFilter:    req.Filters,
		MemoryTypes:       req.MemoryTypes,
		IncludeDeprecated: req.IncludeDeprecated,
		TargetAgentIDs:    req.TargetAgentIDs,
	}
	if req.MinScore != nil {
		if *req.MinScore < 0 || *req.MinScore > 1 {
			return storage.SearchQuery{}, model.E(model.KindValidation, "min_score must be in [0, 1]")
		}
		// Cosine similarity s maps to distance 1-s.
		maxDist := 1 - *req.MinScore
		q.MaxDistance = &maxDist
	}
	return q, nil
}

func (s *Service) search(ctx context.Context, q storage.SearchQuery, queryText string) ([]model.SearchResult, error) {
	vec, err := s.emb.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	q.Embedding = vec

	results, err := s.db.SearchMemories(ctx, q)
	if err != nil {
		return nil, err
	}

	if len(results) > 0 {
		events := make([]model.MemoryEvent, len(results))
		for i, r := range results {
			events[i] = model.MemoryEvent{
				MemoryID:  r.Memory.ID,
				ProjectID: q.ProjectID,
				Namespace: r.Memory.Namespace,
				AgentID:   &q.AgentID,
				EventType: model.EventQueried,
				Payload:   map[string]any{"distance": r.Distance},
			}
		}
		if err := s.db.InsertMemoryEvents(ctx, events); err != nil {
			s.logger.Warn("record queried events", "error", err, "project_id", q.ProjectID)
		}
	}
	return results, nil
}

// EmbedText exposes the cached embedding pipeline for callers outside
// the memory store (interaction-event search, playbook queries).
func (s *Service) EmbedText(ctx context.Context, text string) (pgvector.Vector, error) {
	if text == "" {
		return pgvector.Vector{}, model.E(model.KindValidation, "text must not be empty")
	}
	return s.emb.Embed(ctx, text)
}

// Get retrieves a memory by ID.
func (s *Service) Get(ctx context.Context, projectID, id string) (model.Memory, error) {
	m, err := s.db.GetMemory(ctx, projectID, id)
	if err != nil {
		return model.Memory{}, mapStorageErr(err, "memory %s not found", id)
	}
	return m, nil
}

// Delete permanently removes a memory and its history.
func (s *Service) Delete(ctx context.Context, projectID, id string) error {
	if err := s.db.DeleteMemory(ctx, projectID, id); err != nil {
		return mapStorageErr(err, "memory %s not found", id)
	}
	return nil
}

// Events returns a memory's timeline, newest first.
func (s *Service) Events(ctx context.Context, projectID, id string, limit int) ([]model.MemoryEvent, error) {
	if _, err := s.db.GetMemory(ctx, projectID, id); err != nil {
		return nil, mapStorageErr(err, "memory %s not found", id)
	}
	return s.db.ListMemoryEvents(ctx, projectID, id, limit)
}

// ListSession returns a session's memories in sequence order.
func (s *Service) ListSession(ctx context.Context, projectID, namespace, sessionID string) ([]model.Memory, error) {
	if namespace == "" {
		namespace = model.DefaultNamespace
	}
	return s.db.ListSessionMemories(ctx, projectID, namespace, sessionID)
}

// ListEntity returns the newest memories attached to an entity.
func (s *Service) ListEntity(ctx context.Context, projectID, namespace, entityID string, limit int) ([]model.Memory, error) {
	if namespace == "" {
		namespace = model.DefaultNamespace
	}
	return s.db.ListEntityMemories(ctx, projectID, namespace, entityID, limit)
}

// Export returns the project's live memories as export records in
// creation order.
func (s *Service) Export(ctx context.Context, projectID string, req model.ExportRequest) ([]model.MemoryRecord, error) {
	var records []model.MemoryRecord
	var cursor *storage.ExportCursor
	for {
		page, err := s.db.ExportMemories(ctx, projectID, req.Namespace, req.AgentID, req.IncludeEmbeddings, cursor, 500)
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			records = append(records, m.Record(req.IncludeEmbeddings))
		}
		if len(page) < 500 {
			return records, nil
		}
		last := page[len(page)-1]
		cursor = &storage.ExportCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

// Import inserts exported records, re-embedding any that arrive without
// an embedding. Dedup follows the same live-content rule as Add.
func (s *Service) Import(ctx context.Context, projectID string, records []model.MemoryRecord) (model.ImportResponse, error) {
	if len(records) == 0 {
		return model.ImportResponse{}, model.E(model.KindValidation, "no records to import")
	}

	var resp model.ImportResponse
	for _, rec := range records {
		if rec.Scope == "" {
			rec.Scope = model.ScopeAgentPrivate
		}
		if rec.MemoryType == "" {
			rec.MemoryType = model.TypeStandard
		}
		if err := model.ValidateMemoryInput(rec.Content, rec.AgentID, rec.Scope, rec.SharedWith, rec.MemoryType); err != nil {
			return model.ImportResponse{}, err
		}

		// Vote counters survive the round trip so effectiveness carries
		// over into the restored store.
		m := model.Memory{
			ProjectID:      projectID,
			Namespace:      rec.Namespace,
			AgentID:        rec.AgentID,
			Content:        rec.Content,
			Scope:          rec.Scope,
			SharedWith:     rec.SharedWith,
			MemoryType:     rec.MemoryType,
			Metadata:       rec.Metadata,
			HelpfulVotes:   rec.HelpfulVotes,
			HarmfulVotes:   rec.HarmfulVotes,
			SessionID:      rec.SessionID,
			EntityID:       rec.EntityID,
			SequenceNumber: rec.SequenceNumber,
			ExpiresAt:      rec.ExpiresAt,
		}
		if len(rec.Embedding) > 0 {
			vec := pgvector.NewVector(rec.Embedding)
			m.Embedding = &vec
		} else {
			vec, err := s.emb.Embed(ctx, rec.Content)
			if err != nil {
				return model.ImportResponse{}, err
			}
			m.Embedding = &vec
		}

		err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
			var res AddResult
			if err := s.insertOne(ctx, tx, &m, &res); err != nil {
				return err
			}
			if res.Created {
				resp.Imported++
			} else {
				resp.Deduplicated++
			}
			return nil
		})
		if err != nil {
			return model.ImportResponse{}, err
		}
	}
	return resp, nil
}

// Sweep hard-deletes expired memories past the grace period and prunes
// idle embedding-cache entries. Returns the number of memories removed.
func (s *Service) Sweep(ctx context.Context, grace time.Duration) (int64, error) {
	n, err := s.db.DeleteExpired(ctx, grace)
	if err != nil {
		return 0, err
	}
	if pruned, err := s.db.PruneEmbeddingCache(ctx, 30*24*time.Hour); err != nil {
		s.logger.Warn("sweep: prune embedding cache", "error", err)
	} else if pruned > 0 {
		s.logger.Info("sweep: pruned embedding cache", "entries", pruned)
	}
	return n, nil
}

// Backfill embeds memories persisted without a vector (e.g. written while
// the provider was down). Processes in pages until done.
func (s *Service) Backfill(ctx context.Context) (int, error) {
	total := 0
	for {
		page, err := s.db.MemoriesMissingEmbeddings(ctx, 100)
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			return total, nil
		}
		texts := make([]string, len(page))
		for i, m := range page {
			texts[i] = m.Content
		}
		vecs, err := s.emb.EmbedBatch(ctx, texts)
		if err != nil {
			return total, err
		}
		for i, m := range page {
			if err := s.db.SetMemoryEmbedding(ctx, m.ID, vecs[i]); err != nil {
				return total, err
			}
			total++
		}
	}
}

func mapStorageErr(err error, format string, args ...any) error {
	if errors.Is(err, storage.ErrNotFound) {
		return model.E(model.KindNotFound, format, args...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
