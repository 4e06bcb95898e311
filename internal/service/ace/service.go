// Package ace implements the agentic context engineering loop: votes,
// delta batches, reflections, session and feature tracking, playbook
// retrieval, run lifecycle, and curation.
package ace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/aegis-ai/aegis/internal/model"
	"github.com/aegis-ai/aegis/internal/service/embedding"
	"github.com/aegis-ai/aegis/internal/service/memories"
	"github.com/aegis-ai/aegis/internal/storage"
)

// Curation thresholds: a memory is deprecated once the community has
// voted it clearly harmful with enough volume to trust the signal.
const (
	curationMinVotes         = 5
	curationMaxEffectiveness = -0.5
)

const maxDeltaOps = 50

// Service drives the feedback subsystem on top of the memory store.
type Service struct {
	db       *storage.DB
	memories *memories.Service
	emb      *embedding.Service
	logger   *slog.Logger
}

// New builds the ACE service.
func New(db *storage.DB, mem *memories.Service, emb *embedding.Service, logger *slog.Logger) *Service {
	return &Service{db: db, memories: mem, emb: emb, logger: logger}
}

// VoteResult reports the memory's tallies after a vote is applied.
type VoteResult struct {
	MemoryID      string  `json:"memory_id"`
	HelpfulVotes  int     `json:"helpful_votes"`
	HarmfulVotes  int     `json:"harmful_votes"`
	Effectiveness float64 `json:"effectiveness"`
}

// Vote applies one helpful/harmful judgement: tally update, history row,
// and timeline event commit together or not at all.
func (s *Service) Vote(ctx context.Context, projectID, memoryID string, req model.VoteRequest) (VoteResult, error) {
	if !req.Vote.Valid() {
		return VoteResult{}, model.E(model.KindValidation, "vote must be %q or %q", model.VoteHelpful, model.VoteHarmful)
	}
	if req.VoterAgentID == "" {
		return VoteResult{}, model.E(model.KindValidation, "voter_agent_id is required")
	}

	var res VoteResult
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		helpful, harmful, namespace, err := s.db.ApplyVoteTx(ctx, tx, projectID, memoryID, req.Vote)
		if errors.Is(err, storage.ErrNotFound) {
			return model.E(model.KindNotFound, "memory %s not found", memoryID)
		}
		if err != nil {
			return err
		}

		if err := s.db.InsertVoteTx(ctx, tx, &model.VoteHistory{
			MemoryID:     memoryID,
			ProjectID:    projectID,
			VoterAgentID: req.VoterAgentID,
			Vote:         req.Vote,
			Context:      req.Context,
			TaskID:       req.TaskID,
		}); err != nil {
			return err
		}

		eventType := model.EventVotedHelpful
		if req.Vote == model.VoteHarmful {
			eventType = model.EventVotedHarmful
		}
		payload := map[string]any{"voter_agent_id": req.VoterAgentID}
		if req.TaskID != nil {
			payload["task_id"] = *req.TaskID
		}
		if err := s.db.InsertMemoryEventTx(ctx, tx, &model.MemoryEvent{
			MemoryID:  memoryID,
			ProjectID: projectID,
			Namespace: namespace,
			AgentID:   &req.VoterAgentID,
			EventType: eventType,
			Payload:   payload,
		}); err != nil {
			return err
		}

		res = VoteResult{
			MemoryID:      memoryID,
			HelpfulVotes:  helpful,
			HarmfulVotes:  harmful,
			Effectiveness: model.Effectiveness(helpful, harmful),
		}
		return nil
	})
	if err != nil {
		return VoteResult{}, err
	}
	return res, nil
}

// Votes returns the vote history of a memory, newest first.
func (s *Service) Votes(ctx context.Context, projectID, memoryID string, limit int) ([]model.VoteHistory, error) {
	if _, err := s.db.GetMemory(ctx, projectID, memoryID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, model.E(model.KindNotFound, "memory %s not found", memoryID)
		}
		return nil, err
	}
	return s.db.ListVotes(ctx, projectID, memoryID, limit)
}

// Delta applies a batch of add/update/deprecate operations atomically.
// A single invalid or missing target rolls back the whole batch.
func (s *Service) Delta(ctx context.Context, projectID, agentID string, req model.DeltaRequest) (model.DeltaResponse, error) {
	if len(req.Operations) == 0 {
		return model.DeltaResponse{}, model.E(model.KindValidation, "operations must not be empty")
	}
	if len(req.Operations) > maxDeltaOps {
		return model.DeltaResponse{}, model.E(model.KindValidation, "delta exceeds %d operations", maxDeltaOps)
	}
	for i, op := range req.Operations {
		if err := validateDeltaOp(op); err != nil {
			return model.DeltaResponse{}, model.Wrap(model.KindValidation, err, "operation %d", i)
		}
	}

	// Embed all add contents up front so the transaction holds no locks
	// while waiting on the provider.
	vectors, err := s.embedDeltaAdds(ctx, req.Operations)
	if err != nil {
		return model.DeltaResponse{}, err
	}

	var resp model.DeltaResponse
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		resp = model.DeltaResponse{}
		vecIdx := 0
		for _, op := range req.Operations {
			switch op.Type {
			case model.DeltaAdd:
				m := model.Memory{
					ProjectID:  projectID,
					Namespace:  model.DefaultNamespace,
					AgentID:    op.AgentID,
					Content:    op.Content,
					Scope:      op.Scope,
					SharedWith: op.SharedWith,
					MemoryType: op.MemoryType,
					Metadata:   op.Metadata,
					TTLSeconds: op.TTLSeconds,
				}
				m.Embedding = &vectors[vecIdx]
				vecIdx++
				id, err := s.deltaAdd(ctx, tx, &m)
				if err != nil {
					return err
				}
				resp.IDs = append(resp.IDs, id)

			case model.DeltaUpdate:
				namespace, err := s.db.MergeMemoryMetadataTx(ctx, tx, projectID, op.MemoryID, op.Metadata)
				if err != nil {
					return mapDeltaTarget(err, op.MemoryID)
				}
				if err := s.db.InsertMemoryEventTx(ctx, tx, &model.MemoryEvent{
					MemoryID:  op.MemoryID,
					ProjectID: projectID,
					Namespace: namespace,
					AgentID:   &agentID,
					EventType: model.EventDeltaUpdated,
					Payload:   map[string]any{"keys": metadataKeys(op.Metadata)},
				}); err != nil {
					return err
				}
				resp.IDs = append(resp.IDs, op.MemoryID)

			case model.DeltaDeprecate:
				namespace, err := s.db.DeprecateMemoryTx(ctx, tx, projectID, op.MemoryID, op.SupersededBy, op.Reason)
				if errors.Is(err, storage.ErrAlreadyDeprecated) {
					// Repeating a deprecation is a no-op: the target stays
					// deprecated and no new event is recorded.
					resp.IDs = append(resp.IDs, op.MemoryID)
					break
				}
				if err != nil {
					return mapDeltaTarget(err, op.MemoryID)
				}
				payload := map[string]any{}
				if op.SupersededBy != nil {
					payload["superseded_by"] = *op.SupersededBy
				}
				if op.Reason != nil {
					payload["reason"] = *op.Reason
				}
				if err := s.db.InsertMemoryEventTx(ctx, tx, &model.MemoryEvent{
					MemoryID:  op.MemoryID,
					ProjectID: projectID,
					Namespace: namespace,
					AgentID:   &agentID,
					EventType: model.EventDeprecated,
					Payload:   payload,
				}); err != nil {
					return err
				}
				resp.IDs = append(resp.IDs, op.MemoryID)
			}
			resp.Applied++
		}
		return nil
	})
	if err != nil {
		return model.DeltaResponse{}, err
	}
	return resp, nil
}

func (s *Service) embedDeltaAdds(ctx context.Context, ops []model.DeltaOp) ([]pgvector.Vector, error) {
	var texts []string
	for _, op := range ops {
		if op.Type == model.DeltaAdd {
			texts = append(texts, op.Content)
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}
	return s.emb.EmbedBatch(ctx, texts)
}

func (s *Service) deltaAdd(ctx context.Context, tx pgx.Tx, m *model.Memory) (string, error) {
	err := s.db.InsertMemoryTx(ctx, tx, m)
	if errors.Is(err, storage.ErrDuplicate) {
		existing, getErr := s.db.GetLiveByContentHashTx(ctx, tx, m.ProjectID, m.Namespace, m.AgentID, m.ContentHash)
		if getErr != nil {
			return "", getErr
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", err
	}
	if err := s.db.InsertMemoryEventTx(ctx, tx, &model.MemoryEvent{
		MemoryID:  m.ID,
		ProjectID: m.ProjectID,
		Namespace: m.Namespace,
		AgentID:   &m.AgentID,
		EventType: model.EventCreated,
		Payload:   map[string]any{"scope": m.Scope, "memory_type": m.MemoryType, "via": "delta"},
	}); err != nil {
		return "", err
	}
	return m.ID, nil
}

func validateDeltaOp(op model.DeltaOp) error {
	switch op.Type {
	case model.DeltaAdd:
		scope := op.Scope
		if scope == "" {
			scope = model.ScopeAgentPrivate
		}
		memType := op.MemoryType
		if memType == "" {
			memType = model.TypeStandard
		}
		return model.ValidateMemoryInput(op.Content, op.AgentID, scope, op.SharedWith, memType)
	case model.DeltaUpdate:
		if op.MemoryID == "" {
			return model.E(model.KindValidation, "update requires memory_id")
		}
		if len(op.Metadata) == 0 {
			return model.E(model.KindValidation, "update requires metadata")
		}
		return nil
	case model.DeltaDeprecate:
		if op.MemoryID == "" {
			return model.E(model.KindValidation, "deprecate requires memory_id")
		}
		return nil
	}
	return model.E(model.KindValidation, "unknown operation type %q", op.Type)
}

func mapDeltaTarget(err error, memoryID string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return model.E(model.KindNotFound, "memory %s not found", memoryID)
	}
	return err
}

func metadataKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Reflect stores a structured lesson as a reflection memory. The
// structured fields ride in the metadata bag so reflections flow through
// the same search and voting machinery as any other memory.
func (s *Service) Reflect(ctx context.Context, projectID string, req model.ReflectionRequest) (model.Memory, error) {
	meta := map[string]any{}
	if req.ErrorPattern != nil {
		meta[model.ReflectionKeyErrorPattern] = *req.ErrorPattern
	}
	if req.CorrectApproach != nil {
		meta[model.ReflectionKeyCorrectApproach] = *req.CorrectApproach
	}
	if req.SourceTrajectoryID != nil {
		meta[model.ReflectionKeySourceTrajectoryID] = *req.SourceTrajectoryID
	}
	if len(req.ApplicableContexts) > 0 {
		meta[model.ReflectionKeyApplicableContexts] = req.ApplicableContexts
	}

	res, err := s.memories.Add(ctx, projectID, model.AddMemoryRequest{
		Content:    req.Content,
		AgentID:    req.AgentID,
		Namespace:  req.Namespace,
		Scope:      model.ScopeGlobal,
		MemoryType: model.TypeReflection,
		Metadata:   meta,
	})
	if err != nil {
		return model.Memory{}, err
	}
	return res.Memory, nil
}

// CreateSession registers a new session progress record.
func (s *Service) CreateSession(ctx context.Context, projectID string, req model.CreateSessionRequest) (model.SessionProgress, error) {
	if req.SessionID == "" {
		return model.SessionProgress{}, model.E(model.KindValidation, "session_id is required")
	}
	if req.AgentID == "" {
		return model.SessionProgress{}, model.E(model.KindValidation, "agent_id is required")
	}

	sp := model.SessionProgress{
		SessionID:  req.SessionID,
		ProjectID:  projectID,
		AgentID:    req.AgentID,
		Summary:    req.Summary,
		InProgress: req.InProgress,
		Next:       req.Next,
		Status:     model.SessionActive,
	}
	if err := s.db.CreateSession(ctx, &sp); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return model.SessionProgress{}, model.E(model.KindConflict, "session %s already exists", req.SessionID)
		}
		return model.SessionProgress{}, err
	}
	return sp, nil
}

// GetSession fetches a session progress record.
func (s *Service) GetSession(ctx context.Context, projectID, sessionID string) (model.SessionProgress, error) {
	sp, err := s.db.GetSession(ctx, projectID, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.SessionProgress{}, model.E(model.KindNotFound, "session %s not found", sessionID)
	}
	return sp, err
}

// UpdateSession shallow-merges a patch into the session under a row lock.
// Status changes are validated against the session state machine.
func (s *Service) UpdateSession(ctx context.Context, projectID, sessionID string, patch model.SessionPatch) (model.SessionProgress, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return model.SessionProgress{}, model.E(model.KindValidation, "invalid status %q", *patch.Status)
	}

	var updated model.SessionProgress
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		sp, err := s.db.GetSessionTx(ctx, tx, projectID, sessionID)
		if errors.Is(err, storage.ErrNotFound) {
			return model.E(model.KindNotFound, "session %s not found", sessionID)
		}
		if err != nil {
			return err
		}

		if patch.Status != nil && !sp.Status.CanTransition(*patch.Status) {
			return model.E(model.KindInvalidTransition,
				"session cannot move from %q to %q", sp.Status, *patch.Status)
		}

		if patch.Completed != nil {
			sp.Completed = *patch.Completed
		}
		if patch.InProgress != nil {
			sp.InProgress = *patch.InProgress
		}
		if patch.Next != nil {
			sp.Next = *patch.Next
		}
		if patch.Blocked != nil {
			sp.Blocked = *patch.Blocked
		}
		if patch.Summary != nil {
			sp.Summary = *patch.Summary
		}
		if patch.LastAction != nil {
			sp.LastAction = *patch.LastAction
		}
		if patch.Status != nil {
			sp.Status = *patch.Status
		}

		if err := s.db.SaveSessionTx(ctx, tx, sp); err != nil {
			return err
		}
		updated = sp
		return nil
	})
	if err != nil {
		return model.SessionProgress{}, err
	}
	return updated, nil
}

// ListSessions lists a project's sessions, optionally filtered by agent.
func (s *Service) ListSessions(ctx context.Context, projectID, agentID string, limit int) ([]model.SessionProgress, error) {
	return s.db.ListSessions(ctx, projectID, agentID, limit)
}

// CreateFeature registers a feature tracker in the not_started state.
func (s *Service) CreateFeature(ctx context.Context, projectID string, req model.CreateFeatureRequest) (model.FeatureTracker, error) {
	if req.FeatureID == "" {
		return model.FeatureTracker{}, model.E(model.KindValidation, "feature_id is required")
	}
	if req.Description == "" {
		return model.FeatureTracker{}, model.E(model.KindValidation, "description is required")
	}

	f := model.FeatureTracker{
		FeatureID:   req.FeatureID,
		ProjectID:   projectID,
		Description: req.Description,
		TestSteps:   req.TestSteps,
		Status:      model.FeatureNotStarted,
	}
	if err := s.db.CreateFeature(ctx, &f); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return model.FeatureTracker{}, model.E(model.KindConflict, "feature %s already exists", req.FeatureID)
		}
		return model.FeatureTracker{}, err
	}
	return f, nil
}

// GetFeature fetches a feature tracker.
func (s *Service) GetFeature(ctx context.Context, projectID, featureID string) (model.FeatureTracker, error) {
	f, err := s.db.GetFeature(ctx, projectID, featureID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.FeatureTracker{}, model.E(model.KindNotFound, "feature %s not found", featureID)
	}
	return f, err
}

// UpdateFeature shallow-merges a patch into the feature tracker. Moving to
// complete requires a passing verification attributed to a verifier.
func (s *Service) UpdateFeature(ctx context.Context, projectID, featureID string, patch model.FeaturePatch) (model.FeatureTracker, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return model.FeatureTracker{}, model.E(model.KindValidation, "invalid status %q", *patch.Status)
	}

	var updated model.FeatureTracker
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		f, err := s.db.GetFeatureTx(ctx, tx, projectID, featureID)
		if errors.Is(err, storage.ErrNotFound) {
			return model.E(model.KindNotFound, "feature %s not found", featureID)
		}
		if err != nil {
			return err
		}

		if patch.Status != nil && !f.Status.CanTransition(*patch.Status) {
			return model.E(model.KindInvalidTransition,
				"feature cannot move from %q to %q", f.Status, *patch.Status)
		}

		if patch.Description != nil {
			f.Description = *patch.Description
		}
		if patch.TestSteps != nil {
			f.TestSteps = *patch.TestSteps
		}
		if patch.Passes != nil {
			f.Passes = *patch.Passes
		}
		if patch.FailureReason != nil {
			f.FailureReason = patch.FailureReason
		}
		if patch.VerifiedBy != nil {
			f.VerifiedBy = patch.VerifiedBy
		}
		if patch.Status != nil {
			f.Status = *patch.Status
		}

		// Completion is gated on verified passing tests.
		if f.Status == model.FeatureComplete && (!f.Passes || f.VerifiedBy == nil || *f.VerifiedBy == "") {
			return model.E(model.KindInvalidTransition,
				"feature %s cannot complete without passing verification and a verifier", featureID)
		}

		if err := s.db.SaveFeatureTx(ctx, tx, f); err != nil {
			return err
		}
		updated = f
		return nil
	})
	if err != nil {
		return model.FeatureTracker{}, err
	}
	return updated, nil
}

// ListFeatures lists a project's feature trackers, optionally by status.
func (s *Service) ListFeatures(ctx context.Context, projectID string, status model.FeatureStatus, limit int) ([]model.FeatureTracker, error) {
	if status != "" && !status.Valid() {
		return nil, model.E(model.KindValidation, "invalid status %q", status)
	}
	return s.db.ListFeatures(ctx, projectID, status, limit)
}

// Playbook retrieves strategy and reflection memories ranked by blended
// similarity, effectiveness, and recency.
func (s *Service) Playbook(ctx context.Context, projectID string, req model.PlaybookRequest) ([]storage.PlaybookEntry, error) {
	if req.Query == "" {
		return nil, model.E(model.KindValidation, "query must not be empty")
	}
	if req.AgentID == "" {
		return nil, model.E(model.KindValidation, "agent_id is required")
	}
	for _, t := range req.IncludeTypes {
		if !t.Valid() {
			return nil, model.E(model.KindValidation, "invalid memory_type %q", t)
		}
	}

	vec, err := s.emb.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	return s.db.SearchPlaybook(ctx, storage.PlaybookQuery{
		ProjectID:        projectID,
		Namespace:        req.Namespace,
		AgentID:          req.AgentID,
		Embedding:        vec,
		TopK:             req.TopK,
		MemoryTypes:      req.IncludeTypes,
		MinEffectiveness: req.MinEffectiveness,
	})
}

// StartRun opens a run record for an agent execution.
func (s *Service) StartRun(ctx context.Context, projectID string, req model.StartRunRequest) (model.Run, error) {
	if req.AgentID == "" {
		return model.Run{}, model.E(model.KindValidation, "agent_id is required")
	}
	if req.Task == "" {
		return model.Run{}, model.E(model.KindValidation, "task is required")
	}

	r := model.Run{
		ProjectID: projectID,
		AgentID:   req.AgentID,
		Task:      req.Task,
	}
	if err := s.db.InsertRun(ctx, &r); err != nil {
		return model.Run{}, err
	}
	return r, nil
}

// GetRun fetches a run record.
func (s *Service) GetRun(ctx context.Context, projectID, runID string) (model.Run, error) {
	r, err := s.db.GetRun(ctx, projectID, runID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Run{}, model.E(model.KindNotFound, "run %s not found", runID)
	}
	return r, err
}

// CompleteRun closes a run and feeds the outcome back into curation:
// memories used by a successful run are voted helpful, by a failed run
// harmful. Partial outcomes cast no votes.
func (s *Service) CompleteRun(ctx context.Context, projectID, runID string, req model.CompleteRunRequest) (model.Run, error) {
	if !req.Outcome.Valid() {
		return model.Run{}, model.E(model.KindValidation, "outcome must be success, failure, or partial")
	}

	var run model.Run
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		run, err = s.db.CompleteRunTx(ctx, tx, projectID, runID, req.Outcome, req.MemoriesUsed, req.ErrorPattern)
		if errors.Is(err, storage.ErrNotFound) {
			return model.E(model.KindNotFound, "run %s not found", runID)
		}
		if errors.Is(err, storage.ErrDuplicate) {
			return model.E(model.KindInvalidTransition, "run %s is already completed", runID)
		}
		if err != nil {
			return err
		}

		vote := model.VoteHelpful
		switch req.Outcome {
		case model.RunFailure:
			vote = model.VoteHarmful
		case model.RunPartial:
			return nil
		}

		for _, memID := range req.MemoriesUsed {
			_, _, namespace, err := s.db.ApplyVoteTx(ctx, tx, projectID, memID, vote)
			if errors.Is(err, storage.ErrNotFound) {
				// Stale reference in memories_used; skip rather than
				// failing the completion.
				s.logger.Warn("run feedback: memory not found", "run_id", runID, "memory_id", memID)
				continue
			}
			if err != nil {
				return err
			}
			if err := s.db.InsertVoteTx(ctx, tx, &model.VoteHistory{
				MemoryID:     memID,
				ProjectID:    projectID,
				VoterAgentID: run.AgentID,
				Vote:         vote,
				TaskID:       &runID,
			}); err != nil {
				return err
			}
			if err := s.db.InsertMemoryEventTx(ctx, tx, &model.MemoryEvent{
				MemoryID:  memID,
				ProjectID: projectID,
				Namespace: namespace,
				AgentID:   &run.AgentID,
				EventType: model.EventRunCompleted,
				Payload:   map[string]any{"run_id": runID, "outcome": req.Outcome},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Run{}, err
	}

	// Every failed run leaves a reflection so the lesson outlives the
	// run record. Without a reported error pattern a generic one is
	// recorded.
	if req.Outcome == model.RunFailure {
		pattern := "unclassified failure"
		if req.ErrorPattern != nil && *req.ErrorPattern != "" {
			pattern = *req.ErrorPattern
		}
		if _, err := s.Reflect(ctx, projectID, model.ReflectionRequest{
			Content:            fmt.Sprintf("Task %q failed: %s", run.Task, pattern),
			AgentID:            run.AgentID,
			ErrorPattern:       &pattern,
			SourceTrajectoryID: &runID,
		}); err != nil {
			s.logger.Warn("run feedback: record reflection", "run_id", runID, "error", err)
		}
	}
	return run, nil
}

// Curate deprecates memories the vote signal has condemned: effectiveness
// at or below the threshold with enough total votes. Returns the IDs of
// the memories deprecated in this pass.
func (s *Service) Curate(ctx context.Context, projectID string) (model.CurateResponse, error) {
	candidates, err := s.db.CurationCandidates(ctx, projectID, curationMinVotes, curationMaxEffectiveness)
	if err != nil {
		return model.CurateResponse{}, err
	}
	resp := model.CurateResponse{Deprecated: []string{}}
	if len(candidates) == 0 {
		return resp, nil
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, m := range candidates {
			reason := fmt.Sprintf("auto-curated: effectiveness %.2f over %d votes",
				m.Effectiveness(), m.HelpfulVotes+m.HarmfulVotes)
			if _, err := s.db.DeprecateMemoryTx(ctx, tx, projectID, m.ID, nil, &reason); err != nil {
				if errors.Is(err, storage.ErrAlreadyDeprecated) || errors.Is(err, storage.ErrNotFound) {
					continue // raced with another curation pass or a delete
				}
				return err
			}
			if err := s.db.InsertMemoryEventTx(ctx, tx, &model.MemoryEvent{
				MemoryID:  m.ID,
				ProjectID: projectID,
				Namespace: m.Namespace,
				EventType: model.EventDeprecated,
				Payload:   map[string]any{"reason": reason, "via": "curation"},
			}); err != nil {
				return err
			}
			resp.Deprecated = append(resp.Deprecated, m.ID)
		}
		return nil
	})
	if err != nil {
		return model.CurateResponse{}, err
	}

	if len(resp.Deprecated) > 0 {
		s.logger.Info("curation pass complete", "project_id", projectID, "deprecated", len(resp.Deprecated))
	}
	return resp, nil
}
