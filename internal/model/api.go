package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard envelope for all successful responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta carries request correlation metadata on every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error. Code is an ErrorKind string.
type ErrorDetail struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// AddMemoryRequest is the body of POST /memories/.
type AddMemoryRequest struct {
	Content    string         `json:"content"`
	AgentID    string         `json:"agent_id"`
	Namespace  string         `json:"namespace,omitempty"`
	Scope      Scope          `json:"scope,omitempty"`
	SharedWith []string       `json:"shared_with,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	MemoryType MemoryType     `json:"memory_type,omitempty"`
	TTLSeconds *int           `json:"ttl,omitempty"`

	// Typed auxiliary fields (POST /memories/typed/{kind}).
	SessionID      *string `json:"session_id,omitempty"`
	EntityID       *string `json:"entity_id,omitempty"`
	SequenceNumber *int    `json:"sequence_number,omitempty"`
}

// AddBatchRequest is the body of POST /memories/batch.
type AddBatchRequest struct {
	Items []AddMemoryRequest `json:"items"`
}

// AddBatchResponse reports the outcome of a batch insert.
type AddBatchResponse struct {
	Added        int      `json:"added"`
	Deduplicated int      `json:"deduplicated"`
	IDs          []string `json:"ids"`
}

// QueryRequest is the body of POST /memories/query and /memories/typed/query.
type QueryRequest struct {
	Query             string         `json:"query"`
	AgentID           string         `json:"agent_id"`
	Namespace         string         `json:"namespace,omitempty"`
	TopK              int            `json:"top_k,omitempty"`
	MinScore          *float64       `json:"min_score,omitempty"`
	Filters           map[string]any `json:"filters,omitempty"`
	MemoryTypes       []MemoryType   `json:"memory_types,omitempty"`
	IncludeDeprecated bool           `json:"include_deprecated,omitempty"`

	// Cross-agent only (POST /memories/query/cross-agent).
	TargetAgentIDs []string `json:"target_agent_ids,omitempty"`
}

// ExportRequest is the body of POST /memories/export.
type ExportRequest struct {
	Namespace         string `json:"namespace,omitempty"`
	AgentID           string `json:"agent_id,omitempty"`
	Format            string `json:"format,omitempty"` // "jsonl" (default) or "json"
	IncludeEmbeddings bool   `json:"include_embeddings,omitempty"`
}

// ImportResponse reports the outcome of POST /memories/import.
type ImportResponse struct {
	Imported     int `json:"imported"`
	Deduplicated int `json:"deduplicated"`
}

// VoteRequest is the body of POST /ace/vote/{id}.
type VoteRequest struct {
	Vote         Vote    `json:"vote"`
	VoterAgentID string  `json:"voter_agent_id"`
	Context      *string `json:"context,omitempty"`
	TaskID       *string `json:"task_id,omitempty"`
}

// DeltaRequest is the body of POST /ace/delta.
type DeltaRequest struct {
	Operations []DeltaOp `json:"operations"`
}

// DeltaResponse reports per-operation results of an applied delta batch.
type DeltaResponse struct {
	Applied int      `json:"applied"`
	IDs     []string `json:"ids"`
}

// ReflectionRequest is the body of POST /ace/reflection.
type ReflectionRequest struct {
	Content            string   `json:"content"`
	AgentID            string   `json:"agent_id"`
	Namespace          string   `json:"namespace,omitempty"`
	ErrorPattern       *string  `json:"error_pattern,omitempty"`
	CorrectApproach    *string  `json:"correct_approach,omitempty"`
	SourceTrajectoryID *string  `json:"source_trajectory_id,omitempty"`
	ApplicableContexts []string `json:"applicable_contexts,omitempty"`
}

// CreateSessionRequest is the body of POST /ace/session.
type CreateSessionRequest struct {
	SessionID  string   `json:"session_id"`
	AgentID    string   `json:"agent_id"`
	Summary    string   `json:"summary,omitempty"`
	InProgress []string `json:"in_progress,omitempty"`
	Next       []string `json:"next,omitempty"`
}

// CreateFeatureRequest is the body of POST /ace/feature.
type CreateFeatureRequest struct {
	FeatureID   string   `json:"feature_id"`
	Description string   `json:"description"`
	TestSteps   []string `json:"test_steps,omitempty"`
}

// PlaybookRequest is the body of POST /ace/playbook.
type PlaybookRequest struct {
	Query            string       `json:"query"`
	AgentID          string       `json:"agent_id"`
	Namespace        string       `json:"namespace,omitempty"`
	IncludeTypes     []MemoryType `json:"include_types,omitempty"`
	MinEffectiveness *float64     `json:"min_effectiveness,omitempty"`
	TopK             int          `json:"top_k,omitempty"`
}

// StartRunRequest is the body of POST /ace/run.
type StartRunRequest struct {
	AgentID string `json:"agent_id"`
	Task    string `json:"task"`
}

// CompleteRunRequest is the body of POST /ace/run/{id}/complete.
type CompleteRunRequest struct {
	Outcome      RunOutcome `json:"outcome"`
	MemoriesUsed []string   `json:"memories_used,omitempty"`
	ErrorPattern *string    `json:"error_pattern,omitempty"`
}

// CurateResponse reports the outcome of POST /ace/curate.
type CurateResponse struct {
	Deprecated []string `json:"deprecated"`
}

// InteractionEventRequest is the body of POST /interaction-events/.
type InteractionEventRequest struct {
	SessionID     string     `json:"session_id"`
	AgentID       string     `json:"agent_id"`
	ParentEventID *uuid.UUID `json:"parent_event_id,omitempty"`
	Kind          string     `json:"kind"`
	Content       string     `json:"content"`
	Embed         bool       `json:"embed,omitempty"`
}

// InteractionSearchRequest is the body of POST /interaction-events/search.
type InteractionSearchRequest struct {
	Query     string `json:"query"`
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
}

// InteractionEventDetail is the response of GET /interaction-events/{id}:
// the event plus the linear causal chain from root to the event.
type InteractionEventDetail struct {
	Event InteractionEvent   `json:"event"`
	Chain []InteractionEvent `json:"chain"`
}

// AuthTokenRequest is the body of POST /auth/token.
type AuthTokenRequest struct {
	APIKey  string `json:"api_key"`
	AgentID string `json:"agent_id,omitempty"`
}

// AuthTokenResponse returns the issued scoped token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ProjectID string    `json:"project_id"`
}

// CreateKeyRequest is the body of POST /auth/keys.
type CreateKeyRequest struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateKeyResponse returns the plaintext key exactly once.
type CreateKeyResponse struct {
	Key    APIKey `json:"key"`
	Secret string `json:"secret"`
}
