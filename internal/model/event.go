package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EventType labels a memory-event timeline row.
type EventType string

const (
	EventCreated            EventType = "created"
	EventQueried            EventType = "queried"
	EventVotedHelpful       EventType = "voted_helpful"
	EventVotedHarmful       EventType = "voted_harmful"
	EventDeprecated         EventType = "deprecated"
	EventDeltaUpdated       EventType = "delta_updated"
	EventReflected          EventType = "reflected"
	EventRunCompleted       EventType = "run_completed"
	EventInteractionCreated EventType = "interaction_created"
)

// MemoryEvent is an append-only timeline row. Rows are indexed by
// (project_id, created_at) and (memory_id, created_at) for dashboards.
type MemoryEvent struct {
	EventID   uuid.UUID      `json:"event_id"`
	MemoryID  string         `json:"memory_id"`
	ProjectID string         `json:"project_id"`
	Namespace string         `json:"namespace"`
	AgentID   *string        `json:"agent_id,omitempty"`
	EventType EventType      `json:"event_type"`
	Payload   map[string]any `json:"event_payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// InteractionEvent is a node in a per-session causal tree of agent actions.
// ParentEventID links to the causally preceding event; a nil parent marks a
// root. The optional embedding enables semantic search over interactions.
type InteractionEvent struct {
	EventID       uuid.UUID        `json:"event_id"`
	ProjectID     string           `json:"project_id"`
	SessionID     string           `json:"session_id"`
	AgentID       string           `json:"agent_id"`
	ParentEventID *uuid.UUID       `json:"parent_event_id,omitempty"`
	Kind          string           `json:"kind"`
	Content       string           `json:"content"`
	Embedding     *pgvector.Vector `json:"-"`
	Timestamp     time.Time        `json:"timestamp"`
}

// InteractionSearchResult pairs an interaction event with its cosine distance.
type InteractionSearchResult struct {
	Event    InteractionEvent `json:"event"`
	Distance float64          `json:"distance"`
}
