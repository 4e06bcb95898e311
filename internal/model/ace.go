package model

import (
	"time"

	"github.com/google/uuid"
)

// Vote is a single helpful/harmful judgement on a memory.
type Vote string

const (
	VoteHelpful Vote = "helpful"
	VoteHarmful Vote = "harmful"
)

// Valid reports whether v is a recognized vote.
func (v Vote) Valid() bool { return v == VoteHelpful || v == VoteHarmful }

// VoteHistory is the append-only audit log of individual votes. Aggregate
// counters on Memory are derived from it; the history itself is never mutated.
type VoteHistory struct {
	ID           uuid.UUID `json:"id"`
	MemoryID     string    `json:"memory_id"`
	ProjectID    string    `json:"project_id"`
	VoterAgentID string    `json:"voter_agent_id"`
	Vote         Vote      `json:"vote"`
	Context      *string   `json:"context,omitempty"`
	TaskID       *string   `json:"task_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionStatus is the lifecycle state of a SessionProgress.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Valid reports whether s is a recognized session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionPaused, SessionCompleted, SessionFailed:
		return true
	}
	return false
}

// CanTransition reports whether a session may move from s to next.
// Completed and failed are terminal.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case SessionActive:
		return next == SessionPaused || next == SessionCompleted || next == SessionFailed
	case SessionPaused:
		return next == SessionActive
	}
	return false
}

// BlockedItem is a blocked work item with its reason.
type BlockedItem struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

// SessionProgress tracks a long-running task across context resets.
type SessionProgress struct {
	SessionID  string        `json:"session_id"`
	ProjectID  string        `json:"project_id"`
	AgentID    string        `json:"agent_id"`
	Completed  []string      `json:"completed"`
	InProgress []string      `json:"in_progress"`
	Next       []string      `json:"next"`
	Blocked    []BlockedItem `json:"blocked"`
	Summary    string        `json:"summary"`
	LastAction string        `json:"last_action"`
	Status     SessionStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// SessionPatch is a shallow-merge update to a session. Nil fields are left
// unchanged; non-nil list fields replace the stored lists.
type SessionPatch struct {
	Completed  *[]string      `json:"completed,omitempty"`
	InProgress *[]string      `json:"in_progress,omitempty"`
	Next       *[]string      `json:"next,omitempty"`
	Blocked    *[]BlockedItem `json:"blocked,omitempty"`
	Summary    *string        `json:"summary,omitempty"`
	LastAction *string        `json:"last_action,omitempty"`
	Status     *SessionStatus `json:"status,omitempty"`
}

// FeatureStatus is the lifecycle state of a FeatureTracker.
type FeatureStatus string

const (
	FeatureNotStarted FeatureStatus = "not_started"
	FeatureInProgress FeatureStatus = "in_progress"
	FeatureTesting    FeatureStatus = "testing"
	FeatureComplete   FeatureStatus = "complete"
	FeatureFailed     FeatureStatus = "failed"
	FeatureBlocked    FeatureStatus = "blocked"
)

// Valid reports whether s is a recognized feature status.
func (s FeatureStatus) Valid() bool {
	switch s {
	case FeatureNotStarted, FeatureInProgress, FeatureTesting,
		FeatureComplete, FeatureFailed, FeatureBlocked:
		return true
	}
	return false
}

// featureTransitions is the edge set of the feature state machine:
// not_started → in_progress → testing → (complete | failed), with blocked
// reachable from any non-terminal state and back.
var featureTransitions = map[FeatureStatus][]FeatureStatus{
	FeatureNotStarted: {FeatureInProgress, FeatureBlocked},
	FeatureInProgress: {FeatureTesting, FeatureBlocked},
	FeatureTesting:    {FeatureComplete, FeatureFailed, FeatureBlocked},
	FeatureBlocked:    {FeatureNotStarted, FeatureInProgress, FeatureTesting},
	FeatureComplete:   nil,
	FeatureFailed:     nil,
}

// CanTransition reports whether a feature may move from s to next.
func (s FeatureStatus) CanTransition(next FeatureStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range featureTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FeatureTracker gates task completion on verifiable test steps.
// Invariant: Status==complete implies Passes && VerifiedBy != nil.
type FeatureTracker struct {
	FeatureID     string        `json:"feature_id"`
	ProjectID     string        `json:"project_id"`
	Description   string        `json:"description"`
	TestSteps     []string      `json:"test_steps"`
	Status        FeatureStatus `json:"status"`
	Passes        bool          `json:"passes"`
	FailureReason *string       `json:"failure_reason,omitempty"`
	VerifiedBy    *string       `json:"verified_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// FeaturePatch is a shallow-merge update to a feature tracker.
type FeaturePatch struct {
	Description   *string        `json:"description,omitempty"`
	TestSteps     *[]string      `json:"test_steps,omitempty"`
	Status        *FeatureStatus `json:"status,omitempty"`
	Passes        *bool          `json:"passes,omitempty"`
	FailureReason *string        `json:"failure_reason,omitempty"`
	VerifiedBy    *string        `json:"verified_by,omitempty"`
}

// RunOutcome classifies an agent execution.
type RunOutcome string

const (
	RunSuccess RunOutcome = "success"
	RunFailure RunOutcome = "failure"
	RunPartial RunOutcome = "partial"
)

// Valid reports whether o is a recognized run outcome.
func (o RunOutcome) Valid() bool {
	return o == RunSuccess || o == RunFailure || o == RunPartial
}

// Run records one agent execution and the memories it consumed, driving
// auto-curation feedback on completion.
type Run struct {
	RunID        string      `json:"run_id"`
	ProjectID    string      `json:"project_id"`
	AgentID      string      `json:"agent_id"`
	Task         string      `json:"task"`
	MemoriesUsed []string    `json:"memories_used"`
	Outcome      *RunOutcome `json:"outcome,omitempty"`
	ErrorPattern *string     `json:"error_pattern,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// Reflection metadata keys. Reflections are Memory rows with
// memory_type=reflection; these fields live in the metadata bag.
const (
	ReflectionKeyErrorPattern       = "error_pattern"
	ReflectionKeyCorrectApproach    = "correct_approach"
	ReflectionKeySourceTrajectoryID = "source_trajectory_id"
	ReflectionKeyApplicableContexts = "applicable_contexts"
)

// DeltaOpType tags a delta batch operation.
type DeltaOpType string

const (
	DeltaAdd       DeltaOpType = "add"
	DeltaUpdate    DeltaOpType = "update"
	DeltaDeprecate DeltaOpType = "deprecate"
)

// DeltaOp is one atomic operation in a delta batch. Which fields are
// meaningful depends on Type: add uses the write fields, update uses
// MemoryID+Metadata, deprecate uses MemoryID plus the optional
// SupersededBy/Reason.
type DeltaOp struct {
	Type DeltaOpType `json:"type"`

	// add
	Content    string         `json:"content,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	Scope      Scope          `json:"scope,omitempty"`
	SharedWith []string       `json:"shared_with,omitempty"`
	MemoryType MemoryType     `json:"memory_type,omitempty"`
	TTLSeconds *int           `json:"ttl,omitempty"`

	// update / deprecate
	MemoryID    string         `json:"memory_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	SupersededBy *string       `json:"superseded_by,omitempty"`
	Reason       *string       `json:"deprecation_reason,omitempty"`
}
