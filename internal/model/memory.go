// Package model defines the domain types shared across the Aegis server:
// memories, votes, sessions, features, runs, events, projects, and the
// HTTP request/response envelopes.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Scope controls which agents may read a memory.
type Scope string

const (
	// ScopeAgentPrivate: readable only by the authoring agent.
	ScopeAgentPrivate Scope = "agent-private"
	// ScopeAgentShared: readable by the author and the agents listed in the
	// memory_shared_agents relation.
	ScopeAgentShared Scope = "agent-shared"
	// ScopeGlobal: readable by every agent in the project.
	ScopeGlobal Scope = "global"
)

// Valid reports whether s is a recognized scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeAgentPrivate, ScopeAgentShared, ScopeGlobal:
		return true
	}
	return false
}

// MemoryType classifies a memory. Standard memories are plain facts;
// the remaining kinds drive the ACE loop and the typed repositories.
type MemoryType string

const (
	TypeStandard   MemoryType = "standard"
	TypeReflection MemoryType = "reflection"
	TypeProgress   MemoryType = "progress"
	TypeFeature    MemoryType = "feature"
	TypeStrategy   MemoryType = "strategy"
	TypeEpisodic   MemoryType = "episodic"
	TypeSemantic   MemoryType = "semantic"
	TypeProcedural MemoryType = "procedural"
	TypeControl    MemoryType = "control"
)

// Valid reports whether t is a recognized memory type.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeStandard, TypeReflection, TypeProgress, TypeFeature, TypeStrategy,
		TypeEpisodic, TypeSemantic, TypeProcedural, TypeControl:
		return true
	}
	return false
}

// Memory is the atomic unit of storage.
type Memory struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"project_id"`
	Namespace   string           `json:"namespace"`
	AgentID     string           `json:"agent_id"`
	Content     string           `json:"content"`
	ContentHash string           `json:"content_hash"`
	Embedding   *pgvector.Vector `json:"-"`
	Scope       Scope            `json:"scope"`
	SharedWith  []string         `json:"shared_with,omitempty"`
	MemoryType  MemoryType       `json:"memory_type"`
	Metadata    map[string]any   `json:"metadata,omitempty"`

	HelpfulVotes int  `json:"helpful_votes"`
	HarmfulVotes int  `json:"harmful_votes"`
	IsDeprecated bool `json:"is_deprecated"`

	// Set when the memory is deprecated via a delta or curation.
	SupersededBy      *string `json:"superseded_by,omitempty"`
	DeprecationReason *string `json:"deprecation_reason,omitempty"`

	// Typed auxiliary fields; only meaningful for the corresponding types.
	SessionID      *string `json:"session_id,omitempty"`
	EntityID       *string `json:"entity_id,omitempty"`
	SequenceNumber *int    `json:"sequence_number,omitempty"`

	TTLSeconds *int       `json:"ttl_seconds,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Effectiveness returns the derived score (helpful − harmful)/(helpful + harmful + 1).
// The +1 keeps the range open at (−1, 1) and damps low-sample memories.
func (m Memory) Effectiveness() float64 {
	return Effectiveness(m.HelpfulVotes, m.HarmfulVotes)
}

// Effectiveness computes the vote-derived score for arbitrary tallies.
func Effectiveness(helpful, harmful int) float64 {
	return float64(helpful-harmful) / float64(helpful+harmful+1)
}

// SearchResult pairs a memory with its cosine distance to the query.
type SearchResult struct {
	Memory   Memory  `json:"memory"`
	Distance float64 `json:"distance"`
}

// NewID returns a fresh 32-character opaque identifier (UUIDv4 hex).
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// HashContent computes the dedup digest for memory content:
// SHA-256 of the trimmed, lowercased text, hex-encoded.
// The same normalization keys the embedding cache.
func HashContent(content string) string {
	norm := strings.ToLower(strings.TrimSpace(content))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// MaxContentLen bounds memory content so a single write cannot exhaust the
// embedding pipeline or fill TEXT columns with caller-controlled garbage.
const MaxContentLen = 32 * 1024

// DefaultNamespace is used when a request omits the namespace.
const DefaultNamespace = "default"

// ValidateMemoryInput checks the invariants a write must satisfy before it
// reaches the store.
func ValidateMemoryInput(content, agentID string, scope Scope, sharedWith []string, memType MemoryType) error {
	if strings.TrimSpace(content) == "" {
		return E(KindValidation, "content must not be empty")
	}
	if len(content) > MaxContentLen {
		return E(KindValidation, "content exceeds maximum length of %d bytes", MaxContentLen)
	}
	if agentID == "" {
		return E(KindValidation, "agent_id is required")
	}
	if !scope.Valid() {
		return E(KindValidation, "invalid scope %q", scope)
	}
	if len(sharedWith) > 0 && scope != ScopeAgentShared {
		return E(KindValidation, "shared_with requires scope %q", ScopeAgentShared)
	}
	if !memType.Valid() {
		return E(KindValidation, "invalid memory_type %q", memType)
	}
	return nil
}

// MemoryRecord is the export/import wire form of a memory. Embeddings are
// optional: exports include them only on request, and imports re-embed
// records that arrive without one.
type MemoryRecord struct {
	ID             string         `json:"id"`
	Namespace      string         `json:"namespace"`
	AgentID        string         `json:"agent_id"`
	Content        string         `json:"content"`
	ContentHash    string         `json:"content_hash"`
	Scope          Scope          `json:"scope"`
	SharedWith     []string       `json:"shared_with,omitempty"`
	MemoryType     MemoryType     `json:"memory_type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	HelpfulVotes   int            `json:"helpful_votes"`
	HarmfulVotes   int            `json:"harmful_votes"`
	IsDeprecated   bool           `json:"is_deprecated"`
	SessionID      *string        `json:"session_id,omitempty"`
	EntityID       *string        `json:"entity_id,omitempty"`
	SequenceNumber *int           `json:"sequence_number,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Embedding      []float32      `json:"embedding,omitempty"`
}

// Record converts a memory to its export form.
func (m Memory) Record(includeEmbedding bool) MemoryRecord {
	rec := MemoryRecord{
		ID:             m.ID,
		Namespace:      m.Namespace,
		AgentID:        m.AgentID,
		Content:        m.Content,
		ContentHash:    m.ContentHash,
		Scope:          m.Scope,
		SharedWith:     m.SharedWith,
		MemoryType:     m.MemoryType,
		Metadata:       m.Metadata,
		HelpfulVotes:   m.HelpfulVotes,
		HarmfulVotes:   m.HarmfulVotes,
		IsDeprecated:   m.IsDeprecated,
		SessionID:      m.SessionID,
		EntityID:       m.EntityID,
		SequenceNumber: m.SequenceNumber,
		ExpiresAt:      m.ExpiresAt,
		CreatedAt:      m.CreatedAt,
	}
	if includeEmbedding && m.Embedding != nil {
		rec.Embedding = m.Embedding.Slice()
	}
	return rec
}

// String implements fmt.Stringer for log readability.
func (m Memory) String() string {
	return fmt.Sprintf("memory(%s type=%s scope=%s agent=%s)", m.ID, m.MemoryType, m.Scope, m.AgentID)
}
