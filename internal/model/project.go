package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultProjectID is the tenant used by legacy single-key authentication.
const DefaultProjectID = "default"

// Project is the tenant boundary. Every row in every table belongs to
// exactly one project.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKey is a per-project credential. The plaintext key is shown exactly
// once at creation; only the argon2id digest is stored. Prefix is the
// first characters of the secret and indexes the verification lookup.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	ProjectID  string     `json:"project_id"`
	Prefix     string     `json:"prefix"`
	KeyHash    string     `json:"-"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
