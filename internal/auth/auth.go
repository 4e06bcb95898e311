// Package auth provides credential verification for Aegis: the legacy
// shared key, per-project argon2id-hashed API keys, and short-lived
// Ed25519-signed scoped tokens.
package auth

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aegis-ai/aegis/internal/model"
)

// Identity is the authenticated principal attached to a request.
type Identity struct {
	ProjectID string
	// AgentID is set only for scoped tokens bound to one agent.
	AgentID string
	// KeyID is set when authenticated via a managed project key.
	KeyID *uuid.UUID
	// Method is "legacy", "api_key", or "token".
	Method string
}

// KeyStore is the subset of storage the authenticator needs.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (model.APIKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Claims extends jwt.RegisteredClaims with Aegis-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	ProjectID string `json:"project_id"`
	AgentID   string `json:"agent_id,omitempty"`
}

// MaxTokenTTL is the maximum lifetime of a scoped token.
const MaxTokenTTL = time.Hour

// JWTManager handles scoped-token creation and validation using Ed25519.
type JWTManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	ttl        time.Duration
}

// NewJWTManager creates a JWTManager from PEM key files. If paths are
// empty, generates an ephemeral key pair (for development; tokens won't
// survive a restart).
func NewJWTManager(privateKeyPath, publicKeyPath string, ttl time.Duration) (*JWTManager, error) {
	if ttl <= 0 || ttl > MaxTokenTTL {
		ttl = MaxTokenTTL
	}
	if privateKeyPath == "" || publicKeyPath == "" {
		slog.Warn("auth: no JWT key files configured, generating ephemeral key pair (not for production)")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: generate key pair: %w", err)
		}
		return &JWTManager{privateKey: priv, publicKey: pub, ttl: ttl}, nil
	}

	privPEM, err := os.ReadFile(privateKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read private key: %w", err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("auth: decode private key PEM")
	}
	privKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	edPriv, ok := privKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("auth: private key is not Ed25519")
	}

	pubPEM, err := os.ReadFile(publicKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("auth: decode public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	edPub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: public key is not Ed25519")
	}

	// Catch mixed-environment deployments where the key files don't pair.
	derivedPub := edPriv.Public().(ed25519.PublicKey)
	if !bytes.Equal(derivedPub, edPub) {
		return nil, fmt.Errorf("auth: public key does not match private key")
	}

	return &JWTManager{privateKey: edPriv, publicKey: edPub, ttl: ttl}, nil
}

// IssueToken creates a signed scoped token for the project, optionally
// bound to one agent.
func (m *JWTManager) IssueToken(projectID, agentID string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   projectID,
			Issuer:    "aegis",
			Audience:  jwt.ClaimStrings{"aegis"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		ProjectID: projectID,
		AgentID:   agentID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a scoped token, returning the claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithAudience("aegis"),
		jwt.WithIssuer("aegis"),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ProjectID == "" {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	return claims, nil
}

// Authenticator verifies bearer credentials against the three supported
// forms, caching successful verifications to amortize argon2 cost.
type Authenticator struct {
	store     KeyStore
	jwt       *JWTManager
	legacyKey string
	cache     *verifiedCache
	logger    *slog.Logger
}

// NewAuthenticator builds an authenticator. legacyKey may be empty to
// disable the shared-key path; store may be nil to disable project keys.
func NewAuthenticator(store KeyStore, jwtMgr *JWTManager, legacyKey string, cacheTTL time.Duration, logger *slog.Logger) *Authenticator {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Authenticator{
		store:     store,
		jwt:       jwtMgr,
		legacyKey: legacyKey,
		cache:     newVerifiedCache(cacheTTL),
		logger:    logger,
	}
}

// Close releases the verification cache.
func (a *Authenticator) Close() {
	a.cache.Close()
}

// Authenticate resolves a bearer credential to an identity. All failures
// collapse to a single UNAUTHORIZED error so responses don't leak which
// stage rejected the credential.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, model.E(model.KindUnauthorized, "missing credentials")
	}

	if a.legacyKey != "" &&
		subtle.ConstantTimeCompare([]byte(credential), []byte(a.legacyKey)) == 1 {
		return Identity{ProjectID: model.DefaultProjectID, Method: "legacy"}, nil
	}

	if prefix, ok := KeyPrefix(credential); ok {
		return a.verifyProjectKey(ctx, credential, prefix)
	}

	// Scoped tokens are JWTs: three dot-separated segments.
	if a.jwt != nil && strings.Count(credential, ".") == 2 {
		claims, err := a.jwt.ValidateToken(credential)
		if err != nil {
			return Identity{}, model.Wrap(model.KindUnauthorized, err, "invalid token")
		}
		return Identity{ProjectID: claims.ProjectID, AgentID: claims.AgentID, Method: "token"}, nil
	}

	return Identity{}, model.E(model.KindUnauthorized, "invalid credentials")
}

func (a *Authenticator) verifyProjectKey(ctx context.Context, credential, prefix string) (Identity, error) {
	if a.store == nil {
		return Identity{}, model.E(model.KindUnauthorized, "invalid credentials")
	}

	if id, ok := a.cache.Get(credential); ok {
		return id, nil
	}

	key, err := a.store.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		// Burn the same time a real verification would take.
		DummyVerify()
		return Identity{}, model.E(model.KindUnauthorized, "invalid credentials")
	}

	ok, err := VerifyAPIKey(credential, key.KeyHash)
	if err != nil || !ok {
		return Identity{}, model.E(model.KindUnauthorized, "invalid credentials")
	}

	id := Identity{ProjectID: key.ProjectID, KeyID: &key.ID, Method: "api_key"}
	a.cache.Set(credential, id)
	if err := a.store.TouchAPIKeyLastUsed(ctx, key.ID); err != nil {
		a.logger.Warn("auth: touch api key", "error", err)
	}
	return id, nil
}
