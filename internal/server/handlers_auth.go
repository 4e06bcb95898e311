package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/aegis-ai/aegis/internal/auth"
	"github.com/aegis-ai/aegis/internal/model"
)

// HandleAuthToken handles POST /auth/token: exchanges a project API key
// for a short-lived scoped token, optionally bound to one agent.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, string(model.KindValidation), "api_key is required")
		return
	}

	id, err := h.authn.Authenticate(r.Context(), req.APIKey)
	if err != nil || id.Method == "token" {
		// A scoped token cannot mint further tokens.
		writeError(w, r, http.StatusUnauthorized, string(model.KindUnauthorized), "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(id.ProjectID, req.AgentID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ProjectID: id.ProjectID,
	})
}

// HandleCreateKey handles POST /auth/keys. The plaintext secret is
// returned exactly once; only the argon2 digest is stored.
func (h *Handlers) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.CreateKeyRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, string(model.KindValidation), "name is required")
		return
	}

	plaintext, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	hash, err := auth.HashAPIKey(plaintext)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	key := model.APIKey{
		ProjectID: id.ProjectID,
		Prefix:    prefix,
		KeyHash:   hash,
		Name:      req.Name,
		ExpiresAt: req.ExpiresAt,
	}
	if err := h.db.CreateAPIKey(r.Context(), &key); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, model.CreateKeyResponse{Key: key, Secret: plaintext})
}

// HandleListKeys handles GET /auth/keys.
func (h *Handlers) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	keys, err := h.db.ListAPIKeys(r.Context(), id.ProjectID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, keys)
}

// HandleRevokeKey handles DELETE /auth/keys/{id}.
func (h *Handlers) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	keyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, string(model.KindValidation), "invalid key id")
		return
	}

	if err := h.db.RevokeAPIKey(r.Context(), id.ProjectID, keyID); err != nil {
		h.writeServiceError(w, r, mapNotFound(err, "key not found"))
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"revoked": keyID.String()})
}
