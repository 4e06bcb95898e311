package server

import (
	"net/http"

	"github.com/aegis-ai/aegis/internal/model"
)

// HandleVote handles POST /ace/vote/{id}.
func (h *Handlers) HandleVote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.VoteRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	res, err := h.aceSvc.Vote(r.Context(), id.ProjectID, r.PathValue("id"), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleVoteHistory handles GET /ace/vote/{id}.
func (h *Handlers) HandleVoteHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	votes, err := h.aceSvc.Votes(r.Context(), id.ProjectID, r.PathValue("id"), queryInt(r, "limit", 100))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, votes)
}

// HandleDelta handles POST /ace/delta.
func (h *Handlers) HandleDelta(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.DeltaRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	resp, err := h.aceSvc.Delta(r.Context(), id.ProjectID, id.AgentID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleReflection handles POST /ace/reflection.
func (h *Handlers) HandleReflection(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.ReflectionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	m, err := h.aceSvc.Reflect(r.Context(), id.ProjectID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, m)
}

// HandleCreateSession handles POST /ace/session.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.CreateSessionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	sp, err := h.aceSvc.CreateSession(r.Context(), id.ProjectID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, sp)
}

// HandleGetSession handles GET /ace/session/{id}.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	sp, err := h.aceSvc.GetSession(r.Context(), id.ProjectID, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sp)
}

// HandleUpdateSession handles PATCH /ace/session/{id}.
func (h *Handlers) HandleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var patch model.SessionPatch
	if err := decodeJSON(w, r, &patch, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	sp, err := h.aceSvc.UpdateSession(r.Context(), id.ProjectID, r.PathValue("id"), patch)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sp)
}

// HandleListSessions handles GET /ace/session.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	sessions, err := h.aceSvc.ListSessions(r.Context(), id.ProjectID,
		r.URL.Query().Get("agent_id"), queryInt(r, "limit", 100))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sessions)
}

// HandleCreateFeature handles POST /ace/feature.
func (h *Handlers) HandleCreateFeature(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.CreateFeatureRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	f, err := h.aceSvc.CreateFeature(r.Context(), id.ProjectID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, f)
}

// HandleGetFeature handles GET /ace/feature/{id}.
func (h *Handlers) HandleGetFeature(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	f, err := h.aceSvc.GetFeature(r.Context(), id.ProjectID, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, f)
}

// HandleUpdateFeature handles PATCH /ace/feature/{id}.
func (h *Handlers) HandleUpdateFeature(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var patch model.FeaturePatch
	if err := decodeJSON(w, r, &patch, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	f, err := h.aceSvc.UpdateFeature(r.Context(), id.ProjectID, r.PathValue("id"), patch)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, f)
}

// HandleListFeatures handles GET /ace/feature.
func (h *Handlers) HandleListFeatures(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	features, err := h.aceSvc.ListFeatures(r.Context(), id.ProjectID,
		model.FeatureStatus(r.URL.Query().Get("status")), queryInt(r, "limit", 100))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, features)
}

// HandlePlaybook handles POST /ace/playbook.
func (h *Handlers) HandlePlaybook(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.PlaybookRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	entries, err := h.aceSvc.Playbook(r.Context(), id.ProjectID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// HandleStartRun handles POST /ace/run.
func (h *Handlers) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.StartRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	run, err := h.aceSvc.StartRun(r.Context(), id.ProjectID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, run)
}

// HandleGetRun handles GET /ace/run/{id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	run, err := h.aceSvc.GetRun(r.Context(), id.ProjectID, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// HandleCompleteRun handles POST /ace/run/{id}/complete.
func (h *Handlers) HandleCompleteRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.CompleteRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	run, err := h.aceSvc.CompleteRun(r.Context(), id.ProjectID, r.PathValue("id"), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// HandleCurate handles POST /ace/curate.
func (h *Handlers) HandleCurate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	resp, err := h.aceSvc.Curate(r.Context(), id.ProjectID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}
