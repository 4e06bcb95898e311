package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/aegis-ai/aegis/internal/model"
)

// HandleCreateInteraction handles POST /interaction-events/.
func (h *Handlers) HandleCreateInteraction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.InteractionEventRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.SessionID == "" || req.AgentID == "" || req.Kind == "" || req.Content == "" {
		writeError(w, r, http.StatusBadRequest, string(model.KindValidation),
			"session_id, agent_id, kind, and content are required")
		return
	}

	event := model.InteractionEvent{
		ProjectID:     id.ProjectID,
		SessionID:     req.SessionID,
		AgentID:       req.AgentID,
		ParentEventID: req.ParentEventID,
		Kind:          req.Kind,
		Content:       req.Content,
	}
	if req.Embed {
		vec, err := h.memorySvc.EmbedText(r.Context(), req.Content)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		event.Embedding = &vec
	}

	if err := h.db.InsertInteractionEvent(r.Context(), &event); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, event)
}

// HandleGetInteraction handles GET /interaction-events/{id}: the event
// plus its causal chain from root.
func (h *Handlers) HandleGetInteraction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	eventID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, string(model.KindValidation), "invalid event id")
		return
	}

	chain, err := h.db.InteractionChain(r.Context(), id.ProjectID, eventID)
	if err != nil {
		h.writeServiceError(w, r, mapNotFound(err, "interaction event not found"))
		return
	}
	writeJSON(w, r, http.StatusOK, model.InteractionEventDetail{
		Event: chain[len(chain)-1],
		Chain: chain,
	})
}

// HandleSessionInteractions handles GET /interaction-events/session/{id}.
func (h *Handlers) HandleSessionInteractions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	newestFirst := r.URL.Query().Get("order") == "desc"
	events, err := h.db.ListSessionInteractions(r.Context(), id.ProjectID,
		r.PathValue("id"), newestFirst, queryInt(r, "limit", 200))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, events)
}

// HandleAgentInteractions handles GET /interaction-events/agent/{id}.
func (h *Handlers) HandleAgentInteractions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	events, err := h.db.ListAgentInteractions(r.Context(), id.ProjectID,
		r.PathValue("id"), queryInt(r, "limit", 200))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, events)
}

// HandleSearchInteractions handles POST /interaction-events/search.
func (h *Handlers) HandleSearchInteractions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.InteractionSearchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Query == "" || req.AgentID == "" {
		writeError(w, r, http.StatusBadRequest, string(model.KindValidation),
			"query and agent_id are required")
		return
	}

	vec, err := h.memorySvc.EmbedText(r.Context(), req.Query)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	results, err := h.db.SearchInteractions(r.Context(), id.ProjectID,
		req.AgentID, req.SessionID, vec, req.TopK)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, results)
}
