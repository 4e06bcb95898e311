package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aegis-ai/aegis/internal/model"
)

// HandleAddMemory handles POST /memories/.
func (h *Handlers) HandleAddMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.AddMemoryRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	res, err := h.memorySvc.Add(r.Context(), id.ProjectID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	writeJSON(w, r, status, res)
}

// HandleAddBatch handles POST /memories/batch.
func (h *Handlers) HandleAddBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.AddBatchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	resp, err := h.memorySvc.AddBatch(r.Context(), id.ProjectID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, resp)
}

// HandleQuery handles POST /memories/query and /memories/typed/query.
func (h *Handlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.QueryRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	results, err := h.memorySvc.Query(r.Context(), id.ProjectID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, results)
}

// HandleCrossAgentQuery handles POST /memories/query/cross-agent.
func (h *Handlers) HandleCrossAgentQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.QueryRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	results, err := h.memorySvc.QueryCrossAgent(r.Context(), id.ProjectID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, results)
}

// HandleGetMemory handles GET /memories/{id}.
func (h *Handlers) HandleGetMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	m, err := h.memorySvc.Get(r.Context(), id.ProjectID, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, m)
}

// HandleDeleteMemory handles DELETE /memories/{id}.
func (h *Handlers) HandleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.memorySvc.Delete(r.Context(), id.ProjectID, r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"deleted": r.PathValue("id")})
}

// HandleMemoryEvents handles GET /memories/{id}/events.
func (h *Handlers) HandleMemoryEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 100)
	events, err := h.memorySvc.Events(r.Context(), id.ProjectID, r.PathValue("id"), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, events)
}

// HandleAddTyped handles POST /memories/typed/{kind}. The path kind
// overrides any memory_type in the body.
func (h *Handlers) HandleAddTyped(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	kind := model.MemoryType(r.PathValue("kind"))
	switch kind {
	case model.TypeEpisodic, model.TypeSemantic, model.TypeProcedural, model.TypeControl:
	default:
		writeError(w, r, http.StatusBadRequest, string(model.KindValidation),
			"unknown typed memory kind "+strconv.Quote(string(kind)))
		return
	}

	var req model.AddMemoryRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req.MemoryType = kind

	res, err := h.memorySvc.Add(r.Context(), id.ProjectID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	writeJSON(w, r, status, res)
}

// HandleSessionMemories handles GET /memories/typed/episodic/session/{session_id}.
func (h *Handlers) HandleSessionMemories(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	ms, err := h.memorySvc.ListSession(r.Context(), id.ProjectID,
		r.URL.Query().Get("namespace"), r.PathValue("session_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ms)
}

// HandleEntityMemories handles GET /memories/typed/semantic/entity/{entity_id}.
func (h *Handlers) HandleEntityMemories(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 100)
	ms, err := h.memorySvc.ListEntity(r.Context(), id.ProjectID,
		r.URL.Query().Get("namespace"), r.PathValue("entity_id"), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ms)
}

// HandleExport handles POST /memories/export. The response body is the
// raw export stream (jsonl by default), not the standard envelope.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req model.ExportRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Format == "" {
		req.Format = "jsonl"
	}
	if req.Format != "jsonl" && req.Format != "json" {
		writeError(w, r, http.StatusBadRequest, string(model.KindValidation),
			"format must be jsonl or json")
		return
	}

	records, err := h.memorySvc.Export(r.Context(), id.ProjectID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if req.Format == "json" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(records)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return // client went away
		}
	}
}

// maxImportLine bounds one jsonl import record: content plus an inline
// embedding comfortably fit in 4 MB.
const maxImportLine = 4 * 1024 * 1024

// HandleImport handles POST /memories/import: a stream of line-delimited
// export records.
func (h *Handlers) HandleImport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var records []model.MemoryRecord
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 64*1024), maxImportLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec model.MemoryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			writeError(w, r, http.StatusBadRequest, string(model.KindValidation),
				"invalid record on line "+strconv.Itoa(line))
			return
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		writeError(w, r, http.StatusBadRequest, string(model.KindValidation),
			"reading import stream: "+err.Error())
		return
	}

	resp, err := h.memorySvc.Import(r.Context(), id.ProjectID, records)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
