package server

import "net/http"

// HandleDashboardStats handles GET /dashboard/stats.
func (h *Handlers) HandleDashboardStats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	overview, err := h.dashboardSvc.GetOverview(r.Context(), id.ProjectID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, overview)
}

// HandleDashboardCorrelation handles GET /dashboard/correlation.
func (h *Handlers) HandleDashboardCorrelation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	report, err := h.dashboardSvc.GetCorrelation(r.Context(), id.ProjectID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}
