package httpapi

import (
	"net/http"
	"strconv"

	"relief.org/internal/audit"
	"relief.org/internal/validate"
)

func (a *API) reportIncident(w http.ResponseWriter, r *http.Request) {
	var req validate.IncidentReport
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	inc, err := a.pipeline.ReportIncident(r.Context(), a.actor(r), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

func (a *API) updateIncidentStatus(w http.ResponseWriter, r *http.Request) {
	var req validate.StatusChange
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	inc, err := a.pipeline.UpdateIncidentStatus(r.Context(), a.actor(r), r.PathValue("id"), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) auditLog(w http.ResponseWriter, r *http.Request) {
	if a.audit == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit trail unavailable")
		return
	}
	limit := audit.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := a.audit.Recent(r.Context(), audit.ClampLimit(limit))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
