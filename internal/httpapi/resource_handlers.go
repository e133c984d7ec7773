package httpapi

import (
	"net/http"

	"relief.org/internal/ledger"
	"relief.org/internal/validate"
)

type assignResponse struct {
	Message    string            `json:"message"`
	Assignment ledger.Assignment `json:"assignment"`
	Resource   ledger.Resource   `json:"resource"`
}

func (a *API) listResources(w http.ResponseWriter, r *http.Request) {
	items, err := a.ledger.List(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Resource{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) createResource(w http.ResponseWriter, r *http.Request) {
	var req validate.ResourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	res, err := a.pipeline.CreateResource(r.Context(), a.actor(r), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) updateResource(w http.ResponseWriter, r *http.Request) {
	var req validate.ResourceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	res, err := a.pipeline.UpdateResource(r.Context(), a.actor(r), r.PathValue("id"), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) deleteResource(w http.ResponseWriter, r *http.Request) {
	if err := a.pipeline.DeleteResource(r.Context(), a.actor(r), r.PathValue("id")); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Resource deleted successfully"})
}

func (a *API) assignResource(w http.ResponseWriter, r *http.Request) {
	var req validate.AssignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	rv, err := a.pipeline.AssignResource(r.Context(), a.actor(r), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignResponse{
		Message:    "Resource assigned successfully",
		Assignment: rv.Assignment,
		Resource:   rv.Resource,
	})
}

func (a *API) incidentAssignments(w http.ResponseWriter, r *http.Request) {
	items, err := a.ledger.AssignmentsForIncident(r.Context(), r.PathValue("incidentId"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Assignment{}
	}
	writeJSON(w, http.StatusOK, items)
}
