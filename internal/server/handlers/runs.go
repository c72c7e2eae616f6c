package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/verdict/pkg/types"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// CreateRun evaluates a new idea synchronously and returns the completed run bundle.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req types.EvaluateRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 1) {
		h.writeError(w, http.StatusBadRequest, "temperature must be within [0, 1]", nil)
		return
	}

	bundle, err := h.engine.Evaluate(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, bundle)
}

// CreateRevision branches a revision from a completed run.
func (h *Handlers) CreateRevision(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var edits types.RevisionEdits
	if !h.decodeBody(w, r, &edits) {
		return
	}

	bundle, err := h.engine.Revise(r.Context(), runID, edits)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, bundle)
}

// ListRuns returns recent runs, newest first, optionally filtered by status.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	opts := types.ListOptions{Limit: defaultListLimit}
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > maxListLimit {
			h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 200", nil)
			return
		}
		opts.Limit = n
	}
	if q := r.URL.Query().Get("status"); q != "" {
		status := types.RunStatus(q)
		switch status {
		case types.RunRunning, types.RunCompleted, types.RunFailed:
		default:
			h.writeError(w, http.StatusBadRequest, "unknown status: "+q, nil)
			return
		}
		opts.Status = status
	}

	runs, err := h.engine.Manager().List(r.Context(), opts)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []types.Run{}
	}
	h.writeJSON(w, http.StatusOK, runs)
}

// GetRun returns a run with its proposal, reviews and decision.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.engine.Manager().Bundle(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bundle)
}

// ListChildren returns the revisions branched directly from a run.
func (h *Handlers) ListChildren(w http.ResponseWriter, r *http.Request) {
	children, err := h.engine.Manager().Children(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if children == nil {
		children = []types.Run{}
	}
	h.writeJSON(w, http.StatusOK, children)
}

// DeleteRun removes a run and all of its descendants.
func (h *Handlers) DeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Manager().Delete(r.Context(), chi.URLParam(r, "runID")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
