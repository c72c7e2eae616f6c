package handlers

import (
	"net/http"

	"github.com/dwsmith1983/verdict/internal/diff"
)

// DiffRuns compares the runs named by the runA and runB query parameters.
func (h *Handlers) DiffRuns(w http.ResponseWriter, r *http.Request) {
	runA := r.URL.Query().Get("runA")
	runB := r.URL.Query().Get("runB")
	if runA == "" || runB == "" {
		h.writeError(w, http.StatusBadRequest, "runA and runB are required", nil)
		return
	}

	mgr := h.engine.Manager()
	a, err := mgr.Bundle(r.Context(), runA)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	b, err := mgr.Bundle(r.Context(), runB)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	d, err := diff.ComputeRunDiff(a, b)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}
