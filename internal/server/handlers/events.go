package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/verdict/pkg/types"
)

// ListEvents returns the most recent events for a run in chronological order.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events, err := h.engine.Manager().Events(r.Context(), runID, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	h.writeJSON(w, http.StatusOK, events)
}
