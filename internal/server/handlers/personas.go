package handlers

import (
	"net/http"
)

// ListPersonas returns the registered personas in registry order.
func (h *Handlers) ListPersonas(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Manager().Registry().List())
}
