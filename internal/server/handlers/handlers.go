// Package handlers implements HTTP request handlers for the Verdict API.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dwsmith1983/verdict/internal/aggregate"
	"github.com/dwsmith1983/verdict/internal/diff"
	"github.com/dwsmith1983/verdict/internal/engine"
	"github.com/dwsmith1983/verdict/internal/lifecycle"
	"github.com/dwsmith1983/verdict/internal/persona"
	"github.com/dwsmith1983/verdict/internal/provider"
)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	engine *engine.Engine
	logger *slog.Logger
}

// New creates a new Handlers instance.
func New(eng *engine.Engine) *Handlers {
	return &Handlers{
		engine: eng,
		logger: slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// decodeBody decodes the JSON request body into v, writing the error
// response itself and returning false on failure.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
		return false
	}
	h.writeError(w, http.StatusBadRequest, "invalid JSON", nil)
	return false
}

// writeDomainError maps a lifecycle, engine or storage error onto a status code.
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	var stepErr *engine.StepError
	switch {
	case errors.As(err, &stepErr):
		h.logger.Error("run failed", "runId", stepErr.RunID, "step", stepErr.Step, "persona", stepErr.PersonaID, "error", stepErr.Err)
		body := map[string]string{
			"error": "run failed",
			"runId": stepErr.RunID,
			"step":  string(stepErr.Step),
		}
		if stepErr.PersonaID != "" {
			body["personaId"] = stepErr.PersonaID
		}
		h.writeJSON(w, http.StatusBadGateway, body)
	case errors.Is(err, lifecycle.ErrRunNotFound), errors.Is(err, lifecycle.ErrParentNotFound), errors.Is(err, provider.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrEmptyIdea), errors.Is(err, lifecycle.ErrMissingEditInput), errors.Is(err, diff.ErrIdenticalRuns):
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrParentNotCompleted), errors.Is(err, lifecycle.ErrIncompleteRun),
		errors.Is(err, lifecycle.ErrConcurrentUpdate), errors.Is(err, provider.ErrAlreadyExists):
		h.writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, persona.ErrUnknownPersona), errors.Is(err, aggregate.ErrDuplicateReview):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	default:
		h.writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}
