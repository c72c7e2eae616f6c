package server

import (
	"expvar"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/verdict/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.engine)
	h.SetLogger(s.logger)

	r.Route("/api", func(r chi.Router) {
		// Health
		r.Get("/health", h.Health)

		// Personas
		r.Get("/personas", h.ListPersonas)

		// Runs
		r.Post("/runs", h.CreateRun)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{runID}", h.GetRun)
		r.Delete("/runs/{runID}", h.DeleteRun)
		r.Get("/runs/{runID}/children", h.ListChildren)
		r.Post("/runs/{runID}/revisions", h.CreateRevision)

		// Events
		r.Get("/runs/{runID}/events", h.ListEvents)

		// Diff
		r.Get("/diff", h.DiffRuns)
	})

	r.Handle("/debug/vars", expvar.Handler())
}
