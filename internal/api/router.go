package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	if s.panel != nil {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/ui/", http.StatusFound)
		})
		r.Handle("/ui/*", http.StripPrefix("/ui", s.panel))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/status", s.handleStatus)
			r.Get("/diagnostics", s.handleListDiagnostics)
			r.Get("/conflicts", s.handleConflicts)
			r.Get("/mappings", s.handleGetMappings)
			r.Get("/audit", s.handleListAudit)
			r.Get("/ws", s.handleWebSocket)

			r.Group(func(r chi.Router) {
				r.Use(s.requireControl)

				r.Put("/mappings", s.handleSaveMappings)
				r.Post("/config/reset", s.handleResetConfig)
				r.Post("/diagnostics/{id}/fix", s.handleAutoFix)
				r.Route("/engine", func(r chi.Router) {
					r.Post("/start", s.handleStart)
					r.Post("/stop", s.handleStop)
					r.Post("/retry", s.handleRetry)
				})
			})
		})
	})

	return r
}

// handleHealth reports liveness and the current lifecycle state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"state":   s.ctrl.Status().State,
	})
}
