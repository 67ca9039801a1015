package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
		s.corsMiddleware,
		middleware.RequestSize(maxRequestBodySize),
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/metrics", s.handleMetrics)

			r.Route("/table", func(r chi.Router) {
				r.Get("/", s.handleGetTable)
				r.Post("/connect", s.handleConnect)
				r.Post("/disconnect", s.handleDisconnect)

				r.Route("/devices", func(r chi.Router) {
					r.Get("/", s.handleListDevices)
					r.Get("/{device}", s.handleGetDevice)
					r.Get("/{device}/history", s.handleGetDeviceHistory)
				})

				r.Get("/requests", s.handleListRequests)
				r.Post("/requests", s.handleSubmitRequest)
			})

			r.Route("/script", func(r chi.Router) {
				r.Get("/", s.handleGetScript)
				r.Put("/", s.handleLoadScript)
				r.Post("/start", s.handleScriptStart)
				r.Post("/pause", s.handleScriptPause)
				r.Post("/resume", s.handleScriptResume)
				r.Post("/reset", s.handleScriptReset)
			})

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if !s.controller.IsConnected() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"version":         s.version,
		"table_connected": s.controller.IsConnected(),
	})
}
