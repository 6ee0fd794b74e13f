package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-motion-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Post("/auth/login", s.handleLogin)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermStatusRead))
				r.Get("/status", s.handleStatus)
				r.Get("/channels", s.handleListChannels)
				r.Get("/sequences", s.handleListSequences)
				r.Get("/sequences/{id}", s.handleGetSequence)
				r.Get("/executions", s.handleListExecutions)
				r.Get("/alerts", s.handleListAlerts)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermMotionOperate))
				r.Post("/sequences/{id}/execute", s.handleExecuteSequence)
				r.Post("/motion", s.handleSubmitMotion)
				r.Delete("/executions/{id}", s.handleCancelExecution)
			})

			r.With(s.requirePermission(auth.PermSafetyStop)).Post("/safety/stop", s.handleEmergencyStop)
			r.With(s.requirePermission(auth.PermSafetyReset)).Post("/safety/reset", s.handleSafetyReset)

			r.Route("/history", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermHistoryRead)).Get("/executions", s.handleHistoryExecutions)
				r.With(s.requirePermission(auth.PermHistoryRead)).Get("/incidents", s.handleHistoryIncidents)
				r.With(s.requirePermission(auth.PermHistoryManage)).Post("/prune", s.handleHistoryPrune)
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	snap := s.engine.Snapshot()
	if snap != nil && snap.Safety.Latched {
		status = "emergency_stop"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"version":  s.version,
		"sessions": s.hub.SessionCount(),
	})
}
