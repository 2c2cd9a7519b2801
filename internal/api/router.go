package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket event feed. Browser WebSocket clients cannot set an
		// Authorization header, so the token rides a query parameter and
		// the handler validates it itself.
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Device registry endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleRegisterDevice)
				r.Get("/stats", s.handleDeviceStats)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/history", s.handleDeviceHistory)
					r.Post("/movements", s.handleRecordMovement)
					r.Post("/archive", s.handleArchiveDevice)
				})
			})

			// Bulk ledger operations
			r.Post("/movements/bulk-acquire", s.handleBulkAcquire)

			// Delivery notification endpoints
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", s.handleListNotifications)
				r.Post("/", s.handleGenerateNotification)
				r.Get("/missing-devices", s.handleMissingDevices)
				r.Post("/reconcile", s.handleReconcileNotifications)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetNotification)
					r.Post("/cancel", s.handleCancelNotification)
				})
			})

			// Audit trail
			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
