/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  unique ID per request for tracing
  2. Recoverer:  panic recovery (500 instead of crash)
  3. zap logger: structured request logging
  4. CORS:       cross-origin requests for the frontend
  5. Session:    bearer-token validation on everything under /api

ROUTE GROUPS:
  /api/*        authenticated portal surface
  /api/admin/*  additionally requires the admin role

SEE ALSO:
  - handlers.go: handler implementations
  - auth/middleware.go: session middleware
  - cmd/server/main.go: server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/reliefops/grant-engine/auth"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, session *auth.Middleware, allowedOrigins []string, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(session.RequireSession)

		// Funding surface
		r.Get("/funding-pool", h.GetFundingPool)
		r.Get("/grant-calls", h.ListGrantCalls)
		r.Get("/cycles", h.ListCycles)

		// Project drafts and submissions
		r.Post("/project-drafts", h.SaveProjectDraft)
		r.Delete("/project-drafts", h.DeleteProjectDraft)
		r.Post("/projects/{id}/submit", h.SubmitProject)
		r.Get("/project-feedback", h.ListProjectFeedback)

		// Report drafts and submissions
		r.Post("/report-drafts", h.SaveReportDraft)
		r.Delete("/report-drafts", h.DeleteReportDraft)
		r.Post("/reports/{id}/submit", h.SubmitReport)

		// Review surface
		r.Group(func(r chi.Router) {
			r.Use(session.RequireAdmin)
			r.Post("/project-feedback", h.AttachFeedback)
			r.Post("/projects/{id}/approve", h.ApproveProject)
			r.Post("/projects/{id}/reject", h.RejectProject)
			r.Post("/projects/{id}/commit", h.CommitProjectFunding)
		})

		// Admin surface
		r.Route("/admin", func(r chi.Router) {
			r.Use(session.RequireAdmin)
			r.Post("/cycles", h.CreateCycle)
			r.Post("/allocations", h.CreateAllocation)
			r.Post("/grant-calls", h.CreateGrantCall)
			r.Post("/call-allocations", h.CreateCallAllocation)
			r.Get("/audit", h.GetAuditTrail)
		})
	})

	return r
}

// requestLogger emits one structured log line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
