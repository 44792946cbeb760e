/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/import           CSV batch merge
  /api/history/*        Records, audits, manual edits, merge/unmerge
  /api/visit-counts/*   Per-friend visit summaries
  /api/audit            Global audit trail
  /api/stats            Breakdown and rates
  /api/staff/*          Staff roster
  /api/campaigns/*      Campaigns and campaign stats
  /api/snapshots/*      Backup and restore
  /api/folders/*        Snapshot folders
  /api/admin/*          Recompute
  /api/reset            Clear history (dev/maintenance)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/import", h.Import)

		// History routes
		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.ListHistory)
			r.Post("/merge", h.MergeReservations)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetRecord)
				r.Get("/audit", h.GetRecordAudit)
				r.Put("/staff", h.AssignStaff)
				r.Put("/detail-status", h.UpdateDetailStatus)
				r.Put("/override", h.SetOverride)
				r.Put("/cancel-reason", h.UpdateCancelReason)
				r.Put("/cancel-handling", h.UpdateCancelHandling)
				r.Put("/excluded", h.SetExcluded)
				r.Post("/toggle-implementation", h.ToggleImplementation)
				r.Post("/toggle-excluded", h.ToggleExcluded)
				r.Post("/unmerge", h.UnmergeReservation)
			})
		})

		// Visit count routes
		r.Route("/visit-counts", func(r chi.Router) {
			r.Get("/", h.ListCounts)
			r.Get("/{friendId}", h.GetCount)
		})

		r.Get("/audit", h.RecentAudit)
		r.Get("/stats", h.GetStats)

		// Staff routes
		r.Route("/staff", func(r chi.Router) {
			r.Get("/", h.ListStaff)
			r.Post("/", h.AddStaff)
			r.Delete("/{name}", h.RemoveStaff)
		})

		// Campaign routes
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.SaveCampaign)
			r.Delete("/{id}", h.DeleteCampaign)
			r.Get("/{id}/stats", h.GetCampaignStats)
		})

		// Snapshot routes
		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", h.ListSnapshots)
			r.Post("/", h.CreateSnapshot)
			r.Post("/{id}/restore", h.RestoreSnapshot)
		})

		// Folder routes
		r.Route("/folders", func(r chi.Router) {
			r.Get("/", h.ListFolders)
			r.Post("/", h.CreateFolder)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/recompute", h.RecomputeAll)
		})

		r.Post("/reset", h.Reset)
	})

	return r
}
