package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Get("/health", h.Health)

		// Websites
		r.Get("/websites", h.ListWebsites)
		r.Post("/websites", h.CreateWebsite)
		r.Get("/websites/{id}", h.GetWebsite)
		r.Delete("/websites/{id}", h.DeleteWebsite)

		// Build lifecycle
		r.Get("/websites/{id}/build", h.GetBuildStatus)
		r.Post("/websites/{id}/build", h.StartBuild)
		r.Post("/websites/{id}/stop", h.StopWebsite)
		r.Post("/websites/{id}/restart", h.RestartWebsite)
		r.Get("/websites/{id}/preview", h.GetPreview)

		// Files
		r.Get("/websites/{id}/files", h.ListFiles)
		r.Put("/websites/{id}/files", h.SaveFiles)
		r.Post("/websites/{id}/files/{name}/ai-edit", h.AIEdit)

		// Change history
		r.Get("/websites/{id}/changes", h.GetChangeHistory)
		r.Post("/websites/{id}/changes/{changeID}/revert", h.RevertChange)

		// Export
		r.Get("/websites/{id}/export", h.ExportWebsite)
	})

	// WebSocket endpoint for build status and output streaming
	r.Get("/ws", h.HandleWS)
}
