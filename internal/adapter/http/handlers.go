package http

import (
	"net/http"

	"github.com/Strob0t/SiteForge/internal/adapter/ws"
	"github.com/Strob0t/SiteForge/internal/domain/website"
	"github.com/Strob0t/SiteForge/internal/port/messagequeue"
	"github.com/Strob0t/SiteForge/internal/service"
)

const maxRequestBodySize = 16 << 20 // 16 MB, uploads carry full file contents

// Handlers bundles the services the HTTP layer exposes.
type Handlers struct {
	Websites     *service.WebsiteService
	Orchestrator *service.Orchestrator
	Ledger       *service.Ledger
	Resolver     *service.PreviewResolver
	Hub          *ws.Hub
	Queue        messagequeue.Queue
}

// ---------------------------------------------------------------------------
// Websites
// ---------------------------------------------------------------------------

// ListWebsites handles GET /api/v1/websites.
func (h *Handlers) ListWebsites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.Websites.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sites)
}

// CreateWebsite handles POST /api/v1/websites: ingest an upload and start
// its first build.
func (h *Handlers) CreateWebsite(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[website.CreateRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	site, err := h.Websites.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "website not found")
		return
	}

	if err := h.Orchestrator.StartWebsite(r.Context(), site.ID); err != nil {
		// The website exists; report it with the failure attached.
		writeJSON(w, http.StatusCreated, map[string]any{
			"website":     site,
			"build_error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"website": site})
}

// GetWebsite handles GET /api/v1/websites/{id}.
func (h *Handlers) GetWebsite(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	site, err := h.Websites.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "website not found")
		return
	}
	writeJSON(w, http.StatusOK, site)
}

// DeleteWebsite handles DELETE /api/v1/websites/{id}.
func (h *Handlers) DeleteWebsite(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Orchestrator.DeleteWebsite(r.Context(), id); err != nil {
		writeDomainError(w, err, "website not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Build lifecycle
// ---------------------------------------------------------------------------

// GetBuildStatus handles GET /api/v1/websites/{id}/build.
func (h *Handlers) GetBuildStatus(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	view, err := h.Orchestrator.GetBuildStatus(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "website not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// StartBuild handles POST /api/v1/websites/{id}/build.
func (h *Handlers) StartBuild(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Orchestrator.StartWebsite(r.Context(), id); err != nil {
		writeDomainError(w, err, "website not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

// StopWebsite handles POST /api/v1/websites/{id}/stop.
func (h *Handlers) StopWebsite(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Orchestrator.StopWebsite(r.Context(), id); err != nil {
		writeDomainError(w, err, "website not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// RestartWebsite handles POST /api/v1/websites/{id}/restart.
func (h *Handlers) RestartWebsite(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Orchestrator.RestartWebsite(r.Context(), id); err != nil {
		writeDomainError(w, err, "website not found")
		return
	}

	target, err := h.Resolver.Resolve(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"preview": target,
	})
}

// GetPreview handles GET /api/v1/websites/{id}/preview.
func (h *Handlers) GetPreview(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	target, err := h.Resolver.Resolve(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "website not found")
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

// ListFiles handles GET /api/v1/websites/{id}/files.
func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	files, err := h.Websites.Files(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "website not found")
		return
	}
	writeJSON(w, http.StatusOK, files)
}

type saveFilesRequest struct {
	Files []website.FileUpload `json:"files"`
}

// SaveFiles handles PUT /api/v1/websites/{id}/files.
func (h *Handlers) SaveFiles(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[saveFilesRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files is required")
		return
	}

	saved, err := h.Orchestrator.SaveFiles(r.Context(), id, req.Files)
	if err != nil {
		writeDomainError(w, err, "website or file not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": saved})
}

// ---------------------------------------------------------------------------
// AI edits and change history
// ---------------------------------------------------------------------------

type aiEditRequest struct {
	Prompt string `json:"prompt"`
}

type aiEditResponse struct {
	Success         bool     `json:"success"`
	ChangeID        string   `json:"change_id"`
	ModifiedContent string   `json:"modified_content"`
	Description     string   `json:"description"`
	Confidence      *float64 `json:"confidence,omitempty"`
	ProcessingMs    int64    `json:"processing_ms"`
}

// AIEdit handles POST /api/v1/websites/{id}/files/{name}/ai-edit.
func (h *Handlers) AIEdit(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	name := urlParam(r, "name")
	req, ok := readJSON[aiEditRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.Prompt, "prompt") {
		return
	}

	entry, err := h.Ledger.Edit(r.Context(), id, name, req.Prompt)
	if err != nil {
		writeDomainError(w, err, "website or file not found")
		return
	}

	writeJSON(w, http.StatusOK, aiEditResponse{
		Success:         true,
		ChangeID:        entry.ID,
		ModifiedContent: entry.ModifiedContent,
		Description:     entry.Description,
		Confidence:      entry.Confidence,
		ProcessingMs:    entry.ProcessingMs,
	})
}

// GetChangeHistory handles GET /api/v1/websites/{id}/changes.
func (h *Handlers) GetChangeHistory(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	entries, err := h.Ledger.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "website not found")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// RevertChange handles POST /api/v1/websites/{id}/changes/{changeID}/revert.
func (h *Handlers) RevertChange(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	changeID := urlParam(r, "changeID")

	entry, err := h.Ledger.Revert(r.Context(), id, changeID)
	if err != nil {
		writeDomainError(w, err, "change not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"change_id": entry.ID,
		"file_name": entry.FileName,
	})
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

// ExportWebsite handles GET /api/v1/websites/{id}/export.
func (h *Handlers) ExportWebsite(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	exp, err := h.Orchestrator.ExportWebsite(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "website not found")
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// ---------------------------------------------------------------------------
// Health and WebSocket
// ---------------------------------------------------------------------------

// Health handles GET /api/v1/health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":         "ok",
		"ws_connections": 0,
	}
	if h.Hub != nil {
		status["ws_connections"] = h.Hub.ConnectionCount()
	}
	if h.Queue != nil {
		status["nats_connected"] = h.Queue.IsConnected()
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleWS upgrades to a WebSocket connection on /ws.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.Hub.HandleWS(w, r)
}
