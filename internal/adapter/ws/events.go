package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventBuildStatus  = "build.status"
	EventBuildOutput  = "build.output"
	EventEditApplied  = "edit.applied"
	EventEditReverted = "edit.reverted"
)

// BuildStatusEvent is broadcast when a website's build status changes.
type BuildStatusEvent struct {
	WebsiteID  string `json:"website_id"`
	Status     string `json:"status"`
	Port       int    `json:"port,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BuildOutputEvent is broadcast for each captured build/dev-server output line.
type BuildOutputEvent struct {
	WebsiteID string `json:"website_id"`
	Line      string `json:"line"`
	Stream    string `json:"stream"` // "stdout" or "stderr"
}

// EditAppliedEvent is broadcast when an AI edit is applied to a file.
type EditAppliedEvent struct {
	WebsiteID   string  `json:"website_id"`
	ChangeID    string  `json:"change_id"`
	FileName    string  `json:"file_name"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// EditRevertedEvent is broadcast when a change entry is reverted.
type EditRevertedEvent struct {
	WebsiteID string `json:"website_id"`
	ChangeID  string `json:"change_id"`
	FileName  string `json:"file_name"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
