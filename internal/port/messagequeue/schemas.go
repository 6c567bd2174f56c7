package messagequeue

// BuildStatusPayload is the schema for builds.status messages.
type BuildStatusPayload struct {
	WebsiteID  string `json:"website_id"`
	Status     string `json:"status"`
	Port       int    `json:"port,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BuildOutputPayload is the schema for builds.output messages.
type BuildOutputPayload struct {
	WebsiteID string `json:"website_id"`
	Line      string `json:"line"`
	Stream    string `json:"stream"` // "stdout" or "stderr"
}

// EditAppliedPayload is the schema for edits.applied messages.
type EditAppliedPayload struct {
	WebsiteID   string  `json:"website_id"`
	ChangeID    string  `json:"change_id"`
	FileName    string  `json:"file_name"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// EditRevertedPayload is the schema for edits.reverted messages.
type EditRevertedPayload struct {
	WebsiteID string `json:"website_id"`
	ChangeID  string `json:"change_id"`
	FileName  string `json:"file_name"`
}

// SiteDeletedPayload is the schema for sites.deleted messages.
type SiteDeletedPayload struct {
	WebsiteID string `json:"website_id"`
}
