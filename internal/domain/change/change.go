// Package change defines the change-history entry for AI-applied file edits.
package change

import (
	"encoding/json"
	"time"
)

// Status tracks the lifecycle of a change entry. Entries are never deleted;
// only their status moves.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApplied  Status = "applied"
	StatusReverted Status = "reverted"
)

// Entry is one audit-and-revert record of an AI-applied file modification.
// Entries for a given (website, file) pair are totally ordered by creation
// time and are never reordered.
type Entry struct {
	ID           string          `json:"id"`
	WebsiteID    string          `json:"website_id"`
	FileName     string          `json:"file_name"`
	Description  string          `json:"description"`
	Prompt       string          `json:"prompt"`
	Modification json.RawMessage `json:"modification,omitempty"`
	Status       Status          `json:"status"`
	Confidence   *float64        `json:"confidence,omitempty"`
	ProcessingMs int64           `json:"processing_ms,omitempty"`
	// ModifiedContent is the full file content this entry produced. The
	// content a revert restores is the previous applied entry's
	// ModifiedContent, or the file's original upload content if none.
	ModifiedContent string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// Modification is the structured diff-like payload stored on an entry.
type Modification struct {
	Summary      string      `json:"summary,omitempty"`
	Chunks       []DiffChunk `json:"chunks"`
	CharsAdded   int         `json:"chars_added"`
	CharsRemoved int         `json:"chars_removed"`
}

// DiffChunk is one contiguous change between the old and new content.
type DiffChunk struct {
	Op   string `json:"op"` // "insert", "delete" or "equal"
	Text string `json:"text"`
}
