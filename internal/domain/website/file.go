package website

import "time"

// File is a single file belonging to a website. The name doubles as the
// path inside the project and is unique within the site. Content is only
// mutated through the change ledger or a bulk editor save.
type File struct {
	ID          string    `json:"id"`
	WebsiteID   string    `json:"website_id"`
	Name        string    `json:"name"`
	Content     string    `json:"content"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	// OriginalContent is the content as uploaded, kept so a revert of the
	// first change on a file can restore the pre-edit state exactly.
	OriginalContent string    `json:"-"`
	Position        int       `json:"position"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
