// Package website defines the Website domain entity and its build lifecycle.
package website

import "time"

// ProjectType classifies how an uploaded project is materialized as a preview.
type ProjectType string

const (
	TypeStatic    ProjectType = "static"
	TypeReact     ProjectType = "react"
	TypeVite      ProjectType = "vite"
	TypeReactVite ProjectType = "react-vite"
)

// IsStatic reports whether the project is served directly from its files,
// without a dev-server process or a port lease.
func (t ProjectType) IsStatic() bool {
	return t == TypeStatic
}

// Valid reports whether t is a recognized project type.
func (t ProjectType) Valid() bool {
	switch t {
	case TypeStatic, TypeReact, TypeVite, TypeReactVite:
		return true
	}
	return false
}

// LifecycleStatus is the user-facing lifecycle of a website record.
type LifecycleStatus string

const (
	LifecycleActive   LifecycleStatus = "active"
	LifecycleArchived LifecycleStatus = "archived"
	LifecycleDraft    LifecycleStatus = "draft"
)

// Website represents one tenant's uploaded web project.
type Website struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	ProjectType     ProjectType     `json:"project_type"`
	Status          LifecycleStatus `json:"status"`
	BuildStatus     BuildStatus     `json:"build_status"`
	Port            *int            `json:"port,omitempty"`
	PreviewURL      string          `json:"preview_url,omitempty"`
	LastBuiltAt     *time.Time      `json:"last_built_at,omitempty"`
	BuildDurationMs int64           `json:"build_duration_ms,omitempty"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CreateRequest holds the fields the upload-ingestion collaborator provides
// when handing over a classified project.
type CreateRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	ProjectType ProjectType  `json:"project_type,omitempty"`
	Files       []FileUpload `json:"files"`
}

// FileUpload is one file in an ingestion request, in upload order.
type FileUpload struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}
