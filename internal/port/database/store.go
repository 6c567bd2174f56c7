// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/SiteForge/internal/domain/change"
	"github.com/Strob0t/SiteForge/internal/domain/website"
)

// Store is the port interface for durable state: websites, their files,
// and the change-history ledger. Port leases and process handles are
// deliberately absent since they are ephemeral and live in memory.
type Store interface {
	// Websites
	ListWebsites(ctx context.Context) ([]website.Website, error)
	GetWebsite(ctx context.Context, id string) (*website.Website, error)
	CreateWebsite(ctx context.Context, req website.CreateRequest, projectType website.ProjectType) (*website.Website, error)
	DeleteWebsite(ctx context.Context, id string) error

	// UpdateBuildState persists a build-status transition together with the
	// runtime facts that accompany it. port and previewURL clear the stored
	// values when nil/empty.
	UpdateBuildState(ctx context.Context, id string, status website.BuildStatus, port *int, previewURL string, durationMs int64) error

	// ResetStaleBuildStates moves every website persisted as building or
	// running to failed. Called once at startup: in-memory process state is
	// gone, so those rows cannot be trusted. Returns the affected IDs.
	ResetStaleBuildStates(ctx context.Context) ([]string, error)

	// Files
	ListFiles(ctx context.Context, websiteID string) ([]website.File, error)
	GetFile(ctx context.Context, websiteID, name string) (*website.File, error)
	UpdateFileContent(ctx context.Context, websiteID, name, content string) error

	// Changes
	ListChanges(ctx context.Context, websiteID string) ([]change.Entry, error)
	GetChange(ctx context.Context, websiteID, changeID string) (*change.Entry, error)
	// LatestAppliedChange returns the newest applied entry for a file,
	// or domain.ErrNotFound when the file has none.
	LatestAppliedChange(ctx context.Context, websiteID, fileName string) (*change.Entry, error)
	// PriorAppliedChange returns the newest applied entry for a file created
	// before the given instant, or domain.ErrNotFound when there is none.
	PriorAppliedChange(ctx context.Context, websiteID, fileName string, before time.Time) (*change.Entry, error)
	// ApplyChange atomically writes the new file content and inserts the
	// entry with status applied.
	ApplyChange(ctx context.Context, entry *change.Entry) (*change.Entry, error)
	// RevertChange atomically restores the file content and marks the entry
	// reverted.
	RevertChange(ctx context.Context, websiteID, changeID, restoredContent string) error
}
