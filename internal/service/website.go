package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Strob0t/SiteForge/internal/domain"
	"github.com/Strob0t/SiteForge/internal/domain/website"
	"github.com/Strob0t/SiteForge/internal/port/database"
	"github.com/Strob0t/SiteForge/internal/port/messagequeue"
)

// WebsiteService handles website ingestion and file management.
type WebsiteService struct {
	store database.Store
	queue messagequeue.Queue
}

// NewWebsiteService creates a WebsiteService.
func NewWebsiteService(store database.Store, queue messagequeue.Queue) *WebsiteService {
	return &WebsiteService{store: store, queue: queue}
}

// Create validates an upload and persists the website with its files. An
// empty project type is inferred from the uploaded files.
func (s *WebsiteService) Create(ctx context.Context, req website.CreateRequest) (*website.Website, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("website name is required: %w", domain.ErrValidation)
	}
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("website needs at least one file: %w", domain.ErrValidation)
	}
	for _, f := range req.Files {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("file with empty name: %w", domain.ErrValidation)
		}
		if _, err := workspacePath("/", f.Name); err != nil {
			return nil, fmt.Errorf("%s: %w", err, domain.ErrValidation)
		}
	}

	projectType := req.ProjectType
	if projectType == "" {
		projectType = website.DetectProjectType(req.Files)
	} else if !projectType.Valid() {
		return nil, fmt.Errorf("unknown project type %q: %w", projectType, domain.ErrValidation)
	}

	site, err := s.store.CreateWebsite(ctx, req, projectType)
	if err != nil {
		return nil, err
	}
	slog.Info("website created", "website_id", site.ID, "name", site.Name,
		"project_type", site.ProjectType, "files", len(req.Files))
	return site, nil
}

// List returns all websites.
func (s *WebsiteService) List(ctx context.Context) ([]website.Website, error) {
	return s.store.ListWebsites(ctx)
}

// Get returns one website.
func (s *WebsiteService) Get(ctx context.Context, id string) (*website.Website, error) {
	return s.store.GetWebsite(ctx, id)
}

// Files returns a website's files in upload order.
func (s *WebsiteService) Files(ctx context.Context, websiteID string) ([]website.File, error) {
	if _, err := s.store.GetWebsite(ctx, websiteID); err != nil {
		return nil, err
	}
	return s.store.ListFiles(ctx, websiteID)
}

// SaveFiles overwrites the content of the named files. Updates are applied
// one by one; the first failure aborts and reports how far it got.
func (s *WebsiteService) SaveFiles(ctx context.Context, websiteID string, files []website.FileUpload) (int, error) {
	if _, err := s.store.GetWebsite(ctx, websiteID); err != nil {
		return 0, err
	}
	for i, f := range files {
		if err := s.store.UpdateFileContent(ctx, websiteID, f.Name, f.Content); err != nil {
			return i, fmt.Errorf("save %s: %w", f.Name, err)
		}
	}
	return len(files), nil
}
