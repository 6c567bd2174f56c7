package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/SiteForge/internal/domain"
	"github.com/Strob0t/SiteForge/internal/domain/website"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const websiteColumns = `id, name, description, project_type, status, build_status,
	 port, preview_url, last_built_at, build_duration_ms, version, created_at, updated_at`

// --- Websites ---

func (s *Store) ListWebsites(ctx context.Context) ([]website.Website, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+websiteColumns+` FROM websites ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list websites: %w", err)
	}
	defer rows.Close()

	var sites []website.Website
	for rows.Next() {
		w, err := scanWebsite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, w)
	}
	return sites, rows.Err()
}

func (s *Store) GetWebsite(ctx context.Context, id string) (*website.Website, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+websiteColumns+` FROM websites WHERE id = $1`, id)

	w, err := scanWebsite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get website %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get website %s: %w", id, err)
	}
	return &w, nil
}

func (s *Store) CreateWebsite(ctx context.Context, req website.CreateRequest, projectType website.ProjectType) (*website.Website, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create website: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`INSERT INTO websites (name, description, project_type)
		 VALUES ($1, $2, $3)
		 RETURNING `+websiteColumns,
		req.Name, req.Description, projectType)

	w, err := scanWebsite(row)
	if err != nil {
		return nil, fmt.Errorf("create website: %w", err)
	}

	for i, f := range req.Files {
		contentType := f.ContentType
		if contentType == "" {
			contentType = "text/plain"
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO website_files (website_id, name, content, content_type, size_bytes, original_content, position)
			 VALUES ($1, $2, $3, $4, $5, $3, $6)`,
			w.ID, f.Name, f.Content, contentType, len(f.Content), i)
		if err != nil {
			return nil, fmt.Errorf("create website file %s: %w", f.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create website: %w", err)
	}
	return &w, nil
}

func (s *Store) DeleteWebsite(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM websites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete website %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete website %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateBuildState(ctx context.Context, id string, status website.BuildStatus, port *int, previewURL string, durationMs int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE websites
		 SET build_status = $2,
		     port = $3,
		     preview_url = $4,
		     build_duration_ms = CASE WHEN $5 > 0 THEN $5 ELSE build_duration_ms END,
		     last_built_at = CASE WHEN $2 = 'running' THEN now() ELSE last_built_at END,
		     version = version + 1,
		     updated_at = now()
		 WHERE id = $1`,
		id, status, port, previewURL, durationMs)
	if err != nil {
		return fmt.Errorf("update build state %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update build state %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) ResetStaleBuildStates(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE websites
		 SET build_status = 'failed', port = NULL, preview_url = '', version = version + 1, updated_at = now()
		 WHERE build_status IN ('building', 'running')
		 RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("reset stale build states: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale website id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanWebsite(row pgx.Row) (website.Website, error) {
	var w website.Website
	err := row.Scan(
		&w.ID, &w.Name, &w.Description, &w.ProjectType, &w.Status, &w.BuildStatus,
		&w.Port, &w.PreviewURL, &w.LastBuiltAt, &w.BuildDurationMs, &w.Version,
		&w.CreatedAt, &w.UpdatedAt,
	)
	return w, err
}
