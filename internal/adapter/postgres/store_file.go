package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/SiteForge/internal/domain"
	"github.com/Strob0t/SiteForge/internal/domain/website"
)

const fileColumns = `id, website_id, name, content, content_type, size_bytes,
	 original_content, position, created_at, updated_at`

func (s *Store) ListFiles(ctx context.Context, websiteID string) ([]website.File, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM website_files WHERE website_id = $1 ORDER BY position`, websiteID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []website.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Store) GetFile(ctx context.Context, websiteID, name string) (*website.File, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM website_files WHERE website_id = $1 AND name = $2`,
		websiteID, name)

	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get file %s/%s: %w", websiteID, name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get file %s/%s: %w", websiteID, name, err)
	}
	return &f, nil
}

func (s *Store) UpdateFileContent(ctx context.Context, websiteID, name, content string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE website_files
		 SET content = $3, size_bytes = $4, updated_at = now()
		 WHERE website_id = $1 AND name = $2`,
		websiteID, name, content, len(content))
	if err != nil {
		return fmt.Errorf("update file %s/%s: %w", websiteID, name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update file %s/%s: %w", websiteID, name, domain.ErrNotFound)
	}
	return nil
}

func scanFile(row pgx.Row) (website.File, error) {
	var f website.File
	err := row.Scan(
		&f.ID, &f.WebsiteID, &f.Name, &f.Content, &f.ContentType, &f.SizeBytes,
		&f.OriginalContent, &f.Position, &f.CreatedAt, &f.UpdatedAt,
	)
	return f, err
}
