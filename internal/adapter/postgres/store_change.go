package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/SiteForge/internal/domain"
	"github.com/Strob0t/SiteForge/internal/domain/change"
)

const changeColumns = `id, website_id, file_name, description, prompt, modification,
	 status, confidence, processing_ms, modified_content, created_at`

func (s *Store) ListChanges(ctx context.Context, websiteID string) ([]change.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+changeColumns+` FROM change_history WHERE website_id = $1 ORDER BY created_at DESC`,
		websiteID)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var entries []change.Entry
	for rows.Next() {
		e, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) GetChange(ctx context.Context, websiteID, changeID string) (*change.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+changeColumns+` FROM change_history WHERE website_id = $1 AND id = $2`,
		websiteID, changeID)

	e, err := scanChange(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get change %s: %w", changeID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get change %s: %w", changeID, err)
	}
	return &e, nil
}

func (s *Store) LatestAppliedChange(ctx context.Context, websiteID, fileName string) (*change.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+changeColumns+` FROM change_history
		 WHERE website_id = $1 AND file_name = $2 AND status = 'applied'
		 ORDER BY created_at DESC LIMIT 1`,
		websiteID, fileName)

	e, err := scanChange(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("latest applied change %s/%s: %w", websiteID, fileName, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("latest applied change %s/%s: %w", websiteID, fileName, err)
	}
	return &e, nil
}

func (s *Store) PriorAppliedChange(ctx context.Context, websiteID, fileName string, before time.Time) (*change.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+changeColumns+` FROM change_history
		 WHERE website_id = $1 AND file_name = $2 AND status = 'applied' AND created_at < $3
		 ORDER BY created_at DESC LIMIT 1`,
		websiteID, fileName, before)

	e, err := scanChange(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("prior applied change %s/%s: %w", websiteID, fileName, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("prior applied change %s/%s: %w", websiteID, fileName, err)
	}
	return &e, nil
}

// ApplyChange writes the new file content and inserts the applied entry in
// one transaction, so a crash can never leave a mutated file without its
// ledger record or vice versa.
func (s *Store) ApplyChange(ctx context.Context, entry *change.Entry) (*change.Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin apply change: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE website_files SET content = $3, size_bytes = $4, updated_at = now()
		 WHERE website_id = $1 AND name = $2`,
		entry.WebsiteID, entry.FileName, entry.ModifiedContent, len(entry.ModifiedContent))
	if err != nil {
		return nil, fmt.Errorf("apply change file update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("apply change file %s/%s: %w", entry.WebsiteID, entry.FileName, domain.ErrNotFound)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO change_history (id, website_id, file_name, description, prompt, modification, status, confidence, processing_ms, modified_content)
		 VALUES ($1, $2, $3, $4, $5, $6, 'applied', $7, $8, $9)
		 RETURNING `+changeColumns,
		entry.ID, entry.WebsiteID, entry.FileName, entry.Description, entry.Prompt,
		entry.Modification, entry.Confidence, entry.ProcessingMs, entry.ModifiedContent)

	applied, err := scanChange(row)
	if err != nil {
		return nil, fmt.Errorf("apply change insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit apply change: %w", err)
	}
	return &applied, nil
}

// RevertChange restores the file content and marks the entry reverted in one
// transaction. Only entries currently in applied state are accepted.
func (s *Store) RevertChange(ctx context.Context, websiteID, changeID, restoredContent string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin revert change: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var fileName string
	err = tx.QueryRow(ctx,
		`UPDATE change_history SET status = 'reverted'
		 WHERE website_id = $1 AND id = $2 AND status = 'applied'
		 RETURNING file_name`,
		websiteID, changeID).Scan(&fileName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("revert change %s: %w", changeID, domain.ErrNotFound)
		}
		return fmt.Errorf("revert change %s: %w", changeID, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE website_files SET content = $3, size_bytes = $4, updated_at = now()
		 WHERE website_id = $1 AND name = $2`,
		websiteID, fileName, restoredContent, len(restoredContent))
	if err != nil {
		return fmt.Errorf("revert change file update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("revert change file %s/%s: %w", websiteID, fileName, domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit revert change: %w", err)
	}
	return nil
}

func scanChange(row pgx.Row) (change.Entry, error) {
	var e change.Entry
	err := row.Scan(
		&e.ID, &e.WebsiteID, &e.FileName, &e.Description, &e.Prompt, &e.Modification,
		&e.Status, &e.Confidence, &e.ProcessingMs, &e.ModifiedContent, &e.CreatedAt,
	)
	return e, err
}
