// Package store keeps a durable snapshot of every job between submission
// and terminal state so an unclean shutdown can be recovered. Records hold
// only relaunch parameters; progress is never persisted.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zqily/multiyt-dlp/internal/model"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pending_jobs (
	id                TEXT PRIMARY KEY,
	source_url        TEXT NOT NULL,
	output_dir        TEXT NOT NULL,
	format_spec       TEXT NOT NULL,
	filename_template TEXT NOT NULL,
	embed_metadata    INTEGER NOT NULL DEFAULT 0,
	embed_thumbnail   INTEGER NOT NULL DEFAULT 0,
	safe_filenames    INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMP NOT NULL
);`

// Store is the durable pending-job record, one row per job id.
type Store struct {
	db *sql.DB
}

// Open connects to the queue database at path, creating the directory and
// schema when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes the job's relaunch parameters, replacing any previous record
// for the same id.
func (s *Store) Put(ctx context.Context, job model.Job) error {
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_jobs
		(id, source_url, output_dir, format_spec, filename_template,
		 embed_metadata, embed_thumbnail, safe_filenames, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SourceURL, job.OutputDir, string(job.FormatSpec), job.FilenameTemplate,
		boolInt(job.EmbedMetadata), boolInt(job.EmbedThumbnail), boolInt(job.SafeFilenames), createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to persist job %s: %w", job.ID, err)
	}
	return nil
}

// Delete removes the record for id; deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// List returns every persisted record in insertion order, reconstructed as
// Pending jobs ready for resubmission.
func (s *Store) List(ctx context.Context) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_url, output_dir, format_spec, filename_template,
		       embed_metadata, embed_thumbnail, safe_filenames, created_at
		FROM pending_jobs ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list persisted jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var (
			job                           model.Job
			formatSpec                    string
			embedMeta, embedThumb, safeFn int
		)
		err := rows.Scan(&job.ID, &job.SourceURL, &job.OutputDir, &formatSpec, &job.FilenameTemplate,
			&embedMeta, &embedThumb, &safeFn, &job.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan persisted job: %w", err)
		}
		job.FormatSpec = model.FormatPreset(formatSpec)
		job.EmbedMetadata = embedMeta != 0
		job.EmbedThumbnail = embedThumb != 0
		job.SafeFilenames = safeFn != 0
		job.Status = model.StatusPending
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read persisted jobs: %w", err)
	}
	return jobs, nil
}

// Clear drops every persisted record.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_jobs`); err != nil {
		return fmt.Errorf("failed to clear persisted jobs: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
