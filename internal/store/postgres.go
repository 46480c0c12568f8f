// Package store persists jobs in Postgres. Every method is a single durable
// statement; the processing workflow is the only writer for a job id while
// it is in flight, so no optimistic locking is applied here.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"stt-pipeline/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const jobColumns = `id, status, original_filename, audio_path, transcript, summary, error, created_at, updated_at, expires_at`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, job.ID, string(job.Status), job.OriginalFilename, job.AudioPath,
		job.Transcript, job.Summary, job.Error,
		job.CreatedAt, job.UpdatedAt, job.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id, returning models.ErrJobNotFound when absent.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrJobNotFound)
		}
		return models.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// UpdateJob overwrites all mutable fields of a job.
func (s *Store) UpdateJob(ctx context.Context, job *models.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, transcript = $3, summary = $4, error = $5, updated_at = $6
		WHERE id = $1
	`, job.ID, string(job.Status), job.Transcript, job.Summary, job.Error, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", job.ID, models.ErrJobNotFound)
	}
	return nil
}

// MarkFailed is the narrow failure path for callers that never loaded the
// entity, such as the create flow when enqueue fails after persist.
func (s *Store) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, error = $3, updated_at = $4 WHERE id = $1
	`, id, string(models.StatusFailed), reason, at)
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, models.ErrJobNotFound)
	}
	return nil
}

// ListExpired returns jobs whose retention lapsed before now.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE expires_at < $1`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListRecent returns the newest jobs, capped at limit.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// DeleteJob removes a job row. Deleting an absent row is not an error.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var status string
	var transcript, summary, jobErr pgtype.Text

	err := row.Scan(&job.ID, &status, &job.OriginalFilename, &job.AudioPath,
		&transcript, &summary, &jobErr,
		&job.CreatedAt, &job.UpdatedAt, &job.ExpiresAt)
	if err != nil {
		return models.Job{}, err
	}

	parsed, err := models.ParseStatus(status)
	if err != nil {
		return models.Job{}, err
	}
	job.Status = parsed
	job.Transcript = textPtr(transcript)
	job.Summary = textPtr(summary)
	job.Error = textPtr(jobErr)
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
