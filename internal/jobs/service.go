// Package jobs implements the submission-side use cases: accept an upload,
// persist the job, and hand it to the queue.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stt-pipeline/internal/models"
	"stt-pipeline/internal/platform"
	"stt-pipeline/internal/storage"
	"stt-pipeline/internal/telemetry"
)

// Store is the persistence slice the service needs.
type Store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListRecent(ctx context.Context, limit int) ([]models.Job, error)
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error
}

// Enqueuer submits a persisted job for processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID, audioPath string) error
}

// Service wires upload storage, the job store, and the work queue into the
// create/read operations the API exposes.
type Service struct {
	store     Store
	queue     Enqueuer
	storage   storage.FileStorage
	ids       platform.IDGenerator
	clock     platform.Clock
	retention time.Duration
	logger    *slog.Logger
}

func NewService(store Store, q Enqueuer, fs storage.FileStorage, ids platform.IDGenerator, clock platform.Clock, retention time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		queue:     q,
		storage:   fs,
		ids:       ids,
		clock:     clock,
		retention: retention,
		logger:    logger,
	}
}

// Create stores the audio, persists the job in processing state, and
// enqueues it. If the enqueue fails after the row exists, the job is
// marked failed so no row is ever stranded waiting for a worker that will
// never hear about it.
func (s *Service) Create(ctx context.Context, originalFilename string, data []byte) (models.Job, error) {
	id := s.ids.NewID()
	now := s.clock.Now()

	audioPath, err := s.storage.Save(ctx, id, originalFilename, data)
	if err != nil {
		return models.Job{}, fmt.Errorf("store audio: %w", err)
	}

	job := models.NewJob(id, originalFilename, audioPath, now, s.retention)
	if err := s.store.CreateJob(ctx, job); err != nil {
		// Best effort: don't leave an orphaned artifact behind.
		if delErr := s.storage.Delete(ctx, audioPath); delErr != nil {
			s.logger.Warn("Orphaned artifact after create failure",
				slog.String("job_id", id),
				slog.String("error", delErr.Error()),
			)
		}
		return models.Job{}, fmt.Errorf("persist job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, job.ID, job.AudioPath); err != nil {
		reason := "failed to enqueue job"
		if markErr := s.store.MarkFailed(ctx, job.ID, reason, s.clock.Now()); markErr != nil {
			s.logger.Error("Mark failed after enqueue error",
				slog.String("job_id", job.ID),
				slog.String("error", markErr.Error()),
			)
		}
		return models.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	telemetry.JobsCreated.Inc()
	s.logger.Info("Job accepted",
		slog.String("job_id", job.ID),
		slog.String("filename", originalFilename),
	)
	return *job, nil
}

// Get returns one job by id.
func (s *Service) Get(ctx context.Context, id string) (models.Job, error) {
	return s.store.GetJob(ctx, id)
}

// List returns the most recent jobs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]models.Job, error) {
	return s.store.ListRecent(ctx, limit)
}
