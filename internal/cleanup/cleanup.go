// Package cleanup removes jobs whose retention window has elapsed, along
// with their stored audio artifacts.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"stt-pipeline/internal/models"
	"stt-pipeline/internal/platform"
	"stt-pipeline/internal/telemetry"
)

// ExpiredLister is the slice of the store the sweeper reads and deletes
// through.
type ExpiredLister interface {
	ListExpired(ctx context.Context, now time.Time) ([]models.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// ArtifactDeleter removes the uploaded audio for a job. A missing
// artifact must be treated as success.
type ArtifactDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Sweeper deletes expired jobs artifact-first so a crash mid-sweep never
// leaves a dangling file without a record pointing at it.
type Sweeper struct {
	store   ExpiredLister
	storage ArtifactDeleter
	clock   platform.Clock
	logger  *slog.Logger
}

func NewSweeper(store ExpiredLister, storage ArtifactDeleter, clock platform.Clock, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, storage: storage, clock: clock, logger: logger}
}

// Sweep deletes every expired job it can and returns the number removed.
// A failure on one job is logged and skipped; the rest of the batch still
// runs.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now()
	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, job := range expired {
		log := s.logger.With(slog.String("job_id", job.ID))

		if err := s.storage.Delete(ctx, job.AudioPath); err != nil {
			// Keep the record so the next sweep retries the artifact.
			log.Error("Artifact delete failed, keeping record", slog.String("error", err.Error()))
			continue
		}
		if err := s.store.DeleteJob(ctx, job.ID); err != nil {
			log.Error("Record delete failed", slog.String("error", err.Error()))
			continue
		}
		removed++
		telemetry.JobsCleaned.Inc()
	}

	if removed > 0 || len(expired) > 0 {
		s.logger.Info("Cleanup sweep finished",
			slog.Int("expired", len(expired)),
			slog.Int("removed", removed),
		)
	}
	return removed, nil
}

// Scheduler runs the sweeper on a fixed interval, with one immediate run
// at startup so a long-stopped deployment catches up right away.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(sweeper *Sweeper, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{sweeper: sweeper, interval: interval, logger: logger}
}

// Run blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.logger.Error("Cleanup sweep failed", slog.String("error", err.Error()))
	}
}
