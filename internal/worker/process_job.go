package worker

import (
	"context"
	"fmt"
	"log/slog"

	"stt-pipeline/internal/events"
	"stt-pipeline/internal/models"
	"stt-pipeline/internal/platform"
	"stt-pipeline/internal/telemetry"
	"stt-pipeline/internal/transcribe"
)

// JobStore is the slice of the store the workflow needs.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
}

// Transcriber converts stored audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (transcribe.Result, error)
}

// Summarizer condenses a transcript, preserving its language.
type Summarizer interface {
	Summarize(ctx context.Context, transcript, language string) (string, error)
}

// ProcessJob drives one job through the state machine: transcribe,
// summarize, persist the terminal transition, and publish lifecycle events
// after every transition.
type ProcessJob struct {
	store       JobStore
	events      events.Publisher
	transcriber Transcriber
	summarizer  Summarizer
	clock       platform.Clock
	logger      *slog.Logger
}

func NewProcessJob(store JobStore, bus events.Publisher, tr Transcriber, sum Summarizer, clock platform.Clock, logger *slog.Logger) *ProcessJob {
	return &ProcessJob{
		store:       store,
		events:      bus,
		transcriber: tr,
		summarizer:  sum,
		clock:       clock,
		logger:      logger,
	}
}

// Execute processes the job once. markFailedOnError distinguishes the final
// allowed attempt (persist the terminal failure) from earlier ones (leave
// the job in processing so a later retry can still complete it). The
// original error is always re-raised so the queue owns the retry decision.
func (p *ProcessJob) Execute(ctx context.Context, jobID string, markFailedOnError bool) error {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if err := job.MarkProcessing(p.clock.Now()); err != nil {
		// Duplicate delivery of an already-finished job: signal it
		// without repeating any side effect.
		return err
	}
	if err := p.store.UpdateJob(ctx, &job); err != nil {
		return err
	}
	if err := p.publish(ctx, events.Status{JobID: job.ID, Status: models.StatusProcessing}); err != nil {
		return err
	}

	runErr := p.run(ctx, &job)
	if runErr == nil {
		return nil
	}

	if markFailedOnError && !job.Status.IsTerminal() {
		if err := job.MarkFailed(p.clock.Now(), runErr.Error()); err != nil {
			return fmt.Errorf("mark failed after %v: %w", runErr, err)
		}
		if err := p.store.UpdateJob(ctx, &job); err != nil {
			return fmt.Errorf("persist failure after %v: %w", runErr, err)
		}
		p.publishBestEffort(ctx, events.Status{JobID: job.ID, Status: models.StatusFailed})
		p.publishBestEffort(ctx, events.Failure{JobID: job.ID, Error: runErr.Error()})
	}
	return runErr
}

// run performs the two upstream calls and the completed transition.
func (p *ProcessJob) run(ctx context.Context, job *models.Job) error {
	if err := p.publish(ctx, events.Progress{JobID: job.ID, Stage: events.StageTranscribing, Message: "Transcribing audio"}); err != nil {
		return err
	}
	transcription, err := p.transcriber.Transcribe(ctx, job.AudioPath)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}

	if err := p.publish(ctx, events.Progress{JobID: job.ID, Stage: events.StageSummarizing, Message: "Summarizing transcript"}); err != nil {
		return err
	}
	summary, err := p.summarizer.Summarize(ctx, transcription.Transcript, transcription.Language)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	if err := job.MarkCompleted(p.clock.Now(), transcription.Transcript, summary); err != nil {
		return err
	}
	if err := p.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	if err := p.publish(ctx, events.Status{JobID: job.ID, Status: models.StatusCompleted}); err != nil {
		return err
	}
	if err := p.publish(ctx, events.Result{JobID: job.ID, Transcript: transcription.Transcript, Summary: summary}); err != nil {
		return err
	}
	// Final progress marks end-of-stream for realtime consumers.
	return p.publish(ctx, events.Progress{JobID: job.ID, Stage: events.StageSummarizing, Message: "Summarizing done"})
}

func (p *ProcessJob) publish(ctx context.Context, ev events.Event) error {
	if err := p.events.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	telemetry.EventsPublished.Inc()
	return nil
}

func (p *ProcessJob) publishBestEffort(ctx context.Context, ev events.Event) {
	if err := p.publish(ctx, ev); err != nil {
		p.logger.Warn("Dropping event for failed job",
			slog.String("job_id", ev.Job()),
			slog.String("error", err.Error()),
		)
	}
}
