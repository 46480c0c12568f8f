// Package worker runs the queue-driven processing loop.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"stt-pipeline/internal/config"
	"stt-pipeline/internal/models"
	"stt-pipeline/internal/queue"
	"stt-pipeline/internal/telemetry"
)

// Processor dequeues deliveries and applies the retry/dead-letter policy
// around the ProcessJob workflow.
type Processor struct {
	cfg     config.Config
	queue   *queue.RedisQueue
	process *ProcessJob
	logger  *slog.Logger
}

func NewProcessor(cfg config.Config, q *queue.RedisQueue, process *ProcessJob, logger *slog.Logger) *Processor {
	return &Processor{cfg: cfg, queue: q, process: process, logger: logger}
}

// Run is the main worker loop; it exits when the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	poll := p.cfg.WorkerPollInterval
	if poll <= 0 {
		poll = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := time.Now()
		if _, err := p.queue.PromoteScheduled(ctx, now, 100); err != nil {
			p.logger.Warn("Promote scheduled failed", slog.String("error", err.Error()))
		}
		if reclaimed, err := p.queue.RequeueExpired(ctx, now, 100); err != nil {
			p.logger.Warn("Requeue expired failed", slog.String("error", err.Error()))
		} else if len(reclaimed) > 0 {
			p.logger.Info("Reclaimed expired leases", slog.Int("count", len(reclaimed)))
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		delivery, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Error("Dequeue failed", slog.String("error", err.Error()))
			sleepOrDone(ctx, poll)
			continue
		}
		if delivery == nil {
			sleepOrDone(ctx, poll)
			continue
		}

		p.handleDelivery(ctx, delivery)
	}
}

// handleDelivery executes one delivery and decides ack, retry, or
// dead-letter. The final allowed attempt sets markFailedOnError so only a
// genuinely exhausted job is persisted as failed.
func (p *Processor) handleDelivery(ctx context.Context, d *queue.Delivery) {
	finalAttempt := d.Attempt >= p.queue.MaxAttempts()
	log := p.logger.With(
		slog.String("job_id", d.JobID),
		slog.Int("attempt", d.Attempt),
		slog.Int("max_attempts", p.queue.MaxAttempts()),
	)
	log.Info("Processing job")

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	err := p.process.Execute(ctx, d.JobID, finalAttempt)
	if err == nil {
		if ackErr := p.queue.Ack(ctx, d.JobID); ackErr != nil {
			log.Error("Ack failed", slog.String("error", ackErr.Error()))
		}
		telemetry.JobsCompleted.Inc()
		log.Info("Job completed")
		return
	}

	switch {
	case errors.Is(err, models.ErrJobTerminal):
		// Duplicate delivery of a finished job; drop it.
		log.Warn("Job already terminal, dropping delivery")
		p.ack(ctx, d.JobID, log)

	case errors.Is(err, models.ErrJobNotFound):
		// The row will never appear; retrying is pointless.
		log.Error("Job row missing, dead-lettering")
		p.deadLetter(ctx, d.JobID, err, log)

	case finalAttempt:
		log.Error("Job failed on final attempt", slog.String("error", err.Error()))
		p.deadLetter(ctx, d.JobID, err, log)

	default:
		backoff := p.queue.Backoff(d.Attempt)
		log.Warn("Job failed, scheduling retry",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
		if retryErr := p.queue.Retry(ctx, d.JobID, d.Attempt); retryErr != nil {
			log.Error("Retry scheduling failed", slog.String("error", retryErr.Error()))
		}
		telemetry.JobsRetried.Inc()
	}
}

func (p *Processor) ack(ctx context.Context, jobID string, log *slog.Logger) {
	if err := p.queue.Ack(ctx, jobID); err != nil {
		log.Error("Ack failed", slog.String("error", err.Error()))
	}
}

func (p *Processor) deadLetter(ctx context.Context, jobID string, cause error, log *slog.Logger) {
	if err := p.queue.PushDeadLetter(ctx, jobID, cause.Error()); err != nil {
		log.Error("Dead-letter push failed", slog.String("error", err.Error()))
	}
	telemetry.JobsDeadLettered.Inc()
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
