package models

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is permitted.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus validates a raw status string read from storage or the wire.
func ParseStatus(raw string) (JobStatus, error) {
	switch s := JobStatus(raw); s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown job status %q", raw)
	}
}

var (
	// ErrJobNotFound is returned when a job id has no row in the store.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when a transition is attempted on a
	// completed or failed job. Callers must not repeat side effects after
	// seeing it.
	ErrJobTerminal = errors.New("job already in terminal state")
)

// Job is one transcription+summarization task tracked through its lifecycle.
//
// Transition methods validate and mutate the entity only; persistence and
// event publication belong to the workflow layer.
type Job struct {
	ID               string    `json:"id"`
	Status           JobStatus `json:"status"`
	OriginalFilename string    `json:"original_filename"`
	AudioPath        string    `json:"audio_path"`
	Transcript       *string   `json:"transcript,omitempty"`
	Summary          *string   `json:"summary,omitempty"`
	Error            *string   `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// NewJob builds a job accepted for processing. Enqueue is synchronous with
// creation, so the job starts in processing rather than pending.
func NewJob(id, originalFilename, audioPath string, now time.Time, retention time.Duration) *Job {
	return &Job{
		ID:               id,
		Status:           StatusProcessing,
		OriginalFilename: originalFilename,
		AudioPath:        audioPath,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(retention),
	}
}

// MarkProcessing stamps the job as actively processing.
func (j *Job) MarkProcessing(at time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, j.Status)
	}
	j.Status = StatusProcessing
	j.UpdatedAt = at
	return nil
}

// MarkCompleted records both outputs and clears any prior error.
func (j *Job) MarkCompleted(at time.Time, transcript, summary string) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, j.Status)
	}
	j.Status = StatusCompleted
	j.Transcript = &transcript
	j.Summary = &summary
	j.Error = nil
	j.UpdatedAt = at
	return nil
}

// MarkFailed records the terminal failure reason.
func (j *Job) MarkFailed(at time.Time, reason string) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, j.Status)
	}
	j.Status = StatusFailed
	j.Error = &reason
	j.UpdatedAt = at
	return nil
}

// Expired reports whether the job is past retention at the given instant.
func (j *Job) Expired(now time.Time) bool {
	return j.ExpiresAt.Before(now)
}
