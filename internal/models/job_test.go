package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNewJobRetention(t *testing.T) {
	job := NewJob("j1", "call.wav", "/uploads/j1.wav", t0, 7*24*time.Hour)

	assert.Equal(t, StatusProcessing, job.Status)
	assert.Equal(t, t0, job.CreatedAt)
	assert.Equal(t, t0, job.UpdatedAt)
	assert.Equal(t, t0.Add(7*24*time.Hour), job.ExpiresAt)
	assert.Nil(t, job.Transcript)
	assert.Nil(t, job.Summary)
	assert.Nil(t, job.Error)
}

func TestMarkCompleted(t *testing.T) {
	job := NewJob("j1", "call.wav", "/uploads/j1.wav", t0, time.Hour)
	later := t0.Add(5 * time.Second)

	require.NoError(t, job.MarkCompleted(later, "hello world", "summary text"))

	assert.Equal(t, StatusCompleted, job.Status)
	require.NotNil(t, job.Transcript)
	require.NotNil(t, job.Summary)
	assert.Equal(t, "hello world", *job.Transcript)
	assert.Equal(t, "summary text", *job.Summary)
	assert.Nil(t, job.Error)
	assert.Equal(t, later, job.UpdatedAt)
}

func TestMarkFailed(t *testing.T) {
	job := NewJob("j1", "call.wav", "/uploads/j1.wav", t0, time.Hour)
	later := t0.Add(5 * time.Second)

	require.NoError(t, job.MarkFailed(later, "whisper timeout"))

	assert.Equal(t, StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "whisper timeout", *job.Error)
	assert.Nil(t, job.Transcript)
	assert.Equal(t, later, job.UpdatedAt)
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	completed := NewJob("j1", "a.wav", "/a.wav", t0, time.Hour)
	require.NoError(t, completed.MarkCompleted(t0, "t", "s"))

	failed := NewJob("j2", "b.wav", "/b.wav", t0, time.Hour)
	require.NoError(t, failed.MarkFailed(t0, "boom"))

	for _, job := range []*Job{completed, failed} {
		before := *job
		assert.ErrorIs(t, job.MarkProcessing(t0.Add(time.Minute)), ErrJobTerminal)
		assert.ErrorIs(t, job.MarkCompleted(t0.Add(time.Minute), "x", "y"), ErrJobTerminal)
		assert.ErrorIs(t, job.MarkFailed(t0.Add(time.Minute), "z"), ErrJobTerminal)
		// A rejected transition must not corrupt the entity.
		assert.Equal(t, before, *job)
	}
}

func TestMarkProcessingFromPending(t *testing.T) {
	job := &Job{ID: "j1", Status: StatusPending, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, job.MarkProcessing(t0.Add(time.Second)))
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Equal(t, t0.Add(time.Second), job.UpdatedAt)
}

func TestParseStatus(t *testing.T) {
	for _, raw := range []string{"pending", "processing", "completed", "failed"} {
		s, err := ParseStatus(raw)
		require.NoError(t, err)
		assert.Equal(t, JobStatus(raw), s)
	}
	if _, err := ParseStatus("retrying"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestExpired(t *testing.T) {
	job := NewJob("j1", "a.wav", "/a.wav", t0, 24*time.Hour)
	assert.False(t, job.Expired(t0.Add(24*time.Hour)))
	assert.True(t, job.Expired(t0.Add(24*time.Hour+time.Nanosecond)))
}

func TestErrJobTerminalWraps(t *testing.T) {
	job := NewJob("j1", "a.wav", "/a.wav", t0, time.Hour)
	require.NoError(t, job.MarkCompleted(t0, "t", "s"))
	err := job.MarkProcessing(t0)
	require.True(t, errors.Is(err, ErrJobTerminal))
	assert.Contains(t, err.Error(), "completed")
}
