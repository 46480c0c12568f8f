package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stt-pipeline/internal/models"
	"stt-pipeline/internal/platform"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	jobs      map[string]models.Job
	createErr error
}

func newMemStore() *memStore { return &memStore{jobs: map[string]models.Job{}} }

func (s *memStore) CreateJob(_ context.Context, job *models.Job) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (models.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, models.ErrJobNotFound
	}
	return job, nil
}

func (s *memStore) ListRecent(_ context.Context, limit int) ([]models.Job, error) {
	out := make([]models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) MarkFailed(_ context.Context, id, reason string, at time.Time) error {
	job, ok := s.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if err := job.MarkFailed(at, reason); err != nil {
		return err
	}
	s.jobs[id] = job
	return nil
}

type memQueue struct {
	enqueued []string
	err      error
}

func (q *memQueue) Enqueue(_ context.Context, jobID, _ string) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

type memFiles struct {
	saved   map[string][]byte
	saveErr error
}

func newMemFiles() *memFiles { return &memFiles{saved: map[string][]byte{}} }

func (f *memFiles) Save(_ context.Context, jobID, _ string, data []byte) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	path := "/uploads/" + jobID + ".wav"
	f.saved[path] = data
	return path, nil
}

func (f *memFiles) Delete(_ context.Context, path string) error {
	delete(f.saved, path)
	return nil
}

func (f *memFiles) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.saved[path]
	return ok, nil
}

func newService(store *memStore, q *memQueue, files *memFiles) *Service {
	ids := &platform.SequenceIDs{IDs: []string{"id-1", "id-2"}}
	return NewService(store, q, files, ids, platform.FixedClock{At: t0}, 7*24*time.Hour, slog.Default())
}

func TestCreatePersistsAndEnqueues(t *testing.T) {
	store := newMemStore()
	q := &memQueue{}
	files := newMemFiles()

	job, err := newService(store, q, files).Create(context.Background(), "meeting.wav", []byte("RIFF..."))
	require.NoError(t, err)

	assert.Equal(t, "id-1", job.ID)
	assert.Equal(t, models.StatusProcessing, job.Status)
	assert.Equal(t, "meeting.wav", job.OriginalFilename)
	assert.Equal(t, t0, job.CreatedAt)
	assert.Equal(t, t0.Add(7*24*time.Hour), job.ExpiresAt)

	assert.Equal(t, []string{"id-1"}, q.enqueued)
	_, persisted := store.jobs["id-1"]
	assert.True(t, persisted)
	assert.Contains(t, files.saved, "/uploads/id-1.wav")
}

func TestCreateEnqueueFailureMarksJobFailed(t *testing.T) {
	store := newMemStore()
	q := &memQueue{err: errors.New("redis down")}
	files := newMemFiles()

	_, err := newService(store, q, files).Create(context.Background(), "meeting.wav", []byte("RIFF..."))
	require.Error(t, err)

	got := store.jobs["id-1"]
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "failed to enqueue job", *got.Error)
}

func TestCreateStoreFailureCleansUpArtifact(t *testing.T) {
	store := newMemStore()
	store.createErr = errors.New("postgres down")
	q := &memQueue{}
	files := newMemFiles()

	_, err := newService(store, q, files).Create(context.Background(), "meeting.wav", []byte("RIFF..."))
	require.Error(t, err)
	assert.Empty(t, q.enqueued)
	assert.Empty(t, files.saved, "artifact removed when the row was never written")
}

func TestCreateStorageFailure(t *testing.T) {
	store := newMemStore()
	files := newMemFiles()
	files.saveErr = errors.New("disk full")

	_, err := newService(store, &memQueue{}, files).Create(context.Background(), "meeting.wav", []byte("RIFF..."))
	require.Error(t, err)
	assert.Empty(t, store.jobs)
}

func TestGetUnknownJob(t *testing.T) {
	svc := newService(newMemStore(), &memQueue{}, newMemFiles())
	_, err := svc.Get(context.Background(), "nope")
	require.ErrorIs(t, err, models.ErrJobNotFound)
}
