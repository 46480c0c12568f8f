package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stt-pipeline/internal/events"
	"stt-pipeline/internal/models"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type memConn struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
}

func (c *memConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, append([]byte(nil), payload...))
	return nil
}

func (c *memConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

type jobReader struct {
	jobs map[string]models.Job
}

func (r *jobReader) GetJob(_ context.Context, id string) (models.Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, models.ErrJobNotFound
	}
	return job, nil
}

func newTestHub(jobs ...models.Job) *Hub {
	m := make(map[string]models.Job, len(jobs))
	for _, j := range jobs {
		m[j.ID] = j
	}
	return NewHub(&jobReader{jobs: m}, slog.Default())
}

func subscribeFrame(jobID string) []byte {
	raw, _ := json.Marshal(map[string]string{"type": "subscribe", "job_id": jobID})
	return raw
}

func TestSubscribeSendsSnapshot(t *testing.T) {
	job := models.NewJob("j1", "call.wav", "/u/j1.wav", t0, time.Hour)
	hub := newTestHub(*job)
	conn := &memConn{}
	hub.Register(conn)

	hub.HandleClientMessage(context.Background(), conn, subscribeFrame("j1"))

	frames := conn.decoded(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "status", frames[0]["type"])
	assert.Equal(t, "j1", frames[0]["job_id"])
	assert.Equal(t, "processing", frames[0]["status"])
}

func TestSubscribeToCompletedJobReplaysResult(t *testing.T) {
	job := models.NewJob("j1", "call.wav", "/u/j1.wav", t0, time.Hour)
	require.NoError(t, job.MarkCompleted(t0, "full transcript", "short summary"))
	hub := newTestHub(*job)
	conn := &memConn{}
	hub.Register(conn)

	hub.HandleClientMessage(context.Background(), conn, subscribeFrame("j1"))

	frames := conn.decoded(t)
	require.Len(t, frames, 2)
	assert.Equal(t, "status", frames[0]["type"])
	assert.Equal(t, "completed", frames[0]["status"])
	assert.Equal(t, "result", frames[1]["type"])
	assert.Equal(t, "full transcript", frames[1]["transcript"])
	assert.Equal(t, "short summary", frames[1]["summary"])
}

func TestSubscribeToFailedJobReplaysError(t *testing.T) {
	job := models.NewJob("j1", "call.wav", "/u/j1.wav", t0, time.Hour)
	require.NoError(t, job.MarkFailed(t0, "upstream down"))
	hub := newTestHub(*job)
	conn := &memConn{}
	hub.Register(conn)

	hub.HandleClientMessage(context.Background(), conn, subscribeFrame("j1"))

	frames := conn.decoded(t)
	require.Len(t, frames, 2)
	assert.Equal(t, "error", frames[1]["type"])
	assert.Equal(t, "upstream down", frames[1]["error"])
}

func TestMalformedMessageGetsSingleErrorReply(t *testing.T) {
	hub := newTestHub()
	conn := &memConn{}
	hub.Register(conn)

	hub.HandleClientMessage(context.Background(), conn, []byte("{not json"))
	hub.HandleClientMessage(context.Background(), conn, []byte(`{"type":"unsubscribe","job_id":"j1"}`))
	hub.HandleClientMessage(context.Background(), conn, []byte(`{"type":"subscribe"}`))

	frames := conn.decoded(t)
	require.Len(t, frames, 3, "each bad frame gets exactly one reply")
	for _, f := range frames {
		assert.Equal(t, "error", f["type"])
	}
	// Still registered.
	assert.Equal(t, 1, hub.ConnCount())
}

func TestSubscribeUnknownJob(t *testing.T) {
	hub := newTestHub()
	conn := &memConn{}
	hub.Register(conn)

	hub.HandleClientMessage(context.Background(), conn, subscribeFrame("ghost"))

	frames := conn.decoded(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0]["type"])
	assert.Contains(t, frames[0]["message"], "ghost")
}

func TestDispatchOnlyReachesSubscribers(t *testing.T) {
	job := models.NewJob("j1", "call.wav", "/u/j1.wav", t0, time.Hour)
	other := models.NewJob("j2", "b.wav", "/u/j2.wav", t0, time.Hour)
	hub := newTestHub(*job, *other)

	subscribed := &memConn{}
	bystander := &memConn{}
	hub.Register(subscribed)
	hub.Register(bystander)
	hub.HandleClientMessage(context.Background(), subscribed, subscribeFrame("j1"))
	hub.HandleClientMessage(context.Background(), bystander, subscribeFrame("j2"))

	hub.Dispatch(events.Progress{JobID: "j1", Stage: events.StageTranscribing, Message: "Transcribing audio"})

	subFrames := subscribed.decoded(t)
	require.Len(t, subFrames, 2) // snapshot + progress
	assert.Equal(t, "progress", subFrames[1]["type"])
	assert.Equal(t, "transcribing", subFrames[1]["stage"])

	require.Len(t, bystander.decoded(t), 1) // snapshot only
}

func TestUnregisterStopsDelivery(t *testing.T) {
	job := models.NewJob("j1", "call.wav", "/u/j1.wav", t0, time.Hour)
	hub := newTestHub(*job)
	conn := &memConn{}
	hub.Register(conn)
	hub.HandleClientMessage(context.Background(), conn, subscribeFrame("j1"))
	hub.Unregister(conn)

	hub.Dispatch(events.Status{JobID: "j1", Status: models.StatusCompleted})

	require.Len(t, conn.decoded(t), 1, "only the snapshot before unregister")
	assert.Zero(t, hub.ConnCount())
}

func TestDispatchDropsBrokenConnections(t *testing.T) {
	job := models.NewJob("j1", "call.wav", "/u/j1.wav", t0, time.Hour)
	hub := newTestHub(*job)
	conn := &memConn{}
	hub.Register(conn)
	hub.HandleClientMessage(context.Background(), conn, subscribeFrame("j1"))

	conn.mu.Lock()
	conn.sendErr = context.Canceled
	conn.mu.Unlock()

	hub.Dispatch(events.Status{JobID: "j1", Status: models.StatusCompleted})
	assert.Zero(t, hub.ConnCount())
}
