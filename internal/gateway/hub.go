// Package gateway fans job lifecycle events out to websocket clients that
// subscribed to specific job ids.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"stt-pipeline/internal/events"
	"stt-pipeline/internal/models"
)

// Conn is one attached client. Implementations must be safe for
// concurrent Send calls.
type Conn interface {
	Send(payload []byte) error
}

// JobReader loads the snapshot sent on subscribe.
type JobReader interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
}

// clientMessage is the only inbound message the gateway accepts.
type clientMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

type errorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Hub tracks which connections want which jobs and delivers each event
// only to the connections subscribed to its job.
type Hub struct {
	mu     sync.Mutex
	subs   map[Conn]map[string]struct{}
	store  JobReader
	logger *slog.Logger
}

func NewHub(store JobReader, logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[Conn]map[string]struct{}),
		store:  store,
		logger: logger,
	}
}

// Register adds a connection with no subscriptions yet.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[c] = make(map[string]struct{})
}

// Unregister drops the connection and all its subscriptions.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, c)
}

// ConnCount reports attached connections, for the metrics gauge.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// HandleClientMessage processes one inbound frame. A malformed frame gets
// a single error reply; the connection stays open.
func (h *Hub) HandleClientMessage(ctx context.Context, c Conn, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reply(c, errorReply{Type: "error", Message: "invalid message"})
		return
	}
	if msg.Type != "subscribe" || msg.JobID == "" {
		h.reply(c, errorReply{Type: "error", Message: "expected {\"type\":\"subscribe\",\"job_id\":...}"})
		return
	}
	h.subscribe(ctx, c, msg.JobID)
}

// subscribe records the interest and immediately replays the job's
// current state so a late subscriber never misses the outcome.
func (h *Hub) subscribe(ctx context.Context, c Conn, jobID string) {
	h.mu.Lock()
	if set, ok := h.subs[c]; ok {
		set[jobID] = struct{}{}
	}
	h.mu.Unlock()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			h.reply(c, errorReply{Type: "error", Message: "job not found: " + jobID})
			return
		}
		h.logger.Error("Snapshot load failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	h.send(c, events.Status{JobID: job.ID, Status: job.Status})
	switch job.Status {
	case models.StatusCompleted:
		transcript, summary := "", ""
		if job.Transcript != nil {
			transcript = *job.Transcript
		}
		if job.Summary != nil {
			summary = *job.Summary
		}
		h.send(c, events.Result{JobID: job.ID, Transcript: transcript, Summary: summary})
	case models.StatusFailed:
		reason := ""
		if job.Error != nil {
			reason = *job.Error
		}
		h.send(c, events.Failure{JobID: job.ID, Error: reason})
	}
}

// Dispatch fans one event out to every connection subscribed to its job.
func (h *Hub) Dispatch(ev events.Event) {
	payload, err := events.Marshal(ev)
	if err != nil {
		h.logger.Error("Encode event failed", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	var targets []Conn
	for c, set := range h.subs {
		if _, ok := set[ev.Job()]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			h.logger.Warn("Fanout write failed, dropping connection", slog.String("error", err.Error()))
			h.Unregister(c)
		}
	}
}

// Run attaches the hub to the bus subscriber until the context ends.
func (h *Hub) Run(ctx context.Context, sub *events.RedisSubscriber) error {
	return sub.Run(ctx, h.Dispatch)
}

func (h *Hub) send(c Conn, ev events.Event) {
	payload, err := events.Marshal(ev)
	if err != nil {
		h.logger.Error("Encode event failed", slog.String("error", err.Error()))
		return
	}
	if err := c.Send(payload); err != nil {
		h.Unregister(c)
	}
}

func (h *Hub) reply(c Conn, r errorReply) {
	payload, _ := json.Marshal(r)
	if err := c.Send(payload); err != nil {
		h.Unregister(c)
	}
}
