// Package events defines the job lifecycle events carried over the event bus
// and their JSON wire encoding.
package events

import (
	"encoding/json"
	"fmt"

	"stt-pipeline/internal/models"
)

// Processing stages reported in progress events.
const (
	StageTranscribing = "transcribing"
	StageSummarizing  = "summarizing"
)

// Event is the closed set of messages published during job processing.
// Producers and consumers switch over the concrete variants; adding a kind
// is a compile-visible change in Marshal/Unmarshal.
type Event interface {
	// Job returns the id of the job the event belongs to.
	Job() string
	kind() string
}

// Status announces a state-machine transition.
type Status struct {
	JobID  string
	Status models.JobStatus
}

// Progress reports a stage change within one processing attempt.
type Progress struct {
	JobID   string
	Stage   string
	Message string
}

// Result carries the terminal outputs of a completed job.
type Result struct {
	JobID      string
	Transcript string
	Summary    string
}

// Failure carries the terminal error of a failed job.
type Failure struct {
	JobID string
	Error string
}

func (e Status) Job() string   { return e.JobID }
func (e Progress) Job() string { return e.JobID }
func (e Result) Job() string   { return e.JobID }
func (e Failure) Job() string  { return e.JobID }

func (Status) kind() string   { return "status" }
func (Progress) kind() string { return "progress" }
func (Result) kind() string   { return "result" }
func (Failure) kind() string  { return "error" }

// envelope is the flat wire shape shared by all variants.
type envelope struct {
	Type       string `json:"type"`
	JobID      string `json:"job_id"`
	Status     string `json:"status,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Message    string `json:"message,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Summary    string `json:"summary,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Marshal encodes an event into its wire form.
func Marshal(ev Event) ([]byte, error) {
	var env envelope
	switch e := ev.(type) {
	case Status:
		env = envelope{Type: e.kind(), JobID: e.JobID, Status: string(e.Status)}
	case Progress:
		env = envelope{Type: e.kind(), JobID: e.JobID, Stage: e.Stage, Message: e.Message}
	case Result:
		env = envelope{Type: e.kind(), JobID: e.JobID, Transcript: e.Transcript, Summary: e.Summary}
	case Failure:
		env = envelope{Type: e.kind(), JobID: e.JobID, Error: e.Error}
	default:
		return nil, fmt.Errorf("unknown event type %T", ev)
	}
	return json.Marshal(env)
}

// Unmarshal decodes a wire payload back into its variant.
func Unmarshal(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if env.JobID == "" {
		return nil, fmt.Errorf("event missing job_id")
	}
	switch env.Type {
	case "status":
		status, err := models.ParseStatus(env.Status)
		if err != nil {
			return nil, fmt.Errorf("decode status event: %w", err)
		}
		return Status{JobID: env.JobID, Status: status}, nil
	case "progress":
		return Progress{JobID: env.JobID, Stage: env.Stage, Message: env.Message}, nil
	case "result":
		return Result{JobID: env.JobID, Transcript: env.Transcript, Summary: env.Summary}, nil
	case "error":
		return Failure{JobID: env.JobID, Error: env.Error}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}
