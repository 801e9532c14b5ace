// Package tracker drives one artifact through the portal's asynchronous
// workflow: submit, poll status at a fixed interval, retrieve the result.
//
// State machine per job:
//
//	SUBMITTED -> PENDING -> SUCCEEDED -> RETRIEVED
//	SUBMITTED -> PENDING -> FAILED
//	SUBMITTED -> PENDING -> CANCELED
//
// A backend may report SUCCEEDED (or a failure) on the first poll, skipping
// PENDING. States never move backwards, and no poll is issued once a
// terminal status has been observed.
package tracker

import (
	"strings"
	"sync"
	"time"
)

// Status is the job status as reported by the backend. Values are treated
// as an opaque enumeration; anything that is not terminal keeps the job
// polling.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// ParseStatus normalizes a backend status string.
func ParseStatus(raw string) Status {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "CANCELLED" {
		return StatusCanceled
	}
	return Status(s)
}

// IsTerminal reports whether no further status changes are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// State is the client-side lifecycle position of a job.
type State string

const (
	StateSubmitted State = "SUBMITTED"
	StatePending   State = "PENDING"
	StateSucceeded State = "SUCCEEDED"
	StateRetrieved State = "RETRIEVED"
	StateFailed    State = "FAILED"
	StateCanceled  State = "CANCELED"
)

// IsTerminal reports whether the driver is done with a job in this state.
// SUCCEEDED is not terminal for the driver: retrieval is still due.
func (s State) IsTerminal() bool {
	switch s {
	case StateRetrieved, StateFailed, StateCanceled:
		return true
	}
	return false
}

func stateFor(st Status) State {
	switch st {
	case StatusSucceeded:
		return StateSucceeded
	case StatusFailed:
		return StateFailed
	case StatusCanceled:
		return StateCanceled
	default:
		return StatePending
	}
}

// Job is a point-in-time snapshot of one tracked job.
type Job struct {
	ID               string    `json:"id"`
	State            State     `json:"state"`
	Status           Status    `json:"status,omitempty"`
	ArtifactLocation string    `json:"artifact_location,omitempty"`
	ModelFile        string    `json:"model_file,omitempty"`
	FileName         string    `json:"file_name,omitempty"`
	Progress         int       `json:"progress"`
	Polls            int       `json:"polls"`
	SubmittedAt      time.Time `json:"submitted_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// JobHandle tracks a single submitted job. It is created by Submit (or
// NewHandle when resuming) and mutated only by the tracker; Snapshot is
// safe to call from other goroutines.
type JobHandle struct {
	mu    sync.Mutex
	job   Job
	token string
	meter *progress
}

// NewHandle rebuilds a handle for a job submitted earlier, e.g. from the
// job registry. State is derived from Status; an empty Status means nothing
// was observed yet. Progress and Polls carry over so a resumed job keeps
// counting from where it stopped.
func NewHandle(token string, job Job) *JobHandle {
	job.Status = ParseStatus(string(job.Status))
	job.State = StateSubmitted
	if job.Status != "" {
		job.State = stateFor(job.Status)
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.SubmittedAt
	}
	job.Progress = clamp(job.Progress, 0, 100)
	if job.Polls < 0 {
		job.Polls = 0
	}
	return &JobHandle{job: job, token: token}
}

// ID returns the backend job id.
func (h *JobHandle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.ID
}

// Snapshot returns a copy of the current job view.
func (h *JobHandle) Snapshot() Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job
}

func (h *JobHandle) status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.Status
}

func (h *JobHandle) update(fn func(j *Job)) Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.job)
	return h.job
}

// Artifact is a retrieved result.
type Artifact struct {
	JobID     string
	Location  string
	ModelFile string
	Data      []byte
}

// Result is what the driver hands back: the final job view and, on
// success, the artifact.
type Result struct {
	Job      Job
	Artifact *Artifact
}
