package jobregistry

import "time"

// JobState is the client-side lifecycle state of a recorded job.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract. They match tracker.State.
type JobState string

const (
	JobStateSubmitted JobState = "SUBMITTED"
	JobStatePending   JobState = "PENDING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateRetrieved JobState = "RETRIEVED"
	JobStateFailed    JobState = "FAILED"
	JobStateCanceled  JobState = "CANCELED"
)

// IsTerminal reports whether the job needs no further work. A SUCCEEDED job
// whose artifact was never stored is still resumable.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateRetrieved, JobStateFailed, JobStateCanceled:
		return true
	}
	return false
}

// JobRecord is the persistent record written to job.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type JobRecord struct {
	JobID      string   `json:"job_id"`
	Source     string   `json:"source,omitempty"`
	State      JobState `json:"state"`
	Status     string   `json:"status,omitempty"`
	BackendURL string   `json:"backend_url"`
	Username   string   `json:"username,omitempty"`
	Progress   int      `json:"progress"`
	Polls      int      `json:"polls"`

	ArtifactLocation string `json:"artifact_location,omitempty"`
	// ModelFile is the backend's name for the artifact; stored output
	// keys derive from it.
	ModelFile      string `json:"model_file,omitempty"`
	OutputLocation string `json:"output_location,omitempty"`

	// Error is the user-facing message of the last failure, if any.
	Error string `json:"error,omitempty"`

	// PID is set while a detached worker is driving the job.
	PID int `json:"pid,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	StdoutPath string     `json:"stdout_path,omitempty"`
	StderrPath string     `json:"stderr_path,omitempty"`
}
