// Package output provides JSONL output for upload runs.
//
// Output is structured as typed record envelopes containing job results,
// progress updates, errors and a final summary. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: meshport.<type>.v<version>
const (
	// TypeJob identifies final per-job records.
	TypeJob = "meshport.job.v1"

	// TypeError identifies error records.
	TypeError = "meshport.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "meshport.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "meshport.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "meshport.job.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID correlates every record emitted by one CLI invocation.
	RunID string `json:"run_id"`

	// Backend is the portal base URL.
	Backend string `json:"backend"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobRecord is the data payload emitted once per input when its job ends.
type JobRecord struct {
	// JobID is the backend job id. Empty when submission failed.
	JobID string `json:"job_id,omitempty"`

	// Source is the local input path.
	Source string `json:"source"`

	State  string `json:"state"`
	Status string `json:"status,omitempty"`

	Progress int `json:"progress"`
	Polls    int `json:"polls"`

	// ArtifactLocation is where the backend served the result.
	ArtifactLocation string `json:"artifact_location,omitempty"`

	// OutputLocation is where the artifact was stored (file path or s3 URI).
	OutputLocation string `json:"output_location,omitempty"`

	// Bytes is the artifact size.
	Bytes int64 `json:"bytes,omitempty"`

	Duration time.Duration `json:"duration_ns"`
}

// ProgressRecord is the data payload for progress updates.
//
// Progress records are emitted on every job state or progress change.
type ProgressRecord struct {
	JobID    string `json:"job_id"`
	Source   string `json:"source,omitempty"`
	State    string `json:"state"`
	Status   string `json:"status,omitempty"`
	Progress int    `json:"progress"`
	Polls    int    `json:"polls"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire run,
// so one bad input does not hide the results of the others.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is the human-readable message shown to the user.
	Message string `json:"message"`

	// Source is the local input path, if applicable.
	Source string `json:"source,omitempty"`

	// JobID is the backend job id, if one was assigned.
	JobID string `json:"job_id,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeValidation indicates a local precondition failed.
	ErrCodeValidation = "VALIDATION"

	// ErrCodeAuth indicates the backend rejected the credential.
	ErrCodeAuth = "AUTH"

	// ErrCodeSubmission indicates the upload was rejected or failed.
	ErrCodeSubmission = "SUBMISSION"

	// ErrCodePoll indicates a status query failed.
	ErrCodePoll = "POLL"

	// ErrCodeJobFailed indicates the backend reported FAILED or CANCELED.
	ErrCodeJobFailed = "JOB_FAILED"

	// ErrCodeRetrieval indicates the artifact fetch failed.
	ErrCodeRetrieval = "RETRIEVAL"

	// ErrCodeStorage indicates the artifact could not be stored locally.
	ErrCodeStorage = "STORAGE"

	// ErrCodeTimeout indicates the run was cut short by a deadline.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeCanceled indicates the run was interrupted.
	ErrCodeCanceled = "CANCELED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted at the end of a run with aggregate counts.
type SummaryRecord struct {
	// Inputs is the number of inputs processed.
	Inputs int64 `json:"inputs"`

	// Retrieved is the number of jobs whose artifact was stored.
	Retrieved int64 `json:"retrieved"`

	// Failed is the number of inputs that ended in an error.
	Failed int64 `json:"failed"`

	// BytesTotal is the cumulative size of stored artifacts in bytes.
	BytesTotal int64 `json:"bytes_total"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
