package tracker

import (
	"errors"
	"fmt"

	"github.com/3leaps/meshport/pkg/portal"
)

// Error classes. Every error returned by the tracker wraps exactly one of
// these; test with errors.Is.
var (
	// ErrValidation is a local precondition failure; no request was made.
	ErrValidation = errors.New("validation failed")

	// ErrSubmission means the upload request failed or was rejected.
	ErrSubmission = errors.New("submission failed")

	// ErrAuth means the backend rejected the credential (401/403).
	ErrAuth = errors.New("authentication failed")

	// ErrPoll means a status query failed after retries.
	ErrPoll = errors.New("status poll failed")

	// ErrJobFailed means the backend reported FAILED or CANCELED.
	ErrJobFailed = errors.New("job failed")

	// ErrRetrieval means the artifact fetch failed although the job succeeded.
	ErrRetrieval = errors.New("retrieval failed")
)

// Misuse errors, wrapped in a JobError with the matching class.
var (
	errNoArtifact      = errors.New("An image file is required.")
	errNoCredential    = errors.New("You must be logged in to upload.")
	errAlreadyTerminal = errors.New("job already reached a terminal status")
	errNotSucceeded    = errors.New("job has not succeeded")
)

// JobError carries the class, the operation and the job it concerns.
type JobError struct {
	// Op is the tracker operation: Submit, Poll, Retrieve or Wait.
	Op string

	// JobID is empty for submission failures.
	JobID string

	// Class is one of the Err* class sentinels.
	Class error

	// Status is the terminal status for ErrJobFailed.
	Status Status

	// Err is the underlying cause (often a *portal.APIError).
	Err error
}

func (e *JobError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("tracker %s job %s: %v: %s", e.Op, e.JobID, e.Class, e.message())
	}
	return fmt.Sprintf("tracker %s: %v: %s", e.Op, e.Class, e.message())
}

// Unwrap exposes the class and the cause.
func (e *JobError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Class != nil {
		out = append(out, e.Class)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func (e *JobError) message() string {
	switch {
	case e.Class == ErrJobFailed:
		return fmt.Sprintf("Task %s", e.Status)
	case e.Err != nil:
		return portal.UserMessage(e.Err)
	case e.Class != nil:
		return e.Class.Error()
	default:
		return "unknown error"
	}
}

// UserMessage returns the single human-readable message for err. Backend
// detail text is passed through verbatim.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var jerr *JobError
	if errors.As(err, &jerr) {
		return jerr.message()
	}
	return portal.UserMessage(err)
}

// classify picks the class for a backend error at a given stage: auth
// failures win over the stage class.
func classify(op, jobID string, stage error, err error) *JobError {
	class := stage
	if portal.IsUnauthorized(err) {
		class = ErrAuth
	}
	return &JobError{Op: op, JobID: jobID, Class: class, Err: err}
}

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsJobFailed reports whether the backend reported FAILED or CANCELED.
func IsJobFailed(err error) bool { return errors.Is(err, ErrJobFailed) }

// IsRetrieval reports whether fetching a succeeded job's artifact failed.
func IsRetrieval(err error) bool { return errors.Is(err, ErrRetrieval) }
