package output

import (
	"context"
	"errors"

	"github.com/3leaps/meshport/pkg/portal"
	"github.com/3leaps/meshport/pkg/sink"
	"github.com/3leaps/meshport/pkg/tracker"
)

// ProgressFromJob converts a tracker snapshot into a progress payload.
func ProgressFromJob(job tracker.Job, source string) *ProgressRecord {
	return &ProgressRecord{
		JobID:    job.ID,
		Source:   source,
		State:    string(job.State),
		Status:   string(job.Status),
		Progress: job.Progress,
		Polls:    job.Polls,
	}
}

// ErrorFromErr builds an error payload carrying the user-facing message
// and a code derived from the error class.
func ErrorFromErr(err error, source, jobID string) *ErrorRecord {
	rec := &ErrorRecord{
		Code:    ErrorCode(err),
		Message: tracker.UserMessage(err),
		Source:  source,
		JobID:   jobID,
	}
	var apiErr *portal.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		rec.Details = map[string]any{"http_status": apiErr.StatusCode}
	}
	return rec
}

// ErrorCode maps an error to one of the ErrCode* constants.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		return ErrCodeCanceled
	case errors.Is(err, tracker.ErrValidation):
		return ErrCodeValidation
	case errors.Is(err, tracker.ErrAuth):
		return ErrCodeAuth
	case errors.Is(err, tracker.ErrSubmission):
		return ErrCodeSubmission
	case errors.Is(err, tracker.ErrPoll):
		return ErrCodePoll
	case errors.Is(err, tracker.ErrJobFailed):
		return ErrCodeJobFailed
	case errors.Is(err, tracker.ErrRetrieval):
		return ErrCodeRetrieval
	case errors.As(err, new(*sink.Error)):
		return ErrCodeStorage
	default:
		return ErrCodeInternal
	}
}
