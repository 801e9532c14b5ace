package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/meshport/pkg/portal"
	"github.com/3leaps/meshport/pkg/session"
	"github.com/3leaps/meshport/pkg/sink"
	"github.com/3leaps/meshport/pkg/tracker"
)

// exitGeneralFailure is used when a job ran but the backend reported it as
// failed; no more specific foundry code applies.
const exitGeneralFailure = 1

// ExitError carries the process exit code chosen by a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	if err == nil {
		err = errors.New(message)
	}
	return &ExitError{Code: code, Message: message, Err: err}
}

func exitCodeFor(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return classExitCode(err)
}

// classExitCode maps tracker, portal and sink error classes to exit codes.
func classExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return foundry.ExitSignalInt
	case errors.Is(err, tracker.ErrValidation),
		errors.Is(err, session.ErrCredentialsRequired),
		errors.Is(err, tracker.ErrAuth),
		portal.IsUnauthorized(err),
		errors.Is(err, portal.ErrBadRequest):
		return foundry.ExitInvalidArgument
	case errors.Is(err, tracker.ErrJobFailed):
		return exitGeneralFailure
	case errors.As(err, new(*sink.Error)):
		return foundry.ExitFileWriteError
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}

// userMessage is the single line shown for err: the backend's own detail
// when there is one.
func userMessage(err error) string {
	var ee *ExitError
	if errors.As(err, &ee) {
		inner := tracker.UserMessage(ee.Err)
		if inner == "" || inner == ee.Message {
			return ee.Message
		}
		return ee.Message + ": " + inner
	}
	return tracker.UserMessage(err)
}
