package runtime

import (
	"fmt"

	"github.com/muvis-xrh/xrhms-core/internal/errors"
)

// ExitError carries the process exit status of a job. Err may be nil when
// the command already reported the outcome on stdout.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// WithExitCode attaches an exit status to err.
func WithExitCode(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps the error returned by a command to the process exit status.
// Errors without an explicit status exit with 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// Cause returns the error to report for err, nil when the command only set
// an exit status.
func Cause(err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Err
	}
	return err
}
