package exec

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// FailureReason classifies why an execution did not succeed.
type FailureReason int

const (
	FailureNone FailureReason = iota
	FailureTimeout
	FailureRejected
	FailureProcessError
)

func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureRejected:
		return "rejected"
	case FailureProcessError:
		return "process_error"
	default:
		return "unknown"
	}
}

// Outcome is the normalized result of one execution attempt.
type Outcome struct {
	Command   string
	Succeeded bool
	// Stdout and Stderr are trimmed of surrounding whitespace.
	Stdout   string
	Stderr   string
	Failure  FailureReason
	Err      error
	ExitCode int
	Duration time.Duration
}

// Rejected builds the outcome for a command refused before execution.
func Rejected(command string, err error) *Outcome {
	return &Outcome{Command: command, Failure: FailureRejected, Err: err, ExitCode: -1}
}

var (
	ErrEmptyCommand = errors.New("command is required")
	ErrTimeout      = errors.New("command timed out")
	ErrOutputLimit  = errors.New("output limit exceeded")
)

// TimeoutError wraps ErrTimeout with the limit that fired.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Command execution timed out after %s seconds", formatSeconds(e.Timeout))
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// OutputLimitError wraps ErrOutputLimit with the configured cap.
type OutputLimitError struct {
	Limit int
}

func (e *OutputLimitError) Error() string {
	return fmt.Sprintf("output exceeded %s limit", humanize.IBytes(uint64(e.Limit)))
}

func (e *OutputLimitError) Unwrap() error { return ErrOutputLimit }

// CommandError reports a non-zero exit or a failure to start the process.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("Command failed: %s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
