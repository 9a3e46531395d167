package transcoder

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolNotAvailable means the ffmpeg or ffprobe binary could not be
	// started. Retrying will not help.
	ErrToolNotAvailable = errors.New("transcoder: tool not available")

	// ErrEncodeIncomplete means the process exited cleanly but the output is
	// missing or smaller than the configured minimum.
	ErrEncodeIncomplete = errors.New("transcoder: output missing or incomplete")

	// ErrInvalidInput covers option errors caught before any process starts
	ErrInvalidInput = errors.New("transcoder: invalid input")
)

// EncodeFailedError is returned when the tool exits non-zero or is killed
// because the call's deadline passed.
type EncodeFailedError struct {
	Tool     string
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *EncodeFailedError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s timed out: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, lastLines(e.Stderr, 5))
}

func (e *EncodeFailedError) Unwrap() error {
	return e.Err
}

// lastLines keeps the tail of ffmpeg's stderr, where the actual error is
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// errorType maps an error to a short label for metrics
func errorType(err error) string {
	var encErr *EncodeFailedError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrToolNotAvailable):
		return "tool_not_available"
	case errors.Is(err, ErrEncodeIncomplete):
		return "encode_incomplete"
	case errors.As(err, &encErr) && encErr.TimedOut:
		return "timeout"
	case errors.As(err, &encErr):
		return "encode_failed"
	default:
		return "other"
	}
}
