package generation

import (
	"errors"
	"fmt"
	"time"
)

// Terminal causes carried in GenerationResult.Err
var (
	// ErrThrottled means every submission attempt was rejected by rate limiting
	ErrThrottled = errors.New("generation: submission throttled")

	// ErrPollingExhausted means no terminal status arrived within MaxPolls
	ErrPollingExhausted = errors.New("generation: polling exhausted")

	// ErrDownloadFailed means the job completed but its artifact could not be
	// retrieved or was undersized
	ErrDownloadFailed = errors.New("generation: artifact download failed")

	// ErrJobFailed means the backend finished the job unsuccessfully
	ErrJobFailed = errors.New("generation: job failed")
)

// ErrorClass tells the poller how to react to a backend error
type ErrorClass int

const (
	// ClassTransient errors are retried after a backoff delay
	ClassTransient ErrorClass = iota
	// ClassRateLimited errors trigger the submission backoff
	ClassRateLimited
	// ClassFatal errors end the job
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassFatal:
		return "fatal"
	default:
		return "transient"
	}
}

// BackendError is returned by Backend implementations so that the poller
// never has to inspect error text.
type BackendError struct {
	Class      ErrorClass
	Op         string
	StatusCode int
	// RetryAfter is the server-requested minimum wait, if any
	RetryAfter time.Duration
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %v", e.Op, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// RateLimited wraps err as a throttling error
func RateLimited(op string, retryAfter time.Duration, err error) error {
	return &BackendError{Class: ClassRateLimited, Op: op, RetryAfter: retryAfter, Err: err}
}

// Transient wraps err as a retryable error
func Transient(op string, err error) error {
	return &BackendError{Class: ClassTransient, Op: op, Err: err}
}

// Fatal wraps err as a non-retryable error
func Fatal(op string, err error) error {
	return &BackendError{Class: ClassFatal, Op: op, Err: err}
}

// ClassOf returns the class of err. Errors that were not classified by the
// backend are treated as transient.
func ClassOf(err error) ErrorClass {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Class
	}
	return ClassTransient
}

// RetryAfterOf returns the server-requested wait carried by err, or zero
func RetryAfterOf(err error) time.Duration {
	var be *BackendError
	if errors.As(err, &be) {
		return be.RetryAfter
	}
	return 0
}
