package models

import "time"

// SourceImage is an optional conditioning image sent with a generation request
type SourceImage struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

// GenerationJob is a single asynchronous request to the generative backend
type GenerationJob struct {
	ID          string       `json:"id"`
	Prompt      string       `json:"prompt"`
	Model       string       `json:"model"`
	SourceImage *SourceImage `json:"source_image,omitempty"`
	OutputPath  string       `json:"output_path"`
	SubmittedAt time.Time    `json:"submitted_at"`
}

// JobHandle is the opaque operation reference returned by a backend.
// It is only valid for the job that produced it.
type JobHandle string

// PollStatus is the backend's answer to a status query
type PollStatus struct {
	Done        bool   `json:"done"`
	ArtifactRef string `json:"artifact_ref,omitempty"`
	// Inline carries the artifact when the backend returns it with the status
	Inline []byte `json:"-"`
	// Error is set when the backend finished the job unsuccessfully
	Error string `json:"error,omitempty"`
}

// JobState is a state of the generation state machine
type JobState string

// JobState constants
const (
	JobStateSubmitting     JobState = "submitting"
	JobStateBackoffWait    JobState = "backoff_wait"
	JobStatePolling        JobState = "polling"
	JobStateCompleted      JobState = "completed"
	JobStateFailed         JobState = "failed"
	JobStateTimedOut       JobState = "timed_out"
	JobStateDownloadFailed JobState = "download_failed"
)

// IsTerminal returns true if no further transition can happen
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateTimedOut, JobStateDownloadFailed:
		return true
	default:
		return false
	}
}

// ErrorKind classifies an unsuccessful generation outcome
type ErrorKind string

// ErrorKind constants
const (
	ErrorKindNone           ErrorKind = ""
	ErrorKindFailed         ErrorKind = "failed"
	ErrorKindTimedOut       ErrorKind = "timed_out"
	ErrorKindDownloadFailed ErrorKind = "download_failed"
)

// GenerationResult is the terminal outcome of a generation job
type GenerationResult struct {
	Success        bool          `json:"success"`
	JobID          string        `json:"job_id"`
	Handle         JobHandle     `json:"handle,omitempty"`
	ArtifactPath   string        `json:"artifact_path,omitempty"`
	ArtifactRef    string        `json:"artifact_ref,omitempty"`
	ArtifactBytes  int64         `json:"artifact_bytes,omitempty"`
	ErrorKind      ErrorKind     `json:"error_kind,omitempty"`
	FinalState     JobState      `json:"final_state"`
	SubmitAttempts int           `json:"submit_attempts"`
	Polls          int           `json:"polls"`
	Elapsed        time.Duration `json:"elapsed"`
	Err            error         `json:"-"`
}

// ErrorMessage returns the cause of a failed job, or an empty string
func (r *GenerationResult) ErrorMessage() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ArtifactSidecar is the JSON metadata persisted next to a generated artifact
type ArtifactSidecar struct {
	JobID        string            `json:"job_id"`
	Kind         string            `json:"kind"`
	Prompt       string            `json:"prompt"`
	Model        string            `json:"model"`
	GeneratedAt  time.Time         `json:"generated_at"`
	TargetWidth  int               `json:"target_width,omitempty"`
	TargetHeight int               `json:"target_height,omitempty"`
	SizeBytes    int64             `json:"size_bytes"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Artifact kinds
const (
	ArtifactKindImage = "image"
	ArtifactKindVideo = "video"
)
