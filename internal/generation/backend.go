// Package generation drives asynchronous media generation jobs: submit with
// throttling backoff, poll until a terminal status, then persist the artifact.
package generation

import (
	"context"

	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// SubmitRequest is the payload of a single submission
type SubmitRequest struct {
	Prompt      string
	Model       string
	SourceImage *models.SourceImage
}

// Backend is a long-running generation service.
//
// Implementations must classify failures with RateLimited, Transient or Fatal
// so the poller can react without inspecting error text.
type Backend interface {
	// Submit starts a job and returns its opaque handle
	Submit(ctx context.Context, req SubmitRequest) (models.JobHandle, error)
	// Poll reports the current status of a submitted job
	Poll(ctx context.Context, handle models.JobHandle) (models.PollStatus, error)
	// Fetch downloads a completed artifact by reference
	Fetch(ctx context.Context, ref string) ([]byte, error)
}
