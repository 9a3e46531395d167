package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/artifact"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/config"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/tracing"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// ErrInvalidJob is returned for jobs that cannot be submitted at all
var ErrInvalidJob = errors.New("generation: invalid job")

// Config bounds a single job
type Config struct {
	PollInterval     time.Duration
	MaxPolls         int
	SubmitRetries    int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	MinArtifactBytes int64
}

// DefaultConfig returns the poller defaults
func DefaultConfig() Config {
	return Config{
		PollInterval:     10 * time.Second,
		MaxPolls:         60,
		SubmitRetries:    5,
		BackoffBase:      2 * time.Second,
		BackoffMax:       60 * time.Second,
		MinArtifactBytes: 1024,
	}
}

// ConfigFrom extracts the poller settings from the generation config section
func ConfigFrom(cfg config.GenerationConfig) Config {
	return Config{
		PollInterval:     cfg.PollInterval,
		MaxPolls:         cfg.MaxPolls,
		SubmitRetries:    cfg.SubmitRetries,
		BackoffBase:      cfg.BackoffBase,
		BackoffMax:       cfg.BackoffMax,
		MinArtifactBytes: cfg.MinArtifactBytes,
	}
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Poller runs generation jobs against a Backend
type Poller struct {
	backend Backend
	cfg     Config
	backoff *Backoff
	sleep   SleepFunc
	now     func() time.Time
	logger  *logging.Logger
}

// PollerOption configures a Poller
type PollerOption func(*Poller)

// WithSleep replaces the context-aware sleep used between attempts
func WithSleep(fn SleepFunc) PollerOption {
	return func(p *Poller) { p.sleep = fn }
}

// WithJitter replaces the backoff jitter source
func WithJitter(fn func(limit time.Duration) time.Duration) PollerOption {
	return func(p *Poller) { p.backoff.Jitter = fn }
}

// WithClock replaces time.Now for elapsed-time accounting
func WithClock(fn func() time.Time) PollerOption {
	return func(p *Poller) { p.now = fn }
}

// WithPollerLogger sets the logger
func WithPollerLogger(l *logging.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// NewPoller creates a Poller. MaxPolls and PollInterval fall back to the
// defaults when unset.
func NewPoller(backend Backend, cfg Config, opts ...PollerOption) *Poller {
	defaults := DefaultConfig()
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = defaults.MaxPolls
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.SubmitRetries < 0 {
		cfg.SubmitRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaults.BackoffMax
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}

	p := &Poller{
		backend: backend,
		cfg:     cfg,
		backoff: NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
		sleep:   sleepContext,
		now:     time.Now,
		logger:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drives job to exactly one terminal state. It never returns nil.
func (p *Poller) Run(ctx context.Context, job models.GenerationJob) *models.GenerationResult {
	start := p.now()
	span, ctx := tracing.StartSpan(ctx, "generation.run")
	tracing.SetTag(span, "job.id", job.ID)
	tracing.SetTag(span, "job.model", job.Model)

	result := &models.GenerationResult{JobID: job.ID}
	defer func() {
		result.Elapsed = p.now().Sub(start)
		result.Success = result.FinalState == models.JobStateCompleted

		metrics.RecordGeneration(string(result.FinalState), result.Elapsed.Seconds())
		tracing.SetTag(span, "job.state", string(result.FinalState))
		tracing.FinishSpan(span, result.Err)
		p.logger.LogGenerationResult(result)
	}()

	if job.OutputPath == "" {
		finish(result, models.JobStateFailed, fmt.Errorf("%w: output path is required", ErrInvalidJob))
		return result
	}
	if job.Prompt == "" && job.SourceImage == nil {
		finish(result, models.JobStateFailed, fmt.Errorf("%w: prompt or source image is required", ErrInvalidJob))
		return result
	}

	handle, err := p.submit(ctx, job, result)
	if err != nil {
		finish(result, models.JobStateFailed, err)
		return result
	}
	result.Handle = handle

	status, state, err := p.poll(ctx, job.ID, handle, result)
	if err != nil {
		finish(result, state, err)
		return result
	}

	p.complete(ctx, job, status, result)
	return result
}

// submit loops Submitting -> BackoffWait until a handle is returned or the
// retry budget is spent. Attempt n waits Backoff.Delay(n) before retrying.
func (p *Poller) submit(ctx context.Context, job models.GenerationJob, result *models.GenerationResult) (models.JobHandle, error) {
	req := SubmitRequest{
		Prompt:      job.Prompt,
		Model:       job.Model,
		SourceImage: job.SourceImage,
	}

	for attempt := 0; ; attempt++ {
		p.logger.LogGenerationEvent(job.ID, models.JobStateSubmitting, map[string]interface{}{
			"attempt": attempt + 1,
		})

		result.SubmitAttempts++
		handle, err := p.backend.Submit(ctx, req)
		if err == nil {
			return handle, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("submit cancelled: %w", ctxErr)
		}
		if ClassOf(err) != ClassRateLimited {
			return "", fmt.Errorf("submit: %w", err)
		}
		if attempt >= p.cfg.SubmitRetries {
			return "", fmt.Errorf("%w after %d attempts: %v", ErrThrottled, result.SubmitAttempts, err)
		}

		delay := p.backoff.Delay(attempt, RetryAfterOf(err))
		metrics.RecordSubmitRetry()
		p.logger.LogGenerationEvent(job.ID, models.JobStateBackoffWait, map[string]interface{}{
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
		})

		if err := p.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("backoff cancelled: %w", err)
		}
	}
}

// poll waits for a terminal status. Every Poll call counts toward MaxPolls,
// whether it succeeded or not.
func (p *Poller) poll(ctx context.Context, jobID string, handle models.JobHandle, result *models.GenerationResult) (models.PollStatus, models.JobState, error) {
	wait := p.cfg.PollInterval
	failures := 0

	for result.Polls < p.cfg.MaxPolls {
		if err := p.sleep(ctx, wait); err != nil {
			return models.PollStatus{}, models.JobStateTimedOut, fmt.Errorf("polling cancelled: %w", err)
		}

		result.Polls++
		metrics.RecordPoll()

		status, err := p.backend.Poll(ctx, handle)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return status, models.JobStateTimedOut, fmt.Errorf("polling cancelled: %w", ctxErr)
			}
			if ClassOf(err) == ClassFatal {
				return status, models.JobStateFailed, fmt.Errorf("poll: %w", err)
			}

			wait = p.backoff.Delay(failures, RetryAfterOf(err))
			if wait < p.cfg.PollInterval {
				wait = p.cfg.PollInterval
			}
			failures++

			p.logger.WithJobID(jobID).WithError(err).Warnf("Poll %d failed, retrying in %s", result.Polls, wait)
			continue
		}

		failures = 0
		wait = p.cfg.PollInterval

		if !status.Done {
			p.logger.LogGenerationEvent(jobID, models.JobStatePolling, map[string]interface{}{
				"poll": result.Polls,
			})
			continue
		}

		if status.Error != "" {
			return status, models.JobStateFailed, fmt.Errorf("%w: %s", ErrJobFailed, status.Error)
		}
		return status, models.JobStateCompleted, nil
	}

	return models.PollStatus{}, models.JobStateTimedOut, fmt.Errorf("%w after %d polls", ErrPollingExhausted, result.Polls)
}

// complete persists the artifact of a finished job
func (p *Poller) complete(ctx context.Context, job models.GenerationJob, status models.PollStatus, result *models.GenerationResult) {
	result.ArtifactRef = status.ArtifactRef

	data := status.Inline
	if len(data) == 0 {
		if status.ArtifactRef == "" {
			finish(result, models.JobStateDownloadFailed, fmt.Errorf("%w: completed status carries no artifact", ErrDownloadFailed))
			return
		}

		fetched, err := p.backend.Fetch(ctx, status.ArtifactRef)
		if err != nil {
			finish(result, models.JobStateDownloadFailed, fmt.Errorf("%w: %v", ErrDownloadFailed, err))
			return
		}
		data = fetched
	}

	size, err := p.persist(job.OutputPath, data)
	if err != nil {
		finish(result, models.JobStateDownloadFailed, err)
		return
	}

	result.ArtifactPath = job.OutputPath
	result.ArtifactBytes = size
	finish(result, models.JobStateCompleted, nil)
}

// Download fetches ref and writes it to path. It is the retry path for jobs
// that ended in DownloadFailed; the result's ArtifactRef stays valid.
func (p *Poller) Download(ctx context.Context, ref, path string) (int64, error) {
	if ref == "" {
		return 0, fmt.Errorf("%w: empty artifact reference", ErrDownloadFailed)
	}

	data, err := p.backend.Fetch(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return p.persist(path, data)
}

// persist checks the size floor, then writes atomically. An undersized
// artifact never reaches the destination path.
func (p *Poller) persist(path string, data []byte) (int64, error) {
	size := int64(len(data))
	if size < p.cfg.MinArtifactBytes {
		return size, fmt.Errorf("%w: artifact is %d bytes, want at least %d", ErrDownloadFailed, size, p.cfg.MinArtifactBytes)
	}

	if err := artifact.WriteFile(path, data); err != nil {
		return size, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return size, nil
}

func finish(result *models.GenerationResult, state models.JobState, err error) {
	result.FinalState = state
	result.Err = err

	switch state {
	case models.JobStateCompleted:
		result.ErrorKind = models.ErrorKindNone
	case models.JobStateTimedOut:
		result.ErrorKind = models.ErrorKindTimedOut
	case models.JobStateDownloadFailed:
		result.ErrorKind = models.ErrorKindDownloadFailed
	default:
		result.ErrorKind = models.ErrorKindFailed
	}
}
