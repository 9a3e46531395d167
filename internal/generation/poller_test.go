package generation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

type fakeBackend struct {
	submitFn func(call int) (models.JobHandle, error)
	pollFn   func(call int) (models.PollStatus, error)
	fetchFn  func(ref string) ([]byte, error)

	submits int
	polls   int
	fetches []string
}

func (f *fakeBackend) Submit(_ context.Context, _ SubmitRequest) (models.JobHandle, error) {
	f.submits++
	if f.submitFn == nil {
		return "op-1", nil
	}
	return f.submitFn(f.submits)
}

func (f *fakeBackend) Poll(_ context.Context, _ models.JobHandle) (models.PollStatus, error) {
	f.polls++
	return f.pollFn(f.polls)
}

func (f *fakeBackend) Fetch(_ context.Context, ref string) ([]byte, error) {
	f.fetches = append(f.fetches, ref)
	if f.fetchFn == nil {
		return nil, errors.New("no fetch configured")
	}
	return f.fetchFn(ref)
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func noJitter(time.Duration) time.Duration { return 0 }

func testConfig() Config {
	return Config{
		PollInterval:     time.Second,
		MaxPolls:         5,
		SubmitRetries:    3,
		BackoffBase:      time.Second,
		BackoffMax:       8 * time.Second,
		MinArtifactBytes: 1024,
	}
}

func newTestPoller(backend Backend, cfg Config, sleeper *sleepRecorder) *Poller {
	return NewPoller(backend, cfg, WithSleep(sleeper.sleep), WithJitter(noJitter))
}

func testJob(t *testing.T) models.GenerationJob {
	t.Helper()
	return models.GenerationJob{
		ID:         "job-1",
		Prompt:     "waves breaking on a basalt shore",
		Model:      "veo-2",
		OutputPath: filepath.Join(t.TempDir(), "out", "video.mp4"),
	}
}

func pendingUntil(n int, done models.PollStatus) func(int) (models.PollStatus, error) {
	return func(call int) (models.PollStatus, error) {
		if call < n {
			return models.PollStatus{}, nil
		}
		return done, nil
	}
}

func TestRunCompletesOnNthPoll(t *testing.T) {
	backend := &fakeBackend{
		pollFn: pendingUntil(3, models.PollStatus{Done: true, Inline: make([]byte, 2048)}),
	}
	sleeper := &sleepRecorder{}
	job := testJob(t)

	result := newTestPoller(backend, testConfig(), sleeper).Run(context.Background(), job)

	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, models.JobStateCompleted, result.FinalState)
	assert.Equal(t, models.ErrorKindNone, result.ErrorKind)
	assert.NoError(t, result.Err)
	assert.Equal(t, 3, result.Polls)
	assert.Equal(t, 3, backend.polls)
	assert.Equal(t, 1, result.SubmitAttempts)
	assert.Equal(t, models.JobHandle("op-1"), result.Handle)
	assert.Equal(t, job.OutputPath, result.ArtifactPath)
	assert.Equal(t, int64(2048), result.ArtifactBytes)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, sleeper.delays)
	assert.Empty(t, backend.fetches, "inline artifacts need no fetch")

	info, err := os.Stat(job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), info.Size())
}

func TestRunFetchesArtifactRef(t *testing.T) {
	backend := &fakeBackend{
		pollFn: pendingUntil(1, models.PollStatus{Done: true, ArtifactRef: "https://cdn.example/v.mp4"}),
		fetchFn: func(string) ([]byte, error) {
			return make([]byte, 4096), nil
		},
	}
	job := testJob(t)

	result := newTestPoller(backend, testConfig(), &sleepRecorder{}).Run(context.Background(), job)

	assert.Equal(t, models.JobStateCompleted, result.FinalState)
	assert.Equal(t, []string{"https://cdn.example/v.mp4"}, backend.fetches)
	assert.Equal(t, "https://cdn.example/v.mp4", result.ArtifactRef)
	assert.Equal(t, int64(4096), result.ArtifactBytes)
	assert.FileExists(t, job.OutputPath)
}

func TestRunAlwaysThrottled(t *testing.T) {
	backend := &fakeBackend{
		submitFn: func(int) (models.JobHandle, error) {
			return "", RateLimited("submit", 0, errors.New("quota exceeded"))
		},
	}
	sleeper := &sleepRecorder{}
	cfg := testConfig()

	result := newTestPoller(backend, cfg, sleeper).Run(context.Background(), testJob(t))

	assert.False(t, result.Success)
	assert.Equal(t, models.JobStateFailed, result.FinalState)
	assert.Equal(t, models.ErrorKindFailed, result.ErrorKind)
	assert.ErrorIs(t, result.Err, ErrThrottled)
	assert.Equal(t, cfg.SubmitRetries+1, backend.submits)
	assert.Equal(t, cfg.SubmitRetries+1, result.SubmitAttempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
	assert.Zero(t, backend.polls)
}

func TestRunThrottledWithPartialConfig(t *testing.T) {
	backend := &fakeBackend{
		submitFn: func(int) (models.JobHandle, error) {
			return "", RateLimited("submit", 0, errors.New("quota exceeded"))
		},
	}
	sleeper := &sleepRecorder{}

	result := newTestPoller(backend, Config{SubmitRetries: 3}, sleeper).Run(context.Background(), testJob(t))

	assert.ErrorIs(t, result.Err, ErrThrottled)
	assert.Equal(t, 4, backend.submits)
	// unset backoff falls back to the default base and cap
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, sleeper.delays)
}

func TestRunThrottledThenAccepted(t *testing.T) {
	backend := &fakeBackend{
		submitFn: func(call int) (models.JobHandle, error) {
			if call == 1 {
				return "", RateLimited("submit", 5*time.Second, errors.New("slow down"))
			}
			if call == 2 {
				return "", RateLimited("submit", 0, errors.New("slow down"))
			}
			return "op-3", nil
		},
		pollFn: pendingUntil(1, models.PollStatus{Done: true, Inline: make([]byte, 1024)}),
	}
	sleeper := &sleepRecorder{}

	result := newTestPoller(backend, testConfig(), sleeper).Run(context.Background(), testJob(t))

	assert.Equal(t, models.JobStateCompleted, result.FinalState)
	assert.Equal(t, 3, result.SubmitAttempts)
	assert.Equal(t, models.JobHandle("op-3"), result.Handle)
	// Retry-After raises the first wait, the second follows the exponent
	assert.Equal(t, []time.Duration{5 * time.Second, 2 * time.Second, time.Second}, sleeper.delays)
}

func TestRunSubmitRejected(t *testing.T) {
	backend := &fakeBackend{
		submitFn: func(int) (models.JobHandle, error) {
			return "", Fatal("submit", errors.New("prompt rejected"))
		},
	}
	sleeper := &sleepRecorder{}

	result := newTestPoller(backend, testConfig(), sleeper).Run(context.Background(), testJob(t))

	assert.Equal(t, models.JobStateFailed, result.FinalState)
	assert.NotErrorIs(t, result.Err, ErrThrottled)
	assert.Contains(t, result.ErrorMessage(), "prompt rejected")
	assert.Equal(t, 1, backend.submits)
	assert.Empty(t, sleeper.delays)
}

func TestRunNeverDone(t *testing.T) {
	backend := &fakeBackend{
		pollFn: func(int) (models.PollStatus, error) { return models.PollStatus{}, nil },
	}
	cfg := testConfig()
	job := testJob(t)

	result := newTestPoller(backend, cfg, &sleepRecorder{}).Run(context.Background(), job)

	assert.Equal(t, models.JobStateTimedOut, result.FinalState)
	assert.Equal(t, models.ErrorKindTimedOut, result.ErrorKind)
	assert.ErrorIs(t, result.Err, ErrPollingExhausted)
	assert.Equal(t, cfg.MaxPolls, result.Polls)
	assert.Equal(t, cfg.MaxPolls, backend.polls)
	assert.NoFileExists(t, job.OutputPath)
}

func TestRunTransientPollErrors(t *testing.T) {
	backend := &fakeBackend{
		pollFn: func(call int) (models.PollStatus, error) {
			if call < 3 {
				return models.PollStatus{}, Transient("poll", errors.New("502 bad gateway"))
			}
			return models.PollStatus{Done: true, Inline: make([]byte, 2000)}, nil
		},
	}
	sleeper := &sleepRecorder{}
	cfg := testConfig()
	cfg.BackoffBase = 2 * time.Second

	result := newTestPoller(backend, cfg, sleeper).Run(context.Background(), testJob(t))

	assert.Equal(t, models.JobStateCompleted, result.FinalState)
	assert.Equal(t, 3, result.Polls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
}

func TestRunTransientPollErrorsCountTowardMaxPolls(t *testing.T) {
	backend := &fakeBackend{
		pollFn: func(int) (models.PollStatus, error) {
			return models.PollStatus{}, errors.New("connection reset")
		},
	}
	cfg := testConfig()

	result := newTestPoller(backend, cfg, &sleepRecorder{}).Run(context.Background(), testJob(t))

	assert.Equal(t, models.JobStateTimedOut, result.FinalState)
	assert.Equal(t, cfg.MaxPolls, backend.polls)
}

func TestRunFatalPollError(t *testing.T) {
	backend := &fakeBackend{
		pollFn: func(int) (models.PollStatus, error) {
			return models.PollStatus{}, Fatal("poll", errors.New("operation not found"))
		},
	}

	result := newTestPoller(backend, testConfig(), &sleepRecorder{}).Run(context.Background(), testJob(t))

	assert.Equal(t, models.JobStateFailed, result.FinalState)
	assert.Equal(t, models.ErrorKindFailed, result.ErrorKind)
	assert.Equal(t, 1, result.Polls)
}

func TestRunBackendJobError(t *testing.T) {
	backend := &fakeBackend{
		pollFn: pendingUntil(2, models.PollStatus{Done: true, Error: "content policy violation"}),
	}

	result := newTestPoller(backend, testConfig(), &sleepRecorder{}).Run(context.Background(), testJob(t))

	assert.Equal(t, models.JobStateFailed, result.FinalState)
	assert.ErrorIs(t, result.Err, ErrJobFailed)
	assert.Contains(t, result.ErrorMessage(), "content policy violation")
	assert.Equal(t, 2, result.Polls)
}

func TestRunUndersizedArtifact(t *testing.T) {
	payload := make([]byte, 100)
	backend := &fakeBackend{
		pollFn: pendingUntil(1, models.PollStatus{Done: true, ArtifactRef: "ref-7"}),
		fetchFn: func(string) ([]byte, error) {
			return payload, nil
		},
	}
	job := testJob(t)
	poller := newTestPoller(backend, testConfig(), &sleepRecorder{})

	result := poller.Run(context.Background(), job)

	assert.False(t, result.Success)
	assert.Equal(t, models.JobStateDownloadFailed, result.FinalState)
	assert.Equal(t, models.ErrorKindDownloadFailed, result.ErrorKind)
	assert.ErrorIs(t, result.Err, ErrDownloadFailed)
	assert.Equal(t, "ref-7", result.ArtifactRef)
	assert.Empty(t, result.ArtifactPath)
	assert.NoFileExists(t, job.OutputPath)

	payload = make([]byte, 2048)
	size, err := poller.Download(context.Background(), result.ArtifactRef, job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), size)
	assert.FileExists(t, job.OutputPath)
}

func TestRunFetchError(t *testing.T) {
	backend := &fakeBackend{
		pollFn: pendingUntil(1, models.PollStatus{Done: true, ArtifactRef: "ref-8"}),
		fetchFn: func(string) ([]byte, error) {
			return nil, Transient("fetch", errors.New("503"))
		},
	}

	result := newTestPoller(backend, testConfig(), &sleepRecorder{}).Run(context.Background(), testJob(t))

	assert.Equal(t, models.JobStateDownloadFailed, result.FinalState)
	assert.Equal(t, "ref-8", result.ArtifactRef)
}

func TestRunCompletedWithoutArtifact(t *testing.T) {
	backend := &fakeBackend{
		pollFn: pendingUntil(1, models.PollStatus{Done: true}),
	}

	result := newTestPoller(backend, testConfig(), &sleepRecorder{}).Run(context.Background(), testJob(t))

	assert.Equal(t, models.JobStateDownloadFailed, result.FinalState)
	assert.Empty(t, backend.fetches)
}

func TestRunCancelledWhilePolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &fakeBackend{
		pollFn: func(int) (models.PollStatus, error) {
			cancel()
			return models.PollStatus{}, nil
		},
	}

	result := newTestPoller(backend, testConfig(), &sleepRecorder{}).Run(ctx, testJob(t))

	assert.Equal(t, models.JobStateTimedOut, result.FinalState)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, 1, result.Polls)
}

func TestRunCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &fakeBackend{
		submitFn: func(int) (models.JobHandle, error) {
			return "", RateLimited("submit", 0, errors.New("429"))
		},
	}
	sleeper := func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	poller := NewPoller(backend, testConfig(), WithSleep(sleeper), WithJitter(noJitter))
	result := poller.Run(ctx, testJob(t))

	assert.Equal(t, models.JobStateFailed, result.FinalState)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, 1, backend.submits)
}

func TestRunInvalidJob(t *testing.T) {
	backend := &fakeBackend{}
	poller := newTestPoller(backend, testConfig(), &sleepRecorder{})

	result := poller.Run(context.Background(), models.GenerationJob{ID: "x", Prompt: "p"})
	assert.Equal(t, models.JobStateFailed, result.FinalState)
	assert.ErrorIs(t, result.Err, ErrInvalidJob)

	result = poller.Run(context.Background(), models.GenerationJob{ID: "y", OutputPath: "out.mp4"})
	assert.ErrorIs(t, result.Err, ErrInvalidJob)
	assert.Zero(t, backend.submits)
}

func TestRunElapsedUsesClock(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Minute)
	}

	backend := &fakeBackend{
		pollFn: pendingUntil(1, models.PollStatus{Done: true, Inline: make([]byte, 1024)}),
	}
	sleeper := &sleepRecorder{}
	poller := NewPoller(backend, testConfig(), WithSleep(sleeper.sleep), WithClock(clock))

	result := poller.Run(context.Background(), testJob(t))
	assert.Equal(t, time.Minute, result.Elapsed)
}

func TestNewPollerDefaults(t *testing.T) {
	p := NewPoller(&fakeBackend{}, Config{SubmitRetries: -2})

	assert.Equal(t, DefaultConfig().MaxPolls, p.cfg.MaxPolls)
	assert.Equal(t, DefaultConfig().PollInterval, p.cfg.PollInterval)
	assert.Zero(t, p.cfg.SubmitRetries)
}

func TestDownloadEmptyRef(t *testing.T) {
	p := NewPoller(&fakeBackend{}, testConfig())
	_, err := p.Download(context.Background(), "", filepath.Join(t.TempDir(), "a.mp4"))
	assert.ErrorIs(t, err, ErrDownloadFailed)
}
