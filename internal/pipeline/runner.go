// Package pipeline runs an ordered list of external processes. A failed
// required stage halts the run; optional failures are logged and skipped over.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/tracing"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

const (
	// DefaultStageTimeout applies to stages that declare no timeout
	DefaultStageTimeout = 30 * time.Minute

	// DefaultWaitDelay bounds pipe draining after a stage has been killed
	DefaultWaitDelay = 5 * time.Second
)

// Runner executes pipeline specs one stage at a time
type Runner struct {
	logger         *logging.Logger
	env            []string
	defaultTimeout time.Duration
	waitDelay      time.Duration
	now            func() time.Time
	newID          func() string
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithEnv adds KEY=VALUE pairs to every stage's environment
func WithEnv(env ...string) Option {
	return func(r *Runner) { r.env = append(r.env, env...) }
}

// WithDefaultTimeout overrides DefaultStageTimeout
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Runner) { r.defaultTimeout = d }
}

// WithWaitDelay overrides DefaultWaitDelay
func WithWaitDelay(d time.Duration) Option {
	return func(r *Runner) { r.waitDelay = d }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger:         logging.NewNopLogger(),
		defaultTimeout: DefaultStageTimeout,
		waitDelay:      DefaultWaitDelay,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes spec in declaration order. The error is non-nil only when the
// spec itself is invalid; stage failures are reported in the RunReport.
func (r *Runner) Run(ctx context.Context, spec models.PipelineSpec) (*models.RunReport, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}

	span, ctx := tracing.StartSpan(ctx, "pipeline.run")
	tracing.SetTag(span, "pipeline", spec.Name)

	report := &models.RunReport{
		ID:        r.newID(),
		Pipeline:  spec.Name,
		StartedAt: r.now(),
		Succeeded: true,
		Stages:    make(models.StageResults, 0, len(spec.Stages)),
	}

	logger := r.logger.WithRunID(report.ID).WithField("pipeline", spec.Name)
	logger.Infof("Starting pipeline with %d stages", len(spec.Stages))

	for _, stage := range spec.Stages {
		var result models.StageResult

		switch {
		case report.HaltedAt != "":
			result = skipped(stage, fmt.Sprintf("halted at required stage %q", report.HaltedAt))
		case ctx.Err() != nil:
			result = skipped(stage, fmt.Sprintf("run cancelled: %v", ctx.Err()))
			report.Succeeded = false
			report.HaltedAt = stage.Name
		default:
			result = r.runStage(ctx, stage)
			if !result.Succeeded() && stage.Required {
				report.Succeeded = false
				report.HaltedAt = stage.Name
			}
		}

		logger.LogStageResult(result)
		metrics.RecordStage(stage.Name, result.Status, result.Duration.Seconds())
		report.Stages = append(report.Stages, result)
	}

	report.FinishedAt = r.now()
	metrics.RecordPipelineRun(spec.Name, report.Succeeded)

	var runErr error
	if !report.Succeeded {
		runErr = fmt.Errorf("halted at stage %q", report.HaltedAt)
	}
	tracing.FinishSpan(span, runErr)

	if report.Succeeded {
		logger.Infof("Pipeline succeeded in %s", report.Duration())
	} else {
		logger.Errorf("Pipeline halted at stage %q after %s", report.HaltedAt, report.Duration())
	}

	return report, nil
}

func skipped(stage models.StageSpec, reason string) models.StageResult {
	return models.StageResult{
		Name:     stage.Name,
		Status:   models.StageStatusSkipped,
		Required: stage.Required,
		ExitCode: -1,
		Error:    reason,
	}
}

// runStage executes one process and classifies its outcome
func (r *Runner) runStage(ctx context.Context, stage models.StageSpec) models.StageResult {
	span, ctx := tracing.StartSpan(ctx, "pipeline.stage")
	tracing.SetTag(span, "stage", stage.Name)

	timeout := stage.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	stageCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stdout := newTailBuffer(MaxCapturedOutput)
	stderr := newTailBuffer(MaxCapturedOutput)

	cmd := exec.CommandContext(stageCtx, stage.Command, stage.Args...)
	cmd.Dir = stage.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.waitDelay
	if len(r.env) > 0 || len(stage.Env) > 0 {
		cmd.Env = append(append(os.Environ(), r.env...), stage.Env...)
	}

	result := models.StageResult{
		Name:      stage.Name,
		Required:  stage.Required,
		StartedAt: r.now(),
	}

	err := cmd.Run()
	result.Duration = r.now().Sub(result.StartedAt)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	classify(ctx, stageCtx, &result, err, timeout)
	tracing.FinishSpan(span, err)
	return result
}

func classify(parent, stageCtx context.Context, result *models.StageResult, err error, timeout time.Duration) {
	if err == nil {
		result.Status = models.StageStatusSucceeded
		return
	}

	result.Status = models.StageStatusFailed
	result.ExitCode = -1

	var exitErr *exec.ExitError
	switch {
	case errors.Is(stageCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
		result.Status = models.StageStatusTimedOut
		result.Error = fmt.Sprintf("timed out after %s", timeout)
	case parent.Err() != nil:
		result.Error = fmt.Sprintf("cancelled: %v", parent.Err())
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		result.Error = fmt.Sprintf("command not available: %v", err)
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		result.Error = fmt.Sprintf("exit status %d", result.ExitCode)
	default:
		result.Error = err.Error()
	}
}
