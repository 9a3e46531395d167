package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/cache"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/database"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/webhook"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// runCacheTTL is how long finished runs stay in Redis
const runCacheTTL = 7 * 24 * time.Hour

var runOpts struct {
	lockTTL time.Duration
	env     []string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured pipeline stages in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		spec := e.cfg.Pipeline
		logger := e.logger.WithField("pipeline", spec.Name)

		c, err := e.openCache()
		if err != nil {
			logger.WithError(err).Warn("Run cache unavailable")
		}
		if c != nil {
			defer c.Close()

			// one run per pipeline at a time
			lock := "pipeline:" + spec.Name
			token, acquired, err := c.AcquireLock(ctx, lock, runOpts.lockTTL)
			if err != nil {
				return fmt.Errorf("failed to acquire run lock: %w", err)
			}
			if !acquired {
				return fmt.Errorf("pipeline %q is already running", spec.Name)
			}
			defer func() {
				releaseCtx, cancel := cache.ReleaseContext(ctx)
				defer cancel()
				if err := c.ReleaseLock(releaseCtx, lock, token); err != nil {
					logger.WithError(err).Warn("Failed to release run lock")
				}
			}()
		}

		runner := pipeline.NewRunner(
			pipeline.WithLogger(logger),
			pipeline.WithEnv(runOpts.env...),
		)
		report, err := runner.Run(ctx, spec)
		if err != nil {
			return err
		}

		if c != nil {
			if err := c.SetRun(ctx, report, runCacheTTL); err != nil {
				logger.WithError(err).Warn("Failed to cache run report")
			}
		}
		saveRunReport(cmd, e, report)

		hooks := webhook.NewService(e.cfg.Webhook, logger)
		if hooks.Enabled() {
			if _, err := hooks.NotifyRun(ctx, report); err != nil {
				logger.WithError(err).Warn("Run webhook not delivered")
			}
		}

		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.Succeeded {
			return fmt.Errorf("pipeline %q halted at stage %q", report.Pipeline, report.HaltedAt)
		}
		return nil
	},
}

func saveRunReport(cmd *cobra.Command, e *env, report *models.RunReport) {
	if !e.cfg.Database.Enabled {
		return
	}
	ctx := cmd.Context()

	db, err := database.New(ctx, e.cfg.Database)
	if err != nil {
		e.logger.WithError(err).Warn("Run history unavailable")
		return
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		e.logger.WithError(err).Warn("Failed to prepare run history schema")
		return
	}
	if err := database.NewRepository(db).SaveRunReport(ctx, report); err != nil {
		e.logger.WithError(err).Warn("Failed to save run report")
	}
}

func init() {
	runCmd.Flags().DurationVar(&runOpts.lockTTL, "lock-ttl", 2*time.Hour, "how long the per-pipeline run lock is held at most")
	runCmd.Flags().StringArrayVarP(&runOpts.env, "env", "e", nil, "KEY=VALUE added to every stage environment")
}
