// Command reelforge runs the content pipeline stages: generation, geometry
// normalization, concatenation and publishing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/cache"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/config"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/tracing"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/transcoder"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "reelforge",
	Short:         "Short-form media pipeline tools",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to the YAML config file")

	rootCmd.AddCommand(runCmd, normalizeCmd, generateCmd, concatCmd, publishCmd, planCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is the configuration and ambient services shared by every subcommand
type env struct {
	cfg    *config.Config
	logger *logging.Logger
	closer io.Closer
}

func setup() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	_, closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return nil, err
	}

	return &env{cfg: cfg, logger: logger, closer: closer}, nil
}

func (e *env) Close() {
	if err := e.closer.Close(); err != nil {
		e.logger.WithError(err).Warn("Failed to flush tracer")
	}
}

// openCache connects to Redis when it is enabled. A nil cache is returned
// otherwise.
func (e *env) openCache() (*cache.Cache, error) {
	if !e.cfg.Redis.Enabled {
		return nil, nil
	}
	c, err := cache.NewCache(e.cfg.Redis.Host, e.cfg.Redis.Port, e.cfg.Redis.Password, e.cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return c, nil
}

func (e *env) newFFmpeg() *transcoder.FFmpeg {
	opts := []transcoder.Option{
		transcoder.WithTimeout(e.cfg.Transcoder.Timeout),
		transcoder.WithLogger(e.logger),
	}
	if e.cfg.Transcoder.MinOutputBytes > 0 {
		opts = append(opts, transcoder.WithMinOutputBytes(e.cfg.Transcoder.MinOutputBytes))
	}
	return transcoder.NewFFmpeg(e.cfg.Transcoder.FFmpegPath, e.cfg.Transcoder.FFprobePath, opts...)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
