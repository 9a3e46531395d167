package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/api"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/cache"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/config"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/database"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/middleware"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/tracing"
)

// cacheHealth adapts the Redis ping to api.HealthChecker
type cacheHealth struct{ c *cache.Cache }

func (h cacheHealth) Health(ctx context.Context) error { return h.c.Ping(ctx) }

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("API server failed")
	}
	logger.Info("Server stopped")
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return err
	}
	defer closer.Close()

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	opts := []api.Option{api.WithRateLimiter(limiter)}

	// Initialize database
	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, api.WithRunStore(database.NewRepository(db)), api.WithHealthCheck("database", db))
		logger.Info("Run history database connected")
	}

	// Initialize cache
	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer c.Close()

		opts = append(opts, api.WithRunCache(c), api.WithHealthCheck("redis", cacheHealth{c}))
		logger.Info("Run cache connected")
	}

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(logger, opts...)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		g.Go(func() error {
			logger.Infof("Starting metrics server on port %d", cfg.Metrics.Port)
			return metricsServer.Start()
		})
	}

	g.Go(func() error {
		limiter.Cleanup(gctx, time.Minute, 10*time.Minute)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if metricsServer != nil {
			err = errors.Join(err, metricsServer.Shutdown(shutdownCtx))
		}
		return err
	})

	return g.Wait()
}
