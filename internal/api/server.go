// Package api serves run history, geometry planning and platform presets
// over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/database"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/geometry"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/middleware"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// RunStore is the durable run history
type RunStore interface {
	GetRun(ctx context.Context, id string) (*models.RunReport, error)
	ListRuns(ctx context.Context, pipeline string, limit, offset int) ([]*models.RunReport, error)
}

// RunCache holds recently finished runs. A miss returns nil, nil.
type RunCache interface {
	GetRun(ctx context.Context, id string) (*models.RunReport, error)
	GetLatestRun(ctx context.Context, pipeline string) (*models.RunReport, error)
}

// HealthChecker is any dependency that can be pinged
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server holds the API dependencies. Store, Cache and the health checks are
// optional.
type Server struct {
	store   RunStore
	cache   RunCache
	checks  map[string]HealthChecker
	limiter *middleware.RateLimiter
	logger  *logging.Logger
}

// Option configures a Server
type Option func(*Server)

// WithRunStore serves run history from the database
func WithRunStore(store RunStore) Option {
	return func(s *Server) { s.store = store }
}

// WithRunCache serves recent runs from the cache
func WithRunCache(cache RunCache) Option {
	return func(s *Server) { s.cache = cache }
}

// WithHealthCheck adds a named dependency to /health
func WithHealthCheck(name string, check HealthChecker) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithRateLimiter limits requests per client IP
func WithRateLimiter(rl *middleware.RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// NewServer creates the API server
func NewServer(logger *logging.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Server{
		checks: make(map[string]HealthChecker),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(s.logger))

	router.GET("/health", s.healthCheck)

	v1 := router.Group("/v1")
	if s.limiter != nil {
		v1.Use(middleware.RateLimit(s.limiter))
	}
	{
		v1.GET("/platforms", s.listPlatforms)
		v1.POST("/geometry/plan", s.planGeometry)

		v1.GET("/runs", s.listRuns)
		v1.GET("/runs/:id", s.getRun)
	}

	return router
}

// Health check endpoint
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(gin.H, len(s.checks))
	for name, check := range s.checks {
		if err := check.Health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			deps[name] = err.Error()
			continue
		}
		deps[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"dependencies": deps,
	})
}

func (s *Server) listPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": models.Platforms()})
}

// PlanRequest is the body of POST /v1/geometry/plan. Platform fills in the
// target dimensions when they are omitted.
type PlanRequest struct {
	Source   models.MediaDescriptor `json:"source"`
	Target   models.TargetSpec      `json:"target"`
	Platform string                 `json:"platform"`
}

func (s *Server) planGeometry(c *gin.Context) {
	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target := req.Target
	if req.Platform != "" {
		p := models.PlatformPreset(req.Platform)
		if p == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown platform " + strconv.Quote(req.Platform)})
			return
		}
		if target.TargetWidth == 0 {
			target.TargetWidth = p.Width
		}
		if target.TargetHeight == 0 {
			target.TargetHeight = p.Height
		}
	}
	if target.ZoomFactor == 0 {
		target.ZoomFactor = 1.0
	}

	plan, err := geometry.Plan(req.Source, target)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plan":   plan,
		"target": target,
	})
}

// List runs endpoint. With no run store only the latest cached run of the
// requested pipeline is available.
func (s *Server) listRuns(c *gin.Context) {
	pipeline := c.Query("pipeline")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(database.DefaultListLimit)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	if s.store != nil {
		runs, err := s.store.ListRuns(c.Request.Context(), pipeline, limit, offset)
		if err != nil {
			s.logger.WithError(err).Error("Failed to list runs")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
			return
		}
		if runs == nil {
			runs = []*models.RunReport{}
		}
		c.JSON(http.StatusOK, gin.H{
			"runs":   runs,
			"limit":  limit,
			"offset": offset,
		})
		return
	}

	if s.cache == nil || pipeline == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is not configured"})
		return
	}

	runs := []*models.RunReport{}
	latest, err := s.cache.GetLatestRun(c.Request.Context(), pipeline)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read latest run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	if latest != nil {
		runs = append(runs, latest)
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// Get run endpoint, cache first
func (s *Server) getRun(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if s.cache != nil {
		report, err := s.cache.GetRun(ctx, id)
		if err != nil {
			s.logger.WithError(err).Warn("Run cache lookup failed")
		}
		if report != nil {
			c.JSON(http.StatusOK, report)
			return
		}
	}

	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	report, err := s.store.GetRun(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to get run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}

	c.JSON(http.StatusOK, report)
}
