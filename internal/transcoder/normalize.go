package transcoder

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/geometry"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/tracing"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// ProbeCache stores probe results between runs. Get returns nil, nil on a
// miss.
type ProbeCache interface {
	GetProbe(ctx context.Context, key string) (*models.MediaDescriptor, error)
	SetProbe(ctx context.Context, key string, desc *models.MediaDescriptor, ttl time.Duration) error
}

// ProbeKey fingerprints a file by path, size and modification time so that a
// rewritten file is probed again.
func ProbeKey(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%d", path, info.Size(), info.ModTime().UnixNano()), nil
}

// Normalizer probes a source, plans its geometry and transcodes it onto the
// target frame.
type Normalizer struct {
	ffmpeg   *FFmpeg
	codec    models.CodecSettings
	cache    ProbeCache
	cacheTTL time.Duration
	logger   *logging.Logger
}

// NewNormalizer creates a Normalizer; cache may be nil
func NewNormalizer(ffmpeg *FFmpeg, codec models.CodecSettings, cache ProbeCache, cacheTTL time.Duration, logger *logging.Logger) *Normalizer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Normalizer{
		ffmpeg:   ffmpeg,
		codec:    codec,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Describe returns the source descriptor, consulting the cache first
func (n *Normalizer) Describe(ctx context.Context, path string) (*models.MediaDescriptor, error) {
	key := ""
	if n.cache != nil {
		var err error
		if key, err = ProbeKey(path); err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		desc, err := n.cache.GetProbe(ctx, key)
		if err != nil {
			n.logger.WithError(err).Warn("Probe cache read failed")
		} else if desc != nil {
			return desc, nil
		}
	}

	desc, err := n.ffmpeg.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	if n.cache != nil {
		if err := n.cache.SetProbe(ctx, key, desc, n.cacheTTL); err != nil {
			n.logger.WithError(err).Warn("Probe cache write failed")
		}
	}
	return desc, nil
}

// Plan probes the source and returns the geometry plan for target
func (n *Normalizer) Plan(ctx context.Context, inputPath string, target models.TargetSpec) (models.GeometryPlan, *models.MediaDescriptor, error) {
	desc, err := n.Describe(ctx, inputPath)
	if err != nil {
		return models.GeometryPlan{}, nil, err
	}

	plan, err := geometry.Plan(*desc, target)
	if err != nil {
		return models.GeometryPlan{}, desc, err
	}
	return plan, desc, nil
}

// Normalize maps inputPath onto the target frame and writes outputPath
func (n *Normalizer) Normalize(ctx context.Context, inputPath, outputPath string, target models.TargetSpec) (*models.TranscodeResult, error) {
	span, ctx := tracing.StartSpan(ctx, "transcoder.normalize")
	tracing.SetTag(span, "input", inputPath)

	plan, desc, err := n.Plan(ctx, inputPath, target)
	if err != nil {
		tracing.FinishSpan(span, err)
		return nil, err
	}

	n.logger.WithFields(map[string]interface{}{
		"input":  inputPath,
		"source": fmt.Sprintf("%dx%d", desc.Width, desc.Height),
		"plan":   plan.String(),
	}).Debug("Normalizing")

	result, err := n.ffmpeg.Transcode(ctx, models.TranscodeJob{
		InputPath:  inputPath,
		OutputPath: outputPath,
		Plan:       plan,
		Codec:      n.codec,
	})
	tracing.FinishSpan(span, err)
	return result, err
}
