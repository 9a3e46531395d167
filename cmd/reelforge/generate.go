package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/artifact"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/database"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/generation"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/webhook"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

var generateOpts struct {
	prompt string
	model  string
	image  string
	output string
	kind   string
	ext    string
	extra  map[string]string
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Submit a generation job, wait for it and save the artifact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		cfg := e.cfg

		job := models.GenerationJob{
			ID:          uuid.NewString(),
			Prompt:      generateOpts.prompt,
			Model:       generateOpts.model,
			OutputPath:  generateOpts.output,
			SubmittedAt: time.Now().UTC(),
		}
		if job.Model == "" {
			job.Model = cfg.Generation.Model
		}

		if generateOpts.image != "" {
			data, err := os.ReadFile(generateOpts.image)
			if err != nil {
				return fmt.Errorf("failed to read source image: %w", err)
			}
			job.SourceImage = &models.SourceImage{Data: data, MIMEType: http.DetectContentType(data)}
		}

		namedOutput := job.OutputPath != ""
		if !namedOutput {
			store, err := artifact.NewStore(cfg.Artifacts.Dir)
			if err != nil {
				return err
			}
			job.OutputPath = store.NewPath(generateOpts.kind, defaultExt(generateOpts.kind, generateOpts.ext))
		}

		poller := generation.NewPoller(
			generation.NewHTTPBackend(cfg.Generation),
			generation.ConfigFrom(cfg.Generation),
			generation.WithPollerLogger(e.logger),
		)
		result := poller.Run(ctx, job)

		if result.Success && !namedOutput && generateOpts.ext == "" {
			if path, err := matchContentExt(result.ArtifactPath); err != nil {
				e.logger.WithError(err).Warn("Failed to fix artifact extension")
			} else {
				result.ArtifactPath = path
			}
		}

		if result.Success {
			target := cfg.Transcoder.ResolvedTarget()
			sidecar := models.ArtifactSidecar{
				JobID:        job.ID,
				Kind:         generateOpts.kind,
				Prompt:       job.Prompt,
				Model:        job.Model,
				GeneratedAt:  time.Now().UTC(),
				TargetWidth:  target.TargetWidth,
				TargetHeight: target.TargetHeight,
				SizeBytes:    result.ArtifactBytes,
				Extra:        generateOpts.extra,
			}
			if err := artifact.WriteSidecar(result.ArtifactPath, sidecar); err != nil {
				e.logger.WithError(err).Warn("Failed to write artifact sidecar")
			}
		}

		recordGeneration(cmd, e, job, result)

		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("generation %s: %s", result.FinalState, result.ErrorMessage())
		}
		return nil
	},
}

// sniffedExts maps content types http.DetectContentType reports for
// generated media to file extensions
var sniffedExts = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
	"video/avi":  ".avi",
}

// defaultExt picks the extension used before the artifact bytes are known
func defaultExt(kind, override string) string {
	if override != "" {
		if !strings.HasPrefix(override, ".") {
			override = "." + override
		}
		return override
	}
	if kind == models.ArtifactKindImage {
		return ".png"
	}
	return ".mp4"
}

// matchContentExt renames path so its extension matches the sniffed content
// type. Unrecognized content keeps the current name.
func matchContentExt(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return path, err
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	f.Close()
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return path, err
	}

	ext, ok := sniffedExts[http.DetectContentType(head[:n])]
	if !ok || strings.EqualFold(filepath.Ext(path), ext) {
		return path, nil
	}

	renamed := strings.TrimSuffix(path, filepath.Ext(path)) + ext
	if err := os.Rename(path, renamed); err != nil {
		return path, err
	}
	return renamed, nil
}

// recordGeneration stores the outcome and sends the notification. Both are
// best effort.
func recordGeneration(cmd *cobra.Command, e *env, job models.GenerationJob, result *models.GenerationResult) {
	ctx := cmd.Context()

	if e.cfg.Database.Enabled {
		db, err := database.New(ctx, e.cfg.Database)
		if err != nil {
			e.logger.WithError(err).Warn("Generation history unavailable")
		} else {
			defer db.Close()
			err := db.EnsureSchema(ctx)
			if err == nil {
				err = database.NewRepository(db).SaveGeneration(ctx, job, result)
			}
			if err != nil {
				e.logger.WithError(err).Warn("Failed to record generation")
			}
		}
	}

	hooks := webhook.NewService(e.cfg.Webhook, e.logger)
	if hooks.Enabled() {
		if _, err := hooks.NotifyGeneration(ctx, result); err != nil {
			e.logger.WithError(err).Warn("Generation webhook not delivered")
		}
	}
}

func init() {
	f := generateCmd.Flags()
	f.StringVarP(&generateOpts.prompt, "prompt", "p", "", "generation prompt")
	f.StringVar(&generateOpts.model, "model", "", "backend model, defaults to generation.model")
	f.StringVar(&generateOpts.image, "image", "", "conditioning image file")
	f.StringVarP(&generateOpts.output, "output", "o", "", "artifact path, defaults to a unique name in the artifact dir")
	f.StringVar(&generateOpts.kind, "kind", models.ArtifactKindVideo, "artifact kind (video, image)")
	f.StringVar(&generateOpts.ext, "ext", "", "artifact file extension, detected from the content when empty")
	f.StringToStringVar(&generateOpts.extra, "meta", nil, "extra sidecar metadata as key=value pairs")
}
