package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/artifact"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/queue"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/storage"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

var publishOpts struct {
	platform string
	prefix   string
	caption  string
	tags     []string
}

var publishCmd = &cobra.Command{
	Use:   "publish <media>",
	Short: "Mirror a normalized file to object storage and queue it for upload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		mediaPath := args[0]
		if _, err := os.Stat(mediaPath); err != nil {
			return err
		}
		if !e.cfg.Queue.Enabled {
			return errors.New("queue is disabled, nothing would receive the upload request")
		}

		profile := models.PlatformPreset(publishOpts.platform)
		if profile == nil {
			return fmt.Errorf("unknown platform %q", publishOpts.platform)
		}

		absPath, err := filepath.Abs(mediaPath)
		if err != nil {
			return err
		}
		req := &models.UploadRequest{
			MediaPath: absPath,
			Caption:   publishOpts.caption,
			Tags:      publishOpts.tags,
			Platform:  profile.Name,
			Width:     profile.Width,
			Height:    profile.Height,
		}
		if req.Caption == "" {
			req.Caption = captionFromSidecar(mediaPath)
		}

		if e.cfg.Storage.Enabled {
			store, err := storage.New(ctx, e.cfg.Storage, e.logger)
			if err != nil {
				return err
			}
			published, err := store.PublishArtifact(ctx, publishOpts.prefix, mediaPath)
			if err != nil {
				return err
			}
			req.ObjectKey = published.MediaKey
			req.URL = published.URL
		}

		q, err := queue.New(e.cfg.Queue)
		if err != nil {
			return err
		}
		defer q.Close()

		if err := q.PublishUpload(ctx, req); err != nil {
			return err
		}

		e.logger.WithFields(map[string]interface{}{
			"upload_id":  req.ID,
			"platform":   req.Platform,
			"object_key": req.ObjectKey,
		}).Info("Upload request queued")

		if pending, dead, err := q.Depths(); err != nil {
			e.logger.WithError(err).Warn("Failed to inspect upload queue")
		} else if dead > 0 {
			e.logger.Warnf("Upload queue has %d pending and %d dead-lettered requests", pending, dead)
		}

		return printJSON(cmd.OutOrStdout(), req)
	},
}

// captionFromSidecar uses the generation prompt as the default caption
func captionFromSidecar(mediaPath string) string {
	sidecar, err := artifact.ReadSidecar(mediaPath)
	if err != nil {
		return ""
	}
	return sidecar.Prompt
}

func init() {
	f := publishCmd.Flags()
	f.StringVar(&publishOpts.platform, "platform", models.PlatformTikTok.Name, "target platform (tiktok, shorts)")
	f.StringVar(&publishOpts.prefix, "prefix", "published", "object key prefix")
	f.StringVar(&publishOpts.caption, "caption", "", "upload caption, defaults to the sidecar prompt")
	f.StringSliceVar(&publishOpts.tags, "tag", nil, "upload tags")
}
