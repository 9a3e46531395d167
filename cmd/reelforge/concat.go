package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

var concatOpts struct {
	output             string
	transition         string
	transitionDuration float64
	reEncode           bool
	cover              string
	coverAt            float64
}

var concatCmd = &cobra.Command{
	Use:   "concat <clip> <clip> [clip...]",
	Short: "Join clips, optionally with a transition, and extract a cover frame",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if concatOpts.output == "" {
			return errors.New("--output is required")
		}

		e, err := setup()
		if err != nil {
			return err
		}
		defer e.Close()

		ffmpeg := e.newFFmpeg()
		joined, err := ffmpeg.ConcatVideo(cmd.Context(), transcoder.ConcatenationOptions{
			InputPaths:         args,
			OutputPath:         concatOpts.output,
			Transition:         concatOpts.transition,
			TransitionDuration: concatOpts.transitionDuration,
			ReEncode:           concatOpts.reEncode,
			Codec:              e.cfg.Transcoder.Codec,
		})
		if err != nil {
			return err
		}

		results := []*models.TranscodeResult{joined}
		if concatOpts.cover != "" {
			cover, err := ffmpeg.ExtractCover(cmd.Context(), concatOpts.output, concatOpts.cover, concatOpts.coverAt)
			if err != nil {
				return err
			}
			results = append(results, cover)
		}

		return printJSON(cmd.OutOrStdout(), results)
	},
}

func init() {
	f := concatCmd.Flags()
	f.StringVarP(&concatOpts.output, "output", "o", "", "joined output file")
	f.StringVar(&concatOpts.transition, "transition", transcoder.TransitionNone, "transition between clips (none, fade, dissolve)")
	f.Float64Var(&concatOpts.transitionDuration, "transition-duration", transcoder.DefaultTransitionDuration, "transition length in seconds")
	f.BoolVar(&concatOpts.reEncode, "reencode", false, "re-encode instead of stream copy when no transition is used")
	f.StringVar(&concatOpts.cover, "cover", "", "also extract a cover image to this path")
	f.Float64Var(&concatOpts.coverAt, "cover-at", 1, "cover frame timestamp in seconds")
}
