package main

import (
	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/transcoder"
)

var normalizeOpts struct {
	target targetFlags
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize <input> <output>",
	Short: "Crop and scale a file onto the publishing frame",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.Close()

		target, err := normalizeOpts.target.apply(cmd, e.cfg.Transcoder.ResolvedTarget())
		if err != nil {
			return err
		}

		var probeCache transcoder.ProbeCache
		c, err := e.openCache()
		if err != nil {
			e.logger.WithError(err).Warn("Probe cache unavailable, probing every file")
		} else if c != nil {
			defer c.Close()
			probeCache = c
		}

		normalizer := transcoder.NewNormalizer(e.newFFmpeg(), e.cfg.Transcoder.Codec, probeCache, e.cfg.Transcoder.ProbeCacheTTL, e.logger)
		result, err := normalizer.Normalize(cmd.Context(), args[0], args[1], target)
		if err != nil {
			return err
		}

		return printJSON(cmd.OutOrStdout(), result)
	},
}

func init() {
	normalizeOpts.target.register(normalizeCmd)
}
