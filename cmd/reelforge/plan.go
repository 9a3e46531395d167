package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/geometry"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

var planOpts struct {
	target       targetFlags
	input        string
	sourceWidth  int
	sourceHeight int
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the crop/scale plan for a source",
	Long: "Print the geometry plan that normalize would apply. The source size comes from " +
		"--source-width/--source-height, or from probing --input.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.Close()

		target, err := planOpts.target.apply(cmd, e.cfg.Transcoder.ResolvedTarget())
		if err != nil {
			return err
		}

		desc := models.MediaDescriptor{Width: planOpts.sourceWidth, Height: planOpts.sourceHeight}
		if planOpts.input != "" {
			probed, err := e.newFFmpeg().Probe(cmd.Context(), planOpts.input)
			if err != nil {
				return err
			}
			desc = *probed
		} else if desc.Width == 0 || desc.Height == 0 {
			return errors.New("either --input or --source-width and --source-height are required")
		}

		plan, err := geometry.Plan(desc, target)
		if err != nil {
			return err
		}

		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"source": desc,
			"target": target,
			"plan":   plan,
		})
	},
}

func init() {
	planOpts.target.register(planCmd)
	planCmd.Flags().StringVar(&planOpts.input, "input", "", "media file to probe")
	planCmd.Flags().IntVar(&planOpts.sourceWidth, "source-width", 0, "source frame width")
	planCmd.Flags().IntVar(&planOpts.sourceHeight, "source-height", 0, "source frame height")
}
