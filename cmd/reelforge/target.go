package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// targetFlags are the geometry overrides shared by normalize and plan
type targetFlags struct {
	platform  string
	width     int
	height    int
	zoom      float64
	offsetX   int
	offsetY   int
	baseWidth float64
	policy    string
}

func (t *targetFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&t.platform, "platform", "", "platform preset (tiktok, shorts)")
	fs.IntVar(&t.width, "target-width", 0, "output frame width")
	fs.IntVar(&t.height, "target-height", 0, "output frame height")
	fs.Float64Var(&t.zoom, "zoom", 0, "zoom factor, 1 disables zoom cropping")
	fs.IntVar(&t.offsetX, "offset-x", 0, "horizontal crop offset in source pixels")
	fs.IntVar(&t.offsetY, "offset-y", 0, "vertical crop offset in source pixels")
	fs.Float64Var(&t.baseWidth, "base-width", 0, "share of the source width kept before zoom")
	fs.StringVar(&t.policy, "policy", "", "fit policy when not zooming (crop, pad)")
}

// apply overlays the flags that were set onto base
func (t *targetFlags) apply(cmd *cobra.Command, base models.TargetSpec) (models.TargetSpec, error) {
	fs := cmd.Flags()
	target := base

	if fs.Changed("platform") {
		p := models.PlatformPreset(t.platform)
		if p == nil {
			return target, fmt.Errorf("unknown platform %q", t.platform)
		}
		target.TargetWidth, target.TargetHeight = p.Width, p.Height
	}
	if fs.Changed("target-width") {
		target.TargetWidth = t.width
	}
	if fs.Changed("target-height") {
		target.TargetHeight = t.height
	}
	if fs.Changed("zoom") {
		target.ZoomFactor = t.zoom
	}
	if fs.Changed("offset-x") {
		target.OffsetX = t.offsetX
	}
	if fs.Changed("offset-y") {
		target.OffsetY = t.offsetY
	}
	if fs.Changed("base-width") {
		target.BaseWidthFraction = t.baseWidth
	}
	if fs.Changed("policy") {
		target.Policy = models.FitPolicy(t.policy)
	}
	if target.ZoomFactor == 0 {
		target.ZoomFactor = 1.0
	}

	return target, nil
}
