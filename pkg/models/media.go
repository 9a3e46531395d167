package models

import "fmt"

// MediaDescriptor holds the probed geometry and size of a media file
type MediaDescriptor struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       int64   `json:"size_bytes"`
}

// AspectRatio returns width/height, or 0 when the height is unknown
func (d MediaDescriptor) AspectRatio() float64 {
	if d.Height == 0 {
		return 0
	}
	return float64(d.Width) / float64(d.Height)
}

// FitPolicy selects how the source frame is mapped onto the target frame
// when no explicit zoom is requested.
type FitPolicy string

// FitPolicy constants
const (
	FitCrop FitPolicy = "crop"
	FitPad  FitPolicy = "pad"
)

// TargetSpec describes the output frame a source is normalized into
type TargetSpec struct {
	TargetWidth  int     `json:"target_width" mapstructure:"width"`
	TargetHeight int     `json:"target_height" mapstructure:"height"`
	ZoomFactor   float64 `json:"zoom_factor" mapstructure:"zoomFactor"`
	OffsetX      int     `json:"offset_x" mapstructure:"offsetX"`
	OffsetY      int     `json:"offset_y" mapstructure:"offsetY"`
	// BaseWidthFraction is the share of the source width kept before zoom
	// is applied. Zero selects the planner default.
	BaseWidthFraction float64   `json:"base_width_fraction,omitempty" mapstructure:"baseWidthFraction"`
	Policy            FitPolicy `json:"policy,omitempty" mapstructure:"policy"`
}

// DefaultTargetSpec returns an unzoomed, centered crop into width x height
func DefaultTargetSpec(width, height int) TargetSpec {
	return TargetSpec{
		TargetWidth:  width,
		TargetHeight: height,
		ZoomFactor:   1.0,
		Policy:       FitCrop,
	}
}

// GeometryPlan is the crop/scale/pad recipe for one source frame.
// ScaleWidth x ScaleHeight is always the final output frame; FitWidth x
// FitHeight is the content inside it, offset by PadLeft/PadTop.
type GeometryPlan struct {
	CropWidth   int       `json:"crop_width"`
	CropHeight  int       `json:"crop_height"`
	CropX       int       `json:"crop_x"`
	CropY       int       `json:"crop_y"`
	ScaleWidth  int       `json:"scale_width"`
	ScaleHeight int       `json:"scale_height"`
	FitWidth    int       `json:"fit_width"`
	FitHeight   int       `json:"fit_height"`
	PadLeft     int       `json:"pad_left"`
	PadTop      int       `json:"pad_top"`
	Policy      FitPolicy `json:"policy"`
}

// Padded reports whether the plan letterboxes the content
func (p GeometryPlan) Padded() bool {
	return p.FitWidth != p.ScaleWidth || p.FitHeight != p.ScaleHeight
}

// String renders the plan in a compact, log friendly form
func (p GeometryPlan) String() string {
	return fmt.Sprintf("crop=%dx%d+%d+%d scale=%dx%d fit=%dx%d pad=%d,%d",
		p.CropWidth, p.CropHeight, p.CropX, p.CropY,
		p.ScaleWidth, p.ScaleHeight, p.FitWidth, p.FitHeight, p.PadLeft, p.PadTop)
}

// PlatformProfile is the output frame a publishing platform expects
type PlatformProfile struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Publishing platform profiles
var (
	// PlatformTikTok is the 9:16 frame used for TikTok uploads
	PlatformTikTok = PlatformProfile{Name: "tiktok", Width: 720, Height: 1280}

	// PlatformShorts is the 9:16 full HD frame used for YouTube Shorts
	PlatformShorts = PlatformProfile{Name: "shorts", Width: 1080, Height: 1920}
)

// Platforms lists the known publishing profiles
func Platforms() []PlatformProfile {
	return []PlatformProfile{PlatformTikTok, PlatformShorts}
}

// PlatformPreset returns the profile for a platform name, or nil if unknown
func PlatformPreset(name string) *PlatformProfile {
	for _, p := range Platforms() {
		if p.Name == name {
			profile := p
			return &profile
		}
	}
	return nil
}
