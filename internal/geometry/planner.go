// Package geometry computes crop, scale and pad parameters that map a
// source frame onto a publishing target frame. It performs no I/O.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// DefaultBaseWidthFraction is the share of the source width kept before
// zoom when the target does not set one.
const DefaultBaseWidthFraction = 0.5

// ErrInvalidTargetSpec is matched by every input validation failure
var ErrInvalidTargetSpec = errors.New("invalid target spec")

// InvalidTargetSpecError names the offending field
type InvalidTargetSpecError struct {
	Field string
	Value interface{}
}

func (e *InvalidTargetSpecError) Error() string {
	return fmt.Sprintf("%s: %s out of range: %v", ErrInvalidTargetSpec, e.Field, e.Value)
}

// Is makes errors.Is(err, ErrInvalidTargetSpec) succeed
func (e *InvalidTargetSpecError) Is(target error) bool {
	return target == ErrInvalidTargetSpec
}

// Plan computes the geometry that maps desc onto target.
//
// A zoom factor other than 1.0 selects zoom-crop mode, which keeps
// BaseWidthFraction of the source width divided by the zoom factor. Otherwise
// the source is fit to the target aspect ratio by cropping (FitCrop) or by
// scaling and padding (FitPad). The crop rectangle always lies inside the
// source frame and the scale dimensions always equal the target dimensions.
func Plan(desc models.MediaDescriptor, target models.TargetSpec) (models.GeometryPlan, error) {
	if err := validate(desc, target); err != nil {
		return models.GeometryPlan{}, err
	}

	policy := target.Policy
	if policy == "" {
		policy = models.FitCrop
	}

	plan := models.GeometryPlan{
		ScaleWidth:  target.TargetWidth,
		ScaleHeight: target.TargetHeight,
		FitWidth:    target.TargetWidth,
		FitHeight:   target.TargetHeight,
		Policy:      policy,
	}

	switch {
	case target.ZoomFactor != 1.0:
		plan.Policy = models.FitCrop
		planZoomCrop(&plan, desc, target)
	case policy == models.FitPad:
		planPad(&plan, desc, target)
	default:
		planAspectCrop(&plan, desc, target)
	}

	return plan, nil
}

func validate(desc models.MediaDescriptor, target models.TargetSpec) error {
	switch {
	case target.TargetWidth <= 0:
		return &InvalidTargetSpecError{Field: "target width", Value: target.TargetWidth}
	case target.TargetHeight <= 0:
		return &InvalidTargetSpecError{Field: "target height", Value: target.TargetHeight}
	case !(target.ZoomFactor > 0) || math.IsInf(target.ZoomFactor, 0):
		return &InvalidTargetSpecError{Field: "zoom factor", Value: target.ZoomFactor}
	case desc.Width <= 0:
		return &InvalidTargetSpecError{Field: "source width", Value: desc.Width}
	case desc.Height <= 0:
		return &InvalidTargetSpecError{Field: "source height", Value: desc.Height}
	case target.BaseWidthFraction < 0 || target.BaseWidthFraction > 1 || math.IsNaN(target.BaseWidthFraction):
		return &InvalidTargetSpecError{Field: "base width fraction", Value: target.BaseWidthFraction}
	}

	switch target.Policy {
	case "", models.FitCrop, models.FitPad:
	default:
		return &InvalidTargetSpecError{Field: "fit policy", Value: target.Policy}
	}

	return nil
}

func planZoomCrop(plan *models.GeometryPlan, desc models.MediaDescriptor, target models.TargetSpec) {
	fraction := target.BaseWidthFraction
	if fraction == 0 {
		fraction = DefaultBaseWidthFraction
	}

	plan.CropWidth = floorClamp(float64(desc.Width)*fraction/target.ZoomFactor, desc.Width)
	plan.CropHeight = floorClamp(float64(desc.Height)/target.ZoomFactor, desc.Height)
	centerCrop(plan, desc, target)
}

func planAspectCrop(plan *models.GeometryPlan, desc models.MediaDescriptor, target models.TargetSpec) {
	w, h := int64(desc.Width), int64(desc.Height)
	tw, th := int64(target.TargetWidth), int64(target.TargetHeight)

	if w*th > tw*h {
		// source is wider than the target: keep full height
		plan.CropHeight = desc.Height
		plan.CropWidth = clampInt(int(h*tw/th), 1, desc.Width)
	} else {
		plan.CropWidth = desc.Width
		plan.CropHeight = clampInt(int(w*th/tw), 1, desc.Height)
	}
	centerCrop(plan, desc, target)
}

func planPad(plan *models.GeometryPlan, desc models.MediaDescriptor, target models.TargetSpec) {
	plan.CropWidth = desc.Width
	plan.CropHeight = desc.Height

	w, h := int64(desc.Width), int64(desc.Height)
	tw, th := int64(target.TargetWidth), int64(target.TargetHeight)

	if w*th > tw*h {
		plan.FitWidth = target.TargetWidth
		plan.FitHeight = evenFloor(int(h*tw/w), target.TargetHeight)
	} else {
		plan.FitHeight = target.TargetHeight
		plan.FitWidth = evenFloor(int(w*th/h), target.TargetWidth)
	}

	plan.PadLeft = (plan.ScaleWidth - plan.FitWidth) / 2
	plan.PadTop = (plan.ScaleHeight - plan.FitHeight) / 2
}

// centerCrop places the crop window at the frame center shifted by the
// requested offset, then clamps the origin back inside the source frame.
func centerCrop(plan *models.GeometryPlan, desc models.MediaDescriptor, target models.TargetSpec) {
	x := (desc.Width-plan.CropWidth)/2 + target.OffsetX
	y := (desc.Height-plan.CropHeight)/2 + target.OffsetY

	plan.CropX = clampInt(x, 0, desc.Width-plan.CropWidth)
	plan.CropY = clampInt(y, 0, desc.Height-plan.CropHeight)
}

// evenFloor rounds v down to an even value in [2, limit]. Odd content sizes
// are rejected by yuv420p encoders.
func evenFloor(v, limit int) int {
	if v > limit {
		v = limit
	}
	v -= v % 2
	if v < 2 {
		v = 2
	}
	if v > limit {
		return limit
	}
	return v
}

// floorClamp floors v into [1, hi] before converting, so huge or
// non-finite quotients never wrap through int
func floorClamp(v float64, hi int) int {
	if math.IsNaN(v) {
		return hi
	}
	return int(math.Max(1, math.Min(math.Floor(v), float64(hi))))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
