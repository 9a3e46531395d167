package transcoder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// BuildFilterGraph renders a geometry plan as an ffmpeg -vf chain
func BuildFilterGraph(plan models.GeometryPlan, codec models.CodecSettings) string {
	filters := []string{
		fmt.Sprintf("crop=%d:%d:%d:%d", plan.CropWidth, plan.CropHeight, plan.CropX, plan.CropY),
	}

	if plan.Policy == models.FitPad || plan.Padded() {
		filters = append(filters,
			fmt.Sprintf("scale=%d:%d", plan.FitWidth, plan.FitHeight),
			fmt.Sprintf("pad=%d:%d:%d:%d:color=black", plan.ScaleWidth, plan.ScaleHeight, plan.PadLeft, plan.PadTop),
		)
	} else {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", plan.ScaleWidth, plan.ScaleHeight))
	}

	filters = append(filters, "setsar=1")
	if codec.PixelFormat != "" {
		filters = append(filters, "format="+codec.PixelFormat)
	}

	return strings.Join(filters, ",")
}

// encodeArgs returns the codec flags shared by every re-encoding command
func encodeArgs(codec models.CodecSettings) []string {
	var args []string

	if codec.VideoCodec != "" {
		args = append(args, "-c:v", codec.VideoCodec)
	}
	if codec.Preset != "" {
		args = append(args, "-preset", codec.Preset)
	}
	if codec.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(codec.CRF))
	}
	if codec.MaxBitrate != "" {
		args = append(args, "-maxrate", codec.MaxBitrate)
	}
	if codec.BufSize != "" {
		args = append(args, "-bufsize", codec.BufSize)
	}
	if codec.FrameRate > 0 {
		args = append(args, "-r", strconv.Itoa(codec.FrameRate))
	}
	if codec.AudioCodec != "" {
		args = append(args, "-c:a", codec.AudioCodec)
	}
	if codec.AudioBitrate != "" {
		args = append(args, "-b:a", codec.AudioBitrate)
	}
	if codec.FastStart {
		args = append(args, "-movflags", "+faststart")
	}

	return args
}

// BuildTranscodeArgs returns the full ffmpeg argument list for a job
func BuildTranscodeArgs(job models.TranscodeJob) []string {
	args := []string{
		"-hide_banner",
		"-y",
		"-i", job.InputPath,
		"-vf", BuildFilterGraph(job.Plan, job.Codec),
	}
	args = append(args, encodeArgs(job.Codec)...)
	return append(args, job.OutputPath)
}
