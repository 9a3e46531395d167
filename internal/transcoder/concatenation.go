package transcoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/tracing"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// Transition types accepted by ConcatVideo
const (
	TransitionNone     = "none"
	TransitionFade     = "fade"
	TransitionDissolve = "dissolve"
)

// DefaultTransitionDuration is used when a transition is requested without a duration
const DefaultTransitionDuration = 0.5

// ConcatenationOptions holds options for clip concatenation
type ConcatenationOptions struct {
	InputPaths []string
	OutputPath string
	// Transition selects xfade chaining; empty or "none" uses the concat demuxer
	Transition         string
	TransitionDuration float64
	// ReEncode forces the demuxer path to re-encode instead of stream copy
	ReEncode bool
	Codec    models.CodecSettings
}

// ConcatVideo joins clips into one file. Transitions are rendered with an
// xfade chain whose offsets come from the probed clip durations.
func (f *FFmpeg) ConcatVideo(ctx context.Context, opts ConcatenationOptions) (*models.TranscodeResult, error) {
	if len(opts.InputPaths) < 2 {
		return nil, fmt.Errorf("%w: at least 2 clips are required for concatenation", ErrInvalidInput)
	}
	if opts.OutputPath == "" {
		return nil, fmt.Errorf("%w: output path is required", ErrInvalidInput)
	}
	if err := checkDistinctOutput(opts.OutputPath, opts.InputPaths...); err != nil {
		return nil, err
	}

	span, ctx := tracing.StartSpan(ctx, "transcoder.concat")
	tracing.SetTag(span, "clips", len(opts.InputPaths))

	var (
		result *models.TranscodeResult
		err    error
	)
	switch opts.Transition {
	case "", TransitionNone:
		result, err = f.concatDemuxer(ctx, opts)
	case TransitionFade, TransitionDissolve:
		result, err = f.concatXfade(ctx, opts)
	default:
		err = fmt.Errorf("%w: unknown transition %q", ErrInvalidInput, opts.Transition)
	}

	tracing.FinishSpan(span, err)
	return result, err
}

// concatDemuxer uses FFmpeg's concat demuxer (fast, no re-encoding unless forced)
func (f *FFmpeg) concatDemuxer(ctx context.Context, opts ConcatenationOptions) (*models.TranscodeResult, error) {
	listFile, err := writeConcatList(opts.InputPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listFile)

	args := []string{
		"-hide_banner",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
	}

	if opts.ReEncode {
		args = append(args, encodeArgs(opts.Codec)...)
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, opts.OutputPath)

	return f.encode(ctx, "concat", opts.OutputPath, args)
}

// concatXfade probes every clip and chains xfade/acrossfade filters
func (f *FFmpeg) concatXfade(ctx context.Context, opts ConcatenationOptions) (*models.TranscodeResult, error) {
	duration := opts.TransitionDuration
	if duration <= 0 {
		duration = DefaultTransitionDuration
	}

	durations := make([]float64, len(opts.InputPaths))
	withAudio := true
	for i, input := range opts.InputPaths {
		info, err := f.probe(ctx, input)
		if err != nil {
			return nil, err
		}
		durations[i] = info.desc.DurationSeconds
		withAudio = withAudio && info.hasAudio
	}

	filter, err := BuildXfadeFilter(durations, opts.Transition, duration, withAudio)
	if err != nil {
		return nil, err
	}

	args := []string{"-hide_banner", "-y"}
	for _, input := range opts.InputPaths {
		args = append(args, "-i", input)
	}
	args = append(args, "-filter_complex", filter, "-map", "[outv]")
	if withAudio {
		args = append(args, "-map", "[outa]")
	} else {
		args = append(args, "-an")
	}
	args = append(args, encodeArgs(opts.Codec)...)
	args = append(args, opts.OutputPath)

	return f.encode(ctx, "concat", opts.OutputPath, args)
}

// BuildXfadeFilter builds a filter_complex joining len(durations) clips.
// Clip i+1 starts fading in `duration` seconds before the running output
// ends, so the offset is the sum of previous durations minus one transition
// per join.
func BuildXfadeFilter(durations []float64, transition string, duration float64, withAudio bool) (string, error) {
	if len(durations) < 2 {
		return "", fmt.Errorf("%w: at least 2 clips are required", ErrInvalidInput)
	}
	for i, d := range durations {
		if d <= duration {
			return "", fmt.Errorf("%w: clip %d is %.2fs, not longer than the %.2fs transition",
				ErrInvalidInput, i, d, duration)
		}
	}

	var filter strings.Builder
	prev := "0:v"
	offset := 0.0

	for i := 1; i < len(durations); i++ {
		offset += durations[i-1] - duration
		label := fmt.Sprintf("v%02d", i)
		if i == len(durations)-1 {
			label = "outv"
		}
		fmt.Fprintf(&filter, "[%s][%d:v]xfade=transition=%s:duration=%.3f:offset=%.3f[%s];",
			prev, i, transition, duration, offset, label)
		prev = label
	}

	if withAudio {
		prev = "0:a"
		for i := 1; i < len(durations); i++ {
			label := fmt.Sprintf("a%02d", i)
			if i == len(durations)-1 {
				label = "outa"
			}
			fmt.Fprintf(&filter, "[%s][%d:a]acrossfade=d=%.3f[%s];", prev, i, duration, label)
			prev = label
		}
	}

	return strings.TrimSuffix(filter.String(), ";"), nil
}

// writeConcatList creates the list file read by the concat demuxer
func writeConcatList(inputs []string) (string, error) {
	tempFile, err := os.CreateTemp("", "reelforge_concat_*.txt")
	if err != nil {
		return "", err
	}
	defer tempFile.Close()

	for _, input := range inputs {
		absPath, err := filepath.Abs(input)
		if err != nil {
			os.Remove(tempFile.Name())
			return "", err
		}

		// Single quotes inside a path are written as '\''
		escaped := strings.ReplaceAll(absPath, "'", `'\''`)
		if _, err := fmt.Fprintf(tempFile, "file '%s'\n", escaped); err != nil {
			os.Remove(tempFile.Name())
			return "", err
		}
	}

	return tempFile.Name(), nil
}
