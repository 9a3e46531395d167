package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/tracing"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// DefaultMinOutputBytes is the smallest output accepted as a real encode
const DefaultMinOutputBytes = 1024

// pipeDrainDelay bounds how long Wait blocks on pipes after the process
// has been killed.
const pipeDrainDelay = 5 * time.Second

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath     string
	ffprobePath    string
	timeout        time.Duration
	minOutputBytes int64
	logger         *logging.Logger
}

// Option configures an FFmpeg instance
type Option func(*FFmpeg)

// WithTimeout bounds every single ffmpeg/ffprobe invocation
func WithTimeout(d time.Duration) Option {
	return func(f *FFmpeg) { f.timeout = d }
}

// WithMinOutputBytes overrides DefaultMinOutputBytes
func WithMinOutputBytes(n int64) Option {
	return func(f *FFmpeg) { f.minOutputBytes = n }
}

// WithLogger sets the logger used for encode results
func WithLogger(l *logging.Logger) Option {
	return func(f *FFmpeg) { f.logger = l }
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string, opts ...Option) *FFmpeg {
	f := &FFmpeg{
		ffmpegPath:     ffmpegPath,
		ffprobePath:    ffprobePath,
		minOutputBytes: DefaultMinOutputBytes,
		logger:         logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// probeOutput is the subset of ffprobe's JSON we read
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
	Tags      struct {
		Rotate string `json:"rotate"`
	} `json:"tags"`
	SideDataList []struct {
		Rotation float64 `json:"rotation"`
	} `json:"side_data_list"`
}

type probeInfo struct {
	desc     models.MediaDescriptor
	hasAudio bool
}

// ParseProbeOutput converts ffprobe -print_format json output into a
// descriptor of the display geometry.
func ParseProbeOutput(data []byte) (*models.MediaDescriptor, error) {
	info, err := parseProbe(data)
	if err != nil {
		return nil, err
	}
	return &info.desc, nil
}

func parseProbe(data []byte) (*probeInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &probeInfo{}
	foundVideo := false

	for _, stream := range out.Streams {
		switch stream.CodecType {
		case "audio":
			info.hasAudio = true
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true

			info.desc.Width = stream.Width
			info.desc.Height = stream.Height
			if stream.rotated() {
				info.desc.Width, info.desc.Height = info.desc.Height, info.desc.Width
			}
			if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
				info.desc.DurationSeconds = d
			}
		}
	}

	if !foundVideo || info.desc.Width <= 0 || info.desc.Height <= 0 {
		return nil, errors.New("ffprobe output has no video stream with dimensions")
	}

	// Container duration wins; stream duration is missing for some muxers
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		info.desc.DurationSeconds = d
	}
	if size, err := strconv.ParseInt(out.Format.Size, 10, 64); err == nil {
		info.desc.SizeBytes = size
	}

	return info, nil
}

// rotated reports a quarter turn from either the legacy rotate tag or the
// display matrix side data.
func (s probeStream) rotated() bool {
	deg := 0
	if s.Tags.Rotate != "" {
		deg, _ = strconv.Atoi(s.Tags.Rotate)
	}
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			deg = int(sd.Rotation)
		}
	}

	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg == 90 || deg == 270
}

// Probe reads the display geometry and duration of a media file
func (f *FFmpeg) Probe(ctx context.Context, path string) (*models.MediaDescriptor, error) {
	info, err := f.probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return &info.desc, nil
}

func (f *FFmpeg) probe(ctx context.Context, path string) (*probeInfo, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	stdout, _, err := f.run(ctx, "ffprobe", f.ffprobePath, args)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}

	info, err := parseProbe(stdout)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	return info, nil
}

// Transcode runs exactly one ffmpeg process that crops, scales and
// re-encodes job.InputPath into job.OutputPath. A file already at
// job.OutputPath is only replaced by a verified encode. No retries are
// attempted.
func (f *FFmpeg) Transcode(ctx context.Context, job models.TranscodeJob) (*models.TranscodeResult, error) {
	if job.InputPath == "" || job.OutputPath == "" {
		return nil, fmt.Errorf("%w: input and output paths are required", ErrInvalidInput)
	}
	if err := checkDistinctOutput(job.OutputPath, job.InputPath); err != nil {
		return nil, err
	}

	span, ctx := tracing.StartSpan(ctx, "transcoder.transcode")
	tracing.SetTag(span, "plan", job.Plan.String())

	result, err := f.encode(ctx, "transcode", job.OutputPath, BuildTranscodeArgs(job))
	tracing.FinishSpan(span, err)

	var size int64
	elapsed := time.Duration(0)
	if result != nil {
		size, elapsed = result.SizeBytes, result.Elapsed
	}
	f.logger.LogTranscode(job.InputPath, job.OutputPath, job.Plan, size, elapsed, err)

	return result, err
}

// ExtractCover writes a single frame taken at atSeconds as an image
func (f *FFmpeg) ExtractCover(ctx context.Context, inputPath, outputPath string, atSeconds float64) (*models.TranscodeResult, error) {
	if inputPath == "" || outputPath == "" {
		return nil, fmt.Errorf("%w: input and output paths are required", ErrInvalidInput)
	}
	if err := checkDistinctOutput(outputPath, inputPath); err != nil {
		return nil, err
	}
	if atSeconds < 0 {
		atSeconds = 0
	}

	args := []string{
		"-hide_banner",
		"-y",
		"-ss", strconv.FormatFloat(atSeconds, 'f', 3, 64),
		"-i", inputPath,
		"-frames:v", "1",
		"-q:v", "2",
		outputPath,
	}

	return f.encode(ctx, "cover", outputPath, args)
}

// encode runs ffmpeg and applies the success contract: clean exit, output
// present and larger than minOutputBytes. args must end with outputPath.
// ffmpeg writes to a hidden sibling that is renamed over outputPath only
// once verified, so a failed run never touches an existing file there.
func (f *FFmpeg) encode(ctx context.Context, operation, outputPath string, args []string) (*models.TranscodeResult, error) {
	if len(args) == 0 || args[len(args)-1] != outputPath {
		return nil, fmt.Errorf("%w: output path must be the last argument", ErrInvalidInput)
	}
	start := time.Now()

	tmpPath := tempSibling(outputPath)
	runArgs := append(append([]string(nil), args[:len(args)-1]...), tmpPath)

	_, stderr, err := f.run(ctx, "ffmpeg", f.ffmpegPath, runArgs)

	var size int64
	if err == nil {
		size, err = f.verifyOutput(tmpPath)
	}
	if err == nil {
		if renameErr := os.Rename(tmpPath, outputPath); renameErr != nil {
			err = fmt.Errorf("%w: %v", ErrEncodeIncomplete, renameErr)
		}
	}
	elapsed := time.Since(start)

	metrics.RecordTranscode(operation, metrics.Status(err), elapsed.Seconds(), size)
	if err != nil {
		metrics.RecordError("transcoder", errorType(err))
		os.Remove(tmpPath)
		return nil, err
	}

	return &models.TranscodeResult{
		OutputPath: outputPath,
		SizeBytes:  size,
		Elapsed:    elapsed,
		Args:       args,
		Stderr:     stderr,
	}, nil
}

// tempSibling keeps the extension so ffmpeg still picks the right muxer
func tempSibling(outputPath string) string {
	dir, base := filepath.Split(outputPath)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	return filepath.Join(dir, "."+stem+".tmp-"+uuid.NewString()+ext)
}

// checkDistinctOutput rejects an output path that names one of the inputs
func checkDistinctOutput(outputPath string, inputs ...string) error {
	out, err := filepath.Abs(outputPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	for _, input := range inputs {
		in, err := filepath.Abs(input)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if in == out {
			return fmt.Errorf("%w: output %s would overwrite an input", ErrInvalidInput, outputPath)
		}
	}
	return nil
}

func (f *FFmpeg) verifyOutput(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrEncodeIncomplete, path, err)
	}
	if info.Size() <= f.minOutputBytes {
		return info.Size(), fmt.Errorf("%w: %s is %d bytes, need more than %d",
			ErrEncodeIncomplete, path, info.Size(), f.minOutputBytes)
	}
	return info.Size(), nil
}

// run starts one process and waits for it, classifying failures into
// ErrToolNotAvailable and *EncodeFailedError.
func (f *FFmpeg) run(ctx context.Context, tool, path string, args []string) ([]byte, string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = pipeDrainDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, "", fmt.Errorf("%w: %s: %v", ErrToolNotAvailable, path, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", &EncodeFailedError{Tool: tool, ExitCode: -1, TimedOut: true, Err: ctxErr}
		}
		return nil, "", fmt.Errorf("failed to start %s: %w", tool, err)
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stdout.Bytes(), stderr.String(), &EncodeFailedError{
				Tool:     tool,
				ExitCode: -1,
				Stderr:   stderr.String(),
				TimedOut: true,
				Err:      ctxErr,
			}
		}

		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), stderr.String(), &EncodeFailedError{
			Tool:     tool,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	return stdout.Bytes(), stderr.String(), nil
}
