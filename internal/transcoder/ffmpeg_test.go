package transcoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// writeScript creates an executable shell script standing in for ffmpeg or
// ffprobe. $last holds the final argument, which is the output path.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tools need /bin/sh")
	}

	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const writeOutput2K = `dd if=/dev/zero of="$last" bs=2048 count=1 2>/dev/null`

func testJob(t *testing.T) models.TranscodeJob {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(input, []byte("source"), 0o644))

	return models.TranscodeJob{
		InputPath:  input,
		OutputPath: filepath.Join(dir, "out.mp4"),
		Plan: models.GeometryPlan{
			CropWidth: 533, CropHeight: 600, CropX: 373, CropY: 60,
			ScaleWidth: 720, ScaleHeight: 1280, FitWidth: 720, FitHeight: 1280,
			Policy: models.FitCrop,
		},
		Codec: models.DefaultCodecSettings(),
	}
}

func TestTranscode_Success(t *testing.T) {
	ff := NewFFmpeg(writeScript(t, "ffmpeg", writeOutput2K), "ffprobe")
	job := testJob(t)

	result, err := ff.Transcode(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, job.OutputPath, result.OutputPath)
	assert.Equal(t, int64(2048), result.SizeBytes)
	assert.Equal(t, BuildTranscodeArgs(job), result.Args)

	info, err := os.Stat(job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), info.Size())
}

func TestTranscode_Failures(t *testing.T) {
	tests := []struct {
		name   string
		script string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "exit zero without output",
			script: "exit 0",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEncodeIncomplete)
			},
		},
		{
			name:   "undersized output",
			script: `printf 'tiny' > "$last"`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEncodeIncomplete)
			},
		},
		{
			name:   "output exactly at the minimum",
			script: `dd if=/dev/zero of="$last" bs=1024 count=1 2>/dev/null`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEncodeIncomplete)
			},
		},
		{
			name:   "non-zero exit with partial output",
			script: writeOutput2K + "\necho 'Conversion failed!' >&2\nexit 3",
			check: func(t *testing.T, err error) {
				var encErr *EncodeFailedError
				require.ErrorAs(t, err, &encErr)
				assert.Equal(t, 3, encErr.ExitCode)
				assert.False(t, encErr.TimedOut)
				assert.Contains(t, encErr.Stderr, "Conversion failed!")
				assert.Contains(t, encErr.Error(), "Conversion failed!")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ff := NewFFmpeg(writeScript(t, "ffmpeg", tt.script), "ffprobe")
			job := testJob(t)

			result, err := ff.Transcode(context.Background(), job)
			require.Error(t, err)
			assert.Nil(t, result)
			tt.check(t, err)

			_, statErr := os.Stat(job.OutputPath)
			assert.True(t, os.IsNotExist(statErr), "output must be removed on failure")
		})
	}
}

func TestTranscode_ToolNotAvailable(t *testing.T) {
	paths := map[string]string{
		"missing absolute path": filepath.Join(t.TempDir(), "no-ffmpeg-here"),
		"not on PATH":           "reelforge-no-such-ffmpeg",
	}

	for name, path := range paths {
		t.Run(name, func(t *testing.T) {
			ff := NewFFmpeg(path, "ffprobe")

			_, err := ff.Transcode(context.Background(), testJob(t))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrToolNotAvailable), "got %v", err)

			var encErr *EncodeFailedError
			assert.False(t, errors.As(err, &encErr))
		})
	}
}

func TestTranscode_Timeout(t *testing.T) {
	ff := NewFFmpeg(writeScript(t, "ffmpeg", "exec sleep 5"), "ffprobe", WithTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := ff.Transcode(context.Background(), testJob(t))
	require.Error(t, err)

	var encErr *EncodeFailedError
	require.ErrorAs(t, err, &encErr)
	assert.True(t, encErr.TimedOut)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestTranscode_InvalidJob(t *testing.T) {
	ff := NewFFmpeg("ffmpeg", "ffprobe")

	_, err := ff.Transcode(context.Background(), models.TranscodeJob{InputPath: "in.mp4"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTranscode_KeepsExistingOutputOnFailure(t *testing.T) {
	scripts := map[string]string{
		"tool missing":   "",
		"non-zero exit":  writeOutput2K + "\nexit 1",
		"no output file": "exit 0",
	}

	for name, script := range scripts {
		t.Run(name, func(t *testing.T) {
			ffmpegPath := filepath.Join(t.TempDir(), "no-ffmpeg-here")
			if script != "" {
				ffmpegPath = writeScript(t, "ffmpeg", script)
			}
			ff := NewFFmpeg(ffmpegPath, "ffprobe")
			job := testJob(t)
			require.NoError(t, os.WriteFile(job.OutputPath, []byte("previous render"), 0o644))

			_, err := ff.Transcode(context.Background(), job)
			require.Error(t, err)

			data, err := os.ReadFile(job.OutputPath)
			require.NoError(t, err)
			assert.Equal(t, "previous render", string(data))
			assertNoTempFiles(t, filepath.Dir(job.OutputPath))
		})
	}
}

func TestTranscode_OutputEqualsInput(t *testing.T) {
	ff := NewFFmpeg(writeScript(t, "ffmpeg", writeOutput2K), "ffprobe")
	job := testJob(t)
	job.OutputPath = filepath.Join(filepath.Dir(job.InputPath), ".", "in.mp4")

	_, err := ff.Transcode(context.Background(), job)
	require.ErrorIs(t, err, ErrInvalidInput)

	data, err := os.ReadFile(job.InputPath)
	require.NoError(t, err)
	assert.Equal(t, "source", string(data))
}

func TestTranscode_ReplacesOutputWithoutTempLeftovers(t *testing.T) {
	ff := NewFFmpeg(writeScript(t, "ffmpeg", writeOutput2K), "ffprobe")
	job := testJob(t)
	require.NoError(t, os.WriteFile(job.OutputPath, []byte("previous render"), 0o644))

	_, err := ff.Transcode(context.Background(), job)
	require.NoError(t, err)

	info, err := os.Stat(job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), info.Size())
	assertNoTempFiles(t, filepath.Dir(job.OutputPath))
}

func TestEncode_TempPathKeepsExtension(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	ff := NewFFmpeg(writeScript(t, "ffmpeg", `echo "$last" > `+argsFile+"\n"+writeOutput2K), "ffprobe")

	output := filepath.Join(t.TempDir(), "cover.jpg")
	_, err := ff.ExtractCover(context.Background(), "clip.mp4", output, 0)
	require.NoError(t, err)

	written, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	target := strings.TrimSpace(string(written))
	assert.Equal(t, filepath.Dir(output), filepath.Dir(target))
	assert.Equal(t, ".jpg", filepath.Ext(target))
	assert.NotEqual(t, output, target)
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestTranscode_CustomMinOutputBytes(t *testing.T) {
	ff := NewFFmpeg(writeScript(t, "ffmpeg", `printf 'tiny' > "$last"`), "ffprobe", WithMinOutputBytes(1))

	result, err := ff.Transcode(context.Background(), testJob(t))
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.SizeBytes)
}

func TestExtractCover(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	ff := NewFFmpeg(writeScript(t, "ffmpeg", `echo "$@" > `+argsFile+"\n"+writeOutput2K), "ffprobe")

	output := filepath.Join(t.TempDir(), "cover.jpg")
	result, err := ff.ExtractCover(context.Background(), "clip.mp4", output, 1.5)
	require.NoError(t, err)
	assert.Equal(t, output, result.OutputPath)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-ss 1.500 -i clip.mp4 -frames:v 1")
}

const landscapeProbeJSON = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "duration": "7.960000"},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"duration": "8.000000", "size": "1048576"}
}`

func TestParseProbeOutput(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		expected models.MediaDescriptor
		wantErr  bool
	}{
		{
			name:     "landscape with audio",
			json:     landscapeProbeJSON,
			expected: models.MediaDescriptor{Width: 1280, Height: 720, DurationSeconds: 8, SizeBytes: 1048576},
		},
		{
			name:     "rotate tag swaps dimensions",
			json:     `{"streams":[{"codec_type":"video","width":1920,"height":1080,"tags":{"rotate":"90"}}],"format":{}}`,
			expected: models.MediaDescriptor{Width: 1080, Height: 1920},
		},
		{
			name:     "display matrix rotation swaps dimensions",
			json:     `{"streams":[{"codec_type":"video","width":1920,"height":1080,"side_data_list":[{"rotation":-90}]}],"format":{"duration":"3.5"}}`,
			expected: models.MediaDescriptor{Width: 1080, Height: 1920, DurationSeconds: 3.5},
		},
		{
			name:     "upside down keeps dimensions",
			json:     `{"streams":[{"codec_type":"video","width":1920,"height":1080,"tags":{"rotate":"180"}}],"format":{}}`,
			expected: models.MediaDescriptor{Width: 1920, Height: 1080},
		},
		{
			name:    "audio only",
			json:    `{"streams":[{"codec_type":"audio"}],"format":{"duration":"3"}}`,
			wantErr: true,
		},
		{
			name:    "garbage",
			json:    `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := ParseProbeOutput([]byte(tt.json))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, *desc)
		})
	}
}

func TestProbe(t *testing.T) {
	ffprobe := writeScript(t, "ffprobe", "cat <<'EOF'\n"+landscapeProbeJSON+"\nEOF")
	ff := NewFFmpeg("ffmpeg", ffprobe)

	desc, err := ff.Probe(context.Background(), "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, 1280, desc.Width)
	assert.Equal(t, 720, desc.Height)
	assert.Equal(t, 8.0, desc.DurationSeconds)

	failing := NewFFmpeg("ffmpeg", writeScript(t, "ffprobe", "echo 'clip.mp4: No such file' >&2\nexit 1"))
	_, err = failing.Probe(context.Background(), "clip.mp4")

	var encErr *EncodeFailedError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "ffprobe", encErr.Tool)
	assert.True(t, strings.Contains(encErr.Stderr, "No such file"))
}
