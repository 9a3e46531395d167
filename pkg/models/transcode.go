package models

import "time"

// CodecSettings holds the encoder parameters applied to every transcode
type CodecSettings struct {
	VideoCodec   string `json:"video_codec" mapstructure:"videoCodec"`
	AudioCodec   string `json:"audio_codec" mapstructure:"audioCodec"`
	Preset       string `json:"preset" mapstructure:"preset"`
	CRF          int    `json:"crf" mapstructure:"crf"`
	MaxBitrate   string `json:"max_bitrate" mapstructure:"maxBitrate"`
	BufSize      string `json:"buf_size" mapstructure:"bufSize"`
	AudioBitrate string `json:"audio_bitrate" mapstructure:"audioBitrate"`
	FrameRate    int    `json:"frame_rate" mapstructure:"frameRate"`
	PixelFormat  string `json:"pixel_format" mapstructure:"pixelFormat"`
	FastStart    bool   `json:"fast_start" mapstructure:"fastStart"`
}

// DefaultCodecSettings returns H.264/AAC settings accepted by short-form platforms
func DefaultCodecSettings() CodecSettings {
	return CodecSettings{
		VideoCodec:   "libx264",
		AudioCodec:   "aac",
		Preset:       "medium",
		CRF:          23,
		MaxBitrate:   "4M",
		BufSize:      "8M",
		AudioBitrate: "128k",
		FrameRate:    30,
		PixelFormat:  "yuv420p",
		FastStart:    true,
	}
}

// TranscodeJob is one file to normalize with a precomputed geometry plan
type TranscodeJob struct {
	InputPath  string        `json:"input_path"`
	OutputPath string        `json:"output_path"`
	Plan       GeometryPlan  `json:"plan"`
	Codec      CodecSettings `json:"codec"`
}

// TranscodeResult describes a successful encode
type TranscodeResult struct {
	OutputPath string        `json:"output_path"`
	SizeBytes  int64         `json:"size_bytes"`
	Elapsed    time.Duration `json:"elapsed"`
	Args       []string      `json:"args,omitempty"`
	Stderr     string        `json:"-"`
}
