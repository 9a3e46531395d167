package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// EnvPrefix is prepended to every environment override, e.g.
// REELFORGE_GENERATION_APIKEY for generation.apiKey.
const EnvPrefix = "REELFORGE"

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Transcoder TranscoderConfig
	Generation GenerationConfig
	Artifacts  ArtifactsConfig
	Pipeline   models.PipelineSpec
	Storage    StorageConfig
	Redis      RedisConfig
	Queue      QueueConfig
	Database   DatabaseConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	Webhook    WebhookConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       float64
	RateBurst       int
}

// LoggingConfig mirrors logging.Config
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// TranscoderConfig holds ffmpeg and normalization settings
type TranscoderConfig struct {
	FFmpegPath     string
	FFprobePath    string
	TempDir        string
	Timeout        time.Duration
	MinOutputBytes int64
	Platform       string
	Target         models.TargetSpec
	Codec          models.CodecSettings
	ProbeCacheTTL  time.Duration
}

// ResolvedTarget returns the target spec, with the platform preset filling
// in dimensions that were left unset.
func (t TranscoderConfig) ResolvedTarget() models.TargetSpec {
	target := t.Target
	if p := models.PlatformPreset(t.Platform); p != nil {
		if target.TargetWidth == 0 {
			target.TargetWidth = p.Width
		}
		if target.TargetHeight == 0 {
			target.TargetHeight = p.Height
		}
	}
	if target.ZoomFactor == 0 {
		target.ZoomFactor = 1.0
	}
	return target
}

// GenerationConfig holds the generative backend and polling settings
type GenerationConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	HTTPTimeout       time.Duration
	RequestsPerSecond float64
	PollInterval      time.Duration
	MaxPolls          int
	SubmitRetries     int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	MinArtifactBytes  int64
}

// ArtifactsConfig holds the local artifact tree location
type ArtifactsConfig struct {
	Dir string
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	URLExpiry       time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Enabled   bool
	Host      string
	Port      int
	User      string
	Password  string
	Vhost     string
	Exchange  string
	QueueName string
}

// URL returns the AMQP connection URL
func (q QueueConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", q.User, q.Password, q.Host, q.Port, q.Vhost)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the pgx connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode, d.MaxConns, d.MinConns,
	)
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger settings
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	SampleRate  float64
}

// WebhookConfig holds run notification settings
type WebhookConfig struct {
	URL        string
	Secret     string
	MaxRetries int
	Timeout    time.Duration
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks values that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	var errs []error

	if c.Transcoder.FFmpegPath == "" {
		errs = append(errs, errors.New("transcoder.ffmpegPath is required"))
	}
	if c.Transcoder.Timeout <= 0 {
		errs = append(errs, errors.New("transcoder.timeout must be positive"))
	}
	if c.Transcoder.Platform != "" && models.PlatformPreset(c.Transcoder.Platform) == nil {
		errs = append(errs, fmt.Errorf("transcoder.platform %q is unknown", c.Transcoder.Platform))
	}
	if c.Transcoder.Target.ZoomFactor < 0 {
		errs = append(errs, errors.New("transcoder.target.zoomFactor must not be negative"))
	}
	if c.Generation.PollInterval <= 0 {
		errs = append(errs, errors.New("generation.pollInterval must be positive"))
	}
	if c.Generation.MaxPolls <= 0 {
		errs = append(errs, errors.New("generation.maxPolls must be positive"))
	}
	if c.Generation.SubmitRetries < 0 {
		errs = append(errs, errors.New("generation.submitRetries must not be negative"))
	}
	if c.Generation.BackoffMax < c.Generation.BackoffBase {
		errs = append(errs, errors.New("generation.backoffMax must be at least generation.backoffBase"))
	}
	if c.Artifacts.Dir == "" {
		errs = append(errs, errors.New("artifacts.dir is required"))
	}
	if len(c.Pipeline.Stages) > 0 {
		if err := c.Pipeline.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline: %w", err))
		}
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.rateLimit", 10.0)
	v.SetDefault("server.rateBurst", 20)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Transcoder defaults
	codec := models.DefaultCodecSettings()
	v.SetDefault("transcoder.ffmpegPath", "ffmpeg")
	v.SetDefault("transcoder.ffprobePath", "ffprobe")
	v.SetDefault("transcoder.tempDir", "/tmp/reelforge")
	v.SetDefault("transcoder.timeout", "10m")
	v.SetDefault("transcoder.minOutputBytes", 1024)
	v.SetDefault("transcoder.platform", models.PlatformTikTok.Name)
	v.SetDefault("transcoder.target.zoomFactor", 1.0)
	v.SetDefault("transcoder.target.policy", string(models.FitCrop))
	v.SetDefault("transcoder.codec.videoCodec", codec.VideoCodec)
	v.SetDefault("transcoder.codec.audioCodec", codec.AudioCodec)
	v.SetDefault("transcoder.codec.preset", codec.Preset)
	v.SetDefault("transcoder.codec.crf", codec.CRF)
	v.SetDefault("transcoder.codec.maxBitrate", codec.MaxBitrate)
	v.SetDefault("transcoder.codec.bufSize", codec.BufSize)
	v.SetDefault("transcoder.codec.audioBitrate", codec.AudioBitrate)
	v.SetDefault("transcoder.codec.frameRate", codec.FrameRate)
	v.SetDefault("transcoder.codec.pixelFormat", codec.PixelFormat)
	v.SetDefault("transcoder.codec.fastStart", codec.FastStart)
	v.SetDefault("transcoder.probeCacheTTL", "24h")

	// Generation defaults
	v.SetDefault("generation.baseURL", "http://localhost:8090")
	v.SetDefault("generation.apiKey", "")
	v.SetDefault("generation.model", "veo-2")
	v.SetDefault("generation.httpTimeout", "60s")
	v.SetDefault("generation.requestsPerSecond", 1.0)
	v.SetDefault("generation.pollInterval", "10s")
	v.SetDefault("generation.maxPolls", 60)
	v.SetDefault("generation.submitRetries", 5)
	v.SetDefault("generation.backoffBase", "2s")
	v.SetDefault("generation.backoffMax", "60s")
	v.SetDefault("generation.minArtifactBytes", 1024)

	// Artifact defaults
	v.SetDefault("artifacts.dir", "./artifacts")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "reelforge")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.urlExpiry", "24h")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Queue defaults
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")
	v.SetDefault("queue.exchange", "reelforge")
	v.SetDefault("queue.queueName", "upload_requests")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "reelforge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 1)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "reelforge")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.sampleRate", 1.0)

	// Webhook defaults
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.maxRetries", 3)
	v.SetDefault("webhook.timeout", "10s")
}
