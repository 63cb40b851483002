package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server    ServerConfig
	Worker    WorkerConfig
	Database  DatabaseConfig
	RabbitMQ  RabbitMQConfig
	Redis     RedisConfig
	Pool      PoolConfig
	Upload    UploadConfig
	Stream    StreamConfig
	Transcode TranscodeConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"5m"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
	// UploadRateLimit caps upload requests per client IP per minute. Zero disables it.
	UploadRateLimit int `envconfig:"API_UPLOAD_RATE_LIMIT" default:"600"`
}

type WorkerConfig struct {
	TempDir         string        `envconfig:"WORKER_TEMP_DIR" default:"/tmp/mediapool"`
	Concurrency     int           `envconfig:"WORKER_CONCURRENCY" default:"2"`
	MaxRetries      int           `envconfig:"WORKER_MAX_RETRIES" default:"3"`
	ShutdownTimeout time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
	// JobLease is how long a processing job may go without a heartbeat
	// before another delivery may take it over or the reaper fails it.
	JobLease     time.Duration `envconfig:"WORKER_JOB_LEASE" default:"15m"`
	ReapSchedule string        `envconfig:"WORKER_REAP_SCHEDULE" default:"0 */5 * * * *"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"mediapool"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"mediapool"`
	DBName   string `envconfig:"POSTGRES_DB" default:"mediapool"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
	// Migrate applies the embedded schema on startup.
	Migrate bool `envconfig:"POSTGRES_MIGRATE" default:"true"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type RabbitMQConfig struct {
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USER" default:"mediapool"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"mediapool"`
	VHost    string `envconfig:"RABBITMQ_VHOST" default:"/"`
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type PoolConfig struct {
	AccountsFile      string        `envconfig:"POOL_ACCOUNTS_FILE" default:"accounts.yaml"`
	ReserveMargin     float64       `envconfig:"POOL_RESERVE_MARGIN" default:"0.10"`
	ComfortMargin     float64       `envconfig:"POOL_COMFORT_MARGIN" default:"0.50"`
	RetryAttempts     int           `envconfig:"POOL_RETRY_ATTEMPTS" default:"5"`
	RetryBaseDelay    time.Duration `envconfig:"POOL_RETRY_BASE_DELAY" default:"200ms"`
	RetryMaxDelay     time.Duration `envconfig:"POOL_RETRY_MAX_DELAY" default:"10s"`
	RequestsPerSecond float64       `envconfig:"POOL_REQUESTS_PER_SECOND" default:"10"`
	RequestBurst      int           `envconfig:"POOL_REQUEST_BURST" default:"20"`
	ReloadDebounce    time.Duration `envconfig:"POOL_RELOAD_DEBOUNCE" default:"500ms"`
	ReconcileSchedule string        `envconfig:"POOL_RECONCILE_SCHEDULE" default:"@every 10m"`
}

type UploadConfig struct {
	ScratchDir    string        `envconfig:"UPLOAD_SCRATCH_DIR" default:"/tmp/mediapool/uploads"`
	MaxChunkBytes int64         `envconfig:"UPLOAD_MAX_CHUNK_BYTES" default:"16777216"`
	MaxFileBytes  int64         `envconfig:"UPLOAD_MAX_FILE_BYTES" default:"33554432"`
	StaleAfter    time.Duration `envconfig:"UPLOAD_STALE_AFTER" default:"24h"`
	PurgeSchedule string        `envconfig:"UPLOAD_PURGE_SCHEDULE" default:"0 0 * * * *"`
}

type StreamConfig struct {
	CacheDir      string        `envconfig:"STREAM_CACHE_DIR" default:"/tmp/mediapool/segments"`
	SegmentTTL    time.Duration `envconfig:"STREAM_SEGMENT_TTL" default:"168h"`
	ManifestTTL   time.Duration `envconfig:"STREAM_MANIFEST_TTL" default:"24h"`
	CacheMaxBytes int64         `envconfig:"STREAM_CACHE_MAX_BYTES" default:"0"`
	SweepSchedule string        `envconfig:"STREAM_SWEEP_SCHEDULE" default:"0 */15 * * * *"`
	// BaseURL prefixes playlist URIs. Empty yields host-relative URIs.
	BaseURL string `envconfig:"STREAM_BASE_URL" default:""`
}

type TranscodeConfig struct {
	FFmpegPath      string `envconfig:"TRANSCODE_FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath     string `envconfig:"TRANSCODE_FFPROBE_PATH" default:"ffprobe"`
	SegmentDuration int    `envconfig:"TRANSCODE_SEGMENT_DURATION" default:"10"`
	Preset          string `envconfig:"TRANSCODE_PRESET" default:"fast"`
	VideoCodec      string `envconfig:"TRANSCODE_VIDEO_CODEC" default:"libx264"`
	AudioCodec      string `envconfig:"TRANSCODE_AUDIO_CODEC" default:"aac"`
	AudioBitrate    string `envconfig:"TRANSCODE_AUDIO_BITRATE" default:"128k"`
	ThumbnailWidth  int    `envconfig:"TRANSCODE_THUMBNAIL_WIDTH" default:"320"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Pool.ReserveMargin < 0 || c.Pool.ReserveMargin >= 1 {
		return fmt.Errorf("POOL_RESERVE_MARGIN must be in [0, 1), got %v", c.Pool.ReserveMargin)
	}
	if c.Pool.ComfortMargin < c.Pool.ReserveMargin || c.Pool.ComfortMargin > 1 {
		return fmt.Errorf("POOL_COMFORT_MARGIN must be in [reserve, 1], got %v", c.Pool.ComfortMargin)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.JobLease < time.Minute {
		return fmt.Errorf("WORKER_JOB_LEASE must be at least 1m, got %v", c.Worker.JobLease)
	}
	if c.Upload.MaxChunkBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_CHUNK_BYTES must be positive, got %d", c.Upload.MaxChunkBytes)
	}
	return nil
}
