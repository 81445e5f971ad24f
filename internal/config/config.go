package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Worker    WorkerConfig    `yaml:"worker"`
	Download  DownloadConfig  `yaml:"download"`
	Provider  ProviderConfig  `yaml:"provider"`
	Tools     ToolsConfig     `yaml:"tools"`
	Retention RetentionConfig `yaml:"retention"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST"`
	Port         int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
	// PublicBaseURL prefixes the stream/thumbnail URLs handed to clients.
	PublicBaseURL string   `yaml:"public_base_url" envconfig:"PUBLIC_BASE_URL"`
	CORSOrigins   []string `yaml:"cors_origins" envconfig:"CORS_ORIGINS"`
}

// StorageConfig holds filesystem and database locations.
type StorageConfig struct {
	BasePath     string `yaml:"base_path" envconfig:"VIDEOS_PATH"`
	TempPath     string `yaml:"temp_path" envconfig:"TEMP_PATH"`
	DatabasePath string `yaml:"database_path" envconfig:"DATABASE_PATH"`
	MaxFileSize  int64  `yaml:"max_file_size" envconfig:"MAX_FILE_SIZE"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Count        int           `yaml:"count" envconfig:"WORKER_COUNT"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"WORKER_POLL_INTERVAL"`
}

// DownloadConfig bounds every media fetch.
type DownloadConfig struct {
	Timeout     time.Duration `yaml:"timeout" envconfig:"DOWNLOAD_TIMEOUT"`
	ReadTimeout time.Duration `yaml:"read_timeout" envconfig:"DOWNLOAD_READ_TIMEOUT"`
	Parallelism int           `yaml:"parallelism" envconfig:"DOWNLOAD_PARALLELISM"`
	UserAgent   string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT"`
}

// ProviderConfig configures the primary metadata provider.
type ProviderConfig struct {
	BaseURL string        `yaml:"base_url" envconfig:"PROVIDER_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"PROVIDER_TIMEOUT"`
}

// ToolsConfig locates external binaries and bounds their runtime.
type ToolsConfig struct {
	FFmpegPath       string        `yaml:"ffmpeg_path" envconfig:"FFMPEG_PATH"`
	FFprobePath      string        `yaml:"ffprobe_path" envconfig:"FFPROBE_PATH"`
	YtDlpPath        string        `yaml:"ytdlp_path" envconfig:"YTDLP_PATH"`
	TranscodeTimeout time.Duration `yaml:"transcode_timeout" envconfig:"TRANSCODE_TIMEOUT"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout" envconfig:"PROBE_TIMEOUT"`
	FallbackTimeout  time.Duration `yaml:"fallback_timeout" envconfig:"FALLBACK_TIMEOUT"`
}

// RetentionConfig controls expiry and the reaper schedule.
type RetentionConfig struct {
	Window        time.Duration `yaml:"window" envconfig:"RETENTION_WINDOW"`
	SweepSchedule string        `yaml:"sweep_schedule" envconfig:"SWEEP_SCHEDULE"`
	// OrphanGrace is how old a processing record must be at startup before it
	// is considered abandoned by a previous process.
	OrphanGrace time.Duration `yaml:"orphan_grace" envconfig:"ORPHAN_GRACE"`
}

// IngestConfig holds submission validation rules.
type IngestConfig struct {
	AllowedHosts     []string `yaml:"allowed_hosts" envconfig:"ALLOWED_HOSTS"`
	MaxMessageLength int      `yaml:"max_message_length" envconfig:"MAX_MESSAGE_LENGTH"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
}

// MinJWTSecretLength is the shortest accepted signing secret.
const MinJWTSecretLength = 32

// Default returns the configuration used when neither file nor environment set a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         3000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			BasePath:     "/data/videos",
			TempPath:     "/data/temp",
			DatabasePath: "/data/clipdrop.db",
			MaxFileSize:  512 << 20,
		},
		Worker: WorkerConfig{
			Count:        4,
			PollInterval: time.Second,
		},
		Download: DownloadConfig{
			Timeout:     5 * time.Minute,
			ReadTimeout: 60 * time.Second,
			Parallelism: 4,
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		},
		Provider: ProviderConfig{
			BaseURL: "https://www.tikwm.com/api/",
			Timeout: 30 * time.Second,
		},
		Tools: ToolsConfig{
			FFmpegPath:       "ffmpeg",
			FFprobePath:      "ffprobe",
			YtDlpPath:        "yt-dlp",
			TranscodeTimeout: 10 * time.Minute,
			ProbeTimeout:     30 * time.Second,
			FallbackTimeout:  5 * time.Minute,
		},
		Retention: RetentionConfig{
			Window:        7 * 24 * time.Hour,
			SweepSchedule: "@every 1h",
		},
		Ingest: IngestConfig{
			AllowedHosts:     []string{"tiktok.com", "www.tiktok.com", "vm.tiktok.com", "m.tiktok.com"},
			MaxMessageLength: 30,
		},
	}
}

// Load reads configuration from file and environment variables.
// Environment variables override file values, which override defaults.
// A .env file in the working directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", MinJWTSecretLength)
	}
	if c.Storage.BasePath == "" {
		return fmt.Errorf("VIDEOS_PATH is required")
	}
	if c.Storage.TempPath == "" {
		return fmt.Errorf("TEMP_PATH is required")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.Retention.Window <= 0 {
		return fmt.Errorf("RETENTION_WINDOW must be positive")
	}
	if c.Retention.SweepSchedule == "" {
		return fmt.Errorf("SWEEP_SCHEDULE is required")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	if len(c.Ingest.AllowedHosts) == 0 {
		return fmt.Errorf("ALLOWED_HOSTS must not be empty")
	}
	if c.Ingest.MaxMessageLength < 1 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be positive")
	}
	if c.Download.Timeout <= 0 || c.Tools.TranscodeTimeout <= 0 || c.Tools.FallbackTimeout <= 0 {
		return fmt.Errorf("download and tool timeouts must be positive")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DataDir is the directory holding the database and the process lock.
func (c *StorageConfig) DataDir() string {
	return filepath.Dir(c.DatabasePath)
}
