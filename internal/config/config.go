package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	TargetDir     string            `envconfig:"TARGET_DIR" required:"true"`
	PartialDir    string            `envconfig:"PARTIAL_DIR"`
	DBPath        string            `envconfig:"DB_PATH" default:"downloads.db"`
	MaxConcurrent int               `envconfig:"MAX_CONCURRENT" default:"3"`
	DrainTimeout  time.Duration     `envconfig:"DRAIN_TIMEOUT" default:"2s"`
	PauseTimeout  time.Duration     `envconfig:"PAUSE_TIMEOUT" default:"10s"`
	AutoResume    bool              `envconfig:"AUTO_RESUME" default:"true"`
	Headers       map[string]string `envconfig:"HEADERS"`
	AuthToken     string            `envconfig:"AUTH_TOKEN"`

	ProgressInterval int64         `envconfig:"PROGRESS_INTERVAL" default:"262144"`
	RetryMax         int           `envconfig:"RETRY_MAX" default:"3"`
	RetryWaitMin     time.Duration `envconfig:"RETRY_WAIT_MIN" default:"1s"`
	RetryWaitMax     time.Duration `envconfig:"RETRY_WAIT_MAX" default:"30s"`

	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"0s"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `envconfig:"TELEMETRY_ENABLED" default:"true"`
		ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"resumable_downloader"`
		OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	}

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// normalize fills derived defaults and rejects values the manager cannot run with.
func (c *Config) normalize() error {
	if c.TargetDir == "" {
		return fmt.Errorf("TARGET_DIR must not be empty")
	}

	if c.PartialDir == "" {
		c.PartialDir = filepath.Join(c.TargetDir, ".partial")
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("MAX_CONCURRENT must be at least 1, got %d", c.MaxConcurrent)
	}

	if c.DrainTimeout <= 0 {
		return fmt.Errorf("DRAIN_TIMEOUT must be positive, got %s", c.DrainTimeout)
	}

	if c.ProgressInterval <= 0 {
		return fmt.Errorf("PROGRESS_INTERVAL must be positive, got %d", c.ProgressInterval)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
