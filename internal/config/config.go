package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	HistoryBackendJSON   = "json"
	HistoryBackendSQLite = "sqlite"
)

// Config struct for environment variables.
type Config struct {
	DownloadDir       string        `envconfig:"DOWNLOAD_DIR" default:"downloads"`
	HistoryBackend    string        `envconfig:"HISTORY_BACKEND" default:"json"`
	HistoryFile       string        `envconfig:"HISTORY_FILE" default:"download_history.json"`
	DBPath            string        `envconfig:"DB_PATH" default:"history.db"`
	HistoryLimit      int           `envconfig:"HISTORY_LIMIT" default:"50"`
	MaxParallel       int           `envconfig:"MAX_PARALLEL" default:"5"`
	DownloadTimeout   time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"30m"`
	RecentFileWindow  time.Duration `envconfig:"RECENT_FILE_WINDOW" default:"2m"`
	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"0s"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	YtdlpAutoInstall  bool          `envconfig:"YTDLP_AUTO_INSTALL" default:"false"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"media_downloader"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:5000"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"35m"`
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

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	c.HistoryBackend = strings.ToLower(c.HistoryBackend)

	switch c.HistoryBackend {
	case HistoryBackendJSON, HistoryBackendSQLite:
	default:
		return fmt.Errorf("invalid history backend: %s", c.HistoryBackend)
	}

	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit)
	}

	if c.MaxParallel <= 0 {
		return fmt.Errorf("max parallel must be positive, got %d", c.MaxParallel)
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
