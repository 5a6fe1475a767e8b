// Package config provides configuration management for mediaforge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 1949
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultMaxConcurrent   = 2
	defaultProgressEvery   = 5 * time.Second
	defaultProbeTimeout    = 30 * time.Second
	defaultMaxUploadBytes  = 64 << 30 // 64GiB; raw remuxes are large
	defaultSweepCron       = "0 30 3 * * *"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig              `mapstructure:"server"`
	Database    DatabaseConfig            `mapstructure:"database"`
	Storage     StorageConfig             `mapstructure:"storage"`
	Logging     LoggingConfig             `mapstructure:"logging"`
	Processing  ProcessingConfig          `mapstructure:"processing"`
	Categories  map[string]CategoryConfig `mapstructure:"categories"`
	Maintenance MaintenanceConfig         `mapstructure:"maintenance"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// MaxUploadBytes bounds the multipart body accepted by add-media.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds working-directory configuration.
type StorageConfig struct {
	// PendingDir receives uploaded source files awaiting processing.
	PendingDir string `mapstructure:"pending_dir"`
	// OutputDir holds one subdirectory per job with the produced variants.
	OutputDir string `mapstructure:"output_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ProcessingConfig holds the transcode engine configuration.
type ProcessingConfig struct {
	// MaxConcurrentJobs is the global ceiling on simultaneously running
	// encode subprocesses.
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`
	// Priority is the niceness applied to encode subprocesses (-20..19).
	Priority int `mapstructure:"priority"`
	// FFmpegPath and FFprobePath override binary discovery (empty = PATH).
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	// ProgressInterval throttles observable progress updates per job.
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	// ProbeTimeout bounds the ffprobe call per source file.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	// HWDevice is the render node used for vaapi targets.
	HWDevice string `mapstructure:"hw_device"`
	// CatalogPath points at the output-profile catalog YAML.
	CatalogPath string `mapstructure:"catalog_path"`
	// ExcludeFilter is an optional global exclusion schema applied to every
	// source stream regardless of customer filters.
	ExcludeFilter *models.StreamSchema `mapstructure:"exclude_filter"`
}

// CategoryConfig holds the per-category encode rule.
type CategoryConfig struct {
	VideoCodec string `mapstructure:"video_codec"`
	AudioCodec string `mapstructure:"audio_codec"`
	// NameTemplate builds output filenames from {{base}}, {{profile}} and
	// {{ext}} placeholders.
	NameTemplate string `mapstructure:"name_template"`
	// Extension is the container extension for produced files.
	Extension string `mapstructure:"extension"`
	// ExtraParams carries additional ffmpeg flags by position.
	ExtraParams ExtraParams `mapstructure:"extra_params"`
}

// ExtraParams groups additional ffmpeg arguments by invocation position.
type ExtraParams struct {
	Common []string `mapstructure:"common"`
	Input  []string `mapstructure:"input"`
	Output []string `mapstructure:"output"`
}

// MaintenanceConfig holds the periodic sweep configuration.
type MaintenanceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Cron is a 6-field cron expression for the orphan sweep.
	Cron string `mapstructure:"cron"`
	// PendingMaxAge is how long an unclaimed pending upload may live.
	PendingMaxAge time.Duration `mapstructure:"pending_max_age"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with MEDIAFORGE_, using underscores for nesting.
// Example: MEDIAFORGE_SERVER_PORT=1949.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/mediaforge")
		v.AddConfigPath("$HOME/.mediaforge")
	}

	v.SetEnvPrefix("MEDIAFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.PendingDir == "" {
		return fmt.Errorf("storage.pending_dir is required")
	}
	if c.Storage.OutputDir == "" {
		return fmt.Errorf("storage.output_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Processing.MaxConcurrentJobs < 1 {
		return fmt.Errorf("processing.max_concurrent_jobs must be at least 1")
	}
	if c.Processing.Priority < -20 || c.Processing.Priority > 19 {
		return fmt.Errorf("processing.priority must be between -20 and 19")
	}
	if c.Processing.ProgressInterval <= 0 {
		return fmt.Errorf("processing.progress_interval must be positive")
	}

	for name, cat := range c.Categories {
		if cat.VideoCodec == "" {
			return fmt.Errorf("categories.%s.video_codec is required", name)
		}
		if cat.NameTemplate == "" {
			return fmt.Errorf("categories.%s.name_template is required", name)
		}
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Category returns the rule for the given category name.
// The second return is false when the category is not configured.
func (c *Config) Category(name string) (CategoryConfig, bool) {
	cat, ok := c.Categories[name]
	return cat, ok
}
