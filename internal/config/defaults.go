package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in
// place for keys the file omits.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	// Upload and pull bodies are whole media files, so the request timeouts
	// default to unlimited. Header reads are still bounded.
	v.SetDefault("server.read_timeout", time.Duration(0))
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.read_header_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_bytes", defaultMaxUploadBytes)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "mediaforge.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.pending_dir", "./pending")
	v.SetDefault("storage.output_dir", "./processing")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Processing defaults
	v.SetDefault("processing.max_concurrent_jobs", defaultMaxConcurrent)
	v.SetDefault("processing.priority", 10)
	v.SetDefault("processing.ffmpeg_path", "")
	v.SetDefault("processing.ffprobe_path", "")
	v.SetDefault("processing.progress_interval", defaultProgressEvery)
	v.SetDefault("processing.probe_timeout", defaultProbeTimeout)
	v.SetDefault("processing.hw_device", "/dev/dri/renderD128")
	v.SetDefault("processing.catalog_path", "catalog.yaml")

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.cron", defaultSweepCron)
	v.SetDefault("maintenance.pending_max_age", 7*24*time.Hour)
}
