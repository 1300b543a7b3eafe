// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	sweepOrphans   = pflag.Bool("sweep-orphans", false, "Re-enqueues pending media files stuck without a worker on startup")
	validLogLevels = []string{"debug", "info", "warn", "error", "fatal"}
	validDrivers   = []string{"sqlite", "postgres"}
)

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() error {
	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	//
	// ENVS
	//
	v.BindEnv("app.log_level", "app_log_level")

	v.BindEnv("host.port", "host_port")
	v.BindEnv("host.domain", "host_domain")

	v.BindEnv("db.driver", "db_driver")
	v.BindEnv("db.dsn", "db_dsn")

	v.BindEnv("jwt.secret", "jwt_secret")

	v.BindEnv("upload.max_size_video", "upload_max_size_video")
	v.BindEnv("upload.max_size_audio", "upload_max_size_audio")
	v.BindEnv("upload.max_size_image", "upload_max_size_image")
	v.BindEnv("upload.max_size_document", "upload_max_size_document")
	v.BindEnv("upload.session_expiry", "upload_session_expiry")
	v.BindEnv("upload.retention", "upload_retention")
	v.BindEnv("upload.size_tolerance", "upload_size_tolerance")

	v.BindEnv("pipeline.workers", "pipeline_workers")
	v.BindEnv("pipeline.max_attempts", "pipeline_max_attempts")
	v.BindEnv("pipeline.lease_timeout", "pipeline_lease_timeout")
	v.BindEnv("pipeline.backoff_base", "pipeline_backoff_base")
	v.BindEnv("pipeline.backoff_cap", "pipeline_backoff_cap")
	v.BindEnv("pipeline.poll_interval", "pipeline_poll_interval")

	v.BindEnv("storage.endpoint", "storage_endpoint")
	v.BindEnv("storage.region", "storage_region")
	v.BindEnv("storage.access_key_id", "storage_access_key_id")
	v.BindEnv("storage.secret_access_key", "storage_secret_access_key")
	v.BindEnv("storage.bucket", "storage_bucket")

	v.BindEnv("cdn.base_url", "cdn_base_url")

	v.BindEnv("ffmpeg.path", "ffmpeg_path")
	v.BindEnv("ffprobe.path", "ffprobe_path")

	//
	// Defaults
	//
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.domain", "localhost")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "database.db")

	// Sizes are megabytes, converted to bytes at the bottom
	v.SetDefault("upload.max_size_video", 2048)
	v.SetDefault("upload.max_size_audio", 512)
	v.SetDefault("upload.max_size_image", 50)
	v.SetDefault("upload.max_size_document", 100)
	v.SetDefault("upload.session_expiry", time.Hour)
	v.SetDefault("upload.retention", 24*time.Hour)
	v.SetDefault("upload.size_tolerance", 0)

	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.max_attempts", 5)
	v.SetDefault("pipeline.lease_timeout", 10*time.Minute)
	v.SetDefault("pipeline.backoff_base", 30*time.Second)
	v.SetDefault("pipeline.backoff_cap", 15*time.Minute)
	v.SetDefault("pipeline.poll_interval", 5*time.Second)

	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("ffprobe.path", "ffprobe")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(v.ConfigFileNotFoundError); ok {
			return errors.New("config.toml file is missing")
		}

		return fmt.Errorf("failed to read config file, %w", err)
	}

	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if v.GetInt("host.port") <= 0 {
		return errors.New("invalid port provided")
	}

	if !slices.Contains(validDrivers, v.GetString("db.driver")) {
		return errors.New("invalid db driver provided")
	}

	if v.GetString("jwt.secret") == "" {
		return errors.New("jwt.secret can't be empty")
	}

	for _, k := range []string{"video", "audio", "image", "document"} {
		if v.GetInt64("upload.max_size_"+k) <= 0 {
			return fmt.Errorf("upload.max_size_%s must be bigger than 0", k)
		}
	}

	if v.GetDuration("upload.session_expiry") <= 0 {
		return errors.New("upload.session_expiry must be bigger than 0")
	}

	if v.GetInt("pipeline.workers") <= 0 {
		return errors.New("pipeline.workers must be bigger than 0")
	}

	if v.GetInt("pipeline.max_attempts") <= 0 {
		return errors.New("pipeline.max_attempts must be bigger than 0")
	}

	if v.GetDuration("pipeline.lease_timeout") <= 0 {
		return errors.New("pipeline.lease_timeout must be bigger than 0")
	}

	if v.GetDuration("pipeline.backoff_base") <= 0 || v.GetDuration("pipeline.backoff_cap") < v.GetDuration("pipeline.backoff_base") {
		return errors.New("invalid pipeline backoff window provided")
	}

	if v.GetString("storage.access_key_id") == "" {
		return errors.New("storage access key id can't be empty")
	}
	if v.GetString("storage.secret_access_key") == "" {
		return errors.New("storage secret access key can't be empty")
	}
	if v.GetString("storage.bucket") == "" {
		return errors.New("storage bucket can't be empty")
	}

	if v.GetString("cdn.base_url") == "" {
		zap.L().Warn("No cdn.base_url configured, media will be served directly from storage")
	}

	// Megabytes -> bytes
	for _, k := range []string{"video", "audio", "image", "document"} {
		v.Set("upload.max_size_"+k, v.GetInt64("upload.max_size_"+k)<<20)
	}

	return nil
}

// SweepOrphans reports whether the operator asked for an orphaned-pending
// sweep right after startup instead of waiting for the first periodic one.
func SweepOrphans() bool {
	return *sweepOrphans
}
