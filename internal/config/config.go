// Package config loads the sensor's configuration using koanf/v2: a Config
// struct of nested koanf-tagged stanzas, loaded from a YAML file and
// environment variables on top of built-in defaults, with CLI flags applied
// last by the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete sensor configuration shared by the capture,
// upload, and janitor CLI surfaces.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Store   StoreConfig   `koanf:"store"`
	Metrics MetricsConfig `koanf:"metrics"`
	Capture CaptureConfig `koanf:"capture"`
	Upload  UploadConfig  `koanf:"upload"`
	Janitor JanitorConfig `koanf:"janitor"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// StoreConfig holds the embedded relational store's connection settings.
type StoreConfig struct {
	// Path is the store file location, or ":memory:" for tests.
	Path string `koanf:"path"`
	// BusyTimeout absorbs lock contention between the capture worker,
	// uploader, and janitor, which share the one store file.
	BusyTimeout time.Duration `koanf:"busy_timeout"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// CaptureConfig holds the capture daemon's settings.
type CaptureConfig struct {
	// Interface is the wireless interface to place in monitor mode.
	Interface string `koanf:"interface"`
	// TmpDir is where per-channel pcap files are written and unlinked.
	TmpDir string `koanf:"tmp_dir"`
	// SampleSeconds is the per-channel dwell time.
	SampleSeconds int `koanf:"sample_seconds"`
	// Rounds is the number of capture rounds to run before exiting; 0
	// runs forever.
	Rounds int `koanf:"rounds"`
	// IgnoreNonRoot allows capture to proceed without euid 0.
	IgnoreNonRoot bool `koanf:"ignore_non_root"`
	// HeartbeatTimeout is the watchdog's stall detection window.
	HeartbeatTimeout time.Duration `koanf:"heartbeat_timeout"`
	// AlwaysRestart selects the watchdog's death policy: true respawns a
	// fresh worker, false exits with the worker's code.
	AlwaysRestart bool `koanf:"always_restart"`
}

// UploadConfig holds the uploader's settings.
type UploadConfig struct {
	// BaseURL is the central collector's base URL.
	BaseURL string `koanf:"base_url"`
	// NodeID identifies this sensor to the collector.
	NodeID int64 `koanf:"node_id"`
	// APIKey authenticates requests via the X-API-Key header.
	APIKey string `koanf:"api_key"`
	// BatchSize bounds how many measurements are pulled per upload call.
	BatchSize int `koanf:"batch_size"`
	// EmptySnooze is the pause between rounds when a batch was empty.
	EmptySnooze time.Duration `koanf:"empty_snooze"`
	// RequestTimeout bounds each HTTP POST to the collector.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// JanitorConfig holds the janitor's settings.
type JanitorConfig struct {
	// MeasurementMaxAgeDays is the deletion TTL in days.
	MeasurementMaxAgeDays int `koanf:"measurement_max_age_days"`
	// DoVacuum runs VACUUM after deletion.
	DoVacuum bool `koanf:"do_vacuum"`
	// DoOptimize runs an engine OPTIMIZE pass after deletion.
	DoOptimize bool `koanf:"do_optimize"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the same defaults as the
// original CLI's argparse defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Path:        ":memory:",
			BusyTimeout: 60 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Capture: CaptureConfig{
			SampleSeconds:    10,
			Rounds:           0,
			IgnoreNonRoot:    false,
			HeartbeatTimeout: 5 * time.Minute,
			AlwaysRestart:    true,
		},
		Upload: UploadConfig{
			BatchSize:      1,
			EmptySnooze:    30 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Janitor: JanitorConfig{
			MeasurementMaxAgeDays: 30,
			DoVacuum:              false,
			DoOptimize:            false,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for sensor configuration.
// Variables are named WIFIOLOGY_<section>_<key>, e.g. WIFIOLOGY_UPLOAD_API_KEY.
const envPrefix = "WIFIOLOGY_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (WIFIOLOGY_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. CLI flags are applied
// by the caller afterward (cmd/wifiology-sensor/commands) as the final,
// explicit layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms WIFIOLOGY_UPLOAD_API_KEY -> upload.api_key.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	// Only the first underscore separates section from key; the rest belong
	// to the key itself (api_key, batch_size, ...).
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"log.level":                        defaults.Log.Level,
		"log.format":                       defaults.Log.Format,
		"store.path":                       defaults.Store.Path,
		"store.busy_timeout":               defaults.Store.BusyTimeout.String(),
		"metrics.addr":                     defaults.Metrics.Addr,
		"metrics.path":                     defaults.Metrics.Path,
		"capture.interface":                defaults.Capture.Interface,
		"capture.tmp_dir":                  defaults.Capture.TmpDir,
		"capture.sample_seconds":           defaults.Capture.SampleSeconds,
		"capture.rounds":                   defaults.Capture.Rounds,
		"capture.ignore_non_root":          defaults.Capture.IgnoreNonRoot,
		"capture.heartbeat_timeout":        defaults.Capture.HeartbeatTimeout.String(),
		"capture.always_restart":           defaults.Capture.AlwaysRestart,
		"upload.base_url":                  defaults.Upload.BaseURL,
		"upload.node_id":                   defaults.Upload.NodeID,
		"upload.api_key":                   defaults.Upload.APIKey,
		"upload.batch_size":                defaults.Upload.BatchSize,
		"upload.empty_snooze":              defaults.Upload.EmptySnooze.String(),
		"upload.request_timeout":           defaults.Upload.RequestTimeout.String(),
		"janitor.measurement_max_age_days": defaults.Janitor.MeasurementMaxAgeDays,
		"janitor.do_vacuum":                defaults.Janitor.DoVacuum,
		"janitor.do_optimize":              defaults.Janitor.DoOptimize,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyStorePath indicates the store path is empty.
	ErrEmptyStorePath = errors.New("store.path must not be empty")

	// ErrInvalidBusyTimeout indicates a non-positive store busy timeout.
	ErrInvalidBusyTimeout = errors.New("store.busy_timeout must be > 0")

	// ErrInvalidSampleSeconds indicates a non-positive capture dwell time.
	ErrInvalidSampleSeconds = errors.New("capture.sample_seconds must be > 0")

	// ErrInvalidRounds indicates a negative capture rounds count.
	ErrInvalidRounds = errors.New("capture.rounds must be >= 0")

	// ErrInvalidBatchSize indicates a non-positive upload batch size.
	ErrInvalidBatchSize = errors.New("upload.batch_size must be > 0")

	// ErrInvalidMaxAgeDays indicates a non-positive janitor TTL.
	ErrInvalidMaxAgeDays = errors.New("janitor.measurement_max_age_days must be > 0")
)

// Validate checks the configuration for logical errors. Returns the first
// validation error encountered. Per-command requirements (e.g. capture's
// interface, upload's base_url/node_id) are validated by the owning CLI
// command, not here, since a single Config may be loaded for any of the
// three surfaces.
func Validate(cfg *Config) error {
	if cfg.Store.Path == "" {
		return ErrEmptyStorePath
	}
	if cfg.Store.BusyTimeout <= 0 {
		return ErrInvalidBusyTimeout
	}
	if cfg.Capture.SampleSeconds <= 0 {
		return ErrInvalidSampleSeconds
	}
	if cfg.Capture.Rounds < 0 {
		return ErrInvalidRounds
	}
	if cfg.Upload.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if cfg.Janitor.MeasurementMaxAgeDays <= 0 {
		return ErrInvalidMaxAgeDays
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
