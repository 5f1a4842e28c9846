package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wifiology/sensor/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Store.Path != ":memory:" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, ":memory:")
	}

	if cfg.Store.BusyTimeout != 60*time.Second {
		t.Errorf("Store.BusyTimeout = %v, want %v", cfg.Store.BusyTimeout, 60*time.Second)
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Capture.SampleSeconds != 10 {
		t.Errorf("Capture.SampleSeconds = %d, want %d", cfg.Capture.SampleSeconds, 10)
	}

	if cfg.Capture.Rounds != 0 {
		t.Errorf("Capture.Rounds = %d, want %d", cfg.Capture.Rounds, 0)
	}

	if cfg.Capture.HeartbeatTimeout != 5*time.Minute {
		t.Errorf("Capture.HeartbeatTimeout = %v, want %v", cfg.Capture.HeartbeatTimeout, 5*time.Minute)
	}

	if !cfg.Capture.AlwaysRestart {
		t.Error("Capture.AlwaysRestart = false, want true")
	}

	if cfg.Upload.BatchSize != 1 {
		t.Errorf("Upload.BatchSize = %d, want %d", cfg.Upload.BatchSize, 1)
	}

	if cfg.Upload.EmptySnooze != 30*time.Second {
		t.Errorf("Upload.EmptySnooze = %v, want %v", cfg.Upload.EmptySnooze, 30*time.Second)
	}

	if cfg.Janitor.MeasurementMaxAgeDays != 30 {
		t.Errorf("Janitor.MeasurementMaxAgeDays = %d, want %d", cfg.Janitor.MeasurementMaxAgeDays, 30)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
store:
  path: "/var/lib/wifiology/sensor.db"
  busy_timeout: "30s"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
capture:
  interface: "wlan1"
  tmp_dir: "/tmp/wifiology"
  sample_seconds: 15
  rounds: 5
  ignore_non_root: true
  heartbeat_timeout: "2m"
  always_restart: false
upload:
  base_url: "https://collector.example.com"
  node_id: 42
  api_key: "secret"
  batch_size: 10
  empty_snooze: "1m"
  request_timeout: "45s"
janitor:
  measurement_max_age_days: 7
  do_vacuum: true
  do_optimize: true
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Store.Path != "/var/lib/wifiology/sensor.db" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, "/var/lib/wifiology/sensor.db")
	}

	if cfg.Store.BusyTimeout != 30*time.Second {
		t.Errorf("Store.BusyTimeout = %v, want %v", cfg.Store.BusyTimeout, 30*time.Second)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Capture.Interface != "wlan1" {
		t.Errorf("Capture.Interface = %q, want %q", cfg.Capture.Interface, "wlan1")
	}

	if cfg.Capture.SampleSeconds != 15 {
		t.Errorf("Capture.SampleSeconds = %d, want %d", cfg.Capture.SampleSeconds, 15)
	}

	if cfg.Capture.Rounds != 5 {
		t.Errorf("Capture.Rounds = %d, want %d", cfg.Capture.Rounds, 5)
	}

	if !cfg.Capture.IgnoreNonRoot {
		t.Error("Capture.IgnoreNonRoot = false, want true")
	}

	if cfg.Capture.HeartbeatTimeout != 2*time.Minute {
		t.Errorf("Capture.HeartbeatTimeout = %v, want %v", cfg.Capture.HeartbeatTimeout, 2*time.Minute)
	}

	if cfg.Capture.AlwaysRestart {
		t.Error("Capture.AlwaysRestart = true, want false")
	}

	if cfg.Upload.BaseURL != "https://collector.example.com" {
		t.Errorf("Upload.BaseURL = %q, want %q", cfg.Upload.BaseURL, "https://collector.example.com")
	}

	if cfg.Upload.NodeID != 42 {
		t.Errorf("Upload.NodeID = %d, want %d", cfg.Upload.NodeID, 42)
	}

	if cfg.Upload.APIKey != "secret" {
		t.Errorf("Upload.APIKey = %q, want %q", cfg.Upload.APIKey, "secret")
	}

	if cfg.Upload.BatchSize != 10 {
		t.Errorf("Upload.BatchSize = %d, want %d", cfg.Upload.BatchSize, 10)
	}

	if cfg.Janitor.MeasurementMaxAgeDays != 7 {
		t.Errorf("Janitor.MeasurementMaxAgeDays = %d, want %d", cfg.Janitor.MeasurementMaxAgeDays, 7)
	}

	if !cfg.Janitor.DoVacuum {
		t.Error("Janitor.DoVacuum = false, want true")
	}

	if !cfg.Janitor.DoOptimize {
		t.Error("Janitor.DoOptimize = false, want true")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override capture.interface and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
capture:
  interface: "wlan0"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Capture.Interface != "wlan0" {
		t.Errorf("Capture.Interface = %q, want %q", cfg.Capture.Interface, "wlan0")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Capture.SampleSeconds != 10 {
		t.Errorf("Capture.SampleSeconds = %d, want default %d", cfg.Capture.SampleSeconds, 10)
	}

	if cfg.Upload.BatchSize != 1 {
		t.Errorf("Upload.BatchSize = %d, want default %d", cfg.Upload.BatchSize, 1)
	}

	if cfg.Janitor.MeasurementMaxAgeDays != 30 {
		t.Errorf("Janitor.MeasurementMaxAgeDays = %d, want default %d", cfg.Janitor.MeasurementMaxAgeDays, 30)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty store path",
			modify: func(cfg *config.Config) {
				cfg.Store.Path = ""
			},
			wantErr: config.ErrEmptyStorePath,
		},
		{
			name: "zero busy timeout",
			modify: func(cfg *config.Config) {
				cfg.Store.BusyTimeout = 0
			},
			wantErr: config.ErrInvalidBusyTimeout,
		},
		{
			name: "negative busy timeout",
			modify: func(cfg *config.Config) {
				cfg.Store.BusyTimeout = -1 * time.Second
			},
			wantErr: config.ErrInvalidBusyTimeout,
		},
		{
			name: "zero sample seconds",
			modify: func(cfg *config.Config) {
				cfg.Capture.SampleSeconds = 0
			},
			wantErr: config.ErrInvalidSampleSeconds,
		},
		{
			name: "negative rounds",
			modify: func(cfg *config.Config) {
				cfg.Capture.Rounds = -1
			},
			wantErr: config.ErrInvalidRounds,
		},
		{
			name: "zero batch size",
			modify: func(cfg *config.Config) {
				cfg.Upload.BatchSize = 0
			},
			wantErr: config.ErrInvalidBatchSize,
		},
		{
			name: "zero max age days",
			modify: func(cfg *config.Config) {
				cfg.Janitor.MeasurementMaxAgeDays = 0
			},
			wantErr: config.ErrInvalidMaxAgeDays,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}

	if cfg.Store.Path != ":memory:" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, ":memory:")
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
capture:
  interface: "wlan0"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("WIFIOLOGY_CAPTURE_INTERFACE", "wlan2")
	t.Setenv("WIFIOLOGY_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Capture.Interface != "wlan2" {
		t.Errorf("Capture.Interface = %q, want %q (from env)", cfg.Capture.Interface, "wlan2")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesUpload(t *testing.T) {
	yamlContent := `
upload:
  base_url: "https://default.example.com"
  batch_size: 1
`
	path := writeTemp(t, yamlContent)

	t.Setenv("WIFIOLOGY_UPLOAD_API_KEY", "env-key")
	t.Setenv("WIFIOLOGY_UPLOAD_BATCH_SIZE", "25")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Upload.APIKey != "env-key" {
		t.Errorf("Upload.APIKey = %q, want %q (from env)", cfg.Upload.APIKey, "env-key")
	}

	if cfg.Upload.BatchSize != 25 {
		t.Errorf("Upload.BatchSize = %d, want %d (from env)", cfg.Upload.BatchSize, 25)
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "sensor.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
