// Package commands implements the wifiology-sensor CLI: capture, upload,
// and janitor subcommands, each a thin cobra wrapper over the
// corresponding internal package, sharing one layered config load and one
// structured logger set up by the root command.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wifiology/sensor/internal/config"
)

var (
	// configPath is the optional YAML config file overlaid on defaults.
	configPath string

	// verbose forces debug-level logging regardless of config.
	verbose bool

	// logPath, when non-empty, directs log output to a file instead of
	// stderr.
	logPath string

	// cfg is the loaded configuration, populated in PersistentPreRunE.
	cfg *config.Config

	// logger is the shared structured logger, populated in
	// PersistentPreRunE.
	logger *slog.Logger

	// logLevel is the dynamic level behind every handler, so a SIGHUP
	// reload can change verbosity without restarting the process.
	logLevel = new(slog.LevelVar)
)

// rootCmd is the top-level cobra command for wifiology-sensor.
var rootCmd = &cobra.Command{
	Use:   "wifiology-sensor",
	Short: "Wi-Fi monitor-mode sensor: capture, upload, and retention tooling",
	Long:  "wifiology-sensor captures 802.11 frames in monitor mode, persists aggregated measurements locally, and ships them to a central collector.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			loaded.Log.Level = "debug"
		}
		cfg = loaded
		logger = newLogger(cfg.Log, logPath)
		watchLogLevel()
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&logPath, "log", "l", "", "log file path (default: stderr)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "force debug-level logging")

	rootCmd.AddCommand(captureCmd())
	rootCmd.AddCommand(uploadCmd())
	rootCmd.AddCommand(janitorCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the shared slog.Logger, writing JSON/text per
// cfg.Format to either path or stderr. The handler reads its level from
// logLevel so a later SIGHUP reload takes effect on the live logger.
func newLogger(cfg config.LogConfig, path string) *slog.Logger {
	out := os.Stderr
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			out = f
		} else {
			fmt.Fprintf(os.Stderr, "wifiology-sensor: open log file %s: %v, falling back to stderr\n", path, err)
		}
	}

	logLevel.Set(config.ParseLogLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

// watchLogLevel re-reads the config file on SIGHUP and applies its log
// level to the running process. The -v flag pins debug level, so reloads
// are ignored while it is set.
func watchLogLevel() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		for range ch {
			if verbose {
				continue
			}
			loaded, err := config.Load(configPath)
			if err != nil {
				logger.Warn("config reload failed", slog.String("error", err.Error()))
				continue
			}
			logLevel.Set(config.ParseLogLevel(loaded.Log.Level))
			logger.Info("log level reloaded", slog.String("level", loaded.Log.Level))
		}
	}()
}
