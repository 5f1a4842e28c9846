package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wifiology/sensor/internal/captureloop"
	"github.com/wifiology/sensor/internal/config"
	sensormetrics "github.com/wifiology/sensor/internal/metrics"
	"github.com/wifiology/sensor/internal/store"
	"github.com/wifiology/sensor/internal/watchdog"
)

// workerFlag re-invokes this binary as the watchdog's supervised child.
// It is hidden since it is never meant to be typed by an operator.
const workerFlag = "worker-child"

func captureCmd() *cobra.Command {
	var (
		sampleSeconds   int
		databaseLoc     string
		captureRounds   int
		ignoreNonRoot   bool
		dbTimeoutSecond int
		isWorker        bool
	)

	cmd := &cobra.Command{
		Use:   "capture <iface> <tmp_dir>",
		Short: "Run the monitor-mode capture loop, supervised by a watchdog",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			iface, tmpDir := args[0], args[1]

			capCfg := cfg.Capture
			capCfg.Interface = iface
			capCfg.TmpDir = tmpDir
			if sampleSeconds > 0 {
				capCfg.SampleSeconds = sampleSeconds
			}
			capCfg.Rounds = captureRounds
			capCfg.IgnoreNonRoot = capCfg.IgnoreNonRoot || ignoreNonRoot

			if databaseLoc != "" {
				cfg.Store.Path = databaseLoc
			}
			if dbTimeoutSecond > 0 {
				cfg.Store.BusyTimeout = time.Duration(dbTimeoutSecond) * time.Second
			}

			if err := checkRootPrivileges(capCfg.IgnoreNonRoot, logger); err != nil {
				return err
			}

			if isWorker {
				return runCaptureWorker(capCfg, cfg.Store, cfg.Metrics)
			}
			return runCaptureSupervisor(capCfg)
		},
	}

	cmd.Flags().IntVar(&sampleSeconds, "sample-seconds", 0, "per-channel dwell time in seconds")
	cmd.Flags().StringVar(&databaseLoc, "database-loc", "", "store file path (overrides config)")
	cmd.Flags().IntVar(&captureRounds, "capture-rounds", 0, "number of capture rounds before exiting (0 = forever)")
	cmd.Flags().BoolVar(&ignoreNonRoot, "ignore-non-root", false, "proceed without effective uid 0")
	cmd.Flags().IntVar(&dbTimeoutSecond, "db-timeout-seconds", 0, "store busy timeout in seconds (overrides config)")
	cmd.Flags().BoolVar(&isWorker, workerFlag, false, "internal: run as the watchdog's supervised worker")
	_ = cmd.Flags().MarkHidden(workerFlag)

	return cmd
}

// checkRootPrivileges requires effective uid 0 unless --ignore-non-root
// was supplied, in which case a warning is emitted and capture proceeds.
func checkRootPrivileges(ignoreNonRoot bool, logger *slog.Logger) error {
	if os.Geteuid() == 0 {
		return nil
	}
	if !ignoreNonRoot {
		return fmt.Errorf("capture requires effective uid 0 (use --ignore-non-root to override)")
	}
	logger.Warn("capture running without root privileges; monitor-mode setup may fail")
	return nil
}

// runCaptureSupervisor re-execs this binary with workerFlag set, and
// supervises it via watchdog.Supervisor.
func runCaptureSupervisor(capCfg config.CaptureConfig) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	workerArgs := append(append([]string{}, os.Args[1:]...), "--"+workerFlag)

	sup := watchdog.New(watchdog.Config{
		HeartbeatTimeout: capCfg.HeartbeatTimeout,
		AlwaysRestart:    capCfg.AlwaysRestart,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = sup.Run(ctx, exe, workerArgs)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// runCaptureWorker runs the capture loop itself, emitting a Prometheus
// metrics endpoint and heartbeating to the supervisor over fd 3.
func runCaptureWorker(capCfg config.CaptureConfig, storeCfg config.StoreConfig, metricsCfg config.MetricsConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, storeCfg.Path, storeCfg.BusyTimeout, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	collector := sensormetrics.NewCollector(reg)

	heartbeat := heartbeatWriter()

	loop := captureloop.New(capCfg, st, collector, heartbeat, logger)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gCtx)
	})
	g.Go(func() error {
		return serveMetrics(gCtx, metricsCfg, reg, logger)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("capture worker: %w", err)
	}
	return nil
}

// heartbeatWriter returns a captureloop.Heartbeat that writes one byte to
// the fd the watchdog inherited its pipe's write end on; a no-op if fd 3
// isn't a valid pipe (e.g. running capture interactively, unsupervised).
func heartbeatWriter() captureloop.Heartbeat {
	f := os.NewFile(uintptr(watchdog.HeartbeatFD), "heartbeat")
	if f == nil {
		return func() {}
	}
	return func() {
		_, _ = f.Write([]byte{'.'})
	}
}

// serveMetrics runs the Prometheus metrics HTTP endpoint until ctx is
// canceled.
func serveMetrics(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", slog.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}
