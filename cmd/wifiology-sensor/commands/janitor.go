package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wifiology/sensor/internal/janitor"
	sensormetrics "github.com/wifiology/sensor/internal/metrics"
	"github.com/wifiology/sensor/internal/store"
)

func janitorCmd() *cobra.Command {
	var (
		maxAgeDays      int
		doVacuum        bool
		doOptimize      bool
		dbTimeoutSecond int
	)

	cmd := &cobra.Command{
		Use:   "janitor <db>",
		Short: "Delete measurements past their retention window",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dbPath := args[0]

			jCfg := cfg.Janitor
			if maxAgeDays > 0 {
				jCfg.MeasurementMaxAgeDays = maxAgeDays
			}
			jCfg.DoVacuum = jCfg.DoVacuum || doVacuum
			jCfg.DoOptimize = jCfg.DoOptimize || doOptimize

			busyTimeout := cfg.Store.BusyTimeout
			if dbTimeoutSecond > 0 {
				busyTimeout = time.Duration(dbTimeoutSecond) * time.Second
			}

			ctx := context.Background()

			st, err := store.Open(ctx, dbPath, busyTimeout, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			reg := prometheus.NewRegistry()
			collector := sensormetrics.NewCollector(reg)

			j := janitor.New(janitor.Config{
				MeasurementMaxAgeDays: jCfg.MeasurementMaxAgeDays,
				DoVacuum:              jCfg.DoVacuum,
				DoOptimize:            jCfg.DoOptimize,
			}, st, collector, logger)

			return j.Clean(ctx, time.Now())
		},
	}

	cmd.Flags().IntVar(&maxAgeDays, "measurement-max-age-days", 0, "delete measurements older than this many days (overrides config)")
	cmd.Flags().BoolVar(&doVacuum, "do-vacuum", false, "run VACUUM after deletion")
	cmd.Flags().BoolVar(&doOptimize, "do-optimize", false, "run PRAGMA optimize after deletion")
	cmd.Flags().IntVar(&dbTimeoutSecond, "db-timeout-seconds", 0, "store busy timeout in seconds (overrides config)")

	return cmd
}
