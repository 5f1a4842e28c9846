package commands

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	sensormetrics "github.com/wifiology/sensor/internal/metrics"
	"github.com/wifiology/sensor/internal/store"
	"github.com/wifiology/sensor/internal/uploader"
)

func uploadCmd() *cobra.Command {
	var (
		batchSize       int
		dbTimeoutSecond int
	)

	cmd := &cobra.Command{
		Use:   "upload <db> <base_url> <node_id> <api_key>",
		Short: "Pull unshipped measurements and upload them to the central collector",
		Args:  cobra.ExactArgs(4),
		RunE: func(_ *cobra.Command, args []string) error {
			dbPath, baseURL, nodeIDStr, apiKey := args[0], args[1], args[2], args[3]

			nodeID, err := strconv.ParseInt(nodeIDStr, 10, 64)
			if err != nil {
				return fmt.Errorf("parse node_id %q: %w", nodeIDStr, err)
			}

			upCfg := cfg.Upload
			upCfg.BaseURL = baseURL
			upCfg.NodeID = nodeID
			upCfg.APIKey = apiKey
			if batchSize > 0 {
				upCfg.BatchSize = batchSize
			}

			busyTimeout := cfg.Store.BusyTimeout
			if dbTimeoutSecond > 0 {
				busyTimeout = time.Duration(dbTimeoutSecond) * time.Second
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := store.Open(ctx, dbPath, busyTimeout, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			reg := prometheus.NewRegistry()
			collector := sensormetrics.NewCollector(reg)

			u := uploader.New(uploader.Config{
				BaseURL:        upCfg.BaseURL,
				NodeID:         upCfg.NodeID,
				APIKey:         upCfg.APIKey,
				BatchSize:      upCfg.BatchSize,
				RequestTimeout: upCfg.RequestTimeout,
			}, st, nil, collector, logger)

			err = u.Run(ctx, upCfg.EmptySnooze)
			if ctx.Err() != nil {
				// A termination signal is a clean stop, not an unhandled fault.
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "max measurements uploaded per batch (overrides config)")
	cmd.Flags().IntVar(&dbTimeoutSecond, "db-timeout-seconds", 0, "store busy timeout in seconds (overrides config)")

	return cmd
}
