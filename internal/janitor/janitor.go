// Package janitor deletes measurements past a retention window and
// optionally reclaims space with an engine OPTIMIZE/VACUUM pass.
package janitor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sensormetrics "github.com/wifiology/sensor/internal/metrics"
	"github.com/wifiology/sensor/internal/store"
)

// Config tunes one cleaning pass.
type Config struct {
	MeasurementMaxAgeDays int
	DoVacuum              bool
	DoOptimize            bool
}

// Janitor runs age-based cascade deletion against a store, using the
// immediate-lock transaction wrapper so deletion serializes against a
// concurrent capture commit.
type Janitor struct {
	cfg     Config
	store   *store.Store
	metrics *sensormetrics.Collector
	logger  *slog.Logger
}

// New builds a Janitor.
func New(cfg Config, st *store.Store, metrics *sensormetrics.Collector, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{cfg: cfg, store: st, metrics: metrics, logger: logger}
}

// Clean deletes measurements older than cfg.MeasurementMaxAgeDays (cascading
// to their station/service-set/jitter rows via ON DELETE CASCADE), then
// optionally runs PRAGMA optimize and VACUUM. It logs the deleted row
// count.
func (j *Janitor) Clean(ctx context.Context, now time.Time) error {
	var deleted int64
	err := j.store.ImmediateTx(ctx, func(tx *sql.Tx) error {
		n, err := store.DeleteOldMeasurements(ctx, tx, j.cfg.MeasurementMaxAgeDays, now)
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return fmt.Errorf("janitor: delete old measurements: %w", err)
	}

	j.logger.Info("janitor: deleted measurements",
		slog.Int64("count", deleted),
		slog.Int("max_age_days", j.cfg.MeasurementMaxAgeDays))
	if j.metrics != nil {
		j.metrics.AddJanitorDeletions(deleted)
	}

	// VACUUM cannot run inside a transaction; run it (and the OPTIMIZE pass
	// that should precede it) directly against the read-path handle once
	// the deletion has committed.
	if j.cfg.DoOptimize {
		if _, err := j.store.DB().ExecContext(ctx, "PRAGMA optimize;"); err != nil {
			return fmt.Errorf("janitor: optimize: %w", err)
		}
	}
	if j.cfg.DoVacuum {
		if _, err := j.store.DB().ExecContext(ctx, "VACUUM;"); err != nil {
			return fmt.Errorf("janitor: vacuum: %w", err)
		}
	}
	return nil
}
