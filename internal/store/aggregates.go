package store

import (
	"database/sql"
	"math"

	"github.com/mattn/go-sqlite3"
)

// sqliteDriverName is registered once at package init with the
// weighted_avg/weighted_std_dev user-defined aggregates attached to every
// new connection. sql.Register panics on a duplicate name, but init runs
// once per process, so this is safe to import from multiple packages/tests.
const sqliteDriverName = "sqlite3_sensor"

func init() {
	sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterAggregator("weighted_avg", newWeightedAvg, true); err != nil {
				return err
			}
			return conn.RegisterAggregator("weighted_std_dev", newWeightedStdDev, true)
		},
	})
}

// weightedAvg implements weighted_avg(value, weight) → Σ(value·weight)/Σweight,
// skipping null pairs; null if total weight is zero.
type weightedAvg struct {
	sumWeighted float64
	sumWeight   float64
}

func newWeightedAvg() *weightedAvg { return &weightedAvg{} }

func (w *weightedAvg) Step(value, weight *float64) {
	if value == nil || weight == nil {
		return
	}
	w.sumWeighted += *value * *weight
	w.sumWeight += *weight
}

func (w *weightedAvg) Done() *float64 {
	if w.sumWeight == 0 {
		return nil
	}
	v := w.sumWeighted / w.sumWeight
	return &v
}

// weightedStdDev implements weighted_std_dev(stddev, weight) →
// √(Σ(stddev²·weight)/Σweight).
type weightedStdDev struct {
	sumWeighted float64
	sumWeight   float64
}

func newWeightedStdDev() *weightedStdDev { return &weightedStdDev{} }

func (w *weightedStdDev) Step(stdDev, weight *float64) {
	if stdDev == nil || weight == nil {
		return
	}
	w.sumWeighted += *stdDev * *stdDev * *weight
	w.sumWeight += *weight
}

func (w *weightedStdDev) Done() *float64 {
	if w.sumWeight == 0 {
		return nil
	}
	v := math.Sqrt(w.sumWeighted / w.sumWeight)
	return &v
}
