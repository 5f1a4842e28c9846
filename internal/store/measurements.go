package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wifiology/sensor/internal/model"
)

func marshalExtra(extra map[string]any) (any, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("store: marshal extraData: %w", err)
	}
	return string(b), nil
}

func unmarshalExtra(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, fmt.Errorf("store: unmarshal extraData: %w", err)
	}
	return out, nil
}

// InsertMeasurement inserts m and returns its surrogate id.
func InsertMeasurement(ctx context.Context, tx *sql.Tx, m model.Measurement) (int64, error) {
	extra, err := marshalExtra(m.ExtraData)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO measurement (startTime, endTime, duration, channel, averageNoise, stdDevNoise, hasBeenUploaded, extraData)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		m.StartTime, m.EndTime, m.Duration, m.Channel, m.AverageNoise, m.StdDevNoise, extra,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert measurement: %w", err)
	}
	return res.LastInsertId()
}

// InsertStation inserts a new station row and returns its id. Callers that
// want upsert-by-mac semantics should use UpsertStationByMAC.
func InsertStation(ctx context.Context, tx *sql.Tx, s model.Station) (int64, error) {
	extra, err := marshalExtra(s.ExtraData)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO station (macAddress, extraData) VALUES (?, ?)`, s.MACAddress, extra)
	if err != nil {
		return 0, fmt.Errorf("store: insert station: %w", err)
	}
	return res.LastInsertId()
}

// UpsertStationByMAC returns the id of the station with the given MAC,
// inserting a new row first if none exists.
func UpsertStationByMAC(ctx context.Context, tx *sql.Tx, mac string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM station WHERE macAddress = ?`, mac).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case err == sql.ErrNoRows:
		return InsertStation(ctx, tx, model.Station{MACAddress: mac})
	default:
		return 0, fmt.Errorf("store: select station by mac: %w", err)
	}
}

// InsertServiceSet inserts a new serviceSet row and returns its id.
func InsertServiceSet(ctx context.Context, tx *sql.Tx, ss model.ServiceSet) (int64, error) {
	extra, err := marshalExtra(ss.ExtraData)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO serviceSet (bssid, ssid, hasSSID, extraData) VALUES (?, ?, ?, ?)`,
		ss.BSSID, ss.SSID, ss.HasSSID, extra,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert service set: %w", err)
	}
	return res.LastInsertId()
}

// UpsertServiceSetByBSSID returns the id of the serviceSet with the given
// BSSID, inserting a bare row first if none exists.
func UpsertServiceSetByBSSID(ctx context.Context, tx *sql.Tx, bssid string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM serviceSet WHERE bssid = ?`, bssid).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case err == sql.ErrNoRows:
		return InsertServiceSet(ctx, tx, model.ServiceSet{BSSID: bssid})
	default:
		return 0, fmt.Errorf("store: select service set by bssid: %w", err)
	}
}

// UpdateServiceSetNetworkName sets bssid's SSID, a no-op if it already
// equals ssid.
func UpdateServiceSetNetworkName(ctx context.Context, tx *sql.Tx, bssid string, ssid []byte) error {
	var existing sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT ssid FROM serviceSet WHERE bssid = ?`, bssid).Scan(&existing)
	if err != nil {
		return fmt.Errorf("store: select service set ssid: %w", err)
	}
	if existing.Valid && existing.String == string(ssid) {
		return nil
	}
	_, err = tx.ExecContext(ctx, `UPDATE serviceSet SET ssid = ?, hasSSID = 1 WHERE bssid = ?`, ssid, bssid)
	if err != nil {
		return fmt.Errorf("store: update service set ssid: %w", err)
	}
	return nil
}

// InsertMeasurementStation writes one (measurement, station) counters row.
func InsertMeasurementStation(ctx context.Context, tx *sql.Tx, measurementID, stationID int64, c model.DataCounters) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO measurementStationMap (
			mapMeasurementID, mapStationID,
			managementFrameCount, associationFrameCount, reassociationFrameCount, disassociationFrameCount,
			controlFrameCount, rtsFrameCount, ctsFrameCount, ackFrameCount,
			dataFrameCount, retryFrameCount, dataThroughputIn, dataThroughputOut, failedFCSCount,
			averagePower, stdDevPower, lowestRate, highestRate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		measurementID, stationID,
		c.ManagementFrameCount, c.AssociationFrameCount, c.ReassociationFrameCount, c.DisassociationFrameCount,
		c.ControlFrameCount, c.RTSFrameCount, c.CTSFrameCount, c.ACKFrameCount,
		c.DataFrameCount, c.RetryFrameCount, c.DataThroughputIn, c.DataThroughputOut, c.FailedFCSCount,
		c.AveragePower(), c.StdDevPower(), c.LowestRate(), c.HighestRate(),
	)
	if err != nil {
		return fmt.Errorf("store: insert measurement station: %w", err)
	}
	return nil
}

// InsertServiceSetInfrastructureStation links bssid's AP-side MAC to a
// measurement. Silently no-ops if either id resolves to nothing.
func InsertServiceSetInfrastructureStation(ctx context.Context, tx *sql.Tx, measurementID, serviceSetID, stationID int64) error {
	if serviceSetID == 0 || stationID == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO infrastructureStationServiceSetMap (mapMeasurementID, mapServiceSetID, mapStationID)
		VALUES (?, ?, ?)`, measurementID, serviceSetID, stationID)
	if err != nil {
		return fmt.Errorf("store: insert infra station map: %w", err)
	}
	return nil
}

// InsertServiceSetAssociatedStation links bssid's client-side MAC to a
// measurement. Silently no-ops if either id resolves to nothing.
func InsertServiceSetAssociatedStation(ctx context.Context, tx *sql.Tx, measurementID, serviceSetID, stationID int64) error {
	if serviceSetID == 0 || stationID == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO associationStationServiceSetMap (mapMeasurementID, mapServiceSetID, mapStationID)
		VALUES (?, ?, ?)`, measurementID, serviceSetID, stationID)
	if err != nil {
		return fmt.Errorf("store: insert associated station map: %w", err)
	}
	return nil
}

// InsertJitterMeasurement persists j, base64-encoding its HDR histogram.
func InsertJitterMeasurement(ctx context.Context, tx *sql.Tx, j model.JitterMeasurement) error {
	histogram, err := model.EncodeHistogramBase64(j.Histogram)
	if err != nil {
		return fmt.Errorf("store: encode jitter histogram: %w", err)
	}
	extra, err := marshalExtra(j.ExtraData)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO serviceSetJitterMeasurement (
			mapMeasurementID, mapServiceSetID, beaconInterval, minJitter, maxJitter, avgJitter, stdDevJitter,
			badIntervals, histogram, extraData
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.MeasurementID, j.ServiceSetID, j.BeaconInterval, j.MinJitter, j.MaxJitter, j.AvgJitter, j.StdDevJitter,
		j.BadIntervals, histogram, extra,
	)
	if err != nil {
		return fmt.Errorf("store: insert jitter measurement: %w", err)
	}
	return nil
}

// Queryer is satisfied by both *sql.DB and *sql.Tx, letting read queries
// run either standalone or inside the uploader's single deferred
// transaction.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SelectMeasurementsThatNeedUpload returns up to limit un-uploaded
// measurements, ordered by start time ascending.
func SelectMeasurementsThatNeedUpload(ctx context.Context, db Queryer, limit int) ([]model.Measurement, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, startTime, endTime, duration, channel, averageNoise, stdDevNoise, hasBeenUploaded, extraData
		FROM measurement
		WHERE hasBeenUploaded = 0
		ORDER BY startTime ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select measurements that need upload: %w", err)
	}
	return scanMeasurements(rows)
}

// ListMeasurements returns one page of measurements, newest first, the
// window the read-only dashboard pages through. The ORDER BY column is
// fixed here, never caller supplied.
func ListMeasurements(ctx context.Context, db Queryer, p Page) ([]model.Measurement, error) {
	p = p.normalized()
	rows, err := db.QueryContext(ctx, `
		SELECT id, startTime, endTime, duration, channel, averageNoise, stdDevNoise, hasBeenUploaded, extraData
		FROM measurement
		ORDER BY startTime DESC
		LIMIT ? OFFSET ?`, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("store: list measurements: %w", err)
	}
	return scanMeasurements(rows)
}

func scanMeasurements(rows *sql.Rows) ([]model.Measurement, error) {
	defer rows.Close()

	var out []model.Measurement
	for rows.Next() {
		var m model.Measurement
		var extra sql.NullString
		if err := rows.Scan(&m.ID, &m.StartTime, &m.EndTime, &m.Duration, &m.Channel, &m.AverageNoise, &m.StdDevNoise, &m.HasBeenUploaded, &extra); err != nil {
			return nil, fmt.Errorf("store: scan measurement: %w", err)
		}
		var err error
		m.ExtraData, err = unmarshalExtra(extra)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMeasurementsNeedingUpload returns the current un-uploaded backlog
// size; the uploader samples it into a gauge before each batch.
func CountMeasurementsNeedingUpload(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM measurement WHERE hasBeenUploaded = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count measurements that need upload: %w", err)
	}
	return n, nil
}

// UpdateMeasurementsUploadStatus batch-updates hasBeenUploaded for ids.
// Upload state is monotonic: callers never pass flag=false once a row is
// known uploaded.
func UpdateMeasurementsUploadStatus(ctx context.Context, tx *sql.Tx, ids []int64, flag bool) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := inClause(ids)
	args = append([]any{flag}, args...)
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE measurement SET hasBeenUploaded = ? WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("store: update upload status: %w", err)
	}
	return nil
}

// DeleteOldMeasurements deletes measurements (and, via ON DELETE CASCADE,
// their child map/jitter rows) whose startTime is older than
// now - days*86400 seconds, returning the affected row count.
func DeleteOldMeasurements(ctx context.Context, tx *sql.Tx, days int, now time.Time) (int64, error) {
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour).Unix()
	res, err := tx.ExecContext(ctx, `DELETE FROM measurement WHERE startTime < ?`, float64(cutoff))
	if err != nil {
		return 0, fmt.Errorf("store: delete old measurements: %w", err)
	}
	return res.RowsAffected()
}

func inClause(ids []int64) (string, []any) {
	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = id
	}
	return placeholders, args
}
