package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wifiology/sensor/internal/model"
)

// StationCounterRow is one station's counters within a measurement,
// resolved to its MAC address (the uploader's payload is keyed by MAC, not
// the internal surrogate id).
type StationCounterRow struct {
	MAC      string
	Counters model.DataCounters
}

// JitterRow is a read-back jitter measurement resolved to its BSSID, with
// the HDR histogram left in its persisted base64 form; the uploader ships
// it unchanged rather than decoding and re-encoding.
type JitterRow struct {
	BSSID           string
	BeaconInterval  uint16
	MinJitter       float64
	MaxJitter       float64
	AvgJitter       float64
	StdDevJitter    float64
	BadIntervals    bool
	HistogramBase64 string
}

// MeasurementDetail is everything the upload payload needs for one
// measurement: the measurement row, per-station counters, the service
// sets it touched with their infra/associated MAC sets, and its
// per-BSSID jitter measurements.
type MeasurementDetail struct {
	Measurement           model.Measurement
	Stations              []StationCounterRow
	ServiceSets           []model.ServiceSet
	InfraMacsByBSSID      map[string][]string
	AssociatedMacsByBSSID map[string][]string
	Jitter                []JitterRow
}

// LoadMeasurementDetail gathers everything SelectMeasurementsThatNeedUpload
// found for one measurement id, read-only: the stations with their
// counters, the service sets with their infra/associated MAC sets, and
// the jitter records.
func LoadMeasurementDetail(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, m model.Measurement) (MeasurementDetail, error) {
	detail := MeasurementDetail{
		Measurement:           m,
		InfraMacsByBSSID:      make(map[string][]string),
		AssociatedMacsByBSSID: make(map[string][]string),
	}

	stationRows, err := q.QueryContext(ctx, `
		SELECT s.macAddress,
			msm.managementFrameCount, msm.associationFrameCount, msm.reassociationFrameCount, msm.disassociationFrameCount,
			msm.controlFrameCount, msm.rtsFrameCount, msm.ctsFrameCount, msm.ackFrameCount,
			msm.dataFrameCount, msm.retryFrameCount, msm.dataThroughputIn, msm.dataThroughputOut, msm.failedFCSCount,
			msm.averagePower, msm.stdDevPower, msm.lowestRate, msm.highestRate
		FROM measurementStationMap msm
		JOIN station s ON s.id = msm.mapStationID
		WHERE msm.mapMeasurementID = ?`, m.ID)
	if err != nil {
		return detail, fmt.Errorf("store: load measurement stations: %w", err)
	}
	defer stationRows.Close()

	for stationRows.Next() {
		var mac string
		var c model.DataCounters
		var avgPower, stdDevPower, lowestRate, highestRate sql.NullFloat64
		if err := stationRows.Scan(&mac,
			&c.ManagementFrameCount, &c.AssociationFrameCount, &c.ReassociationFrameCount, &c.DisassociationFrameCount,
			&c.ControlFrameCount, &c.RTSFrameCount, &c.CTSFrameCount, &c.ACKFrameCount,
			&c.DataFrameCount, &c.RetryFrameCount, &c.DataThroughputIn, &c.DataThroughputOut, &c.FailedFCSCount,
			&avgPower, &stdDevPower, &lowestRate, &highestRate,
		); err != nil {
			return detail, fmt.Errorf("store: scan measurement station: %w", err)
		}
		c = c.WithPrecomputedPower(nullFloatPtr(avgPower), nullFloatPtr(stdDevPower))
		c = c.WithPrecomputedRate(nullFloatPtr(lowestRate), nullFloatPtr(highestRate))
		detail.Stations = append(detail.Stations, StationCounterRow{MAC: mac, Counters: c})
	}
	if err := stationRows.Err(); err != nil {
		return detail, err
	}

	ssRows, err := q.QueryContext(ctx, `
		SELECT DISTINCT ss.bssid, ss.ssid, ss.hasSSID
		FROM serviceSet ss
		WHERE ss.id IN (
			SELECT mapServiceSetID FROM infrastructureStationServiceSetMap WHERE mapMeasurementID = ?
			UNION
			SELECT mapServiceSetID FROM associationStationServiceSetMap WHERE mapMeasurementID = ?
			UNION
			SELECT mapServiceSetID FROM serviceSetJitterMeasurement WHERE mapMeasurementID = ?
		)`, m.ID, m.ID, m.ID)
	if err != nil {
		return detail, fmt.Errorf("store: load measurement service sets: %w", err)
	}
	defer ssRows.Close()
	for ssRows.Next() {
		var ss model.ServiceSet
		if err := ssRows.Scan(&ss.BSSID, &ss.SSID, &ss.HasSSID); err != nil {
			return detail, fmt.Errorf("store: scan service set: %w", err)
		}
		detail.ServiceSets = append(detail.ServiceSets, ss)
	}
	if err := ssRows.Err(); err != nil {
		return detail, err
	}

	if err := loadMacSet(ctx, q, m.ID, "infrastructureStationServiceSetMap", detail.InfraMacsByBSSID); err != nil {
		return detail, err
	}
	if err := loadMacSet(ctx, q, m.ID, "associationStationServiceSetMap", detail.AssociatedMacsByBSSID); err != nil {
		return detail, err
	}

	jitterRows, err := q.QueryContext(ctx, `
		SELECT ss.bssid, j.beaconInterval, j.minJitter, j.maxJitter, j.avgJitter, j.stdDevJitter, j.badIntervals, j.histogram
		FROM serviceSetJitterMeasurement j
		JOIN serviceSet ss ON ss.id = j.mapServiceSetID
		WHERE j.mapMeasurementID = ?`, m.ID)
	if err != nil {
		return detail, fmt.Errorf("store: load jitter rows: %w", err)
	}
	defer jitterRows.Close()
	for jitterRows.Next() {
		var jr JitterRow
		if err := jitterRows.Scan(&jr.BSSID, &jr.BeaconInterval, &jr.MinJitter, &jr.MaxJitter, &jr.AvgJitter, &jr.StdDevJitter, &jr.BadIntervals, &jr.HistogramBase64); err != nil {
			return detail, fmt.Errorf("store: scan jitter row: %w", err)
		}
		detail.Jitter = append(detail.Jitter, jr)
	}
	return detail, jitterRows.Err()
}

func loadMacSet(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, measurementID int64, table string, out map[string][]string) error {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT ss.bssid, st.macAddress
		FROM %s m
		JOIN serviceSet ss ON ss.id = m.mapServiceSetID
		JOIN station st ON st.id = m.mapStationID
		WHERE m.mapMeasurementID = ?`, table), measurementID)
	if err != nil {
		return fmt.Errorf("store: load %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var bssid, mac string
		if err := rows.Scan(&bssid, &mac); err != nil {
			return fmt.Errorf("store: scan %s: %w", table, err)
		}
		out[bssid] = append(out[bssid], mac)
	}
	return rows.Err()
}

func nullFloatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
