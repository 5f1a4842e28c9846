package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wifiology/sensor/internal/aggregate"
)

// PersistMeasurementResult writes one capture round's result in a single
// deferred transaction: the measurement row, every station's counters, the
// infra/associated MAC maps per service set, and every BSSID's jitter
// measurement, so external readers never observe a measurement without
// its children.
func PersistMeasurementResult(ctx context.Context, s *Store, r *aggregate.MeasurementResult) (int64, error) {
	var measurementID int64
	err := s.DeferredTx(ctx, func(tx *sql.Tx) error {
		id, err := InsertMeasurement(ctx, tx, r.Measurement)
		if err != nil {
			return err
		}
		measurementID = id

		stationIDs := make(map[string]int64, len(r.StationCounters))
		for mac, counters := range r.StationCounters {
			stationID, err := UpsertStationByMAC(ctx, tx, mac)
			if err != nil {
				return err
			}
			stationIDs[mac] = stationID
			if err := InsertMeasurementStation(ctx, tx, measurementID, stationID, counters); err != nil {
				return err
			}
		}

		for _, station := range r.Stations {
			if _, ok := stationIDs[station.MACAddress]; !ok {
				id, err := UpsertStationByMAC(ctx, tx, station.MACAddress)
				if err != nil {
					return err
				}
				stationIDs[station.MACAddress] = id
			}
		}

		serviceSetIDs := make(map[string]int64, len(r.ServiceSets))
		for _, ss := range r.ServiceSets {
			id, err := UpsertServiceSetByBSSID(ctx, tx, ss.BSSID)
			if err != nil {
				return err
			}
			serviceSetIDs[ss.BSSID] = id
			if ss.HasSSID {
				if err := UpdateServiceSetNetworkName(ctx, tx, ss.BSSID, ss.SSID); err != nil {
					return err
				}
			}
		}

		if err := persistServiceSetMemberships(ctx, tx, measurementID, stationIDs, serviceSetIDs, r.BSSIDInfraMacs, InsertServiceSetInfrastructureStation); err != nil {
			return err
		}
		if err := persistServiceSetMemberships(ctx, tx, measurementID, stationIDs, serviceSetIDs, r.BSSIDAssociatedMacs, InsertServiceSetAssociatedStation); err != nil {
			return err
		}

		for bssid, jm := range r.JitterByBSSID {
			serviceSetID, ok := serviceSetIDs[bssid]
			if !ok {
				continue
			}
			jm.MeasurementID = measurementID
			jm.ServiceSetID = serviceSetID
			if err := InsertJitterMeasurement(ctx, tx, jm); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: persist measurement result: %w", err)
	}
	return measurementID, nil
}

type membershipInserter func(ctx context.Context, tx *sql.Tx, measurementID, serviceSetID, stationID int64) error

func persistServiceSetMemberships(
	ctx context.Context, tx *sql.Tx,
	measurementID int64,
	stationIDs map[string]int64,
	serviceSetIDs map[string]int64,
	byBSSID map[string]map[string]struct{},
	insert membershipInserter,
) error {
	for bssid, macs := range byBSSID {
		serviceSetID, ok := serviceSetIDs[bssid]
		if !ok {
			continue
		}
		for mac := range macs {
			stationID, ok := stationIDs[mac]
			if !ok {
				var err error
				stationID, err = UpsertStationByMAC(ctx, tx, mac)
				if err != nil {
					return err
				}
				stationIDs[mac] = stationID
			}
			if err := insert(ctx, tx, measurementID, serviceSetID, stationID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Page is a cursor-free limit/offset window. The ORDER BY column is never
// caller supplied; it is fixed per query to keep pagination SQL-injection
// safe.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalized() Page {
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
