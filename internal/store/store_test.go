package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/wifiology/sensor/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", time.Second, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWeightedAvgAggregateSkipsNullsAndZeroWeight(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx, `CREATE TABLE wa_fixture (value REAL, weight REAL)`)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	_, err = s.DB().ExecContext(ctx, `INSERT INTO wa_fixture (value, weight) VALUES (10, 2), (20, 2), (NULL, 5)`)
	if err != nil {
		t.Fatalf("insert fixture: %v", err)
	}

	var avg sql.NullFloat64
	if err := s.DB().QueryRowContext(ctx, `SELECT weighted_avg(value, weight) FROM wa_fixture`).Scan(&avg); err != nil {
		t.Fatalf("query weighted_avg: %v", err)
	}
	if !avg.Valid || avg.Float64 != 15 {
		t.Fatalf("expected weighted_avg=15 (null pair skipped), got %+v", avg)
	}

	_, err = s.DB().ExecContext(ctx, `DELETE FROM wa_fixture; INSERT INTO wa_fixture (value, weight) VALUES (NULL, NULL)`)
	if err != nil {
		t.Fatalf("reset fixture: %v", err)
	}
	var empty sql.NullFloat64
	if err := s.DB().QueryRowContext(ctx, `SELECT weighted_avg(value, weight) FROM wa_fixture`).Scan(&empty); err != nil {
		t.Fatalf("query weighted_avg (empty): %v", err)
	}
	if empty.Valid {
		t.Fatalf("expected null weighted_avg when total weight is zero, got %v", empty.Float64)
	}
}

func TestInsertMeasurementAndStationServiceSetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var measurementID int64
	err := s.DeferredTx(ctx, func(tx *sql.Tx) error {
		id, err := InsertMeasurement(ctx, tx, model.Measurement{
			StartTime: 1000, EndTime: 1030, Duration: 30, Channel: 6,
		})
		if err != nil {
			return err
		}
		measurementID = id

		stationID, err := UpsertStationByMAC(ctx, tx, "aa:bb:cc:00:00:01")
		if err != nil {
			return err
		}
		counters := model.NewDataCountersFromSamples([]float64{-50, -52}, []float64{54})
		counters.ManagementFrameCount = 10
		if err := InsertMeasurementStation(ctx, tx, measurementID, stationID, counters); err != nil {
			return err
		}

		ssID, err := UpsertServiceSetByBSSID(ctx, tx, "aa:bb:cc:00:00:01")
		if err != nil {
			return err
		}
		if err := UpdateServiceSetNetworkName(ctx, tx, "aa:bb:cc:00:00:01", []byte("Lab")); err != nil {
			return err
		}
		return InsertServiceSetInfrastructureStation(ctx, tx, measurementID, ssID, stationID)
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	detail, err := LoadMeasurementDetail(ctx, s.DB(), model.Measurement{ID: measurementID})
	if err != nil {
		t.Fatalf("load detail: %v", err)
	}
	if len(detail.Stations) != 1 || detail.Stations[0].MAC != "aa:bb:cc:00:00:01" {
		t.Fatalf("expected one station row, got %+v", detail.Stations)
	}
	if detail.Stations[0].Counters.ManagementFrameCount != 10 {
		t.Fatalf("expected management_frame_count=10, got %d", detail.Stations[0].Counters.ManagementFrameCount)
	}
	if len(detail.ServiceSets) != 1 || string(detail.ServiceSets[0].SSID) != "Lab" {
		t.Fatalf("expected one service set with SSID Lab, got %+v", detail.ServiceSets)
	}
	if macs := detail.InfraMacsByBSSID["aa:bb:cc:00:00:01"]; len(macs) != 1 || macs[0] != "aa:bb:cc:00:00:01" {
		t.Fatalf("expected infra mac set to contain the station, got %v", macs)
	}
}

func TestUpdateServiceSetNetworkNameNoOpIfEqual(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.DeferredTx(ctx, func(tx *sql.Tx) error {
		if _, err := UpsertServiceSetByBSSID(ctx, tx, "bb:bb:bb:00:00:01"); err != nil {
			return err
		}
		if err := UpdateServiceSetNetworkName(ctx, tx, "bb:bb:bb:00:00:01", []byte("Net")); err != nil {
			return err
		}
		return UpdateServiceSetNetworkName(ctx, tx, "bb:bb:bb:00:00:01", []byte("Net"))
	})
	if err != nil {
		t.Fatalf("expected no-op update to succeed, got %v", err)
	}
}

func TestSelectAndUpdateUploadStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []int64
	err := s.DeferredTx(ctx, func(tx *sql.Tx) error {
		for i := 0; i < 3; i++ {
			id, err := InsertMeasurement(ctx, tx, model.Measurement{
				StartTime: float64(i), EndTime: float64(i) + 1, Duration: 1, Channel: 6,
			})
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert measurements: %v", err)
	}

	pending, err := SelectMeasurementsThatNeedUpload(ctx, s.DB(), 2)
	if err != nil {
		t.Fatalf("select pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(pending))
	}
	if pending[0].StartTime > pending[1].StartTime {
		t.Fatalf("expected ascending start time order")
	}

	err = s.DeferredTx(ctx, func(tx *sql.Tx) error {
		return UpdateMeasurementsUploadStatus(ctx, tx, []int64{pending[0].ID, pending[1].ID}, true)
	})
	if err != nil {
		t.Fatalf("update upload status: %v", err)
	}

	remaining, err := SelectMeasurementsThatNeedUpload(ctx, s.DB(), 10)
	if err != nil {
		t.Fatalf("select remaining: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 measurement still pending, got %d", len(remaining))
	}
}

func TestListMeasurementsPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.DeferredTx(ctx, func(tx *sql.Tx) error {
		for i := 0; i < 5; i++ {
			if _, err := InsertMeasurement(ctx, tx, model.Measurement{
				StartTime: float64(100 + i), EndTime: float64(101 + i), Duration: 1, Channel: 6,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert measurements: %v", err)
	}

	page, err := ListMeasurements(ctx, s.DB(), Page{Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(page) != 2 || page[0].StartTime != 104 || page[1].StartTime != 103 {
		t.Fatalf("expected newest-first page [104, 103], got %+v", page)
	}

	page, err = ListMeasurements(ctx, s.DB(), Page{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("list last page: %v", err)
	}
	if len(page) != 1 || page[0].StartTime != 100 {
		t.Fatalf("expected final page [100], got %+v", page)
	}

	backlog, err := CountMeasurementsNeedingUpload(ctx, s.DB())
	if err != nil {
		t.Fatalf("count backlog: %v", err)
	}
	if backlog != 5 {
		t.Fatalf("expected backlog of 5, got %d", backlog)
	}
}

func TestDeleteOldMeasurementsRespectsTTL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	oldStart := float64(now.Add(-20 * 24 * time.Hour).Unix())
	recentStart := float64(now.Add(-1 * 24 * time.Hour).Unix())

	var oldID, recentID int64
	err := s.DeferredTx(ctx, func(tx *sql.Tx) error {
		var err error
		oldID, err = InsertMeasurement(ctx, tx, model.Measurement{StartTime: oldStart, EndTime: oldStart + 1, Duration: 1, Channel: 1})
		if err != nil {
			return err
		}
		recentID, err = InsertMeasurement(ctx, tx, model.Measurement{StartTime: recentStart, EndTime: recentStart + 1, Duration: 1, Channel: 1})
		return err
	})
	if err != nil {
		t.Fatalf("insert measurements: %v", err)
	}

	var affected int64
	err = s.ImmediateTx(ctx, func(tx *sql.Tx) error {
		var err error
		affected, err = DeleteOldMeasurements(ctx, tx, 14, now)
		return err
	})
	if err != nil {
		t.Fatalf("delete old measurements: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected exactly 1 row deleted, got %d", affected)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM measurement WHERE id = ?`, oldID).Scan(&count); err != nil {
		t.Fatalf("count old: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected old measurement to be gone")
	}
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM measurement WHERE id = ?`, recentID).Scan(&count); err != nil {
		t.Fatalf("count recent: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected recent measurement to remain")
	}
}

func TestKVRoundTripAndPrefixLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.DeferredTx(ctx, func(tx *sql.Tx) error {
		if err := KVSet(ctx, tx, "capture/interface", "wlan0"); err != nil {
			return err
		}
		if err := KVSet(ctx, tx, "capture/sample_seconds", 30); err != nil {
			return err
		}
		return KVSet(ctx, tx, "unrelated/key", "x")
	})
	if err != nil {
		t.Fatalf("kv set: %v", err)
	}

	var iface string
	if err := KVGet(ctx, s.DB(), "capture/interface", &iface); err != nil {
		t.Fatalf("kv get: %v", err)
	}
	if iface != "wlan0" {
		t.Fatalf("expected wlan0, got %q", iface)
	}

	prefixed, err := KVGetPrefix(ctx, s.DB(), "capture/")
	if err != nil {
		t.Fatalf("kv get_prefix: %v", err)
	}
	if len(prefixed) != 2 {
		t.Fatalf("expected 2 keys under capture/, got %d", len(prefixed))
	}

	all, err := KVGetAll(ctx, s.DB())
	if err != nil {
		t.Fatalf("kv get_all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 total keys, got %d", len(all))
	}

	err = s.DeferredTx(ctx, func(tx *sql.Tx) error {
		return KVDel(ctx, tx, "unrelated/key")
	})
	if err != nil {
		t.Fatalf("kv del: %v", err)
	}
	all, err = KVGetAll(ctx, s.DB())
	if err != nil {
		t.Fatalf("kv get_all after del: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 keys after delete, got %d", len(all))
	}
}

func TestKVGetJSONSetJSONGenericRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	type round struct {
		Channel int    `json:"channel"`
		Note    string `json:"note"`
	}

	err := s.DeferredTx(ctx, func(tx *sql.Tx) error {
		return KVSetJSON(ctx, tx, "capture/current_script_round", round{Channel: 6, Note: "ok"})
	})
	if err != nil {
		t.Fatalf("kv set json: %v", err)
	}

	got, err := KVGetJSON[round](ctx, s.DB(), "capture/current_script_round")
	if err != nil {
		t.Fatalf("kv get json: %v", err)
	}
	if got.Channel != 6 || got.Note != "ok" {
		t.Fatalf("unexpected round-trip value: %+v", got)
	}
}
