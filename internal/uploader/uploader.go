// Package uploader ships measurements to the central collector: it pulls
// batches of unshipped measurements, POSTs each one's wire payload, and
// flips the hasBeenUploaded flag in the same transaction the batch was
// read in.
package uploader

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	sensormetrics "github.com/wifiology/sensor/internal/metrics"
	"github.com/wifiology/sensor/internal/model"
	"github.com/wifiology/sensor/internal/store"
)

// Config carries everything one upload batch needs: where to ship, who
// is shipping, and how many measurements to pull per call.
type Config struct {
	BaseURL        string
	NodeID         int64
	APIKey         string
	BatchSize      int
	RequestTimeout time.Duration
}

// Uploader ships one store's pending measurements to the collector.
type Uploader struct {
	cfg     Config
	store   *store.Store
	client  *http.Client
	metrics *sensormetrics.Collector
	logger  *slog.Logger
}

// New builds an Uploader. client may be nil, in which case a default
// *http.Client bounded by cfg.RequestTimeout is used; tests inject their
// own client to point at an httptest.Server.
func New(cfg Config, st *store.Store, client *http.Client, metrics *sensormetrics.Collector, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Uploader{cfg: cfg, store: st, client: client, metrics: metrics, logger: logger}
}

// PullAndUpload runs one batch: select, then for each measurement in
// turn, gather its detail, POST it as its own request, and, only on a 2xx
// response, mark it uploaded, all inside the single deferred transaction
// the batch was read under. The first non-2xx response aborts the
// remaining measurements in the batch so the transaction rolls back and
// the whole batch is retried later. It returns true iff at least one
// measurement was uploaded.
func (u *Uploader) PullAndUpload(ctx context.Context) (bool, error) {
	var madeProgress bool

	err := u.store.DeferredTx(ctx, func(tx *sql.Tx) error {
		if u.metrics != nil {
			if backlog, err := store.CountMeasurementsNeedingUpload(ctx, tx); err == nil {
				u.metrics.SetPendingMeasurements(backlog)
			}
		}

		measurements, err := store.SelectMeasurementsThatNeedUpload(ctx, tx, u.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("uploader: select batch: %w", err)
		}
		if len(measurements) == 0 {
			return nil
		}

		uploaded := make([]int64, 0, len(measurements))
		for _, m := range measurements {
			detail, err := store.LoadMeasurementDetail(ctx, tx, m)
			if err != nil {
				return fmt.Errorf("uploader: load measurement %d: %w", m.ID, err)
			}

			if err := u.postMeasurement(ctx, buildPayload(detail)); err != nil {
				if u.metrics != nil {
					u.metrics.IncUploadBatchFailed(failureReason(err))
				}
				return err
			}
			uploaded = append(uploaded, m.ID)
		}

		if err := store.UpdateMeasurementsUploadStatus(ctx, tx, uploaded, true); err != nil {
			return fmt.Errorf("uploader: mark uploaded: %w", err)
		}

		madeProgress = len(uploaded) > 0
		if u.metrics != nil {
			u.metrics.IncUploadBatchSucceeded()
			u.metrics.AddMeasurementsUploaded(len(uploaded))
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return madeProgress, nil
}

// Run loops PullAndUpload, sleeping emptySnooze after every round that made
// no progress, until ctx is canceled.
func (u *Uploader) Run(ctx context.Context, emptySnooze time.Duration) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		madeProgress, err := u.PullAndUpload(ctx)
		if err != nil {
			u.logger.Warn("uploader: batch failed", slog.String("error", err.Error()))
		}
		if madeProgress {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(emptySnooze):
		}
	}
}

// postMeasurement POSTs one measurement's payload to
// <base_url>/api/1.0/nodes/{node_id}/measurements with the X-API-Key
// header; any non-2xx status aborts the batch so the caller's transaction
// rolls back.
func (u *Uploader) postMeasurement(ctx context.Context, payload measurementPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("uploader: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/1.0/nodes/%d/measurements", u.cfg.BaseURL, u.cfg.NodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("uploader: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", u.cfg.APIKey)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("uploader: post measurement: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("uploader: collector returned %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

func failureReason(err error) string {
	if err == nil {
		return ""
	}
	return "http_error"
}

// -------------------------------------------------------------------------
// Wire payload
// -------------------------------------------------------------------------

type measurementPayload struct {
	MeasurementID         int64               `json:"measurementID"`
	MeasurementStartTime  float64             `json:"measurementStartTime"`
	MeasurementEndTime    float64             `json:"measurementEndTime"`
	MeasurementDuration   float64             `json:"measurementDuration"`
	Channel               int                 `json:"channel"`
	ExtraData             map[string]any      `json:"extraData"`
	AverageNoise          *float64            `json:"averageNoise,omitempty"`
	StdDevNoise           *float64            `json:"stdDevNoise,omitempty"`
	Stations              []stationPayload    `json:"stations"`
	ServiceSets           []serviceSetPayload `json:"serviceSets"`
	BSSIDToNetworkNameMap map[string]string   `json:"bssidToNetworkNameMap"`
}

type dataCountersPayload struct {
	ManagementFrameCount     uint64   `json:"managementFrameCount"`
	AssociationFrameCount    uint64   `json:"associationFrameCount"`
	ReassociationFrameCount  uint64   `json:"reassociationFrameCount"`
	DisassociationFrameCount uint64   `json:"disassociationFrameCount"`
	ControlFrameCount        uint64   `json:"controlFrameCount"`
	RTSFrameCount            uint64   `json:"rtsFrameCount"`
	CTSFrameCount            uint64   `json:"ctsFrameCount"`
	ACKFrameCount            uint64   `json:"ackFrameCount"`
	DataFrameCount           uint64   `json:"dataFrameCount"`
	RetryFrameCount          uint64   `json:"retryFrameCount"`
	DataThroughputIn         uint64   `json:"dataThroughputIn"`
	DataThroughputOut        uint64   `json:"dataThroughputOut"`
	FailedFCSCount           uint64   `json:"failedFCSCount,omitempty"`
	AveragePower             *float64 `json:"averagePower,omitempty"`
	StdDevPower              *float64 `json:"stdDevPower,omitempty"`
	LowestRate               *float64 `json:"lowestRate,omitempty"`
	HighestRate              *float64 `json:"highestRate,omitempty"`
}

type stationPayload struct {
	MACAddress   string              `json:"macAddress"`
	ExtraData    map[string]any      `json:"extraData"`
	DataCounters dataCountersPayload `json:"dataCounters"`
}

type jitterPayload struct {
	MinJitter             float64        `json:"minJitter"`
	MaxJitter             float64        `json:"maxJitter"`
	AvgJitter             float64        `json:"avgJitter"`
	StdDevJitter          float64        `json:"stdDevJitter"`
	JitterHistogram       string         `json:"jitterHistogram"`
	JitterHistogramOffset int64          `json:"jitterHistogramOffset"`
	BeaconInterval        uint16         `json:"beaconInterval"`
	ExtraData             map[string]any `json:"extraData,omitempty"`
}

type serviceSetPayload struct {
	BSSID              string         `json:"bssid"`
	ExtraData          map[string]any `json:"extraData"`
	NetworkName        string         `json:"networkName,omitempty"`
	InfrastructureMACs []string       `json:"infrastructureMacAddresses,omitempty"`
	AssociatedMACs     []string       `json:"associatedMacAddresses,omitempty"`
	JitterMeasurement  *jitterPayload `json:"jitterMeasurement,omitempty"`
}

func buildPayload(d store.MeasurementDetail) measurementPayload {
	p := measurementPayload{
		MeasurementID:         d.Measurement.ID,
		MeasurementStartTime:  d.Measurement.StartTime,
		MeasurementEndTime:    d.Measurement.EndTime,
		MeasurementDuration:   d.Measurement.Duration,
		Channel:               d.Measurement.Channel,
		ExtraData:             d.Measurement.ExtraData,
		AverageNoise:          d.Measurement.AverageNoise,
		StdDevNoise:           d.Measurement.StdDevNoise,
		BSSIDToNetworkNameMap: make(map[string]string),
	}

	for _, s := range d.Stations {
		p.Stations = append(p.Stations, stationPayload{
			MACAddress:   s.MAC,
			ExtraData:    map[string]any{},
			DataCounters: toDataCountersPayload(s.Counters),
		})
	}

	jitterByBSSID := make(map[string]jitterPayload, len(d.Jitter))
	for _, j := range d.Jitter {
		jitterByBSSID[j.BSSID] = jitterPayload{
			MinJitter:             j.MinJitter,
			MaxJitter:             j.MaxJitter,
			AvgJitter:             j.AvgJitter,
			StdDevJitter:          j.StdDevJitter,
			JitterHistogram:       j.HistogramBase64,
			JitterHistogramOffset: model.JitterHistogramOffset,
			BeaconInterval:        j.BeaconInterval,
		}
	}

	for _, ss := range d.ServiceSets {
		name := networkName(ss.SSID, ss.HasSSID)
		if name != "" {
			p.BSSIDToNetworkNameMap[ss.BSSID] = name
		}

		sp := serviceSetPayload{
			BSSID:              ss.BSSID,
			ExtraData:          map[string]any{},
			NetworkName:        name,
			InfrastructureMACs: d.InfraMacsByBSSID[ss.BSSID],
			AssociatedMACs:     d.AssociatedMacsByBSSID[ss.BSSID],
		}
		if jp, ok := jitterByBSSID[ss.BSSID]; ok {
			sp.JitterMeasurement = &jp
		}
		p.ServiceSets = append(p.ServiceSets, sp)
	}

	return p
}

func toDataCountersPayload(c model.DataCounters) dataCountersPayload {
	return dataCountersPayload{
		ManagementFrameCount:     c.ManagementFrameCount,
		AssociationFrameCount:    c.AssociationFrameCount,
		ReassociationFrameCount:  c.ReassociationFrameCount,
		DisassociationFrameCount: c.DisassociationFrameCount,
		ControlFrameCount:        c.ControlFrameCount,
		RTSFrameCount:            c.RTSFrameCount,
		CTSFrameCount:            c.CTSFrameCount,
		ACKFrameCount:            c.ACKFrameCount,
		DataFrameCount:           c.DataFrameCount,
		RetryFrameCount:          c.RetryFrameCount,
		DataThroughputIn:         c.DataThroughputIn,
		DataThroughputOut:        c.DataThroughputOut,
		FailedFCSCount:           c.FailedFCSCount,
		AveragePower:             c.AveragePower(),
		StdDevPower:              c.StdDevPower(),
		LowestRate:               c.LowestRate(),
		HighestRate:              c.HighestRate(),
	}
}

// networkName renders ssid as the payload's printable networkName,
// escaping non-printable bytes. Returns "" when hasSSID is false.
func networkName(ssid []byte, hasSSID bool) string {
	if !hasSSID {
		return ""
	}
	if utf8.Valid(ssid) && isPrintable(ssid) {
		return string(ssid)
	}
	return strconv.Quote(string(ssid))
}

func isPrintable(b []byte) bool {
	for _, r := range string(b) {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
