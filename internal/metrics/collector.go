// Package sensormetrics exposes the sensor's Prometheus instrumentation:
// capture round/frame counters, store/upload outcome counters,
// watchdog/janitor counters, and a pending-upload backlog gauge, all
// registered against a single
// prometheus.Registerer.
package sensormetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "wifiology"
	subsystem = "sensor"
)

// Label names used across sensor metrics.
const (
	labelChannel = "channel"
	labelReason  = "reason"
)

// -------------------------------------------------------------------------
// Collector: Prometheus Sensor Metrics
// -------------------------------------------------------------------------

// Collector holds all sensor Prometheus metrics.
//
// Metrics cover the three CLI surfaces (capture, upload, janitor):
//   - Capture round/frame/decode-error counters, labeled by channel.
//   - Store write counters and current un-uploaded measurement backlog.
//   - Upload batch outcome counters.
//   - Watchdog restart counter and janitor deletion counter.
type Collector struct {
	// CaptureRounds counts completed capture rounds, labeled by channel.
	CaptureRounds *prometheus.CounterVec

	// FramesDecoded counts successfully decoded 802.11 frames per channel.
	FramesDecoded *prometheus.CounterVec

	// FrameDecodeErrors counts frames that failed to decode per channel.
	FrameDecodeErrors *prometheus.CounterVec

	// MeasurementsPersisted counts measurements written to the store.
	MeasurementsPersisted prometheus.Counter

	// UploadBatchesSucceeded counts upload batches that committed cleanly.
	UploadBatchesSucceeded prometheus.Counter

	// UploadBatchesFailed counts upload batches that were rolled back,
	// labeled by failure reason (the uploader reports "http_error" for
	// every failure).
	UploadBatchesFailed *prometheus.CounterVec

	// MeasurementsUploaded counts individual measurements marked uploaded.
	MeasurementsUploaded prometheus.Counter

	// WatchdogRestarts counts times the watchdog respawned the capture
	// worker after a stall or crash.
	WatchdogRestarts prometheus.Counter

	// JanitorDeletions counts measurements deleted by age-based cleanup.
	JanitorDeletions prometheus.Counter

	// PendingMeasurements gauges the current un-uploaded measurement
	// backlog, sampled by the uploader before each batch.
	PendingMeasurements prometheus.Gauge
}

// NewCollector creates a Collector with all sensor metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics are created with the "wifiology_sensor_" prefix
// (namespace_subsystem) to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.CaptureRounds,
		c.FramesDecoded,
		c.FrameDecodeErrors,
		c.MeasurementsPersisted,
		c.UploadBatchesSucceeded,
		c.UploadBatchesFailed,
		c.MeasurementsUploaded,
		c.WatchdogRestarts,
		c.JanitorDeletions,
		c.PendingMeasurements,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	channelLabels := []string{labelChannel}

	return &Collector{
		CaptureRounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "capture_rounds_total",
			Help:      "Total completed capture dwells, labeled by channel.",
		}, channelLabels),

		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_decoded_total",
			Help:      "Total 802.11 frames successfully decoded, labeled by channel.",
		}, channelLabels),

		FrameDecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frame_decode_errors_total",
			Help:      "Total frames that failed radiotap/802.11 decode, labeled by channel.",
		}, channelLabels),

		MeasurementsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "measurements_persisted_total",
			Help:      "Total measurements committed to the store.",
		}),

		UploadBatchesSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upload_batches_succeeded_total",
			Help:      "Total upload batches that committed successfully.",
		}),

		UploadBatchesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upload_batches_failed_total",
			Help:      "Total upload batches rolled back, labeled by failure reason.",
		}, []string{labelReason}),

		MeasurementsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "measurements_uploaded_total",
			Help:      "Total individual measurements marked uploaded.",
		}),

		WatchdogRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "watchdog_restarts_total",
			Help:      "Total times the watchdog respawned a stalled or crashed capture worker.",
		}),

		JanitorDeletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "janitor_deletions_total",
			Help:      "Total measurements deleted by age-based cleanup.",
		}),

		PendingMeasurements: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_measurements",
			Help:      "Un-uploaded measurement backlog as of the last upload poll.",
		}),
	}
}

// -------------------------------------------------------------------------
// Capture
// -------------------------------------------------------------------------

// IncCaptureRound increments the completed-rounds counter for channel.
func (c *Collector) IncCaptureRound(channel int) {
	c.CaptureRounds.WithLabelValues(channelLabel(channel)).Inc()
}

// AddFramesDecoded adds n to the decoded-frame counter for channel.
func (c *Collector) AddFramesDecoded(channel int, n int) {
	if n <= 0 {
		return
	}
	c.FramesDecoded.WithLabelValues(channelLabel(channel)).Add(float64(n))
}

// IncFrameDecodeError increments the decode-error counter for channel.
func (c *Collector) IncFrameDecodeError(channel int) {
	c.FrameDecodeErrors.WithLabelValues(channelLabel(channel)).Inc()
}

// -------------------------------------------------------------------------
// Store / Upload
// -------------------------------------------------------------------------

// IncMeasurementsPersisted increments the persisted-measurements counter.
func (c *Collector) IncMeasurementsPersisted() {
	c.MeasurementsPersisted.Inc()
}

// IncUploadBatchSucceeded increments the successful-batch counter.
func (c *Collector) IncUploadBatchSucceeded() {
	c.UploadBatchesSucceeded.Inc()
}

// IncUploadBatchFailed increments the failed-batch counter for reason.
func (c *Collector) IncUploadBatchFailed(reason string) {
	c.UploadBatchesFailed.WithLabelValues(reason).Inc()
}

// AddMeasurementsUploaded adds n to the uploaded-measurements counter.
func (c *Collector) AddMeasurementsUploaded(n int) {
	if n <= 0 {
		return
	}
	c.MeasurementsUploaded.Add(float64(n))
}

// SetPendingMeasurements sets the current un-uploaded backlog gauge.
func (c *Collector) SetPendingMeasurements(n int) {
	c.PendingMeasurements.Set(float64(n))
}

// -------------------------------------------------------------------------
// Watchdog / Janitor
// -------------------------------------------------------------------------

// IncWatchdogRestart increments the watchdog-restart counter.
func (c *Collector) IncWatchdogRestart() {
	c.WatchdogRestarts.Inc()
}

// AddJanitorDeletions adds n to the janitor-deletions counter.
func (c *Collector) AddJanitorDeletions(n int64) {
	if n <= 0 {
		return
	}
	c.JanitorDeletions.Add(float64(n))
}

func channelLabel(channel int) string {
	return strconv.Itoa(channel)
}
