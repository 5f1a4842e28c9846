package sensormetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	sensormetrics "github.com/wifiology/sensor/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := sensormetrics.NewCollector(reg)

	if c.CaptureRounds == nil {
		t.Error("CaptureRounds is nil")
	}
	if c.FramesDecoded == nil {
		t.Error("FramesDecoded is nil")
	}
	if c.FrameDecodeErrors == nil {
		t.Error("FrameDecodeErrors is nil")
	}
	if c.MeasurementsPersisted == nil {
		t.Error("MeasurementsPersisted is nil")
	}
	if c.UploadBatchesSucceeded == nil {
		t.Error("UploadBatchesSucceeded is nil")
	}
	if c.UploadBatchesFailed == nil {
		t.Error("UploadBatchesFailed is nil")
	}
	if c.MeasurementsUploaded == nil {
		t.Error("MeasurementsUploaded is nil")
	}
	if c.WatchdogRestarts == nil {
		t.Error("WatchdogRestarts is nil")
	}
	if c.JanitorDeletions == nil {
		t.Error("JanitorDeletions is nil")
	}
	if c.PendingMeasurements == nil {
		t.Error("PendingMeasurements is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestCaptureCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := sensormetrics.NewCollector(reg)

	c.IncCaptureRound(1)
	c.IncCaptureRound(1)
	c.IncCaptureRound(6)

	if got := counterValue(t, c.CaptureRounds, "1"); got != 2 {
		t.Errorf("CaptureRounds[channel=1] = %v, want 2", got)
	}
	if got := counterValue(t, c.CaptureRounds, "6"); got != 1 {
		t.Errorf("CaptureRounds[channel=6] = %v, want 1", got)
	}

	c.AddFramesDecoded(1, 10)
	c.AddFramesDecoded(1, 5)
	c.AddFramesDecoded(1, 0) // no-op

	if got := counterValue(t, c.FramesDecoded, "1"); got != 15 {
		t.Errorf("FramesDecoded[channel=1] = %v, want 15", got)
	}

	c.IncFrameDecodeError(1)

	if got := counterValue(t, c.FrameDecodeErrors, "1"); got != 1 {
		t.Errorf("FrameDecodeErrors[channel=1] = %v, want 1", got)
	}
}

func TestStoreAndUploadCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := sensormetrics.NewCollector(reg)

	c.IncMeasurementsPersisted()
	c.IncMeasurementsPersisted()

	if got := plainCounterValue(t, c.MeasurementsPersisted); got != 2 {
		t.Errorf("MeasurementsPersisted = %v, want 2", got)
	}

	c.IncUploadBatchSucceeded()

	if got := plainCounterValue(t, c.UploadBatchesSucceeded); got != 1 {
		t.Errorf("UploadBatchesSucceeded = %v, want 1", got)
	}

	c.IncUploadBatchFailed("http_status")
	c.IncUploadBatchFailed("http_status")
	c.IncUploadBatchFailed("transport")

	if got := counterValue(t, c.UploadBatchesFailed, "http_status"); got != 2 {
		t.Errorf("UploadBatchesFailed[reason=http_status] = %v, want 2", got)
	}
	if got := counterValue(t, c.UploadBatchesFailed, "transport"); got != 1 {
		t.Errorf("UploadBatchesFailed[reason=transport] = %v, want 1", got)
	}

	c.AddMeasurementsUploaded(3)
	c.AddMeasurementsUploaded(-1) // no-op

	if got := plainCounterValue(t, c.MeasurementsUploaded); got != 3 {
		t.Errorf("MeasurementsUploaded = %v, want 3", got)
	}

	c.SetPendingMeasurements(7)
	if got := gaugeValue(t, c.PendingMeasurements); got != 7 {
		t.Errorf("PendingMeasurements = %v, want 7", got)
	}

	c.SetPendingMeasurements(0)
	if got := gaugeValue(t, c.PendingMeasurements); got != 0 {
		t.Errorf("PendingMeasurements = %v, want 0", got)
	}
}

func TestWatchdogAndJanitorCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := sensormetrics.NewCollector(reg)

	c.IncWatchdogRestart()
	c.IncWatchdogRestart()

	if got := plainCounterValue(t, c.WatchdogRestarts); got != 2 {
		t.Errorf("WatchdogRestarts = %v, want 2", got)
	}

	c.AddJanitorDeletions(42)
	c.AddJanitorDeletions(0) // no-op

	if got := plainCounterValue(t, c.JanitorDeletions); got != 42 {
		t.Errorf("JanitorDeletions = %v, want 42", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}

// plainCounterValue reads the current value of an unlabeled Counter.
func plainCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}

// gaugeValue reads the current value of an unlabeled Gauge.
func gaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}
