package model

import (
	"encoding/base64"
	"sort"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Jitter histogram parameters: range [1, 5e6] µs at 5 significant
// figures, biased by +1e6 so negative jitter (earlier than expected) fits
// the histogram's positive-only domain.
const (
	JitterHistogramMin               int64 = 1
	JitterHistogramMax               int64 = 5_000_000
	JitterHistogramSignificantDigits int64 = 5
	JitterHistogramOffset            int64 = 1_000_000
)

// NewJitterHistogram returns an empty histogram sized per the parameters
// above, ready to record biased jitter samples.
func NewJitterHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(JitterHistogramMin, JitterHistogramMax, int(JitterHistogramSignificantDigits))
}

// RecordJitter biases jitterMicros by +1e6 and records it. Samples whose
// biased value falls below 1 are dropped, not clamped.
func RecordJitter(h *hdrhistogram.Histogram, jitterMicros int64) bool {
	biased := jitterMicros + JitterHistogramOffset
	if biased < JitterHistogramMin {
		return false
	}
	if biased > JitterHistogramMax {
		biased = JitterHistogramMax
	}
	_ = h.RecordValue(biased)
	return true
}

// EncodeHistogramBase64 renders h in the HDR histogram V2 compressed wire
// format and base64-encodes it, the jitterHistogram representation the
// central collector decodes.
func EncodeHistogramBase64(h *hdrhistogram.Histogram) (string, error) {
	encoded, err := h.Encode(hdrhistogram.V2CompressedEncodingCookieBase)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}

// JitterMeasurement is a per (measurement, service-set) aggregate of
// inter-beacon arrival deviations from the advertised interval.
type JitterMeasurement struct {
	MeasurementID  int64
	ServiceSetID   int64
	MinJitter      float64
	MaxJitter      float64
	AvgJitter      float64
	StdDevJitter   float64
	Histogram      *hdrhistogram.Histogram
	BeaconInterval uint16 // TU (1 TU = 1024 µs)
	BadIntervals   bool   // true when the BSSID advertised more than one interval
	ExtraData      map[string]any
}

// BeaconTiming is one accepted (TSF, interval) beacon observation used to
// derive jitter samples.
type BeaconTiming struct {
	TSF      uint64
	Interval uint16 // TU
}

// ComputeJitterMeasurement builds a JitterMeasurement from the accepted
// beacon timings for one BSSID within one measurement: sort by TSF,
// jitter[i] = (tsf[i]-tsf[i-1]) - interval*1024 µs, using the first-seen
// interval deterministically when multiple intervals appear (BadIntervals
// flags that case on the result). The raw jitter samples are returned
// alongside the reduced measurement. Returns ErrJitterTooFewSamples when
// fewer than 2 timings are given.
func ComputeJitterMeasurement(measurementID, serviceSetID int64, timings []BeaconTiming) (JitterMeasurement, []int64, error) {
	if len(timings) < 2 {
		return JitterMeasurement{}, nil, ErrJitterTooFewSamples
	}

	// The chosen interval is the first one seen in insertion order, not
	// TSF order, so the choice stays deterministic even when an early
	// beacon arrives with a late timestamp.
	firstInterval := timings[0].Interval
	badIntervals := false
	for _, t := range timings[1:] {
		if t.Interval != firstInterval {
			badIntervals = true
			break
		}
	}

	sorted := append([]BeaconTiming(nil), timings...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TSF < sorted[j].TSF })

	jitterSamples := make([]int64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		expected := int64(firstInterval) * 1024
		delta := int64(sorted[i].TSF) - int64(sorted[i-1].TSF)
		jitterSamples = append(jitterSamples, delta-expected)
	}

	floatSamples := make([]float64, len(jitterSamples))
	for i, v := range jitterSamples {
		floatSamples[i] = float64(v)
	}
	mean, std := AlteredMeanStdDev(floatSamples)

	hist := NewJitterHistogram()
	for _, v := range jitterSamples {
		RecordJitter(hist, v)
	}

	minV, maxV := jitterSamples[0], jitterSamples[0]
	for _, v := range jitterSamples[1:] {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}

	jm := JitterMeasurement{
		MeasurementID:  measurementID,
		ServiceSetID:   serviceSetID,
		MinJitter:      float64(minV),
		MaxJitter:      float64(maxV),
		BeaconInterval: firstInterval,
		BadIntervals:   badIntervals,
		Histogram:      hist,
	}
	if mean != nil {
		jm.AvgJitter = *mean
	}
	if std != nil {
		jm.StdDevJitter = *std
	}
	return jm, jitterSamples, nil
}
