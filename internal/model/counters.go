// Package model holds the value types the sensor persists and uploads:
// Measurement, Station, ServiceSet, DataCounters, and JitterMeasurement.
// Every type here is a plain struct with a zero value and, where addition
// is meaningful, an Add method. There is no base type or object graph,
// only surrogate ids and join rows (see internal/store).
package model

import "math"

// DataCounters bundles the per-scope frame counters, throughput, retry,
// power, and rate summaries. A DataCounters exists both per
// (measurement, station) and, reduced, per measurement.
type DataCounters struct {
	ManagementFrameCount     uint64
	AssociationFrameCount    uint64
	ReassociationFrameCount  uint64
	DisassociationFrameCount uint64
	ControlFrameCount        uint64
	RTSFrameCount            uint64
	CTSFrameCount            uint64
	ACKFrameCount            uint64
	DataFrameCount           uint64
	RetryFrameCount          uint64

	DataThroughputIn  uint64
	DataThroughputOut uint64
	FailedFCSCount    uint64

	// powerSamples/rateSamples are raw per-frame observations. When
	// present they are the source of truth for the derived fields below;
	// a weighted combine only falls back to averagePower/stdDevPower/
	// lowestRate/highestRate when raw samples are unavailable on a side.
	powerSamples []float64
	rateSamples  []float64

	averagePower *float64
	stdDevPower  *float64
	lowestRate   *float64
	highestRate  *float64
}

// NewDataCountersFromSamples builds a DataCounters whose power/rate
// summaries are derived lazily from the given raw samples. Raw samples,
// when present, always win over precomputed summaries.
func NewDataCountersFromSamples(powerSamples, rateSamples []float64) DataCounters {
	return DataCounters{
		powerSamples: append([]float64(nil), powerSamples...),
		rateSamples:  append([]float64(nil), rateSamples...),
	}
}

// Zero returns the additive identity: Add(Zero()) == self.
func Zero() DataCounters { return DataCounters{} }

// TotalFrameCount returns the count of frames classified as management,
// control, or data, the three mutually-exclusive top-level 802.11 frame
// classes. Association/reassociation/disassociation/RTS/CTS/ACK are
// sub-counters within those classes, not additional classes.
func (d DataCounters) TotalFrameCount() uint64 {
	return d.ManagementFrameCount + d.ControlFrameCount + d.DataFrameCount
}

// Weight is the frame-count weight used both by the in-process weighted
// combine below and by the store's weighted_avg/weighted_std_dev SQL
// aggregates: mgmt + ctl + data.
func (d DataCounters) Weight() uint64 {
	return d.ManagementFrameCount + d.ControlFrameCount + d.DataFrameCount
}

// hasPowerInfo reports whether this side carries any power information at
// all (raw samples or a precomputed summary), as opposed to having simply
// never observed a power sample.
func (d DataCounters) hasPowerInfo() bool {
	return len(d.powerSamples) > 0 || d.averagePower != nil
}

func (d DataCounters) hasRateInfo() bool {
	return len(d.rateSamples) > 0 || d.lowestRate != nil || d.highestRate != nil
}

// AveragePower returns the mean signal power in dBm, computed from raw
// samples when available, else the precomputed summary, else nil.
func (d DataCounters) AveragePower() *float64 {
	if len(d.powerSamples) > 0 {
		mean, _ := alteredMeanStdDev(d.powerSamples)
		return mean
	}
	return d.averagePower
}

// StdDevPower returns the population-corrected sample stddev of signal
// power in dBm, same preference order as AveragePower.
func (d DataCounters) StdDevPower() *float64 {
	if len(d.powerSamples) > 0 {
		_, std := alteredMeanStdDev(d.powerSamples)
		return std
	}
	return d.stdDevPower
}

// LowestRate returns the minimum observed PHY rate, from raw samples when
// available, else the precomputed summary.
func (d DataCounters) LowestRate() *float64 {
	if len(d.rateSamples) > 0 {
		return minFloat(d.rateSamples)
	}
	return d.lowestRate
}

// HighestRate returns the maximum observed PHY rate.
func (d DataCounters) HighestRate() *float64 {
	if len(d.rateSamples) > 0 {
		return maxFloat(d.rateSamples)
	}
	return d.highestRate
}

// WithPrecomputedPower attaches a precomputed power summary (used when
// rebuilding a DataCounters from a persisted row, where raw samples are
// never stored, only the reduced summary).
func (d DataCounters) WithPrecomputedPower(avg, stdDev *float64) DataCounters {
	d.averagePower = avg
	d.stdDevPower = stdDev
	return d
}

// WithPrecomputedRate attaches a precomputed rate summary, same rationale
// as WithPrecomputedPower.
func (d DataCounters) WithPrecomputedRate(lowest, highest *float64) DataCounters {
	d.lowestRate = lowest
	d.highestRate = highest
	return d
}

// Add combines two DataCounters: simple counters sum; power combines by
// concatenating raw samples when both sides carry them, else by a
// frame-count-weighted mean/stddev; rate combines by concatenating raw
// samples when both sides carry them, else by ordinary min/max of the
// precomputed bounds.
func (d DataCounters) Add(o DataCounters) DataCounters {
	r := DataCounters{
		ManagementFrameCount:     d.ManagementFrameCount + o.ManagementFrameCount,
		AssociationFrameCount:    d.AssociationFrameCount + o.AssociationFrameCount,
		ReassociationFrameCount:  d.ReassociationFrameCount + o.ReassociationFrameCount,
		DisassociationFrameCount: d.DisassociationFrameCount + o.DisassociationFrameCount,
		ControlFrameCount:        d.ControlFrameCount + o.ControlFrameCount,
		RTSFrameCount:            d.RTSFrameCount + o.RTSFrameCount,
		CTSFrameCount:            d.CTSFrameCount + o.CTSFrameCount,
		ACKFrameCount:            d.ACKFrameCount + o.ACKFrameCount,
		DataFrameCount:           d.DataFrameCount + o.DataFrameCount,
		RetryFrameCount:          d.RetryFrameCount + o.RetryFrameCount,
		DataThroughputIn:         d.DataThroughputIn + o.DataThroughputIn,
		DataThroughputOut:        d.DataThroughputOut + o.DataThroughputOut,
		FailedFCSCount:           d.FailedFCSCount + o.FailedFCSCount,
	}
	r.combinePower(d, o)
	r.combineRate(d, o)
	return r
}

func (r *DataCounters) combinePower(d, o DataCounters) {
	switch {
	case !d.hasPowerInfo() && !o.hasPowerInfo():
		// neither side has anything to contribute.
	case !d.hasPowerInfo():
		r.powerSamples = append([]float64(nil), o.powerSamples...)
		r.averagePower, r.stdDevPower = o.averagePower, o.stdDevPower
	case !o.hasPowerInfo():
		r.powerSamples = append([]float64(nil), d.powerSamples...)
		r.averagePower, r.stdDevPower = d.averagePower, d.stdDevPower
	case len(d.powerSamples) > 0 && len(o.powerSamples) > 0:
		r.powerSamples = append(append([]float64(nil), d.powerSamples...), o.powerSamples...)
	default:
		mean, std := weightedCombine(d.AveragePower(), d.StdDevPower(), d.Weight(), o.AveragePower(), o.StdDevPower(), o.Weight())
		r.averagePower, r.stdDevPower = mean, std
	}
}

func (r *DataCounters) combineRate(d, o DataCounters) {
	switch {
	case !d.hasRateInfo() && !o.hasRateInfo():
	case !d.hasRateInfo():
		r.rateSamples = append([]float64(nil), o.rateSamples...)
		r.lowestRate, r.highestRate = o.lowestRate, o.highestRate
	case !o.hasRateInfo():
		r.rateSamples = append([]float64(nil), d.rateSamples...)
		r.lowestRate, r.highestRate = d.lowestRate, d.highestRate
	case len(d.rateSamples) > 0 && len(o.rateSamples) > 0:
		r.rateSamples = append(append([]float64(nil), d.rateSamples...), o.rateSamples...)
	default:
		r.lowestRate = minPtr(d.LowestRate(), o.LowestRate())
		r.highestRate = maxPtr(d.HighestRate(), o.HighestRate())
	}
}

// weightedCombine implements the store's weighted_avg/weighted_std_dev
// logic in-process: mean = Σwᵢμᵢ/Σwᵢ, stddev = √(Σwᵢσᵢ²/Σwᵢ).
func weightedCombine(aMean, aStd *float64, aWeight uint64, bMean, bStd *float64, bWeight uint64) (*float64, *float64) {
	switch {
	case aMean == nil && bMean == nil:
		return nil, nil
	case aMean == nil:
		return bMean, bStd
	case bMean == nil:
		return aMean, aStd
	}
	totalWeight := float64(aWeight + bWeight)
	if totalWeight == 0 {
		return nil, nil
	}
	mean := (*aMean*float64(aWeight) + *bMean*float64(bWeight)) / totalWeight
	var std *float64
	if aStd != nil || bStd != nil {
		var sumSq float64
		if aStd != nil {
			sumSq += (*aStd) * (*aStd) * float64(aWeight)
		}
		if bStd != nil {
			sumSq += (*bStd) * (*bStd) * float64(bWeight)
		}
		s := math.Sqrt(sumSq / totalWeight)
		std = &s
	}
	return &mean, std
}

func minPtr(a, b *float64) *float64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	v := math.Min(*a, *b)
	return &v
}

func maxPtr(a, b *float64) *float64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	v := math.Max(*a, *b)
	return &v
}

func minFloat(samples []float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	v := samples[0]
	for _, s := range samples[1:] {
		if s < v {
			v = s
		}
	}
	return &v
}

func maxFloat(samples []float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	v := samples[0]
	for _, s := range samples[1:] {
		if s > v {
			v = s
		}
	}
	return &v
}

// alteredMeanStdDev implements the "altered statistics" rule used
// throughout this sensor: an empty sample set yields (nil, nil); a single
// sample yields (value, 0.0); otherwise the ordinary sample mean and
// sample (n-1) standard deviation.
func alteredMeanStdDev(samples []float64) (*float64, *float64) {
	switch len(samples) {
	case 0:
		return nil, nil
	case 1:
		v := samples[0]
		z := 0.0
		return &v, &z
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))
	var sumSq float64
	for _, s := range samples {
		d := s - mean
		sumSq += d * d
	}
	std := math.Sqrt(sumSq / float64(len(samples)-1))
	return &mean, &std
}

// AlteredMeanStdDev exports the altered-statistics rule for callers outside
// this package (the aggregator uses it for per-measurement antenna noise).
func AlteredMeanStdDev(samples []float64) (*float64, *float64) {
	return alteredMeanStdDev(samples)
}
