// Package aggregate folds a stream of decoded 802.11 frames from one
// capture file into a MeasurementResult: the per-station counters,
// per-BSSID beacon timing/jitter and power histories, and the
// per-measurement summary a capture round persists.
package aggregate

import (
	"log/slog"

	"github.com/wifiology/sensor/internal/decode"
	"github.com/wifiology/sensor/internal/model"
)

// MeasurementResult is everything one dwell's frame stream reduces to,
// ready for internal/store to persist in a single transaction.
type MeasurementResult struct {
	Measurement model.Measurement

	Stations    []model.Station
	ServiceSets []model.ServiceSet

	StationCounters map[string]model.DataCounters // MAC -> counters

	BSSIDInfraMacs      map[string]map[string]struct{}
	BSSIDAssociatedMacs map[string]map[string]struct{}

	JitterByBSSID map[string]model.JitterMeasurement

	WeirdFrameCount        uint64
	ActionFrameCount       uint64
	ProbeRequestFrameCount uint64
}

// DataCounters reduces all per-station counters into the single
// per-measurement DataCounters, a componentwise sum over every station
// seen in the window.
func (r *MeasurementResult) DataCounters() model.DataCounters {
	total := model.Zero()
	for _, c := range r.StationCounters {
		total = total.Add(c)
	}
	return total
}

// Aggregator accumulates one measurement's worth of frames. It is not
// safe for concurrent use; the capture loop feeds it frames strictly
// sequentially, in lock-step with reads from the capture file.
type Aggregator struct {
	channel int
	logger  *slog.Logger

	stationCounters map[string]model.DataCounters
	stationsSeen    map[string]struct{}

	bssidInfraMacs      map[string]map[string]struct{}
	bssidAssociatedMacs map[string]map[string]struct{}
	bssidToSSID         map[string][]byte
	bssidHasSSID        map[string]bool
	serviceSetsSeen     map[string]struct{}

	bssidToBeaconTimings map[string][]model.BeaconTiming
	bssidToPower         map[string][]float64

	noiseSamples []float64

	weirdFrameCount        uint64
	actionFrameCount       uint64
	probeRequestFrameCount uint64
}

// New creates an Aggregator for frames observed while dwelling on channel.
func New(channel int, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		channel:              channel,
		logger:               logger,
		stationCounters:      make(map[string]model.DataCounters),
		stationsSeen:         make(map[string]struct{}),
		bssidInfraMacs:       make(map[string]map[string]struct{}),
		bssidAssociatedMacs:  make(map[string]map[string]struct{}),
		bssidToSSID:          make(map[string][]byte),
		bssidHasSSID:         make(map[string]bool),
		serviceSetsSeen:      make(map[string]struct{}),
		bssidToBeaconTimings: make(map[string][]model.BeaconTiming),
		bssidToPower:         make(map[string][]float64),
	}
}

// AddDecodeError records a per-frame decode failure: logged at warning,
// counted as a weird frame, never fatal to the round.
func (a *Aggregator) AddDecodeError(err error) {
	a.weirdFrameCount++
	a.logger.Warn("weird frame: decode failed", slog.String("error", err.Error()))
}

// AddFrame folds one decoded, accepted frame into the running aggregate.
func (a *Aggregator) AddFrame(f *decode.Frame) {
	if f.NoiseDBm != nil {
		a.noiseSamples = append(a.noiseSamples, *f.NoiseDBm)
	}

	switch f.Type {
	case decode.TypeManagement:
		a.addManagement(f)
	case decode.TypeControl:
		a.addControl(f)
	case decode.TypeData:
		a.addData(f)
	}
}

func (a *Aggregator) station(mac string) model.DataCounters {
	a.stationsSeen[mac] = struct{}{}
	return a.stationCounters[mac]
}

func (a *Aggregator) setStation(mac string, c model.DataCounters) {
	a.stationsSeen[mac] = struct{}{}
	a.stationCounters[mac] = c
}

func (a *Aggregator) registerServiceSet(bssid string) {
	if bssid == "" {
		return
	}
	a.serviceSetsSeen[bssid] = struct{}{}
	if a.bssidInfraMacs[bssid] == nil {
		a.bssidInfraMacs[bssid] = make(map[string]struct{})
	}
	if a.bssidAssociatedMacs[bssid] == nil {
		a.bssidAssociatedMacs[bssid] = make(map[string]struct{})
	}
}

func (a *Aggregator) addManagement(f *decode.Frame) {
	if f.Src == "" {
		return
	}
	c := a.station(f.Src)
	c.ManagementFrameCount++

	switch f.Subtype {
	case decode.SubtypeBeacon:
		a.addBeacon(f, &c)
	case decode.SubtypeAssocRequest, decode.SubtypeAssocResponse:
		c.AssociationFrameCount++
	case decode.SubtypeReassocRequest, decode.SubtypeReassocResponse:
		c.ReassociationFrameCount++
	case decode.SubtypeDisassoc:
		c.DisassociationFrameCount++
	case decode.SubtypeAction:
		a.actionFrameCount++
	case decode.SubtypeProbeRequest:
		a.probeRequestFrameCount++
	}

	contributeExtras(&c, f)
	a.setStation(f.Src, c)
}

func (a *Aggregator) addBeacon(f *decode.Frame, c *model.DataCounters) {
	if f.BSSID == "" || f.Beacon == nil {
		return
	}
	a.registerServiceSet(f.BSSID)
	a.bssidInfraMacs[f.BSSID][f.Src] = struct{}{}

	if f.Beacon.HasSSID {
		a.bssidToSSID[f.BSSID] = f.Beacon.SSID
		a.bssidHasSSID[f.BSSID] = true
	}

	onChannel := f.Beacon.PrimaryChannel == nil || *f.Beacon.PrimaryChannel == a.channel
	if !onChannel {
		a.logger.Debug("off-channel beacon excluded from timing/power",
			slog.String("bssid", f.BSSID),
			slog.Int("advertised_channel", *f.Beacon.PrimaryChannel),
			slog.Int("dwell_channel", a.channel),
		)
		return
	}

	a.bssidToBeaconTimings[f.BSSID] = append(a.bssidToBeaconTimings[f.BSSID], model.BeaconTiming{
		TSF:      f.Beacon.Timestamp,
		Interval: f.Beacon.Interval,
	})
	if f.SignalDBm != nil {
		a.bssidToPower[f.BSSID] = append(a.bssidToPower[f.BSSID], *f.SignalDBm)
	}
}

// addControl carries the deliberate RTS/CTS attribution swap: an RTS
// bumps the *source's* ctsFrameCount, a CTS bumps the *destination's*
// rtsFrameCount. The collector's schema counts them this way, so both
// ends of the pipeline have to agree on it.
func (a *Aggregator) addControl(f *decode.Frame) {
	switch f.Subtype {
	case decode.SubtypeRTS:
		if f.Src == "" {
			return
		}
		c := a.station(f.Src)
		c.ControlFrameCount++
		c.CTSFrameCount++
		contributeExtras(&c, f)
		a.setStation(f.Src, c)
	case decode.SubtypeCTS:
		if f.Dst == "" {
			return
		}
		c := a.station(f.Dst)
		c.RTSFrameCount++
		contributeRetry(&c, f)
		a.setStation(f.Dst, c)
	case decode.SubtypeACK:
		if f.Dst == "" {
			return
		}
		c := a.station(f.Dst)
		c.ACKFrameCount++
		contributeRetry(&c, f)
		a.setStation(f.Dst, c)
	case decode.SubtypeBlockAck, decode.SubtypeBlockAckReq, decode.SubtypeCFEnd:
		if f.Src == "" {
			return
		}
		c := a.station(f.Src)
		c.ControlFrameCount++
		contributeExtras(&c, f)
		a.setStation(f.Src, c)
	}
}

func (a *Aggregator) addData(f *decode.Frame) {
	if f.Src != "" {
		c := a.station(f.Src)
		c.DataFrameCount++
		c.DataThroughputOut += uint64(f.DataPayloadLen)
		contributeExtras(&c, f)
		a.setStation(f.Src, c)
	}
	if f.Dst != "" {
		c := a.station(f.Dst)
		c.DataThroughputIn += uint64(f.DataPayloadLen)
		a.setStation(f.Dst, c)
	}

	if f.BSSID == "" {
		return
	}
	switch {
	case f.ToDS && !f.FromDS:
		a.registerServiceSet(f.BSSID)
		if f.Src != "" {
			a.bssidAssociatedMacs[f.BSSID][f.Src] = struct{}{}
		}
		if f.Dst != "" {
			a.bssidInfraMacs[f.BSSID][f.Dst] = struct{}{}
		}
	case f.FromDS && !f.ToDS:
		a.registerServiceSet(f.BSSID)
		if f.Dst != "" {
			a.bssidAssociatedMacs[f.BSSID][f.Dst] = struct{}{}
		}
		if f.Src != "" {
			a.bssidInfraMacs[f.BSSID][f.Src] = struct{}{}
		}
	}
}

// contributeExtras applies the per-frame contributions common to every
// accepted frame except CTS/ACK: retry count, one power and one rate
// sample, and bad-FCS count.
func contributeExtras(c *model.DataCounters, f *decode.Frame) {
	contributeRetry(c, f)
	if f.BadFCS {
		c.FailedFCSCount++
	}
	*c = withSample(*c, f.SignalDBm, f.RateMbps)
}

// contributeRetry applies retryFrameCount, the one contribution every
// accepted frame makes unconditionally, including CTS/ACK (which are
// otherwise excluded from power/rate/FCS extras).
func contributeRetry(c *model.DataCounters, f *decode.Frame) {
	if f.Retry {
		c.RetryFrameCount++
	}
}

// withSample appends one power and/or rate sample to the counters' raw
// sample lists, preserving whatever summary state already exists.
func withSample(c model.DataCounters, power, rate *float64) model.DataCounters {
	merged := model.Zero().Add(c)
	var extra model.DataCounters
	switch {
	case power != nil && rate != nil:
		extra = model.NewDataCountersFromSamples([]float64{*power}, []float64{*rate})
	case power != nil:
		extra = model.NewDataCountersFromSamples([]float64{*power}, nil)
	case rate != nil:
		extra = model.NewDataCountersFromSamples(nil, []float64{*rate})
	default:
		return c
	}
	return merged.Add(extra)
}

// Finish reduces the accumulated state into a MeasurementResult for the
// dwell window [startWall, endWall] of the given (contractual) duration.
func (a *Aggregator) Finish(startWall, endWall, dwellSeconds float64) *MeasurementResult {
	avgNoise, stdNoise := model.AlteredMeanStdDev(a.noiseSamples)

	m := model.Measurement{
		StartTime:    startWall,
		EndTime:      endWall,
		Duration:     dwellSeconds,
		Channel:      a.channel,
		AverageNoise: avgNoise,
		StdDevNoise:  stdNoise,
		ExtraData:    map[string]any{},
	}

	stations := make([]model.Station, 0, len(a.stationsSeen))
	for mac := range a.stationsSeen {
		stations = append(stations, model.Station{MACAddress: mac, ExtraData: map[string]any{}})
	}

	serviceSets := make([]model.ServiceSet, 0, len(a.serviceSetsSeen))
	for bssid := range a.serviceSetsSeen {
		ss := model.ServiceSet{BSSID: bssid, ExtraData: map[string]any{}}
		if a.bssidHasSSID[bssid] {
			ss.SSID = a.bssidToSSID[bssid]
			ss.HasSSID = true
		}
		serviceSets = append(serviceSets, ss)
	}

	jitterByBSSID := make(map[string]model.JitterMeasurement)
	for bssid, timings := range a.bssidToBeaconTimings {
		if len(timings) < 2 {
			continue
		}
		jm, _, err := model.ComputeJitterMeasurement(0, 0, timings)
		if err != nil {
			continue
		}
		if jm.BadIntervals {
			a.logger.Warn("beacon interval changed mid-measurement", slog.String("bssid", bssid))
		}
		jitterByBSSID[bssid] = jm
	}

	return &MeasurementResult{
		Measurement:            m,
		Stations:               stations,
		ServiceSets:            serviceSets,
		StationCounters:        a.stationCounters,
		BSSIDInfraMacs:         a.bssidInfraMacs,
		BSSIDAssociatedMacs:    a.bssidAssociatedMacs,
		JitterByBSSID:          jitterByBSSID,
		WeirdFrameCount:        a.weirdFrameCount,
		ActionFrameCount:       a.actionFrameCount,
		ProbeRequestFrameCount: a.probeRequestFrameCount,
	}
}
