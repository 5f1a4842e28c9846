package model

import "time"

// Measurement is one observation window on one channel.
type Measurement struct {
	ID              int64
	StartTime       float64 // wall-clock seconds
	EndTime         float64
	Duration        float64
	Channel         int
	AverageNoise    *float64 // dBm
	StdDevNoise     *float64 // dBm
	HasBeenUploaded bool
	ExtraData       map[string]any
}

// Valid checks a Measurement's invariants: start <= end, duration >= 0,
// channel in 1..11.
func (m Measurement) Valid() error {
	if m.StartTime > m.EndTime {
		return ErrMeasurementTimeOrder
	}
	if m.Duration < 0 {
		return ErrMeasurementDuration
	}
	if m.Channel < 1 || m.Channel > 11 {
		return ErrMeasurementChannel
	}
	return nil
}

// StartTimeTime returns StartTime as a time.Time for log/display use.
func (m Measurement) StartTimeTime() time.Time {
	return time.Unix(0, int64(m.StartTime*float64(time.Second)))
}

// Station is a MAC address observed at least once, ever.
type Station struct {
	ID         int64
	MACAddress string
	ExtraData  map[string]any
}

// ServiceSet is a BSSID with an optional last-seen SSID.
// SSID bytes may be nonprintable and are stored raw.
type ServiceSet struct {
	ID        int64
	BSSID     string
	SSID      []byte
	HasSSID   bool
	ExtraData map[string]any
}

// MeasurementStation is the (measurement, station) association carrying
// that station's counters within the measurement's window.
type MeasurementStation struct {
	MeasurementID int64
	StationID     int64
	Counters      DataCounters
}

// KVEntry is one row of the flat KV sidecar.
type KVEntry struct {
	Key   string
	Value any // JSON-encoded on write, decoded on read
}
