package model

import "errors"

// Sentinel errors for invariant violations.
var (
	ErrMeasurementTimeOrder = errors.New("model: measurement start time after end time")
	ErrMeasurementDuration  = errors.New("model: measurement duration negative")
	ErrMeasurementChannel   = errors.New("model: channel outside 1..11")
	ErrDuplicateStationMAC  = errors.New("model: duplicate station MAC address")
	ErrDuplicateBSSID       = errors.New("model: duplicate service set BSSID")
	ErrJitterTooFewSamples  = errors.New("model: jitter measurement needs at least 2 beacon timing samples")
)
