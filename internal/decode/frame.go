// Package decode turns a raw radiotap+802.11 frame buffer into a typed
// Frame record. Radiotap presence bits are honored literally: an absent
// field surfaces as a nil pointer, never a zero value, so the aggregator
// can distinguish "no reading" from "0 dBm".
package decode

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Type is the top-level 802.11 frame class.
type Type int

const (
	TypeManagement Type = iota
	TypeControl
	TypeData
	TypeUnknown
)

// Subtype names the specific frame within its Type, as needed by the
// aggregator's per-frame rules.
type Subtype int

const (
	SubtypeUnknown Subtype = iota
	SubtypeBeacon
	SubtypeProbeRequest
	SubtypeProbeResponse
	SubtypeAssocRequest
	SubtypeAssocResponse
	SubtypeReassocRequest
	SubtypeReassocResponse
	SubtypeDisassoc
	SubtypeAction
	SubtypeRTS
	SubtypeCTS
	SubtypeACK
	SubtypeBlockAck
	SubtypeBlockAckReq
	SubtypeCFEnd
)

// Frame is the decoder's output for one accepted radiotap+802.11 buffer.
type Frame struct {
	Type    Type
	Subtype Subtype

	Src   string // lowercase colon-separated hex, "" if absent
	Dst   string
	BSSID string // "" when the frame carries no BSSID (Address3 absent/irrelevant)

	Retry  bool
	ToDS   bool
	FromDS bool

	RateMbps  *float64
	SignalDBm *float64
	NoiseDBm  *float64
	BadFCS    bool

	DataPayloadLen int

	Beacon *BeaconInfo // non-nil only for beacon/probe-response frames
}

// BeaconInfo carries the beacon-specific fields: TSF timestamp, beacon
// interval, and the tagged-element summary.
type BeaconInfo struct {
	Timestamp uint64 // TSF, µs
	Interval  uint16 // TU (1 TU = 1024 µs)

	SSID    []byte // raw, may be nonprintable; nil if the IE is absent
	HasSSID bool

	PrimaryChannel *int // from the DS Parameter Set IE, nil if absent
	CountryCode    []byte
	SupportedRates []float64 // Mbps

	MinPowerDBm *int8
	MaxPowerDBm *int8

	Crypto CryptoSummary
}

// CryptoSummary is the beacon's advertised security posture.
type CryptoSummary int

const (
	CryptoOpen CryptoSummary = iota
	CryptoWEP
	CryptoWPA
	CryptoWPA2
)

func (c CryptoSummary) String() string {
	switch c {
	case CryptoWEP:
		return "WEP"
	case CryptoWPA:
		return "WPA"
	case CryptoWPA2:
		return "WPA2"
	default:
		return "OPN"
	}
}

// ErrNoDot11Layer is returned when the buffer has no decodable 802.11
// MAC frame (e.g. radiotap-only noise, or a non-Dot11 capture source).
var ErrNoDot11Layer = fmt.Errorf("decode: no 802.11 layer in frame")

// Decode parses one radiotap-prefixed 802.11 frame buffer. A decode
// failure here is a per-frame condition for the caller to count as a
// weird frame and continue past; it is never fatal to the capture round.
func Decode(data []byte) (*Frame, error) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeRadioTap, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	dot11Layer := pkt.Layer(layers.LayerTypeDot11)
	if dot11Layer == nil {
		return nil, ErrNoDot11Layer
	}
	dot11, ok := dot11Layer.(*layers.Dot11)
	if !ok {
		return nil, ErrNoDot11Layer
	}

	f := &Frame{
		Retry:  dot11.Flags.Retry(),
		ToDS:   dot11.Flags.ToDS(),
		FromDS: dot11.Flags.FromDS(),
	}
	if dot11.Address2 != nil {
		f.Src = dot11.Address2.String()
	}
	if dot11.Address1 != nil {
		f.Dst = dot11.Address1.String()
	}
	if dot11.Address3 != nil {
		f.BSSID = dot11.Address3.String()
	}

	applyRadiotap(pkt, f)

	switch dot11.Type.MainType() {
	case layers.Dot11TypeMgmt:
		f.Type = TypeManagement
		decodeManagementSubtype(pkt, dot11, f)
	case layers.Dot11TypeCtrl:
		f.Type = TypeControl
		decodeControlSubtype(dot11, f)
	case layers.Dot11TypeData:
		f.Type = TypeData
		if payload := dot11Layer.LayerPayload(); payload != nil {
			f.DataPayloadLen = len(payload)
		}
	default:
		f.Type = TypeUnknown
	}

	return f, nil
}

func applyRadiotap(pkt gopacket.Packet, f *Frame) {
	layer := pkt.Layer(layers.LayerTypeRadioTap)
	if layer == nil {
		return
	}
	rt, ok := layer.(*layers.RadioTap)
	if !ok {
		return
	}
	if rt.Present.Rate() {
		v := float64(rt.Rate) * 0.5
		f.RateMbps = &v
	}
	if rt.Present.DBMAntennaSignal() {
		v := float64(rt.DBMAntennaSignal)
		f.SignalDBm = &v
	}
	if rt.Present.DBMAntennaNoise() {
		v := float64(rt.DBMAntennaNoise)
		f.NoiseDBm = &v
	}
	if rt.Present.Flags() {
		f.BadFCS = rt.Flags.BadFCS()
	}
}

func decodeManagementSubtype(pkt gopacket.Packet, dot11 *layers.Dot11, f *Frame) {
	switch dot11.Type {
	case layers.Dot11TypeMgmtBeacon:
		f.Subtype = SubtypeBeacon
		f.Beacon = decodeBeacon(pkt, layers.LayerTypeDot11MgmtBeacon)
	case layers.Dot11TypeMgmtProbeReq:
		f.Subtype = SubtypeProbeRequest
	case layers.Dot11TypeMgmtProbeResp:
		f.Subtype = SubtypeProbeResponse
		f.Beacon = decodeBeacon(pkt, layers.LayerTypeDot11MgmtProbeResp)
	case layers.Dot11TypeMgmtAssociationReq:
		f.Subtype = SubtypeAssocRequest
	case layers.Dot11TypeMgmtAssociationResp:
		f.Subtype = SubtypeAssocResponse
	case layers.Dot11TypeMgmtReassociationReq:
		f.Subtype = SubtypeReassocRequest
	case layers.Dot11TypeMgmtReassociationResp:
		f.Subtype = SubtypeReassocResponse
	case layers.Dot11TypeMgmtDisassociation:
		f.Subtype = SubtypeDisassoc
	case layers.Dot11TypeMgmtAction:
		f.Subtype = SubtypeAction
	}
}

func decodeControlSubtype(dot11 *layers.Dot11, f *Frame) {
	switch dot11.Type {
	case layers.Dot11TypeCtrlRTS:
		f.Subtype = SubtypeRTS
	case layers.Dot11TypeCtrlCTS:
		f.Subtype = SubtypeCTS
	case layers.Dot11TypeCtrlAck:
		f.Subtype = SubtypeACK
	case layers.Dot11TypeCtrlBlockAckReq:
		f.Subtype = SubtypeBlockAckReq
	case layers.Dot11TypeCtrlBlockAck:
		f.Subtype = SubtypeBlockAck
	case layers.Dot11TypeCtrlCFEnd:
		f.Subtype = SubtypeCFEnd
	}
}

// decodeBeacon extracts the TSF/interval fixed fields and delegates tagged
// element parsing to collectTaggedElements. Both beacons and probe responses
// share the same fixed-field layout (timestamp, interval, capability info)
// followed by the same tagged-element stream.
func decodeBeacon(pkt gopacket.Packet, lt gopacket.LayerType) *BeaconInfo {
	layer := pkt.Layer(lt)
	if layer == nil {
		return nil
	}

	info := &BeaconInfo{}
	var capabilityInfo uint16
	switch b := layer.(type) {
	case *layers.Dot11MgmtBeacon:
		info.Timestamp = b.Timestamp
		info.Interval = b.Interval
		capabilityInfo = b.Flags
	case *layers.Dot11MgmtProbeResp:
		info.Timestamp = b.Timestamp
		info.Interval = b.Interval
		capabilityInfo = b.Flags
	default:
		return nil
	}

	applyTaggedElements(collectTaggedElements(pkt, layer.LayerPayload()), info)
	applyCapabilityInfo(capabilityInfo, info)
	return info
}
