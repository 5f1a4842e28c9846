package decode

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// 802.11 information element IDs used by the tagged-element summary.
const (
	ieIDSSID            = 0
	ieIDSupportedRates  = 1
	ieIDDSParameterSet  = 3
	ieIDCountry         = 7
	ieIDPowerCapability = 33
	ieIDRSN             = 48
	ieIDExtendedRates   = 50
	ieIDVendorSpecific  = 221
)

// microsoftWPAOUI identifies the vendor-specific Microsoft WPA element
// (OUI 00:50:F2, type 1).
var microsoftWPAOUI = [3]byte{0x00, 0x50, 0xf2}

const microsoftWPAType = 1

// capabilityPrivacyBit is bit 0 of the 802.11 capability information
// field.
const capabilityPrivacyBit = 0x0001

type taggedElement struct {
	id   byte
	info []byte
}

// parseTaggedElements walks a raw IE byte stream as a TLV sequence:
// [id(1) length(1) value(length)], stopping at the first malformed or
// truncated entry rather than erroring; trailing junk in a capture is
// common and non-fatal.
func parseTaggedElements(data []byte) []taggedElement {
	var out []taggedElement
	for len(data) >= 2 {
		id := data[0]
		length := int(data[1])
		if len(data) < 2+length {
			break
		}
		out = append(out, taggedElement{id: id, info: data[2 : 2+length]})
		data = data[2+length:]
	}
	return out
}

// collectTaggedElements prefers gopacket's own chained
// Dot11InformationElement layers when present (each IE layer's
// NextLayerType is another IE, so every element becomes its own layer),
// falling back to a manual TLV walk over the raw payload only when no IE
// layer was decoded.
func collectTaggedElements(pkt gopacket.Packet, payload []byte) []taggedElement {
	var out []taggedElement
	for _, l := range pkt.Layers() {
		if l.LayerType() != layers.LayerTypeDot11InformationElement {
			continue
		}
		ie, ok := l.(*layers.Dot11InformationElement)
		if !ok {
			continue
		}
		out = append(out, taggedElement{id: byte(ie.ID), info: ie.Info})
	}
	if len(out) > 0 {
		return out
	}
	return parseTaggedElements(payload)
}

func applyTaggedElements(elements []taggedElement, info *BeaconInfo) {
	hasRSN := false
	hasMSWPA := false

	for _, e := range elements {
		switch e.id {
		case ieIDSSID:
			info.SSID = append([]byte(nil), e.info...)
			info.HasSSID = true
		case ieIDDSParameterSet:
			if len(e.info) >= 1 {
				ch := int(e.info[0])
				info.PrimaryChannel = &ch
			}
		case ieIDCountry:
			if len(e.info) >= 2 {
				info.CountryCode = append([]byte(nil), e.info[:2]...)
			}
		case ieIDSupportedRates, ieIDExtendedRates:
			for _, b := range e.info {
				info.SupportedRates = append(info.SupportedRates, decodeRateByte(b))
			}
		case ieIDPowerCapability:
			if len(e.info) >= 2 {
				minP := int8(e.info[0])
				maxP := int8(e.info[1])
				info.MinPowerDBm = &minP
				info.MaxPowerDBm = &maxP
			}
		case ieIDRSN:
			hasRSN = true
		case ieIDVendorSpecific:
			if isMicrosoftWPA(e.info) {
				hasMSWPA = true
			}
		}
	}

	switch {
	case hasRSN:
		info.Crypto = CryptoWPA2
	case hasMSWPA:
		info.Crypto = CryptoWPA
	default:
		info.Crypto = CryptoOpen // upgraded to CryptoWEP by applyCapabilityInfo if the privacy bit is set
	}
}

func applyCapabilityInfo(capabilityInfo uint16, info *BeaconInfo) {
	if info.Crypto == CryptoOpen && capabilityInfo&capabilityPrivacyBit != 0 {
		info.Crypto = CryptoWEP
	}
}

// decodeRateByte converts a Supported Rates IE octet to Mbps. The high
// bit marks a "basic rate"; the remaining 7 bits are in 500 kbps units.
func decodeRateByte(b byte) float64 {
	return float64(b&0x7f) * 0.5
}

// isMicrosoftWPA reports whether a vendor-specific IE's payload begins
// with the Microsoft WPA OUI and type byte.
func isMicrosoftWPA(info []byte) bool {
	if len(info) < 4 {
		return false
	}
	return info[0] == microsoftWPAOUI[0] && info[1] == microsoftWPAOUI[1] && info[2] == microsoftWPAOUI[2] && info[3] == microsoftWPAType
}
