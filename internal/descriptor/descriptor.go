// Package descriptor implements the Descriptor Parser from spec.md §4.C: it
// walks a length-prefixed descriptor loop and dispatches each record by tag
// within a table context (PMT/SDT/NIT), since the same tag byte means
// different things in different tables. Unknown tags are skipped by length
// (handled upstream by psi.WalkDescriptors); ATSC-specific tags live in
// atsc.go since they use their own tag space.
package descriptor

import (
	"strings"

	"github.com/snapetech/atscscan/internal/model"
	"github.com/snapetech/atscscan/internal/psi"
)

// DVB descriptor tags, scoped to the table context named in spec.md §4.C.
const (
	TagISO639Language  = 0x0A // PMT: audio language
	TagNetworkName     = 0x40 // NIT
	TagSatelliteDeliv  = 0x43 // NIT
	TagCableDeliv      = 0x44 // NIT
	TagServiceDescr    = 0x48 // SDT
	TagCAIdentifier    = 0x53 // SDT
	TagTeletext        = 0x56 // PMT (probe, inside private-data ES loop)
	TagSubtitling      = 0x59 // PMT (probe)
	TagTerrestrialDeliv = 0x5A // NIT
	TagFreqListNIT     = 0x62 // NIT: alternate-frequency list
	TagAC3Audio        = 0x6A // PMT (probe)
	TagUKFreeviewLCN   = 0x83 // NIT, user-private range, operator opt-in only
)

// AudioDescriptors walks an elementary-stream descriptor loop looking for an
// ISO 639 language code to attach to track (spec.md §4.C tag 0x0A).
func AudioDescriptors(loop []byte, track *model.AudioTrack) error {
	return psi.WalkDescriptors(loop, func(d psi.Descriptor) error {
		if d.Tag == TagISO639Language && len(d.Payload) >= 3 {
			track.Lang = strings.ToLower(string(d.Payload[0:3]))
		}
		return nil
	})
}

// ProbeFlags is the result of scanning a private-data (stream_type 0x06)
// elementary stream's inner descriptor loop for teletext/subtitling/AC-3
// markers (spec.md §4.D "Private-data — inspect inner descriptor loop").
type ProbeFlags struct {
	Teletext   bool
	Subtitling bool
	AC3        bool
}

// PMTProbeDescriptors walks loop and sets the matching ProbeFlags field for
// each marker descriptor found (tags 0x56/0x59/0x6A; presence alone marks
// the PID, no payload fields are needed per spec.md §4.C).
func PMTProbeDescriptors(loop []byte) ProbeFlags {
	var pf ProbeFlags
	_ = psi.WalkDescriptors(loop, func(d psi.Descriptor) error {
		switch d.Tag {
		case TagTeletext:
			pf.Teletext = true
		case TagSubtitling:
			pf.Subtitling = true
		case TagAC3Audio:
			pf.AC3 = true
		}
		return nil
	})
	return pf
}

// SDTDescriptors walks an SDT service's descriptor loop, applying
// service_descriptor (0x48) and CA_identifier_descriptor (0x53) to svc,
// per spec.md §4.C.
func SDTDescriptors(loop []byte, svc *model.Service) error {
	return psi.WalkDescriptors(loop, func(d psi.Descriptor) error {
		switch d.Tag {
		case TagServiceDescr:
			applyServiceDescriptor(d.Payload, svc)
		case TagCAIdentifier:
			for i := 0; i+2 <= len(d.Payload); i += 2 {
				id := uint16(d.Payload[i])<<8 | uint16(d.Payload[i+1])
				svc.AddCASystemID(id)
			}
		}
		return nil
	})
}

// applyServiceDescriptor decodes DVB service_descriptor (tag 0x48):
// service_type(1), provider_name (length-prefixed), service_name
// (length-prefixed).
func applyServiceDescriptor(d []byte, svc *model.Service) {
	if len(d) < 3 {
		return
	}
	svc.ServiceType = d[0]
	provLen := int(d[1])
	if 2+provLen+1 > len(d) {
		return
	}
	svc.ProviderName = decodeDVBString(d[2 : 2+provLen])
	off := 2 + provLen
	nameLen := int(d[off])
	off++
	if off+nameLen > len(d) {
		return
	}
	svc.ServiceName = decodeDVBString(d[off : off+nameLen])
}

// decodeDVBString strips the DVB character-table selector byte/prefix and
// returns the remaining text; full multi-charset transcoding is the
// operator's character-set conversion layer (out of scope, spec.md §1) — see
// DESIGN.md for why this one case stays on the standard library.
func decodeDVBString(d []byte) string {
	if len(d) == 0 {
		return ""
	}
	if d[0] == 0x10 && len(d) >= 3 {
		d = d[3:]
	} else if d[0] < 0x20 {
		d = d[1:]
	}
	b := make([]byte, 0, len(d))
	for _, c := range d {
		if c >= 0x80 && c <= 0x9F {
			continue
		}
		b = append(b, c)
	}
	return strings.TrimSpace(string(b))
}

// NITDeliveryInfo is the scratch result of decoding one of the three NIT
// delivery-system descriptors (spec.md §4.C tags 0x43/0x44/0x5A).
type NITDeliveryInfo struct {
	Delivery model.DeliverySystem
	Params   map[string]any
}

// NITDescriptors walks a per-transport-stream NIT descriptor loop, returning
// the decoded delivery info (if any delivery descriptor was present),
// appending to otherFreqs when tag 0x62 is present, and recording a logical
// channel number into lcn when allowLCN is true and tag 0x83 is present
// (spec.md §4.C: "only when the operator opts in").
func NITDescriptors(loop []byte, otherFreqs *[]uint64, allowLCN bool, lcn *uint16) (NITDeliveryInfo, error) {
	var info NITDeliveryInfo
	err := psi.WalkDescriptors(loop, func(d psi.Descriptor) error {
		switch d.Tag {
		case TagSatelliteDeliv:
			info = decodeSatelliteDelivery(d.Payload)
		case TagCableDeliv:
			info = decodeCableDelivery(d.Payload)
		case TagTerrestrialDeliv:
			info = decodeTerrestrialDelivery(d.Payload)
		case TagFreqListNIT:
			for i := 0; i+4 <= len(d.Payload); i += 4 {
				hz := uint64(psi.DecodeBCD32(beUint32(d.Payload[i:i+4]))) * 10 // BCD freq in 10Hz units, DVB convention
				*otherFreqs = append(*otherFreqs, hz)
			}
		case TagUKFreeviewLCN:
			if allowLCN && len(d.Payload) >= 4 {
				*lcn = beUint16(d.Payload[2:4]) & 0x03FF
			}
		}
		return nil
	})
	return info, err
}

func decodeSatelliteDelivery(d []byte) NITDeliveryInfo {
	if len(d) < 11 {
		return NITDeliveryInfo{}
	}
	freqHz := uint64(psi.DecodeBCD32(beUint32(d[0:4]))) * 10_000 // 10 kHz units, BCD
	symRate := psi.DecodeBCD32(beUint32(d[7:11])>>4) * 100
	return NITDeliveryInfo{
		Delivery: model.DeliveryDVBS,
		Params: map[string]any{
			"frequency_hz": freqHz,
			"symbol_rate":  symRate,
		},
	}
}

func decodeCableDelivery(d []byte) NITDeliveryInfo {
	if len(d) < 11 {
		return NITDeliveryInfo{}
	}
	freqHz := uint64(psi.DecodeBCD32(beUint32(d[0:4]))) * 100 // 100 Hz units, BCD
	symRate := psi.DecodeBCD32(beUint32(d[7:11])>>4) * 100
	return NITDeliveryInfo{
		Delivery: model.DeliveryDVBC,
		Params: map[string]any{
			"frequency_hz": freqHz,
			"symbol_rate":  symRate,
			"modulation":   d[6],
		},
	}
}

func decodeTerrestrialDelivery(d []byte) NITDeliveryInfo {
	if len(d) < 11 {
		return NITDeliveryInfo{}
	}
	freqHz := uint64(beUint32(d[0:4])) * 10 // 10 Hz units, binary (not BCD) per EN 300 468
	return NITDeliveryInfo{
		Delivery: model.DeliveryDVBT,
		Params: map[string]any{
			"frequency_hz":   freqHz,
			"bandwidth_mhz":  8, // default per spec.md §4.C "8-MHz bandwidth default"
			"constellation":  (d[4] >> 6) & 0x03,
			"hierarchy":      (d[4] >> 3) & 0x07,
			"code_rate_hp":   d[4] & 0x07,
			"guard_interval": (d[5] >> 0) & 0x03,
			"transmission":   (d[5] >> 2) & 0x03,
			"other_freq":     d[5]&0x01 != 0,
		},
	}
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
