package tables

import (
	"encoding/binary"

	"github.com/snapetech/atscscan/internal/descriptor"
	"github.com/snapetech/atscscan/internal/filterpool"
	"github.com/snapetech/atscscan/internal/model"
	"github.com/snapetech/atscscan/internal/psi"
)

const vctRecordLen = 32

// vctServiceTypeAnalog is excluded: spec.md §8 scenario #3, "an analog
// channel must be filtered out, not ingested as a service".
const vctServiceTypeAnalog = 0x01

// VCTHandler returns a filterpool.SectionHandler that decodes terrestrial or
// cable Virtual Channel Table sections (spec.md §4.D "VCT"). Each fixed
// 32-byte channel record is followed by a descriptor loop that may carry an
// extended_channel_name_descriptor (0xA0, overrides short_name) and a
// service_location_descriptor (0xA1, supplies PCR_PID/video/audio PIDs
// without waiting on PAT/PMT).
func VCTHandler(ctx *Context) filterpool.SectionHandler {
	return func(h psi.Header, payload []byte) {
		if len(payload) < 2 {
			return
		}
		ctx.decoded("vct")
		numChannels := int(payload[1])
		pos := 2
		end := len(payload)

		nextPseudoID := uint16(0xFFFF)

		for i := 0; i < numChannels && pos+vctRecordLen <= end; i++ {
			rec := payload[pos : pos+vctRecordLen]
			pos += vctRecordLen

			var shortName [14]byte
			copy(shortName[:], rec[0:14])
			name := descriptor.DecodeShortName(shortName)

			// reserved(4 bits) + major_channel_number(10 bits) +
			// minor_channel_number(10 bits), packed across 3 bytes.
			majorMinor := uint32(rec[14])<<16 | uint32(rec[15])<<8 | uint32(rec[16])
			major := uint16(majorMinor>>10) & 0x03FF
			minor := uint16(majorMinor) & 0x03FF

			carrierFreq := binary.BigEndian.Uint32(rec[18:22])
			_ = carrierFreq // deprecated field per A/65; carrier is from tuning, not here
			channelTSID := binary.BigEndian.Uint16(rec[22:24])
			programNumber := binary.BigEndian.Uint16(rec[24:26])

			flagsByte := rec[26]
			hidden := flagsByte&0x10 != 0

			serviceType := rec[27] & 0x3F
			sourceID := binary.BigEndian.Uint16(rec[28:30])
			_ = sourceID
			descLen := int(binary.BigEndian.Uint16(rec[30:32]) & 0x03FF)

			if pos+descLen > end {
				ctx.warn("vct: descriptor loop overruns for channel %d.%d", major, minor)
				break
			}
			loop := payload[pos : pos+descLen]
			pos += descLen

			if serviceType == vctServiceTypeAnalog {
				continue
			}
			if serviceType != 0x02 && serviceType != 0x03 {
				ctx.warn("vct: unknown service_type 0x%02x for channel %d.%d, skipping", serviceType, major, minor)
				continue
			}

			sid := programNumber
			if sid == 0 {
				sid = nextPseudoID
				nextPseudoID--
			}

			if ctx.Transponder.TransportStreamID == 0 {
				ctx.Transponder.TransportStreamID = channelTSID
			}

			svc := ctx.Transponder.FindOrAllocService(sid)
			svc.ServiceName = name
			svc.ServiceType = serviceType
			svc.SetChannelNum(major, minor)
			svc.Hidden = hidden
			if hidden {
				svc.Running = model.NotRunning
			} else {
				svc.Running = model.Running
			}

			if err := psi.WalkDescriptors(loop, func(d psi.Descriptor) error {
				switch d.Tag {
				case descriptor.TagExtendedChannelName:
					if n, ok := descriptor.DecodeExtendedChannelName(d.Payload); ok {
						svc.ServiceName = n
					}
				case descriptor.TagServiceLocation:
					if sl, ok := descriptor.DecodeServiceLocation(d.Payload); ok {
						svc.PCRPID = sl.PCRPID
						for _, el := range sl.Elements {
							switch el.StreamType {
							case 0x02:
								if svc.VideoPID == 0 {
									svc.VideoPID = el.PID
								}
							case 0x81, 0x04:
								track := model.AudioTrack{PID: el.PID, Lang: el.Lang, AC3: el.StreamType == 0x81}
								svc.AddAudioTrack(track)
							}
						}
					}
				}
				return nil
			}); err != nil {
				ctx.warn("vct: descriptors for channel %d.%d: %v", major, minor, err)
			}
		}
	}
}
