package tables

import (
	"encoding/binary"

	"github.com/snapetech/atscscan/internal/descriptor"
	"github.com/snapetech/atscscan/internal/filterpool"
	"github.com/snapetech/atscscan/internal/model"
	"github.com/snapetech/atscscan/internal/psi"
)

// runningStatus maps the 3-bit DVB running_status field to model.RunningState.
func runningStatus(v byte) model.RunningState {
	switch v {
	case 0x02:
		return model.StartsSoon
	case 0x03:
		return model.Pausing
	case 0x04:
		return model.Running
	default:
		return model.NotRunning
	}
}

// SDTHandler returns a filterpool.SectionHandler that decodes SDT sections
// (actual or other) into ctx.Transponder's service set, per spec.md §4.D
// "SDT". A service may be seen in SDT before PAT, allocated with pmt_pid=0
// and completed later when PAT arrives.
func SDTHandler(ctx *Context) filterpool.SectionHandler {
	return func(h psi.Header, payload []byte) {
		if len(payload) < 3 {
			return
		}
		ctx.decoded("sdt")
		if ctx.Transponder.TransportStreamID == 0 {
			ctx.Transponder.TransportStreamID = h.TableIDExtension
		}
		ctx.Transponder.OriginalNetworkID = binary.BigEndian.Uint16(payload[0:2])

		pos := 3
		end := len(payload)
		for pos+5 <= end {
			sid := binary.BigEndian.Uint16(payload[pos : pos+2])
			b3 := payload[pos+3]
			descLoopLen := int(binary.BigEndian.Uint16(payload[pos+3:pos+5]) & 0x0FFF)
			pos += 5
			if pos+descLoopLen > end {
				ctx.warn("sdt: descriptor loop overruns for service %d", sid)
				break
			}
			loop := payload[pos : pos+descLoopLen]
			pos += descLoopLen

			svc := ctx.Transponder.FindOrAllocService(sid)
			svc.Running = runningStatus((b3 >> 5) & 0x07)
			svc.Scrambled = b3&0x10 != 0
			if err := descriptor.SDTDescriptors(loop, svc); err != nil {
				ctx.warn("sdt: descriptors for service %d: %v", sid, err)
			}
		}
	}
}
