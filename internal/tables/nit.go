package tables

import (
	"encoding/binary"

	"github.com/snapetech/atscscan/internal/descriptor"
	"github.com/snapetech/atscscan/internal/filterpool"
	"github.com/snapetech/atscscan/internal/model"
	"github.com/snapetech/atscscan/internal/psi"
	"github.com/snapetech/atscscan/internal/store"
)

// NITHandler returns a filterpool.SectionHandler that decodes NIT sections
// (actual or other) — two nested descriptor loops: network-level, then one
// per transport stream — reconciling each transport stream descriptor loop
// into ctx.Store when its delivery-system type matches ctx.FrontendDelivery
// (spec.md §4.D "NIT").
func NITHandler(ctx *Context) filterpool.SectionHandler {
	return func(h psi.Header, payload []byte) {
		if len(payload) < 2 {
			return
		}
		ctx.decoded("nit")
		netDescLen := int(binary.BigEndian.Uint16(payload[0:2]) & 0x0FFF)
		pos := 2
		if pos+netDescLen > len(payload) {
			ctx.warn("nit: network descriptor loop overruns")
			return
		}
		// Network-level loop (network_name etc.) is informational only; no
		// store mutation needed per spec.md §4.C tag 0x40.
		pos += netDescLen

		if pos+2 > len(payload) {
			return
		}
		tsLoopLen := int(binary.BigEndian.Uint16(payload[pos:pos+2]) & 0x0FFF)
		pos += 2
		end := pos + tsLoopLen
		if end > len(payload) {
			end = len(payload)
		}

		for pos+6 <= end {
			tsid := binary.BigEndian.Uint16(payload[pos : pos+2])
			onid := binary.BigEndian.Uint16(payload[pos+2 : pos+4])
			descLen := int(binary.BigEndian.Uint16(payload[pos+4:pos+6]) & 0x0FFF)
			pos += 6
			if pos+descLen > end {
				ctx.warn("nit: transport descriptor loop overruns ts_id=%d", tsid)
				break
			}
			loop := payload[pos : pos+descLen]
			pos += descLen

			scratch := &model.Transponder{TransportStreamID: tsid, OriginalNetworkID: onid}
			var lcn uint16
			info, err := descriptor.NITDescriptors(loop, &scratch.OtherFrequenciesHz, ctx.AllowUKFreeviewLCN, &lcn)
			if err != nil {
				ctx.warn("nit: ts_id=%d: %v", tsid, err)
				continue
			}
			if info.Delivery == model.DeliveryUnknown || info.Delivery != ctx.FrontendDelivery {
				continue
			}
			freqHz, ok := info.Params["frequency_hz"].(uint64)
			if !ok {
				continue
			}
			scratch.Delivery = info.Delivery
			scratch.ModulationParams = info.Params
			if otherFreq, ok := info.Params["other_freq"].(bool); ok {
				scratch.OtherFrequencyFlag = otherFreq
			}

			tp, isNew := ctx.Store.FindOrAllocTransponder(freqHz, info.Delivery)
			if isNew {
				tp.TransportStreamID = tsid
				tp.OriginalNetworkID = onid
				tp.ModulationParams = info.Params
				tp.OtherFrequenciesHz = scratch.OtherFrequenciesHz
				tp.OtherFrequencyFlag = scratch.OtherFrequencyFlag
			} else {
				store.CopyTransponder(tp, scratch)
			}
		}
	}
}
