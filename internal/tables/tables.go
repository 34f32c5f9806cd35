// Package tables implements the Table Decoders from spec.md §4.D: PAT, PMT,
// SDT, NIT, and ATSC VCT. Each decoder consumes a reassembled section
// payload and mutates the transponder/service store, possibly scheduling
// new filters (a PMT filter per PAT program entry).
package tables

import (
	"context"
	"encoding/binary"
	"log"

	"github.com/snapetech/atscscan/internal/descriptor"
	"github.com/snapetech/atscscan/internal/filterpool"
	"github.com/snapetech/atscscan/internal/model"
	"github.com/snapetech/atscscan/internal/psi"
	"github.com/snapetech/atscscan/internal/store"
)

// Table ids named in spec.md §4.D / GLOSSARY.
const (
	TableIDPAT        = 0x00
	TableIDPMT        = 0x02
	TableIDSDTActual  = 0x42
	TableIDSDTOther   = 0x46
	TableIDNITActual  = 0x40
	TableIDNITOther   = 0x41
	TableIDVCTTerr    = 0xC8
	TableIDVCTCable   = 0xC9
)

// PID values named in spec.md §4.D/§4.F.
const (
	PIDPAT      = 0x0000
	PIDPSIPBase = 0x1FFB // terrestrial/cable VCT
	PIDSDT      = 0x0011 // DVB SDT actual/other
	PIDNIT      = 0x0010 // DVB NIT actual/other
)

// Context bundles everything a table decoder needs beyond the section
// payload itself: the store, the filter pool (to schedule follow-on
// filters), the transponder currently being scanned, and the operator
// switches named in spec.md §4.C/§9.
type Context struct {
	Store       *store.Store
	Pool        *filterpool.Pool
	Transponder *model.Transponder

	// FrontendDelivery is the tuner's current delivery-system type; NIT
	// transport-stream entries are only reconciled into the store when
	// their decoded delivery type matches (spec.md §4.D).
	FrontendDelivery model.DeliverySystem

	// AllowUKFreeviewLCN opts into NIT descriptor tag 0x83 (spec.md §4.C).
	AllowUKFreeviewLCN bool

	Warnf func(format string, args ...any)

	// OnDecoded, if set, is called once per successfully decoded section,
	// keyed by table name — the scanner's metrics-wiring seam for
	// component G's sections-decoded counter.
	OnDecoded func(table string)
}

func (c *Context) warn(format string, args ...any) {
	if c.Warnf != nil {
		c.Warnf(format, args...)
		return
	}
	log.Printf("tables: "+format, args...)
}

func (c *Context) decoded(table string) {
	if c.OnDecoded != nil {
		c.OnDecoded(table)
	}
}

// PATHandler returns a filterpool.SectionHandler that decodes PAT sections
// into ctx.Transponder's service set and submits a run_once PMT filter for
// every non-zero program_number (spec.md §4.D "PAT").
func PATHandler(ctx *Context) filterpool.SectionHandler {
	return func(h psi.Header, payload []byte) {
		ctx.decoded("pat")
		for i := 0; i+4 <= len(payload); i += 4 {
			progNum := binary.BigEndian.Uint16(payload[i : i+2])
			pid := binary.BigEndian.Uint16(payload[i+2:i+4]) & 0x1FFF
			if progNum == 0 {
				continue // network_PID entry, not a program
			}
			svc := ctx.Transponder.FindOrAllocService(progNum)
			svc.PMTPID = pid

			ext := progNum
			f := &filterpool.Filter{
				PID:              pid,
				TableID:          TableIDPMT,
				TableIDExtension: &ext,
				RunOnce:          true,
				OnSection:        PMTHandler(ctx, svc),
			}
			if err := ctx.Pool.Submit(context.Background(), f); err != nil {
				ctx.warn("pat: submit pmt pid=0x%04x: %v", pid, err)
			}
		}
	}
}

// PMTHandler returns a filterpool.SectionHandler that decodes one PMT
// section into svc (spec.md §4.D "PMT").
func PMTHandler(ctx *Context, svc *model.Service) filterpool.SectionHandler {
	return func(h psi.Header, payload []byte) {
		if len(payload) < 4 {
			return
		}
		ctx.decoded("pmt")
		svc.PCRPID = binary.BigEndian.Uint16(payload[0:2]) & 0x1FFF
		progInfoLen := int(binary.BigEndian.Uint16(payload[2:4]) & 0x0FFF)
		pos := 4 + progInfoLen
		if pos > len(payload) {
			return
		}
		end := len(payload)
		for pos+5 <= end {
			streamType := payload[pos]
			pid := binary.BigEndian.Uint16(payload[pos+1:pos+3]) & 0x1FFF
			esInfoLen := int(binary.BigEndian.Uint16(payload[pos+3:pos+5]) & 0x0FFF)
			pos += 5
			if pos+esInfoLen > end {
				break
			}
			esLoop := payload[pos : pos+esInfoLen]
			pos += esInfoLen

			switch streamType {
			case 0x01, 0x02, 0x1B:
				if svc.VideoPID == 0 {
					svc.VideoPID = pid
				}
			case 0x03, 0x04, 0x0F, 0x11, 0x81:
				track := model.AudioTrack{PID: pid}
				if streamType == 0x81 {
					track.AC3 = true
				}
				if err := descriptor.AudioDescriptors(esLoop, &track); err != nil {
					ctx.warn("pmt: audio descriptors pid=0x%04x: %v", pid, err)
				}
				if !svc.AddAudioTrack(track) {
					ctx.warn("pmt: service %d already has max audio tracks, dropping pid=0x%04x", svc.ServiceID, pid)
				}
			case 0x06:
				pf := descriptor.PMTProbeDescriptors(esLoop)
				if pf.Teletext {
					svc.HasTeletext, svc.TeletextPID = true, pid
				}
				if pf.Subtitling {
					svc.HasSubtitling, svc.SubtitlingPID = true, pid
				}
				if pf.AC3 {
					svc.HasAC3, svc.AC3PID = true, pid
				}
			case 0x07, 0x0B:
				// MHEG / DSM-CC: no-op, per spec.md §4.D.
			default:
				ctx.warn("pmt: unknown stream_type 0x%02x pid=0x%04x service=%d", streamType, pid, svc.ServiceID)
			}
		}
	}
}
