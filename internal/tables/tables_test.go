package tables

import (
	"encoding/binary"
	"testing"

	"github.com/snapetech/atscscan/internal/filterpool"
	"github.com/snapetech/atscscan/internal/frontend/simulated"
	"github.com/snapetech/atscscan/internal/model"
	"github.com/snapetech/atscscan/internal/psi"
)

func buildPATPayload(entries map[uint16]uint16) []byte {
	var payload []byte
	for prog, pid := range entries {
		e := make([]byte, 4)
		binary.BigEndian.PutUint16(e[0:2], prog)
		binary.BigEndian.PutUint16(e[2:4], pid&0x1FFF)
		payload = append(payload, e...)
	}
	return payload
}

func TestPATHandlerAllocatesServicesAndSubmitsPMT(t *testing.T) {
	tp := &model.Transponder{}
	dev := simulated.New(model.DeliveryATSC)
	pool := filterpool.NewPool(dev, "/dev/demux0")
	ctx := &Context{Store: nil, Pool: pool, Transponder: tp}

	payload := buildPATPayload(map[uint16]uint16{0: 0x1FFF, 1: 0x0041})
	PATHandler(ctx)(psi.Header{}, payload)

	svc := tp.FindService(1)
	if svc == nil {
		t.Fatalf("expected service 1 allocated from PAT")
	}
	if svc.PMTPID != 0x0041 {
		t.Fatalf("expected pmt_pid 0x41, got 0x%04x", svc.PMTPID)
	}
	if pool.ScheduledCount() != 1 {
		t.Fatalf("expected 1 scheduled PMT filter, got %d", pool.ScheduledCount())
	}
}

func TestPATAndPMTHandlersReportDecodedTable(t *testing.T) {
	tp := &model.Transponder{}
	dev := simulated.New(model.DeliveryATSC)
	pool := filterpool.NewPool(dev, "/dev/demux0")
	var decoded []string
	ctx := &Context{Pool: pool, Transponder: tp, OnDecoded: func(table string) { decoded = append(decoded, table) }}

	PATHandler(ctx)(psi.Header{}, buildPATPayload(map[uint16]uint16{1: 0x0041}))
	svc := tp.FindOrAllocService(1)
	PMTHandler(ctx, svc)(psi.Header{}, buildPMTPayload(0x31, nil))

	if len(decoded) != 2 || decoded[0] != "pat" || decoded[1] != "pmt" {
		t.Fatalf("expected [pat pmt] reported, got %v", decoded)
	}
}

func buildPMTPayload(pcrPID uint16, streams []struct {
	streamType byte
	pid        uint16
	esInfo     []byte
}) []byte {
	head := make([]byte, 4)
	binary.BigEndian.PutUint16(head[0:2], pcrPID&0x1FFF)
	binary.BigEndian.PutUint16(head[2:4], 0) // program_info_length = 0
	payload := head
	for _, s := range streams {
		e := make([]byte, 5)
		e[0] = s.streamType
		binary.BigEndian.PutUint16(e[1:3], s.pid&0x1FFF)
		binary.BigEndian.PutUint16(e[3:5], uint16(len(s.esInfo))&0x0FFF)
		payload = append(payload, e...)
		payload = append(payload, s.esInfo...)
	}
	return payload
}

func TestPMTHandlerVideoAndAudio(t *testing.T) {
	tp := &model.Transponder{}
	svc := tp.FindOrAllocService(1)
	ctx := &Context{Transponder: tp}

	payload := buildPMTPayload(0x31, []struct {
		streamType byte
		pid        uint16
		esInfo     []byte
	}{
		{streamType: 0x02, pid: 0x100, esInfo: nil},
		{streamType: 0x81, pid: 0x101, esInfo: []byte{0x0A, 3, 'e', 'n', 'g'}},
	})
	PMTHandler(ctx, svc)(psi.Header{}, payload)

	if svc.PCRPID != 0x31 {
		t.Fatalf("expected pcr pid 0x31, got 0x%x", svc.PCRPID)
	}
	if svc.VideoPID != 0x100 {
		t.Fatalf("expected video pid 0x100, got 0x%x", svc.VideoPID)
	}
	if len(svc.AudioTracks) != 1 || svc.AudioTracks[0].PID != 0x101 || !svc.AudioTracks[0].AC3 {
		t.Fatalf("unexpected audio tracks: %+v", svc.AudioTracks)
	}
	if svc.AudioTracks[0].Lang != "eng" {
		t.Fatalf("expected lang eng, got %q", svc.AudioTracks[0].Lang)
	}
}

func TestPMTHandlerPrivateDataProbes(t *testing.T) {
	tp := &model.Transponder{}
	svc := tp.FindOrAllocService(1)
	ctx := &Context{Transponder: tp}

	inner := []byte{0x56, 1, 0} // teletext descriptor, dummy payload
	payload := buildPMTPayload(0x31, []struct {
		streamType byte
		pid        uint16
		esInfo     []byte
	}{
		{streamType: 0x06, pid: 0x105, esInfo: inner},
	})
	PMTHandler(ctx, svc)(psi.Header{}, payload)

	if !svc.HasTeletext || svc.TeletextPID != 0x105 {
		t.Fatalf("expected teletext pid 0x105 flagged, got %+v", svc)
	}
}
