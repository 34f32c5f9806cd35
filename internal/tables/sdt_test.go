package tables

import (
	"encoding/binary"
	"testing"

	"github.com/snapetech/atscscan/internal/model"
	"github.com/snapetech/atscscan/internal/psi"
)

func buildSDTPayload(onid uint16, services []struct {
	sid       uint16
	running   byte
	scrambled bool
	loop      []byte
}) []byte {
	head := make([]byte, 3)
	binary.BigEndian.PutUint16(head[0:2], onid)
	payload := head
	for _, s := range services {
		e := make([]byte, 5)
		binary.BigEndian.PutUint16(e[0:2], s.sid)
		b3 := (s.running & 0x07) << 5
		if s.scrambled {
			b3 |= 0x10
		}
		e[3] = b3 | byte(len(s.loop)>>8)
		e[4] = byte(len(s.loop))
		payload = append(payload, e...)
		payload = append(payload, s.loop...)
	}
	return payload
}

func TestSDTHandlerAllocatesServiceAndDescriptors(t *testing.T) {
	tp := &model.Transponder{}
	ctx := &Context{Transponder: tp}

	svcDesc := []byte{0x48, 6, 0x01, 0, 3, 'A', 'B', 'C'} // service_descriptor, name ABC, empty provider
	payload := buildSDTPayload(0x1234, []struct {
		sid       uint16
		running   byte
		scrambled bool
		loop      []byte
	}{
		{sid: 7, running: 0x04, scrambled: true, loop: svcDesc},
	})

	SDTHandler(ctx)(psi.Header{TableIDExtension: 0x9999}, payload)

	if tp.TransportStreamID != 0x9999 {
		t.Fatalf("expected tsid from table_id_extension, got %d", tp.TransportStreamID)
	}
	if tp.OriginalNetworkID != 0x1234 {
		t.Fatalf("unexpected onid: 0x%04x", tp.OriginalNetworkID)
	}
	svc := tp.FindService(7)
	if svc == nil {
		t.Fatalf("expected service 7 allocated")
	}
	if svc.Running != model.Running {
		t.Fatalf("expected running status Running, got %v", svc.Running)
	}
	if !svc.Scrambled {
		t.Fatalf("expected scrambled flag set")
	}
	if svc.ServiceName != "ABC" {
		t.Fatalf("unexpected service name %q", svc.ServiceName)
	}
}
