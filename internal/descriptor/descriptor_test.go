package descriptor

import (
	"testing"

	"github.com/snapetech/atscscan/internal/model"
	"github.com/snapetech/atscscan/internal/psi"
)

func TestAudioDescriptorsSetsLanguage(t *testing.T) {
	loop := []byte{TagISO639Language, 3, 'E', 'N', 'G'}
	var track model.AudioTrack
	if err := AudioDescriptors(loop, &track); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if track.Lang != "eng" {
		t.Fatalf("expected lowercased lang 'eng', got %q", track.Lang)
	}
}

func TestPMTProbeDescriptors(t *testing.T) {
	loop := []byte{TagTeletext, 0, TagSubtitling, 0, TagAC3Audio, 0}
	// Zero-length descriptors would abort WalkDescriptors; use length 1 with
	// a dummy byte instead.
	loop = []byte{TagTeletext, 1, 0, TagSubtitling, 1, 0, TagAC3Audio, 1, 0}
	pf := PMTProbeDescriptors(loop)
	if !pf.Teletext || !pf.Subtitling || !pf.AC3 {
		t.Fatalf("expected all probe flags set, got %+v", pf)
	}
}

func buildServiceDescriptor(serviceType byte, provider, name string) []byte {
	d := []byte{serviceType, byte(len(provider))}
	d = append(d, []byte(provider)...)
	d = append(d, byte(len(name)))
	d = append(d, []byte(name)...)
	return d
}

func TestSDTDescriptorsAppliesServiceDescriptor(t *testing.T) {
	payload := buildServiceDescriptor(0x01, "Some Provider", "News HD")
	loop := append([]byte{TagServiceDescr, byte(len(payload))}, payload...)
	var svc model.Service
	if err := SDTDescriptors(loop, &svc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.ServiceType != 0x01 {
		t.Fatalf("expected service_type 0x01, got 0x%02x", svc.ServiceType)
	}
	if svc.ProviderName != "Some Provider" {
		t.Fatalf("unexpected provider name %q", svc.ProviderName)
	}
	if svc.ServiceName != "News HD" {
		t.Fatalf("unexpected service name %q", svc.ServiceName)
	}
}

func TestSDTDescriptorsCAIdentifiers(t *testing.T) {
	payload := []byte{0x06, 0x00, 0x09, 0x00}
	loop := append([]byte{TagCAIdentifier, byte(len(payload))}, payload...)
	var svc model.Service
	if err := SDTDescriptors(loop, &svc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(svc.CASystemIDs) != 2 || svc.CASystemIDs[0] != 0x0600 || svc.CASystemIDs[1] != 0x0900 {
		t.Fatalf("unexpected CA system ids: %v", svc.CASystemIDs)
	}
}

func TestNITDescriptorsCableDelivery(t *testing.T) {
	freqBCD := psi.EncodeBCD32(1234_5678)
	d := make([]byte, 11)
	d[0] = byte(freqBCD >> 24)
	d[1] = byte(freqBCD >> 16)
	d[2] = byte(freqBCD >> 8)
	d[3] = byte(freqBCD)
	d[6] = 0x02 // modulation
	loop := append([]byte{TagCableDeliv, byte(len(d))}, d...)

	var otherFreqs []uint64
	var lcn uint16
	info, err := NITDescriptors(loop, &otherFreqs, false, &lcn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Delivery != model.DeliveryDVBC {
		t.Fatalf("expected DVB-C, got %v", info.Delivery)
	}
	if info.Params["modulation"] != byte(0x02) {
		t.Fatalf("unexpected modulation param: %v", info.Params["modulation"])
	}
}

func TestNITDescriptorsAlternateFrequencies(t *testing.T) {
	bcd := psi.EncodeBCD32(50000)
	payload := []byte{byte(bcd >> 24), byte(bcd >> 16), byte(bcd >> 8), byte(bcd)}
	loop := append([]byte{TagFreqListNIT, byte(len(payload))}, payload...)

	var otherFreqs []uint64
	var lcn uint16
	if _, err := NITDescriptors(loop, &otherFreqs, false, &lcn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(otherFreqs) != 1 || otherFreqs[0] != 500_000 {
		t.Fatalf("unexpected alternate frequency list: %v", otherFreqs)
	}
}

func TestNITDescriptorsUKFreeviewLCNRequiresOptIn(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x00, 0x05}
	loop := append([]byte{TagUKFreeviewLCN, byte(len(payload))}, payload...)

	var otherFreqs []uint64
	var lcn uint16
	if _, err := NITDescriptors(loop, &otherFreqs, false, &lcn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lcn != 0 {
		t.Fatalf("expected lcn untouched without opt-in, got %d", lcn)
	}

	lcn = 0
	if _, err := NITDescriptors(loop, &otherFreqs, true, &lcn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lcn != 5 {
		t.Fatalf("expected lcn=5 with opt-in, got %d", lcn)
	}
}

func TestDecodeShortName(t *testing.T) {
	var b [14]byte
	units := "KXYZ-HD"
	for i, r := range units {
		b[i*2+1] = byte(r)
	}
	name := DecodeShortName(b)
	if name != units {
		t.Fatalf("expected %q, got %q", units, name)
	}
}

func TestDecodeServiceLocation(t *testing.T) {
	d := []byte{0x00, 0x31, 2} // pcr_pid=0x31 (low bits), 2 elements
	d = append(d, 0x02, 0x01, 0x00, 'e', 'n', 'g') // video pid 0x100
	d = append(d, 0x81, 0x01, 0x01, 'e', 'n', 'g') // ac3 audio pid 0x101
	sl, ok := DecodeServiceLocation(d)
	if !ok {
		t.Fatalf("expected ok")
	}
	if sl.PCRPID != 0x31 {
		t.Fatalf("unexpected pcr pid: 0x%x", sl.PCRPID)
	}
	if len(sl.Elements) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(sl.Elements))
	}
}
