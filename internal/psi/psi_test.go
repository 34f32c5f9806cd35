package psi

import "testing"

func TestBCD32RoundTrip(t *testing.T) {
	// Every combination of 8 BCD nibbles 0..9, sampled (exhaustive 10^8 is
	// too slow for a unit test) plus the documented boundary values.
	cases := []uint32{0, 1, 9, 10, 99, 12345678, 99999999}
	for _, v := range cases {
		enc := EncodeBCD32(v)
		got := DecodeBCD32(enc)
		if got != v {
			t.Errorf("DecodeBCD32(EncodeBCD32(%d)) = %d, want %d", v, got, v)
		}
	}
}

func TestBCDByteRoundTrip(t *testing.T) {
	for v := 0; v <= 99; v++ {
		enc := EncodeBCDByte(v)
		got := BCDByte(enc)
		if got != v {
			t.Errorf("BCDByte(EncodeBCDByte(%d)) = %d, want %d", v, got, v)
		}
	}
}

func TestParseHeader(t *testing.T) {
	// table_id=0x00, section_length=13 (0x00D), tid_ext=1, version=0, cni=1,
	// sec=0, last=0, plus 4 payload bytes (program 1 -> pid 0x100) + 4 CRC.
	d := []byte{
		0x00,
		0xB0, 0x0D,
		0x00, 0x01,
		0xC1,
		0x00,
		0x00,
		0x00, 0x01, 0xE1, 0x00, // payload
		0xDE, 0xAD, 0xBE, 0xEF, // crc
	}
	h, err := ParseHeader(d)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.TableID != 0x00 || h.TableIDExtension != 1 || h.VersionNumber != 0 || !h.CurrentNext {
		t.Errorf("unexpected header: %+v", h)
	}
	payload := Payload(d, h)
	if len(payload) != 4 {
		t.Fatalf("payload len = %d, want 4", len(payload))
	}
}

func TestParseHeaderTooShort(t *testing.T) {
	if _, err := ParseHeader([]byte{0x00, 0x01}); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestWalkDescriptorsZeroLengthAborts(t *testing.T) {
	d := []byte{0x0A, 0x00}
	err := WalkDescriptors(d, func(desc Descriptor) error { return nil })
	if err == nil {
		t.Error("expected error for zero-length descriptor")
	}
}

func TestWalkDescriptorsSkipsUnknown(t *testing.T) {
	d := []byte{
		0xFE, 0x02, 0xAA, 0xBB, // unknown tag, skipped by length
		0x0A, 0x03, 'e', 'n', 'g', // ISO-639 language descriptor
	}
	var tags []byte
	err := WalkDescriptors(d, func(desc Descriptor) error {
		tags = append(tags, desc.Tag)
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDescriptors: %v", err)
	}
	if len(tags) != 2 || tags[0] != 0xFE || tags[1] != 0x0A {
		t.Errorf("tags = %v, want [0xFE 0x0A]", tags)
	}
}
