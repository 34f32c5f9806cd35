package reassembly

import (
	"testing"

	"github.com/snapetech/atscscan/internal/psi"
)

func hdr(version, secNum, lastSecNum byte, tidExt uint16) psi.Header {
	return psi.Header{
		TableIDExtension:  tidExt,
		VersionNumber:     version,
		CurrentNext:       true,
		SectionNumber:     secNum,
		LastSectionNumber: lastSecNum,
	}
}

func TestSingleSectionCompletesImmediately(t *testing.T) {
	r := NewReassembler(false)
	out := r.Ingest(hdr(0, 0, 0, 1))
	if !out.Completed {
		t.Error("last_section_number=0 should complete after exactly one section")
	}
	if !r.Complete() {
		t.Error("reassembler should report complete")
	}
}

func TestMultiSectionNeedsAll(t *testing.T) {
	r := NewReassembler(false)
	r.Ingest(hdr(0, 0, 2, 1))
	if r.Complete() {
		t.Fatal("should not be complete after 1 of 3 sections")
	}
	r.Ingest(hdr(0, 1, 2, 1))
	if r.Complete() {
		t.Fatal("should not be complete after 2 of 3 sections")
	}
	out := r.Ingest(hdr(0, 2, 2, 1))
	if !out.Completed || !r.Complete() {
		t.Fatal("should be complete after all 3 sections")
	}
}

func TestVersionChangeResetsBitmap(t *testing.T) {
	r := NewReassembler(false)
	r.Ingest(hdr(3, 0, 2, 1))
	r.Ingest(hdr(3, 1, 2, 1))
	if r.Complete() {
		t.Fatal("should not be complete yet")
	}
	// New version arrives before section 2 of version 3 ever shows up.
	out := r.Ingest(hdr(4, 0, 2, 1))
	if !out.VersionChanged {
		t.Error("expected VersionChanged on new version_number")
	}
	if r.Complete() {
		t.Error("should not be complete right after reset")
	}
	r.Ingest(hdr(4, 1, 2, 1))
	out = r.Ingest(hdr(4, 2, 2, 1))
	if !out.Completed {
		t.Error("should complete once all of version 4's sections arrive")
	}
}

func TestDuplicateSectionIsNotNew(t *testing.T) {
	r := NewReassembler(false)
	out1 := r.Ingest(hdr(0, 0, 1, 1))
	out2 := r.Ingest(hdr(0, 0, 1, 1))
	if !out1.IsNewSection {
		t.Error("first arrival should be new")
	}
	if out2.IsNewSection {
		t.Error("duplicate section_number should not be new")
	}
}

func TestSegmentedFansOutByTableIDExtension(t *testing.T) {
	r := NewReassembler(true)
	r.Ingest(hdr(0, 0, 0, 100))
	r.Ingest(hdr(0, 0, 0, 200))
	r.Ingest(hdr(0, 0, 0, 100)) // repeat of the same extension: must not fan out again
	if len(r.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(r.Segments))
	}
	if r.Complete() {
		t.Error("segmented reassembler never reports Complete via Complete()")
	}
}
