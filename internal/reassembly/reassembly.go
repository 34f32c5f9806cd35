// Package reassembly implements the per-filter section reassembly state
// machine from spec.md §4.B: tracking which section_numbers have arrived for
// the current table version, detecting version changes, and fanning out
// segmented tables (NIT-other/SDT-other) into per table_id_extension
// sibling state.
package reassembly

import "github.com/snapetech/atscscan/internal/psi"

// State is one of fresh/collecting/complete, per spec.md §4.B.
type State int

const (
	Fresh State = iota
	Collecting
	Complete
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Complete:
		return "complete"
	default:
		return "fresh"
	}
}

// bitmapWords holds 256 bits (4 x 64-bit words), per spec.md §3's
// "256-bit section-done bitmap".
const bitmapWords = 4

// Segment is the reassembly state for one (table_id, table_id_extension)
// stream. Segmented filters (NIT-other/SDT-other) keep a slice of these, one
// per table_id_extension observed on the shared PID.
type Segment struct {
	TableIDExtension  uint16
	State             State
	VersionNumber     byte
	versionSeen       bool
	LastSectionNumber byte
	bitmap            [bitmapWords]uint64
	Sections          int // number of distinct section_numbers received so far
}

// Reassembler owns the reassembly state for a single scheduled filter,
// including the chain of Segments a segmented filter fans out to.
type Reassembler struct {
	Segmented bool
	Segments  []*Segment // len==1 for non-segmented filters
}

// NewReassembler returns a Reassembler. For non-segmented filters it starts
// with exactly one Segment; segmented filters start empty and grow Segments
// as new table_id_extensions are observed.
func NewReassembler(segmented bool) *Reassembler {
	r := &Reassembler{Segmented: segmented}
	if !segmented {
		r.Segments = []*Segment{{}}
	}
	return r
}

// segmentFor returns the Segment matching tableIDExt, allocating and linking
// a new one if this is a segmented reassembler and none matches yet — the
// "walk its singly-linked chain of sibling filters for a match; if none,
// allocate and link a new sibling" rule from spec.md §4.B. For a
// non-segmented reassembler it always returns Segments[0].
func (r *Reassembler) segmentFor(tableIDExt uint16) *Segment {
	if !r.Segmented {
		return r.Segments[0]
	}
	for _, s := range r.Segments {
		if s.TableIDExtension == tableIDExt {
			return s
		}
	}
	s := &Segment{TableIDExtension: tableIDExt}
	r.Segments = append(r.Segments, s)
	return s
}

// Outcome describes what happened when a section was fed to Ingest.
type Outcome struct {
	Segment        *Segment
	IsNewSection   bool // false if this exact section_number+version was already seen
	VersionChanged bool // the bitmap was reset because version_number changed
	Completed      bool // all of 0..last_section_number are now present
}

// Ingest processes one freshly arrived, already header-parsed section against
// the reassembler's state, per spec.md §4.B:
//
//   - adopt a new version_number by resetting the bitmap (partial emitted
//     data is left in place; only the tracking bitmap resets, per spec.md
//     §4.D "Version change").
//   - mark the section_number bit; segmented segments never report Complete
//     early, since the total extension count is unknown a priori — but a
//     segment DOES report Complete once all of 0..last_section_number for
//     ITS OWN table_id_extension have arrived, matching "each segment ...
//     always wait[s] for [its PID-level filter's] deadline" only in the
//     sense that the filter is never retired as run_once; per-segment
//     completion bookkeeping is still tracked so duplicate sections can be
//     detected.
func (r *Reassembler) Ingest(h psi.Header) Outcome {
	seg := r.segmentFor(h.TableIDExtension)
	out := Outcome{Segment: seg}

	if !seg.versionSeen || seg.VersionNumber != h.VersionNumber {
		seg.VersionNumber = h.VersionNumber
		seg.versionSeen = true
		seg.bitmap = [bitmapWords]uint64{}
		seg.Sections = 0
		seg.State = Collecting
		out.VersionChanged = true
	}
	seg.LastSectionNumber = h.LastSectionNumber

	word := int(h.SectionNumber) / 64
	bit := uint(h.SectionNumber) % 64
	mask := uint64(1) << bit
	if word < bitmapWords {
		if seg.bitmap[word]&mask == 0 {
			seg.bitmap[word] |= mask
			seg.Sections++
			out.IsNewSection = true
		}
	} else {
		// section_number > 255 cannot happen (single byte field), but guard
		// defensively rather than panic.
		out.IsNewSection = true
	}

	if seg.allBitsSet() {
		seg.State = Complete
		out.Completed = true
	} else {
		seg.State = Collecting
	}
	return out
}

func (s *Segment) allBitsSet() bool {
	last := int(s.LastSectionNumber)
	for n := 0; n <= last; n++ {
		word := n / 64
		bit := uint(n) % 64
		if word >= bitmapWords {
			return false
		}
		if s.bitmap[word]&(uint64(1)<<bit) == 0 {
			return false
		}
	}
	return true
}

// Complete reports whether every known segment has fully reassembled.
// Non-segmented reassemblers have exactly one segment, so this is the usual
// "is the table done" check used by the pool to retire a run_once filter.
// Segmented reassemblers never report done via this call — per spec.md
// §4.B they always wait for their deadline.
func (r *Reassembler) Complete() bool {
	if r.Segmented {
		return false
	}
	return len(r.Segments) == 1 && r.Segments[0].State == Complete
}
