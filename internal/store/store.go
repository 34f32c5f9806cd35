// Package store implements the Transponder/Service Store from spec.md §4.E:
// deduplicated collections of transponders keyed by approximate frequency
// and their services keyed by service_id, driving the pending→scanned work
// queue. The store is single-writer (the scan controller); spec.md §5 notes
// no locking is required since nothing else mutates it concurrently.
package store

import "github.com/snapetech/atscscan/internal/model"

// Store holds the pending and scanned transponder lists.
type Store struct {
	Pending []*model.Transponder
	Scanned []*model.Transponder
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// FindTransponder does a linear scan of scanned+pending, matching exact
// frequency first, then anything within model.FreqToleranceHz (spec.md
// §4.E "find_transponder(f)").
func (s *Store) FindTransponder(hz uint64) *model.Transponder {
	all := append(append([]*model.Transponder{}, s.Scanned...), s.Pending...)
	for _, t := range all {
		if t.FrequencyHz == hz {
			return t
		}
	}
	for _, t := range all {
		if t.FrequencyMatches(hz) {
			return t
		}
	}
	return nil
}

// AllocTransponder appends a new pending Transponder at hz (spec.md §4.E
// "alloc_transponder(f)").
func (s *Store) AllocTransponder(hz uint64, delivery model.DeliverySystem) *model.Transponder {
	t := &model.Transponder{FrequencyHz: hz, Delivery: delivery}
	s.Pending = append(s.Pending, t)
	return t
}

// FindOrAllocTransponder returns the existing transponder matching hz, or
// allocates a new pending one — the NIT reconciliation rule from spec.md
// §4.D ("existing transponder found by frequency → updated; otherwise
// allocated as pending").
func (s *Store) FindOrAllocTransponder(hz uint64, delivery model.DeliverySystem) (*model.Transponder, bool) {
	if t := s.FindTransponder(hz); t != nil {
		return t, false
	}
	return s.AllocTransponder(hz, delivery), true
}

// CopyTransponder transfers network/TS ids, delivery parameters, and the
// alternate-frequency vector from src into dst (spec.md §4.E
// "copy_transponder(dst, src)"). A changed TransportStreamID is stored on dst
// only: model.Service has no TSID field, so services already allocated under
// dst are left untouched.
func CopyTransponder(dst, src *model.Transponder) {
	oldTSID := dst.TransportStreamID
	dst.NetworkID = src.NetworkID
	dst.OriginalNetworkID = src.OriginalNetworkID
	dst.TransportStreamID = src.TransportStreamID
	if src.ModulationParams != nil {
		if dst.ModulationParams == nil {
			dst.ModulationParams = map[string]any{}
		}
		for k, v := range src.ModulationParams {
			dst.ModulationParams[k] = v
		}
	}
	if len(src.OtherFrequenciesHz) > 0 {
		dst.OtherFrequenciesHz = append([]uint64{}, src.OtherFrequenciesHz...)
	}
	dst.OtherFrequencyFlag = src.OtherFrequencyFlag
	if oldTSID != 0 && dst.TransportStreamID != 0 && oldTSID != dst.TransportStreamID {
		// Services are keyed only by service_id within the transponder and
		// carry no TSID of their own, so nothing is updated here.
		_ = oldTSID
	}
}

// MarkScanned moves tp from Pending to Scanned and sets ScanDone, per
// spec.md §4.F step 1.
func (s *Store) MarkScanned(tp *model.Transponder) {
	for i, t := range s.Pending {
		if t == tp {
			s.Pending = append(s.Pending[:i], s.Pending[i+1:]...)
			break
		}
	}
	tp.ScanDone = true
	for _, t := range s.Scanned {
		if t == tp {
			return
		}
	}
	s.Scanned = append(s.Scanned, tp)
}

// NextPending returns the first pending transponder (FIFO seed order) or
// nil if none remain.
func (s *Store) NextPending() *model.Transponder {
	if len(s.Pending) == 0 {
		return nil
	}
	return s.Pending[0]
}

// PopAlternateFrequency pops the last alternate frequency off tp's list
// (spec.md §4.F step 6: "pop the last alternate and retry").
func PopAlternateFrequency(tp *model.Transponder) (uint64, bool) {
	n := len(tp.OtherFrequenciesHz)
	if n == 0 {
		return 0, false
	}
	hz := tp.OtherFrequenciesHz[n-1]
	tp.OtherFrequenciesHz = tp.OtherFrequenciesHz[:n-1]
	return hz, true
}

// ServiceCount returns the total number of services across every
// transponder the store knows about, for metrics/reporting.
func (s *Store) ServiceCount() int {
	n := 0
	for _, t := range s.Pending {
		n += len(t.Services)
	}
	for _, t := range s.Scanned {
		n += len(t.Services)
	}
	return n
}
