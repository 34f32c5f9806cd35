// Package simulated provides an in-memory Frontend+Demux pair driven by
// canned section bytes, for the end-to-end tests described in spec.md §8
// and for cmd/atsc-scan, which always runs against it (no real DVB hardware
// required).
package simulated

import (
	"context"
	"sync"
	"time"

	"github.com/snapetech/atscscan/internal/frontend"
	"github.com/snapetech/atscscan/internal/model"
)

// Device is a fake Frontend+Demux. SetLockAfter controls how many ReadStatus
// calls must elapse before HasLock is reported for the currently tuned
// frequency; zero locks immediately. The frequencies (Hz) passed to New never
// lock, simulating spec.md §7's "tuning failure".
type Device struct {
	mu sync.Mutex

	delivery model.DeliverySystem
	tuned    frontend.TuningParams
	polls    int
	lockAfter int
	failFreq map[uint64]bool

	// sections[pid] is a FIFO queue of raw section payloads to hand out,
	// one per Read call, in order, regardless of the filter's table-id
	// match (the fake assumes the caller installed a sane filter — real
	// hardware would filter in silicon).
	sections map[uint16][][]byte

	handles map[int]*simHandle
	nextID  int
}

type simHandle struct {
	id  int
	pid uint16
}

func (h *simHandle) FD() int { return h.id }

// New returns a Device that locks immediately on any frequency not listed in
// failFrequenciesHz.
func New(delivery model.DeliverySystem, failFrequenciesHz ...uint64) *Device {
	ff := map[uint64]bool{}
	for _, f := range failFrequenciesHz {
		ff[f] = true
	}
	return &Device{
		delivery: delivery,
		failFreq: ff,
		sections: map[uint16][][]byte{},
		handles:  map[int]*simHandle{},
	}
}

// SetLockAfter configures how many ReadStatus polls must pass before lock is
// reported (0 = immediate).
func (d *Device) SetLockAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lockAfter = n
}

// QueueSection appends a raw section payload to be delivered on pid by a
// future Read call.
func (d *Device) QueueSection(pid uint16, section []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(section))
	copy(cp, section)
	d.sections[pid] = append(d.sections[pid], cp)
}

// ── Frontend ─────────────────────────────────────────────────────────────────

func (d *Device) GetInfo(ctx context.Context) (frontend.Info, error) {
	return frontend.Info{Name: "simulated", Delivery: d.delivery}, nil
}

func (d *Device) SetProperty(ctx context.Context, ds model.DeliverySystem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivery = ds
	return nil
}

func (d *Device) SetFrontend(ctx context.Context, params frontend.TuningParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tuned = params
	d.polls = 0
	return nil
}

func (d *Device) ReadStatus(ctx context.Context) (frontend.StatusBit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls++
	if d.failFreq[d.tuned.FrequencyHz] {
		return frontend.HasSignal | frontend.HasCarrier, nil
	}
	if d.polls > d.lockAfter {
		return frontend.HasSignal | frontend.HasCarrier | frontend.HasViterbi | frontend.HasSync | frontend.HasLock, nil
	}
	return frontend.HasSignal | frontend.HasCarrier, nil
}

// ── Demux ────────────────────────────────────────────────────────────────────

func (d *Device) Open(ctx context.Context, path string) (frontend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	h := &simHandle{id: d.nextID}
	d.handles[h.id] = h
	return h, nil
}

func (d *Device) SetFilter(ctx context.Context, h frontend.Handle, m frontend.FilterMatch) error {
	sh := h.(*simHandle)
	d.mu.Lock()
	defer d.mu.Unlock()
	sh.pid = m.PID
	return nil
}

func (d *Device) Read(ctx context.Context, h frontend.Handle, buf []byte) (frontend.ReadResult, error) {
	sh := h.(*simHandle)
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.sections[sh.pid]
	if len(q) == 0 {
		return frontend.ReadResult{}, nil
	}
	sec := q[0]
	d.sections[sh.pid] = q[1:]
	if len(sec) > len(buf) {
		return frontend.ReadResult{Overflow: true}, nil
	}
	n := copy(buf, sec)
	return frontend.ReadResult{Section: buf[:n]}, nil
}

func (d *Device) Stop(ctx context.Context, h frontend.Handle) error { return nil }

func (d *Device) Close(ctx context.Context, h frontend.Handle) error {
	sh := h.(*simHandle)
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handles, sh.id)
	return nil
}

// Poll reports any handle whose PID currently has a queued section as
// readable. It never blocks for the full timeout; tests drive time
// explicitly via filterpool's injectable clock rather than real sleeps.
func (d *Device) Poll(ctx context.Context, handles []frontend.Handle, timeout time.Duration) ([]frontend.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ready []frontend.Handle
	for _, h := range handles {
		sh := h.(*simHandle)
		if len(d.sections[sh.pid]) > 0 {
			ready = append(ready, h)
		}
	}
	return ready, nil
}
