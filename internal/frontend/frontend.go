// Package frontend defines the external tuner (frontend) and section demux
// device contracts the core consumes, per spec.md §6. These are the only
// two collaborators the scan engine depends on outside of its own packages;
// real implementations talk to /dev/dvb/adapterN/{frontend,demux}N, but
// nothing in this module assumes a particular OS — see
// internal/frontend/simulated for an in-memory fake used by tests.
package frontend

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/snapetech/atscscan/internal/model"
)

// StatusBit is a bit in the frontend status bitset returned by ReadStatus.
type StatusBit uint32

const (
	HasSignal StatusBit = 1 << iota
	HasCarrier
	HasViterbi
	HasSync
	HasLock
	ReinitFailed
)

// Has reports whether bit is set in the status bitset.
func (s StatusBit) Has(bit StatusBit) bool { return s&bit != 0 }

// Info describes a frontend device's capabilities.
type Info struct {
	Name        string
	Delivery    model.DeliverySystem
	Frequencies []uint64 // supported frequency range hints, optional
}

// TuningParams carries the modulation parameters for one tune request. The
// core treats these as opaque beyond FrequencyHz and Delivery — everything
// else is forwarded verbatim to SetFrontend per spec.md §3 ("modulation
// parameters (opaque to the core)").
type TuningParams struct {
	FrequencyHz uint64
	Delivery    model.DeliverySystem
	Extra       map[string]any
}

// Frontend is the tuner device contract (spec.md §6).
type Frontend interface {
	GetInfo(ctx context.Context) (Info, error)
	SetProperty(ctx context.Context, deliverySystem model.DeliverySystem) error
	SetFrontend(ctx context.Context, params TuningParams) error
	ReadStatus(ctx context.Context) (StatusBit, error)
}

// SignalReporter is an optional capability a Frontend may additionally
// implement, matching spec.md §6's "Optional: read_signal_strength,
// read_snr, read_ber, read_uncorrected_blocks for reporting." Implemented as
// a small separate interface so callers probe for it with a type assertion,
// the same pattern the teacher uses for optional materializer capabilities.
type SignalReporter interface {
	ReadSignalStrength(ctx context.Context) (uint16, error)
	ReadSNR(ctx context.Context) (uint16, error)
	ReadBER(ctx context.Context) (uint32, error)
	ReadUncorrectedBlocks(ctx context.Context) (uint32, error)
}

// ReadStatusPolled polls ReadStatus up to attempts times at the given
// interval and returns true as soon as HasLock is observed, matching
// spec.md §4.F step 3 ("Poll FE_READ_STATUS up to 10 times at 200ms
// intervals").
func ReadStatusPolled(ctx context.Context, fe Frontend, attempts int, interval time.Duration) (bool, error) {
	// rate.Limiter paces retries at exactly interval apart regardless of how
	// long ReadStatus itself takes, instead of a fixed time.After sleep
	// stacked on top of it.
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	limiter.Allow() // drain the initial burst so the first retry still paces by interval

	for i := 0; i < attempts; i++ {
		st, err := fe.ReadStatus(ctx)
		if err != nil {
			return false, err
		}
		if st.Has(HasLock) {
			return true, nil
		}
		if i < attempts-1 {
			if err := limiter.Wait(ctx); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// FilterMatch describes the optional table-id / table-id-extension match
// bytes installed on a hardware section filter (spec.md §6's
// `set_filter({pid, filter[0..2], mask[0..2], ...})`).
type FilterMatch struct {
	PID              uint16
	TableID          *byte   // nil = no table_id match
	TableIDExtension *uint16 // nil = no table_id_extension match
	CheckCRC         bool
	ImmediateStart   bool
}

// ReadResult is the outcome of one Demux.Read call.
type ReadResult struct {
	Section  []byte
	Overflow bool
}

// Handle is an opaque demux filter handle (one open file descriptor, in a
// real implementation).
type Handle interface {
	// FD returns a value suitable for use in a poll/select set. Simulated
	// implementations may return an index into an internal ready-queue
	// instead of a real OS file descriptor.
	FD() int
}

// Demux is the section demultiplexer device contract (spec.md §6).
type Demux interface {
	Open(ctx context.Context, path string) (Handle, error)
	SetFilter(ctx context.Context, h Handle, m FilterMatch) error
	Read(ctx context.Context, h Handle, buf []byte) (ReadResult, error)
	Stop(ctx context.Context, h Handle) error
	Close(ctx context.Context, h Handle) error
	// Poll blocks up to timeout waiting for at least one of handles to
	// become readable, and returns the subset that are. Mirrors the C
	// implementation's single poll(2) call across all scheduled filters
	// (spec.md §4.A "poll-multiplexes their file descriptors").
	Poll(ctx context.Context, handles []Handle, timeout time.Duration) ([]Handle, error)
}
