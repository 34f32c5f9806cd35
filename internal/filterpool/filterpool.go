// Package filterpool implements the Section Filter Pool from spec.md §4.A:
// it owns up to Capacity concurrently scheduled hardware section filters,
// poll-multiplexes their file descriptors with a 1-second ceiling, enforces
// per-filter deadlines, and admits queued filters as capacity frees up.
package filterpool

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/snapetech/atscscan/internal/frontend"
	"github.com/snapetech/atscscan/internal/psi"
	"github.com/snapetech/atscscan/internal/reassembly"
)

// Capacity is the maximum number of concurrently scheduled filters (spec.md
// §3 Global invariants, §5 Resource ceilings).
const Capacity = 27

// DefaultTimeout is the per-filter deadline absent an explicit override
// (spec.md §4.A).
const DefaultTimeout = 5 * time.Second

// LongTimeoutMultiplier scales DefaultTimeout when the operator requests
// "long-timeout mode" (spec.md §4.A, §9 supplemented feature #2).
const LongTimeoutMultiplier = 5

// sectionBufSize is the MPEG section maximum (spec.md §5).
const sectionBufSize = 1024

// pollCeiling bounds a single Tick's poll call (spec.md §4.A/§5).
const pollCeiling = 1 * time.Second

// defaultAdmitRate/defaultAdmitBurst bound how many waiting filters are
// admitted into scheduled slots per Tick, so a burst of retirements doesn't
// reopen dozens of demux handles in the same poll cycle (spec.md §4.A
// "Fairness & ordering", saturation backoff).
const defaultAdmitRate = rate.Limit(10)
const defaultAdmitBurst = 4

// SectionHandler is invoked once per newly-arrived section with a valid,
// matching table_id. It is the hook into component D (table decoders); the
// handler may itself call Pool.Submit to schedule further filters (e.g. PMT
// after PAT), per spec.md §4.D.
type SectionHandler func(h psi.Header, payload []byte)

// CompleteHandler is invoked once when a non-segmented filter finishes
// reassembling every section_number 0..last (spec.md §4.B "signals
// completion").
type CompleteHandler func(f *Filter)

// Filter is the internal-to-A/B section filter described in spec.md §3.
type Filter struct {
	PID              uint16
	TableID          byte
	TableIDExtension *uint16 // nil = no table_id_extension match installed
	RunOnce          bool
	Segmented        bool
	Timeout          time.Duration

	OnSection  SectionHandler
	OnComplete CompleteHandler

	handle          frontend.Handle
	buf             [sectionBufSize]byte
	reassembler     *reassembly.Reassembler
	deadline        time.Time
	overflowRetried bool
	retiring        bool
}

func (f *Filter) key() (uint16, byte, uint16, bool) {
	var ext uint16
	has := f.TableIDExtension != nil
	if has {
		ext = *f.TableIDExtension
	}
	return f.PID, f.TableID, ext, has
}

// Pool owns the scheduled and waiting filter queues.
type Pool struct {
	demux      frontend.Demux
	devicePath string
	capacity   int
	now        func() time.Time
	warnf      func(format string, args ...any)

	scheduled []*Filter
	waiting   []*Filter

	admitLimiter *rate.Limiter

	onFilterRetired func(f *Filter, reason string)
	onTick          func(scheduled, waiting int)
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithClock overrides time.Now, for deterministic deadline tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithCapacity overrides the default Capacity (tests use a smaller pool to
// exercise saturation without scheduling 27 filters).
func WithCapacity(n int) Option {
	return func(p *Pool) { p.capacity = n }
}

// WithLogger overrides the warn/info sink (default: log.Printf).
func WithLogger(warnf func(format string, args ...any)) Option {
	return func(p *Pool) { p.warnf = warnf }
}

// WithRetireHook registers a callback fired whenever a filter is retired
// (completed, timed out, or failed), primarily for metrics wiring.
func WithRetireHook(fn func(f *Filter, reason string)) Option {
	return func(p *Pool) { p.onFilterRetired = fn }
}

// WithAdmitRate overrides the default pace at which waiting filters are
// admitted into scheduled slots per Tick.
func WithAdmitRate(r rate.Limit, burst int) Option {
	return func(p *Pool) { p.admitLimiter = rate.NewLimiter(r, burst) }
}

// WithTickObserver registers a callback fired at the end of every Tick with
// the current scheduled/waiting queue lengths, the pool's metrics-wiring
// seam for component G's gauges.
func WithTickObserver(fn func(scheduled, waiting int)) Option {
	return func(p *Pool) { p.onTick = fn }
}

// NewPool returns a Pool bound to demux, opening filter handles under
// devicePath (e.g. "/dev/dvb/adapter0/demux0").
func NewPool(demux frontend.Demux, devicePath string, opts ...Option) *Pool {
	p := &Pool{
		demux:        demux,
		devicePath:   devicePath,
		capacity:     Capacity,
		now:          time.Now,
		warnf:        func(format string, args ...any) { log.Printf("filterpool: "+format, args...) },
		admitLimiter: rate.NewLimiter(defaultAdmitRate, defaultAdmitBurst),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ScheduledCount reports the number of currently scheduled filters.
func (p *Pool) ScheduledCount() int { return len(p.scheduled) }

// WaitingCount reports the number of filters queued but not yet scheduled.
func (p *Pool) WaitingCount() int { return len(p.waiting) }

// isDuplicate reports whether a scheduled or waiting filter already exists
// for f's (PID, table_id, table_id_extension) tuple, enforcing spec.md §3's
// "at most one in-flight filter per (PID, table_id, table_id_ext) tuple".
func (p *Pool) isDuplicate(f *Filter) bool {
	pid, tid, ext, has := f.key()
	match := func(o *Filter) bool {
		opid, otid, oext, ohas := o.key()
		return opid == pid && otid == tid && ohas == has && (!has || oext == ext)
	}
	for _, o := range p.scheduled {
		if match(o) {
			return true
		}
	}
	for _, o := range p.waiting {
		if match(o) {
			return true
		}
	}
	return false
}

// Submit enqueues f, scheduling it immediately if capacity permits (spec.md
// §4.A). Duplicate (PID, table_id, table_id_ext) tuples are silently
// dropped per the Global invariant in spec.md §3.
func (p *Pool) Submit(ctx context.Context, f *Filter) error {
	if f.Timeout <= 0 {
		f.Timeout = DefaultTimeout
	}
	if p.isDuplicate(f) {
		return nil
	}
	if len(p.scheduled) < p.capacity {
		return p.schedule(ctx, f)
	}
	p.waiting = append(p.waiting, f) // FIFO, per spec.md §4.A "Fairness & ordering"
	return nil
}

func (p *Pool) schedule(ctx context.Context, f *Filter) error {
	h, err := p.demux.Open(ctx, p.devicePath)
	if err != nil {
		p.warnf("open pid=0x%04x: %v", f.PID, err)
		return err
	}
	var ext *uint16
	if f.TableIDExtension != nil {
		v := *f.TableIDExtension
		ext = &v
	}
	tid := f.TableID
	match := frontend.FilterMatch{
		PID:              f.PID,
		TableID:          &tid,
		TableIDExtension: ext,
		CheckCRC:         true,
		ImmediateStart:   true,
	}
	if err := p.demux.SetFilter(ctx, h, match); err != nil {
		p.warnf("set_filter pid=0x%04x table=0x%02x: %v", f.PID, f.TableID, err)
		_ = p.demux.Close(ctx, h)
		return err
	}
	f.handle = h
	f.reassembler = reassembly.NewReassembler(f.Segmented)
	f.deadline = p.now().Add(f.Timeout)
	p.scheduled = append(p.scheduled, f)
	return nil
}

// Tick polls every scheduled filter once with a 1-second ceiling, dispatches
// readable sections, retires timed-out or completed filters, and admits
// waiting filters into any slots that freed up (spec.md §4.A).
func (p *Pool) Tick(ctx context.Context) error {
	if len(p.scheduled) > 0 {
		handles := make([]frontend.Handle, len(p.scheduled))
		byHandle := make(map[frontend.Handle]*Filter, len(p.scheduled))
		for i, f := range p.scheduled {
			handles[i] = f.handle
			byHandle[f.handle] = f
		}

		ready, err := p.demux.Poll(ctx, handles, pollCeiling)
		if err != nil {
			return fmt.Errorf("filterpool: poll: %w", err)
		}

		// Ordering guarantee per spec.md §5: process in the order poll returned.
		for _, h := range ready {
			f := byHandle[h]
			if f == nil {
				continue
			}
			p.deliver(ctx, f)
		}

		now := p.now()
		var remaining []*Filter
		for _, f := range p.scheduled {
			switch {
			case f.retiring:
				p.retire(ctx, f, "complete")
			case now.After(f.deadline) || now.Equal(f.deadline):
				p.warnf("pid=0x%04x table=0x%02x timeout after=%s", f.PID, f.TableID, f.Timeout)
				p.retire(ctx, f, "timeout")
			default:
				remaining = append(remaining, f)
			}
		}
		p.scheduled = remaining
	}

	// Admitting waiting filters doesn't depend on anything having been
	// scheduled this tick — a fully-drained scheduled set with filters
	// still waiting must still make progress (spec.md §4.A).
	p.admitWaiting(ctx)
	if p.onTick != nil {
		p.onTick(len(p.scheduled), len(p.waiting))
	}
	return nil
}

func (p *Pool) deliver(ctx context.Context, f *Filter) {
	result, err := p.demux.Read(ctx, f.handle, f.buf[:])
	if err != nil {
		p.warnf("read pid=0x%04x: %v", f.PID, err)
		f.retiring = true
		return
	}
	if result.Overflow {
		if f.overflowRetried {
			p.warnf("pid=0x%04x table=0x%02x: overflow after retry, retiring", f.PID, f.TableID)
			f.retiring = true
			return
		}
		f.overflowRetried = true
		return
	}
	if len(result.Section) == 0 {
		return
	}

	header, err := psi.ParseHeader(result.Section)
	if err != nil {
		p.warnf("pid=0x%04x: %v", f.PID, err)
		return
	}
	if header.TableID != f.TableID {
		p.warnf("pid=0x%04x: table_id mismatch got=0x%02x want=0x%02x, discarding", f.PID, header.TableID, f.TableID)
		return
	}
	if f.TableIDExtension != nil && !f.Segmented && *f.TableIDExtension != header.TableIDExtension {
		p.warnf("pid=0x%04x: table_id_extension mismatch got=0x%04x want=0x%04x, discarding", f.PID, header.TableIDExtension, *f.TableIDExtension)
		return
	}

	payload := psi.Payload(result.Section, header)
	outcome := f.reassembler.Ingest(header)
	if outcome.IsNewSection && f.OnSection != nil {
		f.OnSection(header, payload)
	}
	if outcome.Completed && outcome.IsNewSection && !f.Segmented {
		if f.OnComplete != nil {
			f.OnComplete(f)
		}
		if f.RunOnce {
			f.retiring = true
		}
	}
}

func (p *Pool) retire(ctx context.Context, f *Filter, reason string) {
	_ = p.demux.Stop(ctx, f.handle)
	_ = p.demux.Close(ctx, f.handle)
	if p.onFilterRetired != nil {
		p.onFilterRetired(f, reason)
	}
}

func (p *Pool) admitWaiting(ctx context.Context) {
	for len(p.waiting) > 0 && len(p.scheduled) < p.capacity {
		if !p.admitLimiter.Allow() {
			// Rate exhausted for this tick; remaining waiters are admitted
			// on a subsequent Tick instead of reopening many handles at once.
			break
		}
		f := p.waiting[0]
		p.waiting = p.waiting[1:]
		if err := p.schedule(ctx, f); err != nil {
			continue
		}
	}
}

// Drain repeatedly calls Tick until both the scheduled and waiting queues
// are empty (spec.md §4.A).
func (p *Pool) Drain(ctx context.Context) error {
	for len(p.scheduled) > 0 || len(p.waiting) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.Tick(ctx); err != nil {
			return err
		}
	}
	return nil
}
