// Package scanner implements the Scan Controller from spec.md §4.F: the
// top-level loop that selects the next pending transponder, instructs the
// tuner, waits for lock, seeds the initial filter set, drains the pool to
// completion, and advances.
package scanner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/snapetech/atscscan/internal/chanplan"
	"github.com/snapetech/atscscan/internal/filterpool"
	"github.com/snapetech/atscscan/internal/frontend"
	"github.com/snapetech/atscscan/internal/model"
	"github.com/snapetech/atscscan/internal/store"
	"github.com/snapetech/atscscan/internal/tables"
)

// ATSCType selects which ATSC VCT table(s) to seed on lock, per the
// operator's ATSC-type mask (spec.md §4.F step 4, SPEC_FULL.md §9).
type ATSCType int

const (
	ATSCTerrestrial ATSCType = 1 << iota
	ATSCCable
)

// Options configures a Scanner's behavior switches (SPEC_FULL.md ambient
// stack / §8 supplemented features).
type Options struct {
	ATSCTypes ATSCType

	// CurrentTPOnly disables auto-advance past the first transponder.
	CurrentTPOnly bool

	// DisablePSIP skips scheduling ATSC VCT filters entirely.
	DisablePSIP bool

	// AllowUKFreeviewLCN is forwarded to tables.Context.
	AllowUKFreeviewLCN bool

	// LongTimeout multiplies the timeout of the filters the scanner seeds
	// itself (PAT, VCT, SDT, NIT). PMT filters submitted by the PAT decoder
	// are not affected and keep filterpool.DefaultTimeout.
	LongTimeout bool

	// FilterTimeout overrides filterpool.DefaultTimeout when non-zero,
	// before LongTimeout's multiplier is applied. Like LongTimeout it applies
	// to the seeded filters only, not to PMT filters.
	FilterTimeout time.Duration

	// LockAttempts/LockInterval are passed to frontend.ReadStatusPolled;
	// New defaults them to 10 attempts at 200ms when unset.
	LockAttempts int
	LockInterval time.Duration

	// PoolCapacity overrides filterpool.Capacity (0 = default).
	PoolCapacity int

	Warnf func(format string, args ...any)

	// OnFilterRetired, if set, is forwarded to filterpool.WithRetireHook —
	// the scanner's metrics-wiring seam.
	OnFilterRetired func(f *filterpool.Filter, reason string)

	// OnTuningAttempt/OnTuningFailure are called once per transponder
	// tuning attempt/failure, the scanner's metrics-wiring seam for
	// counters the pool itself has no visibility into.
	OnTuningAttempt func()
	OnTuningFailure func()

	// OnSectionDecoded, if set, is called once per successfully decoded
	// section, keyed by table name ("pat", "pmt", "sdt", "nit", "vct").
	OnSectionDecoded func(table string)

	// OnPoolTick, if set, is called at the end of every filterpool.Tick
	// with the current scheduled/waiting queue lengths.
	OnPoolTick func(scheduled, waiting int)
}

func (o Options) warn(format string, args ...any) {
	if o.Warnf != nil {
		o.Warnf(format, args...)
		return
	}
	log.Printf("scanner: "+format, args...)
}

// Scanner drives the pending/scanned transponder store to completion.
type Scanner struct {
	fe    frontend.Frontend
	demux frontend.Demux
	path  string
	store *store.Store
	opts  Options
}

// New returns a Scanner bound to a frontend, a demux (opened under
// demuxPath), and the given options.
func New(fe frontend.Frontend, demux frontend.Demux, demuxPath string, opts Options) *Scanner {
	if opts.LockAttempts <= 0 {
		opts.LockAttempts = 10
	}
	if opts.LockInterval <= 0 {
		opts.LockInterval = 200 * time.Millisecond
	}
	if opts.ATSCTypes == 0 {
		opts.ATSCTypes = ATSCTerrestrial | ATSCCable
	}
	return &Scanner{fe: fe, demux: demux, path: demuxPath, store: store.New(), opts: opts}
}

// Store exposes the underlying transponder/service store (for reporting).
func (s *Scanner) Store() *store.Store { return s.store }

// SeedATSCPlan enqueues one pending transponder per RF channel 2..51
// (spec.md §4.F "Initial seeding").
func (s *Scanner) SeedATSCPlan() {
	for _, c := range chanplan.All() {
		tp := s.store.AllocTransponder(c.FreqHz, model.DeliveryATSC)
		tp.ModulationParams = map[string]any{"modulation": "vsb-8", "channel": c.Channel}
	}
}

// Run processes every pending transponder until none remain, or — if
// CurrentTPOnly is set — exactly one.
func (s *Scanner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tp := s.store.NextPending()
		if tp == nil {
			return nil
		}
		if err := s.scanOne(ctx, tp); err != nil {
			return err
		}
		if s.opts.CurrentTPOnly {
			return nil
		}
	}
}

// scanOne implements spec.md §4.F's per-transponder cycle.
func (s *Scanner) scanOne(ctx context.Context, tp *model.Transponder) error {
	// Step 1: move pending -> scanned.
	s.store.MarkScanned(tp)

	// Step 2: delivery-system mismatch handling.
	info, err := s.fe.GetInfo(ctx)
	if err != nil {
		return fmt.Errorf("scanner: get_info: %w", err)
	}
	if info.Delivery != model.DeliveryUnknown && info.Delivery != tp.Delivery {
		if err := s.fe.SetProperty(ctx, tp.Delivery); err != nil {
			s.opts.warn("tp=%s: set_property %s refused: %v", tp, tp.Delivery, err)
			tp.LastTuningFailed = true
			return s.handleNoLock(ctx, tp)
		}
	}

	// Step 3: tune and poll for lock.
	if s.opts.OnTuningAttempt != nil {
		s.opts.OnTuningAttempt()
	}
	if err := s.fe.SetFrontend(ctx, frontend.TuningParams{
		FrequencyHz: tp.FrequencyHz,
		Delivery:    tp.Delivery,
		Extra:       tp.ModulationParams,
	}); err != nil {
		s.opts.warn("tp=%s: set_frontend: %v", tp, err)
		tp.LastTuningFailed = true
		return s.handleNoLock(ctx, tp)
	}

	locked, err := frontend.ReadStatusPolled(ctx, s.fe, s.opts.LockAttempts, s.opts.LockInterval)
	if err != nil {
		return fmt.Errorf("scanner: read_status: %w", err)
	}
	if !locked {
		tp.LastTuningFailed = true
		return s.handleNoLock(ctx, tp)
	}

	if reporter, ok := s.fe.(frontend.SignalReporter); ok {
		s.readSignal(ctx, tp, reporter)
	}

	// Step 4/5: seed filters and drain.
	pool := filterpool.NewPool(s.demux, s.path,
		filterpool.WithLogger(s.opts.warn),
		filterpool.WithRetireHook(s.opts.OnFilterRetired),
		filterpool.WithTickObserver(s.opts.OnPoolTick),
		s.poolCapacityOption(),
	)
	tctx := &tables.Context{
		Store:              s.store,
		Pool:               pool,
		Transponder:        tp,
		FrontendDelivery:   tp.Delivery,
		AllowUKFreeviewLCN: s.opts.AllowUKFreeviewLCN,
		Warnf:              s.opts.warn,
		OnDecoded:          s.opts.OnSectionDecoded,
	}
	s.seedFilters(ctx, pool, tctx)

	if err := pool.Drain(ctx); err != nil {
		return fmt.Errorf("scanner: drain: %w", err)
	}
	return nil
}

func (s *Scanner) poolCapacityOption() filterpool.Option {
	if s.opts.PoolCapacity <= 0 {
		return func(*filterpool.Pool) {}
	}
	return filterpool.WithCapacity(s.opts.PoolCapacity)
}

func (s *Scanner) timeout() time.Duration {
	base := s.opts.FilterTimeout
	if base <= 0 {
		if !s.opts.LongTimeout {
			return 0
		}
		base = filterpool.DefaultTimeout
	}
	if s.opts.LongTimeout {
		return base * filterpool.LongTimeoutMultiplier
	}
	return base
}

func (s *Scanner) seedFilters(ctx context.Context, pool *filterpool.Pool, tctx *tables.Context) {
	pat := &filterpool.Filter{
		PID:       tables.PIDPAT,
		TableID:   tables.TableIDPAT,
		RunOnce:   true,
		Timeout:   s.timeout(),
		OnSection: tables.PATHandler(tctx),
	}
	if err := pool.Submit(ctx, pat); err != nil {
		s.opts.warn("submit pat: %v", err)
	}

	switch tctx.Transponder.Delivery {
	case model.DeliveryATSC:
		if s.opts.DisablePSIP {
			return
		}
		if s.opts.ATSCTypes&ATSCTerrestrial != 0 {
			s.submitVCT(ctx, pool, tctx, tables.TableIDVCTTerr)
		}
		if s.opts.ATSCTypes&ATSCCable != 0 {
			s.submitVCT(ctx, pool, tctx, tables.TableIDVCTCable)
		}
	case model.DeliveryDVBT, model.DeliveryDVBC, model.DeliveryDVBS:
		s.submitDVBTable(ctx, pool, tctx, tables.PIDSDT, tables.TableIDSDTActual, tables.SDTHandler(tctx))
		s.submitDVBTable(ctx, pool, tctx, tables.PIDNIT, tables.TableIDNITActual, tables.NITHandler(tctx))
	}
}

func (s *Scanner) submitDVBTable(ctx context.Context, pool *filterpool.Pool, tctx *tables.Context, pid uint16, tid byte, handler filterpool.SectionHandler) {
	f := &filterpool.Filter{
		PID:       pid,
		TableID:   tid,
		RunOnce:   true,
		Timeout:   s.timeout(),
		OnSection: handler,
	}
	if err := pool.Submit(ctx, f); err != nil {
		s.opts.warn("submit pid=0x%04x tid=0x%02x: %v", pid, tid, err)
	}
}

func (s *Scanner) submitVCT(ctx context.Context, pool *filterpool.Pool, tctx *tables.Context, tid byte) {
	f := &filterpool.Filter{
		PID:       tables.PIDPSIPBase,
		TableID:   tid,
		Segmented: false,
		RunOnce:   true,
		Timeout:   s.timeout(),
		OnSection: tables.VCTHandler(tctx),
	}
	if err := pool.Submit(ctx, f); err != nil {
		s.opts.warn("submit vct tid=0x%02x: %v", tid, err)
	}
}

func (s *Scanner) readSignal(ctx context.Context, tp *model.Transponder, r frontend.SignalReporter) {
	strength, err := r.ReadSignalStrength(ctx)
	if err != nil {
		s.opts.warn("read_signal_strength: %v", err)
		return
	}
	snr, err := r.ReadSNR(ctx)
	if err != nil {
		s.opts.warn("read_snr: %v", err)
		return
	}
	ber, err := r.ReadBER(ctx)
	if err != nil {
		s.opts.warn("read_ber: %v", err)
		return
	}
	blocks, err := r.ReadUncorrectedBlocks(ctx)
	if err != nil {
		s.opts.warn("read_uncorrected_blocks: %v", err)
		return
	}
	tp.Signal = model.SignalReport{Strength: strength, SNR: snr, BER: ber, UncorrectedBlocks: blocks, Valid: true}
}

// handleNoLock implements spec.md §4.F step 6: retry on an alternate
// frequency if one is queued, otherwise record the failure and advance.
func (s *Scanner) handleNoLock(ctx context.Context, tp *model.Transponder) error {
	if s.opts.OnTuningFailure != nil {
		s.opts.OnTuningFailure()
	}
	if tp.OtherFrequencyFlag {
		if altHz, ok := store.PopAlternateFrequency(tp); ok {
			s.opts.warn("tp=%s: no lock, retrying at alternate %.3f MHz", tp, float64(altHz)/1e6)
			alt := &model.Transponder{
				FrequencyHz:      altHz,
				Delivery:         tp.Delivery,
				ModulationParams: tp.ModulationParams,
			}
			s.store.Pending = append([]*model.Transponder{alt}, s.store.Pending...)
		}
	}
	return nil
}
