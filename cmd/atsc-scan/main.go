// Command atsc-scan tunes an ATSC (or DVB) frontend across its channel plan
// and emits the discovered services as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapetech/atscscan/internal/config"
	"github.com/snapetech/atscscan/internal/filterpool"
	"github.com/snapetech/atscscan/internal/frontend"
	"github.com/snapetech/atscscan/internal/frontend/simulated"
	"github.com/snapetech/atscscan/internal/logging"
	"github.com/snapetech/atscscan/internal/metrics"
	"github.com/snapetech/atscscan/internal/model"
	"github.com/snapetech/atscscan/internal/scanner"
)

func main() {
	envFile := flag.String("env", "", "optional .env file to source before reading flags")
	frontendPath := flag.String("frontend", "", "frontend device path (empty = simulated)")
	demuxPath := flag.String("demux", "", "demux device path (empty = simulated)")
	atscMask := flag.String("atsc-types", "", "comma-separated ATSC types to scan: terrestrial,cable (empty = both)")
	currentTPOnly := flag.Bool("current-tp-only", false, "scan only the first pending transponder")
	longTimeout := flag.Bool("long-timeout", false, "multiply the PAT/VCT/SDT/NIT filter timeouts by 5x (PMT filters keep the default)")
	filterTimeout := flag.Duration("filter-timeout", 0, "override the PAT/VCT/SDT/NIT section-wait deadline (0 = filterpool default; PMT filters keep the default)")
	disablePSIP := flag.Bool("disable-psip", false, "skip ATSC VCT filters, rely on PAT/PMT/SDT only")
	allowUKLCN := flag.Bool("allow-uk-lcn", false, "opt into NIT descriptor tag 0x83 (UK Freeview LCN)")
	verbosity := flag.Int("v", 2, "log verbosity 0 (silent) to 6 (trace)")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	output := flag.String("output", "", "write JSON result here instead of stdout")
	flag.Parse()

	if *envFile != "" {
		if err := config.LoadEnvFile(*envFile); err != nil {
			log.Printf("atsc-scan: load env file %s: %v", *envFile, err)
		}
	}
	cfg := config.Load()
	if *frontendPath != "" {
		cfg.FrontendPath = *frontendPath
	}
	if *demuxPath != "" {
		cfg.DemuxPath = *demuxPath
	}
	if *atscMask != "" {
		cfg.ATSCTypeMask = *atscMask
	}
	if *currentTPOnly {
		cfg.CurrentTPOnly = true
	}
	if *longTimeout {
		cfg.LongTimeout = true
	}
	if *filterTimeout != 0 {
		cfg.FilterTimeout = *filterTimeout
	}
	if *disablePSIP {
		cfg.DisablePSIP = true
	}
	if *allowUKLCN {
		cfg.AllowUKFreeviewLCN = true
	}
	if *verbosity != 2 {
		cfg.Verbosity = *verbosity
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *output != "" {
		cfg.OutputPath = *output
	}

	runID := uuid.New().String()
	logger := logging.New("atsc-scan", cfg.Verbosity)
	logger.Infof("run_id=%s starting scan frontend=%q demux=%q", runID, cfg.FrontendPath, cfg.DemuxPath)

	atscTypes, err := config.ParseATSCTypeMask(cfg.ATSCTypeMask)
	if err != nil {
		log.Fatalf("atsc-scan: %v", err)
	}
	types := scanner.ATSCTerrestrial | scanner.ATSCCable
	if len(atscTypes) > 0 {
		types = 0
		for _, t := range atscTypes {
			switch t {
			case "terrestrial":
				types |= scanner.ATSCTerrestrial
			case "cable":
				types |= scanner.ATSCCable
			}
		}
	}

	mtr := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(mtr.Registry, promhttp.HandlerOpts{}))
			logger.Infof("serving metrics on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	fe, demux := newDevices(cfg, logger)

	opts := scanner.Options{
		ATSCTypes:          types,
		CurrentTPOnly:      cfg.CurrentTPOnly,
		DisablePSIP:        cfg.DisablePSIP,
		AllowUKFreeviewLCN: cfg.AllowUKFreeviewLCN,
		LongTimeout:        cfg.LongTimeout,
		FilterTimeout:      cfg.FilterTimeout,
		LockAttempts:       cfg.LockAttempts,
		LockInterval:       cfg.LockInterval,
		Warnf:              logger.With("scanner").Warnf,
		OnTuningAttempt:    func() { mtr.TuningAttempts.Inc() },
		OnTuningFailure:    func() { mtr.TuningFailures.Inc() },
		OnSectionDecoded:   func(table string) { mtr.SectionsDecoded.WithLabelValues(table).Inc() },
		OnPoolTick: func(scheduled, waiting int) {
			mtr.FiltersScheduled.Set(float64(scheduled))
			mtr.FiltersWaiting.Set(float64(waiting))
		},
		OnFilterRetired: func(f *filterpool.Filter, reason string) {
			logger.With("filterpool").Debugf("pid=0x%04x table=0x%02x retired reason=%s", f.PID, f.TableID, reason)
		},
	}

	sc := scanner.New(fe, demux, cfg.DemuxPath, opts)
	sc.SeedATSCPlan()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := sc.Run(ctx); err != nil {
		logger.Errorf("scan aborted: %v", err)
	}
	logger.Infof("run_id=%s scan finished in %s, %d services across %d transponders",
		runID, time.Since(start), sc.Store().ServiceCount(), len(sc.Store().Scanned))

	mtr.TranspondersPending.Set(float64(len(sc.Store().Pending)))
	mtr.TranspondersScanned.Set(float64(len(sc.Store().Scanned)))
	mtr.ServicesDiscovered.Set(float64(sc.Store().ServiceCount()))

	writeResult(cfg.OutputPath, sc, logger)
}

// newDevices returns the simulated in-memory frontend/demux. Real hardware
// frontends talk to /dev/dvb/adapterN/{frontend,demux}N via platform-specific
// ioctls, out of scope for this module (spec.md §1/§6); a non-empty
// -frontend path is accepted for configuration parity but still drives the
// simulated device underneath.
func newDevices(cfg *config.Config, logger *logging.Logger) (frontend.Frontend, frontend.Demux) {
	if cfg.FrontendPath != "" {
		logger.Errorf("real frontend device support is not built into this binary; using simulated device for %q", cfg.FrontendPath)
	} else {
		logger.Infof("no frontend configured, using simulated device")
	}
	dev := simulated.New(model.DeliveryATSC)
	dev.SetLockAfter(1)
	return dev, dev
}

type scanResultService struct {
	ServiceID   uint16   `json:"service_id"`
	ServiceName string   `json:"service_name,omitempty"`
	Major       uint16   `json:"major,omitempty"`
	Minor       uint16   `json:"minor,omitempty"`
	PMTPID      uint16   `json:"pmt_pid"`
	PCRPID      uint16   `json:"pcr_pid"`
	VideoPID    uint16   `json:"video_pid,omitempty"`
	AudioPIDs   []uint16 `json:"audio_pids,omitempty"`
	Running     string   `json:"running"`
	Scrambled   bool     `json:"scrambled"`
	Hidden      bool     `json:"hidden"`
}

type scanResultTransponder struct {
	FrequencyHz uint64               `json:"frequency_hz"`
	Delivery    string               `json:"delivery"`
	TSID        uint16               `json:"transport_stream_id"`
	Services    []scanResultService  `json:"services"`
}

func toResult(tp *model.Transponder) *scanResultTransponder {
	r := &scanResultTransponder{
		FrequencyHz: tp.FrequencyHz,
		Delivery:    tp.Delivery.String(),
		TSID:        tp.TransportStreamID,
	}
	for _, svc := range tp.Services {
		audio := make([]uint16, 0, len(svc.AudioTracks))
		for _, a := range svc.AudioTracks {
			audio = append(audio, a.PID)
		}
		r.Services = append(r.Services, scanResultService{
			ServiceID:   svc.ServiceID,
			ServiceName: svc.ServiceName,
			Major:       svc.Major,
			Minor:       svc.Minor,
			PMTPID:      svc.PMTPID,
			PCRPID:      svc.PCRPID,
			VideoPID:    svc.VideoPID,
			AudioPIDs:   audio,
			Running:     svc.Running.String(),
			Scrambled:   svc.Scrambled,
			Hidden:      svc.Hidden,
		})
	}
	return r
}

func writeResult(path string, sc *scanner.Scanner, logger *logging.Logger) {
	enc := struct {
		Pending []*scanResultTransponder `json:"pending"`
		Scanned []*scanResultTransponder `json:"scanned"`
	}{}
	for _, tp := range sc.Store().Pending {
		enc.Pending = append(enc.Pending, toResult(tp))
	}
	for _, tp := range sc.Store().Scanned {
		enc.Scanned = append(enc.Scanned, toResult(tp))
	}

	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			logger.Errorf("create output %s: %v", path, err)
			return
		}
		defer f.Close()
		out = f
	}
	e := json.NewEncoder(out)
	e.SetIndent("", "  ")
	if err := e.Encode(enc); err != nil {
		logger.Errorf("encode result: %v", err)
	}
}
