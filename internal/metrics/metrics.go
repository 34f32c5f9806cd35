// Package metrics declares the Prometheus collectors exposed by the
// scanner, registered against a private registry so multiple scan runs in
// the same process (e.g. tests) don't collide on the default registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector named in SPEC_FULL.md's component G.
type Metrics struct {
	Registry *prometheus.Registry

	FiltersScheduled   prometheus.Gauge
	FiltersWaiting     prometheus.Gauge
	SectionsDecoded    *prometheus.CounterVec
	TuningAttempts     prometheus.Counter
	TuningFailures     prometheus.Counter
	ServicesDiscovered prometheus.Gauge
	TranspondersPending prometheus.Gauge
	TranspondersScanned prometheus.Gauge
}

// New builds and registers a fresh set of collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		FiltersScheduled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atsc_scan_filters_scheduled",
			Help: "Number of section filters currently scheduled on the demux.",
		}),
		FiltersWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atsc_scan_filters_waiting",
			Help: "Number of section filters waiting in the pool's FIFO queue.",
		}),
		SectionsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atsc_scan_sections_decoded_total",
			Help: "Sections successfully decoded, by table name.",
		}, []string{"table"}),
		TuningAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atsc_scan_tuning_attempts_total",
			Help: "Number of SetFrontend tuning attempts.",
		}),
		TuningFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atsc_scan_tuning_failures_total",
			Help: "Number of transponders that never achieved lock.",
		}),
		ServicesDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atsc_scan_services_discovered",
			Help: "Total services discovered across all transponders so far.",
		}),
		TranspondersPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atsc_scan_transponders_pending",
			Help: "Transponders still queued for scanning.",
		}),
		TranspondersScanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atsc_scan_transponders_scanned",
			Help: "Transponders already scanned.",
		}),
	}

	reg.MustRegister(
		m.FiltersScheduled,
		m.FiltersWaiting,
		m.SectionsDecoded,
		m.TuningAttempts,
		m.TuningFailures,
		m.ServicesDiscovered,
		m.TranspondersPending,
		m.TranspondersScanned,
	)
	return m
}
