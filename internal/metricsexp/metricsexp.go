// Package metricsexp exposes supervision metrics via Prometheus, grounded
// on the teacher's internal/metrics/metrics.go. Unlike the teacher's
// package-level global collectors, Exporter is an instance so multiple
// Loops (tests, in particular) never collide on the default registry.
package metricsexp

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns the process-supervision collectors and records events the
// Supervisor Loop emits as it applies commands.
type Exporter struct {
	registry *prometheus.Registry

	starts      *prometheus.CounterVec
	restarts    *prometheus.CounterVec
	stops       *prometheus.CounterVec
	crashes     *prometheus.CounterVec
	running     prometheus.Gauge
	currentCPU  *prometheus.GaugeVec
	currentRSS  *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

// New builds an Exporter and registers its collectors with a fresh
// registry owned by that instance; an AlreadyRegisteredError from the
// registry is ignored, any other registration error panics.
func New() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmcd", Subsystem: "process", Name: "starts_total",
			Help: "Number of successful process starts.",
		}, []string{"name"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmcd", Subsystem: "process", Name: "restarts_total",
			Help: "Number of auto restarts.",
		}, []string{"name"}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmcd", Subsystem: "process", Name: "stops_total",
			Help: "Number of user-requested stops.",
		}, []string{"name"}),
		crashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmcd", Subsystem: "process", Name: "crashes_total",
			Help: "Number of abnormal exits.",
		}, []string{"name"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pmcd", Subsystem: "process", Name: "running",
			Help: "Number of currently running processes.",
		}),
		currentCPU: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pmcd", Subsystem: "process", Name: "cpu_percent",
			Help: "Last sampled CPU percent per process.",
		}, []string{"name"}),
		currentRSS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pmcd", Subsystem: "process", Name: "rss_bytes",
			Help: "Last sampled RSS bytes per process.",
		}, []string{"name"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmcd", Subsystem: "process", Name: "state_transitions_total",
			Help: "Number of state transitions between process states.",
		}, []string{"name", "from", "to"}),
	}
	for _, c := range []prometheus.Collector{
		e.starts, e.restarts, e.stops, e.crashes, e.running, e.currentCPU, e.currentRSS, e.transitions,
	} {
		if err := e.registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err) // only reachable if two collectors share a fully-qualified name, a programmer error
			}
		}
	}
	return e
}

// Handler serves this Exporter's registry, to be mounted at GET /metrics.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) IncStart(name string)   { e.starts.WithLabelValues(name).Inc() }
func (e *Exporter) IncRestart(name string) { e.restarts.WithLabelValues(name).Inc() }
func (e *Exporter) IncStop(name string)    { e.stops.WithLabelValues(name).Inc() }
func (e *Exporter) IncCrash(name string)   { e.crashes.WithLabelValues(name).Inc() }
func (e *Exporter) SetRunning(n int)       { e.running.Set(float64(n)) }

func (e *Exporter) SetSample(name string, cpuPercent float64, rssBytes uint64) {
	e.currentCPU.WithLabelValues(name).Set(cpuPercent)
	e.currentRSS.WithLabelValues(name).Set(float64(rssBytes))
}

func (e *Exporter) RecordTransition(name, from, to string) {
	e.transitions.WithLabelValues(name, from, to).Inc()
}
