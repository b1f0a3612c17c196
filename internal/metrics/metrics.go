// Package metrics provides Prometheus instrumentation for the dev server.
//
// Collectors live on a private registry owned by Metrics so that several
// servers (tests, mostly) can coexist in one process. Mount Handler under
// /@dev/metrics and wrap the router with Middleware.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hotssr"

// Metrics holds every collector and the registry they are registered on.
type Metrics struct {
	Registry *prometheus.Registry

	RequestDuration *prometheus.HistogramVec
	RequestTotal    *prometheus.CounterVec
	RenderDuration  *prometheus.HistogramVec
	BuildTotal      *prometheus.CounterVec
	BuildDuration   *prometheus.HistogramVec
	HMRClients      prometheus.Gauge
	HMRBroadcasts   *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "status"},
		),
		RequestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "status"},
		),
		RenderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ssr",
				Name:      "render_duration_seconds",
				Help:      "Duration of the full SSR pipeline per request.",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"outcome"}, // "success" | "error"
		),
		BuildTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bundler",
				Name:      "builds_total",
				Help:      "Total bundler builds.",
			},
			[]string{"kind", "result"}, // kind: "client" | "ssr"; result: "success" | "error"
		),
		BuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "bundler",
				Name:      "build_duration_seconds",
				Help:      "Duration of bundler builds in seconds.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"kind"},
		),
		HMRClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hmr",
			Name:      "clients",
			Help:      "Number of connected HMR clients.",
		}),
		HMRBroadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hmr",
				Name:      "broadcasts_total",
				Help:      "Total HMR messages broadcast, by type.",
			},
			[]string{"type"},
		),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestDuration,
		m.RequestTotal,
		m.RenderDuration,
		m.BuildTotal,
		m.BuildDuration,
		m.HMRClients,
		m.HMRBroadcasts,
	)

	return m
}

// ObserveRender records one SSR pipeline run.
func (m *Metrics) ObserveRender(start time.Time, err error) {
	if m == nil {
		return
	}
	m.RenderDuration.WithLabelValues(outcome(err)).Observe(time.Since(start).Seconds())
}

// ObserveBuild records one bundler build.
func (m *Metrics) ObserveBuild(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.BuildTotal.WithLabelValues(kind, outcome(err)).Inc()
	m.BuildDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// SetHMRClients records the current HMR client count.
func (m *Metrics) SetHMRClients(n int) {
	if m == nil {
		return
	}
	m.HMRClients.Set(float64(n))
}

// CountBroadcast records one HMR broadcast.
func (m *Metrics) CountBroadcast(messageType string) {
	if m == nil {
		return
	}
	m.HMRBroadcasts.WithLabelValues(messageType).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// responseRecorder wraps http.ResponseWriter to capture the status code.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes through to the underlying writer for websocket upgrades.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T does not support hijacking", r.ResponseWriter)
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Middleware records request count and duration by method and status.
// Paths are not a label since the catch-all route makes them
// unbounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rr, r)

		status := strconv.Itoa(rr.status)
		m.RequestDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
		m.RequestTotal.WithLabelValues(r.Method, status).Inc()
	})
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
