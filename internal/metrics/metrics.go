// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aofkv"

// Metrics groups every collector of the process. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	registry *prometheus.Registry

	mutations     *prometheus.CounterVec
	appendErrors  prometheus.Counter
	keys          prometheus.Gauge
	replayEntries *prometheus.CounterVec

	backupOps      *prometheus.CounterVec
	backupDuration *prometheus.HistogramVec
	lastBackup     prometheus.Gauge

	requests *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Mutations committed to the log, by operation.",
		}, []string{"op"}),
		appendErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_append_errors_total",
			Help:      "Log appends that failed and rejected their mutation.",
		}),
		keys: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keys",
			Help:      "Number of keys held in memory.",
		}),
		replayEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_lines_total",
			Help:      "Log lines seen during startup replay, by result.",
		}, []string{"result"}),
		backupOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_operations_total",
			Help:      "Remote backup operations, by operation and result.",
		}, []string{"op", "result"}),
		backupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_duration_seconds",
			Help:      "Duration of remote backup operations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"op"}),
		lastBackup: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_upload_timestamp_seconds",
			Help:      "Unix time of the last successful upload.",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "API requests, by protocol and command.",
		}, []string{"proto", "command"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Mutation(op string, keys int) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op).Inc()
	m.keys.Set(float64(keys))
}

func (m *Metrics) AppendFailed() {
	if m == nil {
		return
	}
	m.appendErrors.Inc()
}

func (m *Metrics) Replayed(applied, skipped, keys int) {
	if m == nil {
		return
	}
	m.replayEntries.WithLabelValues("applied").Add(float64(applied))
	m.replayEntries.WithLabelValues("skipped").Add(float64(skipped))
	m.keys.Set(float64(keys))
}

// Backup records the outcome of a remote operation that started at start.
func (m *Metrics) Backup(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	} else if op == "upload" {
		m.lastBackup.SetToCurrentTime()
	}
	m.backupOps.WithLabelValues(op, result).Inc()
	m.backupDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Request(proto, command string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(proto, command).Inc()
}
