// Package metrics exposes scan activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lyallcooper/diskscan/internal/sigdb"
	"github.com/lyallcooper/diskscan/internal/types"
)

const namespace = "diskscan"

// Collector holds the process-wide metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	sessions      *prometheus.CounterVec
	filesScanned  prometheus.Counter
	threatsFound  prometheus.Counter
	mountFailures *prometheus.CounterVec
	duration      prometheus.Histogram
	active        prometheus.Gauge
	databaseState *prometheus.GaugeVec
	databaseAge   prometheus.Gauge
}

// New creates a collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Scan sessions by mode and final state.",
		}, []string{"mode", "state"}),
		filesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_scanned_total",
			Help:      "Files scanned across finished sessions.",
		}),
		threatsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threats_found_total",
			Help:      "Threats reported across finished sessions.",
		}),
		mountFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mount_failures_total",
			Help:      "Partitions that could not be mounted, by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of finished scan sessions.",
			Buckets:   prometheus.ExponentialBuckets(10, 3, 8),
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while a scan session is running.",
		}),
		databaseState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signature_database_status",
			Help:      "1 for the current signature database status.",
		}, []string{"status"}),
		databaseAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signature_database_age_seconds",
			Help:      "Age of the newest signature database file.",
		}),
	}

	c.registry.MustRegister(
		c.sessions, c.filesScanned, c.threatsFound, c.mountFailures,
		c.duration, c.active, c.databaseState, c.databaseAge,
		prometheus.NewGoCollector(),
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// SessionStarted marks a session as running
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.active.Set(1)
}

// SessionFinished records a terminal session
func (c *Collector) SessionFinished(mode types.ScanMode, state types.SessionState, result types.ScanResult, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.active.Set(0)
	c.sessions.WithLabelValues(string(mode), string(state)).Inc()
	c.filesScanned.Add(float64(result.FilesScanned))
	c.threatsFound.Add(float64(result.ThreatsFound))
	c.duration.Observe(elapsed.Seconds())
}

// MountFailed counts a partition that was skipped
func (c *Collector) MountFailed(reason string) {
	if c == nil {
		return
	}
	c.mountFailures.WithLabelValues(reason).Inc()
}

// DatabaseChecked publishes the latest signature database check
func (c *Collector) DatabaseChecked(info sigdb.Info) {
	if c == nil {
		return
	}
	for _, st := range []sigdb.Status{sigdb.StatusOK, sigdb.StatusOutdated, sigdb.StatusMissing} {
		v := 0.0
		if st == info.Status {
			v = 1
		}
		c.databaseState.WithLabelValues(string(st)).Set(v)
	}
	if !info.Newest.IsZero() {
		c.databaseAge.Set(info.CheckedAt.Sub(info.Newest).Seconds())
	}
}
