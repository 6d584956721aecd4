package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostwire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ghostwire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	snapshots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostwire",
			Subsystem: "snapshot",
			Name:      "encoded_total",
			Help:      "Snapshots encoded, by mode.",
		},
		[]string{"mode"},
	)
	snapshotBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ghostwire",
			Subsystem: "snapshot",
			Name:      "bytes",
			Help:      "Encoded snapshot size in bytes, by mode.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		},
		[]string{"mode"},
	)
	encodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ghostwire",
			Subsystem: "snapshot",
			Name:      "encode_errors_total",
			Help:      "Per-observer encode failures.",
		},
	)
	desyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostwire",
			Subsystem: "snapshot",
			Name:      "desyncs_total",
			Help:      "Desyncs detected by receivers or requested through resync.",
		},
		[]string{"side"},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ghostwire",
			Subsystem: "replication",
			Name:      "tick_duration_seconds",
			Help:      "Replication tick duration, prepass through barrier.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)
	observers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ghostwire",
			Subsystem: "replication",
			Name:      "observers",
			Help:      "Registered observers.",
		},
	)
	ghostIDs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ghostwire",
			Subsystem: "ghost",
			Name:      "ids",
			Help:      "Ghost ids by state: live, pending reuse, minted.",
		},
		[]string{"state"},
	)
	sendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostwire",
			Subsystem: "transport",
			Name:      "send_failures_total",
			Help:      "Failed message sends, by message pattern.",
		},
		[]string{"pattern"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			snapshots, snapshotBytes, encodeErrors, desyncs,
			tickDuration, observers, ghostIDs, sendFailures,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSnapshot(mode string, bytes int) {
	RegisterMetrics()
	snapshots.WithLabelValues(mode).Inc()
	snapshotBytes.WithLabelValues(mode).Observe(float64(bytes))
}

func RecordEncodeError() {
	RegisterMetrics()
	encodeErrors.Inc()
}

// RecordDesync counts a desync seen by side "client" or "server".
func RecordDesync(side string) {
	RegisterMetrics()
	desyncs.WithLabelValues(side).Inc()
}

func RecordTick(duration time.Duration, observerCount int) {
	RegisterMetrics()
	tickDuration.Observe(duration.Seconds())
	observers.Set(float64(observerCount))
}

func RecordGhostIDs(live, pending, minted int) {
	RegisterMetrics()
	ghostIDs.WithLabelValues("live").Set(float64(live))
	ghostIDs.WithLabelValues("pending").Set(float64(pending))
	ghostIDs.WithLabelValues("minted").Set(float64(minted))
}

func RecordSendFailure(pattern string) {
	RegisterMetrics()
	sendFailures.WithLabelValues(pattern).Inc()
}
