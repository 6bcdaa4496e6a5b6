// Package metrics provides Prometheus instrumentation for tap-outbrain.
//
// # Overview
//
// All collectors are registered on the default registry at init and can be
// scraped through promhttp when the CLI is started with --metrics-addr:
//   - API requests by endpoint and status class
//   - retries by endpoint
//   - request latency by endpoint
//   - records emitted by stream
//   - state checkpoints by stream
//   - report windows that came back empty
//
// # Basic Usage
//
//	timer := metrics.NewTimer("periodic")
//	resp, err := do(req)
//	metrics.ObserveRequest("periodic", resp.StatusCode, timer.Stop())
//
//	metrics.RecordsEmitted.WithLabelValues("campaign_performance").Inc()
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tap_outbrain"

var (
	// APIRequests counts completed HTTP attempts.
	// Labels: endpoint (login/campaigns/promoted_links/periodic), status (HTTP code or "error")
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of Outbrain API request attempts",
		},
		[]string{"endpoint", "status"},
	)

	// APIRetries counts attempts that were retried after a transient failure
	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "Total number of retried Outbrain API requests",
		},
		[]string{"endpoint"},
	)

	// RequestLatency tracks per-attempt latency in seconds
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Outbrain API request latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	// RecordsEmitted counts RECORD messages per stream
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "Total number of records emitted",
		},
		[]string{"stream"},
	)

	// StateCheckpoints counts STATE messages per stream
	StateCheckpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_checkpoints_total",
			Help:      "Total number of state checkpoints emitted",
		},
		[]string{"stream"},
	)

	// EmptyWindows counts report windows that returned no results
	EmptyWindows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_report_windows_total",
			Help:      "Report windows that came back with an empty result page",
		},
		[]string{"stream"},
	)

	// Throughput tracks records per second for the last completed stream
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_records_per_second",
			Help:      "Current throughput in records per second",
		},
		[]string{"stream"},
	)
)

// ObserveRequest records one finished HTTP attempt. A status of 0 means the
// attempt failed before a response arrived.
func ObserveRequest(endpoint string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	APIRequests.WithLabelValues(endpoint, label).Inc()
	RequestLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since creation. It can be called
// multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks records per second for one stream.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	stream    string
}

// NewThroughputTracker creates a new throughput tracker for a stream
func NewThroughputTracker(stream string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		stream:    stream,
	}
}

// Increment adds n to the record count
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// Count returns the records seen since the last reset
func (t *ThroughputTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// GetAndReset calculates the current throughput, updates the gauge, resets
// the counter and returns the calculated value.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.stream).Set(throughput)

	return throughput
}
