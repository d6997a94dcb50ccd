package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// EscrowMetrics records reconciliation progress and user action outcomes.
type EscrowMetrics struct {
	events       *prometheus.CounterVec
	scans        *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	cursor       *prometheus.GaugeVec
	actions      *prometheus.CounterVec
	signatures   *prometheus.CounterVec
}

// Escrow returns the lazily-initialised escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trade",
				Subsystem: "recon",
				Name:      "events_total",
				Help:      "Ledger events handled by the reconciler segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			scans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trade",
				Subsystem: "recon",
				Name:      "scans_total",
				Help:      "Batch scans segmented by chain and outcome.",
			}, []string{"chain", "outcome"}),
			scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "trade",
				Subsystem: "recon",
				Name:      "scan_duration_seconds",
				Help:      "Latency distribution of batch scans.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"chain"}),
			cursor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "trade",
				Subsystem: "recon",
				Name:      "cursor_height",
				Help:      "Last ledger height persisted by the reconciler.",
			}, []string{"chain"}),
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trade",
				Subsystem: "escrow",
				Name:      "actions_total",
				Help:      "User and arbiter actions segmented by operation and error kind.",
			}, []string{"operation", "kind"}),
			signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trade",
				Subsystem: "escrow",
				Name:      "signatures_total",
				Help:      "Claim authorizations issued segmented by claim kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			escrowRegistry.events,
			escrowRegistry.scans,
			escrowRegistry.scanDuration,
			escrowRegistry.cursor,
			escrowRegistry.actions,
			escrowRegistry.signatures,
		)
	})
	return escrowRegistry
}

// RecordEvent counts one ledger event. Outcomes are "applied", "noop",
// "stale", "missing", "malformed" or "failed".
func (m *EscrowMetrics) RecordEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(labelOr(kind, "unknown"), labelOr(outcome, "unknown")).Inc()
}

// ObserveScan records a finished batch scan and the persisted cursor.
func (m *EscrowMetrics) ObserveScan(chain string, d time.Duration, height uint64, err error) {
	if m == nil {
		return
	}
	chain = labelOr(chain, "unknown")
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.scans.WithLabelValues(chain, outcome).Inc()
	m.scanDuration.WithLabelValues(chain).Observe(d.Seconds())
	if err == nil {
		m.cursor.WithLabelValues(chain).Set(float64(height))
	}
}

// RecordSkippedScan counts a scan that found the chain lock held.
func (m *EscrowMetrics) RecordSkippedScan(chain string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(labelOr(chain, "unknown"), "skipped").Inc()
}

// RecordAction counts an operation outcome; kind is empty on success.
func (m *EscrowMetrics) RecordAction(operation, kind string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(labelOr(operation, "unknown"), labelOr(kind, "ok")).Inc()
}

// RecordSignature counts an issued claim authorization.
func (m *EscrowMetrics) RecordSignature(kind string) {
	if m == nil {
		return
	}
	m.signatures.WithLabelValues(labelOr(kind, "unknown")).Inc()
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// HTTP returns the request metrics shared by the gateway's routes.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trade",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route pattern and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "trade",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency)
	})
	return httpRegistry
}

// Observe records one finished request.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = labelOr(route, "unmatched")
	if status == 0 {
		status = http.StatusOK
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

func labelOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
