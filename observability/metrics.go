package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	walletMetricsOnce sync.Once
	walletRegistry    *WalletMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otpwallet",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otpwallet",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "otpwallet",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otpwallet",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by rate limiting.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. status is the HTTP status that
// was written.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for module and reason.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// WalletMetrics tracks the commit-reveal pipeline.
type WalletMetrics struct {
	commits       *prometheus.CounterVec
	reveals       *prometheus.CounterVec
	operations    *prometheus.CounterVec
	recoveries    *prometheus.CounterVec
	autoTrackSkip prometheus.Counter
	revealLatency prometheus.Histogram
	wallets       prometheus.Gauge
}

// Wallets returns the singleton wallet metrics registry.
func Wallets() *WalletMetrics {
	walletMetricsOnce.Do(func() {
		walletRegistry = &WalletMetrics{
			commits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otpwallet",
				Subsystem: "wallet",
				Name:      "commits_total",
				Help:      "Commitments submitted segmented by outcome class.",
			}, []string{"outcome"}),
			reveals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otpwallet",
				Subsystem: "wallet",
				Name:      "reveals_total",
				Help:      "Reveals processed segmented by outcome class.",
			}, []string{"outcome"}),
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otpwallet",
				Subsystem: "wallet",
				Name:      "operations_total",
				Help:      "Operations applied segmented by kind.",
			}, []string{"kind"}),
			recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otpwallet",
				Subsystem: "wallet",
				Name:      "recoveries_total",
				Help:      "Recovery sweeps segmented by trigger.",
			}, []string{"trigger"}),
			autoTrackSkip: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "otpwallet",
				Subsystem: "wallet",
				Name:      "autotrack_skipped_total",
				Help:      "Inbound tokens not tracked because the registry was full.",
			}),
			revealLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "otpwallet",
				Subsystem: "wallet",
				Name:      "reveal_duration_seconds",
				Help:      "Time spent validating and applying a reveal.",
				Buckets:   prometheus.DefBuckets,
			}),
			wallets: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "otpwallet",
				Subsystem: "wallet",
				Name:      "wallets",
				Help:      "Wallets loaded by the engine.",
			}),
		}
		prometheus.MustRegister(
			walletRegistry.commits,
			walletRegistry.reveals,
			walletRegistry.operations,
			walletRegistry.recoveries,
			walletRegistry.autoTrackSkip,
			walletRegistry.revealLatency,
			walletRegistry.wallets,
		)
	})
	return walletRegistry
}

func outcomeLabel(outcome string) string {
	if outcome == "" {
		return "unknown"
	}
	return outcome
}

// RecordCommit counts a commit attempt.
func (m *WalletMetrics) RecordCommit(outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(outcomeLabel(outcome)).Inc()
}

// RecordReveal counts a reveal and its latency.
func (m *WalletMetrics) RecordReveal(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reveals.WithLabelValues(outcomeLabel(outcome)).Inc()
	m.revealLatency.Observe(duration.Seconds())
}

// RecordOperation counts an applied operation by kind.
func (m *WalletMetrics) RecordOperation(kind string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(outcomeLabel(kind)).Inc()
}

// RecordRecovery counts a sweep.
func (m *WalletMetrics) RecordRecovery(trigger string) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(outcomeLabel(trigger)).Inc()
}

// RecordAutoTrackSkipped counts an inbound token left untracked.
func (m *WalletMetrics) RecordAutoTrackSkipped() {
	if m == nil {
		return
	}
	m.autoTrackSkip.Inc()
}

// SetWallets reports the number of loaded wallets.
func (m *WalletMetrics) SetWallets(n int) {
	if m == nil {
		return
	}
	m.wallets.Set(float64(n))
}
