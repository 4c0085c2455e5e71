// Package metrics provides Prometheus metrics for the transport core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "torwasm"

// Metrics contains all Prometheus metrics the client exposes.
type Metrics struct {
	// Dispatch metrics, one series per transport tag (ws, webtunnel,
	// meek, peer).
	DispatchAttempts  *prometheus.CounterVec
	DispatchSuccesses *prometheus.CounterVec
	DispatchLatency   *prometheus.HistogramVec

	// Stream byte counters, plaintext octets, one series per transport tag.
	BytesIn  *prometheus.CounterVec
	BytesOut *prometheus.CounterVec

	// Credential operation metrics, one series per lox operation name.
	CredentialOps       *prometheus.CounterVec
	CredentialOpErrors  *prometheus.CounterVec
	CredentialTrustTier prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics instance, registered against
// prometheus.DefaultRegisterer on first use.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against the
// default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom
// registry, used by tests that want an isolated registry per case.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DispatchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts_total",
			Help:      "Total connect attempts by transport tag",
		}, []string{"transport"}),
		DispatchSuccesses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_successes_total",
			Help:      "Total successful connects by transport tag",
		}, []string{"transport"}),
		DispatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Per-transport handshake latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"transport"}),

		BytesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_in_total",
			Help:      "Plaintext bytes read, by transport tag",
		}, []string{"transport"}),
		BytesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_out_total",
			Help:      "Plaintext bytes written, by transport tag",
		}, []string{"transport"}),

		CredentialOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_ops_total",
			Help:      "Total credential authority calls by operation",
		}, []string{"op"}),
		CredentialOpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_op_errors_total",
			Help:      "Total credential authority call failures by operation",
		}, []string{"op"}),
		CredentialTrustTier: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credential_trust_tier",
			Help:      "Current trust tier of the locally stored credential",
		}),
	}
}
