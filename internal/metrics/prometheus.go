package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for keystore metrics
type PrometheusMetrics struct {
	registry *prometheus.Registry

	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	sessionsOpened *prometheus.CounterVec
	sessionsFailed *prometheus.CounterVec
	sessionsOpen   *prometheus.GaugeVec

	affineConns prometheus.Gauge
	reconnects  *prometheus.CounterVec
	breakers    *prometheus.CounterVec
}

// Default histogram buckets for command round trips (in seconds)
var defaultBuckets = []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of uniform operations issued to a driver",
			},
			[]string{"driver", "op", "status"},
		),

		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Round-trip duration of uniform operations",
				Buckets:   buckets,
			},
			[]string{"driver", "op"},
		),

		sessionsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_opened_total",
				Help:      "Sessions successfully resolved from a DSN",
			},
			[]string{"driver"},
		),

		sessionsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_failed_total",
				Help:      "DSN resolutions that failed, by error kind",
			},
			[]string{"kind"},
		),

		sessionsOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_open",
				Help:      "Sessions currently open",
			},
			[]string{"driver"},
		),

		affineConns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "affine_connections",
				Help:      "Worker-affine backend connections currently pooled",
			},
		),

		reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Broken backend connections replaced before a command",
			},
			[]string{"driver"},
		),

		breakers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_transitions_total",
				Help:      "Dial breaker state changes, by the state entered",
			},
			[]string{"driver", "state"},
		),
	}

	registry.MustRegister(
		pm.commandsTotal,
		pm.commandDuration,
		pm.sessionsOpened,
		pm.sessionsFailed,
		pm.sessionsOpen,
		pm.affineConns,
		pm.reconnects,
		pm.breakers,
	)

	promMetrics = pm
}

// RecordCommand records one uniform operation
func RecordCommand(driver, op string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	Global().record(op, d, err == nil)
	if promMetrics == nil {
		return
	}
	promMetrics.commandsTotal.WithLabelValues(driver, op, status).Inc()
	promMetrics.commandDuration.WithLabelValues(driver, op).Observe(d.Seconds())
}

// RecordSessionOpened records a successful DSN resolution
func RecordSessionOpened(driver string) {
	if promMetrics == nil {
		return
	}
	promMetrics.sessionsOpened.WithLabelValues(driver).Inc()
	promMetrics.sessionsOpen.WithLabelValues(driver).Inc()
}

// RecordSessionClosed records a session close
func RecordSessionClosed(driver string) {
	if promMetrics == nil {
		return
	}
	promMetrics.sessionsOpen.WithLabelValues(driver).Dec()
}

// RecordSessionFailed records a failed DSN resolution
func RecordSessionFailed(kind string) {
	if promMetrics == nil {
		return
	}
	promMetrics.sessionsFailed.WithLabelValues(kind).Inc()
}

// SetAffineConnections sets the pooled worker-affine connection gauge
func SetAffineConnections(n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.affineConns.Set(float64(n))
}

// RecordReconnect records a broken connection being re-dialed
func RecordReconnect(driver string) {
	if promMetrics == nil {
		return
	}
	promMetrics.reconnects.WithLabelValues(driver).Inc()
}

// RecordBreakerTransition records a dial breaker entering state
func RecordBreakerTransition(driver, state string) {
	if promMetrics == nil {
		return
	}
	promMetrics.breakers.WithLabelValues(driver, state).Inc()
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
