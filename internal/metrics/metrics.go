// Package metrics instruments the daemon and its pools with Prometheus
// gauges/counters, translating the teacher's core/pool_stats.go
// (PoolStats/SmartPoolStats/ConnectionPoolStats) snapshot-API shape into
// live metrics. Disabled by default: the host builds a Metrics with New,
// calls Register with a prometheus.Registerer of its choosing, and passes
// it to daemon.WithMetrics. The daemon never registers anything itself, so
// embedding this library never pollutes the process-wide default
// registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every instrument the daemon updates. Construct it with New:
// the zero value has no instruments and must not be passed to Register.
// Every method is a no-op until Register binds it to a
// prometheus.Registerer.
type Metrics struct {
	enabled bool

	connectionsByState *prometheus.GaugeVec
	acceptsTotal       prometheus.Counter
	acceptErrorsTotal  prometheus.Counter
	responsesByClass   *prometheus.CounterVec
	poolHitRate        prometheus.Gauge
	timeoutEvictions   prometheus.Counter
}

// New constructs an unregistered, inert Metrics. Call Register to attach
// it to a prometheus.Registerer and begin recording.
func New() *Metrics {
	return &Metrics{
		connectionsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "httpd",
			Subsystem: "daemon",
			Name:      "connections",
			Help:      "Current connections by IO-state bucket (normal, suspended, cleanup).",
		}, []string{"state"}),
		acceptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "httpd",
			Subsystem: "daemon",
			Name:      "accepts_total",
			Help:      "Total accepted connections.",
		}),
		acceptErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "httpd",
			Subsystem: "daemon",
			Name:      "accept_errors_total",
			Help:      "Total accept() failures (e.g. EMFILE).",
		}),
		responsesByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "httpd",
			Subsystem: "daemon",
			Name:      "responses_total",
			Help:      "Responses sent, labeled by status class (1xx..5xx).",
		}, []string{"class"}),
		poolHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "httpd",
			Subsystem: "pool",
			Name:      "seed_hit_rate",
			Help:      "Fraction of pool acquisitions served from the recycled seed pool rather than a fresh allocation.",
		}),
		timeoutEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "httpd",
			Subsystem: "daemon",
			Name:      "timeout_evictions_total",
			Help:      "Connections closed for idle-timeout.",
		}),
	}
}

// Register attaches every instrument to reg and marks m active. Calling
// Register more than once, or with a nil reg, is a no-op.
func (m *Metrics) Register(reg prometheus.Registerer) {
	if m == nil || reg == nil || m.enabled {
		return
	}
	reg.MustRegister(
		m.connectionsByState,
		m.acceptsTotal,
		m.acceptErrorsTotal,
		m.responsesByClass,
		m.poolHitRate,
		m.timeoutEvictions,
	)
	m.enabled = true
}

func (m *Metrics) SetConnections(state string, n int) {
	if m == nil || !m.enabled {
		return
	}
	m.connectionsByState.WithLabelValues(state).Set(float64(n))
}

func (m *Metrics) IncAccepts() {
	if m == nil || !m.enabled {
		return
	}
	m.acceptsTotal.Inc()
}

func (m *Metrics) IncAcceptErrors() {
	if m == nil || !m.enabled {
		return
	}
	m.acceptErrorsTotal.Inc()
}

func (m *Metrics) IncTimeoutEvictions() {
	if m == nil || !m.enabled {
		return
	}
	m.timeoutEvictions.Inc()
}

// ObserveResponse records one response of the given HTTP status code,
// bucketed by status class ("2xx", "4xx", ...).
func (m *Metrics) ObserveResponse(status int) {
	if m == nil || !m.enabled {
		return
	}
	class := "xxx"
	if status >= 100 && status < 600 {
		class = string(rune('0'+status/100)) + "xx"
	}
	m.responsesByClass.WithLabelValues(class).Inc()
}

// SetPoolHitRate records the fraction [0,1] of pool acquisitions served
// without a fresh allocation, mirroring the teacher's SmartPoolStats.HitRate.
func (m *Metrics) SetPoolHitRate(rate float64) {
	if m == nil || !m.enabled {
		return
	}
	m.poolHitRate.Set(rate)
}
