// Package metrics adapts the teacher's custom-registry Prometheus Collector
// from per-tenant proxy metrics to per-datasource/per-endpoint gateway
// metrics. The transaction-mode-pooling metrics (session pins, backend
// resets, dirty disconnects) have no analogue once connections are plain
// pooled database/sql conns rather than multiplexed proxy sessions, so they
// are dropped rather than kept unwired — see DESIGN.md.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the gateway.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive  *prometheus.GaugeVec
	connectionsIdle    *prometheus.GaugeVec
	connectionsTotal   *prometheus.GaugeVec
	connectionsWaiting *prometheus.GaugeVec
	poolExhausted      *prometheus.CounterVec

	datasourceHealth *prometheus.GaugeVec

	healthCheckDuration *prometheus.HistogramVec
	healthCheckErrors   *prometheus.CounterVec

	requestDuration  *prometheus.HistogramVec
	requestsTotal    *prometheus.CounterVec
	admissionRejects *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics using a custom registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "dbgateway_connections_active", Help: "Number of active connections per datasource"},
			[]string{"datasource", "product_type"},
		),
		connectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "dbgateway_connections_idle", Help: "Number of idle connections per datasource"},
			[]string{"datasource", "product_type"},
		),
		connectionsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "dbgateway_connections_total", Help: "Total number of connections per datasource"},
			[]string{"datasource", "product_type"},
		),
		connectionsWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "dbgateway_connections_waiting", Help: "Number of goroutines waiting for a connection per datasource"},
			[]string{"datasource", "product_type"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "dbgateway_pool_exhausted_total", Help: "Total number of times a datasource pool was exhausted"},
			[]string{"datasource"},
		),
		datasourceHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "dbgateway_datasource_health", Help: "Health status of a datasource (1=healthy, 0=unhealthy)"},
			[]string{"datasource"},
		),
		healthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "dbgateway_health_check_duration_seconds", Help: "Duration of datasource health probes", Buckets: prometheus.ExponentialBuckets(0.001, 2, 12)},
			[]string{"datasource", "status"},
		),
		healthCheckErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "dbgateway_health_check_errors_total", Help: "Health check errors by type"},
			[]string{"datasource", "error_type"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "dbgateway_request_duration_seconds", Help: "End-to-end gateway request duration", Buckets: prometheus.ExponentialBuckets(0.001, 2, 15)},
			[]string{"endpoint", "status"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "dbgateway_requests_total", Help: "Total gateway requests"},
			[]string{"endpoint", "status"},
		),
		admissionRejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "dbgateway_admission_rejects_total", Help: "Requests rejected by admission control, by stage"},
			[]string{"stage"},
		),
	}

	reg.MustRegister(
		c.connectionsActive, c.connectionsIdle, c.connectionsTotal, c.connectionsWaiting,
		c.poolExhausted, c.datasourceHealth, c.healthCheckDuration, c.healthCheckErrors,
		c.requestDuration, c.requestsTotal, c.admissionRejects,
	)

	return c
}

func (c *Collector) SetDatasourceHealth(datasource string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.datasourceHealth.WithLabelValues(datasource).Set(val)
}

func (c *Collector) PoolExhausted(datasource string) {
	c.poolExhausted.WithLabelValues(datasource).Inc()
}

func (c *Collector) UpdatePoolStats(datasource, productType string, active, idle, total, waiting int) {
	c.connectionsActive.WithLabelValues(datasource, productType).Set(float64(active))
	c.connectionsIdle.WithLabelValues(datasource, productType).Set(float64(idle))
	c.connectionsTotal.WithLabelValues(datasource, productType).Set(float64(total))
	c.connectionsWaiting.WithLabelValues(datasource, productType).Set(float64(waiting))
}

func (c *Collector) HealthCheckCompleted(datasource string, d time.Duration, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.healthCheckDuration.WithLabelValues(datasource, status).Observe(d.Seconds())
}

func (c *Collector) HealthCheckError(datasource, errorType string) {
	c.healthCheckErrors.WithLabelValues(datasource, errorType).Inc()
}

func (c *Collector) RequestCompleted(endpoint, status string, d time.Duration) {
	c.requestsTotal.WithLabelValues(endpoint, status).Inc()
	c.requestDuration.WithLabelValues(endpoint, status).Observe(d.Seconds())
}

func (c *Collector) AdmissionRejected(stage string) {
	c.admissionRejects.WithLabelValues(stage).Inc()
}

// RemoveDatasource removes all metrics for a datasource, mirroring the
// teacher's RemoveTenant used when a tenant/datasource pool is torn down.
func (c *Collector) RemoveDatasource(datasource string) {
	c.connectionsActive.DeletePartialMatch(prometheus.Labels{"datasource": datasource})
	c.connectionsIdle.DeletePartialMatch(prometheus.Labels{"datasource": datasource})
	c.connectionsTotal.DeletePartialMatch(prometheus.Labels{"datasource": datasource})
	c.connectionsWaiting.DeletePartialMatch(prometheus.Labels{"datasource": datasource})
	c.poolExhausted.DeleteLabelValues(datasource)
	c.datasourceHealth.DeleteLabelValues(datasource)
	c.healthCheckDuration.DeletePartialMatch(prometheus.Labels{"datasource": datasource})
	c.healthCheckErrors.DeletePartialMatch(prometheus.Labels{"datasource": datasource})
}
