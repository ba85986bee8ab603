package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// newTestCollector creates a Collector registered with a fresh registry
// so tests don't conflict with each other or with the default registry.
func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	c := New()
	return c, c.Registry
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestUpdatePoolStatsAuthority(t *testing.T) {
	c, _ := newTestCollector(t)

	// UpdatePoolStats is the sole authority for connection gauges.
	c.UpdatePoolStats("ds1", "postgres", 3, 5, 8, 1)

	val := getGaugeValue(c.connectionsActive.WithLabelValues("ds1", "postgres"))
	if val != 3 {
		t.Errorf("expected active=3, got %v", val)
	}

	// A second call replaces (not increments) the value
	c.UpdatePoolStats("ds1", "postgres", 2, 4, 6, 0)
	val = getGaugeValue(c.connectionsActive.WithLabelValues("ds1", "postgres"))
	if val != 2 {
		t.Errorf("expected active=2 after update, got %v", val)
	}
}

func TestUpdatePoolStats(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdatePoolStats("ds1", "postgres", 5, 10, 15, 2)

	if v := getGaugeValue(c.connectionsActive.WithLabelValues("ds1", "postgres")); v != 5 {
		t.Errorf("expected active=5, got %v", v)
	}
	if v := getGaugeValue(c.connectionsIdle.WithLabelValues("ds1", "postgres")); v != 10 {
		t.Errorf("expected idle=10, got %v", v)
	}
	if v := getGaugeValue(c.connectionsTotal.WithLabelValues("ds1", "postgres")); v != 15 {
		t.Errorf("expected total=15, got %v", v)
	}
	if v := getGaugeValue(c.connectionsWaiting.WithLabelValues("ds1", "postgres")); v != 2 {
		t.Errorf("expected waiting=2, got %v", v)
	}
}

func TestSetDatasourceHealth(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetDatasourceHealth("ds1", true)
	val := getGaugeValue(c.datasourceHealth.WithLabelValues("ds1"))
	if val != 1 {
		t.Errorf("expected health=1 (healthy), got %v", val)
	}

	c.SetDatasourceHealth("ds1", false)
	val = getGaugeValue(c.datasourceHealth.WithLabelValues("ds1"))
	if val != 0 {
		t.Errorf("expected health=0 (unhealthy), got %v", val)
	}
}

func TestPoolExhausted(t *testing.T) {
	c, _ := newTestCollector(t)

	c.PoolExhausted("ds1")
	c.PoolExhausted("ds1")
	c.PoolExhausted("ds1")

	val := getCounterValue(c.poolExhausted.WithLabelValues("ds1"))
	if val != 3 {
		t.Errorf("expected exhausted=3, got %v", val)
	}
}

func TestHealthCheckCompleted(t *testing.T) {
	c, reg := newTestCollector(t)

	c.HealthCheckCompleted("ds1", 100*time.Millisecond, true)
	c.HealthCheckCompleted("ds1", 200*time.Millisecond, true)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "dbgateway_health_check_duration_seconds" {
			found = true
			m := f.GetMetric()
			if len(m) == 0 {
				t.Fatal("no metric samples")
			}
			if m[0].GetHistogram().GetSampleCount() != 2 {
				t.Errorf("expected 2 samples, got %d", m[0].GetHistogram().GetSampleCount())
			}
		}
	}
	if !found {
		t.Error("health check duration metric not found")
	}
}

func TestHealthCheckError(t *testing.T) {
	c, _ := newTestCollector(t)

	c.HealthCheckError("ds1", "timeout")
	c.HealthCheckError("ds1", "timeout")
	c.HealthCheckError("ds1", "refused")

	val := getCounterValue(c.healthCheckErrors.WithLabelValues("ds1", "timeout"))
	if val != 2 {
		t.Errorf("expected timeout errors=2, got %v", val)
	}
	val = getCounterValue(c.healthCheckErrors.WithLabelValues("ds1", "refused"))
	if val != 1 {
		t.Errorf("expected refused errors=1, got %v", val)
	}
}

func TestRequestCompleted(t *testing.T) {
	c, reg := newTestCollector(t)

	c.RequestCompleted("ep1", "200", 10*time.Millisecond)
	c.RequestCompleted("ep1", "200", 20*time.Millisecond)

	val := getCounterValue(c.requestsTotal.WithLabelValues("ep1", "200"))
	if val != 2 {
		t.Errorf("expected requestsTotal=2, got %v", val)
	}

	families, _ := reg.Gather()
	for _, f := range families {
		if f.GetName() == "dbgateway_request_duration_seconds" {
			m := f.GetMetric()
			if len(m) > 0 && m[0].GetHistogram().GetSampleCount() != 2 {
				t.Errorf("expected 2 duration samples, got %d", m[0].GetHistogram().GetSampleCount())
			}
		}
	}
}

func TestAdmissionRejected(t *testing.T) {
	c, _ := newTestCollector(t)

	c.AdmissionRejected("firewall")
	c.AdmissionRejected("firewall")
	c.AdmissionRejected("rate_limit")

	val := getCounterValue(c.admissionRejects.WithLabelValues("firewall"))
	if val != 2 {
		t.Errorf("expected firewall rejects=2, got %v", val)
	}
	val = getCounterValue(c.admissionRejects.WithLabelValues("rate_limit"))
	if val != 1 {
		t.Errorf("expected rate_limit rejects=1, got %v", val)
	}
}

func TestRemoveDatasource(t *testing.T) {
	c, reg := newTestCollector(t)

	c.UpdatePoolStats("ds1", "postgres", 1, 2, 3, 0)
	c.SetDatasourceHealth("ds1", true)
	c.PoolExhausted("ds1")

	c.RemoveDatasource("ds1")

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	for _, f := range families {
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "datasource" && l.GetValue() == "ds1" {
					t.Errorf("metric %s still has ds1 label after removal", f.GetName())
				}
			}
		}
	}
}

func TestMultipleDatasources(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdatePoolStats("ds1", "postgres", 1, 0, 1, 0)
	c.UpdatePoolStats("ds2", "mysql", 2, 1, 3, 0)

	v1 := getGaugeValue(c.connectionsActive.WithLabelValues("ds1", "postgres"))
	v2 := getGaugeValue(c.connectionsActive.WithLabelValues("ds2", "mysql"))

	if v1 != 1 {
		t.Errorf("expected ds1 active=1, got %v", v1)
	}
	if v2 != 2 {
		t.Errorf("expected ds2 active=2, got %v", v2)
	}
}

func TestNewDoesNotPanicOnMultipleCalls(t *testing.T) {
	// Calling New() multiple times should not panic because each creates
	// its own registry instead of using the global default.
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("New() panicked on repeated calls: %v", r)
		}
	}()

	c1 := New()
	c2 := New()

	// Both should work independently
	c1.UpdatePoolStats("ds1", "postgres", 1, 0, 1, 0)
	c2.UpdatePoolStats("ds1", "postgres", 2, 0, 2, 0)

	v1 := getGaugeValue(c1.connectionsActive.WithLabelValues("ds1", "postgres"))
	v2 := getGaugeValue(c2.connectionsActive.WithLabelValues("ds1", "postgres"))

	if v1 != 1 {
		t.Errorf("c1 expected active=1, got %v", v1)
	}
	if v2 != 2 {
		t.Errorf("c2 expected active=2, got %v", v2)
	}
}
