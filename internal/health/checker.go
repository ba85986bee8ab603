// Package health adapts the teacher's bounded-worker-pool health checker
// from periodic tenant-proxy liveness pings to periodic datasource pool
// probes, feeding the pool's idle/age eviction and the metrics collector's
// datasource health gauge.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dbgateway/dbgateway/internal/metrics"
	"github.com/dbgateway/dbgateway/internal/pool"
)

const maxConcurrentChecks = 8

// DatasourceLister is satisfied by pool.Manager — it lets the checker
// enumerate datasources without importing the store/resolver layers.
type DatasourceLister interface {
	AllStats() []pool.Stats
	Get(datasourceID string) (*pool.DatasourcePool, bool)
}

// Checker periodically probes every known datasource pool.
type Checker struct {
	lister   DatasourceLister
	metrics  *metrics.Collector
	interval time.Duration

	mu       sync.Mutex
	failures map[string]int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewChecker(lister DatasourceLister, m *metrics.Collector) *Checker {
	return &Checker{
		lister:   lister,
		metrics:  m,
		interval: 15 * time.Second,
		failures: make(map[string]int),
		stopCh:   make(chan struct{}),
	}
}

func (c *Checker) Start() {
	c.wg.Add(1)
	go c.run()
}

func (c *Checker) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Checker) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

// checkAll probes every datasource with a bounded worker pool, matching the
// teacher's checker.go concurrency shape.
func (c *Checker) checkAll() {
	stats := c.lister.AllStats()
	sem := make(chan struct{}, maxConcurrentChecks)
	var wg sync.WaitGroup

	for _, s := range stats {
		p, ok := c.lister.Get(s.DatasourceID)
		if !ok {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(datasourceID string, p *pool.DatasourcePool) {
			defer wg.Done()
			defer func() { <-sem }()
			c.checkOne(datasourceID, p)
		}(s.DatasourceID, p)
	}
	wg.Wait()
}

// Unhealthy reports whether datasourceID has 3 or more consecutive failed
// probes, matching the warn-log threshold in checkOne.
func (c *Checker) Unhealthy(datasourceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[datasourceID] >= 3
}

// OverallHealthy reports whether every datasource probed so far is below
// the consecutive-failure threshold.
func (c *Checker) OverallHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.failures {
		if n >= 3 {
			return false
		}
	}
	return true
}

func (c *Checker) checkOne(datasourceID string, p *pool.DatasourcePool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	pc, err := p.Acquire(ctx)
	healthy := err == nil
	if healthy {
		err = pc.Ping(ctx)
		healthy = err == nil
		p.Return(pc, !healthy)
	}
	d := time.Since(start)

	c.metrics.HealthCheckCompleted(datasourceID, d, healthy)
	c.metrics.SetDatasourceHealth(datasourceID, healthy)

	c.mu.Lock()
	defer c.mu.Unlock()
	if healthy {
		c.failures[datasourceID] = 0
		return
	}
	c.failures[datasourceID]++
	c.metrics.HealthCheckError(datasourceID, "ping_failed")
	if c.failures[datasourceID] >= 3 {
		slog.Warn("datasource failing consecutive health checks", "datasource", datasourceID, "failures", c.failures[datasourceID], "err", err)
	}
}
