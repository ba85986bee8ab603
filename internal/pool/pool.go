// Package pool implements the per-datasource Connection Pool Manager of
// spec.md §4.A. It keeps the teacher's cond-based idle-stack/active-set
// pool shape (internal/pool/pool.go in the teacher) but swaps what is
// pooled: instead of a raw net.Conn proxied byte-for-byte to a client, each
// PooledConn wraps a *sql.Conn obtained from a per-datasource *sql.DB,
// giving the runner a real driver connection to execute SQL templates or
// script-engine queries against.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/trinodb/trino-go-client/trino"

	"github.com/dbgateway/dbgateway/internal/store"
)

// pingIdleThreshold matches the original connect.py's _PING_IDLE_THRESHOLD:
// a connection idle longer than this is pinged before being handed out,
// rather than trusted blindly.
const pingIdleThreshold = 30 * time.Second

// Stats holds connection pool statistics for a datasource.
type Stats struct {
	DatasourceID string `json:"datasource_id"`
	ProductType  string `json:"product_type"`
	Active       int    `json:"active"`
	Idle         int    `json:"idle"`
	Total        int    `json:"total"`
	Waiting      int    `json:"waiting"`
	MaxConns     int    `json:"max_connections"`
	Exhausted    int64  `json:"pool_exhausted_total"`
}

// OnPoolExhausted is called when a pool reaches max connections and a
// goroutine must wait.
type OnPoolExhausted func(datasourceID string)

// DatasourcePool manages connections for a single datasource.
type DatasourcePool struct {
	mu   sync.Mutex
	cond *sync.Cond

	datasourceID       string
	productType        string
	db                 *sql.DB
	maxConns           int
	maxIdle            int
	maxAge             time.Duration
	statementTimeoutMS int
	acquireTimeout     time.Duration

	idle      []*PooledConn
	active    map[*PooledConn]struct{}
	total     int
	waiting   int
	exhausted int64

	closed          bool
	stopCh          chan struct{}
	onPoolExhausted OnPoolExhausted
}

// driverNameFor maps a store.ProductType to the registered database/sql
// driver name. pgx registers itself as "pgx" through the blank import of
// pgx/v5/stdlib; statement_timeout is set in the DSN and again per
// connection at dial time (applyStatementTimeout).
func driverNameFor(pt store.ProductType) (string, error) {
	switch pt {
	case store.ProductPostgres:
		return "pgx", nil
	case store.ProductMySQL:
		return "mysql", nil
	case store.ProductTrino:
		return "trino", nil
	default:
		return "", fmt.Errorf("unsupported product type: %q", pt)
	}
}

func dsnFor(ds *store.DataSource, password string) (string, error) {
	switch ds.ProductType {
	case store.ProductPostgres:
		sslmode := "disable"
		if ds.UseSSL {
			sslmode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?statement_timeout=%d&sslmode=%s",
			ds.Username, password, ds.Host, ds.Port, ds.Database, ds.StatementTimeoutMS, sslmode), nil
	case store.ProductMySQL:
		tls := "false"
		if ds.UseSSL {
			tls = "true"
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=%dms&tls=%s",
			ds.Username, password, ds.Host, ds.Port, ds.Database, ds.ConnectTimeoutMS, tls), nil
	case store.ProductTrino:
		scheme := "http"
		if ds.UseSSL {
			scheme = "https"
		}
		return fmt.Sprintf("%s://%s:%s@%s:%d?catalog=%s",
			scheme, ds.Username, password, ds.Host, ds.Port, ds.Database), nil
	default:
		return "", fmt.Errorf("unsupported product type: %q", ds.ProductType)
	}
}

// NewDatasourcePool opens the per-datasource *sql.DB and wraps it with our
// own idle/age/health bookkeeping.
func NewDatasourcePool(ds *store.DataSource, password string) (*DatasourcePool, error) {
	driverName, err := driverNameFor(ds.ProductType)
	if err != nil {
		return nil, err
	}
	dsn, err := dsnFor(ds, password)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s datasource %s: %w", ds.ProductType, ds.ID, err)
	}
	// We do our own idle/age eviction via PooledConn bookkeeping; keep
	// database/sql from also evicting underneath us by giving it generous
	// headroom rather than a second, conflicting policy.
	db.SetMaxOpenConns(ds.MaxIdlePerDatasource * 2)
	db.SetMaxIdleConns(ds.MaxIdlePerDatasource * 2)
	db.SetConnMaxLifetime(0)

	maxAge := time.Duration(ds.MaxAgeSeconds) * time.Second
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}

	dp := &DatasourcePool{
		datasourceID:       ds.ID,
		productType:        string(ds.ProductType),
		db:                 db,
		maxConns:           ds.MaxIdlePerDatasource,
		maxIdle:            ds.MaxIdlePerDatasource,
		maxAge:             maxAge,
		statementTimeoutMS: ds.StatementTimeoutMS,
		acquireTimeout:     10 * time.Second,
		idle:               make([]*PooledConn, 0),
		active:             make(map[*PooledConn]struct{}),
		stopCh:             make(chan struct{}),
	}
	dp.cond = sync.NewCond(&dp.mu)

	go dp.reapLoop()
	return dp, nil
}

// Acquire gets a connection from the pool, dialing a new one if needed.
func (dp *DatasourcePool) Acquire(ctx context.Context) (*PooledConn, error) {
	deadlineAt := time.Now().Add(dp.acquireTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadlineAt) {
		deadlineAt = ctxDeadline
	}

	dp.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			dp.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if dp.closed {
			dp.mu.Unlock()
			return nil, fmt.Errorf("pool closed for datasource %s", dp.datasourceID)
		}

		for len(dp.idle) > 0 {
			pc := dp.idle[len(dp.idle)-1]
			dp.idle = dp.idle[:len(dp.idle)-1]

			if pc.IsExpired(dp.maxAge) {
				pc.Close()
				dp.total--
				continue
			}

			if pc.IdleFor() > pingIdleThreshold {
				if err := pc.Ping(ctx); err != nil {
					pc.Close()
					dp.total--
					continue
				}
			}

			pc.MarkActive()
			dp.active[pc] = struct{}{}
			dp.mu.Unlock()
			return pc, nil
		}

		if dp.total < dp.maxConns {
			dp.total++
			dp.mu.Unlock()

			pc, err := dp.dial(ctx)
			if err != nil {
				dp.mu.Lock()
				dp.total--
				dp.mu.Unlock()
				return nil, fmt.Errorf("connecting to datasource %s: %w", dp.datasourceID, err)
			}

			pc.MarkActive()
			dp.mu.Lock()
			dp.active[pc] = struct{}{}
			dp.mu.Unlock()
			return pc, nil
		}

		dp.waiting++
		dp.exhausted++
		cb := dp.onPoolExhausted
		dp.mu.Unlock()

		if cb != nil {
			cb(dp.datasourceID)
		}

		dp.mu.Lock()
		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			dp.waiting--
			dp.mu.Unlock()
			return nil, fmt.Errorf("acquire timeout (%s) for datasource %s: pool exhausted", dp.acquireTimeout, dp.datasourceID)
		}

		timer := time.AfterFunc(remaining, func() { dp.cond.Broadcast() })
		dp.cond.Wait()
		timer.Stop()

		dp.waiting--

		if dp.closed {
			dp.mu.Unlock()
			return nil, fmt.Errorf("pool closing for datasource %s", dp.datasourceID)
		}
		if time.Now().After(deadlineAt) {
			dp.mu.Unlock()
			return nil, fmt.Errorf("acquire timeout (%s) for datasource %s: pool exhausted", dp.acquireTimeout, dp.datasourceID)
		}
	}
}

// Return releases a connection back to the pool, or closes it when
// closeAfterUse is set (the original's close_after_each_execute behavior
// for scripts that bypass the idle pool).
func (dp *DatasourcePool) Return(pc *PooledConn, closeAfterUse bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	delete(dp.active, pc)

	if dp.closed || closeAfterUse || pc.IsExpired(dp.maxAge) {
		pc.Close()
		dp.total--
		dp.cond.Signal()
		return
	}

	if len(dp.idle) >= dp.maxIdle {
		pc.Close()
		dp.total--
		dp.cond.Signal()
		return
	}

	pc.MarkIdle()
	dp.idle = append(dp.idle, pc)
	dp.cond.Signal()
}

func (dp *DatasourcePool) Stats() Stats {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return Stats{
		DatasourceID: dp.datasourceID,
		ProductType:  dp.productType,
		Active:       len(dp.active),
		Idle:         len(dp.idle),
		Total:        dp.total,
		Waiting:      dp.waiting,
		MaxConns:     dp.maxConns,
		Exhausted:    dp.exhausted,
	}
}

func (dp *DatasourcePool) Drain() {
	dp.mu.Lock()
	for _, pc := range dp.idle {
		pc.Close()
		dp.total--
	}
	dp.idle = dp.idle[:0]
	activeCount := len(dp.active)
	dp.mu.Unlock()

	if activeCount == 0 {
		return
	}

	slog.Info("draining active connections", "count", activeCount, "datasource", dp.datasourceID)
	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			dp.mu.Lock()
			if len(dp.active) == 0 {
				dp.mu.Unlock()
				return
			}
			dp.mu.Unlock()
		case <-timeout:
			dp.mu.Lock()
			for pc := range dp.active {
				pc.Close()
				dp.total--
			}
			dp.active = make(map[*PooledConn]struct{})
			dp.mu.Unlock()
			slog.Warn("force-closed active connections after drain timeout", "datasource", dp.datasourceID)
			return
		}
	}
}

func (dp *DatasourcePool) Close() {
	dp.mu.Lock()
	if dp.closed {
		dp.mu.Unlock()
		return
	}
	dp.closed = true
	close(dp.stopCh)
	dp.cond.Broadcast()
	dp.mu.Unlock()

	dp.Drain()
	dp.db.Close()
}

func (dp *DatasourcePool) dial(ctx context.Context) (*PooledConn, error) {
	conn, err := dp.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := applyStatementTimeout(ctx, conn, dp.productType, dp.statementTimeoutMS); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying statement_timeout: %w", err)
	}
	return NewPooledConn(conn, dp.datasourceID, dp.productType), nil
}

// applyStatementTimeout mirrors connect.py's per-product_type statement
// timeout session setting: Postgres uses SET statement_timeout, MySQL uses
// MAX_EXECUTION_TIME in the query itself (set here as a session default via
// max_execution_time, MySQL 5.7.8+), Trino has no session-level statement
// timeout knob exposed over this driver so it is a no-op.
func applyStatementTimeout(ctx context.Context, conn *sql.Conn, productType string, ms int) error {
	if ms <= 0 {
		return nil
	}
	switch productType {
	case string(store.ProductPostgres):
		_, err := conn.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = %d", ms))
		return err
	case string(store.ProductMySQL):
		_, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION MAX_EXECUTION_TIME=%d", ms))
		return err
	default:
		return nil
	}
}

func (dp *DatasourcePool) reapLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			dp.reapIdle()
		case <-dp.stopCh:
			return
		}
	}
}

func (dp *DatasourcePool) reapIdle() {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	kept := make([]*PooledConn, 0, len(dp.idle))
	for _, pc := range dp.idle {
		if pc.IsExpired(dp.maxAge) {
			pc.Close()
			dp.total--
			continue
		}
		kept = append(kept, pc)
	}
	dp.idle = kept
}

// StatsCallback is called periodically with pool stats for each datasource.
type StatsCallback func(stats Stats)

// Manager manages connection pools for all datasources.
type Manager struct {
	mu            sync.RWMutex
	pools         map[string]*DatasourcePool
	onExhausted   OnPoolExhausted
	statsCallback StatsCallback
	statsStopCh   chan struct{}
	closeOnce     sync.Once
}

func NewManager() *Manager {
	return &Manager{
		pools:       make(map[string]*DatasourcePool),
		statsStopCh: make(chan struct{}),
	}
}

func (m *Manager) SetOnPoolExhausted(cb OnPoolExhausted) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExhausted = cb
}

func (m *Manager) StartStatsLoop(interval time.Duration, cb StatsCallback) {
	m.statsCallback = cb
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, s := range m.AllStats() {
					cb(s)
				}
			case <-m.statsStopCh:
				return
			}
		}
	}()
}

// GetOrCreate returns the pool for a datasource, opening it lazily. The
// caller supplies the already-decrypted password (internal/cryptoutil).
func (m *Manager) GetOrCreate(ds *store.DataSource, password string) (*DatasourcePool, error) {
	m.mu.RLock()
	if p, ok := m.pools[ds.ID]; ok {
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pools[ds.ID]; ok {
		return p, nil
	}

	p, err := NewDatasourcePool(ds, password)
	if err != nil {
		return nil, err
	}
	p.onPoolExhausted = m.onExhausted
	m.pools[ds.ID] = p
	slog.Info("opened datasource pool", "datasource", ds.ID, "product_type", ds.ProductType, "host", ds.Host, "port", ds.Port)
	return p, nil
}

func (m *Manager) Get(datasourceID string) (*DatasourcePool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[datasourceID]
	return p, ok
}

func (m *Manager) Remove(datasourceID string) bool {
	m.mu.Lock()
	p, ok := m.pools[datasourceID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pools, datasourceID)
	m.mu.Unlock()

	p.Close()
	slog.Info("removed datasource pool", "datasource", datasourceID)
	return true
}

func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		stats = append(stats, p.Stats())
	}
	return stats
}

func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.statsStopCh) })

	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*DatasourcePool)
	m.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
