package pool

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// ConnState represents the state of a pooled connection.
type ConnState int

const (
	ConnStateIdle ConnState = iota
	ConnStateActive
	ConnStateClosed
)

// PooledConn wraps a database/sql connection with pooling metadata. Unlike
// the teacher's PooledConn (a raw net.Conn), this holds a *sql.Conn checked
// out from a per-datasource *sql.DB via DB.Conn — our own idle/age tracking
// sits on top instead of relying on database/sql's built-in idle pool, so
// the age/health eviction policy in spec.md §4.A is enforced by us, not by
// the driver.
type PooledConn struct {
	mu           sync.Mutex
	conn         *sql.Conn
	state        ConnState
	createdAt    time.Time
	lastUsed     time.Time
	datasourceID string
	productType  string
}

func NewPooledConn(conn *sql.Conn, datasourceID, productType string) *PooledConn {
	now := time.Now()
	return &PooledConn{
		conn:         conn,
		state:        ConnStateIdle,
		createdAt:    now,
		lastUsed:     now,
		datasourceID: datasourceID,
		productType:  productType,
	}
}

func (pc *PooledConn) Conn() *sql.Conn { return pc.conn }

func (pc *PooledConn) DatasourceID() string { return pc.datasourceID }

func (pc *PooledConn) ProductType() string { return pc.productType }

func (pc *PooledConn) MarkActive() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = ConnStateActive
	pc.lastUsed = time.Now()
}

func (pc *PooledConn) MarkIdle() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = ConnStateIdle
	pc.lastUsed = time.Now()
}

func (pc *PooledConn) State() ConnState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

// IsExpired reports whether the connection has exceeded its max age.
func (pc *PooledConn) IsExpired(maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return time.Since(pc.createdAt) > maxAge
}

// IsIdle reports whether the connection has been idle longer than d.
func (pc *PooledConn) IsIdle(d time.Duration) bool {
	if d <= 0 {
		return false
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state == ConnStateIdle && time.Since(pc.lastUsed) > d
}

// IdleFor reports how long the connection has sat idle — used against the
// ~30s ping threshold from the original connect.py (_PING_IDLE_THRESHOLD).
func (pc *PooledConn) IdleFor() time.Duration {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return time.Since(pc.lastUsed)
}

// Ping issues a lightweight liveness check through the driver.
func (pc *PooledConn) Ping(ctx context.Context) error {
	return pc.conn.PingContext(ctx)
}

func (pc *PooledConn) Close() error {
	pc.mu.Lock()
	pc.state = ConnStateClosed
	pc.mu.Unlock()
	return pc.conn.Close()
}
