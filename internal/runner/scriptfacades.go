package runner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dbgateway/dbgateway/internal/script"
)

// dbTxFacade implements both script.DBFacade and script.TXFacade over a
// single pooled *sql.Conn: while a transaction is open, every db.* call
// runs against the pinned *sql.Tx instead of the bare connection, matching
// spec.md §4.C's "while a transaction is open, all db.* calls share a
// single pinned connection".
type dbTxFacade struct {
	ctx  context.Context
	conn *sql.Conn
	tx   *sql.Tx
}

func newDBTxFacade(ctx context.Context, conn *sql.Conn) *dbTxFacade {
	return &dbTxFacade{ctx: ctx, conn: conn}
}

func (f *dbTxFacade) Query(sqlText string, params []any) ([]map[string]any, error) {
	var rows *sql.Rows
	var err error
	if f.tx != nil {
		rows, err = f.tx.QueryContext(f.ctx, sqlText, params...)
	} else {
		rows, err = f.conn.QueryContext(f.ctx, sqlText, params...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rowsToMaps(rows)
}

func (f *dbTxFacade) QueryOne(sqlText string, params []any) (map[string]any, error) {
	rows, err := f.Query(sqlText, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (f *dbTxFacade) Execute(sqlText string, params []any) (int64, error) {
	var res sql.Result
	var err error
	if f.tx != nil {
		res, err = f.tx.ExecContext(f.ctx, sqlText, params...)
	} else {
		res, err = f.conn.ExecContext(f.ctx, sqlText, params...)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (f *dbTxFacade) Begin() error {
	if f.tx != nil {
		return errors.New("transaction already open")
	}
	tx, err := f.conn.BeginTx(f.ctx, nil)
	if err != nil {
		return err
	}
	f.tx = tx
	return nil
}

func (f *dbTxFacade) Commit() error {
	if f.tx == nil {
		return errors.New("no transaction open")
	}
	err := f.tx.Commit()
	f.tx = nil
	return err
}

func (f *dbTxFacade) Rollback() error {
	if f.tx == nil {
		return nil
	}
	err := f.tx.Rollback()
	f.tx = nil
	return err
}

// releaseTx rolls back any still-open transaction on sandbox exit, per
// spec.md §4.C: "rollback first if still open, then return or close".
func (f *dbTxFacade) releaseTx() {
	if f.tx != nil {
		_ = f.tx.Rollback()
		f.tx = nil
	}
}

// httpFacade is the http.* surface: a client with a fixed timeout and an
// optional host allow-list, per spec.md §4.C.
type httpFacade struct {
	client    *http.Client
	allowHost map[string]bool // nil = no restriction
}

func newHTTPFacade(timeout time.Duration, allowHost map[string]bool) *httpFacade {
	return &httpFacade{client: &http.Client{Timeout: timeout}, allowHost: allowHost}
}

func (h *httpFacade) Get(u string, opts map[string]any) (map[string]any, error) {
	return h.do(http.MethodGet, u, opts)
}
func (h *httpFacade) Post(u string, opts map[string]any) (map[string]any, error) {
	return h.do(http.MethodPost, u, opts)
}
func (h *httpFacade) Put(u string, opts map[string]any) (map[string]any, error) {
	return h.do(http.MethodPut, u, opts)
}
func (h *httpFacade) Delete(u string, opts map[string]any) (map[string]any, error) {
	return h.do(http.MethodDelete, u, opts)
}

func (h *httpFacade) do(method, rawURL string, opts map[string]any) (map[string]any, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if h.allowHost != nil && !h.allowHost[parsed.Hostname()] {
		return nil, fmt.Errorf("host %q is not in the script http allow-list", parsed.Hostname())
	}

	var body io.Reader
	if b, ok := opts["body"]; ok {
		if s, ok := b.(string); ok {
			body = strings.NewReader(s)
		}
	}
	req, err := http.NewRequest(method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if hdrs, ok := opts["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status": resp.StatusCode,
		"body":   string(buf),
	}, nil
}

// cacheFacade is the cache.* surface against the shared KV store; every
// operation is a no-op when the store is unavailable — the facade itself
// never returns an error, matching spec.md §4.C.
type cacheFacade struct {
	ctx       context.Context
	redis     *redis.Client
	namespace string
}

func newCacheFacade(ctx context.Context, rdb *redis.Client, namespace string) *cacheFacade {
	return &cacheFacade{ctx: ctx, redis: rdb, namespace: namespace}
}

func (c *cacheFacade) key(k string) string { return "dbgateway:script:" + c.namespace + ":" + k }

func (c *cacheFacade) Get(key string) (any, bool) {
	if c.redis == nil {
		return nil, false
	}
	v, err := c.redis.Get(c.ctx, c.key(key)).Result()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (c *cacheFacade) Set(key string, value any, ttlSeconds int) {
	if c.redis == nil {
		return
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	c.redis.Set(c.ctx, c.key(key), fmt.Sprintf("%v", value), ttl)
}

func (c *cacheFacade) Delete(key string) {
	if c.redis == nil {
		return
	}
	c.redis.Del(c.ctx, c.key(key))
}

func (c *cacheFacade) Exists(key string) bool {
	if c.redis == nil {
		return false
	}
	n, err := c.redis.Exists(c.ctx, c.key(key)).Result()
	return err == nil && n > 0
}

func (c *cacheFacade) Incr(key string) int64 {
	if c.redis == nil {
		return 0
	}
	n, err := c.redis.Incr(c.ctx, c.key(key)).Result()
	if err != nil {
		return 0
	}
	return n
}

func (c *cacheFacade) Decr(key string) int64 {
	if c.redis == nil {
		return 0
	}
	n, err := c.redis.Decr(c.ctx, c.key(key)).Result()
	if err != nil {
		return 0
	}
	return n
}

// envFacade is the env.* surface: whitelisted configuration keys only.
type envFacade struct {
	whitelist map[string]string
}

func newEnvFacade(whitelist map[string]string) *envFacade {
	return &envFacade{whitelist: whitelist}
}

func (e *envFacade) Get(key string) (string, bool) {
	v, ok := e.whitelist[key]
	return v, ok
}

func (e *envFacade) GetInt(key string) (int64, bool) {
	v, ok := e.whitelist[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

func (e *envFacade) GetBool(key string) (bool, bool) {
	v, ok := e.whitelist[key]
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	return b, err == nil
}

// logFacade is the log.* passthrough to structured logging.
type logFacade struct {
	logger     *slog.Logger
	endpointID string
}

func newLogFacade(logger *slog.Logger, endpointID string) *logFacade {
	return &logFacade{logger: logger, endpointID: endpointID}
}

func (l *logFacade) Info(msg string)  { l.logger.Info(msg, "endpoint_id", l.endpointID, "source", "script") }
func (l *logFacade) Warn(msg string)  { l.logger.Warn(msg, "endpoint_id", l.endpointID, "source", "script") }
func (l *logFacade) Error(msg string) { l.logger.Error(msg, "endpoint_id", l.endpointID, "source", "script") }
func (l *logFacade) Debug(msg string) { l.logger.Debug(msg, "endpoint_id", l.endpointID, "source", "script") }

var _ script.DBFacade = (*dbTxFacade)(nil)
var _ script.TXFacade = (*dbTxFacade)(nil)
var _ script.HTTPFacade = (*httpFacade)(nil)
var _ script.CacheFacade = (*cacheFacade)(nil)
var _ script.EnvFacade = (*envFacade)(nil)
var _ script.LogFacade = (*logFacade)(nil)
