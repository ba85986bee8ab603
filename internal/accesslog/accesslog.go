// Package accesslog implements the Access Log Writer (spec.md §4.J): a
// best-effort, never-fails-the-caller writer that dispatches to either the
// main metadata store or an external datasource (with an optional
// StarRocks/MySQL-wire-compatible audit dialect), ported from
// backend/app/core/access_log_storage.py.
package accesslog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dbgateway/dbgateway/internal/pool"
	"github.com/dbgateway/dbgateway/internal/store"
)

const (
	maxBodyBytes    = 2 * 1024
	maxHeaderBytes  = 64 * 1024
	maxParamsBytes  = 64 * 1024
)

// Writer implements store.AccessLogWriter. It never returns an error to its
// caller — every failure is logged and swallowed, per spec.md §4.J.
//
// Writing is the one place the gateway's own runtime (not the out-of-scope
// admin CRUD surface) mutates the metadata database, so it holds its own
// pgxpool handle to the main store rather than going through the read-only
// store.Store interface.
type Writer struct {
	mainStore store.Store
	mainPool  *pgxpool.Pool
	pools     *pool.Manager
	logger    *slog.Logger

	configLoader func(ctx context.Context) (*store.AccessLogConfig, error)
}

func New(mainStore store.Store, mainPool *pgxpool.Pool, pools *pool.Manager, logger *slog.Logger) *Writer {
	return &Writer{
		mainStore: mainStore,
		mainPool:  mainPool,
		pools:     pools,
		logger:    logger,
		configLoader: func(ctx context.Context) (*store.AccessLogConfig, error) {
			return mainStore.AccessLogConfig(ctx)
		},
	}
}

// Write persists rec, truncating oversized fields, and never fails the
// caller — any error along the way is logged at warn level and dropped.
func (w *Writer) Write(ctx context.Context, rec store.AccessRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.RequestBody = truncate(rec.RequestBody, maxBodyBytes)
	rec.RequestHeaders = truncate(rec.RequestHeaders, maxHeaderBytes)
	rec.RequestParams = truncate(rec.RequestParams, maxParamsBytes)

	cfg, err := w.configLoader(ctx)
	if err != nil {
		w.logger.Warn("access log config unavailable, writing to main storage", "error", err)
		w.writeMain(ctx, rec)
		return
	}

	if cfg.DataSourceID == nil {
		w.writeMain(ctx, rec)
		return
	}

	ds, err := w.mainStore.DataSource(ctx, *cfg.DataSourceID)
	if err != nil || !ds.IsActive {
		w.writeMain(ctx, rec)
		return
	}

	if cfg.UseStarrocksAudit && ds.ProductType == store.ProductMySQL {
		w.writeStarrocksAudit(ctx, ds, rec)
		return
	}

	w.writeExternal(ctx, ds, rec)
}

func (w *Writer) writeMain(ctx context.Context, rec store.AccessRecord) {
	query := `INSERT INTO ` + accessRecordTable + ` (id, endpoint_id, client_id, ip_address, http_method, path,
		status_code, request_body, request_headers, request_params, duration_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := w.mainPool.Exec(ctx, query,
		rec.ID, rec.EndpointID, rec.ClientID, rec.IPAddress, rec.HTTPMethod, rec.Path,
		rec.StatusCode, rec.RequestBody, rec.RequestHeaders, rec.RequestParams, rec.DurationMS, rec.CreatedAt)
	if err != nil {
		w.logger.Warn("access log insert into main storage failed", "error", err, "record_id", rec.ID)
	}
}

func (w *Writer) writeExternal(ctx context.Context, ds *store.DataSource, rec store.AccessRecord) {
	dp, ok := w.pools.Get(ds.ID)
	if !ok {
		w.logger.Warn("no connection pool open for external access log datasource",
			"datasource", ds.ID, "record_id", rec.ID)
		return
	}
	w.insert(ctx, dp, accessRecordTable, rec)
}

// writeStarrocksAudit writes into the starrocks_audit_log table using the
// same column set as the canonical access_record insert, per spec.md §4.J's
// "use_audit_dialect" branch. Admin DDL for
// that audit schema is an explicit Non-goal (spec.md §1); this only issues
// the insert.
func (w *Writer) writeStarrocksAudit(ctx context.Context, ds *store.DataSource, rec store.AccessRecord) {
	dp, ok := w.pools.Get(ds.ID)
	if !ok {
		w.logger.Warn("no connection pool open for starrocks audit datasource",
			"datasource", ds.ID, "record_id", rec.ID)
		return
	}
	w.insert(ctx, dp, starrocksAuditTable, rec)
}

const accessRecordTable = "access_record"
const starrocksAuditTable = "starrocks_audit_log"

func (w *Writer) insert(ctx context.Context, dp *pool.DatasourcePool, table string, rec store.AccessRecord) {
	conn, err := dp.Acquire(ctx)
	if err != nil {
		w.logger.Warn("acquiring connection for access log write failed", "error", err, "record_id", rec.ID)
		return
	}
	defer dp.Return(conn, false)

	query := `INSERT INTO ` + table + ` (id, endpoint_id, client_id, ip_address, http_method, path,
		status_code, request_body, request_headers, request_params, duration_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err = conn.Conn().ExecContext(ctx, query,
		rec.ID, rec.EndpointID, rec.ClientID, rec.IPAddress, rec.HTTPMethod, rec.Path,
		rec.StatusCode, rec.RequestBody, rec.RequestHeaders, rec.RequestParams, rec.DurationMS, rec.CreatedAt)
	if err != nil {
		w.logger.Warn("access log insert failed", "error", err, "record_id", rec.ID, "table", table)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

var _ store.AccessLogWriter = (*Writer)(nil)
