package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the concrete Store backed by the main metadata Postgres
// database. It is a thin read layer: one query per method, no caching —
// internal/cache wraps it with the two-tier config cache described in
// spec.md §4.E.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore opens a pooled connection to the metadata database.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging metadata store: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Close() { s.pool.Close() }

func (s *PGStore) DataSource(ctx context.Context, id string) (*DataSource, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, product_type, host, port, database, username, password,
		       max_idle_per_datasource, max_age_seconds, connect_timeout_ms,
		       statement_timeout_ms, is_active, close_after_each_execute, use_ssl
		FROM datasources WHERE id = $1`, id)
	var d DataSource
	if err := row.Scan(&d.ID, &d.Name, &d.ProductType, &d.Host, &d.Port, &d.Database,
		&d.Username, &d.EncryptedPassword, &d.MaxIdlePerDatasource, &d.MaxAgeSeconds,
		&d.ConnectTimeoutMS, &d.StatementTimeoutMS, &d.IsActive,
		&d.CloseAfterEachExecute, &d.UseSSL); err != nil {
		return nil, mapNotFound(err, "datasource", id)
	}
	return &d, nil
}

func (s *PGStore) Module(ctx context.Context, basePath string) (*Module, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, base_path, is_active FROM modules WHERE base_path = $1`, basePath)
	var m Module
	if err := row.Scan(&m.ID, &m.Name, &m.BasePath, &m.IsActive); err != nil {
		return nil, mapNotFound(err, "module", basePath)
	}
	return &m, nil
}

func (s *PGStore) Modules(ctx context.Context) ([]Module, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, base_path, is_active FROM modules WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("querying modules: %w", err)
	}
	defer rows.Close()

	var out []Module
	for rows.Next() {
		var m Module
		if err := rows.Scan(&m.ID, &m.Name, &m.BasePath, &m.IsActive); err != nil {
			return nil, fmt.Errorf("scanning module: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) EndpointsForModule(ctx context.Context, moduleID string) ([]Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, module_id, name, method, path, engine, datasource_id,
		       published_version_id, is_active, require_auth, rate_limit_per_min,
		       max_concurrency
		FROM endpoints WHERE module_id = $1 AND is_active = true`, moduleID)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		var e Endpoint
		if err := rows.Scan(&e.ID, &e.ModuleID, &e.Name, &e.Method, &e.Path, &e.Engine,
			&e.DataSourceID, &e.PublishedVersionID, &e.IsActive, &e.RequireAuth,
			&e.RateLimitPerMin, &e.MaxConcurrency); err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) Endpoint(ctx context.Context, id string) (*Endpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, module_id, name, method, path, engine, datasource_id,
		       published_version_id, is_active, require_auth, rate_limit_per_min,
		       max_concurrency
		FROM endpoints WHERE id = $1`, id)
	var e Endpoint
	if err := row.Scan(&e.ID, &e.ModuleID, &e.Name, &e.Method, &e.Path, &e.Engine,
		&e.DataSourceID, &e.PublishedVersionID, &e.IsActive, &e.RequireAuth,
		&e.RateLimitPerMin, &e.MaxConcurrency); err != nil {
		return nil, mapNotFound(err, "endpoint", id)
	}
	return &e, nil
}

func (s *PGStore) EndpointContent(ctx context.Context, endpointID, versionID string) (*EndpointContent, error) {
	var row pgx.Row
	if versionID != "" {
		row = s.pool.QueryRow(ctx, `
			SELECT id, endpoint_id, body, params, result_transform
			FROM endpoint_contents WHERE id = $1`, versionID)
	} else {
		row = s.pool.QueryRow(ctx, `
			SELECT id, endpoint_id, body, params, result_transform
			FROM endpoint_contents WHERE endpoint_id = $1 AND is_draft = true
			ORDER BY updated_at DESC LIMIT 1`, endpointID)
	}
	var c EndpointContent
	if err := row.Scan(&c.ID, &c.EndpointID, &c.Body, &c.Params, &c.ResultTransform); err != nil {
		return nil, mapNotFound(err, "endpoint_content", endpointID)
	}
	return &c, nil
}

func (s *PGStore) Macros(ctx context.Context, moduleID *string) ([]Macro, error) {
	var rows pgxRows
	var err error
	if moduleID == nil {
		rows, err = s.pool.Query(ctx, `SELECT id, module_id, name, body, engine, published FROM macros WHERE module_id IS NULL`)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT id, module_id, name, body, engine, published FROM macros WHERE module_id IS NULL OR module_id = $1`, *moduleID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying macros: %w", err)
	}
	defer rows.Close()

	var out []Macro
	for rows.Next() {
		var m Macro
		if err := rows.Scan(&m.ID, &m.ModuleID, &m.Name, &m.Body, &m.Engine, &m.Published); err != nil {
			return nil, fmt.Errorf("scanning macro: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) ClientByClientID(ctx context.Context, clientID string) (*Client, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, client_id, hashed_secret, api_key, group_id, is_active,
		       max_concurrency, rate_limit_per_min
		FROM clients WHERE client_id = $1`, clientID)
	return scanClient(row)
}

func (s *PGStore) ClientByAPIKey(ctx context.Context, apiKey string) (*Client, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, client_id, hashed_secret, api_key, group_id, is_active,
		       max_concurrency, rate_limit_per_min
		FROM clients WHERE api_key = $1`, apiKey)
	return scanClient(row)
}

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	if err := row.Scan(&c.ID, &c.ClientID, &c.HashedSecret, &c.APIKey, &c.GroupID,
		&c.IsActive, &c.MaxConcurrency, &c.RateLimitPerMin); err != nil {
		return nil, mapNotFound(err, "client", "")
	}
	return &c, nil
}

func (s *PGStore) ClientGroup(ctx context.Context, groupID string) (*ClientGroup, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, max_concurrency, rate_limit_per_min FROM client_groups WHERE id = $1`, groupID)
	var g ClientGroup
	if err := row.Scan(&g.ID, &g.Name, &g.MaxConcurrency, &g.RateLimitPerMin); err != nil {
		return nil, mapNotFound(err, "client_group", groupID)
	}
	return &g, nil
}

func (s *PGStore) IPRules(ctx context.Context) ([]IPRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, cidr, action, sort_order FROM ip_rules ORDER BY sort_order ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying ip_rules: %w", err)
	}
	defer rows.Close()

	var out []IPRule
	for rows.Next() {
		var r IPRule
		if err := rows.Scan(&r.ID, &r.CIDR, &r.Action, &r.SortOrder); err != nil {
			return nil, fmt.Errorf("scanning ip_rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) AccessLogConfig(ctx context.Context) (*AccessLogConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, datasource_id, use_starrocks_audit, truncate_body_bytes
		FROM access_log_config WHERE id = $1`, AccessLogConfigRowID)
	var c AccessLogConfig
	if err := row.Scan(&c.ID, &c.DataSourceID, &c.UseStarrocksAudit, &c.TruncateBodyBytes); err != nil {
		return nil, mapNotFound(err, "access_log_config", AccessLogConfigRowID)
	}
	return &c, nil
}

func (s *PGStore) ClientCanAccessEndpoint(ctx context.Context, clientID, endpointID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM client_endpoint_grants
			WHERE client_id = $1 AND endpoint_id = $2
		)`, clientID, endpointID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying client_endpoint_grants: %w", err)
	}
	return exists, nil
}

// pgxRows is a narrow alias so Macros can assign either branch of its query
// without repeating the full pgx.Rows type.
type pgxRows = pgx.Rows

func mapNotFound(err error, kind, id string) error {
	if err == pgx.ErrNoRows {
		return fmt.Errorf("%s %q: %w", kind, id, errNotFound)
	}
	return fmt.Errorf("querying %s: %w", kind, err)
}

var errNotFound = fmt.Errorf("not found")
