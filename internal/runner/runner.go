package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dbgateway/dbgateway/internal/gwerror"
	"github.com/dbgateway/dbgateway/internal/params"
	"github.com/dbgateway/dbgateway/internal/pool"
	"github.com/dbgateway/dbgateway/internal/script"
	"github.com/dbgateway/dbgateway/internal/store"
)

// Runner orchestrates one dispatched request end-to-end (spec.md §4.H).
type Runner struct {
	Store   store.Store
	Pools   *pool.Manager
	Sandbox *script.Sandbox
	Redis   *redis.Client
	Logger  *slog.Logger

	ScriptHTTPTimeout   time.Duration
	ScriptHTTPAllowHost map[string]bool
	EnvWhitelist        map[string]string
}

// Result is the runner's output handed to internal/response for envelope
// normalization.
type Result struct {
	Payload      map[string]any
	CloseAfterUse bool
}

// Run binds parameters and executes endpoint's content through the engine
// its bundle specifies, applying any result-transform, per spec.md §4.H.
// Connection lifecycle (idle-pool reuse vs. close-after-use) is governed by
// the bound datasource's close_after_each_execute flag, not by the caller.
func (r *Runner) Run(ctx context.Context, bundle *Bundle, src params.Source) (*Result, error) {
	validator := sandboxValidator{r.Sandbox}
	req, err := params.Bind(bundle.Params, src, validator)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	var closeAfterEachExecute bool
	switch bundle.Endpoint.Engine {
	case store.EngineSQL:
		payload, closeAfterEachExecute, err = r.runSQLEndpoint(ctx, bundle, req)
	case store.EngineScript:
		payload, closeAfterEachExecute, err = r.runScriptEndpoint(ctx, bundle, req)
	default:
		err = gwerror.Internal(nil, "unknown engine type %q", bundle.Endpoint.Engine)
	}
	if err != nil {
		return nil, err
	}

	if bundle.ResultTransform != "" {
		transformed, terr := r.Sandbox.RunTransform(bundle.PrependedScriptMacros+bundle.ResultTransform, payload["data"])
		if terr != nil {
			return nil, gwerror.Wrap(gwerror.KindBadRequest, "result transform failed", terr)
		}
		payload["data"] = transformed
	}

	return &Result{Payload: payload, CloseAfterUse: closeAfterEachExecute}, nil
}

func (r *Runner) runSQLEndpoint(ctx context.Context, bundle *Bundle, req map[string]any) (map[string]any, bool, error) {
	ds, err := r.Store.DataSource(ctx, bundle.Endpoint.DataSourceID)
	if err != nil {
		return nil, false, gwerror.NotFound("datasource %q not found", bundle.Endpoint.DataSourceID)
	}
	if !ds.IsActive {
		return nil, false, gwerror.BadRequest("datasource %q is not active", ds.ID)
	}

	content := bundle.PrependedSQLMacros + bundle.Content
	rendered, err := renderSQL(bundle.Endpoint.ID, content, req)
	if err != nil {
		return nil, false, err
	}

	dp, ok := r.Pools.Get(ds.ID)
	if !ok {
		return nil, false, gwerror.Internal(nil, "no connection pool open for datasource %q", ds.ID)
	}
	conn, err := dp.Acquire(ctx)
	if err != nil {
		return nil, false, gwerror.UpstreamUnavailable(err, "acquiring connection for datasource %q", ds.ID)
	}
	defer dp.Return(conn, ds.CloseAfterEachExecute)

	payload, err := runSQL(ctx, conn, rendered)
	return payload, ds.CloseAfterEachExecute, err
}

func (r *Runner) runScriptEndpoint(ctx context.Context, bundle *Bundle, req map[string]any) (map[string]any, bool, error) {
	ds, err := r.Store.DataSource(ctx, bundle.Endpoint.DataSourceID)
	if err != nil {
		return nil, false, gwerror.NotFound("datasource %q not found", bundle.Endpoint.DataSourceID)
	}
	if !ds.IsActive {
		return nil, false, gwerror.BadRequest("datasource %q is not active", ds.ID)
	}

	dp, ok := r.Pools.Get(ds.ID)
	if !ok {
		return nil, false, gwerror.Internal(nil, "no connection pool open for datasource %q", ds.ID)
	}
	conn, err := dp.Acquire(ctx)
	if err != nil {
		return nil, false, gwerror.UpstreamUnavailable(err, "acquiring connection for datasource %q", ds.ID)
	}
	dbtx := newDBTxFacade(ctx, conn.Conn())
	defer func() {
		dbtx.releaseTx()
		dp.Return(conn, ds.CloseAfterEachExecute)
	}()

	sctx := &script.Context{
		DB:    dbtx,
		TX:    dbtx,
		HTTP:  newHTTPFacade(r.ScriptHTTPTimeout, r.ScriptHTTPAllowHost),
		Cache: newCacheFacade(ctx, r.Redis, bundle.Endpoint.ID),
		Env:   newEnvFacade(r.EnvWhitelist),
		Log:   newLogFacade(r.Logger, bundle.Endpoint.ID),
		Req:   req,
		DS: map[string]any{
			"id":           ds.ID,
			"name":         ds.Name,
			"product_type": string(ds.ProductType),
		},
		Result: map[string]any{"success": true, "message": nil, "data": []any{}},
	}

	content := bundle.PrependedScriptMacros + bundle.Content
	payload, err := r.Sandbox.Run(ctx, content, sctx)
	return payload, ds.CloseAfterEachExecute, err
}

// sandboxValidator adapts *script.Sandbox to params.Validator.
type sandboxValidator struct {
	sandbox *script.Sandbox
}

func (s sandboxValidator) RunValidate(body string, value any, p map[string]any) (bool, error) {
	if s.sandbox == nil {
		return true, nil
	}
	ok, err := s.sandbox.RunValidate(body, value, p)
	if err != nil {
		return false, err
	}
	return ok, nil
}
