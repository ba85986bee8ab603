// Package gateway implements the Gateway Dispatcher of spec.md §4.K: the
// single wildcard HTTP entry point that ties the resolver, admission
// control, the config cache, parameter binding, the runner, and the
// response formatter together into one request lifecycle, plus the
// process's auxiliary HTTP surface (/token/generate, /healthz, /readyz,
// /metrics). Shaped after the teacher's internal/api/server.go: a
// gorilla/mux router and small writeJSON/writeEnvelope helpers. The
// *http.Server and its graceful shutdown live in cmd/gatewayd.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbgateway/dbgateway/internal/admission"
	"github.com/dbgateway/dbgateway/internal/cache"
	"github.com/dbgateway/dbgateway/internal/cryptoutil"
	"github.com/dbgateway/dbgateway/internal/gwerror"
	"github.com/dbgateway/dbgateway/internal/health"
	"github.com/dbgateway/dbgateway/internal/metrics"
	"github.com/dbgateway/dbgateway/internal/params"
	"github.com/dbgateway/dbgateway/internal/resolver"
	"github.com/dbgateway/dbgateway/internal/response"
	"github.com/dbgateway/dbgateway/internal/runner"
	"github.com/dbgateway/dbgateway/internal/store"
)

const maxBodyBytes = 10 << 20 // 10MiB cap on a decoded request body

// Gateway wires every §4 component into the request lifecycle described in
// §4.K. It holds no long-lived request state; everything it reads (routes,
// bundles, client records) is already behind its own cache or snapshot.
type Gateway struct {
	Resolver  *resolver.Resolver
	Admission *admission.Controller
	Runner    *runner.Runner
	Store     store.Store
	AccessLog store.AccessLogWriter
	Bundles   *cache.Cache
	Tokens    *cryptoutil.TokenIssuer
	Metrics   *metrics.Collector
	Health    *health.Checker
	Logger    *slog.Logger

	// Workers bounds how many dispatched requests run the runner
	// concurrently; the dispatcher's own control flow (resolve, admission)
	// never blocks on it, per spec.md §5.
	workers chan struct{}
	validate *validator.Validate
}

// New builds a Gateway. workerCount must be > 0.
func New(r *resolver.Resolver, a *admission.Controller, run *runner.Runner, s store.Store,
	al store.AccessLogWriter, bundles *cache.Cache, tokens *cryptoutil.TokenIssuer,
	m *metrics.Collector, hc *health.Checker, logger *slog.Logger, workerCount int) *Gateway {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Gateway{
		Resolver:  r,
		Admission: a,
		Runner:    run,
		Store:     s,
		AccessLog: al,
		Bundles:   bundles,
		Tokens:    tokens,
		Metrics:   m,
		Health:    hc,
		Logger:    logger,
		workers:   make(chan struct{}, workerCount),
		validate:  validator.New(),
	}
}

// Router builds the process's full HTTP handler: the auxiliary surface
// first, then the wildcard dispatch route for everything else.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/token/generate", g.tokenGenerate).Methods(http.MethodPost)
	r.HandleFunc("/token/generate", g.tokenGenerateLegacy).Methods(http.MethodGet)
	r.HandleFunc("/healthz", g.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", g.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(g.Metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(g.dispatch).Methods(
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete)
	return r
}

// dispatch implements spec.md §4.K end to end for every module-routed
// request: resolve -> admit -> bind -> run (offloaded to the worker pool)
// -> format -> write, logging the access record on every exit path once an
// endpoint has been resolved (a resolve failure is metered but not logged).
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	clientIP := admission.ClientIP(r.Header.Get("X-Forwarded-For"), r.RemoteAddr)
	camelCase := wantsCamel(r)

	match, err := g.Resolver.Resolve(r.Method, r.URL.Path)
	if err != nil {
		g.finish(w, r, "", "", clientIP, nil, start, resolveErr(err), camelCase)
		return
	}

	decision, err := g.Admission.Admit(ctx, match.Endpoint, r.Header, clientIP, start)
	defer g.Admission.Release(ctx, decision)
	if err != nil {
		g.finish(w, r, match.Endpoint.ID, "", clientIP, decision, start, err, camelCase)
		return
	}

	body, err := bodyAsMap(r, camelCase)
	if err != nil {
		g.finish(w, r, match.Endpoint.ID, "", clientIP, decision, start, err, camelCase)
		return
	}
	src := params.Source{
		PathParams: match.PathParams,
		Query:      queryParams(r, camelCase),
		Header:     r.Header,
		Body:       body,
	}

	var bundle runner.Bundle
	if err := g.Bundles.Get(ctx, match.Endpoint.ID, &bundle); err != nil {
		g.finish(w, r, match.Endpoint.ID, "", clientIP, decision, start, gwerror.Internal(err, "loading endpoint bundle"), camelCase)
		return
	}

	result, err := g.runOffloaded(ctx, &bundle, src)
	clientID := ""
	if decision != nil && decision.Client != nil {
		clientID = decision.Client.ClientID
	}
	if err != nil {
		g.finish(w, r, match.Endpoint.ID, clientID, clientIP, decision, start, err, camelCase)
		return
	}

	g.finishOK(w, r, match.Endpoint.ID, clientID, clientIP, start, result.Payload, camelCase)
}

// runOffloaded acquires a worker slot before invoking the runner, bounding
// how many runner executions are in flight at once; the runner itself runs
// on the calling goroutine. ctx cancellation while waiting for a slot is
// honored immediately.
func (g *Gateway) runOffloaded(ctx context.Context, bundle *runner.Bundle, src params.Source) (*runner.Result, error) {
	select {
	case g.workers <- struct{}{}:
	case <-ctx.Done():
		return nil, gwerror.UpstreamTimeout(ctx.Err(), "waiting for a free worker")
	}
	defer func() { <-g.workers }()
	return g.Runner.Run(ctx, bundle, src)
}

// finishOK writes a successful envelope and logs the access record.
func (g *Gateway) finishOK(w http.ResponseWriter, r *http.Request, endpointID, clientID, clientIP string, start time.Time, payload map[string]any, camelCase bool) {
	env := response.Normalize(payload)
	g.writeEnvelope(w, http.StatusOK, response.ToJSON(env, camelCase))
	g.logAndMeter(r, endpointID, clientID, clientIP, start, http.StatusOK, nil)
}

// finish writes a failure envelope for any non-nil err (including resolve
// and admission failures, which never reach the runner), and logs the
// access record. A nil err with this signature should never occur; callers
// only reach it on an error path.
func (g *Gateway) finish(w http.ResponseWriter, r *http.Request, endpointID, clientID, clientIP string, decision *admission.Decision, start time.Time, err error, camelCase bool) {
	ge := gwerror.As(err)
	status := ge.Kind.HTTPStatus()
	env := response.Envelope{Success: false, Message: ge.Message, Data: []any{}}
	g.writeEnvelope(w, status, response.ToJSON(env, camelCase))
	g.logAndMeter(r, endpointID, clientID, clientIP, start, status, err)
}

func (g *Gateway) logAndMeter(r *http.Request, endpointID, clientID, clientIP string, start time.Time, status int, err error) {
	d := time.Since(start)
	statusClass := fmt.Sprintf("%dxx", status/100)
	g.Metrics.RequestCompleted(endpointIDOrUnresolved(endpointID), statusClass, d)
	if err != nil {
		if ge := gwerror.As(err); ge.Kind.String() == "rate_limited" || ge.Kind.String() == "concurrency_limited" {
			g.Metrics.AdmissionRejected(ge.Kind.String())
		}
	}
	if endpointID == "" || g.AccessLog == nil {
		return
	}
	var clientIDPtr *string
	if clientID != "" {
		clientIDPtr = &clientID
	}
	g.AccessLog.Write(r.Context(), store.AccessRecord{
		EndpointID:     endpointID,
		ClientID:       clientIDPtr,
		IPAddress:      clientIP,
		HTTPMethod:     r.Method,
		Path:           r.URL.Path,
		StatusCode:     status,
		RequestHeaders: headerSummary(r.Header),
		RequestParams:  r.URL.RawQuery,
		DurationMS:     d.Milliseconds(),
	})
}

func endpointIDOrUnresolved(id string) string {
	if id == "" {
		return "unresolved"
	}
	return id
}

func headerSummary(h http.Header) string {
	raw, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return string(raw)
}

func resolveErr(err error) error {
	switch {
	case errors.Is(err, resolver.ErrNoRoute):
		return gwerror.NotFound("no route matches this request")
	case errors.Is(err, resolver.ErrPaused):
		return gwerror.Conflict("this endpoint is paused")
	default:
		return gwerror.Internal(err, "resolving route")
	}
}

func (g *Gateway) writeEnvelope(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && g.Logger != nil {
		g.Logger.Error("writing response envelope", "error", err)
	}
}

// queryParams returns the request's query values, rekeying camelCase names
// to snake_case when the client opted into ?naming=camel.
func queryParams(r *http.Request, camelCase bool) map[string][]string {
	q := r.URL.Query()
	if !camelCase {
		return q
	}
	out := make(map[string][]string, len(q))
	for k, v := range q {
		out[params.CamelKeyToSnake(k)] = v
	}
	return out
}

// wantsCamel implements spec.md §6's naming switch: ?naming=camel or the
// X-Response-Naming header, either one.
func wantsCamel(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("naming"), "camel") {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Response-Naming"), "camel")
}

// bodyAsMap decodes the request body into a flat map, branching on content
// type: form-encoded bodies become single-valued fields, everything else is
// parsed as JSON. When camelCase is set (the client opted into
// ?naming=camel/X-Response-Naming), body keys are normalized from
// camelCase to snake_case before parameter binding ever sees them; when
// unset, keys are passed through unchanged.
func bodyAsMap(r *http.Request, camelCase bool) (map[string]any, error) {
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "application/x-www-form-urlencoded") || strings.Contains(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, gwerror.BadRequest("invalid form body: %v", err)
		}
		out := make(map[string]any, len(r.PostForm))
		for k, vs := range r.PostForm {
			if len(vs) > 0 {
				out[k] = vs[0]
			}
		}
		if camelCase {
			return params.CamelKeysToSnake(out).(map[string]any), nil
		}
		return out, nil
	}

	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, gwerror.BadRequest("reading request body: %v", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, gwerror.BadRequest("invalid JSON body: %v", err)
	}
	if camelCase {
		return params.CamelKeysToSnake(decoded).(map[string]any), nil
	}
	return decoded, nil
}

func (g *Gateway) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

func (g *Gateway) readyz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	ready := true
	if g.Health != nil && !g.Health.OverallHealthy() {
		status = http.StatusServiceUnavailable
		ready = false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"ready": ready})
}
