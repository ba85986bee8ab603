// Package resolver implements the Resolver of spec.md §4.F: given an
// incoming (method, path), find the module by the path's first segment,
// then the matching endpoint within that module by compiled path pattern.
// It keeps the teacher's router.Router shape — an atomic.Value snapshot for
// lock-free reads, a write mutex serializing rare mutations — but the
// snapshot now holds compiled per-module endpoint matchers instead of a
// tenant map, and Resolve takes a path instead of a tenant id.
package resolver

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dbgateway/dbgateway/internal/store"
)

// pathVarPattern matches ":name" path-pattern segments, the same syntax the
// original's resolver.py path_to_regex compiles from.
var pathVarPattern = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// compiledEndpoint pairs an endpoint with its compiled path regex and the
// ordered variable names captured by that regex.
type compiledEndpoint struct {
	endpoint store.Endpoint
	re       *regexp.Regexp
	varNames []string
}

// pathToRegex turns a pattern like "/:id/items" into an anchored regex and
// the ordered list of variable names, matching resolver.py's path_to_regex.
func pathToRegex(pattern string) (*regexp.Regexp, []string, error) {
	var varNames []string
	var b strings.Builder
	last := 0
	matches := pathVarPattern.FindAllStringSubmatchIndex(pattern, -1)
	for _, m := range matches {
		start, end := m[0], m[1]
		name := pattern[m[2]:m[3]]
		b.WriteString(regexp.QuoteMeta(pattern[last:start]))
		b.WriteString(`([^/]+)`)
		varNames = append(varNames, name)
		last = end
	}
	b.WriteString(regexp.QuoteMeta(pattern[last:]))

	re, err := regexp.Compile("^" + b.String() + "$")
	if err != nil {
		return nil, nil, fmt.Errorf("compiling path pattern %q: %w", pattern, err)
	}
	return re, varNames, nil
}

// moduleSnapshot is an immutable view of one module's compiled endpoints.
type moduleSnapshot struct {
	module    store.Module
	endpoints []compiledEndpoint
}

// routeSnapshot is the full immutable routing table, keyed by module base path.
type routeSnapshot struct {
	modules map[string]*moduleSnapshot
	paused  map[string]bool // endpoint id -> paused
}

// Resolver resolves (method, path) to an endpoint and its path variables.
// Resolve is lock-free via atomic.Value; mutations serialize on wmu.
type Resolver struct {
	snap atomic.Value // holds *routeSnapshot
	wmu  sync.Mutex
}

func New() *Resolver {
	r := &Resolver{}
	r.snap.Store(&routeSnapshot{
		modules: make(map[string]*moduleSnapshot),
		paused:  make(map[string]bool),
	})
	return r
}

func (r *Resolver) load() *routeSnapshot {
	return r.snap.Load().(*routeSnapshot)
}

// Match is the result of a successful resolve.
type Match struct {
	Module      store.Module
	Endpoint    store.Endpoint
	PathParams  map[string]string
}

// ErrNoRoute is returned when no module/endpoint matches.
var ErrNoRoute = fmt.Errorf("no matching route")

// ErrPaused is returned when the matched endpoint has been paused.
var ErrPaused = fmt.Errorf("endpoint is paused")

// Resolve finds the endpoint for method+path. path must already have the
// module's base segment stripped by the caller is NOT required — Resolve
// itself splits the first segment off, mirroring resolve_module +
// resolve_api_assignment in resolver.py.
func (r *Resolver) Resolve(method, path string) (*Match, error) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	base := parts[0]
	rest := "/"
	if len(parts) == 2 {
		rest = "/" + parts[1]
	}

	snap := r.load()
	ms, ok := snap.modules[base]
	if !ok || !ms.module.IsActive {
		return nil, ErrNoRoute
	}

	for _, ce := range ms.endpoints {
		if !strings.EqualFold(ce.endpoint.Method, method) {
			continue
		}
		m := ce.re.FindStringSubmatch(rest)
		if m == nil {
			continue
		}
		if snap.paused[ce.endpoint.ID] {
			return nil, ErrPaused
		}
		params := make(map[string]string, len(ce.varNames))
		for i, name := range ce.varNames {
			params[name] = m[i+1]
		}
		return &Match{Module: ms.module, Endpoint: ce.endpoint, PathParams: params}, nil
	}
	return nil, ErrNoRoute
}

// LoadModule compiles and installs (or replaces) one module's endpoints.
func (r *Resolver) LoadModule(mod store.Module, endpoints []store.Endpoint) error {
	compiled := make([]compiledEndpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		re, vars, err := pathToRegex(ep.Path)
		if err != nil {
			return err
		}
		compiled = append(compiled, compiledEndpoint{endpoint: ep, re: re, varNames: vars})
	}

	r.wmu.Lock()
	defer r.wmu.Unlock()

	cur := r.load()
	newModules := make(map[string]*moduleSnapshot, len(cur.modules)+1)
	for k, v := range cur.modules {
		newModules[k] = v
	}
	newModules[mod.BasePath] = &moduleSnapshot{module: mod, endpoints: compiled}

	newPaused := make(map[string]bool, len(cur.paused))
	for k, v := range cur.paused {
		newPaused[k] = v
	}

	r.snap.Store(&routeSnapshot{modules: newModules, paused: newPaused})
	return nil
}

// PauseEndpoint marks an endpoint as paused, rejecting further dispatch to it.
func (r *Resolver) PauseEndpoint(endpointID string) {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	cur := r.load()
	newPaused := make(map[string]bool, len(cur.paused)+1)
	for k, v := range cur.paused {
		newPaused[k] = v
	}
	newPaused[endpointID] = true
	r.snap.Store(&routeSnapshot{modules: cur.modules, paused: newPaused})
}

// ResumeEndpoint clears a paused flag.
func (r *Resolver) ResumeEndpoint(endpointID string) {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	cur := r.load()
	newPaused := make(map[string]bool, len(cur.paused))
	for k, v := range cur.paused {
		if k != endpointID {
			newPaused[k] = v
		}
	}
	r.snap.Store(&routeSnapshot{modules: cur.modules, paused: newPaused})
}
