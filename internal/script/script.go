// Package script implements the Script Sandbox (spec.md §4.C), porting
// backend/app/engines/script/{sandbox,context,executor}.py and
// modules/{cache,db,env,http,log}.py onto github.com/robertkrimen/otto, a
// pure-Go ECMAScript 5 interpreter with no FFI back into the host unless
// explicitly injected — see SPEC_FULL.md's "Why otto" section for why this
// stands in for the original's RestrictedPython sandbox.
package script

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/robertkrimen/otto"
	"github.com/robertkrimen/otto/parser"

	"github.com/dbgateway/dbgateway/internal/gwerror"
)

// deniedGlobals are names a script must never reference. Some are otto
// builtins that build code from strings or reach prototypes (eval,
// Function, constructor, __proto__); the rest (require, import, process,
// global, globalThis) otto does not define at all, and listing them gives
// scripts a precise compile error naming the offending identifier instead
// of a bare ReferenceError at call time.
var deniedGlobals = []string{
	"require", "import", "process", "eval", "Function", "__proto__",
	"constructor", "global", "globalThis",
}

var identifierPattern = regexp.MustCompile(`[A-Za-z_$][A-Za-z0-9_$]*`)

// CheckSafety parses body (rejecting malformed scripts outright, the same
// compile boundary the original enforces before ever handing a script to
// RestrictedPython) and scans its identifiers for deniedGlobals — the
// otto-port analogue of §4.C's "compilation rejects dangerous constructs".
// The scan is textual: any identifier-shaped token in body that equals a
// denied name is rejected, including one inside a string literal or used
// as a property name.
func CheckSafety(body string) error {
	if _, err := parser.ParseFile(nil, "", body, 0); err != nil {
		return gwerror.BadRequest("script compile error: %v", err)
	}
	for _, id := range identifierPattern.FindAllString(body, -1) {
		for _, denied := range deniedGlobals {
			if id == denied {
				return gwerror.BadRequest("script references disallowed global %q", denied)
			}
		}
	}
	return nil
}

// Sandbox compiles and runs scripts with a fixed context namespace. Run
// enforces a wall-clock timeout; RunValidate and RunTransform run without
// one.
type Sandbox struct {
	Timeout      time.Duration
	ExtraModules map[string]any // SCRIPT_EXTRA_MODULES, registered by name
}

// New builds a Sandbox. extraModules holds Go-native helper namespaces
// exposed under the comma-separated SCRIPT_EXTRA_MODULES allowlist (otto
// cannot import Go packages at runtime, so these are pre-built values
// rather than names the script can `import`).
func New(timeout time.Duration, extraModules map[string]any) *Sandbox {
	return &Sandbox{Timeout: timeout, ExtraModules: extraModules}
}

// Context is the injected namespace surface of §4.C, built fresh per call
// by internal/runner before invoking Run. RunValidate and RunTransform take
// no Context and bind none of these facades.
type Context struct {
	DB     DBFacade
	TX     TXFacade
	HTTP   HTTPFacade
	Cache  CacheFacade
	Env    EnvFacade
	Log    LogFacade
	Req    map[string]any
	DS     map[string]any // read-only datasource metadata, no credentials
	Result map[string]any // pre-populated {success:true, message:null, data:[]}
}

// DBFacade is the db.* surface: query/query_one/execute plus insert/update/
// delete aliases of execute.
type DBFacade interface {
	Query(sqlText string, params []any) ([]map[string]any, error)
	QueryOne(sqlText string, params []any) (map[string]any, error)
	Execute(sqlText string, params []any) (int64, error)
}

// TXFacade is the tx.* surface: while a transaction is open, DB calls share
// one pinned connection and commit_after_dml auto-commit is suppressed.
type TXFacade interface {
	Begin() error
	Commit() error
	Rollback() error
}

// HTTPFacade is the http.* surface: a client with a timeout and an optional
// host allow-list.
type HTTPFacade interface {
	Get(url string, options map[string]any) (map[string]any, error)
	Post(url string, options map[string]any) (map[string]any, error)
	Put(url string, options map[string]any) (map[string]any, error)
	Delete(url string, options map[string]any) (map[string]any, error)
}

// CacheFacade is the cache.* surface against the shared KV store; every
// operation is a no-op when the cache is unavailable (never fails the script).
type CacheFacade interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttlSeconds int)
	Delete(key string)
	Exists(key string) bool
	Incr(key string) int64
	Decr(key string) int64
}

// EnvFacade is the env.* surface: whitelisted configuration keys only.
type EnvFacade interface {
	Get(key string) (string, bool)
	GetInt(key string) (int64, bool)
	GetBool(key string) (bool, bool)
}

// LogFacade is the log.* passthrough into structured logging.
type LogFacade interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Debug(msg string)
}

// errHalt is the sentinel panicked by the Interrupt handler, following
// otto's own documented timeout idiom (panic a well-known value from the
// Interrupt func, recover it above vm.Run, and treat anything else as a
// genuine script panic to re-raise).
var errHalt = errors.New("script execution timed out")

// Run executes body under sctx, honoring s.Timeout via otto's Interrupt
// channel. Execution protocol per §4.C: if body defines execute(params),
// call it with req and use its return value; otherwise use the final value
// of result.
func (s *Sandbox) Run(parent context.Context, body string, sctx *Context) (result map[string]any, err error) {
	if err := CheckSafety(body); err != nil {
		return nil, err
	}

	vm := otto.New()
	if bindErr := bind(vm, sctx, s.ExtraModules); bindErr != nil {
		return nil, gwerror.Internal(bindErr, "binding script context")
	}

	vm.Interrupt = make(chan func(), 1)
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.AfterFunc(timeout, func() {
		select {
		case vm.Interrupt <- func() { panic(errHalt) }:
		default:
		}
	})
	defer timer.Stop()

	defer func() {
		if caught := recover(); caught != nil {
			if caught == errHalt {
				err = gwerror.UpstreamTimeout(errHalt, "script execution timed out")
				return
			}
			err = gwerror.Wrap(gwerror.KindBadRequest, "script panicked", fmt.Errorf("%v", caught))
		}
	}()

	if _, runErr := vm.Run(body); runErr != nil {
		return nil, gwerror.Wrap(gwerror.KindBadRequest, "script execution failed", runErr)
	}

	execFn, getErr := vm.Get("execute")
	if getErr == nil && execFn.IsFunction() {
		reqVal, convErr := vm.ToValue(sctx.Req)
		if convErr != nil {
			return nil, gwerror.Internal(convErr, "converting req for script execute()")
		}
		ret, callErr := execFn.Call(otto.NullValue(), reqVal)
		if callErr != nil {
			return nil, gwerror.Wrap(gwerror.KindBadRequest, "script execute() failed", callErr)
		}
		exported, expErr := ret.Export()
		if expErr != nil {
			return nil, gwerror.Internal(expErr, "exporting script execute() result")
		}
		if m, ok := exported.(map[string]any); ok {
			return m, nil
		}
		return map[string]any{"success": true, "message": nil, "data": exported}, nil
	}

	resultVal, getErr := vm.Get("result")
	if getErr != nil {
		return nil, gwerror.Internal(getErr, "reading script result")
	}
	exported, expErr := resultVal.Export()
	if expErr != nil {
		return nil, gwerror.Internal(expErr, "exporting script result")
	}
	m, ok := exported.(map[string]any)
	if !ok {
		return nil, gwerror.BadRequest("script result is not an object")
	}
	return m, nil
}

// RunValidate runs a per-parameter validation script that must define
// validate(value, params); a falsy return or thrown exception is reported
// to the caller (internal/params), which fails the request with a 400
// naming the parameter. There is no per-parameter custom failure message.
func (s *Sandbox) RunValidate(body string, value any, params map[string]any) (ok bool, err error) {
	if err := CheckSafety(body); err != nil {
		return false, err
	}
	vm := otto.New()

	defer func() {
		if caught := recover(); caught != nil {
			ok = false
			err = gwerror.Wrap(gwerror.KindBadRequest, "validation script panicked", fmt.Errorf("%v", caught))
		}
	}()

	if _, runErr := vm.Run(body); runErr != nil {
		return false, gwerror.Wrap(gwerror.KindBadRequest, "validation script compile failed", runErr)
	}
	fn, getErr := vm.Get("validate")
	if getErr != nil || !fn.IsFunction() {
		return false, gwerror.BadRequest("validation script does not define validate(value, params)")
	}
	valueVal, _ := vm.ToValue(value)
	paramsVal, _ := vm.ToValue(params)
	ret, callErr := fn.Call(otto.NullValue(), valueVal, paramsVal)
	if callErr != nil {
		return false, gwerror.Wrap(gwerror.KindBadRequest, "validation script threw", callErr)
	}
	truth, _ := ret.ToBoolean()
	return truth, nil
}

// RunTransform runs an optional result-transform script over a raw result
// set; the script must define transform(rows) and its return replaces the
// runner's data payload.
func (s *Sandbox) RunTransform(body string, rows any) (out any, err error) {
	if err := CheckSafety(body); err != nil {
		return nil, err
	}
	vm := otto.New()

	defer func() {
		if caught := recover(); caught != nil {
			out = nil
			err = gwerror.Wrap(gwerror.KindBadRequest, "transform script panicked", fmt.Errorf("%v", caught))
		}
	}()

	if _, runErr := vm.Run(body); runErr != nil {
		return nil, gwerror.Wrap(gwerror.KindBadRequest, "transform script compile failed", runErr)
	}
	fn, getErr := vm.Get("transform")
	if getErr != nil || !fn.IsFunction() {
		return nil, gwerror.BadRequest("transform script does not define transform(rows)")
	}
	rowsVal, _ := vm.ToValue(rows)
	ret, callErr := fn.Call(otto.NullValue(), rowsVal)
	if callErr != nil {
		return nil, gwerror.Wrap(gwerror.KindBadRequest, "transform script threw", callErr)
	}
	return ret.Export()
}
