package script

import (
	"github.com/robertkrimen/otto"
)

// bind registers every §4.C context name as an otto global, plus any
// SCRIPT_EXTRA_MODULES the caller's config allowlisted. Facades are nil-safe
// no-ops are the responsibility of each concrete facade implementation
// (e.g. cache is documented as "no-ops when unavailable", not this package's
// job to special-case).
func bind(vm *otto.Otto, sctx *Context, extraModules map[string]any) error {
	if err := bindDB(vm, sctx.DB); err != nil {
		return err
	}
	if err := bindTX(vm, sctx.TX); err != nil {
		return err
	}
	if err := bindHTTP(vm, sctx.HTTP); err != nil {
		return err
	}
	if err := bindCache(vm, sctx.Cache); err != nil {
		return err
	}
	if err := bindEnv(vm, sctx.Env); err != nil {
		return err
	}
	if err := bindLog(vm, sctx.Log); err != nil {
		return err
	}
	if err := vm.Set("req", sctx.Req); err != nil {
		return err
	}
	if err := vm.Set("ds", sctx.DS); err != nil {
		return err
	}
	if sctx.Result == nil {
		sctx.Result = map[string]any{"success": true, "message": nil, "data": []any{}}
	}
	if err := vm.Set("result", sctx.Result); err != nil {
		return err
	}
	for name, mod := range extraModules {
		if err := vm.Set(name, mod); err != nil {
			return err
		}
	}
	return nil
}

func bindDB(vm *otto.Otto, db DBFacade) error {
	if db == nil {
		return nil
	}
	obj, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	set := func(name string, fn func(otto.FunctionCall) otto.Value) error {
		return obj.Set(name, fn)
	}
	query := func(call otto.FunctionCall) otto.Value {
		sqlText := call.Argument(0).String()
		params := exportArgs(call, 1)
		rows, err := db.Query(sqlText, params)
		return mustValue(call.Otto, rows, err)
	}
	queryOne := func(call otto.FunctionCall) otto.Value {
		sqlText := call.Argument(0).String()
		params := exportArgs(call, 1)
		row, err := db.QueryOne(sqlText, params)
		return mustValue(call.Otto, row, err)
	}
	execute := func(call otto.FunctionCall) otto.Value {
		sqlText := call.Argument(0).String()
		params := exportArgs(call, 1)
		n, err := db.Execute(sqlText, params)
		return mustValue(call.Otto, n, err)
	}
	if err := set("query", query); err != nil {
		return err
	}
	if err := set("query_one", queryOne); err != nil {
		return err
	}
	if err := set("execute", execute); err != nil {
		return err
	}
	if err := set("insert", execute); err != nil {
		return err
	}
	if err := set("update", execute); err != nil {
		return err
	}
	if err := set("delete", execute); err != nil {
		return err
	}
	return vm.Set("db", obj)
}

func bindTX(vm *otto.Otto, tx TXFacade) error {
	if tx == nil {
		return nil
	}
	obj, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	if err := obj.Set("begin", func(call otto.FunctionCall) otto.Value {
		return mustValue(call.Otto, nil, tx.Begin())
	}); err != nil {
		return err
	}
	if err := obj.Set("commit", func(call otto.FunctionCall) otto.Value {
		return mustValue(call.Otto, nil, tx.Commit())
	}); err != nil {
		return err
	}
	if err := obj.Set("rollback", func(call otto.FunctionCall) otto.Value {
		return mustValue(call.Otto, nil, tx.Rollback())
	}); err != nil {
		return err
	}
	return vm.Set("tx", obj)
}

func bindHTTP(vm *otto.Otto, h HTTPFacade) error {
	if h == nil {
		return nil
	}
	obj, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	wrap := func(fn func(string, map[string]any) (map[string]any, error)) func(otto.FunctionCall) otto.Value {
		return func(call otto.FunctionCall) otto.Value {
			url := call.Argument(0).String()
			opts, _ := call.Argument(1).Export()
			optsMap, _ := opts.(map[string]any)
			resp, err := fn(url, optsMap)
			return mustValue(call.Otto, resp, err)
		}
	}
	if err := obj.Set("get", wrap(h.Get)); err != nil {
		return err
	}
	if err := obj.Set("post", wrap(h.Post)); err != nil {
		return err
	}
	if err := obj.Set("put", wrap(h.Put)); err != nil {
		return err
	}
	if err := obj.Set("delete", wrap(h.Delete)); err != nil {
		return err
	}
	return vm.Set("http", obj)
}

func bindCache(vm *otto.Otto, c CacheFacade) error {
	if c == nil {
		return nil
	}
	obj, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	if err := obj.Set("get", func(call otto.FunctionCall) otto.Value {
		v, ok := c.Get(call.Argument(0).String())
		if !ok {
			return otto.NullValue()
		}
		return mustValue(call.Otto, v, nil)
	}); err != nil {
		return err
	}
	if err := obj.Set("set", func(call otto.FunctionCall) otto.Value {
		v, _ := call.Argument(1).Export()
		ttl := 0
		if n, err := call.Argument(2).ToInteger(); err == nil {
			ttl = int(n)
		}
		c.Set(call.Argument(0).String(), v, ttl)
		return otto.UndefinedValue()
	}); err != nil {
		return err
	}
	if err := obj.Set("delete", func(call otto.FunctionCall) otto.Value {
		c.Delete(call.Argument(0).String())
		return otto.UndefinedValue()
	}); err != nil {
		return err
	}
	if err := obj.Set("exists", func(call otto.FunctionCall) otto.Value {
		return mustValue(call.Otto, c.Exists(call.Argument(0).String()), nil)
	}); err != nil {
		return err
	}
	if err := obj.Set("incr", func(call otto.FunctionCall) otto.Value {
		return mustValue(call.Otto, c.Incr(call.Argument(0).String()), nil)
	}); err != nil {
		return err
	}
	if err := obj.Set("decr", func(call otto.FunctionCall) otto.Value {
		return mustValue(call.Otto, c.Decr(call.Argument(0).String()), nil)
	}); err != nil {
		return err
	}
	return vm.Set("cache", obj)
}

func bindEnv(vm *otto.Otto, e EnvFacade) error {
	if e == nil {
		return nil
	}
	obj, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	if err := obj.Set("get", func(call otto.FunctionCall) otto.Value {
		v, ok := e.Get(call.Argument(0).String())
		if !ok {
			return otto.NullValue()
		}
		return mustValue(call.Otto, v, nil)
	}); err != nil {
		return err
	}
	if err := obj.Set("get_int", func(call otto.FunctionCall) otto.Value {
		v, ok := e.GetInt(call.Argument(0).String())
		if !ok {
			return otto.NullValue()
		}
		return mustValue(call.Otto, v, nil)
	}); err != nil {
		return err
	}
	if err := obj.Set("get_bool", func(call otto.FunctionCall) otto.Value {
		v, ok := e.GetBool(call.Argument(0).String())
		if !ok {
			return otto.NullValue()
		}
		return mustValue(call.Otto, v, nil)
	}); err != nil {
		return err
	}
	return vm.Set("env", obj)
}

func bindLog(vm *otto.Otto, l LogFacade) error {
	if l == nil {
		return nil
	}
	obj, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	if err := obj.Set("info", func(call otto.FunctionCall) otto.Value {
		l.Info(call.Argument(0).String())
		return otto.UndefinedValue()
	}); err != nil {
		return err
	}
	if err := obj.Set("warn", func(call otto.FunctionCall) otto.Value {
		l.Warn(call.Argument(0).String())
		return otto.UndefinedValue()
	}); err != nil {
		return err
	}
	if err := obj.Set("error", func(call otto.FunctionCall) otto.Value {
		l.Error(call.Argument(0).String())
		return otto.UndefinedValue()
	}); err != nil {
		return err
	}
	if err := obj.Set("debug", func(call otto.FunctionCall) otto.Value {
		l.Debug(call.Argument(0).String())
		return otto.UndefinedValue()
	}); err != nil {
		return err
	}
	return vm.Set("log", obj)
}

// exportArgs exports call arguments starting at index start as a []any,
// unwrapping a single array argument (db.query(sql, [a, b])) into its
// elements if passed that way, or collecting varargs otherwise.
func exportArgs(call otto.FunctionCall, start int) []any {
	if len(call.ArgumentList) <= start {
		return nil
	}
	arg := call.Argument(start)
	if arg.IsDefined() {
		if exported, err := arg.Export(); err == nil {
			if arr, ok := exported.([]any); ok {
				return arr
			}
		}
	}
	out := make([]any, 0, len(call.ArgumentList)-start)
	for _, a := range call.ArgumentList[start:] {
		v, _ := a.Export()
		out = append(out, v)
	}
	return out
}

// mustValue converts a Go value/error pair to an otto.Value, throwing an
// otto exception for non-nil err rather than panicking the host.
func mustValue(vm *otto.Otto, v any, err error) otto.Value {
	if err != nil {
		panic(vm.MakeCustomError("GatewayError", err.Error()))
	}
	val, convErr := vm.ToValue(v)
	if convErr != nil {
		panic(vm.MakeCustomError("GatewayError", convErr.Error()))
	}
	return val
}
