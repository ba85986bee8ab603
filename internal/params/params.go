// Package params implements Parameter Binding (spec.md §4.D): extracting
// declared parameters from their configured location on the inbound
// request, coercing them to their declared type, and checking required-ness
// — ported from backend/app/core/{param_type,param_validate}.py. Coercion
// is hand-written (not delegated to go-playground/validator) because
// spec.md pins the exact wording of each failure message, which a generic
// validator does not produce.
package params

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dbgateway/dbgateway/internal/gwerror"
	"github.com/dbgateway/dbgateway/internal/store"
)

// Validator runs a configured per-parameter validation script in the Script
// Sandbox (spec.md §4.D.6); internal/runner supplies the concrete sandbox.
type Validator interface {
	RunValidate(body string, value any, params map[string]any) (bool, error)
}

// Source is the decoded, location-indexed view of one inbound request that
// Bind reads from.
type Source struct {
	PathParams map[string]string
	Query      map[string][]string
	Header     http.Header
	Body       map[string]any // decoded JSON body, or form fields
}

// Bind extracts and coerces every declared ParamSpec from src, returning a
// name -> coerced value map ready to hand to the template/script engine.
// validator may be nil (no per-parameter validation scripts configured).
func Bind(specs []store.ParamSpec, src Source, validator Validator) (map[string]any, error) {
	if len(specs) == 0 {
		return mergeUnschemaed(src), nil
	}

	out := make(map[string]any, len(specs))
	var missing []string

	for _, spec := range specs {
		raw, present, err := extract(spec, src)
		if err != nil {
			return nil, err
		}
		if !present || isEmptyRaw(raw) {
			if spec.Default != nil {
				out[spec.Name] = spec.Default
				continue
			}
			if spec.Required {
				missing = append(missing, spec.Name)
			}
			continue
		}
		coerced, err := coerce(spec, raw)
		if err != nil {
			return nil, err
		}
		if isZero(coerced) && spec.Required {
			missing = append(missing, spec.Name)
			continue
		}
		out[spec.Name] = coerced
	}

	if len(missing) > 0 {
		return nil, gwerror.BadRequest("Missing required parameters: %s", strings.Join(missing, ", "))
	}

	if validator != nil {
		for _, spec := range specs {
			if spec.ValidateScript == "" {
				continue
			}
			value, ok := out[spec.Name]
			if !ok {
				continue
			}
			passed, err := validator.RunValidate(spec.ValidateScript, value, out)
			if err != nil {
				return nil, gwerror.BadRequest("parameter %q failed validation: %v", spec.Name, err)
			}
			if !passed {
				return nil, gwerror.BadRequest("parameter %q failed validation", spec.Name)
			}
		}
	}

	return out, nil
}

// isEmptyRaw reports whether an extracted-but-present raw value is the
// empty string — spec.md §4.D.5 treats a required parameter resolving to
// null or "" as missing, not just an absent source.
func isEmptyRaw(raw any) bool {
	s, ok := raw.(string)
	return ok && s == ""
}

func isZero(v any) bool {
	s, ok := v.(string)
	return ok && s == ""
}

// mergeUnschemaed implements spec.md §4.D.3 for endpoints declaring no
// parameter schema: body values first, then query values, then path values,
// each overriding the previous, so path wins and query beats body.
func mergeUnschemaed(src Source) map[string]any {
	out := make(map[string]any)
	for k, v := range src.Body {
		out[k] = v
	}
	for k, vs := range src.Query {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	for k, v := range src.PathParams {
		out[k] = v
	}
	return out
}

func extract(spec store.ParamSpec, src Source) (any, bool, error) {
	switch spec.Location {
	case store.LocationPath:
		v, ok := src.PathParams[spec.Name]
		return v, ok, nil
	case store.LocationQuery:
		vs, ok := src.Query[spec.Name]
		if !ok || len(vs) == 0 {
			return nil, false, nil
		}
		if spec.Type == store.TypeArray {
			return vs, true, nil
		}
		return vs[0], true, nil
	case store.LocationHeader:
		v := src.Header.Get(spec.Name)
		if v == "" {
			return nil, false, nil
		}
		return v, true, nil
	case store.LocationBody:
		v, ok := src.Body[spec.Name]
		return v, ok, nil
	default:
		return nil, false, gwerror.Internal(nil, "unknown parameter location %q", spec.Location)
	}
}

// coerce converts raw (typically a string from path/query/header, or an
// already-decoded any from JSON body) to spec.Type, producing the exact
// failure wording from param_type.py on mismatch.
func coerce(spec store.ParamSpec, raw any) (any, error) {
	switch spec.Type {
	case store.TypeString:
		return coerceString(spec, raw)
	case store.TypeInteger:
		return coerceInteger(spec, raw)
	case store.TypeNumber:
		return coerceNumber(spec, raw)
	case store.TypeBoolean:
		return coerceBoolean(spec, raw)
	case store.TypeArray:
		return coerceArray(spec, raw)
	case store.TypeObject:
		return coerceObject(spec, raw)
	default:
		return nil, gwerror.Internal(nil, "parameter %q: unknown type %q", spec.Name, spec.Type)
	}
}

func coerceString(spec store.ParamSpec, raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func coerceInteger(spec store.ParamSpec, raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, gwerror.BadRequest("parameter %q: %q is not a valid integer", spec.Name, v)
		}
		return n, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, gwerror.BadRequest("parameter %q: %v is not a valid integer", spec.Name, v)
		}
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return nil, gwerror.BadRequest("parameter %q: value of type %T is not a valid integer", spec.Name, raw)
	}
}

func coerceNumber(spec store.ParamSpec, raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, gwerror.BadRequest("parameter %q: %q is not a valid number", spec.Name, v)
		}
		return f, nil
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	default:
		return nil, gwerror.BadRequest("parameter %q: value of type %T is not a valid number", spec.Name, raw)
	}
}

func coerceBoolean(spec store.ParamSpec, raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		default:
			return nil, gwerror.BadRequest("parameter %q: %q is not a valid boolean", spec.Name, v)
		}
	default:
		return nil, gwerror.BadRequest("parameter %q: value of type %T is not a valid boolean", spec.Name, raw)
	}
}

func coerceArray(spec store.ParamSpec, raw any) (any, error) {
	switch v := raw.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") {
			var out []any
			if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
				return nil, gwerror.BadRequest("parameter %q: %q is not a valid JSON array", spec.Name, v)
			}
			return out, nil
		}
		if trimmed == "" {
			return []any{}, nil
		}
		parts := strings.Split(trimmed, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
		return out, nil
	default:
		return nil, gwerror.BadRequest("parameter %q: value of type %T is not a valid array", spec.Name, raw)
	}
}

func coerceObject(spec store.ParamSpec, raw any) (any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, gwerror.BadRequest("parameter %q: %q is not a valid JSON object", spec.Name, v)
		}
		return out, nil
	default:
		return nil, gwerror.BadRequest("parameter %q: value of type %T is not a valid object", spec.Name, raw)
	}
}
