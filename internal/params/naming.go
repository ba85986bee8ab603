package params

import "strings"

// CamelKeysToSnake recursively converts map/slice keys from camelCase to
// snake_case, the `?naming=camel` request-side convention of spec.md
// §4.D.1. Path variables are never passed through this — only body/query.
func CamelKeysToSnake(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[camelToSnake(k)] = CamelKeysToSnake(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = CamelKeysToSnake(val)
		}
		return out
	default:
		return v
	}
}

// CamelKeyToSnake converts a single camelCase identifier to snake_case,
// for callers (query string keys) that don't go through CamelKeysToSnake's
// map/slice walk.
func CamelKeyToSnake(s string) string {
	return camelToSnake(s)
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
