package response

import "strings"

// toCamelMap recursively converts map keys from snake_case to camelCase,
// the response-side half of spec.md §4.I's `?naming=camel` / `X-Response-
// Naming: camel` convention (internal/params.CamelKeysToSnake handles the
// request-side conversion).
func toCamelMap(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[snakeToCamel(k)] = toCamelMap(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = toCamelMap(val)
		}
		return out
	default:
		return v
	}
}

func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) == 1 {
		return s
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
