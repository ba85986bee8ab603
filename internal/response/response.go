// Package response implements the Response Formatter (spec.md §4.I):
// normalizing a runner result into the gateway's JSON envelope, applying
// optional camelCase key conversion, and making the whole tree JSON-safe —
// ported from backend/app/core/gateway/request_response.py and
// backend/app/core/result_transform.py.
package response

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is the gateway's normalized response shape.
type Envelope struct {
	Success bool           `json:"success"`
	Message any            `json:"message"`
	Data    any            `json:"data"`
	Extras  map[string]any `json:"-"`
}

// Normalize builds the envelope from a runner payload per spec.md §4.I:
// if the payload already has success/message/data, preserve them and only
// normalize data to a list; otherwise treat it as raw data to wrap.
func Normalize(payload map[string]any) Envelope {
	if payload == nil {
		return Envelope{Success: true, Message: nil, Data: []any{}}
	}

	success, hasSuccess := payload["success"].(bool)
	_, hasMessage := payload["message"]
	data, hasData := payload["data"]

	if hasSuccess && hasMessage && hasData {
		env := Envelope{Success: success, Message: payload["message"], Data: normalizeData(data)}
		env.Extras = extrasOf(payload, "success", "message", "data")
		return env
	}

	return Envelope{Success: true, Message: nil, Data: normalizeData(payload)}
}

// normalizeData implements the SQL-result unwrap rule of spec.md §4.I:
// unwrap a single-element outer list of lists ([[r1,r2]] -> [r1,r2]),
// coerce non-list data to a single-element list.
func normalizeData(data any) any {
	switch v := data.(type) {
	case []any:
		if len(v) == 1 {
			if inner, ok := v[0].([]any); ok {
				return inner
			}
			if inner, ok := v[0].([]map[string]any); ok {
				return toAnySlice(inner)
			}
		}
		return v
	case []map[string]any:
		return toAnySlice(v)
	case nil:
		return []any{}
	default:
		return []any{v}
	}
}

func toAnySlice(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

func extrasOf(payload map[string]any, exclude ...string) map[string]any {
	excluded := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		excluded[k] = true
	}
	extras := make(map[string]any)
	for k, v := range payload {
		if !excluded[k] {
			extras[k] = v
		}
	}
	if len(extras) == 0 {
		return nil
	}
	return extras
}

// ToJSON assembles the final JSON-ready map, merging extras and applying
// key-casing + JSON-safety conversion.
func ToJSON(env Envelope, camelCase bool) map[string]any {
	out := map[string]any{
		"success": env.Success,
		"message": jsonSafe(env.Message),
		"data":    jsonSafe(env.Data),
	}
	for k, v := range env.Extras {
		out[k] = jsonSafe(v)
	}
	if camelCase {
		return toCamelMap(out)
	}
	return out
}

// jsonSafe recursively converts a value tree into JSON-marshalable types:
// RFC 3339-encodes time.Time, renders time.Duration with its String form
// ("1h30m0s"), stringifies UUIDs, decodes []byte as UTF-8 (replacement on
// invalid sequences), recurses into map[string]any and []any, and
// preserves integer-valued floats as ints. Any other value, including
// other slice and map types, is returned unchanged for encoding/json to
// handle — spec.md §4.I's JSON-safety pass.
func jsonSafe(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.Format(time.RFC3339)
	case time.Duration:
		return x.String()
	case uuid.UUID:
		return x.String()
	case []byte:
		return strings.ToValidUTF8(string(x), "�")
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = jsonSafe(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = jsonSafe(val)
		}
		return out
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
		return x
	default:
		return v
	}
}

// SortedStringSet returns a sorted list from a set-like string slice,
// the Go-side analogue of the original's "convert sets as sorted lists".
func SortedStringSet(items []string) []string {
	out := append([]string(nil), items...)
	sort.Strings(out)
	return out
}
