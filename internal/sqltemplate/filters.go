// Package sqltemplate implements the SQL Template Engine of spec.md §4.B,
// porting backend/app/engines/sql/{template_engine,filters,extensions,
// safety,parser}.py onto Go's text/template. text/template has no
// Jinja2-style custom-tag extension mechanism, so the "{% where %}" block
// is handled by a hand-rolled pre-pass (where.go) before the remainder is
// compiled as a normal template with a FuncMap of sql_* filters.
package sqltemplate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// sqlNull is what every filter renders for a nil input, per spec.md §4.B
// ("each handling null as the literal NULL") and filters.py's None handling
// at the top of every filter.
const sqlNull = "NULL"

// sqlString quotes and escapes a string for safe inline SQL use, the direct
// analogue of filters.py's sql_string.
func sqlString(v any) string {
	if v == nil {
		return sqlNull
	}
	s := fmt.Sprintf("%v", v)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// sqlInt renders an integer, rejecting non-numeric input outright rather
// than silently truncating — this filter is the one place raw numeric
// interpolation is allowed unquoted.
func sqlInt(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return sqlNull, nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		if x != float64(int64(x)) {
			return "", fmt.Errorf("sql_int: %v is not an integer", x)
		}
		return strconv.FormatInt(int64(x), 10), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return "", fmt.Errorf("sql_int: %q is not an integer", x)
		}
		return strconv.FormatInt(n, 10), nil
	default:
		return "", fmt.Errorf("sql_int: unsupported type %T", v)
	}
}

func sqlFloat(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return sqlNull, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return "", fmt.Errorf("sql_float: %q is not a number", x)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("sql_float: unsupported type %T", v)
	}
}

func sqlBool(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return sqlNull, nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return "", fmt.Errorf("sql_bool: %q is not a boolean", x)
		}
		if b {
			return "TRUE", nil
		}
		return "FALSE", nil
	default:
		return "", fmt.Errorf("sql_bool: unsupported type %T", v)
	}
}

// sqlDate/sqlDatetime accept either a time.Time or an RFC3339-ish string and
// render it as a quoted SQL literal.
func sqlDate(v any) (string, error) {
	if v == nil {
		return sqlNull, nil
	}
	t, err := asTime(v)
	if err != nil {
		return "", fmt.Errorf("sql_date: %w", err)
	}
	return "'" + t.Format("2006-01-02") + "'", nil
}

func sqlDatetime(v any) (string, error) {
	if v == nil {
		return sqlNull, nil
	}
	t, err := asTime(v)
	if err != nil {
		return "", fmt.Errorf("sql_datetime: %w", err)
	}
	return "'" + t.Format("2006-01-02 15:04:05") + "'", nil
}

func asTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable time %q", x)
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
}

// emptyInListSentinel is what in_list renders for nil or an empty list: a
// clause that is always false, rather than "(NULL)" — "x IN (NULL)" is
// neither true nor false under SQL's three-valued logic and doesn't behave
// like "no rows match". Matches filters.py:100.
const emptyInListSentinel = "(SELECT 1 WHERE 1=0)"

// inList renders a Go slice as a parenthesized, comma-joined SQL literal
// list, quoting each element with sqlString — the analogue of filters.py's
// in_list.
func inList(v any) (string, error) {
	if v == nil {
		return emptyInListSentinel, nil
	}
	items, err := toSlice(v)
	if err != nil {
		return "", fmt.Errorf("in_list: %w", err)
	}
	if len(items) == 0 {
		return emptyInListSentinel, nil
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = sqlString(it)
	}
	return "(" + strings.Join(parts, ", ") + ")", nil
}

func toSlice(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected array, got %T", v)
	}
}

// sqlLikeEscape escapes %, _ and \ in v so it can be safely embedded between
// % wildcards in a LIKE pattern — the core of filters.py's sql_like* family.
func sqlLikeEscape(v any) string {
	s := fmt.Sprintf("%v", v)
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// sqlLike, sqlLikeStart and sqlLikeEnd are the canonical contains/prefix/
// suffix LIKE-pattern filters, named sql_like / sql_like_start / sql_like_end
// in both spec.md §4.B and filters.py:177-180.
func sqlLike(v any) string {
	if v == nil {
		return sqlNull
	}
	return "'%" + sqlLikeEscape(v) + "%'"
}

func sqlLikeStart(v any) string {
	if v == nil {
		return sqlNull
	}
	return "'" + sqlLikeEscape(v) + "%'"
}

func sqlLikeEnd(v any) string {
	if v == nil {
		return sqlNull
	}
	return "'%" + sqlLikeEscape(v) + "'"
}

// sqlJSON renders v as a quoted JSON-text SQL literal, for jsonb/json columns.
func sqlJSON(v any) (string, error) {
	if v == nil {
		return sqlNull, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("json: %w", err)
	}
	return sqlString(string(raw)), nil
}

// FuncMap returns the template function map: the sql_* filters plus a
// sprig.FuncMap() subset for generic string/collection helpers (trim,
// default, coalesce, ...), matching the original's Jinja2 environment which
// combines its own SQL_FILTERS with Jinja2's builtin filters.
func FuncMap() map[string]any {
	fm := sprig.HermeticTxtFuncMap()
	fm["sql_string"] = sqlString
	fm["sql_int"] = sqlInt
	fm["sql_float"] = sqlFloat
	fm["sql_bool"] = sqlBool
	fm["sql_date"] = sqlDate
	fm["sql_datetime"] = sqlDatetime
	fm["in_list"] = inList
	fm["sql_like"] = sqlLike
	fm["sql_like_start"] = sqlLikeStart
	fm["sql_like_end"] = sqlLikeEnd
	fm["json"] = sqlJSON
	return fm
}
