package sqltemplate

import "regexp"

// bareExprPattern matches a stored "{{ name }}" or "{{ .name }}" expression
// with no pipeline at all. Compile (see syntax.go's normalizeTemplateSyntax)
// auto-appends "| sql_string" to every such expression, so these are no
// longer a safety hole — but they are still worth flagging to an endpoint
// author, since sql_string's generic quoting is rarely what's intended for
// a column that actually wants sql_int/sql_date/sql_like.
var bareExprPattern = regexp.MustCompile(`\{\{\s*\.?[A-Za-z_][A-Za-z0-9_.]*\s*\}\}`)

// CheckSafety scans a stored endpoint body for filterless variable
// interpolation and returns one warning string per occurrence. Rendering
// itself can no longer be defeated by a missing filter — Compile's
// normalization pass quote-escapes any expression with no explicit filter —
// so this is purely advisory, a helper for prompting authors toward a more
// specific filter than the default. Nothing in the request path (Compile,
// LoadBundle, the cache loader) calls it.
func CheckSafety(body string) []string {
	matches := bareExprPattern.FindAllString(body, -1)
	warnings := make([]string, 0, len(matches))
	for _, m := range matches {
		warnings = append(warnings, "variable interpolation with no explicit sql_* filter, defaulting to sql_string: "+m)
	}
	return warnings
}
