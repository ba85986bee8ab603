// Package runner implements the Runner (spec.md §4.H): it orchestrates one
// dispatched request end-to-end — loading the resolved config bundle,
// binding parameters, running the SQL or Script engine against a pooled
// connection, and applying an optional result-transform script — ported
// from backend/app/core/gateway/runner.py and backend/app/engines/executor.py.
package runner

import (
	"context"
	"regexp"
	"strings"

	"github.com/dbgateway/dbgateway/internal/gwerror"
	"github.com/dbgateway/dbgateway/internal/store"
)

// Bundle is the fully resolved execution bundle of spec.md §4.E, keyed by
// endpoint id in the Config Cache: {content, param_schema, validators,
// result_transform, prepended_sql_macros, prepended_script_macros}.
type Bundle struct {
	Endpoint            store.Endpoint
	Content             string
	Params              []store.ParamSpec
	ResultTransform     string
	PrependedSQLMacros  string
	PrependedScriptMacros string
}

// LoadBundle assembles a Bundle for endpoint from the store: its published
// (or draft) content plus every macro visible to its module, split by
// engine so SQL macros only prepend to SQL content and script macros only
// to script content — cmd/gatewayd wraps it as the loader function it
// passes to internal/cache.
//
// Macro gating follows spec.md §4.E/§8.6 exactly: a macro (global, or
// scoped to this endpoint's module) is only pulled in if its name appears
// as a whole-word match in the endpoint content; an unreferenced macro is
// silently skipped regardless of its published state, while a referenced-
// but-unpublished macro fails the load with a bad-request error (400).
func LoadBundle(ctx context.Context, s store.Store, endpoint store.Endpoint) (*Bundle, error) {
	versionID := ""
	if endpoint.PublishedVersionID != nil {
		versionID = *endpoint.PublishedVersionID
	}
	content, err := s.EndpointContent(ctx, endpoint.ID, versionID)
	if err != nil {
		return nil, err
	}

	macros, err := s.Macros(ctx, &endpoint.ModuleID)
	if err != nil {
		return nil, err
	}

	var sqlMacros, scriptMacros strings.Builder
	for _, m := range macros {
		if !wholeWordReferenced(content.Body, m.Name) {
			continue
		}
		if !m.Published {
			return nil, gwerror.BadRequest("macro %q is referenced but not published", m.Name)
		}
		switch m.Engine {
		case store.EngineSQL:
			sqlMacros.WriteString(m.Body)
			sqlMacros.WriteString("\n")
		case store.EngineScript:
			scriptMacros.WriteString(m.Body)
			scriptMacros.WriteString("\n")
		}
	}

	return &Bundle{
		Endpoint:              endpoint,
		Content:                content.Body,
		Params:                 content.Params,
		ResultTransform:        content.ResultTransform,
		PrependedSQLMacros:     sqlMacros.String(),
		PrependedScriptMacros:  scriptMacros.String(),
	}, nil
}

// wholeWordReferenced reports whether name appears in content as a whole
// word (\bname\b), per spec.md §4.E's macro-reference rule.
func wholeWordReferenced(content, name string) bool {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(content)
}

// isSelectLike reports whether sqlText is a row-producing statement
// (spec.md §4.H.3: "starting with SELECT or WITH after ignoring leading
// whitespace and semicolons"), the Go-side equivalent of the original's
// _is_select_like.
func isSelectLike(sqlText string) bool {
	trimmed := strings.TrimLeft(sqlText, " \t\r\n;")
	upper := strings.ToUpper(trimmed)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}
