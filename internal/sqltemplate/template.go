package sqltemplate

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/dbgateway/dbgateway/internal/gwerror"
)

// Template is a compiled, render-ready endpoint SQL body.
type Template struct {
	main        *template.Template
	whereBlocks []*template.Template
	// placeholders[i] is the literal marker left in main's output for
	// whereBlocks[i]'s rendered, cleaned-up result.
	placeholders []string
}

// Compile parses body (after extracting {% where %} blocks) into a ready
// Template. Macro bodies referenced by name have already been textually
// prepended by the caller (internal/runner), matching macros_prepend.
func Compile(name, body string) (*Template, error) {
	rewritten, blockBodies := extractWhereBlocks(body)
	rewritten = normalizeTemplateSyntax(rewritten)

	main, err := template.New(name).Funcs(FuncMap()).Parse(rewritten)
	if err != nil {
		return nil, gwerror.BadRequest("compiling SQL template: %v", err)
	}

	t := &Template{main: main}
	for i, b := range blockBodies {
		b = normalizeTemplateSyntax(b)
		wt, err := template.New(fmt.Sprintf("%s_where_%d", name, i)).Funcs(FuncMap()).Parse(b)
		if err != nil {
			return nil, gwerror.BadRequest("compiling {%% where %%} block %d: %v", i, err)
		}
		t.whereBlocks = append(t.whereBlocks, wt)
		t.placeholders = append(t.placeholders, placeholderFor(i))
	}
	return t, nil
}

// Render executes the template against vars, resolving {% where %} blocks
// in a separate pass (see where.go) and splicing their cleaned-up output
// back into the main render.
func (t *Template) Render(vars map[string]any) (string, error) {
	var mainBuf bytes.Buffer
	if err := t.main.Execute(&mainBuf, vars); err != nil {
		return "", gwerror.BadRequest("rendering SQL template: %v", err)
	}
	rendered := mainBuf.String()

	for i, wt := range t.whereBlocks {
		var wBuf bytes.Buffer
		if err := wt.Execute(&wBuf, vars); err != nil {
			return "", gwerror.BadRequest("rendering {%% where %%} block %d: %v", i, err)
		}
		cleaned := strings.TrimSpace(stripWhereConjunction(wBuf.String()))
		clause := ""
		if cleaned != "" {
			clause = "WHERE (" + cleaned + ")"
		}
		rendered = strings.Replace(rendered, t.placeholders[i], clause, 1)
	}
	return rendered, nil
}
