package sqltemplate

import "testing"

func render(t *testing.T, name, body string, vars map[string]any) string {
	t.Helper()
	tmpl, err := Compile(name, body)
	if err != nil {
		t.Fatalf("Compile(%q): %v", body, err)
	}
	out, err := tmpl.Render(vars)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return out
}

func TestCompileTranslatesJinjaFilterExpression(t *testing.T) {
	got := render(t, "scenario1", "SELECT {{ id | sql_int }} AS id", map[string]any{"id": 5})
	want := "SELECT 5 AS id"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCompileTranslatesBareJinjaVariable(t *testing.T) {
	got := render(t, "bare", "SELECT {{ name }} AS name", map[string]any{"name": "alice"})
	want := "SELECT 'alice' AS name"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCompileAutoEscapesFilterlessExpression(t *testing.T) {
	// The single most important invariant of the engine (spec.md §4.B,
	// invariant #5): a filterless expression must never emit its value raw.
	got := render(t, "scenario6", "SELECT {{ name }}", map[string]any{
		"name": "'; DROP TABLE t;--",
	})
	want := "SELECT '''; DROP TABLE t;--'"
	if got != want {
		t.Errorf("got %q, want %q — raw interpolation leaked through", got, want)
	}
}

func TestCompileLeavesExplicitFilterAlone(t *testing.T) {
	got := render(t, "explicit", "SELECT * FROM t WHERE name LIKE {{ prefix | sql_like_start }}", map[string]any{
		"prefix": "al",
	})
	want := "SELECT * FROM t WHERE name LIKE 'al%'"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCompileHandlesDottedPath(t *testing.T) {
	got := render(t, "dotted", "SELECT {{ order.id | sql_int }}", map[string]any{
		"order": map[string]any{"id": 7},
	})
	want := "SELECT 7"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCompileRejectsInvalidSyntax(t *testing.T) {
	if _, err := Compile("bad", "SELECT {{ .Foo "); err == nil {
		t.Error("expected a compile error for unterminated action")
	}
}

func TestRenderWhereBlockIncludesTruthyClause(t *testing.T) {
	body := "SELECT * FROM orders {% where %}AND status = {{ status | sql_string }}{% endwhere %}"
	got := render(t, "where1", body, map[string]any{"status": "open"})
	want := "SELECT * FROM orders WHERE (status = 'open')"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderWhereBlockDropsWhenEmpty(t *testing.T) {
	body := "SELECT * FROM orders {% where %}{% endwhere %}"
	got := render(t, "where2", body, map[string]any{})
	want := "SELECT * FROM orders "
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderWhereBlockStripsLeadingConjunction(t *testing.T) {
	body := "SELECT * FROM orders {% where %}AND id = {{ id | sql_int }}{% endwhere %}"
	got := render(t, "where3", body, map[string]any{"id": 3})
	want := "SELECT * FROM orders WHERE (id = 3)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
