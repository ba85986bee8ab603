package sqltemplate

import "testing"

func TestSQLStringEscapesQuotes(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"plain", "hello", "'hello'"},
		{"embedded quote", "O'Brien", "'O''Brien'"},
		{"injection attempt", "'; DROP TABLE t;--", "'''; DROP TABLE t;--'"},
		{"nil", nil, "NULL"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := sqlString(c.in); got != c.want {
				t.Errorf("sqlString(%v) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestSQLIntRejectsNonNumeric(t *testing.T) {
	if _, err := sqlInt("not a number"); err == nil {
		t.Error("expected an error for non-numeric input")
	}
}

func TestSQLIntNilIsNull(t *testing.T) {
	got, err := sqlInt(nil)
	if err != nil {
		t.Fatalf("sqlInt(nil): %v", err)
	}
	if got != "NULL" {
		t.Errorf("sqlInt(nil) = %q, want NULL", got)
	}
}

func TestSQLIntAcceptsStringAndNumber(t *testing.T) {
	if got, err := sqlInt("42"); err != nil || got != "42" {
		t.Errorf("sqlInt(\"42\") = %q, %v, want 42, nil", got, err)
	}
	if got, err := sqlInt(42); err != nil || got != "42" {
		t.Errorf("sqlInt(42) = %q, %v, want 42, nil", got, err)
	}
}

func TestSQLFloatNilIsNull(t *testing.T) {
	got, err := sqlFloat(nil)
	if err != nil || got != "NULL" {
		t.Errorf("sqlFloat(nil) = %q, %v, want NULL, nil", got, err)
	}
}

func TestSQLBoolRenders(t *testing.T) {
	if got, _ := sqlBool(true); got != "TRUE" {
		t.Errorf("sqlBool(true) = %q, want TRUE", got)
	}
	if got, _ := sqlBool(false); got != "FALSE" {
		t.Errorf("sqlBool(false) = %q, want FALSE", got)
	}
	if got, err := sqlBool(nil); err != nil || got != "NULL" {
		t.Errorf("sqlBool(nil) = %q, %v, want NULL, nil", got, err)
	}
}

func TestSQLDateAndDatetimeNilIsNull(t *testing.T) {
	if got, err := sqlDate(nil); err != nil || got != "NULL" {
		t.Errorf("sqlDate(nil) = %q, %v, want NULL, nil", got, err)
	}
	if got, err := sqlDatetime(nil); err != nil || got != "NULL" {
		t.Errorf("sqlDatetime(nil) = %q, %v, want NULL, nil", got, err)
	}
}

func TestSQLDateFormatsISODate(t *testing.T) {
	got, err := sqlDate("2024-03-15T10:30:00Z")
	if err != nil {
		t.Fatalf("sqlDate: %v", err)
	}
	if got != "'2024-03-15'" {
		t.Errorf("sqlDate(...) = %q, want '2024-03-15'", got)
	}
}

func TestInListEmptyUsesFalseSentinel(t *testing.T) {
	got, err := inList([]any{})
	if err != nil {
		t.Fatalf("inList: %v", err)
	}
	if got != "(SELECT 1 WHERE 1=0)" {
		t.Errorf("inList(empty) = %q, want (SELECT 1 WHERE 1=0)", got)
	}
}

func TestInListNilUsesFalseSentinel(t *testing.T) {
	got, err := inList(nil)
	if err != nil {
		t.Fatalf("inList: %v", err)
	}
	if got != "(SELECT 1 WHERE 1=0)" {
		t.Errorf("inList(nil) = %q, want (SELECT 1 WHERE 1=0)", got)
	}
}

func TestInListQuotesEachElement(t *testing.T) {
	got, err := inList([]any{"a", "b"})
	if err != nil {
		t.Fatalf("inList: %v", err)
	}
	if got != "('a', 'b')" {
		t.Errorf("inList([a b]) = %q, want ('a', 'b')", got)
	}
}

func TestSQLLikeFilterNames(t *testing.T) {
	cases := []struct {
		name string
		fn   func(any) string
		in   string
		want string
	}{
		{"sql_like", sqlLike, "a%b", `'%a\%b%'`},
		{"sql_like_start", sqlLikeStart, "a%b", `'a\%b%'`},
		{"sql_like_end", sqlLikeEnd, "a%b", `'%a\%b'`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.fn(c.in); got != c.want {
				t.Errorf("%s(%q) = %q, want %q", c.name, c.in, got, c.want)
			}
		})
	}
}

func TestSQLLikeFiltersNilIsNull(t *testing.T) {
	if got := sqlLike(nil); got != "NULL" {
		t.Errorf("sqlLike(nil) = %q, want NULL", got)
	}
	if got := sqlLikeStart(nil); got != "NULL" {
		t.Errorf("sqlLikeStart(nil) = %q, want NULL", got)
	}
	if got := sqlLikeEnd(nil); got != "NULL" {
		t.Errorf("sqlLikeEnd(nil) = %q, want NULL", got)
	}
}

func TestFuncMapUsesCanonicalLikeNames(t *testing.T) {
	fm := FuncMap()
	for _, name := range []string{"sql_like", "sql_like_start", "sql_like_end", "sql_string", "sql_int", "in_list"} {
		if _, ok := fm[name]; !ok {
			t.Errorf("FuncMap missing %q", name)
		}
	}
	for _, stale := range []string{"sql_like_contains", "sql_like_prefix", "sql_like_suffix"} {
		if _, ok := fm[stale]; ok {
			t.Errorf("FuncMap should not register the renamed filter %q", stale)
		}
	}
}

func TestSQLJSONNilIsNull(t *testing.T) {
	got, err := sqlJSON(nil)
	if err != nil || got != "NULL" {
		t.Errorf("sqlJSON(nil) = %q, %v, want NULL, nil", got, err)
	}
}
