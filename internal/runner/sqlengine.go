package runner

import (
	"context"
	"database/sql"

	"github.com/dbgateway/dbgateway/internal/gwerror"
	"github.com/dbgateway/dbgateway/internal/pool"
	"github.com/dbgateway/dbgateway/internal/sqltemplate"
)

// runSQL executes renderedSQL (already rendered from the bundle's content,
// SQL macros included, by the caller) over conn, branching on isSelectLike to
// decide between row capture and affected-row-count capture, per
// spec.md §4.H.3.
func runSQL(ctx context.Context, conn *pool.PooledConn, renderedSQL string) (map[string]any, error) {
	if isSelectLike(renderedSQL) {
		rows, err := conn.Conn().QueryContext(ctx, renderedSQL)
		if err != nil {
			return nil, gwerror.Wrap(gwerror.KindBadRequest, "executing SQL", err)
		}
		defer rows.Close()

		data, err := rowsToMaps(rows)
		if err != nil {
			return nil, gwerror.Wrap(gwerror.KindInternal, "reading SQL result rows", err)
		}
		return map[string]any{"success": true, "message": nil, "data": data}, nil
	}

	res, err := conn.Conn().ExecContext(ctx, renderedSQL)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindBadRequest, "executing SQL", err)
	}
	affected, _ := res.RowsAffected()
	return map[string]any{"success": true, "message": nil, "data": []any{}, "affected_rows": affected}, nil
}

// renderSQL compiles and renders the bundle's full SQL content (macros
// already prepended) against vars.
func renderSQL(name, content string, vars map[string]any) (string, error) {
	tmpl, err := sqltemplate.Compile(name, content)
	if err != nil {
		return "", err
	}
	return tmpl.Render(vars)
}

// rowsToMaps reads *sql.Rows into a []map[string]any keyed by column name,
// the SQL-engine equivalent of the original's dict-row capture.
func rowsToMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeSQLValue(values[i])
		}
		out = append(out, row)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, rows.Err()
}

// normalizeSQLValue converts driver-returned []byte (common for TEXT/NUMERIC
// columns across pgx/mysql/trino) to string so downstream JSON encoding
// doesn't base64-encode it.
func normalizeSQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
