package nodes

import (
	"context"
	"database/sql"
	"sync"

	"github.com/PaesslerAG/jsonpath"
	_ "github.com/lib/pq"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/bus"
)

// RegisterDatabase binds the database.query handler. defaultDSN is used
// when a call omits connectionString. Opened connections are cached per
// DSN for the lifetime of the process, matching internal/platform/database's
// single long-lived *sql.DB pattern rather than opening one per call.
func RegisterDatabase(b *bus.Bus, defaultDSN string) {
	reg := &dbRegistry{conns: make(map[string]*sql.DB)}
	b.Register("nodes.database.query", bus.DefaultVersion, reg.handler(defaultDSN), databaseQuerySchema())
}

type dbRegistry struct {
	mu    sync.Mutex
	conns map[string]*sql.DB
}

func (r *dbRegistry) get(dsn string) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if db, ok := r.conns[dsn]; ok {
		return db, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	r.conns[dsn] = db
	return db, nil
}

func (r *dbRegistry) handler(defaultDSN string) bus.Handler {
	return func(ctx context.Context, params map[string]any, meta bus.Meta) (map[string]any, error) {
		query, _ := params["query"].(string)
		if query == "" {
			return nil, apperr.NewValidationError("nodes.database.query: query is required")
		}
		dsn, _ := params["connectionString"].(string)
		if dsn == "" {
			dsn = defaultDSN
		}
		if dsn == "" {
			return nil, apperr.NewValidationError("nodes.database.query: connectionString is required")
		}

		var args []any
		if raw, ok := params["params"].([]any); ok {
			args = raw
		}

		db, err := r.get(dsn)
		if err != nil {
			return nil, apperr.NewExecutionError("nodes.database.query: opening connection: %s", err)
		}

		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, apperr.NewExecutionError("nodes.database.query: %s", err)
		}
		defer rows.Close()

		fields, err := rows.Columns()
		if err != nil {
			return nil, apperr.NewExecutionError("nodes.database.query: %s", err)
		}

		var results []map[string]any
		for rows.Next() {
			values := make([]any, len(fields))
			ptrs := make([]any, len(fields))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return nil, apperr.NewExecutionError("nodes.database.query: scanning row: %s", err)
			}
			row := make(map[string]any, len(fields))
			for i, f := range fields {
				row[f] = normalizeDBValue(values[i])
			}
			results = append(results, row)
		}
		if err := rows.Err(); err != nil {
			return nil, apperr.NewExecutionError("nodes.database.query: %s", err)
		}

		out := map[string]any{
			"rows":     results,
			"rowCount": len(results),
			"fields":   fields,
		}

		if shapeExpr, _ := params["shape"].(string); shapeExpr != "" {
			shaped, err := shapeRows(shapeExpr, results)
			if err != nil {
				return nil, apperr.NewExecutionError("nodes.database.query: shape: %s", err)
			}
			out["shaped"] = shaped
		}

		return out, nil
	}
}

// shapeRows applies a JSONPath expression across the query's decoded rows,
// letting a flow extract or reshape a subset of columns (e.g. "$[*].id")
// without a downstream transform node.
func shapeRows(expr string, rows []map[string]any) (any, error) {
	generic := make([]any, len(rows))
	for i, row := range rows {
		generic[i] = row
	}
	return jsonpath.Get(expr, generic)
}

func normalizeDBValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func databaseQuerySchema() bus.Schema {
	return bus.Schema{
		Name:        "nodes.database.query",
		Version:     bus.DefaultVersion,
		Description: "Runs a parameterized SQL query and returns rows, rowCount, and fields.",
		Params: []bus.ParamSpec{
			{Name: "connectionString", Type: bus.ParamString},
			{Name: "query", Type: bus.ParamString, Required: true},
			{Name: "params", Type: bus.ParamArray},
			{Name: "shape", Type: bus.ParamString, Description: "Optional JSONPath expression applied over rows, e.g. \"$[*].id\"."},
		},
		Output: []bus.ParamSpec{
			{Name: "rows", Type: bus.ParamArray},
			{Name: "rowCount", Type: bus.ParamNumber},
			{Name: "fields", Type: bus.ParamArray},
			{Name: "shaped", Type: bus.ParamAny},
		},
	}
}
