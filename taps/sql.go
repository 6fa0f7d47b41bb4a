package taps

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/zoobzio/conflux"
)

// SQL is a tap over a database table. Reads run a query; writes insert
// into the table inside one transaction.
type SQL struct {
	id     string
	db     *sql.DB
	table  string
	query  string
	create bool
}

// SQLOption configures a SQL tap.
type SQLOption func(*SQL)

// WithQuery sets the query used by Read. Defaults to selecting every
// column of the table.
func WithQuery(q string) SQLOption {
	return func(s *SQL) { s.query = q }
}

// WithCreateTable creates the table on write when it is missing, with one
// untyped column per field. Suited to SQLite.
func WithCreateTable() SQLOption {
	return func(s *SQL) { s.create = true }
}

// NewSQL creates a SQL tap for table.
func NewSQL(id string, db *sql.DB, table string, opts ...SQLOption) *SQL {
	s := &SQL{id: id, db: db, table: table}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the tap identifier.
func (s *SQL) ID() string { return s.id }

// Read returns every row of the query, columns in select order.
func (s *SQL) Read(ctx context.Context) ([]conflux.Tuple, error) {
	query := s.query
	if query == "" {
		query = "SELECT * FROM " + quoteIdent(s.table)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", s.table, err)
	}

	var out []conflux.Tuple
	for rows.Next() {
		row := make(conflux.Tuple, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		for i, v := range row {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows %s: %w", s.table, err)
	}
	return out, nil
}

// Write inserts the records, one column per schema field.
func (s *SQL) Write(ctx context.Context, schema conflux.Schema, rows []conflux.Tuple) error {
	names := schema.Names()
	cols := make([]string, len(names))
	marks := make([]string, len(names))
	for i, n := range names {
		cols[i] = quoteIdent(n)
		marks[i] = "?"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if s.create {
		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(s.table), strings.Join(cols, ", "))
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", s.table, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(s.table), strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", s.table, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, []any(row)...); err != nil {
			return fmt.Errorf("insert %s record %d: %w", s.table, i, err)
		}
	}
	return tx.Commit()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
