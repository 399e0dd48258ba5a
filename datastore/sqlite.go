// Package datastore is the SQL data source the agent's tools query.
package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNoSuchTable is returned when a requested table does not exist
var ErrNoSuchTable = errors.New("no such table")

const sampleRows = 3

// Result is a tabular query result with JSON-native cells
type Result struct {
	Columns []string
	Rows    [][]any
}

// Store wraps a SQLite database
type Store struct {
	db       *sql.DB
	readOnly bool
}

// Open opens (creating if needed) the database at dsn
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing database file without write access
func OpenReadOnly(path string) (*Store, error) {
	s, err := Open("file:" + path + "?mode=ro")
	if err != nil {
		return nil, err
	}
	s.readOnly = true
	return s, nil
}

// ReadOnly reports whether the store was opened read-only
func (s *Store) ReadOnly() bool { return s.readOnly }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ListTables returns user table names in alphabetical order
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DescribeTables returns the CREATE statement of each table followed by a
// few sample rows, in the order requested.
func (s *Store) DescribeTables(ctx context.Context, tables []string) (string, error) {
	var b strings.Builder
	for i, table := range tables {
		table = strings.TrimSpace(table)
		if table == "" {
			continue
		}

		var ddl string
		err := s.db.QueryRowContext(ctx,
			`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&ddl)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrNoSuchTable, table)
		}
		if err != nil {
			return "", fmt.Errorf("describe %s: %w", table, err)
		}

		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(ddl)

		sample, err := s.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), sampleRows))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\n\n/*\n%d rows from %s table:\n", len(sample.Rows), table)
		b.WriteString(strings.Join(sample.Columns, "\t"))
		for _, row := range sample.Rows {
			b.WriteByte('\n')
			cells := make([]string, len(row))
			for j, cell := range row {
				cells[j] = FormatCell(cell)
			}
			b.WriteString(strings.Join(cells, "\t"))
		}
		b.WriteString("\n*/")
	}
	return b.String(), nil
}

// TableExists reports whether table is a user table
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", table, err)
	}
	return n > 0, nil
}

// CountRows returns the number of rows in table
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	if ok, err := s.TableExists(ctx, table); err != nil {
		return 0, err
	} else if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoSuchTable, table)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Preview returns the first limit rows of table
func (s *Store) Preview(ctx context.Context, table string, limit int) (*Result, error) {
	if ok, err := s.TableExists(ctx, table); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, table)
	}
	return s.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), limit))
}

// Query runs a statement that returns rows
func (s *Store) Query(ctx context.Context, query string) (*Result, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return result, nil
}

// Exec runs a statement that does not return rows
func (s *Store) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// normalize converts a driver value to a JSON-native cell
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case int64:
		return json.Number(strconv.FormatInt(x, 10))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return json.Number(strconv.FormatFloat(x, 'f', -1, 64))
	case bool, string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// FormatCell renders a normalized cell as plain text
func FormatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(v)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
