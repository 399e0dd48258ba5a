package datastore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	_, err = store.Exec(ctx, `CREATE TABLE orders (id INTEGER PRIMARY KEY, region TEXT, amount REAL, paid BOOLEAN, note TEXT)`)
	require.NoError(t, err)
	_, err = store.Exec(ctx, `CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	for _, row := range [][]any{
		{1, "east", 10.5, true, nil},
		{2, "west", 20.0, false, "late"},
		{3, "east", 4.25, true, nil},
		{4, "north", 1.0, false, nil},
	} {
		_, err = store.Exec(ctx, `INSERT INTO orders (id, region, amount, paid, note) VALUES (?, ?, ?, ?, ?)`, row...)
		require.NoError(t, err)
	}
	return store
}

func TestListTables(t *testing.T) {
	store := setupTestStore(t)
	tables, err := store.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, tables)
}

func TestQueryNormalizesCells(t *testing.T) {
	store := setupTestStore(t)

	res, err := store.Query(context.Background(), `SELECT id, region, amount, note FROM orders WHERE id <= 2 ORDER BY id`)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "region", "amount", "note"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []any{json.Number("1"), "east", json.Number("10.5"), nil}, res.Rows[0])
	assert.Equal(t, []any{json.Number("2"), "west", json.Number("20"), "late"}, res.Rows[1])
}

func TestQueryEmptyResultKeepsColumns(t *testing.T) {
	store := setupTestStore(t)
	res, err := store.Query(context.Background(), `SELECT region FROM orders WHERE amount > 1000`)
	require.NoError(t, err)
	assert.Equal(t, []string{"region"}, res.Columns)
	assert.Empty(t, res.Rows)
}

func TestQueryError(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.Query(context.Background(), `SELECT * FROM missing`)
	assert.Error(t, err)
}

func TestDescribeTables(t *testing.T) {
	store := setupTestStore(t)

	out, err := store.DescribeTables(context.Background(), []string{"orders", " customers "})
	require.NoError(t, err)

	assert.Contains(t, out, "CREATE TABLE orders")
	assert.Contains(t, out, "3 rows from orders table")
	assert.Contains(t, out, "CREATE TABLE customers")
	assert.Contains(t, out, "0 rows from customers table")
	assert.Less(t, strings.Index(out, "orders"), strings.Index(out, "customers"))

	_, err = store.DescribeTables(context.Background(), []string{"nope"})
	assert.ErrorIs(t, err, ErrNoSuchTable)
}

func TestOpenReadOnlyRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.db")
	rw, err := Open(path)
	require.NoError(t, err)
	_, err = rw.Exec(context.Background(), `CREATE TABLE t (x INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()
	assert.True(t, ro.ReadOnly())

	_, err = ro.Exec(context.Background(), `INSERT INTO t VALUES (1)`)
	assert.Error(t, err)

	tables, err := ro.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, tables)
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{"x", "x"},
		{json.Number("1.5"), "1.5"},
		{true, "true"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatCell(tt.in))
	}
}

func TestCountRowsAndPreview(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	n, err := store.CountRows(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	preview, err := store.Preview(ctx, "orders", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "region", "amount", "paid", "note"}, preview.Columns)
	assert.Len(t, preview.Rows, 2)

	_, err = store.CountRows(ctx, "ghosts")
	assert.ErrorIs(t, err, ErrNoSuchTable)
	_, err = store.Preview(ctx, `orders"; DROP TABLE orders; --`, 1)
	assert.ErrorIs(t, err, ErrNoSuchTable)
}
