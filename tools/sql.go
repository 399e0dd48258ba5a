package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alexschlessinger/pollyquery/datastore"
	"github.com/google/jsonschema-go/jsonschema"
)

// Tool names the agent prompt refers to
const (
	ListTablesToolName = "sql_db_list_tables"
	SchemaToolName     = "sql_db_schema"
	QueryToolName      = "sql_db_query"
)

// maxObservation caps how much query output is handed back to the model
const maxObservation = 4000

// SQLDatabase is the part of the data store the SQL tools need
type SQLDatabase interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTables(ctx context.Context, tables []string) (string, error)
	Query(ctx context.Context, query string) (*datastore.Result, error)
}

// NewSQLTools returns the list-tables, schema and query tools over db
func NewSQLTools(db SQLDatabase) []Tool {
	return []Tool{
		&ListTablesTool{db: db},
		NewSchemaTool(db),
		NewQueryTool(db),
	}
}

// ListTablesTool lists the tables in the database
type ListTablesTool struct {
	db SQLDatabase
}

func (t *ListTablesTool) GetSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Title:       ListTablesToolName,
		Description: "Output is a comma-separated list of tables in the database. Takes no input.",
		Type:        "object",
	}
}

func (t *ListTablesTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	tables, err := t.db.ListTables(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join(tables, ", "), nil
}

// SchemaArgs are the arguments of sql_db_schema
type SchemaArgs struct {
	TableNames string `json:"table_names" jsonschema_description:"Comma-separated list of tables, for example: orders, customers"`
}

// SchemaTool describes tables with their CREATE statements and sample rows
type SchemaTool struct {
	db     SQLDatabase
	schema *jsonschema.Schema
}

// NewSchemaTool creates the sql_db_schema tool
func NewSchemaTool(db SQLDatabase) *SchemaTool {
	return &SchemaTool{
		db: db,
		schema: ReflectSchema(SchemaToolName,
			"Input is a comma-separated list of tables, output is the schema and sample rows for those tables. "+
				"Be sure that the tables actually exist by calling "+ListTablesToolName+" first!",
			&SchemaArgs{}),
	}
}

func (t *SchemaTool) GetSchema() *jsonschema.Schema { return t.schema }

func (t *SchemaTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var in SchemaArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}

	var tables []string
	for _, name := range strings.Split(in.TableNames, ",") {
		if name = strings.TrimSpace(name); name != "" {
			tables = append(tables, name)
		}
	}
	if len(tables) == 0 {
		return "", fmt.Errorf("table_names is empty")
	}
	return t.db.DescribeTables(ctx, tables)
}

// QueryArgs are the arguments of sql_db_query
type QueryArgs struct {
	Query string `json:"query" jsonschema_description:"A detailed and correct SQL query"`
}

// QueryTool executes a SQL query and returns the rows as text
type QueryTool struct {
	db     SQLDatabase
	schema *jsonschema.Schema
}

// NewQueryTool creates the sql_db_query tool
func NewQueryTool(db SQLDatabase) *QueryTool {
	return &QueryTool{
		db: db,
		schema: ReflectSchema(QueryToolName,
			"Input to this tool is a detailed and correct SQL query, output is a result from the database. "+
				"If the query is not correct, an error message will be returned. "+
				"If an error is returned, rewrite the query, check the query, and try again.",
			&QueryArgs{}),
	}
}

func (t *QueryTool) GetSchema() *jsonschema.Schema { return t.schema }

func (t *QueryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var in QueryArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("query is empty")
	}

	res, err := t.db.Query(ctx, in.Query)
	if err != nil {
		return "", err
	}
	return FormatRows(res.Rows, maxObservation), nil
}

// FormatRows renders rows as a list of tuples, e.g. [('east', 10.5), ('west', 20)].
// Output longer than limit is truncated; an empty result renders as "".
func FormatRows(rows [][]any, limit int) string {
	if len(rows) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteByte('[')
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, cell := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(formatLiteral(cell))
		}
		if len(row) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')

		if limit > 0 && b.Len() > limit {
			return b.String()[:limit] + "... (truncated)"
		}
	}
	b.WriteByte(']')
	return b.String()
}

func formatLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "\\'") + "'"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
