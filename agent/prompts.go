package agent

import (
	"fmt"
	"strings"

	"github.com/alexschlessinger/pollyquery/datastore"
	"github.com/alexschlessinger/pollyquery/tools"
)

const routerPrompt = `You are a helpful assistant that classifies user questions as either 'data' or 'general'.

- Return 'data' if the question relates to database queries, structured information, SQL, or involves retrieving, summarizing, or comparing stored numerical/textual data.
- Return 'general' if the question is conversational, philosophical, hypothetical, or not related to structured data retrieval.

Only return one of the two values: 'data' or 'general'. No explanations.`

const sqlAgentPrompt = `You are an agent designed to interact with a SQL database.
Given an input question, create a syntactically correct %[1]s query to run, then look at the results of the query and return the answer.
Unless the user specifies a specific number of examples they wish to obtain, always limit your query to at most %[2]d results.
You can order the results by a relevant column to return the most interesting examples in the database.
Never query for all the columns from a specific table, only ask for the relevant columns given the question.
Only use the tools below and only the information they return to construct your final answer.
You MUST double check your query before executing it. If you get an error while executing a query, rewrite the query and try again.

DO NOT make any DML statements (INSERT, UPDATE, DELETE, DROP etc.) to the database.

Start by calling %[3]s to see what tables you can query, then call %[4]s for the most relevant tables, then run your query with %[5]s.
If the question does not seem related to the database, just return "I don't know" as the answer.`

const summaryPrompt = `You are a helpful data assistant. Here is the result of the SQL query you generated.

User question: %s

SQL query: %s

SQL result:
%s

Please summarize the result clearly and conversationally for the user.`

// Fixed answers
const (
	SummaryFailedMessage = "Could not summarize the result."
	NoDataMessage        = "I couldn't find any data matching your query. The database doesn't contain the information you're looking for, or the date range/criteria you specified may be outside the available data."
)

const defaultTopK = 10

func buildSQLAgentPrompt(dialect string, topK int) string {
	return fmt.Sprintf(sqlAgentPrompt, dialect, topK,
		tools.ListTablesToolName, tools.SchemaToolName, tools.QueryToolName)
}

func buildSummaryPrompt(question, query, table string) string {
	return fmt.Sprintf(summaryPrompt, question, query, table)
}

// MarkdownTable renders rows as a markdown table. Missing column names
// become "Result N"; no rows renders as "No results.".
func MarkdownTable(rows [][]any, columns []string) string {
	if len(rows) == 0 {
		return "No results."
	}
	if len(columns) == 0 {
		for i := range rows[0] {
			columns = append(columns, fmt.Sprintf("Result %d", i+1))
		}
	}

	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, "| "+strings.Join(columns, " | ")+" |")

	sep := make([]string, len(columns))
	for i := range sep {
		sep[i] = "---"
	}
	lines = append(lines, "| "+strings.Join(sep, " | ")+" |")

	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = datastore.FormatCell(cell)
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
	}
	return strings.Join(lines, "\n")
}
