// Package agent is the concrete reasoner behind the streaming endpoint: it
// routes a question, answers general questions directly and runs a SQL tool
// loop for data questions, recording its reasoning as it goes.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexschlessinger/pollyquery/datastore"
	"github.com/alexschlessinger/pollyquery/llm"
	"github.com/alexschlessinger/pollyquery/messages"
	"github.com/alexschlessinger/pollyquery/orchestrator"
	"github.com/alexschlessinger/pollyquery/steps"
	"github.com/alexschlessinger/pollyquery/tools"
	"go.uber.org/zap"
)

const (
	defaultMaxIterations = 10
	defaultToolTimeout   = 30 * time.Second
	defaultQueryTimeout  = 30 * time.Second
)

// Querier re-runs the captured SQL to get rows and columns
type Querier interface {
	Query(ctx context.Context, query string) (*datastore.Result, error)
}

// Config configures the data agent
type Config struct {
	Request          llm.CompletionRequest // Model, sampling and connection settings
	Route            bool                  // Classify questions; false always takes the data path
	Dialect          string                // SQL dialect named in the prompt (default: SQLite)
	TopK             int                   // Default row limit suggested to the model (default: 10)
	MaxIterations    int                   // Agent loop bound (default: 10)
	ToolTimeout      time.Duration         // Per-tool timeout (default: 30s)
	QueryTimeout     time.Duration         // Re-execution timeout (default: 30s)
	MaxParallelTools int                   // default: 1, keeping action/observation pairs adjacent
	Guard            llm.ToolGuard
}

func (c *Config) applyDefaults() {
	if c.Dialect == "" {
		c.Dialect = "SQLite"
	}
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = defaultToolTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	if c.MaxParallelTools <= 0 {
		c.MaxParallelTools = 1
	}
}

// DataAgent implements orchestrator.Reasoner
type DataAgent struct {
	client   llm.LLM
	registry *tools.ToolRegistry
	db       Querier
	router   *Router
	cfg      Config
}

var _ orchestrator.Reasoner = (*DataAgent)(nil)

// New creates a data agent. registry holds the tools the loop may call and
// db re-executes the SQL it settles on.
func New(client llm.LLM, registry *tools.ToolRegistry, db Querier, cfg Config) *DataAgent {
	cfg.applyDefaults()
	cfg.Request.Tools = nil
	return &DataAgent{
		client:   client,
		registry: registry,
		db:       db,
		router:   NewRouter(client, cfg.Request),
		cfg:      cfg,
	}
}

// Reason answers one question, recording steps and tokens into sink
func (a *DataAgent) Reason(ctx context.Context, question string, sink steps.Sink) (*orchestrator.Outcome, error) {
	route := RouteData
	if a.cfg.Route {
		route = a.router.Classify(ctx, question)
	}
	zap.S().Infow("question_routed", "route", route)

	if route == RouteGeneral {
		return a.general(ctx, question, sink)
	}
	return a.data(ctx, question, sink)
}

// general streams a direct answer
func (a *DataAgent) general(ctx context.Context, question string, sink steps.Sink) (*orchestrator.Outcome, error) {
	req := llm.NewCompletionBuilder("").From(a.cfg.Request).WithUserMessage(question).Build()
	text, err := llm.Complete(ctx, a.client, req, sink.Token)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	return &orchestrator.Outcome{Summary: text}, nil
}

// data runs the SQL tool loop, re-executes the captured query and
// summarizes its rows
func (a *DataAgent) data(ctx context.Context, question string, sink steps.Sink) (*orchestrator.Outcome, error) {
	req := a.cfg.Request
	req.Messages = []messages.ChatMessage{
		messages.System(buildSQLAgentPrompt(a.cfg.Dialect, a.cfg.TopK)),
		messages.User(question),
	}

	loop := llm.NewAgent(a.client, a.registry, llm.AgentConfig{
		MaxIterations:    a.cfg.MaxIterations,
		ToolTimeout:      a.cfg.ToolTimeout,
		MaxParallelTools: a.cfg.MaxParallelTools,
		Guard:            a.cfg.Guard,
	})

	trace := newTracer(sink)
	resp, err := loop.Run(ctx, &req, trace.callbacks())
	if errors.Is(err, llm.ErrMaxIterations) {
		return nil, fmt.Errorf("%w: %w", orchestrator.ErrNoAnswer, err)
	}
	if err != nil {
		return nil, fmt.Errorf("sql agent: %w", err)
	}

	answer := strings.TrimSpace(resp.Message.Content)
	query := trace.query()
	zap.S().Infow("sql_agent_finished", "iterations", resp.IterationCount, "captured_sql", query != nil)

	if query == nil {
		if answer == "" || dontKnow(answer) {
			return nil, orchestrator.ErrNoAnswer
		}
		return &orchestrator.Outcome{Answer: answer, Summary: answer}, nil
	}

	result := a.rerun(ctx, *query)
	if len(result.Rows) == 0 {
		// whatever the model claimed, the query found nothing
		return &orchestrator.Outcome{
			Answer:         NoDataMessage,
			Summary:        NoDataMessage,
			GeneratedQuery: query,
			Columns:        result.Columns,
		}, nil
	}

	return &orchestrator.Outcome{
		Answer:         answer,
		Summary:        a.summarize(ctx, question, *query, result, sink),
		GeneratedQuery: query,
		Rows:           result.Rows,
		Columns:        result.Columns,
	}, nil
}

// rerun executes query for its rows; failures yield an empty result
func (a *DataAgent) rerun(ctx context.Context, query string) *datastore.Result {
	if a.db == nil {
		return &datastore.Result{}
	}
	ctx, cancel := withTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()

	result, err := a.db.Query(ctx, query)
	if err != nil {
		zap.S().Errorw("sql_execution_failed", "query", query, "error", err)
		return &datastore.Result{}
	}
	zap.S().Debugw("sql_executed", "columns", result.Columns, "rows", len(result.Rows))
	return result
}

// summarize streams a conversational summary of the result table
func (a *DataAgent) summarize(ctx context.Context, question, query string, result *datastore.Result, sink steps.Sink) string {
	table := MarkdownTable(result.Rows, result.Columns)
	zap.S().Debugw("summary_table", "table", table)

	req := llm.NewCompletionBuilder("").
		From(a.cfg.Request).
		WithUserMessage(buildSummaryPrompt(question, query, table)).
		Build()

	summary, err := llm.Complete(ctx, a.client, req, sink.Token)
	if err != nil || strings.TrimSpace(summary) == "" {
		zap.S().Errorw("summary_failed", "error", err)
		return SummaryFailedMessage
	}
	return summary
}

func dontKnow(answer string) bool {
	lower := strings.ToLower(answer)
	return strings.Contains(lower, "i don't know") || strings.Contains(lower, "i do not know")
}
