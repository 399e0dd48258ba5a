package server

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/alexschlessinger/pollyquery/datastore"
	"github.com/alexschlessinger/pollyquery/events"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const previewRows = 5

var tableName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// AskRequest is the body of POST /ask-data-agent-streaming
type AskRequest struct {
	Question string `json:"question"`
}

// ErrorResponse is the body of every non-streaming failure
type ErrorResponse struct {
	Error string `json:"error"`
}

// TableInfo is one entry of GET /list-tables
type TableInfo struct {
	Name     string `json:"name"`
	RowCount int64  `json:"row_count"`
}

// Health handles GET /
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "Backend is running"})
}

// AskStreaming handles POST /ask-data-agent-streaming. Validation failures
// are plain JSON; once the stream starts every outcome is reported in-band.
func (s *Server) AskStreaming(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "question is required"})
	}

	requestID := c.Response().Header().Get(echo.HeaderXRequestID)

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	w := events.NewWriter(c.Response(), "request_id", requestID)
	run, err := s.orch.Stream(c.Request().Context(), question, w)
	if err != nil {
		zap.S().Warnw("stream_aborted", "request_id", requestID, "run_id", run.ID(), "error", err)
		return nil
	}
	zap.S().Debugw("stream_closed", "request_id", requestID, "run_id", run.ID(),
		"frames", w.Frames(), "dropped_steps", w.Dropped())
	return nil
}

// ListTables handles GET /list-tables
func (s *Server) ListTables(c echo.Context) error {
	ctx := c.Request().Context()
	names, err := s.tables.ListTables(ctx)
	if err != nil {
		zap.S().Errorw("list_tables_failed", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list tables: " + err.Error()})
	}

	tables := make([]TableInfo, 0, len(names))
	for _, name := range names {
		count, err := s.tables.CountRows(ctx, name)
		if err != nil {
			zap.S().Warnw("row_count_failed", "table", name, "error", err)
		}
		tables = append(tables, TableInfo{Name: name, RowCount: count})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tables":       tables,
		"total_tables": len(tables),
	})
}

// TablePreview handles GET /table-preview?table_name=...
func (s *Server) TablePreview(c echo.Context) error {
	name := c.QueryParam("table_name")
	if !tableName.MatchString(name) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid table name"})
	}

	ctx := c.Request().Context()
	preview, err := s.tables.Preview(ctx, name, previewRows)
	if errors.Is(err, datastore.ErrNoSuchTable) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to preview table: " + err.Error()})
	}

	count, err := s.tables.CountRows(ctx, name)
	if err != nil {
		zap.S().Warnw("row_count_failed", "table", name, "error", err)
	}

	rows := preview.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"table_name": name,
		"columns":    preview.Columns,
		"rows":       rows,
		"row_count":  count,
	})
}
