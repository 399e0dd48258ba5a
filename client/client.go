// Package client talks to a running query server and folds its event
// stream into a conversation message.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alexschlessinger/pollyquery/events"
	"github.com/alexschlessinger/pollyquery/reconciler"
	"github.com/alexschlessinger/pollyquery/server"
	"go.uber.org/zap"
)

// DefaultBaseURL is where a local server listens
const DefaultBaseURL = "http://localhost:8000"

// Client is an HTTP client for the query server
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client. A nil httpClient uses one without an overall
// timeout, since answer streams can run for a long time.
func New(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Ask posts question and streams the answer into rec until a terminal
// event arrives or the body ends
func (c *Client) Ask(ctx context.Context, question string, rec *reconciler.Reconciler) error {
	body, err := json.Marshal(server.AskRequest{Question: question})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask-data-agent-streaming", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		rec.Apply(events.ErrorEvent("could not reach the server: " + err.Error()))
		return fmt.Errorf("ask: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := statusError(resp)
		rec.Apply(events.ErrorEvent(err.Error()))
		return err
	}

	zap.S().Debugw("stream_opened", "request_id", resp.Header.Get("X-Request-Id"))
	err = rec.Consume(ctx, resp.Body)
	zap.S().Debugw("stream_finished", "elapsed", time.Since(started), "skipped_frames", rec.Skipped(), "error", err)
	return err
}

// Tables returns the table catalog
func (c *Client) Tables(ctx context.Context) ([]server.TableInfo, error) {
	var out struct {
		Tables []server.TableInfo `json:"tables"`
	}
	if err := c.getJSON(ctx, "/list-tables", &out); err != nil {
		return nil, err
	}
	return out.Tables, nil
}

// Preview is the body of GET /table-preview
type Preview struct {
	TableName string   `json:"table_name"`
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int64    `json:"row_count"`
}

// Preview returns the first rows of a table
func (c *Client) Preview(ctx context.Context, table string) (*Preview, error) {
	var out Preview
	if err := c.getJSON(ctx, "/table-preview?table_name="+url.QueryEscape(table), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks that the server is up
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.getJSON(ctx, "/", &out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(out)
}

// StatusError is a non-200 response from the server
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body server.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}
