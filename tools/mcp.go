package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// MCPTool wraps an MCP tool to implement the Tool interface
type MCPTool struct {
	session *mcp.ClientSession
	tool    *mcp.Tool
	schema  *jsonschema.Schema
	Source  string // Server spec that provided this tool
}

// NewMCPTool creates a new MCP tool wrapper
func NewMCPTool(session *mcp.ClientSession, tool *mcp.Tool) *MCPTool {
	return &MCPTool{
		session: session,
		tool:    tool,
		schema:  convertMCPSchema(tool),
	}
}

// convertMCPSchema turns the server-provided input schema into a tool schema,
// falling back to an empty object schema when it cannot be read
func convertMCPSchema(tool *mcp.Tool) *jsonschema.Schema {
	var schema *jsonschema.Schema

	if tool.InputSchema != nil {
		if data, err := json.Marshal(tool.InputSchema); err == nil {
			var s jsonschema.Schema
			if err := json.Unmarshal(data, &s); err == nil {
				schema = &s
			}
		}
	}
	if schema == nil {
		schema = &jsonschema.Schema{Type: "object"}
	}

	// the tool name is the identity, whatever title the server chose
	schema.Title = tool.Name
	if schema.Description == "" {
		schema.Description = tool.Description
	}
	return schema
}

// GetSchema returns the tool's schema
func (m *MCPTool) GetSchema() *jsonschema.Schema {
	return m.schema
}

// Execute runs the MCP tool with the given arguments
func (m *MCPTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	zap.S().Debugw("mcp_tool_call", "tool", m.tool.Name, "args", args)

	// some servers expect an empty object rather than null
	if args == nil {
		args = make(map[string]any)
	}
	delete(args, NoArgsPlaceholder)

	result, err := m.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      m.tool.Name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("MCP tool execution failed: %w", err)
	}

	if result.IsError {
		if len(result.Content) > 0 {
			return "", fmt.Errorf("tool returned error: %s", contentText(result.Content))
		}
		return "", fmt.Errorf("tool returned error without content")
	}

	if len(result.Content) == 0 {
		return "", nil
	}
	return contentText(result.Content), nil
}

// contentText prefers plain text parts and falls back to JSON for anything else
func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if text, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
			continue
		}
		data, err := json.Marshal(c)
		if err != nil {
			continue
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, "\n")
}

// MCPConfig represents the JSON configuration for an MCP server
type MCPConfig struct {
	// Local/stdio transport fields
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// Remote transport fields
	URL       string            `json:"url,omitempty"`
	Transport string            `json:"transport,omitempty"` // "stdio" | "sse" | "streamable"
	Headers   map[string]string `json:"headers,omitempty"`
	Timeout   string            `json:"timeout,omitempty"` // e.g. "30s"
}

// MCPServersConfig is the {"mcpServers": {...}} file format
type MCPServersConfig struct {
	MCPServers map[string]MCPConfig `json:"mcpServers"`
}

// ParseServerSpec splits "path/to/config.json#servername" into its parts
func ParseServerSpec(spec string) (jsonFile string, serverName string) {
	if idx := strings.LastIndex(spec, "#"); idx != -1 {
		if strings.HasSuffix(spec[:idx], ".json") {
			return spec[:idx], spec[idx+1:]
		}
	}
	return spec, ""
}

// LoadMCPConfigFile parses a config file and returns server configs
func LoadMCPConfigFile(jsonFile string) (map[string]MCPConfig, error) {
	data, err := os.ReadFile(jsonFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read MCP config file %s: %w", jsonFile, err)
	}

	var multiConfig MCPServersConfig
	if err := json.Unmarshal(data, &multiConfig); err != nil {
		return nil, fmt.Errorf("failed to parse MCP config: %w", err)
	}

	if len(multiConfig.MCPServers) == 0 {
		return nil, fmt.Errorf("no servers defined in mcpServers (use format: {\"mcpServers\": {\"name\": {...}}})")
	}

	return multiConfig.MCPServers, nil
}

func serverNames(configs map[string]MCPConfig) []string {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// headerRoundTripper wraps an http.RoundTripper to inject custom headers
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.base.RoundTrip(req)
}

func httpClientWithTimeout(headers map[string]string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &headerRoundTripper{
			base:    http.DefaultTransport,
			headers: headers,
		},
	}
}

// MCPClient manages connection to an MCP server
type MCPClient struct {
	session    *mcp.ClientSession
	serverSpec string
}

// NewMCPClient connects to the server described by serverSpec:
// "path/to/config.json" or "path/to/config.json#servername"
func NewMCPClient(ctx context.Context, serverSpec string) (*MCPClient, error) {
	jsonFile, serverName := ParseServerSpec(serverSpec)

	if !strings.HasSuffix(jsonFile, ".json") {
		return nil, fmt.Errorf("MCP servers must be defined in JSON files (got %s)", jsonFile)
	}

	configs, err := LoadMCPConfigFile(jsonFile)
	if err != nil {
		return nil, err
	}

	var config MCPConfig
	switch {
	case serverName != "":
		cfg, ok := configs[serverName]
		if !ok {
			return nil, fmt.Errorf("server %q not found in config (available: %v)", serverName, serverNames(configs))
		}
		config = cfg
	case len(configs) == 1:
		for name, cfg := range configs {
			config = cfg
			serverName = name
		}
	default:
		return nil, fmt.Errorf("config has multiple servers, specify one: %s#<servername> (available: %v)", jsonFile, serverNames(configs))
	}

	zap.S().Infow("mcp_config_loaded", "file", jsonFile, "server", serverName)
	client, err := NewMCPClientFromConfig(ctx, &config)
	if err != nil {
		return nil, err
	}
	client.serverSpec = serverSpec
	return client, nil
}

// NewMCPClientFromConfig creates a new MCP client from a JSON configuration
func NewMCPClientFromConfig(ctx context.Context, config *MCPConfig) (*MCPClient, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "pollyquery",
		Version: "1.0.0",
	}, nil)

	// default 30s for remote transports
	timeout := 30 * time.Second
	if config.Timeout != "" {
		if t, err := time.ParseDuration(config.Timeout); err == nil {
			timeout = t
		}
	}

	var transport mcp.Transport

	switch config.Transport {
	case "sse":
		if config.URL == "" {
			return nil, fmt.Errorf("SSE transport requires a URL")
		}
		zap.S().Infow("mcp_connecting", "transport", "sse", "url", config.URL)
		transport = &mcp.SSEClientTransport{
			Endpoint:   config.URL,
			HTTPClient: httpClientWithTimeout(config.Headers, timeout),
		}

	case "streamable":
		if config.URL == "" {
			return nil, fmt.Errorf("streamable transport requires a URL")
		}
		zap.S().Infow("mcp_connecting", "transport", "streamable", "url", config.URL)
		transport = &mcp.StreamableClientTransport{
			Endpoint:   config.URL,
			HTTPClient: httpClientWithTimeout(config.Headers, timeout),
		}

	case "stdio", "":
		if config.Command == "" {
			return nil, fmt.Errorf("stdio transport requires a command")
		}

		cmd := exec.Command(config.Command, config.Args...)
		if len(config.Env) > 0 {
			cmd.Env = os.Environ()
			for key, value := range config.Env {
				cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
			}
		}
		cmd.Stderr = os.Stderr

		zap.S().Infow("mcp_connecting", "transport", "stdio", "command", config.Command, "args", config.Args)
		transport = &mcp.CommandTransport{Command: cmd}

	default:
		return nil, fmt.Errorf("unknown transport type: %s (supported: stdio, sse, streamable)", config.Transport)
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server: %w", err)
	}

	return &MCPClient{session: session}, nil
}

// ListTools returns all tools available from the MCP server
func (c *MCPClient) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("error listing tools: %w", err)
		}
		if tool == nil {
			continue
		}
		zap.S().Debugw("mcp_tool_loaded", "tool", tool.Name, "server", c.serverSpec)
		mcpTool := NewMCPTool(c.session, tool)
		mcpTool.Source = c.serverSpec
		tools = append(tools, mcpTool)
	}
	return tools, nil
}

// Close closes the MCP client connection
func (c *MCPClient) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

// LoadMCPTools connects to every server spec and registers their tools.
// It returns the clients so the caller can close them.
func LoadMCPTools(ctx context.Context, registry *ToolRegistry, specs []string) ([]*MCPClient, error) {
	var clients []*MCPClient
	for _, spec := range specs {
		client, err := NewMCPClient(ctx, spec)
		if err != nil {
			closeAll(clients)
			return nil, fmt.Errorf("mcp %s: %w", spec, err)
		}
		clients = append(clients, client)

		tools, err := client.ListTools(ctx)
		if err != nil {
			closeAll(clients)
			return nil, fmt.Errorf("mcp %s: %w", spec, err)
		}
		for _, tool := range tools {
			registry.Register(tool)
		}
	}
	return clients, nil
}

func closeAll(clients []*MCPClient) {
	for _, c := range clients {
		c.Close()
	}
}
