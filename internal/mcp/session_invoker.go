package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultConnectTimeout = 30 * time.Second

// SessionInvoker adapts a connected MCP client session to the ToolInvoker
// capability the gateway routes to.
type SessionInvoker struct {
	logger  *slog.Logger
	session *sdkmcp.ClientSession
	feed    *ChangeFeed
}

// NewSessionInvoker wraps an already-connected session. Tool-list change
// notifications are only delivered for sessions dialed through the Connect*
// constructors; a session connected elsewhere yields a feed that never fires.
func NewSessionInvoker(log *slog.Logger, session *sdkmcp.ClientSession) *SessionInvoker {
	if log == nil {
		log = slog.Default()
	}
	return &SessionInvoker{
		logger:  log.With(slog.String("invoker", "mcp_session")),
		session: session,
		feed:    NewChangeFeed(),
	}
}

// ConnectStreamable dials an MCP server over the Streamable HTTP transport.
func ConnectStreamable(ctx context.Context, log *slog.Logger, endpoint string, headers map[string]string) (*SessionInvoker, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("streamable mcp url is required")
	}
	inv := newDisconnectedInvoker(log)
	transport := &sdkmcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: headerHTTPClient(headers),
		MaxRetries: -1,
	}
	session, err := inv.dial(ctx, transport)
	if err != nil {
		return nil, fmt.Errorf("connect streamable mcp: %w", err)
	}
	inv.session = session
	return inv, nil
}

// ConnectSSE dials an MCP server over the legacy SSE transport, trying each
// endpoint candidate derived from the configured URL in turn.
func ConnectSSE(ctx context.Context, log *slog.Logger, endpoint string, headers map[string]string) (*SessionInvoker, error) {
	candidates := sseEndpointCandidates(endpoint)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("sse mcp url is required")
	}
	inv := newDisconnectedInvoker(log)
	var lastErr error
	for _, candidate := range candidates {
		transport := &sdkmcp.SSEClientTransport{
			Endpoint:   candidate,
			HTTPClient: headerHTTPClient(headers),
		}
		session, err := inv.dial(ctx, transport)
		if err == nil {
			inv.session = session
			return inv, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("connect sse mcp: %w", lastErr)
}

// ConnectCommand launches command and speaks MCP over its stdio.
func ConnectCommand(ctx context.Context, log *slog.Logger, command string, args []string, env map[string]string) (*SessionInvoker, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("stdio mcp command is required")
	}
	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	for key, value := range env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	inv := newDisconnectedInvoker(log)
	session, err := inv.dial(ctx, &sdkmcp.CommandTransport{Command: cmd})
	if err != nil {
		return nil, fmt.Errorf("connect stdio mcp: %w", err)
	}
	inv.session = session
	return inv, nil
}

func newDisconnectedInvoker(log *slog.Logger) *SessionInvoker {
	if log == nil {
		log = slog.Default()
	}
	return &SessionInvoker{
		logger: log.With(slog.String("invoker", "mcp_session")),
		feed:   NewChangeFeed(),
	}
}

func (s *SessionInvoker) dial(ctx context.Context, transport sdkmcp.Transport) (*sdkmcp.ClientSession, error) {
	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "mcpmux",
		Version: "v1",
	}, &sdkmcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *sdkmcp.ToolListChangedRequest) {
			s.feed.Notify()
		},
	})
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}
	return client.Connect(ctx, transport, nil)
}

func (s *SessionInvoker) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if s.session == nil {
		return nil, fmt.Errorf("mcp session not connected")
	}
	tools := []ToolDescriptor{}
	cursor := ""
	for {
		res, err := s.session.ListTools(ctx, &sdkmcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		tools = append(tools, convertSDKTools(res.Tools)...)
		cursor = res.NextCursor
		if cursor == "" {
			return tools, nil
		}
	}
}

func (s *SessionInvoker) CallTool(ctx context.Context, name string, arguments map[string]any) (map[string]any, error) {
	if s.session == nil {
		return nil, fmt.Errorf("mcp session not connected")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	result, err := s.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return map[string]any{}, nil
	}
	if result.IsError {
		return nil, errors.New(toolErrorText(result))
	}
	return callResultToMap(result)
}

func (s *SessionInvoker) OnToolsChanged(fn func()) (cancel func()) {
	return s.feed.Subscribe(fn)
}

// Close tears down the underlying session.
func (s *SessionInvoker) Close() error {
	if s.session == nil {
		return nil
	}
	return s.session.Close()
}

func convertSDKTools(items []*sdkmcp.Tool) []ToolDescriptor {
	if len(items) == 0 {
		return []ToolDescriptor{}
	}
	tools := make([]ToolDescriptor, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		tools = append(tools, ToolDescriptor{
			Name:        name,
			Description: strings.TrimSpace(item.Description),
			InputSchema: normalizeInputSchema(item.InputSchema),
		})
	}
	return tools
}

func normalizeInputSchema(raw any) map[string]any {
	if schema, ok := raw.(map[string]any); ok && schema != nil {
		return schema
	}
	if raw != nil {
		payload, err := json.Marshal(raw)
		if err == nil {
			var schema map[string]any
			if err := json.Unmarshal(payload, &schema); err == nil && schema != nil {
				return schema
			}
		}
	}
	return DefaultInputSchema()
}

func callResultToMap(result *sdkmcp.CallToolResult) (map[string]any, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var parsed map[string]any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, err
	}
	if parsed == nil {
		parsed = map[string]any{}
	}
	return parsed, nil
}

func toolErrorText(result *sdkmcp.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(*sdkmcp.TextContent); ok && strings.TrimSpace(text.Text) != "" {
			return strings.TrimSpace(text.Text)
		}
	}
	return "tool execution failed"
}

func sseEndpointCandidates(endpoint string) []string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return []string{}
	}
	seen := map[string]struct{}{endpoint: {}}
	out := []string{endpoint}
	normalized := strings.TrimSuffix(endpoint, "/")
	if strings.HasSuffix(normalized, "/message") {
		candidate := strings.TrimSuffix(normalized, "/message") + "/sse"
		if _, ok := seen[candidate]; !ok {
			out = append(out, candidate)
		}
	}
	return out
}

func headerHTTPClient(headers map[string]string) *http.Client {
	client := &http.Client{Timeout: 0}
	if len(headers) == 0 {
		return client
	}
	client.Transport = &staticHeaderRoundTripper{
		next:    http.DefaultTransport,
		headers: headers,
	}
	return client
}

type staticHeaderRoundTripper struct {
	next    http.RoundTripper
	headers map[string]string
}

func (t *staticHeaderRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	clone.Header = req.Header.Clone()
	for key, value := range t.headers {
		headerKey := strings.TrimSpace(key)
		headerVal := strings.TrimSpace(value)
		if headerKey == "" || headerVal == "" {
			continue
		}
		clone.Header.Set(headerKey, headerVal)
	}
	return next.RoundTrip(clone)
}
