// ABOUTME: Outbound MCP client built on mcp-go with per-call sessions
// ABOUTME: CallTool, Ping and ListTools classify failures into error kinds

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
	"github.com/2389/mcp-gateway/internal/vault"
)

// Target is one resolved server to dispatch to.
type Target struct {
	ServerID    string
	URL         string
	ServerType  store.ServerType
	Headers     map[string]string
	Credentials *vault.Credentials // nil when the server uses no auth
}

// Result is the outcome of a tools/call.
type Result struct {
	Content           []Content `json:"content"`
	StructuredContent any       `json:"structuredContent,omitempty"`
	IsError           bool      `json:"isError,omitempty"`
}

// Content is one content block of a tool result.
type Content struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Data     string          `json:"data,omitempty"`
	MIMEType string          `json:"mimeType,omitempty"`
	URI      string          `json:"uri,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// Tool describes a tool advertised by a server.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Client dispatches to MCP servers. It is safe for concurrent use; every
// call opens its own session.
type Client struct {
	base    http.RoundTripper
	name    string
	version string
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Client)

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option { return func(c *Client) { c.base = rt } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithClientInfo sets the implementation name sent in initialize.
func WithClientInfo(name, version string) Option {
	return func(c *Client) { c.name, c.version = name, version }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		base:    http.DefaultTransport,
		name:    "mcp-gateway",
		version: "dev",
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "mcp-client")
	return c
}

// session opens and initializes a session. The caller must Close the client.
func (c *Client) session(ctx context.Context, t Target) (*client.Client, *statusRecorder, error) {
	rec := &statusRecorder{
		base: &credentialRoundTripper{base: c.base, creds: t.Credentials, headers: t.Headers},
		now:  c.now,
	}
	httpClient := &http.Client{Transport: rec}

	var (
		mc  *client.Client
		err error
	)
	switch t.ServerType {
	case store.ServerTypeHTTP, store.ServerTypeStdioProxy, "":
		mc, err = client.NewStreamableHttpClient(t.URL, transport.WithHTTPBasicClient(httpClient))
	case store.ServerTypeSSE:
		mc, err = client.NewSSEMCPClient(t.URL, transport.WithHTTPClient(httpClient))
	default:
		return nil, nil, errs.Validation("server type %q cannot be dispatched over HTTP", t.ServerType)
	}
	if err != nil {
		return nil, nil, errs.ServerError(0, err, "creating MCP client for %s", t.ServerID)
	}

	if err := mc.Start(ctx); err != nil {
		_ = mc.Close()
		return nil, nil, classify(ctx, err, rec, "starting session with %s", t.ServerID)
	}

	_, err = mc.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: c.name, Version: c.version},
		},
	})
	if err != nil {
		_ = mc.Close()
		return nil, nil, classify(ctx, err, rec, "initializing session with %s", t.ServerID)
	}
	return mc, rec, nil
}

func (c *Client) close(mc *client.Client, serverID string) {
	if err := mc.Close(); err != nil {
		c.logger.Debug("failed to close MCP session", "server_id", serverID, "error", err)
	}
}

// CallTool invokes tool with args. A result with IsError set is returned
// without error: the tool ran and reported a failure.
func (c *Client) CallTool(ctx context.Context, t Target, tool string, args map[string]any) (*Result, error) {
	mc, rec, err := c.session(ctx, t)
	if err != nil {
		return nil, err
	}
	defer c.close(mc, t.ServerID)

	res, err := mc.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: tool, Arguments: args},
	})
	if err != nil {
		return nil, classify(ctx, err, rec, "calling %s on %s", tool, t.ServerID)
	}
	if res.IsError {
		c.logger.Debug("tool reported an error", "server_id", t.ServerID, "tool", tool)
	}
	return convertResult(res)
}

// Ping checks the server answers an MCP ping after a full handshake.
func (c *Client) Ping(ctx context.Context, t Target) error {
	mc, rec, err := c.session(ctx, t)
	if err != nil {
		return err
	}
	defer c.close(mc, t.ServerID)

	if err := mc.Ping(ctx); err != nil {
		return classify(ctx, err, rec, "pinging %s", t.ServerID)
	}
	return nil
}

// ListTools returns every tool the server advertises.
func (c *Client) ListTools(ctx context.Context, t Target) ([]Tool, error) {
	mc, rec, err := c.session(ctx, t)
	if err != nil {
		return nil, err
	}
	defer c.close(mc, t.ServerID)

	res, err := mc.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, classify(ctx, err, rec, "listing tools on %s", t.ServerID)
	}
	tools := make([]Tool, 0, len(res.Tools))
	for _, tl := range res.Tools {
		tools = append(tools, Tool{Name: tl.Name, Description: tl.Description})
	}
	return tools, nil
}

func convertResult(res *mcp.CallToolResult) (*Result, error) {
	out := &Result{StructuredContent: res.StructuredContent, IsError: res.IsError}
	if len(res.Content) == 0 {
		out.Content = []Content{}
		return out, nil
	}
	raw, err := json.Marshal(res.Content)
	if err != nil {
		return nil, errs.ServerError(0, err, "encoding tool result")
	}
	if err := json.Unmarshal(raw, &out.Content); err != nil {
		return nil, errs.ServerError(0, err, "decoding tool result")
	}
	return out, nil
}

// classify maps a session failure to an error kind. A recorded HTTP status
// wins over the SDK's own interpretation of the response.
func classify(ctx context.Context, err error, rec *statusRecorder, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return errs.Timeout(err, "%s", msg)
		}
		return fmt.Errorf("%s: %w", msg, ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Timeout(err, "%s", msg)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Timeout(err, "%s", msg)
	}

	if status, retryAfter := rec.failure(); status != 0 {
		if status == http.StatusTooManyRequests {
			return errs.RateLimited(retryAfter)
		}
		return errs.ServerError(status, err, "%s: upstream returned %d", msg, status)
	}

	var transportErr *transport.Error
	if errors.As(err, &transportErr) {
		return errs.ServerError(0, err, "%s: transport failure", msg)
	}
	// Anything left came back as a JSON-RPC error object.
	return errs.ServerError(0, err, "%s: %v", msg, err)
}
