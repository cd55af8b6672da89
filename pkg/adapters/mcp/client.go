package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/tradedesk"
	"github.com/aretw0/tradedesk/internal/logging"
	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/aretw0/tradedesk/pkg/ports"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// DefaultHandshakeTimeout bounds Start + Initialize + ListTools.
const DefaultHandshakeTimeout = 30 * time.Second

// ClientFactory builds an unstarted mcp-go client.
type ClientFactory func() (*client.Client, error)

// Connector dials the tool server with a fresh client per connection.
type Connector struct {
	factory  ClientFactory
	endpoint string
	timeout  time.Duration
	logger   *slog.Logger
}

var _ ports.Connector = (*Connector)(nil)

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithHandshakeTimeout overrides DefaultHandshakeTimeout.
func WithHandshakeTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithConnectorLogger sets the logger. Defaults to a no-op logger.
func WithConnectorLogger(l *slog.Logger) ConnectorOption {
	return func(c *Connector) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConnector creates a Connector around an arbitrary client factory.
func NewConnector(factory ClientFactory, endpoint string, opts ...ConnectorOption) *Connector {
	c := &Connector{
		factory:  factory,
		endpoint: endpoint,
		timeout:  DefaultHandshakeTimeout,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSSEConnector dials the SSE endpoint of a tool server, e.g.
// http://localhost:8001/sse.
func NewSSEConnector(url string, opts ...ConnectorOption) *Connector {
	return NewConnector(func() (*client.Client, error) {
		return client.NewSSEMCPClient(url)
	}, url, opts...)
}

// NewInProcessConnector connects straight to an in-process server.
func NewInProcessConnector(srv *server.MCPServer, opts ...ConnectorOption) *Connector {
	return NewConnector(func() (*client.Client, error) {
		return client.NewInProcessClient(srv)
	}, "in-process", opts...)
}

// Endpoint implements ports.Connector.
func (c *Connector) Endpoint() string {
	return c.endpoint
}

// Connect starts the transport, performs the initialize handshake and lists
// the tools. On any failure the half-open client is closed.
//
// The transport stream outlives ctx: only the handshake is bound to it.
// The returned connection is torn down by Close.
func (c *Connector) Connect(ctx context.Context) (ports.ToolConnection, error) {
	cli, err := c.factory()
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", c.endpoint, err)
	}

	streamCtx, cancelStream := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancelStream)

	hsCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fail := func(step string, err error) (ports.ToolConnection, error) {
		stop()
		cancelStream()
		if cerr := cli.Close(); cerr != nil {
			c.logger.Debug("closing half-open client", "endpoint", c.endpoint, "err", cerr)
		}
		return nil, fmt.Errorf("%s %s: %w", step, c.endpoint, err)
	}

	if err := startWithin(hsCtx, streamCtx, cli); err != nil {
		return fail("start", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "tradedesk",
		Version: strings.TrimSpace(tradedesk.Version),
	}
	info, err := cli.Initialize(hsCtx, initReq)
	if err != nil {
		return fail("initialize", err)
	}

	listed, err := cli.ListTools(hsCtx, mcp.ListToolsRequest{})
	if err != nil {
		return fail("list tools", err)
	}

	stop()
	specs := make([]domain.ToolSpec, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		specs = append(specs, toSpec(t))
	}
	c.logger.Info("connected to tool server",
		"endpoint", c.endpoint,
		"server", info.ServerInfo.Name,
		"tools", len(specs))

	return &connection{client: cli, tools: specs, cancel: cancelStream}, nil
}

// startWithin starts the client on the long-lived stream context but gives up
// when the handshake context expires first.
func startWithin(hsCtx, streamCtx context.Context, cli *client.Client) error {
	done := make(chan error, 1)
	go func() {
		done <- cli.Start(streamCtx)
	}()
	select {
	case err := <-done:
		return err
	case <-hsCtx.Done():
		return hsCtx.Err()
	}
}

func toSpec(t mcp.Tool) domain.ToolSpec {
	spec := domain.ToolSpec{Name: t.Name, Description: t.Description}

	var schema map[string]any
	if len(t.RawInputSchema) > 0 {
		_ = json.Unmarshal(t.RawInputSchema, &schema)
	} else if raw, err := json.Marshal(t.InputSchema); err == nil {
		_ = json.Unmarshal(raw, &schema)
	}
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	spec.Parameters = schema
	return spec
}

// connection implements ports.ToolConnection over an mcp-go client.
type connection struct {
	client *client.Client
	tools  []domain.ToolSpec
	cancel context.CancelFunc
}

func (c *connection) Tools() []domain.ToolSpec {
	return c.tools
}

func (c *connection) CallTool(ctx context.Context, name string, args map[string]any) (domain.ToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.client.CallTool(ctx, req)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("call tool %s: %w", name, err)
	}

	text := contentText(res.Content)
	if res.IsError {
		return domain.Failure(text), nil
	}
	return domain.Success(text), nil
}

func (c *connection) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

func (c *connection) Close() error {
	err := c.client.Close()
	c.cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		if text, ok := mcp.AsTextContent(item); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
