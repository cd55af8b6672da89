package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/tradedesk"
	"github.com/aretw0/tradedesk/internal/logging"
	"github.com/aretw0/tradedesk/internal/metrics"
	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/aretw0/tradedesk/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerName is advertised during the MCP handshake.
const ServerName = "OpenAlgo MCP"

// DefaultStrategy is the strategy tag attached to orders when none is given.
const DefaultStrategy = "Python"

const instructions = `OpenAlgo MCP Server provides AI assistants with access to trading capabilities through the OpenAlgo API.

This server exposes trading functions such as:
- Placing, modifying, and canceling orders
- Retrieving market data and quotes
- Managing positions and portfolios
- Accessing historical data`

// toolFunc is the body of a tool. It never fails at the transport level:
// every broker or argument problem is folded into the result.
type toolFunc func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult

// Server exposes a ports.Broker as a set of MCP tools.
type Server struct {
	broker    ports.Broker
	strategy  string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	tools     []server.ServerTool
	mcpServer *server.MCPServer
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records tool calls on m.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithGatherer exposes g on /metrics when serving over SSE.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithStrategy sets the default strategy tag.
func WithStrategy(strategy string) ServerOption {
	return func(s *Server) {
		if strategy != "" {
			s.strategy = strategy
		}
	}
}

// NewServer creates a new MCP Server instance backed by broker.
func NewServer(broker ports.Broker, opts ...ServerOption) *Server {
	s := &Server{
		broker:   broker,
		strategy: DefaultStrategy,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcpServer = server.NewMCPServer(ServerName, strings.TrimSpace(tradedesk.Version),
		server.WithToolCapabilities(false),
		server.WithInstructions(instructions),
	)
	s.registerTools()
	s.mcpServer.AddTools(s.tools...)
	return s
}

// MCPServer returns the underlying mcp-go server, e.g. for in-process clients.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ToolNames lists the registered tools in registration order.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.tools))
	for _, t := range s.tools {
		names = append(names, t.Tool.Name)
	}
	return names
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("MCP Server listening (stdio)")
	return server.ServeStdio(s.mcpServer)
}

// Handler returns the SSE endpoints (/sse, /message) plus /metrics.
// baseURL is the externally reachable address advertised to clients.
func (s *Server) Handler(baseURL string) http.Handler {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", s.corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", s.corsMiddleware(sseServer.MessageHandler()))
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ServeSSE starts the server on the given port using SSE and blocks until ctx
// is cancelled or the listener fails.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(baseURL),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("Shutdown signal received, shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("CORS Middleware", "method", r.Method, "path", r.URL.Path)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// add registers a tool whose body reports through domain.ToolResult.
func (s *Server) add(tool mcp.Tool, fn toolFunc) {
	name := tool.Name
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res := fn(ctx, req)
		s.metrics.ObserveTool(name, res.OK, time.Since(start))
		if !res.OK {
			s.logger.Error("tool failed", "tool", name, "message", res.Message)
			return mcp.NewToolResultError(res.Message), nil
		}
		s.logger.Debug("tool completed", "tool", name, "elapsed", time.Since(start))
		return mcp.NewToolResultText(res.Value), nil
	}
	s.tools = append(s.tools, server.ServerTool{Tool: tool, Handler: handler})
}

// call runs one broker operation and renders the response as compact JSON.
func (s *Server) call(ctx context.Context, op, verb string, params ports.Params) domain.ToolResult {
	s.logger.Info("broker request", "op", op)
	resp, err := s.broker.Do(ctx, op, params)
	if err != nil {
		return failure(verb, err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return failure(verb, err)
	}
	return domain.Success(string(raw))
}

func failure(verb string, err error) domain.ToolResult {
	return domain.Failure(fmt.Sprintf("Error %s: %v", verb, err))
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
