package http

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/tradedesk"
	"github.com/aretw0/tradedesk/internal/logging"
	"github.com/aretw0/tradedesk/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultStatusTimeout bounds the throw-away connection made by /api/status.
const DefaultStatusTimeout = 10 * time.Second

// Status values reported by /api/status.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
)

//go:embed web
var webFS embed.FS

// Chat serves one websocket chat connection.
type Chat interface {
	ServeWebsocket(w http.ResponseWriter, r *http.Request, clientID string)
}

// Server is the browser-facing HTTP surface of the gateway.
type Server struct {
	chat          Chat
	connector     ports.Connector
	gatherer      prometheus.Gatherer
	statusTimeout time.Duration
	logger        *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGatherer exposes the registry at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithStatusTimeout overrides DefaultStatusTimeout.
func WithStatusTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.statusTimeout = d
		}
	}
}

// NewHandler creates the gateway HTTP handler. The connector is only used to
// probe the tool server; chat sessions are owned by chat.
func NewHandler(chat Chat, connector ports.Connector, opts ...Option) (http.Handler, error) {
	s := &Server{
		chat:          chat,
		connector:     connector,
		statusTimeout: DefaultStatusTimeout,
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	spec, err := loadSpec()
	if err != nil {
		return nil, err
	}

	static, err := fs.Sub(webFS, "web/static")
	if err != nil {
		return nil, fmt.Errorf("static assets: %w", err)
	}

	r := chi.NewRouter()
	r.Get("/", s.GetIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	r.Get("/health", s.GetHealth)
	r.Get("/api/status", s.GetStatus)
	r.Get("/info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.logger, map[string]string{
			"app":         "tradedesk-web",
			"version":     strings.TrimSpace(tradedesk.Version),
			"api_version": spec.Info.Version,
		})
	})
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write(rawSpec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(swaggerHTML))
	})
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.chat.ServeWebsocket(w, r, "")
	})
	r.Get("/ws/{client_id}", func(w http.ResponseWriter, r *http.Request) {
		s.chat.ServeWebsocket(w, r, chi.URLParam(r, "client_id"))
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return enableCORS(r), nil
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Trading Assistant API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

// GetIndex serves the chat page.
func (s *Server) GetIndex(w http.ResponseWriter, r *http.Request) {
	page, err := webFS.ReadFile("web/index.html")
	if err != nil {
		http.Error(w, "page not found", http.StatusInternalServerError)
		s.logger.Error("index page missing", "err", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, map[string]string{
		"status":     "ok",
		"mcp_server": s.connector.Endpoint(),
	})
}

// GetStatus handles GET /api/status. It opens a connection to the tool
// server, closes it again and reports the outcome.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"mcp_server": s.connector.Endpoint()}

	ctx, cancel := context.WithTimeout(r.Context(), s.statusTimeout)
	defer cancel()

	conn, err := s.connector.Connect(ctx)
	switch {
	case err != nil:
		s.logger.Warn("tool server unreachable", "err", err)
		resp["status"] = StatusDisconnected
		resp["message"] = err.Error()
	default:
		resp["status"] = StatusConnected
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, context.Canceled) {
			s.logger.Error("closing status probe", "err", cerr)
			resp["status"] = StatusError
			resp["message"] = cerr.Error()
		}
	}
	writeJSON(w, s.logger, resp)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encode failed", "err", err)
	}
}

// ListenAndServe serves handler on port until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("web server listening", "port", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down web server")
		return srv.Shutdown(shutdownCtx)
	}
}
