// Package gateway relays browser chat messages to per-client agent sessions
// and streams the replies back.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aretw0/tradedesk/internal/logging"
	"github.com/aretw0/tradedesk/internal/metrics"
	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/aretw0/tradedesk/pkg/sanitize"
	"github.com/aretw0/tradedesk/pkg/session"
)

// User-visible texts.
const (
	WelcomeMessage    = "Welcome to OpenAlgo Trading Assistant! I'm here to help you manage your trading account, orders, portfolio, and positions. How can I help you today?"
	ProcessingMessage = "Processing your request..."
	InvalidFormat     = "Error: Invalid message format."
	connectFailed     = "Failed to connect to MCP server: "
	agentFailed       = "I encountered an error while processing your request: "
)

// Websocket close statuses.
const (
	// ClosePolicyViolation is sent when the client id already has a live connection.
	ClosePolicyViolation = 1008
	// CloseInternalError is sent when no session can be created.
	CloseInternalError = 1011
)

// ErrClientConnected is returned by Serve when another connection already
// holds the client id.
var ErrClientConnected = errors.New("client id already connected")

// inboundBuffer is how many frames may queue while a message is processed.
const inboundBuffer = 32

// Conn is one open browser connection.
// Read returns the next text frame; it fails once the peer is gone.
type Conn interface {
	Read() ([]byte, error)
	Send(msg domain.Outbound) error
	CloseWith(code int, reason string) error
}

// Sessions is the part of session.Manager the gateway needs.
type Sessions interface {
	GetOrCreate(ctx context.Context, clientID string) (*session.Session, error)
	Release(ctx context.Context, clientID string)
	Append(ctx context.Context, clientID string, turn domain.Turn) error
}

var _ Sessions = (*session.Manager)(nil)

// Gateway serves chat connections.
type Gateway struct {
	sessions Sessions
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu   sync.Mutex
	live map[string]struct{}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics counts connections and frames.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// New creates a Gateway over sessions.
func New(sessions Sessions, opts ...Option) *Gateway {
	g := &Gateway{
		sessions: sessions,
		logger:   logging.NewNop(),
		live:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Serve runs one connection until the peer disconnects or ctx ends.
//
// The welcome message is sent first, then the session is created. When that
// fails the client is told why and the socket is closed with status 1011.
// The session is released exactly once on every exit path. A second
// connection for a client id that is still connected is refused with status
// 1008 and never touches the session.
func (g *Gateway) Serve(ctx context.Context, clientID string, conn Conn) error {
	log := g.logger.With("client_id", clientID)

	if !g.claim(clientID) {
		log.Warn("refusing duplicate connection")
		g.metrics.Message(metrics.KindError)
		if err := conn.Send(domain.Notice(domain.RoleSystem, "Error: "+ErrClientConnected.Error())); err != nil {
			log.Debug("sending refusal", "err", err)
		}
		if err := conn.CloseWith(ClosePolicyViolation, ErrClientConnected.Error()); err != nil {
			log.Debug("closing socket", "err", err)
		}
		return ErrClientConnected
	}
	defer g.unclaim(clientID)

	g.metrics.ConnectionOpened()
	defer g.metrics.ConnectionClosed()

	log.Info("client connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := conn.Send(domain.Notice(domain.RoleAssistant, WelcomeMessage)); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}

	defer g.sessions.Release(ctx, clientID)

	sess, err := g.sessions.GetOrCreate(ctx, clientID)
	if err != nil {
		log.Error("session unavailable", "err", err)
		if serr := conn.Send(domain.Notice(domain.RoleSystem, connectFailed+err.Error())); serr != nil {
			log.Debug("sending connect failure", "err", serr)
		}
		if cerr := conn.CloseWith(CloseInternalError, "session creation failed"); cerr != nil {
			log.Debug("closing socket", "err", cerr)
		}
		return err
	}

	frames := g.pump(ctx, cancel, conn)
	for data := range frames {
		if err := g.handle(ctx, clientID, sess, conn, data); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("connection lost", "err", err)
			return err
		}
	}
	log.Info("client disconnected")
	return nil
}

func (g *Gateway) claim(clientID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.live[clientID]; ok {
		return false
	}
	g.live[clientID] = struct{}{}
	return true
}

func (g *Gateway) unclaim(clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.live, clientID)
}

// pump reads frames in the background so that a disconnect cancels ctx even
// while a message is being processed. The channel closes when reading stops.
func (g *Gateway) pump(ctx context.Context, cancel context.CancelFunc, conn Conn) <-chan []byte {
	frames := make(chan []byte, inboundBuffer)
	go func() {
		defer close(frames)
		defer cancel()
		for {
			data, err := conn.Read()
			if err != nil {
				g.logger.Debug("read loop finished", "err", err)
				return
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames
}

// handle processes one inbound frame. Only errors that break the connection
// are returned; everything else is reported to the client.
func (g *Gateway) handle(ctx context.Context, clientID string, sess *session.Session, conn Conn, data []byte) error {
	var in domain.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		g.metrics.Message(metrics.KindMalformed)
		return conn.Send(domain.Notice(domain.RoleSystem, InvalidFormat))
	}

	clean, err := sanitize.Input(in.Content)
	if err != nil {
		g.metrics.Message(metrics.KindMalformed)
		return conn.Send(domain.Notice(domain.RoleSystem, "Error: "+err.Error()))
	}
	text := strings.TrimSpace(clean)
	if text == "" {
		return nil
	}
	g.metrics.Message(metrics.KindUser)

	if err := g.sessions.Append(ctx, clientID, domain.NewTurn(domain.RoleUser, text)); err != nil {
		return g.reportError(conn, err)
	}
	if err := conn.Send(domain.Notice(domain.RoleSystem, ProcessingMessage)); err != nil {
		return err
	}

	var (
		chunks  int
		sendErr error
	)
	full, err := sess.Agent.Run(ctx, text, func(chunk string) error {
		if chunk == "" {
			return nil
		}
		chunks++
		g.metrics.Message(metrics.KindChunk)
		if err := conn.Send(domain.Chunk(chunk)); err != nil {
			sendErr = err
			return err
		}
		return nil
	})
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.metrics.Message(metrics.KindError)
		g.logger.Error("agent run failed", "client_id", clientID, "err", err)
		msg := agentFailed + err.Error()
		if chunks > 0 {
			if err := conn.Send(domain.StreamEnd()); err != nil {
				return err
			}
		}
		if err := conn.Send(domain.Complete(domain.RoleAssistant, msg)); err != nil {
			return err
		}
		if err := g.sessions.Append(ctx, clientID, domain.NewTurn(domain.RoleAssistant, msg)); err != nil {
			return g.reportError(conn, err)
		}
		return nil
	}

	switch {
	case chunks > 0:
		if err := conn.Send(domain.StreamEnd()); err != nil {
			return err
		}
	case full != "":
		if err := conn.Send(domain.Complete(domain.RoleAssistant, full)); err != nil {
			return err
		}
	}

	if full != "" {
		if err := g.sessions.Append(ctx, clientID, domain.NewTurn(domain.RoleAssistant, full)); err != nil {
			return g.reportError(conn, err)
		}
	}
	return nil
}

// reportError tells the client about a per-message failure.
func (g *Gateway) reportError(conn Conn, err error) error {
	g.metrics.Message(metrics.KindError)
	g.logger.Warn("message failed", "err", err)
	return conn.Send(domain.Notice(domain.RoleSystem, "Error: "+err.Error()))
}
