package gateway

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/tradedesk/pkg/adapters/memory"
	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/aretw0/tradedesk/pkg/ports"
	"github.com/aretw0/tradedesk/pkg/sanitize"
	"github.com/aretw0/tradedesk/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// fakeConn is an in-memory browser connection. Closing in simulates a disconnect.
type fakeConn struct {
	in   chan []byte
	sent chan domain.Outbound

	mu        sync.Mutex
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), sent: make(chan domain.Outbound, 256)}
}

func (c *fakeConn) Read() ([]byte, error) {
	data, ok := <-c.in
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (c *fakeConn) Send(msg domain.Outbound) error {
	c.sent <- msg
	return nil
}

func (c *fakeConn) CloseWith(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCode = code
	return nil
}

func (c *fakeConn) write(s string) { c.in <- []byte(s) }

// next waits for the next outbound frame.
func (c *fakeConn) next(t *testing.T) domain.Outbound {
	t.Helper()
	select {
	case msg := <-c.sent:
		return msg
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for an outbound frame")
		return domain.Outbound{}
	}
}

type funcAgent func(ctx context.Context, prompt string, onChunk ports.ChunkFunc) (string, error)

func (f funcAgent) Run(ctx context.Context, prompt string, onChunk ports.ChunkFunc) (string, error) {
	return f(ctx, prompt, onChunk)
}

type nopConn struct{}

func (nopConn) Tools() []domain.ToolSpec { return nil }
func (nopConn) CallTool(context.Context, string, map[string]any) (domain.ToolResult, error) {
	return domain.ToolResult{}, nil
}
func (nopConn) Ping(context.Context) error { return nil }
func (nopConn) Close() error               { return nil }

type stubConnector struct{ err error }

func (c stubConnector) Connect(context.Context) (ports.ToolConnection, error) {
	if c.err != nil {
		return nil, c.err
	}
	return nopConn{}, nil
}
func (stubConnector) Endpoint() string { return "stub" }

// countingSessions records Release calls on top of a real manager.
type countingSessions struct {
	*session.Manager
	releases atomic.Int32
}

func (s *countingSessions) Release(ctx context.Context, clientID string) {
	s.releases.Add(1)
	s.Manager.Release(ctx, clientID)
}

type harness struct {
	gw       *Gateway
	sessions *countingSessions
	conn     *fakeConn
	done     chan error
}

func start(t *testing.T, agent ports.Agent, opts ...func(*harnessConfig)) *harness {
	t.Helper()
	cfg := harnessConfig{store: memory.NewStore()}
	for _, o := range opts {
		o(&cfg)
	}
	mgr := session.NewManager(stubConnector{err: cfg.connectErr}, func(ports.ToolConnection) (ports.Agent, error) {
		return agent, nil
	}, cfg.store)
	h := &harness{
		sessions: &countingSessions{Manager: mgr},
		conn:     newFakeConn(),
		done:     make(chan error, 1),
	}
	h.gw = New(h.sessions)
	go func() {
		h.done <- h.gw.Serve(context.Background(), "client-1", h.conn)
	}()
	return h
}

type harnessConfig struct {
	store      ports.TurnStore
	connectErr error
}

func withStore(s ports.TurnStore) func(*harnessConfig) {
	return func(c *harnessConfig) { c.store = s }
}

func withConnectErr(err error) func(*harnessConfig) {
	return func(c *harnessConfig) { c.connectErr = err }
}

// welcome consumes the greeting.
func (h *harness) welcome(t *testing.T) {
	t.Helper()
	msg := h.conn.next(t)
	assert.Equal(t, domain.Notice(domain.RoleAssistant, WelcomeMessage), msg)
}

func (h *harness) disconnect(t *testing.T) error {
	t.Helper()
	close(h.conn.in)
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after disconnect")
		return nil
	}
}

func streaming(chunks ...string) funcAgent {
	return func(ctx context.Context, prompt string, onChunk ports.ChunkFunc) (string, error) {
		for _, c := range chunks {
			if err := onChunk(c); err != nil {
				return "", err
			}
		}
		return strings.Join(chunks, ""), nil
	}
}

func TestServe_StreamsChunksThenTerminator(t *testing.T) {
	h := start(t, streaming("Your funds ", "are ", "₹808.18."))
	h.welcome(t)

	h.conn.write(`{"content":"  what are my funds?  "}`)

	assert.Equal(t, domain.Notice(domain.RoleSystem, ProcessingMessage), h.conn.next(t))
	var got []string
	for i := 0; i < 3; i++ {
		msg := h.conn.next(t)
		assert.True(t, msg.IsPartial())
		assert.Equal(t, domain.RoleAssistant, msg.Role)
		got = append(got, msg.Content)
	}
	assert.Equal(t, []string{"Your funds ", "are ", "₹808.18."}, got)
	assert.Equal(t, domain.StreamEnd(), h.conn.next(t))

	require.NoError(t, h.disconnect(t))
	assert.Equal(t, int32(1), h.sessions.releases.Load())
}

func TestServe_RecordsTurns(t *testing.T) {
	store := &keepingStore{Store: memory.NewStore()}
	h := start(t, streaming("a", "b"), withStore(store))
	h.welcome(t)

	h.conn.write(`{"content":"hello"}`)
	for i := 0; i < 4; i++ {
		h.conn.next(t)
	}
	require.NoError(t, h.disconnect(t))

	turns := store.snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Equal(t, "ab", turns[1].Content)
}

func TestServe_NonStreamingReplySentOnce(t *testing.T) {
	h := start(t, funcAgent(func(ctx context.Context, prompt string, onChunk ports.ChunkFunc) (string, error) {
		return "All positions closed.", nil
	}))
	h.welcome(t)

	h.conn.write(`{"content":"close everything"}`)
	h.conn.next(t) // processing

	assert.Equal(t, domain.Complete(domain.RoleAssistant, "All positions closed."), h.conn.next(t))
	h.conn.write(`{"content":"again"}`)
	h.conn.next(t)
	assert.Equal(t, "All positions closed.", h.conn.next(t).Content)

	require.NoError(t, h.disconnect(t))
}

func TestServe_EmptyReplySendsNothing(t *testing.T) {
	h := start(t, funcAgent(func(context.Context, string, ports.ChunkFunc) (string, error) {
		return "", nil
	}))
	h.welcome(t)

	h.conn.write(`{"content":"hi"}`)
	h.conn.next(t) // processing
	h.conn.write(`not json`)
	assert.Equal(t, domain.Notice(domain.RoleSystem, InvalidFormat), h.conn.next(t))

	require.NoError(t, h.disconnect(t))
}

func TestServe_MalformedFrameKeepsConnection(t *testing.T) {
	h := start(t, streaming("ok"))
	h.welcome(t)

	h.conn.write(`{"content":`)
	assert.Equal(t, domain.Notice(domain.RoleSystem, InvalidFormat), h.conn.next(t))

	h.conn.write(`{"content":"still there?"}`)
	assert.Equal(t, ProcessingMessage, h.conn.next(t).Content)
	assert.Equal(t, domain.Chunk("ok"), h.conn.next(t))
	assert.Equal(t, domain.StreamEnd(), h.conn.next(t))

	require.NoError(t, h.disconnect(t))
}

func TestServe_OversizedInputRejected(t *testing.T) {
	t.Setenv(sanitize.EnvMaxInputSize, "16")
	var runs atomic.Int32
	h := start(t, funcAgent(func(context.Context, string, ports.ChunkFunc) (string, error) {
		runs.Add(1)
		return "ok", nil
	}))
	h.welcome(t)

	h.conn.write(`{"content":"` + strings.Repeat("x", 17) + `"}`)
	msg := h.conn.next(t)
	assert.Equal(t, domain.RoleSystem, msg.Role)
	assert.Contains(t, msg.Content, "input exceeds maximum allowed size")

	h.conn.write(`{"content":"short \u001b[1m"}`)
	assert.Equal(t, ProcessingMessage, h.conn.next(t).Content)
	h.conn.next(t)

	require.NoError(t, h.disconnect(t))
	assert.Equal(t, int32(1), runs.Load())
}

func TestServe_BlankContentIgnored(t *testing.T) {
	var runs atomic.Int32
	h := start(t, funcAgent(func(context.Context, string, ports.ChunkFunc) (string, error) {
		runs.Add(1)
		return "x", nil
	}))
	h.welcome(t)

	h.conn.write(`{"content":"   "}`)
	h.conn.write(`{}`)
	h.conn.write(`{"content":"real"}`)
	assert.Equal(t, ProcessingMessage, h.conn.next(t).Content)
	h.conn.next(t)

	require.NoError(t, h.disconnect(t))
	assert.Equal(t, int32(1), runs.Load())
}

func TestServe_AgentErrorBecomesAssistantMessage(t *testing.T) {
	store := &keepingStore{Store: memory.NewStore()}
	h := start(t, funcAgent(func(context.Context, string, ports.ChunkFunc) (string, error) {
		return "", errors.New("rate limit exceeded")
	}), withStore(store))
	h.welcome(t)

	h.conn.write(`{"content":"buy sbin"}`)
	h.conn.next(t)
	msg := h.conn.next(t)
	assert.Equal(t, domain.Complete(domain.RoleAssistant,
		"I encountered an error while processing your request: rate limit exceeded"), msg)

	// The session survives the failure.
	h.conn.write(`{"content":"again"}`)
	assert.Equal(t, ProcessingMessage, h.conn.next(t).Content)
	h.conn.next(t)

	require.NoError(t, h.disconnect(t))
	turns := store.snapshot()
	require.Len(t, turns, 4)
	assert.Equal(t, msg.Content, turns[1].Content)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
}

func TestServe_AgentErrorMidStreamTerminatesStream(t *testing.T) {
	h := start(t, funcAgent(func(ctx context.Context, prompt string, onChunk ports.ChunkFunc) (string, error) {
		for _, c := range []string{"Your funds ", "are "} {
			if err := onChunk(c); err != nil {
				return "", err
			}
		}
		return "", errors.New("upstream reset")
	}))
	h.welcome(t)

	h.conn.write(`{"content":"funds?"}`)
	assert.Equal(t, ProcessingMessage, h.conn.next(t).Content)
	assert.Equal(t, domain.Chunk("Your funds "), h.conn.next(t))
	assert.Equal(t, domain.Chunk("are "), h.conn.next(t))
	assert.Equal(t, domain.StreamEnd(), h.conn.next(t))
	assert.Equal(t, domain.Complete(domain.RoleAssistant,
		"I encountered an error while processing your request: upstream reset"), h.conn.next(t))

	require.NoError(t, h.disconnect(t))
}

func TestServe_RefusesDuplicateClientID(t *testing.T) {
	h := start(t, streaming("still ", "here"))
	h.welcome(t)

	dup := newFakeConn()
	err := h.gw.Serve(context.Background(), "client-1", dup)
	require.ErrorIs(t, err, ErrClientConnected)
	assert.Equal(t, domain.Notice(domain.RoleSystem, "Error: client id already connected"), dup.next(t))
	dup.mu.Lock()
	assert.Equal(t, ClosePolicyViolation, dup.closeCode)
	dup.mu.Unlock()
	assert.Equal(t, int32(0), h.sessions.releases.Load())

	// The original connection keeps its session.
	h.conn.write(`{"content":"ping"}`)
	assert.Equal(t, ProcessingMessage, h.conn.next(t).Content)
	assert.Equal(t, domain.Chunk("still "), h.conn.next(t))
	assert.Equal(t, domain.Chunk("here"), h.conn.next(t))
	assert.Equal(t, domain.StreamEnd(), h.conn.next(t))
	require.NoError(t, h.disconnect(t))

	// Once it is gone the id can connect again.
	again := newFakeConn()
	done := make(chan error, 1)
	go func() { done <- h.gw.Serve(context.Background(), "client-1", again) }()
	assert.Equal(t, WelcomeMessage, again.next(t).Content)
	close(again.in)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after disconnect")
	}
	assert.Equal(t, int32(2), h.sessions.releases.Load())
}

func TestServe_StoreFailureIsReported(t *testing.T) {
	h := start(t, streaming("x"), withStore(&failingStore{Store: memory.NewStore()}))
	h.welcome(t)

	h.conn.write(`{"content":"hi"}`)
	msg := h.conn.next(t)
	assert.Equal(t, domain.RoleSystem, msg.Role)
	assert.Equal(t, "Error: append turn: disk full", msg.Content)

	require.NoError(t, h.disconnect(t))
}

func TestServe_SessionCreationFailure(t *testing.T) {
	h := start(t, streaming("x"), withConnectErr(errors.New("connection refused")))
	h.welcome(t)

	msg := h.conn.next(t)
	assert.Equal(t, domain.RoleSystem, msg.Role)
	assert.True(t, strings.HasPrefix(msg.Content, "Failed to connect to MCP server: "))
	assert.Contains(t, msg.Content, "connection refused")

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, domain.ErrSessionCreate)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return")
	}
	h.conn.mu.Lock()
	assert.Equal(t, CloseInternalError, h.conn.closeCode)
	h.conn.mu.Unlock()
	assert.Zero(t, h.sessions.Len())
}

func TestServe_DisconnectCancelsRunningAgent(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	h := start(t, funcAgent(func(ctx context.Context, prompt string, onChunk ports.ChunkFunc) (string, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return "", ctx.Err()
	}))
	h.welcome(t)

	h.conn.write(`{"content":"slow question"}`)
	<-started

	require.NoError(t, h.disconnect(t))
	select {
	case <-cancelled:
	case <-time.After(waitFor):
		t.Fatal("agent was not cancelled")
	}
	assert.Equal(t, int32(1), h.sessions.releases.Load())
	assert.Zero(t, h.sessions.Len())
}

func TestServe_ReleasesOnPanic(t *testing.T) {
	mgr := session.NewManager(stubConnector{}, func(ports.ToolConnection) (ports.Agent, error) {
		return funcAgent(func(context.Context, string, ports.ChunkFunc) (string, error) {
			panic("boom")
		}), nil
	}, memory.NewStore())
	sessions := &countingSessions{Manager: mgr}
	conn := newFakeConn()
	conn.write(`{"content":"hi"}`)

	assert.Panics(t, func() {
		_ = New(sessions).Serve(context.Background(), "p", conn)
	})
	assert.Equal(t, int32(1), sessions.releases.Load())
	assert.Zero(t, sessions.Len())
}

func TestServe_SequentialProcessing(t *testing.T) {
	var active, maxActive atomic.Int32
	h := start(t, funcAgent(func(ctx context.Context, prompt string, onChunk ports.ChunkFunc) (string, error) {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return "re: " + prompt, nil
	}))
	h.welcome(t)

	for _, q := range []string{"one", "two", "three"} {
		h.conn.write(`{"content":"` + q + `"}`)
	}
	for _, q := range []string{"one", "two", "three"} {
		assert.Equal(t, ProcessingMessage, h.conn.next(t).Content)
		assert.Equal(t, "re: "+q, h.conn.next(t).Content)
	}

	require.NoError(t, h.disconnect(t))
	assert.Equal(t, int32(1), maxActive.Load())
}

// keepingStore mirrors appends so tests can inspect the log after release.
type keepingStore struct {
	*memory.Store
	mu    sync.Mutex
	turns []domain.Turn
}

func (s *keepingStore) Append(ctx context.Context, clientID string, turn domain.Turn) error {
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
	return s.Store.Append(ctx, clientID, turn)
}

func (s *keepingStore) snapshot() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Turn(nil), s.turns...)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) Append(context.Context, string, domain.Turn) error {
	return errors.New("disk full")
}
