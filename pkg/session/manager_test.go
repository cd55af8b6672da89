package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/tradedesk/internal/logging"
	"github.com/aretw0/tradedesk/internal/metrics"
	"github.com/aretw0/tradedesk/pkg/adapters/memory"
	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/aretw0/tradedesk/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	closed   atomic.Int32
	closeErr error
}

func (c *stubConn) Tools() []domain.ToolSpec { return []domain.ToolSpec{{Name: "get_funds"}} }
func (c *stubConn) CallTool(ctx context.Context, name string, args map[string]any) (domain.ToolResult, error) {
	return domain.Success("{}"), nil
}
func (c *stubConn) Ping(ctx context.Context) error { return nil }
func (c *stubConn) Close() error {
	c.closed.Add(1)
	return c.closeErr
}

// stubConnector hands out connections, optionally slowly or failing.
type stubConnector struct {
	mu       sync.Mutex
	dials    int
	delay    time.Duration
	err      error
	closeErr error
	conns    []*stubConn
}

func (c *stubConnector) Connect(ctx context.Context) (ports.ToolConnection, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dials++
	if c.err != nil {
		return nil, c.err
	}
	conn := &stubConn{closeErr: c.closeErr}
	c.conns = append(c.conns, conn)
	return conn, nil
}

func (c *stubConnector) Endpoint() string { return "stub" }

func (c *stubConnector) dialCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

type stubAgent struct{}

func (stubAgent) Run(ctx context.Context, prompt string, onChunk ports.ChunkFunc) (string, error) {
	return "ok", nil
}

func okAgent(ports.ToolConnection) (ports.Agent, error) { return stubAgent{}, nil }

func TestGetOrCreate_ReusesSession(t *testing.T) {
	conn := &stubConnector{}
	m := NewManager(conn, okAgent, memory.NewStore())
	ctx := context.Background()

	s1, err := m.GetOrCreate(ctx, "c1")
	require.NoError(t, err)
	s2, err := m.GetOrCreate(ctx, "c1")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, conn.dialCount())
	assert.Equal(t, "c1", s1.ClientID)
	assert.False(t, s1.CreatedAt.IsZero())
}

func TestGetOrCreate_ConcurrentDialOnce(t *testing.T) {
	conn := &stubConnector{delay: 20 * time.Millisecond}
	m := NewManager(conn, okAgent, memory.NewStore())

	var wg sync.WaitGroup
	results := make([]*Session, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.GetOrCreate(context.Background(), "same")
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, conn.dialCount())
	for _, s := range results {
		assert.Same(t, results[0], s)
	}
	assert.Equal(t, 1, m.Len())
}

func TestGetOrCreate_DistinctClientsAreIsolated(t *testing.T) {
	conn := &stubConnector{}
	m := NewManager(conn, okAgent, memory.NewStore())
	ctx := context.Background()

	a, err := m.GetOrCreate(ctx, "a")
	require.NoError(t, err)
	b, err := m.GetOrCreate(ctx, "b")
	require.NoError(t, err)

	assert.NotSame(t, a.Conn, b.Conn)
	assert.Equal(t, []string{"a", "b"}, m.ClientIDs())
}

func TestGetOrCreate_ConnectFailureRegistersNothing(t *testing.T) {
	reg := prometheus.NewRegistry()
	mt := metrics.New(reg)
	conn := &stubConnector{err: errors.New("connection refused")}
	m := NewManager(conn, okAgent, memory.NewStore(), WithMetrics(mt))

	_, err := m.GetOrCreate(context.Background(), "c1")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSessionCreate)
	assert.Contains(t, err.Error(), "connection refused")
	_, ok := m.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.SessionCreateFails))
	assert.Equal(t, 0.0, testutil.ToFloat64(mt.SessionsActive))
}

func TestGetOrCreate_AgentFailureClosesConnection(t *testing.T) {
	conn := &stubConnector{}
	m := NewManager(conn, func(ports.ToolConnection) (ports.Agent, error) {
		return nil, errors.New("no model")
	}, memory.NewStore())

	_, err := m.GetOrCreate(context.Background(), "c1")

	require.ErrorIs(t, err, domain.ErrSessionCreate)
	require.Len(t, conn.conns, 1)
	assert.Equal(t, int32(1), conn.conns[0].closed.Load())
	assert.Zero(t, m.Len())
}

func TestGetOrCreate_NotRetriedAutomatically(t *testing.T) {
	conn := &stubConnector{err: errors.New("down")}
	m := NewManager(conn, okAgent, memory.NewStore())

	_, err := m.GetOrCreate(context.Background(), "c1")
	require.Error(t, err)
	assert.Equal(t, 1, conn.dialCount())
}

func TestGetOrCreate_ResetsTurnLog(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "c1", domain.NewTurn(domain.RoleUser, "stale")))

	m := NewManager(&stubConnector{}, okAgent, store)
	_, err := m.GetOrCreate(ctx, "c1")
	require.NoError(t, err)

	history, err := m.History(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRelease_ClosesAndForgets(t *testing.T) {
	conn := &stubConnector{}
	store := memory.NewStore()
	m := NewManager(conn, okAgent, store)
	ctx := context.Background()

	_, err := m.GetOrCreate(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, "c1", domain.NewTurn(domain.RoleUser, "hi")))

	m.Release(ctx, "c1")
	m.Release(ctx, "c1")

	assert.Equal(t, int32(1), conn.conns[0].closed.Load())
	_, ok := m.Get("c1")
	assert.False(t, ok)
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRelease_UnknownIsNoop(t *testing.T) {
	m := NewManager(&stubConnector{}, okAgent, memory.NewStore())
	m.Release(context.Background(), "ghost")
	assert.Zero(t, m.Len())
}

func TestRelease_CloseErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	conn := &stubConnector{closeErr: errors.New("broken pipe")}
	m := NewManager(conn, okAgent, memory.NewStore(), WithLogger(logging.NewWithWriter(&buf, logging.Level(true))))
	ctx := context.Background()

	_, err := m.GetOrCreate(ctx, "c1")
	require.NoError(t, err)
	m.Release(ctx, "c1")

	_, ok := m.Get("c1")
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "broken pipe")
}

func TestRelease_WorksWithCancelledContext(t *testing.T) {
	conn := &stubConnector{}
	m := NewManager(conn, okAgent, memory.NewStore())

	_, err := m.GetOrCreate(context.Background(), "c1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Release(ctx, "c1")

	assert.Zero(t, m.Len())
	assert.Equal(t, int32(1), conn.conns[0].closed.Load())
}

func TestReleaseAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	mt := metrics.New(reg)
	conn := &stubConnector{}
	m := NewManager(conn, okAgent, memory.NewStore(), WithMetrics(mt))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.GetOrCreate(ctx, fmt.Sprintf("c%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(mt.SessionsActive))

	m.ReleaseAll(ctx)

	assert.Zero(t, m.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(mt.SessionsActive))
	for _, c := range conn.conns {
		assert.Equal(t, int32(1), c.closed.Load())
	}
}

func TestManager_LockLifecycle(t *testing.T) {
	m := NewManager(&stubConnector{}, okAgent, memory.NewStore())
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("session-%d", i)
		_, err := m.GetOrCreate(ctx, id)
		require.NoError(t, err)
		m.Release(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.locks, "lock entries must be dropped once unused")
	assert.Empty(t, m.sessions)
}

type recordingLocker struct {
	mu       sync.Mutex
	keys     []string
	unlocked int
	err      error
}

func (l *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.keys = append(l.keys, key)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unlocked++
		return nil
	}, nil
}

func TestGetOrCreate_UsesDistributedLock(t *testing.T) {
	locker := &recordingLocker{}
	m := NewManager(&stubConnector{}, okAgent, memory.NewStore(), WithLocker(locker))

	_, err := m.GetOrCreate(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, []string{"c1"}, locker.keys)
	assert.Equal(t, 1, locker.unlocked)
}

func TestGetOrCreate_DistributedLockFailure(t *testing.T) {
	conn := &stubConnector{}
	locker := &recordingLocker{err: errors.New("redis down")}
	m := NewManager(conn, okAgent, memory.NewStore(), WithLocker(locker))

	_, err := m.GetOrCreate(context.Background(), "c1")

	assert.ErrorIs(t, err, domain.ErrSessionCreate)
	assert.Zero(t, conn.dialCount())
}
