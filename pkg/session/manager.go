package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/tradedesk/internal/logging"
	"github.com/aretw0/tradedesk/internal/metrics"
	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/aretw0/tradedesk/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed creation lock is held.
const DefaultLockTTL = 30 * time.Second

// AgentFactory builds the agent bound to a freshly opened tool connection.
type AgentFactory func(conn ports.ToolConnection) (ports.Agent, error)

// Session is the live state of one chat client.
type Session struct {
	ClientID  string
	Conn      ports.ToolConnection
	Agent     ports.Agent
	CreatedAt time.Time
}

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager is the registry of live sessions, keyed by client ID.
// Creation and release for one key are serialized; different keys proceed
// in parallel. Locks are reference counted and dropped when unused.
type Manager struct {
	connector ports.Connector
	newAgent  AgentFactory
	store     ports.TurnStore

	mu       sync.Mutex            // Guards locks and sessions
	locks    map[string]*lockEntry // Map of active locks
	sessions map[string]*Session

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking of session creation.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records the registry size and creation failures.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a Manager that dials through connector, builds agents
// with newAgent and keeps turn logs in store.
func NewManager(connector ports.Connector, newAgent AgentFactory, store ports.TurnStore, opts ...Option) *Manager {
	m := &Manager{
		connector: connector,
		newAgent:  newAgent,
		store:     store,
		locks:     make(map[string]*lockEntry),
		sessions:  make(map[string]*Session),
		lockTTL:   DefaultLockTTL,
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(clientID) after unlocking.
func (m *Manager) acquire(clientID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[clientID]
	if !exists {
		entry = &lockEntry{}
		m.locks[clientID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[clientID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, clientID)
	}
}

// withLock executes fn while holding the local lock for clientID and, when
// distributed is set and a locker is configured, the distributed one too.
func (m *Manager) withLock(ctx context.Context, clientID string, distributed bool, fn func(context.Context) error) error {
	entry := m.acquire(clientID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(clientID)
	}()

	if distributed && m.locker != nil {
		unlock, err := m.locker.Lock(ctx, clientID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"client_id", clientID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Get returns the registered session, if any.
func (m *Manager) Get(clientID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[clientID]
	return s, ok
}

// GetOrCreate returns the session of clientID, creating it when absent.
// Creation dials the tool server, builds the agent and resets the turn log;
// any failure leaves nothing registered and returns an error wrapping
// domain.ErrSessionCreate. Concurrent calls for one client dial once.
func (m *Manager) GetOrCreate(ctx context.Context, clientID string) (*Session, error) {
	if s, ok := m.Get(clientID); ok {
		return s, nil
	}

	var session *Session
	err := m.withLock(ctx, clientID, true, func(ctx context.Context) error {
		if s, ok := m.Get(clientID); ok {
			session = s
			return nil
		}
		s, err := m.create(ctx, clientID)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.sessions[clientID] = s
		m.mu.Unlock()
		session = s
		return nil
	})
	if err != nil {
		m.metrics.SessionFailed()
		m.logger.Error("session creation failed", "client_id", clientID, "err", err)
		return nil, fmt.Errorf("%w for %s: %w", domain.ErrSessionCreate, clientID, err)
	}
	return session, nil
}

func (m *Manager) create(ctx context.Context, clientID string) (*Session, error) {
	conn, err := m.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}

	abort := func(err error) (*Session, error) {
		if cerr := conn.Close(); cerr != nil {
			m.logger.Warn("closing half-open connection", "client_id", clientID, "err", cerr)
		}
		return nil, err
	}

	agent, err := m.newAgent(conn)
	if err != nil {
		return abort(fmt.Errorf("build agent: %w", err))
	}
	if err := m.store.Delete(ctx, clientID); err != nil {
		return abort(fmt.Errorf("reset turn log: %w", err))
	}

	m.metrics.SessionOpened()
	m.logger.Info("session created", "client_id", clientID, "tools", len(conn.Tools()))
	return &Session{
		ClientID:  clientID,
		Conn:      conn,
		Agent:     agent,
		CreatedAt: m.now(),
	}, nil
}

// Release tears down the session of clientID: the connection is closed and
// the turn log deleted, best-effort, and the session unregistered.
// Releasing an unknown client is a no-op.
func (m *Manager) Release(ctx context.Context, clientID string) {
	ctx = context.WithoutCancel(ctx)
	_ = m.withLock(ctx, clientID, false, func(ctx context.Context) error {
		m.mu.Lock()
		s, ok := m.sessions[clientID]
		delete(m.sessions, clientID)
		m.mu.Unlock()
		if !ok {
			return nil
		}

		if err := s.Conn.Close(); err != nil {
			m.logger.Warn("closing tool connection", "client_id", clientID, "err", err)
		}
		if err := m.store.Delete(ctx, clientID); err != nil {
			m.logger.Warn("deleting turn log", "client_id", clientID, "err", err)
		}
		m.metrics.SessionClosed()
		m.logger.Info("session released", "client_id", clientID)
		return nil
	})
}

// ReleaseAll releases every registered session.
func (m *Manager) ReleaseAll(ctx context.Context) {
	for _, id := range m.ClientIDs() {
		m.Release(ctx, id)
	}
}

// ClientIDs lists the registered clients in sorted order.
func (m *Manager) ClientIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Append adds a turn to the log of clientID.
func (m *Manager) Append(ctx context.Context, clientID string, turn domain.Turn) error {
	if err := m.store.Append(ctx, clientID, turn); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// History returns the turn log of clientID.
func (m *Manager) History(ctx context.Context, clientID string) ([]domain.Turn, error) {
	turns, err := m.store.History(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return turns, nil
}

// Connector returns the connector used to dial new sessions.
func (m *Manager) Connector() ports.Connector {
	return m.connector
}
