package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/aretw0/tradedesk/pkg/domain"
)

// Store implements ports.TurnStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string][]domain.Turn
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string][]domain.Turn),
	}
}

// Append adds a turn to the client's log.
func (s *Store) Append(ctx context.Context, clientID string, turn domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[clientID] = append(s.data[clientID], turn)
	return nil
}

// History returns a copy of the log so callers can't mutate the stored slice.
func (s *Store) History(ctx context.Context, clientID string) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := slices.Clone(s.data[clientID])
	if turns == nil {
		turns = []domain.Turn{}
	}
	return turns, nil
}

// Delete removes the log.
func (s *Store) Delete(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, clientID)
	return nil
}

// List returns the client IDs with a log.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}
