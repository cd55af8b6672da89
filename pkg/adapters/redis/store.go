package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/tradedesk/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.TurnStore using Redis lists.
// Each client ID maps to one list of JSON-encoded turns; a sorted set indexes
// the live logs so List does not need to SCAN.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for turn logs. Every append refreshes it.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for turn logs.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "tradedesk:turns:",
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Client exposes the underlying client so a Locker can share the connection pool.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) key(clientID string) string {
	return s.prefix + clientID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Append pushes the turn at the tail of the client's list.
func (s *Store) Append(ctx context.Context, clientID string, turn domain.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key(clientID), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(clientID), s.ttl)
	}

	// Score = Now + TTL. If TTL = 0, Score = +Inf (approx).
	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  score,
		Member: clientID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append turn to redis: %w", err)
	}
	return nil
}

// History reads the whole list in append order.
func (s *Store) History(ctx context.Context, clientID string) ([]domain.Turn, error) {
	raw, err := s.client.LRange(ctx, s.key(clientID), 0, -1).Result()
	if err != nil && err != backend.Nil {
		return nil, fmt.Errorf("failed to read turns from redis: %w", err)
	}

	turns := make([]domain.Turn, 0, len(raw))
	for i, item := range raw {
		var turn domain.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn %d: %w", i, err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Delete removes the log and its index entry.
func (s *Store) Delete(ctx context.Context, clientID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(clientID))
	pipe.ZRem(ctx, s.indexKey(), clientID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete turns from redis: %w", err)
	}
	return nil
}

// List returns live logs, pruning index entries whose TTL has passed.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())

	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired logs: %w", err)
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return ids, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
