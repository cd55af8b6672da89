package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/tradedesk/pkg/adapters/redis"
	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/aretw0/tradedesk/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newMiniredis(t)

	store := redis.NewFromClient(client)
	ports.RunTurnStoreContract(t, store)
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newMiniredis(t)

	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()
	clientID := "client-ttl"

	err := store.Append(ctx, clientID, domain.NewTurn(domain.RoleUser, "hello"))
	assert.NoError(t, err)

	ids, err := store.List(ctx)
	assert.NoError(t, err)
	assert.Contains(t, ids, clientID)

	// Fast Forward time in miniredis (for Key Expiration)
	mr.FastForward(2 * time.Second)

	turns, err := store.History(ctx, clientID)
	assert.NoError(t, err)
	assert.Empty(t, turns)

	// The index is pruned lazily against wall-clock time.
	time.Sleep(1200 * time.Millisecond)

	ids, err = store.List(ctx)
	assert.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newMiniredis(t)

	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	err := store.Append(ctx, "my-client", domain.NewTurn(domain.RoleUser, "hi"))
	assert.NoError(t, err)

	assert.True(t, mr.Exists("custom:app:my-client"), "Expected key with custom prefix to exist")
	assert.True(t, mr.Exists("custom:app:index"), "Expected index with custom prefix to exist")

	ids, err := store.List(ctx)
	assert.NoError(t, err)
	assert.Contains(t, ids, "my-client")
}

func TestRedisStore_CorruptEntry(t *testing.T) {
	mr, client := newMiniredis(t)
	store := redis.NewFromClient(client)

	_, err := mr.Push("tradedesk:turns:broken", "{not json")
	require.NoError(t, err)

	_, err = store.History(context.Background(), "broken")
	assert.Error(t, err)
}
