package ports

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunTurnStoreContract runs a suite of tests to verify that a TurnStore
// implementation adheres to the defined interface contract.
func RunTurnStoreContract(t *testing.T, store TurnStore) {
	ctx := context.Background()
	clientID := "contract-client-" + time.Now().Format("20060102150405")

	t.Run("Append and History", func(t *testing.T) {
		require.NoError(t, store.Append(ctx, clientID, domain.NewTurn(domain.RoleUser, "hello")))
		require.NoError(t, store.Append(ctx, clientID, domain.NewTurn(domain.RoleAssistant, "Hi there!")))

		turns, err := store.History(ctx, clientID)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, domain.RoleUser, turns[0].Role)
		assert.Equal(t, "hello", turns[0].Content)
		assert.Equal(t, domain.RoleAssistant, turns[1].Role)
		assert.Equal(t, "Hi there!", turns[1].Content)
	})

	t.Run("Order Preserved", func(t *testing.T) {
		id := clientID + "-order"
		for i := 0; i < 20; i++ {
			require.NoError(t, store.Append(ctx, id, domain.NewTurn(domain.RoleUser, fmt.Sprintf("m%d", i))))
		}
		turns, err := store.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, turns, 20)
		for i, turn := range turns {
			assert.Equal(t, fmt.Sprintf("m%d", i), turn.Content)
		}
		require.NoError(t, store.Delete(ctx, id))
	})

	t.Run("History Unknown", func(t *testing.T) {
		turns, err := store.History(ctx, "unknown-"+clientID)
		require.NoError(t, err)
		assert.Empty(t, turns)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, clientID))

		turns, err := store.History(ctx, clientID)
		require.NoError(t, err)
		assert.Empty(t, turns, "History after Delete should be empty")

		// Deleting twice is fine
		assert.NoError(t, store.Delete(ctx, clientID))
	})

	t.Run("List", func(t *testing.T) {
		id1 := clientID + "-1"
		id2 := clientID + "-2"
		require.NoError(t, store.Append(ctx, id1, domain.NewTurn(domain.RoleUser, "a")))
		require.NoError(t, store.Append(ctx, id2, domain.NewTurn(domain.RoleUser, "b")))

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)

		require.NoError(t, store.Delete(ctx, id1))
		require.NoError(t, store.Delete(ctx, id2))

		ids, err = store.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, id1)
		assert.NotContains(t, ids, id2)
	})
}
