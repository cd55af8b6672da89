package ports

import (
	"context"

	"github.com/aretw0/tradedesk/pkg/domain"
)

// TurnStore persists the ordered conversation log of each session.
type TurnStore interface {
	// Append adds a turn at the end of the log for the given client ID.
	Append(ctx context.Context, clientID string, turn domain.Turn) error

	// History returns the log in append order.
	// An unknown client ID yields an empty log, not an error.
	History(ctx context.Context, clientID string) ([]domain.Turn, error)

	// Delete removes the whole log. Deleting a missing log is not an error.
	Delete(ctx context.Context, clientID string) error

	// List returns the client IDs that currently have a log.
	List(ctx context.Context) ([]string, error)
}
