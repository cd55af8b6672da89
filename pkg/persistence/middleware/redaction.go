package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/aretw0/tradedesk/pkg/ports"
)

// Mask replaces every redacted match.
const Mask = "***"

// DefaultSecretPatterns match credentials users tend to paste into a chat:
// OpenAlgo API keys (64 hex chars), OpenAI and Groq keys.
var DefaultSecretPatterns = []string{
	`\b[0-9a-fA-F]{64}\b`,
	`\bsk-[A-Za-z0-9_-]{20,}`,
	`\bgsk_[A-Za-z0-9]{20,}`,
}

type redactionMiddleware struct {
	next     ports.TurnStore
	patterns []*regexp.Regexp
}

// NewRedactionMiddleware masks matches of patterns in turn content before
// it is stored. The caller's turn is not modified.
func NewRedactionMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.TurnStore) ports.TurnStore {
		return &redactionMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *redactionMiddleware) Append(ctx context.Context, clientID string, turn domain.Turn) error {
	for _, p := range m.patterns {
		turn.Content = p.ReplaceAllString(turn.Content, Mask)
	}
	return m.next.Append(ctx, clientID, turn)
}

func (m *redactionMiddleware) History(ctx context.Context, clientID string) ([]domain.Turn, error) {
	return m.next.History(ctx, clientID)
}

func (m *redactionMiddleware) Delete(ctx context.Context, clientID string) error {
	return m.next.Delete(ctx, clientID)
}

func (m *redactionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}
