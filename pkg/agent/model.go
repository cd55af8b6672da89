package agent

import (
	"context"

	"github.com/aretw0/tradedesk/pkg/domain"
)

// Message roles understood by chat models.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a model conversation.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []domain.ToolCall // assistant only
	ToolCallID string            // tool only
}

// Reply is a completed model turn.
type Reply struct {
	Content   string
	ToolCalls []domain.ToolCall
}

// DeltaFunc receives streamed content as it is produced.
type DeltaFunc func(delta string) error

// Model is a chat completion backend. When onDelta is non-nil the content is
// streamed through it and Reply.Content holds the concatenation. An empty
// tools list means the model must answer in text.
type Model interface {
	Complete(ctx context.Context, messages []Message, tools []domain.ToolSpec, onDelta DeltaFunc) (Reply, error)
}
