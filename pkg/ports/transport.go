package ports

import (
	"context"

	"github.com/aretw0/tradedesk/pkg/domain"
)

// ToolConnection is an established, initialized connection to the tool server.
// It is owned by exactly one session.
type ToolConnection interface {
	// Tools returns the tools listed during the handshake.
	Tools() []domain.ToolSpec

	// CallTool invokes a tool. Tool-level failures are reported through
	// ToolResult.OK; the error is reserved for transport failures.
	CallTool(ctx context.Context, name string, args map[string]any) (domain.ToolResult, error)

	// Ping checks that the server still answers.
	Ping(ctx context.Context) error

	// Close releases the underlying transport.
	Close() error
}

// Connector dials the tool server and completes the handshake (initialize and
// tool listing) before returning.
type Connector interface {
	Connect(ctx context.Context) (ToolConnection, error)

	// Endpoint is a human-readable address, reported by status surfaces.
	Endpoint() string
}
