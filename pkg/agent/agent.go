// Package agent implements the tool-calling loop that answers chat prompts
// with the tools of one tool server connection.
//
//	a := agent.New(model, conn, agent.WithStyle(agent.StylePlain))
//	text, err := a.Run(ctx, "What are my funds?", onChunk)
package agent

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/tradedesk/internal/logging"
	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/aretw0/tradedesk/pkg/ports"
)

// Defaults for the conversation window and the tool budget.
const (
	DefaultHistoryResponses = 10
	DefaultToolCallLimit    = 10
)

// Style selects the reply formatting instructions.
type Style string

const (
	StyleMarkdown Style = "markdown"
	StylePlain    Style = "plain"
)

//go:embed prompts/*.md
var prompts embed.FS

// Instructions returns the system instructions for style, without the date.
func Instructions(style Style) string {
	common, _ := prompts.ReadFile("prompts/common.md")
	name := "prompts/markdown.md"
	if style == StylePlain {
		name = "prompts/plain.md"
	}
	formatting, _ := prompts.ReadFile(name)
	return strings.TrimSpace(string(common)) + "\n\n" + strings.TrimSpace(string(formatting))
}

// Agent is a ports.Agent bound to one tool connection.
// Runs are serialized; the history window is shared between them.
type Agent struct {
	model         Model
	conn          ports.ToolConnection
	style         Style
	historyLimit  int
	toolCallLimit int
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	history []Message
}

var _ ports.Agent = (*Agent)(nil)

// Option configures an Agent.
type Option func(*Agent)

// WithStyle selects markdown or plain replies. Defaults to markdown.
func WithStyle(s Style) Option {
	return func(a *Agent) { a.style = s }
}

// WithHistoryResponses keeps the last n exchanges as context. Zero disables history.
func WithHistoryResponses(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.historyLimit = n
		}
	}
}

// WithToolCallLimit caps the tool calls of one Run.
func WithToolCallLimit(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.toolCallLimit = n
		}
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the clock used for the date in the instructions.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates an Agent that calls tools over conn.
func New(model Model, conn ports.ToolConnection, opts ...Option) *Agent {
	a := &Agent{
		model:         model,
		conn:          conn,
		style:         StyleMarkdown,
		historyLimit:  DefaultHistoryResponses,
		toolCallLimit: DefaultToolCallLimit,
		logger:        logging.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run answers prompt. Assistant text is streamed to onChunk (which may be nil)
// and the concatenation of everything streamed is returned.
//
// Tool calls requested by the model are executed in order and fed back. Once
// the tool budget is spent the model is called without tools, forcing a
// text answer.
func (a *Agent) Run(ctx context.Context, prompt string, onChunk ports.ChunkFunc) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	messages := make([]Message, 0, len(a.history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: a.systemPrompt()})
	messages = append(messages, a.history...)
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	var (
		text  strings.Builder
		calls int
	)
	onDelta := func(delta string) error {
		text.WriteString(delta)
		if onChunk != nil {
			return onChunk(delta)
		}
		return nil
	}

	tools := a.conn.Tools()
	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return text.String(), err
		}

		offered := tools
		if calls >= a.toolCallLimit {
			offered = nil
		}

		reply, err := a.model.Complete(ctx, messages, offered, onDelta)
		if err != nil {
			return text.String(), fmt.Errorf("model call failed: %w", err)
		}

		if len(reply.ToolCalls) == 0 {
			break
		}
		if offered == nil {
			if text.Len() == 0 {
				return "", domain.ErrToolCallLimit
			}
			break
		}

		messages = append(messages, Message{
			Role:      RoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})
		for _, tc := range reply.ToolCalls {
			var content string
			if calls >= a.toolCallLimit {
				content = "Error: " + domain.ErrToolCallLimit.Error()
			} else {
				calls++
				content = a.callTool(ctx, iteration, tc)
			}
			messages = append(messages, Message{Role: RoleTool, Content: content, ToolCallID: tc.ID})
		}
	}

	answer := text.String()
	a.remember(prompt, answer)
	a.logger.Debug("agent run complete", "tool_calls", calls, "length", len(answer))
	return answer, nil
}

func (a *Agent) callTool(ctx context.Context, iteration int, tc domain.ToolCall) string {
	a.logger.Debug("tool call", "iteration", iteration, "name", tc.Name)
	res, err := a.conn.CallTool(ctx, tc.Name, tc.Args)
	if err != nil {
		a.logger.Warn("tool call failed", "name", tc.Name, "err", err)
		return "Error: " + err.Error()
	}
	return res.Text()
}

// remember appends one exchange and trims the window.
func (a *Agent) remember(prompt, answer string) {
	if a.historyLimit == 0 {
		return
	}
	a.history = append(a.history,
		Message{Role: RoleUser, Content: prompt},
		Message{Role: RoleAssistant, Content: answer},
	)
	if keep := 2 * a.historyLimit; len(a.history) > keep {
		a.history = append([]Message(nil), a.history[len(a.history)-keep:]...)
	}
}

// History returns a copy of the remembered exchanges.
func (a *Agent) History() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.history...)
}

func (a *Agent) systemPrompt() string {
	return Instructions(a.style) + "\n\nThe current time is " + a.now().Format("2006-01-02 15:04:05 MST") + "."
}
