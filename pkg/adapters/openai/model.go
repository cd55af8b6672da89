// Package openai implements agent.Model over the OpenAI chat completions API
// and OpenAI-compatible providers such as Groq.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aretw0/tradedesk/pkg/agent"
	"github.com/aretw0/tradedesk/pkg/domain"
	goopenai "github.com/sashabaranov/go-openai"
)

// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// Model streams chat completions with tool calling.
type Model struct {
	client *goopenai.Client
	model  string
}

var _ agent.Model = (*Model)(nil)

// New creates a Model. An empty baseURL targets api.openai.com.
func New(apiKey, model, baseURL string) *Model {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Model{client: goopenai.NewClientWithConfig(cfg), model: model}
}

// NewGroq creates a Model backed by Groq.
func NewGroq(apiKey, model string) *Model {
	return New(apiKey, model, GroqBaseURL)
}

// Name returns the model identifier.
func (m *Model) Name() string {
	return m.model
}

// Complete implements agent.Model with a streamed request.
func (m *Model) Complete(ctx context.Context, messages []agent.Message, tools []domain.ToolSpec, onDelta agent.DeltaFunc) (agent.Reply, error) {
	req := goopenai.ChatCompletionRequest{
		Model:    m.model,
		Messages: toMessages(messages),
		Stream:   true,
	}
	if len(tools) > 0 {
		req.Tools = toTools(tools)
	}

	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return agent.Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	defer stream.Close()

	var acc accumulator
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return agent.Reply{}, fmt.Errorf("chat completion stream: %w", err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				acc.content = append(acc.content, choice.Delta.Content...)
				if onDelta != nil {
					if err := onDelta(choice.Delta.Content); err != nil {
						return agent.Reply{}, err
					}
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc.addToolDelta(tc)
			}
		}
	}
	return acc.reply()
}

// accumulator merges streamed deltas. Tool call fragments arrive keyed by
// index: the first fragment carries id and name, the rest extend arguments.
// Fragments without an index continue the most recent call unless they bring
// a new id.
type accumulator struct {
	content []byte
	calls   map[int]*partialCall
	order   int
	last    *partialCall
}

type partialCall struct {
	seq  int
	id   string
	name string
	args []byte
}

func (a *accumulator) addToolDelta(tc goopenai.ToolCall) {
	if a.calls == nil {
		a.calls = make(map[int]*partialCall)
	}
	var pc *partialCall
	switch {
	case tc.Index != nil:
		pc = a.calls[*tc.Index]
		if pc == nil {
			pc = a.open(*tc.Index)
		}
	case a.last != nil && (tc.ID == "" || a.last.id == "" || a.last.id == tc.ID):
		pc = a.last
	default:
		idx := a.order
		for a.calls[idx] != nil {
			idx++
		}
		pc = a.open(idx)
	}
	a.last = pc
	if tc.ID != "" {
		pc.id = tc.ID
	}
	if tc.Function.Name != "" {
		pc.name += tc.Function.Name
	}
	pc.args = append(pc.args, tc.Function.Arguments...)
}

func (a *accumulator) open(idx int) *partialCall {
	pc := &partialCall{seq: idx}
	a.calls[idx] = pc
	a.order++
	return pc
}

func (a *accumulator) reply() (agent.Reply, error) {
	reply := agent.Reply{Content: string(a.content)}
	if len(a.calls) == 0 {
		return reply, nil
	}

	partials := make([]*partialCall, 0, len(a.calls))
	for _, pc := range a.calls {
		partials = append(partials, pc)
	}
	sort.Slice(partials, func(i, j int) bool { return partials[i].seq < partials[j].seq })

	for _, pc := range partials {
		args := map[string]any{}
		if len(pc.args) > 0 {
			if err := json.Unmarshal(pc.args, &args); err != nil {
				return agent.Reply{}, fmt.Errorf("decode arguments of %s: %w", pc.name, err)
			}
		}
		reply.ToolCalls = append(reply.ToolCalls, domain.ToolCall{ID: pc.id, Name: pc.name, Args: args})
	}
	return reply, nil
}

func toMessages(messages []agent.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := goopenai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			m.ToolCalls = append(m.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, m)
	}
	return out
}

func toTools(specs []domain.ToolSpec) []goopenai.Tool {
	out := make([]goopenai.Tool, 0, len(specs))
	for _, spec := range specs {
		params := spec.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
