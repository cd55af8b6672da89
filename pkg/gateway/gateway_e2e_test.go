package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcpadapter "github.com/aretw0/tradedesk/pkg/adapters/mcp"
	"github.com/aretw0/tradedesk/pkg/adapters/memory"
	"github.com/aretw0/tradedesk/pkg/agent"
	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/aretw0/tradedesk/pkg/gateway"
	"github.com/aretw0/tradedesk/pkg/ports"
	"github.com/aretw0/tradedesk/pkg/session"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fundsBroker struct{}

func (fundsBroker) Do(ctx context.Context, op string, params ports.Params) (map[string]any, error) {
	return map[string]any{"status": "success", "data": map[string]any{"availablecash": "808.18"}}, nil
}

// fundsModel asks for get_funds once and then streams an answer quoting the result.
type fundsModel struct{}

func (fundsModel) Complete(ctx context.Context, messages []agent.Message, tools []domain.ToolSpec, onDelta agent.DeltaFunc) (agent.Reply, error) {
	last := messages[len(messages)-1]
	if last.Role != agent.RoleTool {
		return agent.Reply{ToolCalls: []domain.ToolCall{{ID: "call_1", Name: "get_funds", Args: map[string]any{}}}}, nil
	}
	answer := "Funds: " + last.Content
	for _, part := range strings.SplitAfter(answer, ",") {
		if err := onDelta(part); err != nil {
			return agent.Reply{}, err
		}
	}
	return agent.Reply{Content: answer}, nil
}

func TestWebsocket_EndToEnd(t *testing.T) {
	srv := mcpadapter.NewServer(fundsBroker{})
	connector := mcpadapter.NewInProcessConnector(srv.MCPServer())
	mgr := session.NewManager(connector, func(conn ports.ToolConnection) (ports.Agent, error) {
		return agent.New(fundsModel{}, conn), nil
	}, memory.NewStore())
	gw := gateway.New(mgr)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw.ServeWebsocket(w, r, "browser-1")
	}))
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var welcome domain.Outbound
	require.NoError(t, ws.ReadJSON(&welcome))
	assert.Equal(t, gateway.WelcomeMessage, welcome.Content)

	require.NoError(t, ws.WriteJSON(domain.Inbound{Content: "What are my funds?"}))

	var processing domain.Outbound
	require.NoError(t, ws.ReadJSON(&processing))
	assert.Equal(t, gateway.ProcessingMessage, processing.Content)

	var reply strings.Builder
	for {
		var msg domain.Outbound
		require.NoError(t, ws.ReadJSON(&msg))
		if msg.StreamingComplete {
			assert.False(t, msg.IsPartial())
			break
		}
		require.True(t, msg.IsPartial())
		reply.WriteString(msg.Content)
	}
	assert.Contains(t, reply.String(), "808.18")
	assert.True(t, strings.HasPrefix(reply.String(), "Funds: "))

	_, ok := mgr.Get("browser-1")
	assert.True(t, ok)

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return mgr.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
