package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla websocket to Conn.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex // serializes writers
}

// NewConn wraps an upgraded websocket.
func NewConn(ws *websocket.Conn) Conn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Send(msg domain.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) CloseWith(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
}

// NewClientID returns a fresh time-ordered client identifier.
func NewClientID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ServeWebsocket upgrades the request and serves the connection. An empty
// clientID is replaced with a generated one.
func (g *Gateway) ServeWebsocket(w http.ResponseWriter, r *http.Request, clientID string) {
	if clientID == "" {
		clientID = NewClientID()
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer ws.Close()

	if err := g.Serve(r.Context(), clientID, NewConn(ws)); err != nil {
		g.logger.Debug("connection ended", "client_id", clientID, "err", err)
	}
}
