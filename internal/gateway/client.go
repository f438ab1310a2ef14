package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentrelay/gateway/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one connected /stream WebSocket, grounded on the teacher's
// gateway Client (NewClient/SendEvent/Run/Close), generalized into a
// userstream.Subscriber.
type Client struct {
	id   string
	conn *websocket.Conn
	srv  *Server

	sendMu sync.Mutex
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, srv *Server) *Client {
	return &Client{id: uuid.NewString(), conn: conn, srv: srv}
}

// ID implements userstream.Subscriber.
func (c *Client) ID() string { return c.id }

// Send implements userstream.Subscriber; writes are serialized since
// gorilla/websocket connections are not safe for concurrent writers.
func (c *Client) Send(frame protocol.EventFrame) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(frame); err != nil {
		slog.Debug("gateway.client_send_failed", "client", c.id, "error", err)
	}
}

// Close closes the underlying connection.
func (c *Client) Close() { c.conn.Close() }

// clientMessage is the envelope for every client-to-server WS message
// (pkg/protocol's Msg* constants).
type clientMessage struct {
	Type         string                 `json:"type"`
	SessionID    string                 `json:"sessionId,omitempty"`
	ClientTurnID string                 `json:"clientTurnId,omitempty"`
	Command      string                 `json:"command,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	ID           string                 `json:"id,omitempty"` // pending-decision or UI-request id
	Allow        bool                   `json:"allow,omitempty"`
	Scope        string                 `json:"scope,omitempty"`
	Since        uint64                 `json:"since,omitempty"`
}

// Run pumps inbound messages until the connection closes or ctx is done.
// Grounded on the teacher's Client.Run read loop.
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go c.pingLoop(done)
	defer close(done)

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.srv.dispatchClientMessage(c, msg)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *Client) pingLoop(done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.sendMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.sendMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
