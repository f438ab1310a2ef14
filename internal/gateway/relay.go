package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/agentrelay/gateway/internal/session"
	"github.com/agentrelay/gateway/internal/userstream"
	"github.com/agentrelay/gateway/pkg/protocol"
)

// relayReconnectDelay is how long to wait before redialing a dropped relay
// connection.
const relayReconnectDelay = 5 * time.Second

// RelayClient is an outbound push-relay bridge: it dials out to a remote
// relay endpoint instead of waiting for a phone to dial in, and registers
// itself with the User Stream Mux as an ordinary userstream.Subscriber so
// durable and ephemeral events reach it exactly the way they reach a
// directly connected /stream socket. Grounded on the teacher's
// internal/channels/zalo/personal/protocol/ws_client.go WSClient
// (DialWS/ReadMessage/WriteMessage/Close over coder/websocket), with the
// read side dropped since a push relay has nothing to read back other than
// keepalives.
type RelayClient struct {
	id       string
	url      string
	mux      *userstream.Mux
	sessions *session.Manager
	log      *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRelayClient constructs a relay bridge targeting url. Call Run to dial
// and begin forwarding events.
func NewRelayClient(url string, mux *userstream.Mux, sessions *session.Manager, log *slog.Logger) *RelayClient {
	if log == nil {
		log = slog.Default()
	}
	return &RelayClient{id: "relay-" + url, url: url, mux: mux, sessions: sessions, log: log}
}

// ID implements userstream.Subscriber.
func (rc *RelayClient) ID() string { return rc.id }

// Send implements userstream.Subscriber. Frames are dropped, not buffered,
// when the relay connection is down; the durable ring still lets a phone
// that dials in directly catch up later.
func (rc *RelayClient) Send(frame protocol.EventFrame) {
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()
	if conn == nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		rc.log.Warn("relay.marshal_failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		rc.log.Debug("relay.write_failed", "error", err)
	}
}

// Run dials the relay endpoint and reconnects with a fixed backoff until
// ctx is cancelled. It subscribes to every session active at connect time;
// sessions started afterward are not picked up automatically.
// TODO: have the Session Manager notify relay subscribers of new sessions
// as they start, instead of only at connect time.
func (rc *RelayClient) Run(ctx context.Context) {
	rc.mux.Register(rc)
	defer rc.mux.Unregister(rc.id)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := rc.connectAndServe(ctx); err != nil {
			rc.log.Warn("relay.disconnected", "url", rc.url, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(relayReconnectDelay):
		}
	}
}

func (rc *RelayClient) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, rc.url, nil)
	if err != nil {
		return fmt.Errorf("relay dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	rc.mu.Lock()
	rc.conn = conn
	rc.mu.Unlock()
	defer func() {
		rc.mu.Lock()
		rc.conn = nil
		rc.mu.Unlock()
	}()

	for _, sess := range rc.sessions.ListActive() {
		rc.mux.Subscribe(rc.id, sess.ID)
	}
	rc.log.Info("relay.connected", "url", rc.url)

	<-ctx.Done()
	return ctx.Err()
}
