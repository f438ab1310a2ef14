package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/agentrelay/gateway/internal/permission"
	"github.com/agentrelay/gateway/internal/rules"
	"github.com/agentrelay/gateway/internal/session"
	"github.com/agentrelay/gateway/pkg/protocol"
)

// handleWebSocket upgrades to /stream and runs the client's read pump
// (spec.md §4.I, §4.J).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.sourceAllowed(r) {
		http.Error(w, "forbidden source", http.StatusForbidden)
		return
	}
	if !s.authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("gateway.ws_upgrade_failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.mux.Register(client)
	client.Send(protocol.NewEventFrame(protocol.EventConnected, map[string]interface{}{
		"streamSeq": s.mux.CurrentSeq(),
	}))

	defer func() {
		s.mux.Unregister(client.id)
		client.Close()
	}()

	client.Run(r.Context())
}

// dispatchClientMessage routes one decoded client message to the right
// subsystem (spec.md §6 client-to-server WS vocabulary).
func (s *Server) dispatchClientMessage(c *Client, msg clientMessage) {
	switch msg.Type {
	case protocol.MsgSubscribe:
		s.handleSubscribe(c, msg)
	case protocol.MsgUnsubscribe:
		s.mux.Unsubscribe(c.id, msg.SessionID)
	case protocol.MsgPrompt, protocol.MsgSteer, protocol.MsgFollowUp:
		s.handleTurn(c, msg)
	case protocol.MsgAbort:
		s.handleStop(c, msg, session.StopAbort)
	case protocol.MsgStopSession:
		s.handleStop(c, msg, session.StopTerminate)
	case protocol.MsgGetState:
		s.handleCommand(c, msg, protocol.CmdGetState)
	case protocol.MsgPermissionResponse:
		s.handlePermissionResponse(c, msg)
	case protocol.MsgExtensionUIResponse:
		s.handleUIResponse(c, msg)
	default:
		c.Send(protocol.NewEventFrame(protocol.EventError, map[string]interface{}{
			"severity": "low", "detail": "unknown message type: " + msg.Type,
		}))
	}
}

func (s *Server) handleSubscribe(c *Client, msg clientMessage) {
	if msg.SessionID == "" {
		return
	}
	s.mux.Subscribe(c.id, msg.SessionID)

	frames, complete := s.sessions.EventsSince(msg.SessionID, msg.Since)
	if !complete {
		c.Send(protocol.NewEventFrame(protocol.EventError, map[string]interface{}{
			"severity": "low", "sessionId": msg.SessionID, "detail": "catch-up window exceeded; full state resync required",
		}))
		s.handleCommand(c, msg, protocol.CmdGetState)
		return
	}
	for _, f := range frames {
		c.Send(f)
	}
}

func (s *Server) handleTurn(c *Client, msg clientMessage) {
	if _, ok := s.sessions.GetActive(msg.SessionID); !ok {
		if _, err := s.sessions.StartSession(context.Background(), msg.SessionID, workspaceIDFromPayload(msg.Payload)); err != nil {
			c.Send(protocol.NewEventFrame(protocol.EventError, map[string]interface{}{
				"severity": "high", "sessionId": msg.SessionID, "detail": err.Error(),
			}))
			return
		}
	}

	stage, accepted, err := s.sessions.SubmitTurn(msg.SessionID, msg.ClientTurnID, msg.Type, msg.Payload)
	if err != nil {
		c.Send(protocol.NewEventFrame(protocol.EventError, map[string]interface{}{
			"severity": "medium", "sessionId": msg.SessionID, "detail": err.Error(),
		}))
		return
	}
	c.Send(protocol.NewEventFrame(protocol.EventTurnAck, map[string]interface{}{
		"clientTurnId": msg.ClientTurnID, "stage": stage.String(), "accepted": accepted,
	}))
}

func workspaceIDFromPayload(payload map[string]interface{}) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload["workspaceId"].(string); ok {
		return v
	}
	return ""
}

func (s *Server) handleStop(c *Client, msg clientMessage, mode session.StopMode) {
	if err := s.sessions.RequestStop(msg.SessionID, mode, session.StopSourceUser); err != nil {
		c.Send(protocol.NewEventFrame(protocol.EventError, map[string]interface{}{
			"severity": "medium", "sessionId": msg.SessionID, "detail": err.Error(),
		}))
	}
}

func (s *Server) handleCommand(c *Client, msg clientMessage, fallback string) {
	cmd := msg.Command
	if cmd == "" {
		cmd = fallback
	}
	if err := s.sessions.Dispatch(msg.SessionID, cmd, msg.Payload); err != nil {
		c.Send(protocol.NewEventFrame(protocol.EventError, map[string]interface{}{
			"severity": "low", "sessionId": msg.SessionID, "detail": err.Error(),
		}))
	}
}

func (s *Server) handlePermissionResponse(c *Client, msg clientMessage) {
	err := s.sessions.Gate().Resolve(msg.ID, permission.Resolution{
		Allow: msg.Allow,
		Scope: rules.Scope(msg.Scope),
	})
	if err != nil {
		slog.Debug("gateway.permission_resolve_failed", "id", msg.ID, "error", err)
	}
}

func (s *Server) handleUIResponse(c *Client, msg clientMessage) {
	if err := s.sessions.RespondUIRequest(msg.SessionID, msg.ID, msg.Payload); err != nil {
		c.Send(protocol.NewEventFrame(protocol.EventError, map[string]interface{}{
			"severity": "low", "sessionId": msg.SessionID, "detail": err.Error(),
		}))
	}
}
