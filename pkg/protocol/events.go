// Package protocol defines the wire vocabulary shared between the gateway
// and its clients: event type names, RPC method names, and the envelope
// shapes carried over the WebSocket and REST surfaces.
package protocol

// ProtocolVersion is bumped whenever the wire shape changes incompatibly.
const ProtocolVersion = 1

// Durable event types. These are retained in an Event Ring
// (internal/eventring) and replayed on reconnect: session events in both the
// per-session ring and the user-stream ring, permission events in the
// user-stream ring only.
const (
	EventAgentStart         = "agent_start"
	EventAgentEnd           = "agent_end"
	EventMessageEnd         = "message_end"
	EventToolStart          = "tool_start"
	EventToolEnd            = "tool_end"
	EventPermissionRequest  = "permission_request"
	EventPermissionExpired  = "permission_expired"
	EventPermissionCanceled = "permission_cancelled"
	EventStopRequested      = "stop_requested"
	EventStopConfirmed      = "stop_confirmed"
	EventStopFailed         = "stop_failed"
	EventSessionEnded       = "session_ended"
	EventError              = "error"
)

// Ephemeral event types. High-frequency deltas; never retained in the ring.
const (
	EventTextDelta     = "text_delta"
	EventThinkingDelta = "thinking_delta"
	EventToolOutput    = "tool_output"
	EventState         = "state"
	EventGitStatus     = "git_status"
)

// Control-plane event/message types exchanged over the WebSocket, not part
// of the per-session durable/ephemeral event vocabulary above.
const (
	EventTurnAck       = "turn_ack"
	EventCommandResult = "command_result"
	EventConnected     = "connected"
)

// Informational passthrough events forwarded from the agent backend
// verbatim (see internal/agentbackend).
const (
	EventAutoCompactionStart = "auto_compaction_start"
	EventAutoCompactionEnd   = "auto_compaction_end"
	EventAutoRetryStart      = "auto_retry_start"
	EventAutoRetryEnd        = "auto_retry_end"
	EventExtensionUIRequest  = "extension_ui_request"
)

// IsDurable reports whether an event type belongs to the durable subset
// replayed from the Event Ring on reconnect (spec.md §3, §4.A).
func IsDurable(eventType string) bool {
	switch eventType {
	case EventAgentStart, EventAgentEnd, EventMessageEnd, EventToolStart, EventToolEnd,
		EventPermissionRequest, EventPermissionExpired, EventPermissionCanceled,
		EventStopRequested, EventStopConfirmed, EventStopFailed, EventSessionEnded, EventError:
		return true
	default:
		return false
	}
}

// EventFrame is the envelope sent to clients for every event, durable or
// ephemeral. Seq is zero for ephemeral events (they are never ring-indexed).
type EventFrame struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Seq       uint64      `json:"seq,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"ts"`
}

// NewEventFrame constructs an EventFrame with the given type and payload.
// Seq is filled in by the caller (the event ring / mux owns sequencing; see
// internal/eventring). Timestamp is left zero; nothing in this module sets it.
func NewEventFrame(eventType string, payload interface{}) EventFrame {
	return EventFrame{Type: eventType, Payload: payload}
}
