package protocol

// Client-to-server WebSocket message types (subprotocol over /stream).
const (
	MsgSubscribe           = "subscribe"
	MsgUnsubscribe         = "unsubscribe"
	MsgPrompt              = "prompt"
	MsgSteer               = "steer"
	MsgFollowUp            = "follow_up"
	MsgAbort               = "abort"
	MsgStopSession         = "stop_session"
	MsgGetState            = "get_state"
	MsgPermissionResponse  = "permission_response"
	MsgExtensionUIResponse = "extension_ui_response"
)

// TurnCommands are the three client-submitted turn kinds sharing the
// accepted → dispatched → started ACK lifecycle (spec.md §4.H).
var TurnCommands = map[string]bool{
	MsgPrompt:   true,
	MsgSteer:    true,
	MsgFollowUp: true,
}

// Allowlisted agent commands the client may forward through the backend
// adapter's command dispatch (spec.md §4.G "Command dispatch"). Anything
// not in this set is rejected before it reaches the subprocess.
const (
	CmdGetState            = "get_state"
	CmdGetMessages         = "get_messages"
	CmdSetModel            = "set_model"
	CmdCycleModel          = "cycle_model"
	CmdSetThinkingLevel    = "set_thinking_level"
	CmdCycleThinkingLevel  = "cycle_thinking_level"
	CmdNewSession          = "new_session"
	CmdSetSessionName      = "set_session_name"
	CmdCompact             = "compact"
	CmdSetAutoCompaction   = "set_auto_compaction"
	CmdFork                = "fork"
	CmdSwitchSession       = "switch_session"
	CmdSetSteeringMode     = "set_steering_mode"
	CmdSetFollowUpMode     = "set_follow_up_mode"
	CmdSetAutoRetry        = "set_auto_retry"
	CmdAbortRetry          = "abort_retry"
	CmdBash                = "bash"
	CmdAbortBash           = "abort_bash"
	CmdGetCommands         = "get_commands"
)

// AllowlistedCommands is the exhaustiveness guarantee for command dispatch:
// a command not present here is rejected before ever reaching the agent
// subprocess (spec.md §9 "the allowlist is the exhaustiveness guarantee").
var AllowlistedCommands = map[string]bool{
	CmdGetState:           true,
	CmdGetMessages:        true,
	CmdSetModel:           true,
	CmdCycleModel:         true,
	CmdSetThinkingLevel:   true,
	CmdCycleThinkingLevel: true,
	CmdNewSession:         true,
	CmdSetSessionName:     true,
	CmdCompact:            true,
	CmdSetAutoCompaction:  true,
	CmdFork:               true,
	CmdSwitchSession:      true,
	CmdSetSteeringMode:    true,
	CmdSetFollowUpMode:    true,
	CmdSetAutoRetry:       true,
	CmdAbortRetry:         true,
	CmdBash:               true,
	CmdAbortBash:          true,
	CmdGetCommands:        true,
}

// IsAllowlistedCommand reports whether a client-forwarded command may be
// dispatched to the agent backend.
func IsAllowlistedCommand(cmd string) bool {
	return AllowlistedCommands[cmd]
}

// Commands that mutate session identity and therefore require a state
// snapshot reconciliation afterward (spec.md §4.G "State snapshot
// application").
var IdentityMutatingCommands = map[string]bool{
	CmdFork:               true,
	CmdNewSession:         true,
	CmdSwitchSession:      true,
	CmdSetModel:           true,
	CmdCycleModel:         true,
	CmdSetSessionName:     true,
	CmdSetThinkingLevel:   true,
	CmdCycleThinkingLevel: true,
}

// REST method names, grounded on the teacher's pkg/protocol method-name
// constant style.
const (
	MethodPairingExchange   = "pairing.exchange"
	MethodPermissionsList   = "permissions.list"
	MethodRulesList         = "rules.list"
	MethodRulesPatch        = "rules.patch"
	MethodRulesDelete       = "rules.delete"
	MethodAuditList         = "audit.list"
	MethodStreamEvents      = "stream.events"
)
