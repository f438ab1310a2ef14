package agentbackend

import (
	"fmt"

	"github.com/agentrelay/gateway/pkg/protocol"
)

// Dispatch forwards an allowlisted client command to the subprocess.
// Non-allowlisted commands are rejected before ever reaching stdin
// (spec.md §4.G "Non-allowlisted commands are rejected before dispatch").
func (a *Adapter) Dispatch(command string, args map[string]interface{}) error {
	if !protocol.IsAllowlistedCommand(command) {
		return fmt.Errorf("command %q is not allowlisted", command)
	}
	return a.SendCommand(command, args)
}

// MutatesIdentity reports whether command requires a post-dispatch state
// reconciliation pass (spec.md §4.G "State snapshot application").
func MutatesIdentity(command string) bool {
	return protocol.IdentityMutatingCommands[command]
}
