package agentbackend

import (
	"encoding/json"
	"fmt"
)

// rawEvent is the line-delimited JSON shape emitted by the agent
// subprocess's stdout (spec.md §4.G event translation table).
type rawEvent struct {
	Type           string                 `json:"type"`
	Role           string                 `json:"role,omitempty"`
	Content        string                 `json:"content,omitempty"`
	Tool           string                 `json:"tool,omitempty"`
	ToolCallID     string                 `json:"toolCallId,omitempty"`
	Args           map[string]interface{} `json:"args,omitempty"`
	PartialResult  string                 `json:"partialResult,omitempty"`
	FinalText      string                 `json:"finalText,omitempty"`
	IsError        bool                   `json:"isError,omitempty"`
	Text           string                 `json:"text,omitempty"`
	ID             string                 `json:"id,omitempty"`
	Kind           string                 `json:"kind,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
}

// fileMutatingTools counts toward changeStats.FilesChanged (spec.md §4.G
// "update changeStats (write/edit counted as file mutations)").
var fileMutatingTools = map[string]bool{
	"write": true, "edit": true, "multi_edit": true, "notebook_edit": true,
}

func (a *Adapter) translate(line string) {
	var ev rawEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		a.cb.OnTranslateError(line, err)
		return
	}

	switch ev.Type {
	case "agent_start":
		a.cb.OnAgentStart()
		a.cb.OnDurableEvent("agent_start", map[string]interface{}{})

	case "agent_end":
		a.resetTurnAccumulators()
		a.cb.OnAgentEnd()
		a.cb.OnDurableEvent("agent_end", map[string]interface{}{})

	case "message_end":
		if ev.Role == "assistant" || ev.Role == "user" {
			a.cb.OnDurableEvent("message_end", map[string]interface{}{
				"role": ev.Role, "content": ev.Content,
			})
		}

	case "text_delta":
		a.mu.Lock()
		a.streamedAssistantText.WriteString(ev.Text)
		a.mu.Unlock()
		a.cb.OnEphemeralEvent("text_delta", map[string]interface{}{"text": ev.Text})

	case "thinking_delta":
		a.mu.Lock()
		a.hasStreamedThinking = true
		a.mu.Unlock()
		a.cb.OnEphemeralEvent("thinking_delta", map[string]interface{}{"text": ev.Text})

	case "tool_execution_start":
		isMutation := fileMutatingTools[ev.Tool]
		a.cb.OnToolStart(ev.Tool, isMutation)
		a.cb.OnDurableEvent("tool_start", map[string]interface{}{
			"tool": ev.Tool, "toolCallId": ev.ToolCallID, "args": ev.Args,
		})

	case "tool_execution_update":
		delta := a.toolOutputDelta(ev.ToolCallID, ev.PartialResult)
		if delta == "" {
			return
		}
		a.cb.OnEphemeralEvent("tool_output", map[string]interface{}{
			"toolCallId": ev.ToolCallID, "delta": delta,
		})

	case "tool_execution_end":
		a.mu.Lock()
		delete(a.toolOutputLen, ev.ToolCallID)
		a.mu.Unlock()
		a.cb.OnDurableEvent("tool_end", map[string]interface{}{
			"toolCallId": ev.ToolCallID, "finalText": ev.FinalText, "isError": ev.IsError,
		})

	case "auto_compaction_start", "auto_compaction_end", "auto_retry_start", "auto_retry_end":
		a.cb.OnEphemeralEvent(ev.Type, ev.Payload)

	case "extension_ui_request":
		a.handleUIRequest(ev)

	default:
		a.cb.OnTranslateError(line, fmt.Errorf("unknown agent event type %q", ev.Type))
	}
}

// toolOutputDelta returns the substring of partial beyond the last
// observed length for toolCallID, updating the watermark (spec.md §4.G
// "carrying the delta: substring beyond last observed length per
// toolCallId").
func (a *Adapter) toolOutputDelta(toolCallID, partial string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	last := a.toolOutputLen[toolCallID]
	if last > len(partial) {
		last = 0 // subprocess restarted its accumulator; treat as a fresh stream
	}
	delta := partial[last:]
	a.toolOutputLen[toolCallID] = len(partial)
	return delta
}

func (a *Adapter) resetTurnAccumulators() {
	a.mu.Lock()
	a.streamedAssistantText.Reset()
	a.hasStreamedThinking = false
	a.mu.Unlock()
}

var fireAndForgetUIKinds = map[string]bool{
	"notify": true, "setStatus": true, "setWidget": true, "setTitle": true,
}

func (a *Adapter) handleUIRequest(ev rawEvent) {
	responseNeeded := !fireAndForgetUIKinds[ev.Kind]
	if responseNeeded {
		a.mu.Lock()
		a.pendingUI[ev.ID] = make(chan map[string]interface{}, 1)
		a.mu.Unlock()
	}
	a.cb.OnUIRequest(UIRequest{
		ID: ev.ID, Kind: ev.Kind, Payload: ev.Payload, ResponseNeeded: responseNeeded,
	})
}
