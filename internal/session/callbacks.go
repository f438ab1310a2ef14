package session

import (
	"github.com/agentrelay/gateway/internal/agentbackend"
	"github.com/agentrelay/gateway/internal/store"
	"github.com/agentrelay/gateway/internal/turns"
)

// callbacks adapts one ActiveSession's agentbackend.Callbacks into the
// Manager's durable/ephemeral broadcasting, turn ACK advancement, and
// change-stat bookkeeping (spec.md §4.G event translation table).
type callbacks struct {
	m  *Manager
	as *ActiveSession
}

var _ agentbackend.Callbacks = (*callbacks)(nil)

func (c *callbacks) OnDurableEvent(eventType string, payload map[string]interface{}) {
	c.m.emitDurable(c.as, eventType, payload)
	c.m.markDirty(c.as, false)
}

func (c *callbacks) OnEphemeralEvent(eventType string, payload map[string]interface{}) {
	c.m.emitEphemeral(c.as, eventType, payload)
}

func (c *callbacks) OnAgentStart() {
	c.as.mu.Lock()
	c.as.Session.Status = store.StatusBusy
	var turnID string
	if len(c.as.pendingTurnStarts) > 0 {
		turnID = c.as.pendingTurnStarts[0]
		c.as.pendingTurnStarts = c.as.pendingTurnStarts[1:]
	}
	c.as.mu.Unlock()

	if turnID != "" {
		rec, ok := c.as.turnCache.UpdateStage(turnID, turns.StageStarted)
		if ok {
			c.m.emitEphemeral(c.as, "turn_ack", map[string]interface{}{
				"clientTurnId": turnID, "command": rec.Command, "stage": rec.Stage.String(),
			})
		}
	}
	c.m.markDirty(c.as, true)
}

func (c *callbacks) OnAgentEnd() {
	c.as.mu.Lock()
	ps := c.as.pendingStop
	if ps != nil && ps.Mode == StopAbort {
		c.as.Session.Status = store.StatusReady
		c.as.pendingStop = nil
	} else if ps != nil && ps.Mode == StopTerminate {
		c.as.Session.Status = store.StatusStopping
	} else {
		c.as.Session.Status = store.StatusReady
	}
	c.as.mu.Unlock()

	if ps != nil && ps.Mode == StopAbort {
		if ps.escalateTimer != nil {
			ps.escalateTimer.Stop()
		}
		c.m.emitDurable(c.as, "stop_confirmed", nil)
	}
	c.m.markDirty(c.as, true)
}

func (c *callbacks) OnToolStart(tool string, isFileMutation bool) {
	if isFileMutation {
		c.as.mu.Lock()
		c.as.Session.ChangeStats.FilesChanged++
		c.as.mu.Unlock()
	}
	c.as.mu.Lock()
	c.as.Session.ChangeStats.ToolCalls++
	c.as.mu.Unlock()
	c.m.markDirty(c.as, false)

	if isFileMutation || tool == "bash" {
		c.m.scheduleGitStatusProbe(c.as, func() {
			// The git-status probe itself is an external collaborator
			// (spec.md §1 "out of scope... the git-status probe"); this
			// gateway only owns the debounce and the ephemeral event shape.
			c.m.emitEphemeral(c.as, "git_status", map[string]interface{}{})
		})
	}
}

func (c *callbacks) OnUIRequest(req agentbackend.UIRequest) {
	if req.ResponseNeeded {
		c.as.mu.Lock()
		c.as.pendingUI[req.ID] = req
		c.as.mu.Unlock()
	}
	c.m.emitEphemeral(c.as, "extension_ui_request", map[string]interface{}{
		"id": req.ID, "kind": req.Kind, "payload": req.Payload,
	})
}

func (c *callbacks) OnStateReconcile(snap agentbackend.StateSnapshot) {
	c.as.mu.Lock()
	if snap.TraceFilePath != "" {
		found := false
		for _, p := range c.as.Session.TracePaths {
			if p == snap.TraceFilePath {
				found = true
				break
			}
		}
		if !found {
			c.as.Session.TracePaths = append(c.as.Session.TracePaths, snap.TraceFilePath)
		}
	}
	if snap.Model != "" {
		c.as.Session.Model = snap.Model
	}
	if snap.ThinkingLevel != "" {
		c.as.Session.ThinkingLevel = snap.ThinkingLevel
	}
	if snap.ContextWindow != 0 {
		c.as.Session.ContextWindow = snap.ContextWindow
	}
	if snap.SessionName != "" {
		c.as.Session.DisplayName = snap.SessionName
	}
	c.as.mu.Unlock()
	c.m.markDirty(c.as, true)
}

func (c *callbacks) OnTranslateError(raw string, err error) {
	c.m.emitDurable(c.as, "error", map[string]interface{}{"severity": "low", "detail": err.Error(), "raw": raw})
}
