package gateway

import (
	"sync"

	"github.com/agentrelay/gateway/internal/permission"
	"github.com/agentrelay/gateway/internal/userstream"
	"github.com/agentrelay/gateway/pkg/protocol"
)

// PermissionSink adapts the Permission Gate's EventSink into the User
// Stream Mux, so permission_request/resolved/expired/cancelled events
// reach every subscriber of the affected session without the gate
// holding any reference back to the connectivity layer (spec.md §9
// "id-based back-references instead of cyclic pointers"). Resolve/
// Expire/Cancel only carry a decision id, so the sink keeps a small
// id -> sessionId map populated at request time to route the follow-up
// events to the same subscribers.
type PermissionSink struct {
	mux *userstream.Mux

	mu        sync.Mutex
	sessionOf map[string]string
}

// NewPermissionSink constructs a PermissionSink over mux.
func NewPermissionSink(mux *userstream.Mux) *PermissionSink {
	return &PermissionSink{mux: mux, sessionOf: make(map[string]string)}
}

var _ permission.EventSink = (*PermissionSink)(nil)

func (p *PermissionSink) PublishPendingDecision(pd permission.PendingDecision) {
	p.mu.Lock()
	p.sessionOf[pd.ID] = pd.SessionID
	p.mu.Unlock()
	p.mux.PublishSessionEvent(pd.SessionID, protocol.NewEventFrame(protocol.EventPermissionRequest, pd), true)
}

func (p *PermissionSink) sessionFor(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	sid := p.sessionOf[id]
	delete(p.sessionOf, id)
	return sid
}

func (p *PermissionSink) PublishResolved(id string, allow bool) {
	sid := p.sessionFor(id)
	p.mux.PublishSessionEvent(sid, protocol.NewEventFrame(protocol.EventCommandResult, map[string]interface{}{
		"kind": "permission_resolved", "id": id, "allow": allow,
	}), false)
}

func (p *PermissionSink) PublishExpired(id string) {
	sid := p.sessionFor(id)
	p.mux.PublishSessionEvent(sid, protocol.NewEventFrame(protocol.EventPermissionExpired, map[string]interface{}{"id": id}), true)
}

func (p *PermissionSink) PublishCancelled(id string) {
	sid := p.sessionFor(id)
	p.mux.PublishSessionEvent(sid, protocol.NewEventFrame(protocol.EventPermissionCanceled, map[string]interface{}{"id": id}), true)
}
