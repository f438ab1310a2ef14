// Package userstream implements the User Stream Mux (spec.md §4.I): a
// per-user durable Event Ring plus a WebSocket handler that multiplexes
// subscriptions to individual sessions over one socket.
//
// Grounded on the teacher's internal/bus.EventPublisher
// (Subscribe/Unsubscribe/Broadcast) and internal/gateway/server.go's
// registerClient/unregisterClient/BroadcastEvent, generalized from "one
// flat broadcast to every client" to "per-subscriber session filters plus
// a durable catch-up ring."
package userstream

import (
	"sync"

	"github.com/agentrelay/gateway/internal/eventring"
	"github.com/agentrelay/gateway/pkg/protocol"
)

const userRingCapacity = 500

// Subscriber receives frames pushed by the mux. Implemented by each live
// WebSocket connection's send loop.
type Subscriber interface {
	ID() string
	Send(frame protocol.EventFrame)
}

// Mux is the User Stream Mux. One Mux instance serves the whole gateway
// (single-user workstation control plane; spec.md §1); "per-user" in the
// spec collapses to "per-gateway" here since there is exactly one
// authenticated owner.
type Mux struct {
	mu   sync.RWMutex
	ring *eventring.Ring

	subscribers    map[string]Subscriber          // all connected sockets, by id
	sessionSubs    map[string]map[string]bool     // sessionId -> set of subscriber ids watching it
	subscriberSessions map[string]map[string]bool // subscriber id -> set of sessionIds it watches
}

// New constructs an empty Mux.
func New() *Mux {
	return &Mux{
		ring:               eventring.New(userRingCapacity),
		subscribers:        make(map[string]Subscriber),
		sessionSubs:        make(map[string]map[string]bool),
		subscriberSessions: make(map[string]map[string]bool),
	}
}

// Register adds a newly connected socket to the mux.
func (mx *Mux) Register(sub Subscriber) {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	mx.subscribers[sub.ID()] = sub
	mx.subscriberSessions[sub.ID()] = make(map[string]bool)
}

// Unregister removes a disconnected socket and all of its session
// subscriptions.
func (mx *Mux) Unregister(subscriberID string) {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	for sessionID := range mx.subscriberSessions[subscriberID] {
		delete(mx.sessionSubs[sessionID], subscriberID)
	}
	delete(mx.subscriberSessions, subscriberID)
	delete(mx.subscribers, subscriberID)
}

// Subscribe attaches subscriberID to sessionID's event stream.
func (mx *Mux) Subscribe(subscriberID, sessionID string) {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	if mx.sessionSubs[sessionID] == nil {
		mx.sessionSubs[sessionID] = make(map[string]bool)
	}
	mx.sessionSubs[sessionID][subscriberID] = true
	if mx.subscriberSessions[subscriberID] == nil {
		mx.subscriberSessions[subscriberID] = make(map[string]bool)
	}
	mx.subscriberSessions[subscriberID][sessionID] = true
}

// Unsubscribe detaches subscriberID from sessionID's event stream.
func (mx *Mux) Unsubscribe(subscriberID, sessionID string) {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	delete(mx.sessionSubs[sessionID], subscriberID)
	delete(mx.subscriberSessions[subscriberID], sessionID)
}

// PublishSessionEvent implements session.EventSink: it assigns a
// user-level streamSeq to durable events (recording them in the durable
// ring for catch-up) and fans the frame out to every subscriber of
// sessionID. Ephemeral events are fanned out without touching the ring.
func (mx *Mux) PublishSessionEvent(sessionID string, frame protocol.EventFrame, durable bool) {
	mx.mu.RLock()
	subs := make([]Subscriber, 0, len(mx.sessionSubs[sessionID]))
	for id := range mx.sessionSubs[sessionID] {
		if s, ok := mx.subscribers[id]; ok {
			subs = append(subs, s)
		}
	}
	mx.mu.RUnlock()

	if durable {
		streamSeq := mx.ring.Push(frame)
		frame.Seq = streamSeq
	}
	for _, s := range subs {
		s.Send(frame)
	}
}

// Since returns the durable catch-up slice for sinceSeq, and whether the
// ring could serve it gaplessly (spec.md §4.I "a replay slice (empty if
// the ring cannot serve)").
func (mx *Mux) Since(sinceSeq uint64) (frames []protocol.EventFrame, complete bool) {
	if !mx.ring.CanServe(sinceSeq) {
		return nil, false
	}
	entries := mx.ring.Since(sinceSeq)
	frames = make([]protocol.EventFrame, 0, len(entries))
	for _, e := range entries {
		if f, ok := e.Event.(protocol.EventFrame); ok {
			f.Seq = e.Seq
			frames = append(frames, f)
		}
	}
	return frames, true
}

// CurrentSeq returns the most recently assigned user-level streamSeq.
func (mx *Mux) CurrentSeq() uint64 { return mx.ring.LastSeq() }
