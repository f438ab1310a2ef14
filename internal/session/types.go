// Package session implements the Session Manager (spec.md §4.H): the
// orchestration hub tying together the Workspace Runtime (F), the Agent
// Backend Adapter (G), the Turn Dedupe Cache (B), and the per-session
// Event Ring (A), cross-publishing into the user-wide stream (I).
//
// Grounded on the teacher's internal/sessions/manager.go for the
// lock-then-snapshot persistence idiom and internal/gateway/server.go for
// the "one component owns the map, others hold only the id" discipline
// (spec.md §9 "id-based back-references instead of cyclic pointers").
package session

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/agentrelay/gateway/internal/agentbackend"
	"github.com/agentrelay/gateway/internal/store"
	"github.com/agentrelay/gateway/internal/turns"
	"github.com/agentrelay/gateway/internal/eventring"
)

// StopMode is the kind of stop requested (spec.md §4.H "two modes").
type StopMode string

const (
	StopAbort     StopMode = "abort"
	StopTerminate StopMode = "terminate"
)

// StopSource explains why a stop was initiated.
type StopSource string

const (
	StopSourceUser    StopSource = "user"
	StopSourceTimeout StopSource = "timeout"
	StopSourceServer  StopSource = "server"
)

// PendingStop tracks an in-flight stop (spec.md §3 "PendingStop"). At
// most one may exist per active session.
type PendingStop struct {
	Mode          StopMode
	Source        StopSource
	RequestedAt   time.Time
	PriorStatus   store.Status
	escalateTimer *time.Timer
}

// ActiveSession exists only while a session is attached to an agent
// process (spec.md §3 "Active-Session record").
type ActiveSession struct {
	mu sync.Mutex

	Session store.Session
	Adapter *agentbackend.Adapter

	subscribers map[string]bool // subscriber ids forwarded to by the user-stream mux

	pendingUI map[string]agentbackend.UIRequest

	toolPartials          map[string]string // toolCallId -> last observed partial (mirrored from the adapter for diagnostics)
	streamedAssistantText string
	hasStreamedThinking   bool

	turnCache         *turns.Cache
	pendingTurnStarts []string // queue of clientTurnIds awaiting the `started` ACK

	pendingStop *PendingStop

	ring *eventring.Ring

	idleTimer *time.Timer
	idleDuration time.Duration

	dirty          bool
	dirtyTimer     *time.Timer
	dirtyDebounce  time.Duration

	gitStatusTimer *time.Timer
	gitStatusDebounce time.Duration

	cancelCtx func()

	procSpan trace.Span // spans the agent subprocess's lifetime (SPEC_FULL.md §5)
}

func newActiveSession(sess store.Session, ringCapacity int, idleDuration, dirtyDebounce, gitStatusDebounce time.Duration) *ActiveSession {
	return &ActiveSession{
		Session:           sess,
		subscribers:       make(map[string]bool),
		pendingUI:         make(map[string]agentbackend.UIRequest),
		toolPartials:      make(map[string]string),
		turnCache:         turns.NewCache(turns.DefaultCapacity, turns.DefaultTTL),
		ring:              eventring.New(ringCapacity),
		idleDuration:      idleDuration,
		dirtyDebounce:     dirtyDebounce,
		gitStatusDebounce: gitStatusDebounce,
	}
}
