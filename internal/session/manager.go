package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/agentrelay/gateway/internal/agentbackend"
	"github.com/agentrelay/gateway/internal/config"
	"github.com/agentrelay/gateway/internal/permission"
	"github.com/agentrelay/gateway/internal/policy"
	"github.com/agentrelay/gateway/internal/store"
	"github.com/agentrelay/gateway/internal/tracing"
	"github.com/agentrelay/gateway/internal/turns"
	"github.com/agentrelay/gateway/internal/workspace"
	"github.com/agentrelay/gateway/pkg/protocol"
)

const eventRingCapacity = 500

// EventSink is the seam into the User Stream Mux (spec.md §4.I): every
// durable event is cross-published there in addition to the per-session
// ring; ephemeral events are forwarded only to direct subscribers.
type EventSink interface {
	PublishSessionEvent(sessionID string, frame protocol.EventFrame, durable bool)
}

// WorkspaceLookup resolves a workspace id to its configuration.
type WorkspaceLookup func(workspaceID string) (config.WorkspaceConfig, bool)

// Manager is the Session Manager: the orchestration hub (spec.md §4.H).
type Manager struct {
	cfg       config.SessionsConfig
	runtime   *workspace.Runtime
	gate      *permission.Gate
	store     store.SessionStore
	sink      EventSink
	workspaces WorkspaceLookup
	agentPath string
	log       *slog.Logger

	mu         sync.RWMutex
	active     map[string]*ActiveSession
	inFlight   map[string]chan struct{} // sessionId -> closed when a concurrent start completes
}

// NewManager constructs a Manager.
func NewManager(cfg config.SessionsConfig, rt *workspace.Runtime, gate *permission.Gate, sessStore store.SessionStore,
	sink EventSink, workspaces WorkspaceLookup, agentPath string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg: cfg, runtime: rt, gate: gate, store: sessStore, sink: sink, workspaces: workspaces,
		agentPath: agentPath, log: log,
		active:   make(map[string]*ActiveSession),
		inFlight: make(map[string]chan struct{}),
	}
}

// GetActive returns the live Active-Session for id, if attached.
func (m *Manager) GetActive(id string) (*ActiveSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	as, ok := m.active[id]
	return as, ok
}

// StartSession attaches sessionId to a freshly spawned agent process, or
// refreshes its idle timer if already active (spec.md §4.H "Start").
func (m *Manager) StartSession(ctx context.Context, sessionID, workspaceID string) (*ActiveSession, error) {
	m.mu.Lock()
	if as, ok := m.active[sessionID]; ok {
		m.mu.Unlock()
		as.resetIdleTimer(m)
		return as, nil
	}
	if wait, inFlight := m.inFlight[sessionID]; inFlight {
		m.mu.Unlock()
		<-wait
		m.mu.RLock()
		as, ok := m.active[sessionID]
		m.mu.RUnlock()
		if ok {
			return as, nil
		}
		return nil, fmt.Errorf("session %s failed to start", sessionID)
	}
	done := make(chan struct{})
	m.inFlight[sessionID] = done
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inFlight, sessionID)
		m.mu.Unlock()
		close(done)
	}()

	as, err := m.doStart(ctx, sessionID, workspaceID)
	if err != nil {
		return nil, err
	}
	return as, nil
}

func (m *Manager) doStart(ctx context.Context, sessionID, workspaceID string) (*ActiveSession, error) {
	sessHandle, err := m.runtime.AcquireSession(ctx, workspaceID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	defer sessHandle.Release()

	wsHandle, err := m.runtime.AcquireWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	defer wsHandle.Release()

	ws, ok := m.workspaces(workspaceID)
	if !ok {
		return nil, fmt.Errorf("unknown workspace %s", workspaceID)
	}

	if err := m.runtime.ReserveSlot(workspaceID, ws.MaxConcurrentSessions); err != nil {
		return nil, err
	}
	releaseReservation := true
	defer func() {
		if releaseReservation {
			m.runtime.ReleaseSlot(workspaceID)
		}
	}()

	sess, found, err := m.store.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		sess = store.Session{
			ID: sessionID, WorkspaceID: workspaceID, Status: store.StatusStarting,
			Model: ws.DefaultModel, CreatedAt: time.Now(),
		}
	}
	sess.Status = store.StatusStarting
	sess.LastActivity = time.Now()

	as := newActiveSession(sess, eventRingCapacity, m.idleTimeoutFor(), m.cfg.DirtyWriteDebounceDuration(), m.cfg.GitStatusDebounceDuration())
	_, as.procSpan = tracing.StartAgentSpan(ctx, sessionID)

	gateServer, err := agentbackend.NewGateServer(m.gate, sessionID, workspaceID, func() policy.WorkspacePolicy {
		return workspacePolicyFor(ws)
	})
	if err != nil {
		tracing.EndSpanErr(as.procSpan, err)
		return nil, fmt.Errorf("start gate server: %w", err)
	}
	gateCtx, cancel := context.WithCancel(context.Background())
	as.cancelCtx = cancel
	go gateServer.Serve(gateCtx)

	cb := &callbacks{m: m, as: as}
	adapter, err := agentbackend.Spawn(gateCtx, agentbackend.Spec{
		SessionID: sessionID, WorkspaceID: workspaceID, HostPath: ws.HostPath,
		Executable: m.agentPath, Model: sess.Model, ThinkingLevel: sess.ThinkingLevel,
		ResumeFromTracePath: firstOrEmpty(sess.TracePaths), Skills: ws.Skills,
		GateAddr: gateServer.Addr(), GateToken: gateServer.Token(),
	}, cb, m.log)
	if err != nil {
		cancel()
		tracing.EndSpanErr(as.procSpan, err)
		return nil, fmt.Errorf("spawn agent backend: %w", err)
	}
	as.Adapter = adapter

	sess.Status = store.StatusReady
	as.Session = sess

	m.mu.Lock()
	m.active[sessionID] = as
	m.mu.Unlock()

	releaseReservation = false

	if err := m.store.Save(sess); err != nil {
		m.log.Error("persist session on start", "session_id", sessionID, "error", err)
	}
	as.resetIdleTimer(m)

	go m.bootstrapState(as)

	return as, nil
}

func firstOrEmpty(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func workspacePolicyFor(ws config.WorkspaceConfig) policy.WorkspacePolicy {
	runtime := policy.RuntimeHost
	if ws.Runtime == "container" {
		runtime = policy.RuntimeContainer
	}
	var allowed []policy.AllowedPath
	for _, p := range ws.AllowedPaths {
		allowed = append(allowed, policy.AllowedPath{Path: p.Path, ReadWrite: p.Access == "readwrite"})
	}
	exec := make(map[string]bool, len(ws.AllowedExecutables))
	for _, e := range ws.AllowedExecutables {
		exec[e] = true
	}
	return policy.WorkspacePolicy{Runtime: runtime, AllowedPaths: allowed, ExecutableAllowlist: exec}
}

func (m *Manager) idleTimeoutFor() time.Duration { return m.cfg.IdleTimeoutDuration() }

// bootstrapState performs a best-effort state-bootstrap after start:
// reconcile trace file/id and apply any remembered thinking level for
// this model (spec.md §4.H step 4). External collaborators (trace
// parsing) are out of scope; this issues a get_state command and lets
// the reconciliation callback apply whatever the adapter returns.
func (m *Manager) bootstrapState(as *ActiveSession) {
	if err := as.Adapter.Dispatch("get_state", nil); err != nil {
		m.log.Warn("state bootstrap dispatch failed", "session_id", as.Session.ID, "error", err)
	}
}

// SubmitTurn implements the three-stage ACK lifecycle shared by prompt,
// steer, and follow_up (spec.md §4.H "Turn intent protocol").
func (m *Manager) SubmitTurn(sessionID, clientTurnID, command string, payload map[string]interface{}) (turns.Stage, bool, error) {
	as, ok := m.GetActive(sessionID)
	if !ok {
		return 0, false, fmt.Errorf("session %s is not active", sessionID)
	}

	if command == protocol.MsgSteer || command == protocol.MsgFollowUp {
		as.mu.Lock()
		busy := as.Session.Status == store.StatusBusy
		as.mu.Unlock()
		if !busy {
			return 0, false, fmt.Errorf("%s requires an in-progress turn", command)
		}
	}

	hash := turns.HashPayload(command, payload)
	rec, duplicate, err := as.turnCache.Accept(clientTurnID, command, hash)
	if err != nil {
		return 0, false, err
	}
	if duplicate {
		return rec.Stage, true, nil
	}

	as.mu.Lock()
	as.pendingTurnStarts = append(as.pendingTurnStarts, clientTurnID)
	as.mu.Unlock()

	_, turnSpan := tracing.StartTurnSpan(context.Background(), sessionID, clientTurnID, command)
	err = as.Adapter.Dispatch(command, payload)
	tracing.EndSpanErr(turnSpan, err)
	if err != nil {
		return rec.Stage, false, fmt.Errorf("dispatch turn: %w", err)
	}
	as.turnCache.UpdateStage(clientTurnID, turns.StageDispatched)
	as.resetIdleTimer(m)
	return turns.StageDispatched, false, nil
}

// RequestStop drives the stop state machine (spec.md §4.H "Stop state
// machine").
func (m *Manager) RequestStop(sessionID string, mode StopMode, source StopSource) error {
	as, ok := m.GetActive(sessionID)
	if !ok {
		return fmt.Errorf("session %s is not active", sessionID)
	}

	as.mu.Lock()
	if as.pendingStop != nil {
		as.mu.Unlock()
		return fmt.Errorf("a stop is already in progress for session %s", sessionID)
	}
	idle := as.Session.Status == store.StatusReady || as.Session.Status == store.StatusStopped
	if mode == StopAbort && idle {
		as.mu.Unlock()
		m.emitDurable(as, "stop_confirmed", nil)
		return nil
	}

	prior := as.Session.Status
	as.pendingStop = &PendingStop{Mode: mode, Source: source, RequestedAt: time.Now(), PriorStatus: prior}
	as.Session.Status = store.StatusStopping
	as.mu.Unlock()

	m.emitDurable(as, "stop_requested", nil)
	m.markDirty(as, true)

	if err := as.Adapter.SendAbort(); err != nil {
		m.log.Error("send abort", "session_id", sessionID, "error", err)
	}

	switch mode {
	case StopAbort:
		m.scheduleAbortPhase1(as)
	case StopTerminate:
		m.scheduleTerminate(as)
	}
	return nil
}

func (m *Manager) scheduleAbortPhase1(as *ActiveSession) {
	as.mu.Lock()
	ps := as.pendingStop
	as.mu.Unlock()
	if ps == nil {
		return
	}
	ps.escalateTimer = time.AfterFunc(m.cfg.AbortPhase1(), func() {
		as.mu.Lock()
		stillPending := as.pendingStop == ps
		as.mu.Unlock()
		if !stillPending {
			return
		}
		if err := as.Adapter.SendAbort(); err != nil {
			m.log.Error("retry abort", "session_id", as.Session.ID, "error", err)
		}
		ps.escalateTimer = time.AfterFunc(m.cfg.AbortPhase2(), func() {
			as.mu.Lock()
			stillPending := as.pendingStop == ps
			if stillPending {
				as.Session.Status = ps.PriorStatus
				as.pendingStop = nil
			}
			as.mu.Unlock()
			if stillPending {
				m.emitDurable(as, "stop_failed", map[string]interface{}{"message": "agent is still processing"})
				m.markDirty(as, true)
			}
		})
	})
}

func (m *Manager) scheduleTerminate(as *ActiveSession) {
	time.AfterFunc(m.cfg.TerminateGraceDuration(), func() {
		as.mu.Lock()
		ps := as.pendingStop
		as.mu.Unlock()
		if ps == nil || ps.Mode != StopTerminate {
			return
		}
		if err := as.Adapter.ForceDispose(); err != nil {
			m.emitDurable(as, "stop_failed", map[string]interface{}{"message": err.Error()})
			return
		}
		m.emitDurable(as, "stop_confirmed", nil)
		m.endSession(as, "terminated")
	})
}

// CancelSession tears a session down immediately: cancels all pending
// permission decisions, UI requests, stops timers, and removes the
// Active-Session record (spec.md §4.H, §4.E "On session end").
func (m *Manager) CancelSession(sessionID string) {
	m.mu.Lock()
	as, ok := m.active[sessionID]
	if ok {
		delete(m.active, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.endSession(as, "cancelled")
}

func (m *Manager) endSession(as *ActiveSession, reason string) {
	m.gate.CancelSession(as.Session.ID)
	as.Adapter.CancelPendingUIRequests()
	if as.cancelCtx != nil {
		as.cancelCtx()
	}
	if as.procSpan != nil {
		as.procSpan.End()
	}

	as.mu.Lock()
	as.Session.Status = store.StatusStopped
	if as.idleTimer != nil {
		as.idleTimer.Stop()
	}
	if as.dirtyTimer != nil {
		as.dirtyTimer.Stop()
	}
	if as.gitStatusTimer != nil {
		as.gitStatusTimer.Stop()
	}
	as.mu.Unlock()

	m.runtime.ReleaseSlot(as.Session.WorkspaceID)
	if err := m.store.Save(as.Session); err != nil {
		m.log.Error("persist session on end", "session_id", as.Session.ID, "error", err)
	}
	m.emitDurable(as, "session_ended", map[string]interface{}{"reason": reason})

	m.mu.Lock()
	delete(m.active, as.Session.ID)
	m.mu.Unlock()
}

// Dispatch forwards an allowlisted client command to the session's agent
// backend, scheduling a state reconciliation afterward for
// identity-mutating commands.
func (m *Manager) Dispatch(sessionID, command string, args map[string]interface{}) error {
	as, ok := m.GetActive(sessionID)
	if !ok {
		return fmt.Errorf("session %s is not active", sessionID)
	}
	if err := as.Adapter.Dispatch(command, args); err != nil {
		return err
	}
	if agentbackend.MutatesIdentity(command) {
		go func() {
			time.Sleep(100 * time.Millisecond) // let the agent apply the mutation before asking for state
			_ = as.Adapter.Dispatch(protocol.CmdGetState, nil)
		}()
	}
	as.resetIdleTimer(m)
	return nil
}

func (m *Manager) emitDurable(as *ActiveSession, eventType string, payload map[string]interface{}) {
	frame := protocol.NewEventFrame(eventType, payload)
	frame.SessionID = as.Session.ID
	frame.Seq = as.ring.Push(frame)
	if m.sink != nil {
		m.sink.PublishSessionEvent(as.Session.ID, frame, true)
	}
}

func (m *Manager) emitEphemeral(as *ActiveSession, eventType string, payload map[string]interface{}) {
	frame := protocol.NewEventFrame(eventType, payload)
	frame.SessionID = as.Session.ID
	if m.sink != nil {
		m.sink.PublishSessionEvent(as.Session.ID, frame, false)
	}
}

func (m *Manager) markDirty(as *ActiveSession, forceFlush bool) {
	as.mu.Lock()
	as.Session.LastActivity = time.Now()
	as.dirty = true
	if forceFlush {
		if as.dirtyTimer != nil {
			as.dirtyTimer.Stop()
		}
		sess := as.Session
		as.dirty = false
		as.mu.Unlock()
		if err := m.store.Save(sess); err != nil {
			m.log.Error("flush dirty session", "session_id", sess.ID, "error", err)
		}
		return
	}
	if as.dirtyTimer == nil {
		as.dirtyTimer = time.AfterFunc(as.dirtyDebounce, func() { m.flushDirty(as) })
	}
	as.mu.Unlock()
}

func (m *Manager) flushDirty(as *ActiveSession) {
	as.mu.Lock()
	if !as.dirty {
		as.mu.Unlock()
		return
	}
	as.dirty = false
	sess := as.Session
	as.mu.Unlock()
	if err := m.store.Save(sess); err != nil {
		m.log.Error("flush dirty session", "session_id", sess.ID, "error", err)
	}
}

// idleRecheckInterval is how soon a timed-out session is rechecked
// against IdleSchedule when the schedule says "not due yet" (EXPANSION,
// SPEC_FULL.md §4.H).
const idleRecheckInterval = 1 * time.Minute

func (as *ActiveSession) resetIdleTimer(m *Manager) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.idleTimer != nil {
		as.idleTimer.Stop()
	}
	sessionID := as.Session.ID
	as.idleTimer = time.AfterFunc(as.idleDuration, func() { m.onIdleTimeout(sessionID) })
}

// onIdleTimeout fires the idle-timeout stop, unless cfg.IdleSchedule
// confines auto-disconnects to a cron window the current moment isn't
// in, in which case it is deferred to the next recheck.
func (m *Manager) onIdleTimeout(sessionID string) {
	if sched := m.cfg.IdleSchedule; sched != "" {
		due, err := gronx.New().IsDue(sched, time.Now())
		if err != nil {
			m.log.Warn("session.bad_idle_schedule", "schedule", sched, "error", err)
		} else if !due {
			if as, ok := m.GetActive(sessionID); ok {
				as.resetIdleTimerAfter(m, idleRecheckInterval)
			}
			return
		}
	}
	_ = m.RequestStop(sessionID, StopAbort, StopSourceTimeout)
}

func (as *ActiveSession) resetIdleTimerAfter(m *Manager, d time.Duration) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.idleTimer != nil {
		as.idleTimer.Stop()
	}
	sessionID := as.Session.ID
	as.idleTimer = time.AfterFunc(d, func() { m.onIdleTimeout(sessionID) })
}

// scheduleGitStatusProbe debounces a best-effort git-status check against
// the workspace's host path (spec.md §4.H "Git status (collaborator)").
// The probe itself is an external collaborator out of scope for the
// core; this hook only owns the debounce.
func (m *Manager) scheduleGitStatusProbe(as *ActiveSession, probe func()) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.gitStatusTimer != nil {
		as.gitStatusTimer.Stop()
	}
	as.gitStatusTimer = time.AfterFunc(as.gitStatusDebounce, probe)
}

// newClientTurnID is exposed for server-generated turns (e.g. an
// operator-issued prompt via REST rather than WebSocket).
func newClientTurnID() string { return uuid.NewString() }

// Gate exposes the Permission Gate so the connectivity layer can route
// permission_response messages directly to Resolve.
func (m *Manager) Gate() *permission.Gate { return m.gate }

// RespondUIRequest delivers a phone response to a pending response-bearing
// extension UI request for sessionID.
func (m *Manager) RespondUIRequest(sessionID, id string, response map[string]interface{}) error {
	as, ok := m.GetActive(sessionID)
	if !ok {
		return fmt.Errorf("session %s is not active", sessionID)
	}
	as.mu.Lock()
	delete(as.pendingUI, id)
	as.mu.Unlock()
	as.Adapter.RespondUIRequest(id, response)
	return nil
}

// EventsSince returns sessionID's per-session durable catch-up slice for
// sinceSeq, and whether the session's ring could serve it gaplessly
// (spec.md §4.A "CanServe").
func (m *Manager) EventsSince(sessionID string, sinceSeq uint64) ([]protocol.EventFrame, bool) {
	as, ok := m.GetActive(sessionID)
	if !ok {
		return nil, false
	}
	if !as.ring.CanServe(sinceSeq) {
		return nil, false
	}
	entries := as.ring.Since(sinceSeq)
	frames := make([]protocol.EventFrame, 0, len(entries))
	for _, e := range entries {
		if f, ok := e.Event.(protocol.EventFrame); ok {
			f.Seq = e.Seq
			frames = append(frames, f)
		}
	}
	return frames, true
}

// ListActive returns a snapshot of every attached session's Session
// record.
func (m *Manager) ListActive() []store.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.Session, 0, len(m.active))
	for _, as := range m.active {
		as.mu.Lock()
		out = append(out, as.Session)
		as.mu.Unlock()
	}
	return out
}
