package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentrelay/gateway/internal/permission"
	"github.com/agentrelay/gateway/internal/rules"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handlePair exchanges a pairing code for a device token
// (pkg/protocol.MethodPairingExchange). Unauthenticated by design: this
// is how a device gets its first token.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.pairingSvc == nil {
		writeErr(w, http.StatusNotFound, "pairing is not configured")
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "bad request")
		return
	}
	host := r.RemoteAddr
	if h, _, err := splitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	token, err := s.pairingSvc.Exchange(host, body.Code)
	if err != nil {
		writeErr(w, http.StatusForbidden, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deviceToken": token})
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr, "", nil
	}
	return addr[:idx], addr[idx+1:], nil
}

// handleRules implements pkg/protocol.MethodRulesList (GET) and rule
// creation (POST).
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	switch r.Method {
	case http.MethodGet:
		all, err := s.ruleStore.GetAll()
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, all)
	case http.MethodPost:
		var rule rules.Rule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			writeErr(w, http.StatusBadRequest, "bad request")
			return
		}
		if rule.ID == "" || rule.CreatedAt.IsZero() {
			writeErr(w, http.StatusBadRequest, "id and createdAt are required")
			return
		}
		if err := s.ruleStore.Add(rule); err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleRuleByID implements pkg/protocol.MethodRulesPatch/Delete. Weakening
// or removing a Protected rule is rejected with 400 (spec.md §6).
func (s *Server) handleRuleByID(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/rules/")
	if id == "" {
		writeErr(w, http.StatusBadRequest, "missing rule id")
		return
	}

	all, err := s.ruleStore.GetAll()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	var existing *rules.Rule
	for i := range all {
		if all[i].ID == id {
			existing = &all[i]
			break
		}
	}
	if existing == nil {
		writeErr(w, http.StatusNotFound, "rule not found")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		if existing.Protected {
			writeErr(w, http.StatusBadRequest, "rule is protected")
			return
		}
		var partial rules.PartialUpdate
		if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
			writeErr(w, http.StatusBadRequest, "bad request")
			return
		}
		if err := s.ruleStore.Update(id, partial); err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case http.MethodDelete:
		if existing.Protected {
			writeErr(w, http.StatusBadRequest, "rule is protected")
			return
		}
		if err := s.ruleStore.Remove(id); err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAudit implements pkg/protocol.MethodAuditList.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	opts := permission.AuditListOpts{
		SessionID:   r.URL.Query().Get("sessionId"),
		WorkspaceID: r.URL.Query().Get("workspaceId"),
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			opts.Limit = n
		}
	}
	if b := r.URL.Query().Get("before"); b != "" {
		if t, err := time.Parse(time.RFC3339, b); err == nil {
			opts.Before = t
		}
	}
	entries, err := s.audit.List(opts)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleStreamEvents implements GET /stream/events?since=N: the REST-facing
// catch-up path over the same durable ring /stream's WebSocket upgrade
// replays from (spec.md §6).
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = n
	}
	events, complete := s.mux.Since(since)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":          events,
		"currentSeq":      s.mux.CurrentSeq(),
		"catchUpComplete": complete,
	})
}

// handlePermissionsPending implements GET /permissions/pending, optionally
// filtered by sessionId or workspaceId (spec.md §6).
func (s *Server) handlePermissionsPending(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	pending := s.gate.ListPending(r.URL.Query().Get("sessionId"), r.URL.Query().Get("workspaceId"))
	writeJSON(w, http.StatusOK, pending)
}

// handleSessionsList returns every currently attached session, for REST
// clients bootstrapping without a WebSocket (spec.md §6).
func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.ListActive())
}
