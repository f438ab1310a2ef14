package agentbackend

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/agentrelay/gateway/internal/permission"
	"github.com/agentrelay/gateway/internal/policy"
)

// GateServer is the per-session loopback HTTP endpoint the agent
// subprocess calls back into for tool permission checks, whose address
// and token are injected via env (spec.md §4.G "a generated per-session
// permission-gate address and token").
type GateServer struct {
	ln     net.Listener
	srv    *http.Server
	token  string
	gate   *permission.Gate
	sessionID, workspaceID string
	policyFor func() policy.WorkspacePolicy
}

// NewGateServer binds a loopback listener on an OS-chosen port and
// generates a random bearer token for it. policyFor is called on every
// request to fetch the current WorkspacePolicy (allowed paths, executable
// allowlist, runtime kind) for workspaceID.
func NewGateServer(gate *permission.Gate, sessionID, workspaceID string, policyFor func() policy.WorkspacePolicy) (*GateServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bind gate server: %w", err)
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		ln.Close()
		return nil, fmt.Errorf("generate gate token: %w", err)
	}
	gs := &GateServer{
		ln: ln, token: hex.EncodeToString(buf), gate: gate,
		sessionID: sessionID, workspaceID: workspaceID, policyFor: policyFor,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", gs.handle)
	gs.srv = &http.Server{Handler: mux}
	return gs, nil
}

// Addr returns the "host:port" to inject as AGENTRELAY_GATE_ADDR.
func (gs *GateServer) Addr() string { return gs.ln.Addr().String() }

// Token returns the bearer token to inject as AGENTRELAY_GATE_TOKEN.
func (gs *GateServer) Token() string { return gs.token }

// Serve runs the gate server until ctx is cancelled.
func (gs *GateServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		gs.srv.Shutdown(shutdownCtx)
	}()
	err := gs.srv.Serve(gs.ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type gateRequestBody struct {
	Tool    string                 `json:"tool"`
	Input   map[string]interface{} `json:"input"`
	Expires *bool                  `json:"expires,omitempty"`
}

type gateResponseBody struct {
	Action string `json:"action"`
}

func (gs *GateServer) handle(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) < len(prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(gs.token)) != 1 {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var body gateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	expires := true
	if body.Expires != nil {
		expires = *body.Expires
	}

	var ws policy.WorkspacePolicy
	if gs.policyFor != nil {
		ws = gs.policyFor()
	}
	action := gs.gate.Evaluate(policy.GateRequest{
		Tool:        body.Tool,
		Input:       body.Input,
		SessionID:   gs.sessionID,
		WorkspaceID: gs.workspaceID,
	}, ws, expires)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(gateResponseBody{Action: string(action)})
}
