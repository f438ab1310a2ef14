// Package gateway implements the Connectivity Layer (spec.md §4.J): the
// HTTP+WebSocket front door that authenticates clients, multiplexes the
// /stream socket through the User Stream Mux, and exposes the REST
// surface for pairing, rules, and audit.
//
// Grounded on the teacher's internal/gateway/server.go: same
// BuildMux/Start/handleWebSocket/handleHealth/registerClient/
// unregisterClient/checkOrigin shape and gorilla/websocket upgrader, with
// client-id-keyed event fan-out swapped for the User Stream Mux's
// per-session subscription model, and source-CIDR + device-token auth
// layered on top of the teacher's bearer-token check.
package gateway

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentrelay/gateway/internal/config"
	"github.com/agentrelay/gateway/internal/pairing"
	"github.com/agentrelay/gateway/internal/permission"
	"github.com/agentrelay/gateway/internal/rules"
	"github.com/agentrelay/gateway/internal/session"
	"github.com/agentrelay/gateway/internal/userstream"
	"github.com/agentrelay/gateway/pkg/protocol"
)

// Server is the Connectivity Layer.
type Server struct {
	cfg      *config.Config
	sessions *session.Manager
	mux      *userstream.Mux
	gate     *permission.Gate
	ruleStore rules.Store
	audit    permission.AuditStore
	pairingSvc *pairing.Service
	log      *slog.Logger

	upgrader websocket.Upgrader

	httpServer *http.Server
	httpMux    *http.ServeMux

	allowedCIDRs []*net.IPNet
	limiter      *sourceLimiter
}

// NewServer constructs the Connectivity Layer server.
func NewServer(cfg *config.Config, sessions *session.Manager, mux *userstream.Mux, gate *permission.Gate,
	ruleStore rules.Store, audit permission.AuditStore, pairingSvc *pairing.Service, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg: cfg, sessions: sessions, mux: mux, gate: gate,
		ruleStore: ruleStore, audit: audit, pairingSvc: pairingSvc, log: log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.allowedCIDRs = parseCIDRs(cfg.Gateway.AllowedCIDRs, log)
	s.limiter = newSourceLimiter(2, 10)
	return s
}

func parseCIDRs(cidrs []string, log *slog.Logger) []*net.IPNet {
	var out []*net.IPNet
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			log.Warn("gateway.bad_cidr", "cidr", c, "error", err)
			continue
		}
		out = append(out, n)
	}
	return out
}

// checkOrigin allows any origin when AllowedOrigins is unset (CLI / local
// clients rarely send one); otherwise enforces the allowlist.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	s.log.Warn("gateway.origin_rejected", "origin", origin)
	return false
}

// sourceAllowed enforces the source-CIDR allowlist (SPEC_FULL.md §4.J
// expansion). Empty allowlist means "no restriction beyond auth."
func (s *Server) sourceAllowed(r *http.Request) bool {
	if len(s.allowedCIDRs) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(strings.TrimPrefix(host, "::ffff:"))
	if ip == nil {
		return false
	}
	for _, n := range s.allowedCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// authenticate accepts either the static gateway token or a paired
// device's bearer token.
func (s *Server) authenticate(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	token := strings.TrimPrefix(auth, prefix)
	if s.cfg.Gateway.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Gateway.Token)) == 1 {
		return true
	}
	if s.pairingSvc != nil && s.pairingSvc.Authenticate(token) {
		return true
	}
	return false
}

// BuildMux assembles the HTTP handler tree once.
func (s *Server) BuildMux() *http.ServeMux {
	if s.httpMux != nil {
		return s.httpMux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stream", s.limiter.rateLimited(s.handleWebSocket))
	mux.HandleFunc("/pair", s.limiter.rateLimited(s.handlePair))
	mux.HandleFunc("/rules", s.handleRules)
	mux.HandleFunc("/rules/", s.handleRuleByID)
	mux.HandleFunc("/audit", s.handleAudit)
	mux.HandleFunc("/sessions", s.handleSessionsList)
	mux.HandleFunc("/stream/events", s.handleStreamEvents)
	mux.HandleFunc("/permissions/pending", s.handlePermissionsPending)
	s.httpMux = mux
	return mux
}

// Start begins serving on cfg.Gateway.Host:Port until ctx is cancelled.
// Refuses to bind a non-loopback address with no token configured
// (SPEC_FULL.md §4.J "startup checks").
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Gateway.Token == "" && s.cfg.Gateway.Host != "127.0.0.1" && s.cfg.Gateway.Host != "localhost" {
		return fmt.Errorf("gateway: refusing to bind %s with no token configured", s.cfg.Gateway.Host)
	}

	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	s.log.Info("gateway.starting", "addr", addr)

	tsCleanup, err := startTailscale(ctx, s.cfg, mux, s.log)
	if err != nil {
		s.log.Error("gateway.tsnet_start_failed", "error", err)
	} else {
		defer tsCleanup()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok":true,"protocol":%d}`, protocol.ProtocolVersion)
}
