package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"tailscale.com/tsnet"

	"github.com/agentrelay/gateway/internal/config"
)

// startTailscale brings up a tsnet-embedded tailnet node and serves the
// same HTTP+WS mux over it, so a phone on the operator's tailnet can
// reach the gateway without any inbound port forward (SPEC_FULL.md §4.J
// expansion). The teacher gates this behind a `tsnet` build tag and an
// initTailscale it never ships in this retrieval pack; this gateway
// keeps it unconditional and just no-ops when Tailscale is disabled, so
// the binary always links the same way.
func startTailscale(ctx context.Context, cfg *config.Config, handler http.Handler, log *slog.Logger) (cleanup func(), err error) {
	if !cfg.Tailscale.Enabled {
		return func() {}, nil
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Tailscale.Hostname,
		Dir:       cfg.Tailscale.StateDir,
		AuthKey:   cfg.Tailscale.AuthKey,
		Ephemeral: cfg.Tailscale.Ephemeral,
		Logf:      func(format string, args ...interface{}) { log.Debug(fmt.Sprintf(format, args...)) },
	}

	if _, err := srv.Up(ctx); err != nil {
		return nil, fmt.Errorf("tsnet up: %w", err)
	}

	// Plaintext HTTP is acceptable here: traffic never leaves the
	// WireGuard-encrypted tailnet between this listener and the client.
	ln, err := srv.Listen("tcp", ":80")
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("tsnet listen: %w", err)
	}

	go func() {
		if err := http.Serve(ln, handler); err != nil && ctx.Err() == nil {
			log.Error("gateway.tsnet_serve_failed", "error", err)
		}
	}()
	log.Info("gateway.tsnet_started", "hostname", cfg.Tailscale.Hostname)

	return func() { ln.Close(); srv.Close() }, nil
}
