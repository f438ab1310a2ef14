package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentrelay/gateway/internal/config"
	"github.com/agentrelay/gateway/internal/gateway"
	"github.com/agentrelay/gateway/internal/pairing"
	"github.com/agentrelay/gateway/internal/permission"
	"github.com/agentrelay/gateway/internal/policy"
	"github.com/agentrelay/gateway/internal/rules"
	"github.com/agentrelay/gateway/internal/session"
	"github.com/agentrelay/gateway/internal/store"
	filestore "github.com/agentrelay/gateway/internal/store/file"
	"github.com/agentrelay/gateway/internal/store/pg"
	"github.com/agentrelay/gateway/internal/tracing"
	"github.com/agentrelay/gateway/internal/userstream"
	"github.com/agentrelay/gateway/internal/workspace"
)

// runGateway loads config, wires every component (A through J), and
// serves until SIGINT/SIGTERM. Grounded on the teacher's cmd/gateway.go
// runGateway: same load-config -> build-components -> signal-wait ->
// Start(ctx) shape, trimmed to the gateway's own component set.
func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	stores, err := buildStores(cfg)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}

	engine := policy.NewEngine(policy.DefaultPreset(), stores.Rules)
	mux := userstream.New()
	sink := gateway.NewPermissionSink(mux)
	gate := permission.NewGate(engine, stores.Rules, stores.Audit, sink)

	rt := workspace.New()

	workspaceLookup := func(id string) (config.WorkspaceConfig, bool) {
		ws := config.WorkspaceByID(cfg, id)
		if ws == nil {
			return config.WorkspaceConfig{}, false
		}
		return *ws, true
	}

	sessions := session.NewManager(cfg.Sessions, rt, gate, stores.Sessions, mux, workspaceLookup, cfg.AgentExecutable, logger)

	var pairingSvc *pairing.Service
	if stores.Pairing != nil {
		pairingSvc = pairing.NewService(stores.Pairing, cfg.Pairing.PairingCodeTTLDuration(),
			cfg.Pairing.MaxFailuresOr(), cfg.Pairing.FailureWindowDuration(), cfg.Pairing.CooldownDuration())
	}

	srv := gateway.NewServer(cfg, sessions, mux, gate, stores.Rules, stores.Audit, pairingSvc, logger)

	if cfg.Gateway.RelayURL != "" {
		relay := gateway.NewRelayClient(cfg.Gateway.RelayURL, mux, sessions, logger)
		go relay.Run(ctx)
	}

	logger.Info("agentrelayd starting", "version", Version, "fleet_mode", cfg.IsFleetMode())
	if err := srv.Start(ctx); err != nil {
		logger.Error("gateway server exited with error", "error", err)
		os.Exit(1)
	}
}

// buildStores selects the file-backed or Postgres-backed variant of every
// store per cfg.IsFleetMode(), running migrations first in fleet mode
// (SPEC_FULL.md "fleet mode").
func buildStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.IsFleetMode() {
		if err := pg.Migrate(cfg.Database.PostgresDSN); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		pool, err := pg.Connect(context.Background(), cfg.Database.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return &store.Stores{
			Sessions: pg.NewSessionStore(pool),
			Rules:    rules.NewPGStore(pool),
			Audit:    permission.NewPGAuditStore(pool),
			Pairing:  pairing.NewPGStore(pool),
		}, nil
	}

	sessStore, err := filestore.NewSessionStore(cfg.Sessions.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	ruleStore, err := rules.NewFileStore(cfg.Policy.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("open rule store: %w", err)
	}
	if err := ruleStore.Watch(context.Background(), nil); err != nil {
		slog.Default().Warn("rules watch disabled", "error", err)
	}
	auditStore, err := permission.NewFileAuditStore(cfg.Policy.AuditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	pairingStore, err := pairing.NewSQLiteStore(cfg.Pairing.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open pairing store: %w", err)
	}
	return &store.Stores{
		Sessions: sessStore,
		Rules:    ruleStore,
		Audit:    auditStore,
		Pairing:  pairingStore,
	}, nil
}
