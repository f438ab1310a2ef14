package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with the gateway's baseline defaults, the way
// the teacher's config_load.go builds its Default().
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".agentrelay")
	return &Config{
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Policy: PolicyConfig{
			Preset:    "default",
			RulesPath: filepath.Join(base, "rules.json"),
			AuditPath: filepath.Join(base, "audit.jsonl"),
		},
		Sessions: SessionsConfig{
			StorageDir: filepath.Join(base, "sessions"),
		},
		Pairing: PairingConfig{
			StoragePath: filepath.Join(base, "devices.json"),
		},
		Database: DatabaseConfig{Mode: "standalone"},
		Telemetry: TelemetryConfig{
			ServiceName: "agentrelayd",
			Protocol:    "grpc",
		},
		AgentExecutable: "agent-backend",
	}
}

// Load reads a JSON5 config file at path, falling back to Default()
// fields for anything unset, then applies environment overrides. Mirrors
// the teacher's Load(path) load-then-overlay sequence.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var onDisk Config
	if err := json5.Unmarshal(data, &onDisk); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	mergeNonZero(cfg, &onDisk)

	ApplyEnvOverrides(cfg)
	return cfg, nil
}

// mergeNonZero overlays any non-zero-valued field of onDisk onto cfg.
// Shallow per top-level section, matching the teacher's merge behavior of
// "file wins for whatever it sets, default fills the rest."
func mergeNonZero(cfg, onDisk *Config) {
	if onDisk.Gateway.Host != "" {
		cfg.Gateway.Host = onDisk.Gateway.Host
	}
	if onDisk.Gateway.Port != 0 {
		cfg.Gateway.Port = onDisk.Gateway.Port
	}
	if onDisk.Gateway.Token != "" {
		cfg.Gateway.Token = onDisk.Gateway.Token
	}
	if len(onDisk.Gateway.OwnerIDs) > 0 {
		cfg.Gateway.OwnerIDs = onDisk.Gateway.OwnerIDs
	}
	if len(onDisk.Gateway.AllowedCIDRs) > 0 {
		cfg.Gateway.AllowedCIDRs = onDisk.Gateway.AllowedCIDRs
	}
	if len(onDisk.Gateway.AllowedOrigins) > 0 {
		cfg.Gateway.AllowedOrigins = onDisk.Gateway.AllowedOrigins
	}
	if onDisk.Gateway.ApprovalTimeout != "" {
		cfg.Gateway.ApprovalTimeout = onDisk.Gateway.ApprovalTimeout
	}
	if onDisk.Gateway.RelayURL != "" {
		cfg.Gateway.RelayURL = onDisk.Gateway.RelayURL
	}

	if onDisk.Policy.Preset != "" {
		cfg.Policy.Preset = onDisk.Policy.Preset
	}
	if len(onDisk.Policy.ProtectedPaths) > 0 {
		cfg.Policy.ProtectedPaths = onDisk.Policy.ProtectedPaths
	}
	if onDisk.Policy.FetchAllowlistPath != "" {
		cfg.Policy.FetchAllowlistPath = onDisk.Policy.FetchAllowlistPath
	}
	if onDisk.Policy.RulesPath != "" {
		cfg.Policy.RulesPath = onDisk.Policy.RulesPath
	}
	if onDisk.Policy.AuditPath != "" {
		cfg.Policy.AuditPath = onDisk.Policy.AuditPath
	}

	if onDisk.Sessions.StorageDir != "" {
		cfg.Sessions.StorageDir = onDisk.Sessions.StorageDir
	}
	if onDisk.Sessions.IdleTimeout != "" {
		cfg.Sessions.IdleTimeout = onDisk.Sessions.IdleTimeout
	}
	if onDisk.Sessions.IdleSchedule != "" {
		cfg.Sessions.IdleSchedule = onDisk.Sessions.IdleSchedule
	}
	if onDisk.Sessions.AbortPhase1Timeout != "" {
		cfg.Sessions.AbortPhase1Timeout = onDisk.Sessions.AbortPhase1Timeout
	}
	if onDisk.Sessions.AbortPhase2Timeout != "" {
		cfg.Sessions.AbortPhase2Timeout = onDisk.Sessions.AbortPhase2Timeout
	}
	if onDisk.Sessions.TerminateGrace != "" {
		cfg.Sessions.TerminateGrace = onDisk.Sessions.TerminateGrace
	}
	if onDisk.Sessions.DirtyWriteDebounce != "" {
		cfg.Sessions.DirtyWriteDebounce = onDisk.Sessions.DirtyWriteDebounce
	}
	if onDisk.Sessions.GitStatusDebounce != "" {
		cfg.Sessions.GitStatusDebounce = onDisk.Sessions.GitStatusDebounce
	}

	if len(onDisk.Workspaces) > 0 {
		cfg.Workspaces = onDisk.Workspaces
	}

	if onDisk.Pairing.MaxFailures != 0 {
		cfg.Pairing.MaxFailures = onDisk.Pairing.MaxFailures
	}
	if onDisk.Pairing.FailureWindow != "" {
		cfg.Pairing.FailureWindow = onDisk.Pairing.FailureWindow
	}
	if onDisk.Pairing.CooldownPeriod != "" {
		cfg.Pairing.CooldownPeriod = onDisk.Pairing.CooldownPeriod
	}
	if onDisk.Pairing.PairingCodeTTL != "" {
		cfg.Pairing.PairingCodeTTL = onDisk.Pairing.PairingCodeTTL
	}
	if onDisk.Pairing.StoragePath != "" {
		cfg.Pairing.StoragePath = onDisk.Pairing.StoragePath
	}

	if onDisk.Database.Mode != "" {
		cfg.Database.Mode = onDisk.Database.Mode
	}

	if onDisk.AgentExecutable != "" {
		cfg.AgentExecutable = onDisk.AgentExecutable
	}

	if onDisk.Telemetry.Enabled {
		cfg.Telemetry.Enabled = true
	}
	if onDisk.Telemetry.Endpoint != "" {
		cfg.Telemetry.Endpoint = onDisk.Telemetry.Endpoint
	}
	if onDisk.Telemetry.Protocol != "" {
		cfg.Telemetry.Protocol = onDisk.Telemetry.Protocol
	}
	if onDisk.Telemetry.Insecure {
		cfg.Telemetry.Insecure = true
	}
	if onDisk.Telemetry.ServiceName != "" {
		cfg.Telemetry.ServiceName = onDisk.Telemetry.ServiceName
	}
	if len(onDisk.Telemetry.Headers) > 0 {
		cfg.Telemetry.Headers = onDisk.Telemetry.Headers
	}

	if onDisk.Tailscale.Enabled {
		cfg.Tailscale.Enabled = true
	}
	if onDisk.Tailscale.Hostname != "" {
		cfg.Tailscale.Hostname = onDisk.Tailscale.Hostname
	}
	if onDisk.Tailscale.StateDir != "" {
		cfg.Tailscale.StateDir = onDisk.Tailscale.StateDir
	}
	if onDisk.Tailscale.Ephemeral {
		cfg.Tailscale.Ephemeral = true
	}
}

func envStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// ApplyEnvOverrides layers AGENTRELAY_* environment variables over cfg,
// the same secret-carrying role the teacher's applyEnvOverrides plays for
// provider API keys: secrets never round-trip through config.json.
func ApplyEnvOverrides(cfg *Config) {
	envStr(&cfg.Gateway.Host, "AGENTRELAY_HOST")
	envInt(&cfg.Gateway.Port, "AGENTRELAY_PORT")
	envStr(&cfg.Gateway.Token, "AGENTRELAY_TOKEN")
	envStr(&cfg.Gateway.RelayURL, "AGENTRELAY_RELAY_URL")

	envStr(&cfg.Database.PostgresDSN, "AGENTRELAY_POSTGRES_DSN")
	envStr(&cfg.Database.Mode, "AGENTRELAY_DB_MODE")
	envStr(&cfg.AgentExecutable, "AGENTRELAY_AGENT_BIN")

	envBool(&cfg.Telemetry.Enabled, "AGENTRELAY_OTEL_ENABLED")
	envStr(&cfg.Telemetry.Endpoint, "AGENTRELAY_OTEL_ENDPOINT")
	envBool(&cfg.Telemetry.Insecure, "AGENTRELAY_OTEL_INSECURE")

	envBool(&cfg.Tailscale.Enabled, "AGENTRELAY_TSNET_ENABLED")
	envStr(&cfg.Tailscale.Hostname, "AGENTRELAY_TSNET_HOSTNAME")
	envStr(&cfg.Tailscale.AuthKey, "AGENTRELAY_TSNET_AUTH_KEY")
}

// Save writes cfg to path as indented JSON, atomically, at 0600.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	cleanup = false
	return nil
}

// Hash returns a short content hash of cfg, used to detect in-place edits
// of config.json between reloads (teacher's same Hash() role).
func Hash(cfg *Config) string {
	data, _ := json.Marshal(cfg)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// ExpandHome expands a leading "~" in path to the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// WorkspaceByID finds a configured workspace by id, nil if not found.
func WorkspaceByID(cfg *Config, id string) *WorkspaceConfig {
	for i := range cfg.Workspaces {
		if cfg.Workspaces[i].ID == id {
			return &cfg.Workspaces[i]
		}
	}
	return nil
}
