// Package config defines the gateway's root configuration tree and its
// JSON5 load/save/env-override lifecycle.
//
// Grounded on the teacher's internal/config/config.go / config_load.go:
// same JSON5-via-titanous/json5 file format, same env-var override
// layering, same atomic-save-plus-SHA-256-hash pattern — trimmed from the
// teacher's channel/agent/provider-spanning tree down to the gateway's
// actual concerns (spec.md §2, §6).
package config

import (
	"sync"
	"time"
)

// Config is the root configuration for the gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Policy    PolicyConfig    `json:"policy"`
	Sessions  SessionsConfig  `json:"sessions"`
	Workspaces []WorkspaceConfig `json:"workspaces,omitempty"`
	Pairing   PairingConfig   `json:"pairing,omitempty"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`

	// AgentExecutable is the path to the agent backend binary the
	// Session Manager spawns per session (spec.md §4.G). Defaults to
	// "agent-backend" resolved against PATH.
	AgentExecutable string `json:"agent_executable,omitempty"`

	mu sync.RWMutex
}

// GatewayConfig configures the HTTP+WebSocket connectivity layer
// (spec.md §4.J).
type GatewayConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	Token           string   `json:"token,omitempty"`           // bearer token for WS/HTTP auth
	OwnerIDs        []string `json:"owner_ids,omitempty"`       // device ids considered "owner" for pairing approval
	AllowedCIDRs    []string `json:"allowed_cidrs,omitempty"`   // source-CIDR allowlist; empty = allow all
	AllowedOrigins  []string `json:"allowed_origins,omitempty"` // WebSocket Origin allowlist; empty = allow all
	ApprovalTimeout string   `json:"approval_timeout,omitempty"` // Go duration string, default "120s"

	// RelayURL, if set, is an outbound WebSocket endpoint the gateway
	// pushes durable events to in addition to any directly connected
	// phone client — a push-relay bridge for when the operator's own
	// device can't reach this host directly (SPEC_FULL.md §2 "outbound
	// client" row).
	RelayURL string `json:"relay_url,omitempty"`
}

// ApprovalTimeoutDuration parses ApprovalTimeout, defaulting to 120s.
func (g GatewayConfig) ApprovalTimeoutDuration() time.Duration {
	if g.ApprovalTimeout == "" {
		return 120 * time.Second
	}
	d, err := time.ParseDuration(g.ApprovalTimeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// PolicyConfig configures the Policy Engine (spec.md §4.C).
type PolicyConfig struct {
	Preset             string   `json:"preset,omitempty"` // preset name, default "default"
	ProtectedPaths     []string `json:"protected_paths,omitempty"`
	FetchAllowlistPath string   `json:"fetch_allowlist_path,omitempty"`
	RulesPath          string   `json:"rules_path,omitempty"`
	AuditPath          string   `json:"audit_path,omitempty"`
}

// SessionsConfig configures the Session Manager's persistence and default
// timeouts (spec.md §4.H).
type SessionsConfig struct {
	StorageDir        string `json:"storage_dir,omitempty"`
	IdleTimeout        string `json:"idle_timeout,omitempty"`         // default "30m"
	IdleSchedule       string `json:"idle_schedule,omitempty"`        // optional gronx cron expression gating idle timeout to a window (EXPANSION)
	AbortPhase1Timeout string `json:"abort_phase1_timeout,omitempty"` // default "8s"
	AbortPhase2Timeout string `json:"abort_phase2_timeout,omitempty"` // default "5s"
	TerminateGrace     string `json:"terminate_grace,omitempty"`      // default "1s"
	DirtyWriteDebounce string `json:"dirty_write_debounce,omitempty"` // default "1s"
	GitStatusDebounce  string `json:"git_status_debounce,omitempty"`  // default "2s"
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (s SessionsConfig) IdleTimeoutDuration() time.Duration { return parseDurationOr(s.IdleTimeout, 30*time.Minute) }
func (s SessionsConfig) AbortPhase1() time.Duration         { return parseDurationOr(s.AbortPhase1Timeout, 8*time.Second) }
func (s SessionsConfig) AbortPhase2() time.Duration         { return parseDurationOr(s.AbortPhase2Timeout, 5*time.Second) }
func (s SessionsConfig) TerminateGraceDuration() time.Duration {
	return parseDurationOr(s.TerminateGrace, 1*time.Second)
}
func (s SessionsConfig) DirtyWriteDebounceDuration() time.Duration {
	return parseDurationOr(s.DirtyWriteDebounce, 1*time.Second)
}
func (s SessionsConfig) GitStatusDebounceDuration() time.Duration {
	return parseDurationOr(s.GitStatusDebounce, 2*time.Second)
}

// WorkspaceConfig is the persisted, operator-authored description of one
// workspace (spec.md §3 "Workspace").
type WorkspaceConfig struct {
	ID                string              `json:"id"`
	HostPath          string              `json:"host_path,omitempty"`
	Runtime           string              `json:"runtime,omitempty"` // "host" (default) or "container"
	PolicyPreset      string              `json:"policy_preset,omitempty"`
	AllowedPaths      []WorkspacePathRule `json:"allowed_paths,omitempty"`
	AllowedExecutables []string           `json:"allowed_executables,omitempty"`
	Skills            []string            `json:"skills,omitempty"`
	DefaultModel      string              `json:"default_model,omitempty"`
	MaxConcurrentSessions int             `json:"max_concurrent_sessions,omitempty"` // 0 = unlimited
}

// WorkspacePathRule is one extra allowed path with its access level.
type WorkspacePathRule struct {
	Path      string `json:"path"`
	Access    string `json:"access"` // "read" or "readwrite"
}

// PairingConfig tunes the device-pairing throttle (spec.md §9 open
// question: "tuneable; the spec fixes only the semantic shape").
type PairingConfig struct {
	MaxFailures     int    `json:"max_failures,omitempty"`      // default 5
	FailureWindow   string `json:"failure_window,omitempty"`    // default "60s"
	CooldownPeriod  string `json:"cooldown_period,omitempty"`   // default "2m"
	PairingCodeTTL  string `json:"pairing_code_ttl,omitempty"`  // default "5m"
	StoragePath     string `json:"storage_path,omitempty"`
}

func (p PairingConfig) MaxFailuresOr() int {
	if p.MaxFailures > 0 {
		return p.MaxFailures
	}
	return 5
}
func (p PairingConfig) FailureWindowDuration() time.Duration {
	return parseDurationOr(p.FailureWindow, 60*time.Second)
}
func (p PairingConfig) CooldownDuration() time.Duration {
	return parseDurationOr(p.CooldownPeriod, 2*time.Minute)
}
func (p PairingConfig) PairingCodeTTLDuration() time.Duration {
	return parseDurationOr(p.PairingCodeTTL, 5*time.Minute)
}

// DatabaseConfig configures Postgres for fleet mode. PostgresDSN is NEVER
// read from config.json (secret) — only from env AGENTRELAY_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"` // "standalone" (default) or "fleet"
}

// IsFleetMode reports whether the gateway is running with a shared
// Postgres backend rather than local files (spec.md SPEC_FULL.md
// "fleet mode").
func (c *Config) IsFleetMode() bool {
	return c.Database.Mode == "fleet" && c.Database.PostgresDSN != ""
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
// Ambient observability, disabled by default — see SPEC_FULL.md §5.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// TailscaleConfig configures the optional tsnet listener exposing the
// same HTTP+WS mux over the operator's tailnet (SPEC_FULL.md §4.J
// expansion). Disabled by default; see internal/gateway/tailscale.go.
type TailscaleConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"` // from env AGENTRELAY_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Policy = src.Policy
	c.Sessions = src.Sessions
	c.Workspaces = src.Workspaces
	c.Pairing = src.Pairing
	c.Database = src.Database
	c.Telemetry = src.Telemetry
	c.Tailscale = src.Tailscale
	c.AgentExecutable = src.AgentExecutable
}
