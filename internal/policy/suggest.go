package policy

import (
	"path/filepath"
	"time"

	"github.com/agentrelay/gateway/internal/rules"
)

// criticalReasons marks reasons considered high-risk enough that the
// phone must never be offered a permanent-allow button for them (spec.md
// §4.C "critical risk -> session-only + deny-always").
var criticalReasons = map[string]bool{
	"secret path in command":                true,
	"secret path in command substitution":   true,
	"secret env var in URL":                 true,
}

// externalHighImpactPatterns are bash commands treated as high-impact
// external actions: always session-only, never a permanent-allow option.
var externalHighImpactPatterns = []string{"git push*", "npm publish*", "ssh *", "scp *", "nc *", "ncat *"}

// ResolutionOptionsFor proposes the set of buttons the phone should show
// for an "ask" decision (spec.md §4.C).
func ResolutionOptionsFor(req GateRequest, reason string) []ResolutionOption {
	sessionOnly := ResolutionOption{Scope: rules.ScopeSession, Label: "Allow for this session"}
	denyAlways := ResolutionOption{DenyAlways: true, Label: "Always deny"}

	if criticalReasons[reason] {
		return []ResolutionOption{sessionOnly, denyAlways}
	}

	if req.Tool == ToolBrowser {
		script := req.str("script")
		if script == "eval.js" {
			return []ResolutionOption{sessionOnly}
		}
		if script == "nav.js" {
			domain := req.str("domain")
			return []ResolutionOption{
				sessionOnly,
				{Scope: rules.ScopeWorkspace, Label: "Add " + domain + " to allowlist"},
				denyAlways,
			}
		}
	}

	if req.Tool == ToolBash {
		command := req.str("command")
		for _, pat := range externalHighImpactPatterns {
			if MatchBashGlob(pat, command) {
				return []ResolutionOption{sessionOnly}
			}
		}
		exec := ParseBashCommand(command).Executable
		if exec != "" {
			return []ResolutionOption{
				sessionOnly,
				{Scope: rules.ScopeWorkspace, Label: "Allow all " + exec + " commands"},
				denyAlways,
			}
		}
	}

	if isFileTool(req.Tool) {
		dir := filepath.Dir(req.str("path"))
		return []ResolutionOption{
			sessionOnly,
			{Scope: rules.ScopeWorkspace, Label: "Allow " + exec0(req.Tool) + " in " + dir},
			denyAlways,
		}
	}

	return []ResolutionOption{sessionOnly, denyAlways}
}

func exec0(tool string) string {
	switch tool {
	case ToolWriteFile:
		return "writes"
	case ToolEditFile:
		return "edits"
	default:
		return "reads"
	}
}

// SuggestRule builds the scoped rule to persist when the user grants an
// "always allow" for an ask decision (spec.md §4.C "suggested rule
// synthesis"). Scope is left ScopeSession here; the caller (the Permission
// Gate) overwrites it with whatever scope the phone actually chose.
func SuggestRule(req GateRequest) *rules.Rule {
	now := time.Now()
	base := rules.Rule{
		Tool:      req.Tool,
		Effect:    rules.EffectAllow,
		Scope:     rules.ScopeSession,
		ScopeID:   req.SessionID,
		CreatedAt: now,
	}

	switch req.Tool {
	case ToolBrowser:
		if req.str("script") == "nav.js" {
			domain := req.str("domain")
			base.Match = rules.MatchConditions{Domain: domain}
			base.Description = "Allow browser navigation to " + domain
			return &base
		}
		return &base
	case ToolBash:
		command := req.str("command")
		exec := ParseBashCommand(command).Executable
		for _, pat := range externalHighImpactPatterns {
			if MatchBashGlob(pat, command) {
				base.Match = rules.MatchConditions{CommandPattern: pat}
				base.Description = "Allow " + pat
				return &base
			}
		}
		base.Match = rules.MatchConditions{Executable: exec}
		base.Description = "Allow all " + exec + " commands"
		return &base
	default:
		if isFileTool(req.Tool) {
			dir := filepath.Dir(req.str("path"))
			base.Match = rules.MatchConditions{PathPattern: dir + "/**"}
			base.Description = "Allow " + exec0(req.Tool) + " in " + dir
			return &base
		}
	}
	return &base
}
