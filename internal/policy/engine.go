package policy

import (
	"strings"

	"github.com/agentrelay/gateway/internal/rules"
)

// Action is the outcome of a policy evaluation.
type Action string

const (
	ActionAllow Action = "allow"
	ActionAsk   Action = "ask"
	ActionDeny  Action = "deny"
)

// Tool names the engine recognizes structurally. Any other tool name is
// evaluated purely through layers 7 and 10 (learned rules, fallback) since
// the engine has no structural knowledge of it; layer 8 applies to bash only.
const (
	ToolBash       = "bash"
	ToolReadFile   = "read_file"
	ToolWriteFile  = "write_file"
	ToolEditFile   = "edit_file"
	ToolBrowser    = "browser"
)

// GateRequest is the input to Evaluate: a structured description of one
// tool call awaiting a policy decision (spec.md §4.C).
type GateRequest struct {
	Tool        string
	Input       map[string]interface{}
	ToolCallID  string
	SessionID   string
	WorkspaceID string
}

func (r GateRequest) str(key string) string {
	if v, ok := r.Input[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Layer names, used in Decision.Layer for audit and test assertions.
const (
	LayerHardDenyPreset     = "hard_deny_preset"
	LayerHardDenyStructural = "hard_deny_structural"
	LayerHostAutoAllow      = "host_auto_allow"
	LayerWorkspacePath      = "workspace_path"
	LayerHeuristic          = "heuristic"
	LayerBrowserSkill       = "browser_skill"
	LayerSessionRule        = "session_rule"
	LayerWorkspaceRule      = "workspace_rule"
	LayerGlobalRule         = "global_rule"
	LayerPresetRule         = "preset_rule"
	LayerWorkspaceExecAllow = "workspace_exec_allow"
	LayerFallback           = "fallback"
)

// ResolutionOption is one button the phone may show for an "ask" decision
// (spec.md §4.C).
type ResolutionOption struct {
	Scope       rules.Scope `json:"scope"` // "" for a pure deny-always button
	Label       string      `json:"label"`
	DenyAlways  bool        `json:"denyAlways,omitempty"`
}

// Decision is the output of Evaluate.
type Decision struct {
	Action            Action
	Reason            string
	Layer             string
	RuleLabel         string
	RuleID            string
	Risk              string // optional display metadata only, never an invariant (spec.md §9 open question)
	DisplaySummary    string
	ResolutionOptions []ResolutionOption
	Suggested         *rules.Rule // set only when Action == ActionAsk
}

// WorkspacePolicy carries the per-workspace configuration the engine
// consults for layers 4 and 9 (workspace path bounds and executable
// allowlist).
type WorkspacePolicy struct {
	Runtime     RuntimeKind
	AllowedPaths []AllowedPath
	ExecutableAllowlist map[string]bool
	FetchAllowlistPath  string // one hostname per line, subdomain match
}

// AllowedPath is one entry of a workspace's extra allowed paths.
type AllowedPath struct {
	Path      string
	ReadWrite bool
}

// RuleProvider is the subset of rules.Store the engine needs for layer 7.
type RuleProvider interface {
	GetAll() ([]rules.Rule, error)
}

// Engine is the Policy Engine. It never throws; Evaluate always returns a
// Decision (spec.md §7 "The policy engine never throws").
type Engine struct {
	Preset         Preset
	Rules          RuleProvider
	ProtectedPaths map[string]bool // e.g. the rule store file itself
	FetchAllowlist func(host string) bool
}

// NewEngine constructs an Engine with the given preset and rule provider.
func NewEngine(preset Preset, provider RuleProvider) *Engine {
	return &Engine{Preset: preset, Rules: provider, ProtectedPaths: map[string]bool{}}
}

// Evaluate runs the ten-layer evaluation and returns the first matching
// decision (spec.md §4.C, I5).
func (e *Engine) Evaluate(req GateRequest, ws WorkspacePolicy) Decision {
	path := req.str("path")
	if path != "" && (e.ProtectedPaths[path] || IsProtectedPath(path)) &&
		(req.Tool == ToolWriteFile || req.Tool == ToolEditFile) {
		return e.deny(LayerHardDenyStructural, "protected path", req)
	}

	// Layer 1: immutable hard-denies (preset).
	if req.Tool == ToolBash {
		command := req.str("command")
		for _, pat := range e.Preset.HardDenyCommandPatterns {
			if MatchBashGlob(pat, command) {
				return e.deny(LayerHardDenyPreset, "matches hard-deny pattern: "+pat, req)
			}
		}
	}

	// Layer 2: structural hard-denies (secret paths, including recursive
	// command-substitution check for bash).
	if d, matched := e.evalStructuralHardDeny(req); matched {
		return d
	}

	// Layer 3: constrained host auto-allow (read-only executables).
	if ws.Runtime == RuntimeHost && req.Tool == ToolBash {
		if d, matched := e.evalHostAutoAllow(req); matched {
			return d
		}
	}

	// Layer 4: workspace path-bounds auto-allow.
	if ws.Runtime == RuntimeHost && isFileTool(req.Tool) {
		if d, matched := e.evalWorkspacePathAllow(req, ws); matched {
			return d
		}
	}

	// Layer 5: structural heuristics.
	if req.Tool == ToolBash {
		if d, matched := e.evalHeuristics(req); matched {
			return d
		}
	}

	// Layer 6: browser-skill recognition.
	if req.Tool == ToolBrowser {
		if d, matched := e.evalBrowserSkill(req, ws); matched {
			return d
		}
	}

	// Layer 7: learned rules, in the order session denies -> workspace
	// denies -> global denies -> session allows -> workspace allows ->
	// global allows.
	if d, matched := e.evalLearnedRules(req); matched {
		return d
	}

	// Layer 8: preset rules (ask/deny lists).
	if req.Tool == ToolBash {
		command := req.str("command")
		for _, pat := range e.Preset.DenyCommandPatterns {
			if MatchBashGlob(pat, command) {
				return e.deny(LayerPresetRule, "matches preset deny: "+pat, req)
			}
		}
		for _, pat := range e.Preset.AskCommandPatterns {
			if MatchBashGlob(pat, command) {
				return e.ask(LayerPresetRule, "matches preset ask: "+pat, req)
			}
		}
	}

	// Layer 9: workspace executable allowlist (constrained host).
	if ws.Runtime == RuntimeHost && req.Tool == ToolBash {
		if d, matched := e.evalWorkspaceExecAllow(req, ws); matched {
			return d
		}
	}

	// Layer 10: fallback.
	switch e.Preset.Fallback {
	case ActionAllow:
		return e.allow(LayerFallback, "preset default", req)
	case ActionDeny:
		return e.deny(LayerFallback, "preset default", req)
	default:
		return e.ask(LayerFallback, "preset default", req)
	}
}

func isFileTool(tool string) bool {
	return tool == ToolReadFile || tool == ToolWriteFile || tool == ToolEditFile
}

func (e *Engine) evalStructuralHardDeny(req GateRequest) (Decision, bool) {
	path := req.str("path")
	if isFileTool(req.Tool) && path != "" && IsProtectedPath(path) {
		return e.deny(LayerHardDenyStructural, "secret path: "+path, req), true
	}
	if req.Tool == ToolBash {
		command := req.str("command")
		for _, seg := range SplitChains(command) {
			for _, piece := range SplitPipeline(seg) {
				if containsProtectedPathToken(piece) {
					return e.deny(LayerHardDenyStructural, "secret path in command", req), true
				}
			}
		}
		for _, sub := range CommandSubstitutions(command) {
			if containsProtectedPathToken(sub) {
				return e.deny(LayerHardDenyStructural, "secret path in command substitution", req), true
			}
		}
	}
	return Decision{}, false
}

func containsProtectedPathToken(segment string) bool {
	parsed := ParseBashCommand(segment)
	for _, tok := range append([]string{parsed.Executable}, parsed.Args...) {
		if IsProtectedPath(tok) {
			return true
		}
	}
	return false
}

func (e *Engine) evalHostAutoAllow(req GateRequest) (Decision, bool) {
	command := req.str("command")
	for _, seg := range SplitChains(command) {
		pipeline := SplitPipeline(seg)
		if len(pipeline) > 1 {
			return Decision{}, false
		}
		if HasRedirectsOrSubshell(seg) {
			return Decision{}, false
		}
		parsed := ParseBashCommand(seg)
		if parsed.Executable == "git" {
			if len(parsed.Args) == 0 || !GitReadOnlySubcommands[parsed.Args[0]] {
				return Decision{}, false
			}
			continue
		}
		if !e.Preset.ReadOnlyExecutables[parsed.Executable] {
			return Decision{}, false
		}
	}
	return e.allow(LayerHostAutoAllow, "constrained host read-only command", req), true
}

func (e *Engine) evalWorkspacePathAllow(req GateRequest, ws WorkspacePolicy) (Decision, bool) {
	path := req.str("path")
	if path == "" {
		return Decision{}, false
	}
	needsWrite := req.Tool == ToolWriteFile || req.Tool == ToolEditFile
	for _, ap := range ws.AllowedPaths {
		if !strings.HasPrefix(path, ap.Path) {
			continue
		}
		if needsWrite && !ap.ReadWrite {
			continue
		}
		return e.allow(LayerWorkspacePath, "within allowed workspace path", req), true
	}
	return Decision{}, false
}

// Outbound-data-egress flag detection for curl/wget.
var dataFlagPrefixes = []string{"-d", "--data", "-F", "-T", "--json", "--post-data"}
var methodFlags = map[string]bool{"-XPOST": true, "-XPUT": true, "-XDELETE": true, "-XPATCH": true}

func (e *Engine) evalHeuristics(req GateRequest) (Decision, bool) {
	command := req.str("command")

	for _, seg := range SplitChains(command) {
		pipeline := SplitPipeline(seg)
		if len(pipeline) > 1 {
			last := ParseBashCommand(pipeline[len(pipeline)-1])
			if last.Executable == "sh" || last.Executable == "bash" {
				return e.ask(LayerHeuristic, "pipe to shell", req), true
			}
		}
		for _, piece := range pipeline {
			parsed := ParseBashCommand(piece)
			if parsed.Executable != "curl" && parsed.Executable != "wget" {
				continue
			}
			for _, arg := range parsed.Args {
				for _, pfx := range dataFlagPrefixes {
					if strings.HasPrefix(arg, pfx) {
						return e.ask(LayerHeuristic, "Data egress", req), true
					}
				}
				if methodFlags[strings.ToUpper(arg)] {
					return e.ask(LayerHeuristic, "Data egress", req), true
				}
				if arg == "-X" {
					return e.ask(LayerHeuristic, "Data egress", req), true
				}
			}
			if d, matched := e.secretEnvInURL(parsed, req); matched {
				return d, true
			}
		}
	}
	return Decision{}, false
}

func (e *Engine) secretEnvInURL(parsed ParsedCommand, req GateRequest) (Decision, bool) {
	for _, arg := range parsed.Args {
		if !strings.Contains(arg, "http://") && !strings.Contains(arg, "https://") {
			continue
		}
		for _, name := range extractEnvVarNames(arg) {
			if SecretEnvVarName(name) {
				return e.ask(LayerHeuristic, "secret env var in URL", req), true
			}
		}
	}
	return Decision{}, false
}

func extractEnvVarNames(s string) []string {
	var names []string
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '$' {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == '{' {
			j := i + 2
			start := j
			for j < len(runes) && runes[j] != '}' {
				j++
			}
			names = append(names, string(runes[start:j]))
			i = j
		} else {
			j := i + 1
			start := j
			for j < len(runes) && (runes[j] == '_' || (runes[j] >= 'a' && runes[j] <= 'z') ||
				(runes[j] >= 'A' && runes[j] <= 'Z') || (runes[j] >= '0' && runes[j] <= '9')) {
				j++
			}
			if j > start {
				names = append(names, string(runes[start:j]))
			}
			i = j - 1
		}
	}
	return names
}

func (e *Engine) evalBrowserSkill(req GateRequest, ws WorkspacePolicy) (Decision, bool) {
	script := req.str("script")
	switch {
	case e.Preset.ReadOnlyBrowserScripts[script]:
		return e.allow(LayerBrowserSkill, "read-only browser script", req), true
	case e.Preset.InteractiveBrowserScripts[script]:
		return e.allow(LayerBrowserSkill, "interactive browser script", req), true
	case script == "nav.js":
		domain := req.str("domain")
		allowed := false
		if e.FetchAllowlist != nil {
			allowed = e.FetchAllowlist(domain)
		}
		if allowed {
			return e.allow(LayerBrowserSkill, "domain on fetch allowlist", req), true
		}
		// A learned domain rule (e.g. a phone "allow always") decides before
		// falling back to asking.
		if d, matched := e.evalLearnedRules(req); matched {
			return d, true
		}
		return e.ask(LayerBrowserSkill, "Navigate: "+domain, req), true
	case script == "eval.js":
		return e.ask(LayerBrowserSkill, "arbitrary JS evaluation", req), true
	}
	return Decision{}, false
}

func (e *Engine) evalLearnedRules(req GateRequest) (Decision, bool) {
	if e.Rules == nil {
		return Decision{}, false
	}
	all, err := e.Rules.GetAll()
	if err != nil {
		return Decision{}, false
	}

	cand := rules.MatchConditions{
		Executable:     req.str("executable"),
		Domain:         req.str("domain"),
		PathPattern:    req.str("path"),
		CommandPattern: req.str("command"),
	}
	if req.Tool == ToolBash && cand.Executable == "" {
		cand.Executable = ParseBashCommand(req.str("command")).Executable
	}

	order := []struct {
		scope  rules.Scope
		effect rules.Effect
		layer  string
	}{
		{rules.ScopeSession, rules.EffectDeny, LayerSessionRule},
		{rules.ScopeWorkspace, rules.EffectDeny, LayerWorkspaceRule},
		{rules.ScopeGlobal, rules.EffectDeny, LayerGlobalRule},
		{rules.ScopeSession, rules.EffectAllow, LayerSessionRule},
		{rules.ScopeWorkspace, rules.EffectAllow, LayerWorkspaceRule},
		{rules.ScopeGlobal, rules.EffectAllow, LayerGlobalRule},
	}

	for _, pass := range order {
		for _, r := range all {
			if r.Scope != pass.scope || r.Effect != pass.effect {
				continue
			}
			if !r.AppliesTo(req.SessionID, req.WorkspaceID) {
				continue
			}
			if !r.Matches(req.Tool, cand) {
				continue
			}
			d := Decision{Action: Action(r.Effect), Reason: r.Description, Layer: pass.layer, RuleLabel: r.Description, RuleID: r.ID}
			d.DisplaySummary = DisplaySummary(req)
			return d, true
		}
	}
	return Decision{}, false
}

func (e *Engine) evalWorkspaceExecAllow(req GateRequest, ws WorkspacePolicy) (Decision, bool) {
	command := req.str("command")
	segs := SplitChains(command)
	if len(segs) != 1 {
		return Decision{}, false
	}
	if len(SplitPipeline(segs[0])) > 1 || HasRedirectsOrSubshell(segs[0]) {
		return Decision{}, false
	}
	parsed := ParseBashCommand(segs[0])
	if ws.ExecutableAllowlist[parsed.Executable] {
		return e.allow(LayerWorkspaceExecAllow, "executable on workspace allowlist", req), true
	}
	return Decision{}, false
}

func (e *Engine) allow(layer, reason string, req GateRequest) Decision {
	return Decision{Action: ActionAllow, Reason: reason, Layer: layer, DisplaySummary: DisplaySummary(req)}
}

func (e *Engine) deny(layer, reason string, req GateRequest) Decision {
	return Decision{Action: ActionDeny, Reason: reason, Layer: layer, DisplaySummary: DisplaySummary(req)}
}

func (e *Engine) ask(layer, reason string, req GateRequest) Decision {
	d := Decision{Action: ActionAsk, Reason: reason, Layer: layer, DisplaySummary: DisplaySummary(req)}
	d.ResolutionOptions = ResolutionOptionsFor(req, reason)
	d.Suggested = SuggestRule(req)
	return d
}
