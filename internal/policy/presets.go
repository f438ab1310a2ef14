package policy

import "strings"

// RuntimeKind distinguishes host-with-supervision workspaces from
// container-sandboxed ones. Per spec.md §9 open questions, runtime kind
// must never weaken any policy layer — it only gates which auto-allow
// layers are even consulted (layers 3, 4, 9 are host-only).
type RuntimeKind string

const (
	RuntimeHost      RuntimeKind = "host"
	RuntimeContainer RuntimeKind = "container"
)

// Preset is a named collection of hard-denies, preset ask/deny rules, and
// a fallback action (spec.md GLOSSARY "Preset").
type Preset struct {
	Name string

	// Layer 1: immutable hard-denies, regardless of runtime or rules.
	HardDenyCommandPatterns []string // flat-glob patterns over the full command string

	// Layer 3: constrained-host auto-allow read-only executables.
	ReadOnlyExecutables map[string]bool

	// Layer 6: browser-skill scripts.
	ReadOnlyBrowserScripts map[string]bool
	InteractiveBrowserScripts map[string]bool

	// Layer 8: preset ask/deny lists for destructive or external actions.
	AskCommandPatterns []string
	DenyCommandPatterns []string

	// Layer 10: fallback when nothing else matched.
	Fallback Action
}

// protectedPathSuffixes are structural hard-deny targets (spec.md §4.C
// layer 2): secret-bearing files/directories, matched as a path suffix or
// containment check so both absolute and ~-relative forms are caught.
var protectedPathSuffixes = []string{
	"/.ssh/", "/.aws/", "/.gnupg/", "/.config/gh/",
	".env", ".npmrc", ".netrc",
}

// IsProtectedPath reports whether path touches one of the structural
// hard-deny secret locations.
func IsProtectedPath(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range protectedPathSuffixes {
		if strings.HasSuffix(lower, suffix) || strings.Contains(lower, suffix) {
			return true
		}
	}
	return false
}

// DefaultPreset is the built-in preset: a conservative host-with-
// supervision profile, grounded on the teacher's internal/tools/policy.go
// profile-based default allow set, generalized to spec.md's richer
// decision/layer vocabulary.
func DefaultPreset() Preset {
	return Preset{
		Name: "default",
		HardDenyCommandPatterns: []string{
			"sudo *", "su *", "su",
			"chmod 777 /*", "chmod -R 777 /*",
			"*:(){ :|:& };:*", // fork bomb
			"printenv *_KEY*", "printenv *_TOKEN*", "printenv *_SECRET*",
			"env | grep *KEY*", "env | grep *TOKEN*", "env | grep *SECRET*",
		},
		ReadOnlyExecutables: map[string]bool{
			"ls": true, "cat": true, "grep": true, "rg": true, "find": true,
			"pwd": true, "echo": true, "head": true, "tail": true, "wc": true,
			"file": true, "stat": true, "which": true, "whoami": true, "date": true,
		},
		ReadOnlyBrowserScripts: map[string]bool{
			"screenshot.js": true, "logs-tail.js": true, "net-summary.js": true,
		},
		InteractiveBrowserScripts: map[string]bool{
			"start.js": true, "dismiss-cookies.js": true, "pick.js": true, "watch.js": true,
		},
		AskCommandPatterns: []string{
			"rm -rf *", "rm -fr *", "git push*", "git push --force*",
			"npm publish*", "ssh *", "scp *", "nc *", "ncat *",
			"curl * -d *", "wget * --post-data*",
		},
		DenyCommandPatterns: []string{
			"mkfs*", "dd if=* of=/dev/*", ":(){ :|:& };:*",
		},
		Fallback: ActionAsk,
	}
}

// GitReadOnlySubcommands are the git subcommands considered read-only for
// the constrained-host auto-allow layer.
var GitReadOnlySubcommands = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true,
	"branch": true, "remote": true, "blame": true, "describe": true,
}
