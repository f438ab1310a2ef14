package policy

import "fmt"

// DisplaySummary gives the phone a readable one-liner for a tool call
// (spec.md §4.C "display summary formatter").
func DisplaySummary(req GateRequest) string {
	switch req.Tool {
	case ToolBrowser:
		script := req.str("script")
		switch script {
		case "nav.js":
			return "Navigate: " + req.str("domain")
		case "eval.js":
			return "JS: " + truncate(req.str("code"), 80)
		case "screenshot.js":
			return "Screenshot"
		default:
			return "Browser: " + script
		}
	case ToolReadFile:
		return "Read " + req.str("path")
	case ToolWriteFile:
		return "Write " + req.str("path")
	case ToolEditFile:
		return "Edit " + req.str("path")
	case ToolBash:
		return "Bash: " + truncate(req.str("command"), 80)
	default:
		return fmt.Sprintf("%s", req.Tool)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
