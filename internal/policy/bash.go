// Package policy implements the Permission Gate's Policy Engine (spec.md
// §4.C): the ten-layer allow/ask/deny evaluator over structured tool
// calls, its bash-command tokenizer/parser, and its glob matchers.
//
// Grounded on the teacher's internal/tools/policy.go seven-step pipeline
// (profile → provider override → allow-list → per-agent allow → group
// allow → deny → alsoAllow): we keep the same "ordered list of
// narrowing/widening passes over a string set" shape, generalized to the
// richer allow/ask/deny/layer/rationale decision spec.md requires.
package policy

import "strings"

// ParsedCommand is the result of tokenizing and parsing one bash command
// segment.
type ParsedCommand struct {
	Executable string
	Args       []string
	Raw        string
}

// maxParseBytes short-circuits the tokenizer to a prefix check for very
// large commands (spec.md §4.C "Commands over 10 KB short-circuit to a
// prefix check").
const maxParseBytes = 10 * 1024

// benignPrefixes are commands that wrap another command without changing
// its effective identity for policy purposes.
var benignPrefixes = map[string]bool{
	"command": true,
	"builtin": true,
	"nohup":   true,
	"time":    true,
}

// tokenize splits a single command segment into shell words, honoring
// single/double quoting and backslash escaping. It never loops forever:
// an unterminated quote consumes the remainder of the input as one token.
func tokenize(segment string) []string {
	var tokens []string
	var cur strings.Builder
	hasCur := false
	inSingle, inDouble := false, false

	flush := func() {
		if hasCur {
			tokens = append(tokens, cur.String())
			cur.Reset()
			hasCur = false
		}
	}

	runes := []rune(segment)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inSingle:
			if r == '\'' {
				inSingle = false
			} else {
				cur.WriteRune(r)
				hasCur = true
			}
		case inDouble:
			if r == '"' {
				inDouble = false
			} else if r == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\' || runes[i+1] == '$') {
				i++
				cur.WriteRune(runes[i])
				hasCur = true
			} else {
				cur.WriteRune(r)
				hasCur = true
			}
		case r == '\'':
			inSingle = true
			hasCur = true
		case r == '"':
			inDouble = true
			hasCur = true
		case r == '\\' && i+1 < len(runes):
			i++
			cur.WriteRune(runes[i])
			hasCur = true
		case r == ' ' || r == '\t':
			flush()
		default:
			cur.WriteRune(r)
			hasCur = true
		}
	}
	flush()
	return tokens
}

// isEnvAssignment reports whether a token looks like FOO=bar.
func isEnvAssignment(tok string) bool {
	eq := strings.IndexByte(tok, '=')
	if eq <= 0 {
		return false
	}
	name := tok[:eq]
	for i, r := range name {
		if i == 0 && !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// ParseBashCommand tokenizes one command segment, strips leading
// environment-variable assignments and benign wrapper prefixes
// (command, builtin, nohup, time, env [flags] [VAR=val ...], nice
// [-n N]), and returns the resulting executable and arguments.
func ParseBashCommand(segment string) ParsedCommand {
	segment = strings.TrimSpace(segment)
	if len(segment) > maxParseBytes {
		// Prefix-only check: take the first token we can find cheaply.
		fields := strings.Fields(segment[:maxParseBytes])
		if len(fields) == 0 {
			return ParsedCommand{Raw: segment}
		}
		return ParsedCommand{Executable: fields[0], Args: fields[1:], Raw: segment}
	}

	toks := tokenize(segment)

	i := 0
	for i < len(toks) && isEnvAssignment(toks[i]) {
		i++
	}

	for i < len(toks) {
		tok := toks[i]
		switch {
		case benignPrefixes[tok]:
			i++
		case tok == "env":
			i++
			// env [-flags] [VAR=val ...] cmd
			for i < len(toks) && (strings.HasPrefix(toks[i], "-") || isEnvAssignment(toks[i])) {
				i++
			}
		case tok == "nice":
			i++
			if i < len(toks) && toks[i] == "-n" {
				i += 2
			} else if i < len(toks) && strings.HasPrefix(toks[i], "-n") {
				i++
			}
		default:
			goto done
		}
	}
done:

	if i >= len(toks) {
		return ParsedCommand{Raw: segment}
	}
	return ParsedCommand{Executable: toks[i], Args: toks[i+1:], Raw: segment}
}

// splitTopLevel splits s at every top-level occurrence of any separator in
// seps (each a 1-or-2 rune operator), outside of quotes. "Top-level" means
// not inside single/double quotes. Used for both chain-splitting (&&, ||,
// ;, newline) and pipeline-splitting (| distinguished from ||).
func splitTopLevel(s string, seps []string) []string {
	var out []string
	var cur strings.Builder
	inSingle, inDouble := false, false

	runes := []rune(s)
	i := 0
	for i < len(runes) {
		r := runes[i]
		if inSingle {
			cur.WriteRune(r)
			if r == '\'' {
				inSingle = false
			}
			i++
			continue
		}
		if inDouble {
			cur.WriteRune(r)
			if r == '"' {
				inDouble = false
			} else if r == '\\' && i+1 < len(runes) {
				i++
				cur.WriteRune(runes[i])
			}
			i++
			continue
		}
		if r == '\'' {
			inSingle = true
			cur.WriteRune(r)
			i++
			continue
		}
		if r == '"' {
			inDouble = true
			cur.WriteRune(r)
			i++
			continue
		}

		matched := ""
		for _, sep := range seps {
			if strings.HasPrefix(string(runes[i:]), sep) {
				if len(sep) > len(matched) {
					matched = sep
				}
			}
		}
		if matched != "" {
			out = append(out, cur.String())
			cur.Reset()
			i += len(matched)
			continue
		}

		cur.WriteRune(r)
		i++
	}
	out = append(out, cur.String())
	return out
}

// SplitChains splits a bash command string at top-level &&, ||, ;, and
// newline, outside of quotes.
func SplitChains(command string) []string {
	raw := splitTopLevel(command, []string{"&&", "||", ";", "\n"})
	var out []string
	for _, seg := range raw {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// SplitPipeline splits a single chain segment at top-level | (distinguished
// from ||, which chain-splitting already removed).
func SplitPipeline(segment string) []string {
	raw := splitTopLevel(segment, []string{"|"})
	var out []string
	for _, seg := range raw {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// HasRedirectsOrSubshell reports whether a command segment contains shell
// redirection (>, >>, <) or subshell/command-substitution syntax ($(...),
// backticks, parentheses) at the top level, outside quotes.
func HasRedirectsOrSubshell(segment string) bool {
	inSingle, inDouble := false, false
	runes := []rune(segment)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inSingle:
			if r == '\'' {
				inSingle = false
			}
		case inDouble:
			if r == '"' {
				inDouble = false
			} else if r == '\\' && i+1 < len(runes) {
				i++
			}
		case r == '\'':
			inSingle = true
		case r == '"':
			inDouble = true
		case r == '>' || r == '<' || r == '`' || r == '(':
			return true
		case r == '$' && i+1 < len(runes) && runes[i+1] == '(':
			return true
		}
	}
	return false
}

// CommandSubstitutions extracts the contents of every $(...) and
// `...`-delimited command substitution in a command string, recursively
// including nested ones, for recursive secret-path checks (spec.md §4.C
// layer 2 "its recursive variant for command substitutions").
func CommandSubstitutions(command string) []string {
	var out []string
	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '$' && i+1 < len(runes) && runes[i+1] == '(' {
			depth := 1
			j := i + 2
			start := j
			for j < len(runes) && depth > 0 {
				switch runes[j] {
				case '(':
					depth++
				case ')':
					depth--
				}
				j++
			}
			inner := string(runes[start : j-1])
			out = append(out, inner)
			out = append(out, CommandSubstitutions(inner)...)
			i = j - 1
		} else if runes[i] == '`' {
			j := i + 1
			start := j
			for j < len(runes) && runes[j] != '`' {
				j++
			}
			inner := string(runes[start:j])
			out = append(out, inner)
			out = append(out, CommandSubstitutions(inner)...)
			i = j
		}
	}
	return out
}

// SecretEnvVarName reports whether an environment variable name looks like
// it holds a secret (spec.md §4.C layer 1 "secret env-var exfiltration").
func SecretEnvVarName(name string) bool {
	upper := strings.ToUpper(name)
	for _, needle := range []string{"KEY", "TOKEN", "SECRET", "PASSWORD", "CREDENTIAL", "AUTH"} {
		if strings.Contains(upper, needle) {
			return true
		}
	}
	return false
}
