package rules

import "strings"

// domainMatches reports whether candidate is ruleDomain or a subdomain of
// it (spec.md §4.C scenario 4: "future nav.js to any *.github.com
// auto-allows").
func domainMatches(ruleDomain, candidate string) bool {
	ruleDomain = strings.ToLower(ruleDomain)
	candidate = strings.ToLower(candidate)
	if candidate == ruleDomain {
		return true
	}
	return strings.HasSuffix(candidate, "."+ruleDomain)
}

// pathPatternMatches matches a directory-glob pattern (possibly containing
// "**") against a candidate path. Duplicated in miniature from
// internal/policy's glob matcher to avoid a rules->policy import cycle
// (policy already depends on rules for learned-rule evaluation).
func pathPatternMatches(pattern, path string) bool {
	patSegs := strings.Split(pattern, "/")
	pathSegs := strings.Split(path, "/")
	return matchPathSegs(patSegs, pathSegs)
}

func matchPathSegs(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}
	if pat[0] == "**" {
		if matchPathSegs(pat[1:], path) {
			return true
		}
		if len(path) == 0 {
			return false
		}
		return matchPathSegs(pat, path[1:])
	}
	if len(path) == 0 {
		return false
	}
	if !matchFlatGlob(pat[0], path[0]) {
		return false
	}
	return matchPathSegs(pat[1:], path[1:])
}

// commandPatternMatches matches a flat-string bash-command glob (where "*"
// crosses no boundary at all — it is just "any run of characters").
func commandPatternMatches(pattern, command string) bool {
	return matchFlatGlob(pattern, command)
}

func matchFlatGlob(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	segments := strings.Split(pattern, "*")
	first := segments[0]
	if !strings.HasPrefix(s, first) {
		return false
	}
	s = s[len(first):]
	last := segments[len(segments)-1]
	if !strings.HasSuffix(s, last) {
		return false
	}
	s = s[:len(s)-len(last)]
	for _, mid := range segments[1 : len(segments)-1] {
		if mid == "" {
			continue
		}
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return true
}
