package policy

import "strings"

// MatchBashGlob matches a bash command-pattern glob against a string using
// flat-string semantics where * crosses "/" (unlike path globs). For
// efficiency the matcher splits the pattern on "*" and checks that the
// literal segments appear in order: the first segment must prefix the
// string, the last must suffix it, and the middle segments must each be
// found, in order, without overlap (spec.md §4.C).
func MatchBashGlob(pattern, s string) bool {
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

// MatchPathGlob matches a filesystem-path glob against a path. "**"
// matches across path separators (any number of segments, including
// zero); a single "*" matches within one segment only.
func MatchPathGlob(pattern, path string) bool {
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
	if !matchSegment(pat[0], path[0]) {
		return false
	}
	return matchPathSegs(pat[1:], path[1:])
}

// matchSegment matches one path segment against a pattern segment that may
// contain "*" wildcards (single-segment scope — does not cross "/").
func matchSegment(pattern, segment string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == segment
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(segment, parts[0]) {
		return false
	}
	segment = segment[len(parts[0]):]
	last := parts[len(parts)-1]
	if !strings.HasSuffix(segment, last) {
		return false
	}
	segment = segment[:len(segment)-len(last)]
	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		idx := strings.Index(segment, mid)
		if idx < 0 {
			return false
		}
		segment = segment[idx+len(mid):]
	}
	return true
}
