package rbac

import (
	"fmt"
	"path"
	"strings"
)

const (
	// CatchAllPattern matches every request path.
	CatchAllPattern = "/**"

	anySegment   = "*"
	anySegments  = "**"
	globMetaChar = "*?["
)

// Matches reports whether requestPath satisfies pattern.
//
//	"/user/*"   matches "/user/login" but not "/user/a/b"
//	"/user/**"  matches "/user", "/user/login", "/user/a/b"
//	"/user/**"  does not match "/users"
//
// Matching is case-sensitive and anchored at both ends. A trailing "**"
// also matches zero segments, so "/css/**" matches "/css". Empty
// segments are ignored on both sides and "." and ".." segments are
// resolved before matching, so "/user/../admin" is "/admin". Malformed
// patterns never match.
func Matches(pattern, requestPath string) bool {
	return matchSegments(splitPath(pattern), splitPath(requestPath))
}

// ValidatePattern reports why pattern cannot be used in a rule table.
func ValidatePattern(pattern string) error {
	if !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("pattern %q must start with /", pattern)
	}
	for _, part := range strings.Split(pattern, "/") {
		if part == "." || part == ".." {
			return fmt.Errorf("pattern %q: dot segments are not allowed", pattern)
		}
	}
	segments := splitPath(pattern)
	for i, seg := range segments {
		if strings.Contains(seg, anySegments) {
			if seg != anySegments {
				return fmt.Errorf("pattern %q: ** must be a whole segment", pattern)
			}
			if i != len(segments)-1 {
				return fmt.Errorf("pattern %q: ** is only allowed as the last segment", pattern)
			}
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// Match returns the first rule in order whose pattern and methods accept
// the request.
func Match(rules []Rule, requestPath, method string) (Rule, bool) {
	segments := splitPath(requestPath)
	for _, rule := range rules {
		if !rule.AllowsMethod(method) {
			continue
		}
		if matchSegments(splitPath(rule.Pattern), segments) {
			return rule, true
		}
	}
	return Rule{}, false
}

func matchSegments(pattern, segments []string) bool {
	for i, seg := range pattern {
		if seg == anySegments {
			return i == len(pattern)-1
		}
		if i >= len(segments) {
			return false
		}
		if !matchSegment(seg, segments[i]) {
			return false
		}
	}
	return len(pattern) == len(segments)
}

func matchSegment(pattern, segment string) bool {
	if pattern == anySegment {
		return true
	}
	if !strings.ContainsAny(pattern, globMetaChar) {
		return pattern == segment
	}
	ok, err := path.Match(pattern, segment)
	return err == nil && ok
}

// splitPath returns the non-empty segments of p with dot segments
// resolved. ".." never climbs above the root.
func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	return out
}
