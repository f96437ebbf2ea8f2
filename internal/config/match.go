package config

import (
	"fmt"
	"strings"
)

// PathPrefix matches request paths that start with Prefix.
type PathPrefix struct{ Prefix string }

func (m PathPrefix) Match(path string) bool { return strings.HasPrefix(path, m.Prefix) }

// Matchers is an OR of path prefixes compiled from an expression such as
// "PathPrefix(/api/)|PathPrefix(/exec)".
type Matchers []PathPrefix

func (ms Matchers) Match(path string) bool {
	for _, m := range ms {
		if m.Match(path) {
			return true
		}
	}
	return false
}

// ParseMatch compiles a match expression into Matchers.
func ParseMatch(expr string) (Matchers, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty match")
	}

	parts := strings.Split(expr, "|")
	out := make(Matchers, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "PathPrefix(") || !strings.HasSuffix(p, ")") {
			return nil, fmt.Errorf("only PathPrefix(...) supported, got %q", p)
		}
		inside := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(p, "PathPrefix("), ")"))
		if inside == "" || !strings.HasPrefix(inside, "/") {
			return nil, fmt.Errorf("invalid prefix %q", inside)
		}
		out = append(out, PathPrefix{Prefix: inside})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no valid matchers")
	}
	return out, nil
}
