package router

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
)

// DefaultMarkers are the project folder names whose scripts belong to a
// rendered page rather than running on their own
var DefaultMarkers = []string{"web", "site", "www", "public", "preview"}

// compileMarkers turns folder names into doublestar patterns. Entries that
// already look like patterns are kept as they are.
func compileMarkers(markers []string) ([]string, error) {
	patterns := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		if !strings.ContainsAny(m, "*?[{/") {
			m = "**/" + m + "/**"
		}
		if !doublestar.ValidatePattern(m) {
			return nil, fmt.Errorf("invalid project marker %q", m)
		}
		patterns = append(patterns, m)
	}
	return patterns, nil
}

// normalizePath makes artifact paths comparable: forward slashes, no
// leading slash or dot segments, lower case
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean("/" + p)
	return strings.ToLower(strings.TrimPrefix(p, "/"))
}

// grouped reports whether p sits inside a recognized project folder
func grouped(patterns []string, p string) bool {
	p = normalizePath(p)
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// classify is total: every language, known or not, maps to one strategy
func classify(patterns []string, a sandbox.Artifact) sandbox.Strategy {
	switch {
	case a.Language.IsDocument():
		return sandbox.StrategyPreview
	case a.Language.IsScript() && grouped(patterns, a.Path):
		return sandbox.StrategyPreview
	default:
		return sandbox.StrategyIsolated
	}
}
