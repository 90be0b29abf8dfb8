package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter selects events by keyspace and table glob patterns. An empty
// pattern list matches everything.
type GlobFilter struct {
	tableGlobs    []glob.Glob
	keyspaceGlobs []glob.Glob
}

// NewGlobFilter compiles the table and keyspace patterns
func NewGlobFilter(tablePatterns, keyspacePatterns []string) (*GlobFilter, error) {
	tables, err := compileGlobs("table", tablePatterns)
	if err != nil {
		return nil, err
	}
	keyspaces, err := compileGlobs("keyspace", keyspacePatterns)
	if err != nil {
		return nil, err
	}
	return &GlobFilter{tableGlobs: tables, keyspaceGlobs: keyspaces}, nil
}

func compileGlobs(kind string, patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(globs []glob.Glob, s string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// Match reports whether both the keyspace and the table match
func (f *GlobFilter) Match(keyspace, table string) bool {
	return matchAny(f.keyspaceGlobs, keyspace) && matchAny(f.tableGlobs, table)
}
