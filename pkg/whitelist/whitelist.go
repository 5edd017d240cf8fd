// Package whitelist compiles glob patterns into hostname matchers. The
// whitelist is static per process and read-only at request time; matching a
// claimed host is a first line of defense, not proof of authenticity.
package whitelist

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

type Whitelist struct {
	patterns []string
	globs    []glob.Glob
}

// Compile builds a whitelist from glob patterns ('.' separated, so "*.example"
// matches "host.example" but not "a.b.example"). An empty pattern set matches
// nothing.
func Compile(patterns []string) (Whitelist, error) {
	w := Whitelist{patterns: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p), '.')
		if err != nil {
			return Whitelist{}, fmt.Errorf("whitelist pattern %q: %w", p, err)
		}
		w.globs = append(w.globs, g)
	}
	return w, nil
}

func (w Whitelist) Match(host string) bool {
	host = strings.ToLower(host)
	for _, g := range w.globs {
		if g.Match(host) {
			return true
		}
	}
	return false
}

func (w Whitelist) Patterns() []string { return w.patterns }
