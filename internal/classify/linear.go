package classify

import (
	"fmt"
	"regexp"
)

// LinearMatcher runs linear-time patterns one at a time with finditer
// semantics: every non-overlapping match is reported as-is.
type LinearMatcher struct {
	entries []massEntry
}

// NewLinearMatcher compiles per-pattern RE2 matchers.
func NewLinearMatcher(classifiers []compiledSource) (*LinearMatcher, error) {
	m := &LinearMatcher{}
	for _, c := range classifiers {
		for _, p := range c.patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("classifier %q: %w", c.name, err)
			}
			m.entries = append(m.entries, massEntry{id: c.id, name: c.name, re: re})
		}
	}
	return m, nil
}

// Scan reports every match of every pattern.
func (m *LinearMatcher) Scan(text string) []Match {
	var out []Match
	for _, e := range m.entries {
		for _, loc := range e.re.FindAllStringIndex(text, -1) {
			out = append(out, Match{
				ClassifierID: e.id,
				Name:         e.name,
				Start:        loc[0],
				End:          loc[1],
				Score:        1,
			})
		}
	}
	return out
}
