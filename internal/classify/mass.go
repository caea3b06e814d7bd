package classify

import (
	"fmt"
	"regexp"
	"sort"
)

// MassMatcher compiles the whole fast-automaton pattern set at once and
// reports matches with leftmost-start semantics: for every
// (classifier, start) only the longest match survives.
type MassMatcher struct {
	entries []massEntry
}

type massEntry struct {
	id   int
	name string
	re   *regexp.Regexp
}

// NewMassMatcher compiles the given classifiers. One uncompilable pattern
// fails the whole set; the catalog is validated upstream.
func NewMassMatcher(classifiers []compiledSource) (*MassMatcher, error) {
	m := &MassMatcher{}
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

type startKey struct {
	id    int
	start int
}

// Scan runs every automaton over text and collapses hits per
// (classifier, start) keeping the longest.
func (m *MassMatcher) Scan(text string) []Match {
	longest := map[startKey]Match{}
	for _, e := range m.entries {
		for _, loc := range e.re.FindAllStringIndex(text, -1) {
			key := startKey{id: e.id, start: loc[0]}
			if prev, ok := longest[key]; !ok || loc[1] > prev.End {
				longest[key] = Match{
					ClassifierID: e.id,
					Name:         e.name,
					Start:        loc[0],
					End:          loc[1],
					Score:        1,
				}
			}
		}
	}
	out := make([]Match, 0, len(longest))
	for _, m := range longest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ClassifierID < out[j].ClassifierID
	})
	return out
}
