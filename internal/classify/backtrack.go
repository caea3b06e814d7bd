package classify

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// backtrackTimeout bounds one pattern on one segment; a runaway pattern
// costs the match, not the worker.
const backtrackTimeout = 5 * time.Second

// BacktrackMatcher runs full-featured (lookaround-capable) patterns one
// at a time with finditer semantics.
type BacktrackMatcher struct {
	entries []backtrackEntry
}

type backtrackEntry struct {
	id   int
	name string
	re   *regexp2.Regexp
}

// NewBacktrackMatcher compiles the backtracking pattern set.
func NewBacktrackMatcher(classifiers []compiledSource) (*BacktrackMatcher, error) {
	m := &BacktrackMatcher{}
	for _, c := range classifiers {
		for _, p := range c.patterns {
			re, err := regexp2.Compile(p, regexp2.None)
			if err != nil {
				return nil, fmt.Errorf("classifier %q: %w", c.name, err)
			}
			re.MatchTimeout = backtrackTimeout
			m.entries = append(m.entries, backtrackEntry{id: c.id, name: c.name, re: re})
		}
	}
	return m, nil
}

// Scan reports every match of every pattern. Byte offsets are derived
// from the engine's rune indexes so they line up with the other engines.
func (m *BacktrackMatcher) Scan(text string) []Match {
	runes := []rune(text)
	byteAt := runeToByteIndex(text, runes)
	var out []Match
	for _, e := range m.entries {
		match, err := e.re.FindRunesMatch(runes)
		for err == nil && match != nil {
			start := byteAt[match.Index]
			end := byteAt[match.Index+match.Length]
			out = append(out, Match{
				ClassifierID: e.id,
				Name:         e.name,
				Start:        start,
				End:          end,
				Score:        1,
			})
			match, err = e.re.FindNextMatch(match)
		}
	}
	return out
}

// runeToByteIndex maps rune index -> byte offset, with one extra slot for
// the end of string.
func runeToByteIndex(text string, runes []rune) []int {
	idx := make([]int, len(runes)+1)
	b := 0
	for i, r := range runes {
		idx[i] = b
		b += utf8.RuneLen(r)
	}
	idx[len(runes)] = len(text)
	return idx
}
