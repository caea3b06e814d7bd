// Package classify implements the multi-engine classifier pipeline:
// pattern matchers of several flavours plus a named-entity model, and the
// masking/hashing rules applied to raw matches before reporting.
package classify

// Match is one classifier hit inside a text segment. Start/End are byte
// offsets into the scanned segment.
type Match struct {
	ClassifierID int
	Name         string
	Start        int
	End          int
	Score        float64
}

// Matcher is the uniform capability every sub-engine exposes.
type Matcher interface {
	Scan(text string) []Match
}
