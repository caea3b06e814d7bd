package classify

import (
	"testing"

	"github.com/piisentry/scanner/internal/schema"
)

func TestNERFullName(t *testing.T) {
	m := NewNERModel()
	text := "invoice approved by Sarah Connor yesterday"
	matches := m.Scan(text)
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1: %+v", len(matches), matches)
	}
	got := matches[0]
	if got.Name != "PERSON" || got.ClassifierID != schema.NERClassifierID {
		t.Errorf("unexpected match identity: %+v", got)
	}
	if text[got.Start:got.End] != "Sarah Connor" {
		t.Errorf("span = %q", text[got.Start:got.End])
	}
	if got.Score < NERScoreThreshold {
		t.Errorf("score %v below threshold", got.Score)
	}
}

func TestNERLoneGivenNameBelowThreshold(t *testing.T) {
	m := NewNERModel()
	if matches := m.Scan("ask Sarah about the report"); len(matches) != 0 {
		t.Errorf("lone given name should stay below threshold, got %+v", matches)
	}
}

func TestNERIgnoresLowercaseAndUnknown(t *testing.T) {
	m := NewNERModel()
	for _, text := range []string{
		"sarah connor wrote this", // not capitalized
		"Zxqwv Connor wrote this", // not in the gazetteer
	} {
		if matches := m.Scan(text); len(matches) != 0 {
			t.Errorf("Scan(%q) = %+v, want none", text, matches)
		}
	}
}

func TestNERThreeTokenSpan(t *testing.T) {
	m := NewNERModel()
	text := "signed by Mary Jane Watson"
	matches := m.Scan(text)
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if got := text[matches[0].Start:matches[0].End]; got != "Mary Jane Watson" {
		t.Errorf("span = %q", got)
	}
}
