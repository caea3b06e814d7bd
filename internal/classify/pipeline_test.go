package classify

import (
	"testing"

	"github.com/piisentry/scanner/internal/schema"
)

func catalog(t *testing.T) []schema.Classifier {
	t.Helper()
	return []schema.Classifier{
		{ID: 1, Name: "US_SSN", Engine: schema.EngineHyperscan, Kind: schema.KindData, Category: schema.CategoryInclude},
		{ID: 2, Name: "EMAIL_ADDRESS", Engine: schema.EngineRE2, Kind: schema.KindData, Category: schema.CategoryInclude},
		{ID: 3, Name: "CREDIT_CARD", Engine: schema.EngineRE, Kind: schema.KindData, Category: schema.CategoryInclude},
		{ID: schema.NERClassifierID, Name: "PERSON", Engine: schema.EngineNER, Kind: schema.KindData, Category: schema.CategoryInclude},
	}
}

func TestPipelineMergesEngines(t *testing.T) {
	p, err := NewPipeline(catalog(t))
	if err != nil {
		t.Fatal(err)
	}
	text := "ssn 123-45-6789 email a.b@example.com card 4111-1111-1111-1111 owner Sarah Connor"
	matches := p.Scan(text)

	byName := map[string]int{}
	for _, m := range matches {
		byName[m.Name]++
	}
	for _, want := range []string{"US_SSN", "EMAIL_ADDRESS", "CREDIT_CARD", "PERSON"} {
		if byName[want] == 0 {
			t.Errorf("no %s match in %+v", want, matches)
		}
	}
}

func TestPipelineWithoutNER(t *testing.T) {
	p, err := NewPipeline(catalog(t), WithoutNER())
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range p.Scan("owner Sarah Connor") {
		if m.Name == "PERSON" {
			t.Errorf("PERSON match with the entity model disabled: %+v", m)
		}
	}
}

func TestPipelineCredentialSentinel(t *testing.T) {
	classifiers := []schema.Classifier{
		{ID: 7, Name: "OPENAI_KEY", Engine: schema.EngineRE2, Kind: schema.KindData, Category: schema.CategoryInclude},
	}
	p, err := NewPipeline(classifiers)
	if err != nil {
		t.Fatal(err)
	}
	// A literal assignment is reported.
	literal := "openai_key = abcdef0123456789abcdef0123456789"
	if len(p.Scan(literal)) == 0 {
		t.Error("literal key not matched")
	}
	// A getter call is code, not a secret; the sentinel drops it.
	viaGetter := "openai_key = getabcdef0123456789abcdef0123456"
	if got := p.Scan(viaGetter); len(got) != 0 {
		t.Errorf("getter assignment should be excluded, got %+v", got)
	}
}

func TestPipelineSkipsFilenameClassifiers(t *testing.T) {
	classifiers := []schema.Classifier{
		{ID: 1, Name: "US_SSN", Engine: schema.EngineHyperscan, Kind: schema.KindData, Category: schema.CategoryInclude},
		{ID: 9, Name: "LOG_FILES", Engine: schema.EngineRE2, Kind: schema.KindFilename,
			Category: schema.CategoryExclude, Patterns: []string{`\.log$`}},
	}
	p, err := NewPipeline(classifiers)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range p.Scan("error.log 123-45-6789") {
		if m.Name == "LOG_FILES" {
			t.Errorf("filename classifier leaked into content scan: %+v", m)
		}
	}
}

func TestPipelineRejectsExcludeDataClassifier(t *testing.T) {
	classifiers := []schema.Classifier{
		{ID: 1, Name: "BAD", Engine: schema.EngineRE2, Kind: schema.KindData,
			Category: schema.CategoryExclude, Patterns: []string{`x`}},
	}
	if _, err := NewPipeline(classifiers); err == nil {
		t.Fatal("EXCLUDE data classifier must be rejected")
	}
}

func TestPipelineUnknownClassifierWithoutPatterns(t *testing.T) {
	classifiers := []schema.Classifier{
		{ID: 1, Name: "NO_SUCH_BUILTIN", Engine: schema.EngineRE2, Kind: schema.KindData, Category: schema.CategoryInclude},
	}
	if _, err := NewPipeline(classifiers); err == nil {
		t.Fatal("classifier without patterns or builtin must be rejected")
	}
}
