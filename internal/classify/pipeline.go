package classify

import (
	"fmt"

	"github.com/piisentry/scanner/internal/schema"
)

// compiledSource is one classifier's patterns, resolved against the
// builtin catalog when the control plane ships none.
type compiledSource struct {
	id       int
	name     string
	patterns []string
}

// Pipeline composes the four sub-engines over one classifier catalog.
type Pipeline struct {
	mass   *MassMatcher
	linear *LinearMatcher
	back   *BacktrackMatcher
	ner    *NERModel

	nerEnabled bool
}

// Option adjusts pipeline construction.
type Option func(*Pipeline)

// WithoutNER disables the entity model; rescan runs use this for speed.
func WithoutNER() Option {
	return func(p *Pipeline) { p.nerEnabled = false }
}

// NewPipeline validates and compiles the data classifiers of a catalog.
// Filename classifiers are ignored here; they gate discovery, not chunk
// content.
func NewPipeline(classifiers []schema.Classifier, opts ...Option) (*Pipeline, error) {
	var massSrc, linearSrc, backSrc []compiledSource
	hasNER := false

	for _, c := range classifiers {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if c.Kind != schema.KindData {
			continue
		}
		if c.Engine == schema.EngineNER {
			hasNER = true
			continue
		}
		src := compiledSource{id: c.ID, name: c.Name, patterns: c.Patterns}
		if len(src.patterns) == 0 {
			p, ok := BuiltinPattern(c.Name)
			if !ok {
				return nil, fmt.Errorf("classifier %q: no patterns and no builtin fallback", c.Name)
			}
			src.patterns = []string{p}
		}
		switch c.Engine {
		case schema.EngineHyperscan:
			massSrc = append(massSrc, src)
		case schema.EngineRE2:
			linearSrc = append(linearSrc, src)
		case schema.EngineRE:
			backSrc = append(backSrc, src)
		}
	}

	mass, err := NewMassMatcher(massSrc)
	if err != nil {
		return nil, err
	}
	linear, err := NewLinearMatcher(linearSrc)
	if err != nil {
		return nil, err
	}
	back, err := NewBacktrackMatcher(backSrc)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		mass:       mass,
		linear:     linear,
		back:       back,
		nerEnabled: hasNER,
	}
	if hasNER {
		p.ner = NewNERModel()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Scan runs all engines over one text segment and applies the
// credential-exclusion sentinel.
func (p *Pipeline) Scan(text string) []Match {
	var out []Match
	out = append(out, p.mass.Scan(text)...)
	out = append(out, p.linear.Scan(text)...)
	out = append(out, p.back.Scan(text)...)
	if p.nerEnabled && p.ner != nil {
		out = append(out, p.ner.Scan(text)...)
	}

	kept := out[:0]
	for _, m := range out {
		if IsCredentialFamily(m.Name) && ExcludedCredential(text[m.Start:m.End]) {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}
