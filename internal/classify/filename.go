package classify

import (
	"fmt"
	"regexp"

	"github.com/piisentry/scanner/internal/schema"
)

// FilenameFilter holds the compiled Filename classifiers of a catalog.
// Exclusions mark objects Ignored; inclusions, when any exist, gate which
// objects proceed and attach their labels.
type FilenameFilter struct {
	include []filenameEntry
	exclude []filenameEntry
}

type filenameEntry struct {
	name   string
	labels []string
	res    []*regexp.Regexp
}

// NewFilenameFilter compiles the Filename classifiers of a catalog.
func NewFilenameFilter(classifiers []schema.Classifier) (*FilenameFilter, error) {
	f := &FilenameFilter{}
	for _, c := range classifiers {
		if c.Kind != schema.KindFilename {
			continue
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		entry := filenameEntry{name: c.Name, labels: c.Labels}
		for _, p := range c.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("filename classifier %q: %w", c.Name, err)
			}
			entry.res = append(entry.res, re)
		}
		if c.Category == schema.CategoryExclude {
			f.exclude = append(f.exclude, entry)
		} else {
			f.include = append(f.include, entry)
		}
	}
	return f, nil
}

// Excluded reports whether the object name matches an exclusion
// classifier.
func (f *FilenameFilter) Excluded(name string) bool {
	for _, e := range f.exclude {
		for _, re := range e.res {
			if re.MatchString(name) {
				return true
			}
		}
	}
	return false
}

// HasInclusions reports whether inclusion gating applies at all.
func (f *FilenameFilter) HasInclusions() bool {
	return len(f.include) > 0
}

// Included returns whether the name matches at least one inclusion
// classifier, plus the labels of every matching one.
func (f *FilenameFilter) Included(name string) (bool, []string) {
	matched := false
	var labels []string
	for _, e := range f.include {
		for _, re := range e.res {
			if re.MatchString(name) {
				matched = true
				labels = append(labels, e.labels...)
				break
			}
		}
	}
	return matched, labels
}
