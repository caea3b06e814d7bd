package schema

import (
	"fmt"
	"time"
)

// Engine selects which matcher compiles a classifier's patterns.
type Engine string

const (
	EngineHyperscan Engine = "HYPERSCAN"
	EngineRE2       Engine = "RE2"
	EngineRE        Engine = "RE"
	EngineNER       Engine = "NER"
)

// Category marks a classifier as a selector or a filter.
type Category string

const (
	CategoryInclude Category = "INCLUDE"
	CategoryExclude Category = "EXCLUDE"
)

// Kind tells what the classifier is applied to.
type Kind string

const (
	KindData     Kind = "Data"
	KindFilename Kind = "Filename"
)

// NERClassifierID is reserved for findings produced by the entity model.
const NERClassifierID = 0

// Classifier is one named pattern set recognising a data category.
type Classifier struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Engine      Engine   `json:"engine"`
	Patterns    []string `json:"patterns"`
	Category    Category `json:"category"`
	Kind        Kind     `json:"type"`
	Labels      []string `json:"labels,omitempty"`
	Sensitivity string   `json:"sensitivity,omitempty"`

	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// CatalogStamp returns the newest update time across a catalog, the
// version mark rescan compares chunk stamps against.
func CatalogStamp(classifiers []Classifier) time.Time {
	var stamp time.Time
	for _, c := range classifiers {
		if c.UpdatedAt != nil && c.UpdatedAt.After(stamp) {
			stamp = *c.UpdatedAt
		}
	}
	return stamp
}

// Validate rejects combinations the pipeline cannot honour. An EXCLUDE
// classifier can only filter object names, never chunk content.
func (c Classifier) Validate() error {
	if c.Category == CategoryExclude && c.Kind == KindData {
		return fmt.Errorf("classifier %q: EXCLUDE category is only valid for Filename classifiers", c.Name)
	}
	switch c.Engine {
	case EngineHyperscan, EngineRE2, EngineRE, EngineNER:
	default:
		return fmt.Errorf("classifier %q: unknown engine %q", c.Name, c.Engine)
	}
	return nil
}
