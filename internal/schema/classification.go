package schema

import "time"

// DefaultScanningPeriodMinutes applies when a classification declares no
// cadence of its own.
const DefaultScanningPeriodMinutes = 15

// Classification is a user-declared selection of sources and objects with
// a scan cadence.
type Classification struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Service               Service    `json:"service"`
	AccountID             string     `json:"account_id,omitempty"`
	ScanningPeriodMinutes int        `json:"scanning_period_minutes,omitempty"`
	LastScanned           *time.Time `json:"last_scanned,omitempty"`

	// DataSources limits discovery to the named sources; DataObjects,
	// when non-empty, further restricts it to named objects.
	DataSources []SourceInput `json:"data_sources,omitempty"`
	DataObjects []string      `json:"data_objects,omitempty"`

	NERDisabled bool `json:"ner_disabled,omitempty"`
}

// Period returns the effective reschedule interval.
func (c Classification) Period() time.Duration {
	m := c.ScanningPeriodMinutes
	if m <= 0 {
		m = DefaultScanningPeriodMinutes
	}
	return time.Duration(m) * time.Minute
}

// ClassificationGroup aggregates classifications sharing a scanner
// assignment.
type ClassificationGroup struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	ScannerIDs      []string         `json:"scanner_ids,omitempty"`
	AccountIDs      []string         `json:"account_ids,omitempty"`
	Classifications []Classification `json:"classifications,omitempty"`
	LastScanned     *time.Time       `json:"last_scanned,omitempty"`
}

// AssignedTo reports whether this group is ours: either our scanner id is
// listed, or the group is AWS-scoped and we own one of its accounts.
func (g ClassificationGroup) AssignedTo(scannerID, customerAccountID string) bool {
	for _, id := range g.ScannerIDs {
		if id == scannerID {
			return true
		}
	}
	for _, c := range g.Classifications {
		if c.Service.AWSScoped() && c.AccountID == customerAccountID {
			return true
		}
	}
	return false
}
