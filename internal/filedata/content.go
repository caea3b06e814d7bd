// Package filedata models fetched chunk content and extracts a textual
// representation from container file formats.
package filedata

import "strings"

// Column is one named column of tabular content.
type Column struct {
	Name   string
	Values []string
}

// Content is what a connector fetch yields: either a textual blob or a
// set of tabular columns.
type Content struct {
	Text    string
	Columns []Column
}

// Tabular reports whether the content is column-oriented.
func (c *Content) Tabular() bool {
	return c != nil && len(c.Columns) > 0
}

// Empty reports whether there is nothing to classify: nil content, an
// empty string, or columns whose every value is blank.
func (c *Content) Empty() bool {
	if c == nil {
		return true
	}
	if len(c.Columns) == 0 {
		return strings.TrimSpace(c.Text) == ""
	}
	for _, col := range c.Columns {
		for _, v := range col.Values {
			if strings.TrimSpace(v) != "" {
				return false
			}
		}
	}
	return true
}

// JoinedColumn concatenates a column's values with single spaces, the
// form the classifier pipeline scans per column.
func JoinedColumn(col Column) string {
	return strings.Join(col.Values, " ")
}

// Body returns the exact chunk window as text, stripping the low-side
// overlap a blob fetch added. Hashing must see the same bytes regardless
// of which neighbour-aware fetch produced them.
func (c *Content) Body(offset, overlap int64) string {
	if c == nil {
		return ""
	}
	if len(c.Columns) > 0 {
		return c.Flatten()
	}
	pad := overlap
	if offset <= 0 {
		pad = 0
	} else if pad > offset {
		pad = offset
	}
	if pad >= int64(len(c.Text)) {
		return ""
	}
	return c.Text[pad:]
}

// Flatten renders the whole content as one text segment, used for the
// PHI probe.
func (c *Content) Flatten() string {
	if c == nil {
		return ""
	}
	if len(c.Columns) == 0 {
		return c.Text
	}
	parts := make([]string, 0, len(c.Columns))
	for _, col := range c.Columns {
		parts = append(parts, col.Name, JoinedColumn(col))
	}
	return strings.Join(parts, " ")
}
