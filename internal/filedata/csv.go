package filedata

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Delimiters tried during CSV probing, in order.
var Delimiters = []rune{',', '\t', ';', '|'}

// csvEncodings pairs the probe set's names with their decoders. ASCII and
// UTF-8 share the identity decoder.
var csvEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"ISO-8859-1", charmap.ISO8859_1},
	{"utf-8", encoding.Nop},
	{"windows-1252", charmap.Windows1252},
	{"utf-16", unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)},
	{"utf-16le", unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)},
	{"utf-16be", unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)},
	{"ascii", encoding.Nop},
}

// DecodeCSV probes delimiter x encoding combinations until one parses
// into a consistent table. The first row is taken as the header.
func DecodeCSV(data []byte) ([]Column, error) {
	for _, delim := range Delimiters {
		for _, enc := range csvEncodings {
			cols, err := parseCSV(data, delim, enc.enc)
			if err == nil && len(cols) > 0 {
				return cols, nil
			}
		}
	}
	return nil, fmt.Errorf("no delimiter/encoding combination parsed the file")
}

func parseCSV(data []byte, delim rune, enc encoding.Encoding) ([]Column, error) {
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), enc.NewDecoder()))
	if err != nil {
		return nil, err
	}
	// NUL bytes mean the encoding guess was wrong (typically UTF-16 read
	// through a single-byte decoder).
	if bytes.IndexByte(decoded, 0) >= 0 {
		return nil, fmt.Errorf("decoded text contains NUL bytes")
	}
	r := csv.NewReader(bytes.NewReader(decoded))
	r.Comma = delim
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty table")
	}
	header := records[0]
	// A single-column parse means the delimiter did not split anything;
	// only accept it for genuinely single-column files (no other
	// delimiter present in the header).
	if len(header) == 1 && containsAnyDelimiter(header[0]) {
		return nil, fmt.Errorf("delimiter %q did not split", delim)
	}
	cols := make([]Column, len(header))
	for i, name := range header {
		cols[i] = Column{Name: name}
	}
	for _, rec := range records[1:] {
		for i := range cols {
			if i < len(rec) {
				cols[i].Values = append(cols[i].Values, rec[i])
			} else {
				cols[i].Values = append(cols[i].Values, "")
			}
		}
	}
	return cols, nil
}

func containsAnyDelimiter(s string) bool {
	for _, d := range Delimiters {
		for _, r := range s {
			if r == d {
				return true
			}
		}
	}
	return false
}
