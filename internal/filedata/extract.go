package filedata

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// unsupportedExtensions never produce chunks; objects carrying them are
// marked scanned immediately.
var unsupportedExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {},
	".svg": {}, ".tif": {}, ".tiff": {}, ".ico": {}, ".mbox": {},
	".webm": {},
}

// containerExtensions are sized by their extracted text, not their
// on-disk bytes.
var containerExtensions = map[string]struct{}{
	".csv": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".pdf": {},
}

// Unsupported reports whether the object name carries an extension the
// pipeline cannot read.
func Unsupported(name string) bool {
	_, ok := unsupportedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// IsContainer reports whether the object must be converted to text
// before chunk planning.
func IsContainer(name string) bool {
	_, ok := containerExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// ExtractText converts a container-format file into its textual
// representation. For CSV the columns are flattened row-major.
func ExtractText(name string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		cols, err := DecodeCSV(data)
		if err != nil {
			return "", err
		}
		c := &Content{Columns: cols}
		return c.Flatten(), nil
	case ".xls", ".xlsx":
		return extractWorkbook(data)
	case ".pdf":
		return extractPDF(data)
	case ".docx":
		return extractDocx(data)
	case ".doc":
		// Legacy binary Word: fall back to printable runs.
		return printableRuns(data), nil
	default:
		return "", fmt.Errorf("not a container format: %s", name)
	}
}

func extractWorkbook(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			b.WriteString(strings.Join(row, " "))
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// extractDocx reads word/document.xml out of the OOXML container and
// keeps the character data.
func extractDocx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return xmlCharData(rc)
	}
	return "", fmt.Errorf("docx missing word/document.xml")
}

func xmlCharData(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			// Paragraph boundaries become spaces so entities do not fuse.
			if t.Name.Local == "p" {
				b.WriteByte(' ')
			}
		}
	}
	return b.String(), nil
}

// printableRuns extracts runs of printable ASCII of length >= 4.
func printableRuns(data []byte) string {
	var b strings.Builder
	var run []byte
	flush := func() {
		if len(run) >= 4 {
			b.Write(run)
			b.WriteByte(' ')
		}
		run = run[:0]
	}
	for _, c := range data {
		if c >= 0x20 && c < 0x7f {
			run = append(run, c)
			continue
		}
		flush()
	}
	flush()
	return b.String()
}
