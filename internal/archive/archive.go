// Package archive expands .zip/.tar/.tar.gz/.tar.bz2 objects into a local
// cache, with a recursive uncompressed-size pre-check against the disk
// budget sampled at startup.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ExtractedSuffix keys a cache directory to its archive; the directory's
// existence is the single-writer sentinel.
const ExtractedSuffix = "_extracted_archive"

// IsArchive reports whether the object name is a supported archive.
func IsArchive(name string) bool {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"),
		strings.HasSuffix(lower, ".tar"),
		strings.HasSuffix(lower, ".tar.gz"),
		strings.HasSuffix(lower, ".tar.bz2"):
		return true
	}
	return false
}

// UncompressedSize walks the archive recursively (nested archives
// included) and returns the total number of bytes extraction would
// write.
func UncompressedSize(data []byte, name string) (int64, error) {
	return walk(data, name, func(string, []byte) error { return nil })
}

// walk visits every non-archive member with its would-be relative path
// and content, descending into nested archives, and returns the byte
// total. Some .tar.* uploads are actually zips; a PK signature wins over
// the extension.
func walk(data []byte, name string, visit func(rel string, content []byte) error) (int64, error) {
	lower := strings.ToLower(name)
	asZip := strings.HasSuffix(lower, ".zip") || bytes.HasPrefix(data, []byte("PK"))
	if asZip {
		return walkZip(data, visit)
	}

	var r io.Reader = bytes.NewReader(data)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return 0, fmt.Errorf("gunzip %s: %w", name, err)
		}
		defer zr.Close()
		r = zr
	case strings.HasSuffix(lower, ".tar.bz2"):
		r = bzip2.NewReader(r)
	case strings.HasSuffix(lower, ".tar"):
	default:
		return 0, fmt.Errorf("unsupported archive: %s", name)
	}
	return walkTar(r, visit)
}

func walkZip(data []byte, visit func(string, []byte) error) (int64, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open zip: %w", err)
	}
	var total int64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return 0, err
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return 0, err
		}
		n, err := member(f.Name, content, visit)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func walkTar(r io.Reader, visit func(string, []byte) error) (int64, error) {
	tr := tar.NewReader(r)
	var total int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return 0, err
		}
		n, err := member(hdr.Name, content, visit)
		if err != nil {
			return 0, err
		}
		total += n
	}
}

// member accounts one entry, descending when it is itself an archive.
func member(name string, content []byte, visit func(string, []byte) error) (int64, error) {
	rel := sanitize(name)
	if rel == "" {
		return 0, nil
	}
	if IsArchive(rel) {
		nested, err := walk(content, rel, func(innerRel string, inner []byte) error {
			return visit(filepath.Join(rel+ExtractedSuffix, innerRel), inner)
		})
		if err != nil {
			// A corrupt nested archive is kept as a plain file.
			if visitErr := visit(rel, content); visitErr != nil {
				return 0, visitErr
			}
			return int64(len(content)), nil
		}
		return nested, nil
	}
	if err := visit(rel, content); err != nil {
		return 0, err
	}
	return int64(len(content)), nil
}

// sanitize strips traversal components from a member path.
func sanitize(name string) string {
	clean := filepath.Clean("/" + name)
	return strings.TrimPrefix(clean, "/")
}
