package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIsArchive(t *testing.T) {
	for _, name := range []string{"a.zip", "b.tar", "c.tar.gz", "d.TAR.BZ2"} {
		if !IsArchive(name) {
			t.Errorf("IsArchive(%q) = false", name)
		}
	}
	for _, name := range []string{"a.csv", "b.gz", "c.tgz", "plain"} {
		if IsArchive(name) {
			t.Errorf("IsArchive(%q) = true", name)
		}
	}
}

func TestUncompressedSizeZip(t *testing.T) {
	data := buildZip(t, map[string]string{"a.txt": "hello", "dir/b.txt": "world!!"})
	size, err := UncompressedSize(data, "bundle.zip")
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len("hello")+len("world!!")) {
		t.Errorf("size = %d", size)
	}
}

func TestUncompressedSizeCountsNestedMembers(t *testing.T) {
	inner := buildZip(t, map[string]string{"secret.csv": "ssn,123-45-6789"})
	outer := buildTarGz(t, map[string]string{
		"plain.txt": "abc",
		"inner.zip": string(inner),
	})
	size, err := UncompressedSize(outer, "outer.tar.gz")
	if err != nil {
		t.Fatal(err)
	}
	// Nested archives count their extracted content, not their packed bytes.
	want := int64(len("abc") + len("ssn,123-45-6789"))
	if size != want {
		t.Errorf("size = %d, want %d", size, want)
	}
}

func TestPKSignatureBeatsExtension(t *testing.T) {
	data := buildZip(t, map[string]string{"a.txt": "zip content"})
	size, err := UncompressedSize(data, "mislabeled.tar.gz")
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len("zip content")) {
		t.Errorf("size = %d", size)
	}
}

func TestExpandWritesNestedTree(t *testing.T) {
	inner := buildZip(t, map[string]string{"names.csv": "name\nalice"})
	outer := buildZip(t, map[string]string{
		"readme.txt": "top",
		"inner.zip":  string(inner),
	})

	cache := NewCache(t.TempDir(), 1<<30)
	fullPath := "bucket/outer.zip"
	if cache.Expanded(fullPath) {
		t.Fatal("nothing expanded yet")
	}
	if err := cache.Expand(fullPath, outer); err != nil {
		t.Fatal(err)
	}
	if !cache.Expanded(fullPath) {
		t.Fatal("expansion sentinel missing")
	}

	top, err := os.ReadFile(filepath.Join(cache.Dir(fullPath), "readme.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(top) != "top" {
		t.Errorf("readme = %q", top)
	}
	nested := filepath.Join(cache.Dir(fullPath), "inner.zip"+ExtractedSuffix, "names.csv")
	got, err := os.ReadFile(nested)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "name\nalice" {
		t.Errorf("nested member = %q", got)
	}
}

func TestCorruptNestedArchiveKeptAsFile(t *testing.T) {
	outer := buildZip(t, map[string]string{
		"broken.zip": "PK\x03\x04 not really a zip",
	})
	cache := NewCache(t.TempDir(), 1<<30)
	if err := cache.Expand("bucket/outer.zip", outer); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cache.Dir("bucket/outer.zip"), "broken.zip")); err != nil {
		t.Errorf("corrupt nested archive should survive as a plain file: %v", err)
	}
}

func TestExpandSanitizesTraversal(t *testing.T) {
	data := buildZip(t, map[string]string{"../../escape.txt": "nope"})
	root := t.TempDir()
	cache := NewCache(root, 1<<30)
	if err := cache.Expand("bucket/evil.zip", data); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "..", "..", "escape.txt")); err == nil {
		t.Fatal("member escaped the cache root")
	}
	if _, err := os.Stat(filepath.Join(cache.Dir("bucket/evil.zip"), "escape.txt")); err != nil {
		t.Errorf("sanitized member missing: %v", err)
	}
}

func TestFitsBudget(t *testing.T) {
	cache := NewCache(t.TempDir(), 100)
	if !cache.FitsBudget(100) {
		t.Error("exact budget fits")
	}
	if cache.FitsBudget(101) {
		t.Error("over budget must not fit")
	}
	if cache.FitsBudget(-1) {
		t.Error("negative size must not fit")
	}
}

func TestCleanRemovesEverything(t *testing.T) {
	root := t.TempDir()
	cache := NewCache(root, 1<<30)
	if err := cache.Expand("b/x.zip", buildZip(t, map[string]string{"a": "1"})); err != nil {
		t.Fatal(err)
	}
	if err := cache.Clean(); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("cache not empty after Clean: %v", entries)
	}
}

func TestUncompressedSizeCorruptTopLevel(t *testing.T) {
	if _, err := UncompressedSize([]byte("garbage"), "x.tar.gz"); err == nil {
		t.Fatal("corrupt top-level archive must error")
	}
}
