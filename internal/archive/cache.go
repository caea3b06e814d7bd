package archive

import (
	"fmt"
	"os"
	"path/filepath"
)

// Cache is the shared local directory holding extracted archive trees.
// Workers may read one tree concurrently; writes happen only during
// expansion, guarded by the directory-existence sentinel.
type Cache struct {
	root string

	// budget is the free disk space sampled at startup; archives whose
	// recursive uncompressed size exceeds it are skipped, not attempted.
	budget uint64
}

// NewCache roots the cache at dir with the given disk budget.
func NewCache(dir string, budget uint64) *Cache {
	return &Cache{root: dir, budget: budget}
}

// Dir returns the extraction directory for an archive's full path.
func (c *Cache) Dir(fullPath string) string {
	return filepath.Join(c.root, fullPath+ExtractedSuffix)
}

// Expanded reports whether the archive is already extracted on this
// agent.
func (c *Cache) Expanded(fullPath string) bool {
	info, err := os.Stat(c.Dir(fullPath))
	return err == nil && info.IsDir()
}

// FitsBudget checks the recursive uncompressed size against free disk.
func (c *Cache) FitsBudget(size int64) bool {
	return size >= 0 && uint64(size) <= c.budget
}

// Expand extracts the archive under its cache directory, unpacking
// nested archives on sight. Callers check FitsBudget first.
func (c *Cache) Expand(fullPath string, data []byte) error {
	dest := c.Dir(fullPath)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	_, err := walk(data, fullPath, func(rel string, content []byte) error {
		target := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, content, 0o644)
	})
	if err != nil {
		// Leave no half-written sentinel behind.
		_ = os.RemoveAll(dest)
		return err
	}
	return nil
}

// Clean removes every extracted tree; called at the end of each
// classification job and each rescan cycle.
func (c *Cache) Clean() error {
	entries, err := os.ReadDir(c.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
