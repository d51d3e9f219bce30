// Package cache persists the Segment Store's parsed filename index across
// restarts so a restart does not need to re-probe every on-disk segment
// before recordings can resume.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Entry is one cached segment's resolved metadata.
type Entry struct {
	Filename  string        `cbor:"filename"`
	StartTime time.Time     `cbor:"start_time"`
	Duration  time.Duration `cbor:"duration"`
}

// Cache reads/writes a single CBOR file holding the index.
type Cache struct {
	path string
}

// New builds a Cache backed by path (typically segments_folder/<camera>/.index.cbor).
func New(path string) *Cache {
	return &Cache{path: path}
}

// Load reads the cache file, returning an empty map if it doesn't exist
// yet. A corrupt cache file is treated the same way: the store re-probes.
func (c *Cache) Load() (map[string]Entry, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, fmt.Errorf("cache: reading %s: %w", c.path, err)
	}

	var entries []Entry
	if err := cbor.Unmarshal(data, &entries); err != nil {
		return map[string]Entry{}, nil
	}

	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.Filename] = e
	}
	return m, nil
}

// Save atomically replaces the cache file's contents.
func (c *Cache) Save(entries map[string]Entry) error {
	list := make([]Entry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}

	data, err := cbor.Marshal(list)
	if err != nil {
		return fmt.Errorf("cache: encoding: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("cache: creating directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cache: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("cache: renaming into place: %w", err)
	}
	return nil
}
