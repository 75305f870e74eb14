// Package hashcache persists the URL -> (hash, algorithm) map the index
// producer uses to avoid re-downloading assets it has already hashed. It
// is a single JSON file guarded by a mutex, written atomically (temp file
// + rename), flattened to one file since the cache here is a flat map
// rather than a directory tree.
package hashcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/jpmacdonald/apl/internal/config"
)

// Entry is a cached hash resolution for a single asset URL.
type Entry struct {
	Hash      string `json:"hash"`
	Algorithm string `json:"algorithm"`
}

// Cache is a mutex-guarded URL->Entry map with periodic disk persistence.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
	dirty   int // packages processed since last Persist
}

// Load reads the cache from path, tolerating a missing or corrupt file by
// starting empty (hash resolution falls through to network lookup; losing
// the cache costs time, not correctness).
func Load(path string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string]Entry)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, nil // corrupt cache: start empty rather than fail the run
	}
	_ = json.Unmarshal(data, &c.entries) // best effort; zero value on failure
	return c, nil
}

// Get returns the cached entry for url, if any.
func (c *Cache) Get(url string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	return e, ok
}

// Set records url's resolved hash. Callers should call MaybePersist
// afterward so writes aren't lost if the producer crashes mid-run.
func (c *Cache) Set(url string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = e
}

// MaybePersist flushes to disk every config.GetHashCacheFlushInterval()
// calls, so updates are persisted periodically rather than only at exit.
func (c *Cache) MaybePersist() error {
	c.mu.Lock()
	c.dirty++
	shouldFlush := c.dirty >= config.GetHashCacheFlushInterval()
	if shouldFlush {
		c.dirty = 0
	}
	c.mu.Unlock()

	if !shouldFlush {
		return nil
	}
	return c.Persist()
}

// Persist writes the cache unconditionally, via a temp-file-then-rename
// so a crash mid-write never corrupts the existing cache.
func (c *Cache) Persist() error {
	c.mu.Lock()
	data, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
