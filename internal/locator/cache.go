package locator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jonathan/job-applier/internal/browser"
)

// Cache remembers, per target name, the descriptor that last resolved. It is persisted
// as JSON between runs so the live markup variant is tried first. A nil *Cache is a
// valid, always-empty cache.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]browser.Descriptor
	dirty   bool
}

// NewCache returns an in-memory cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]browser.Descriptor)}
}

// LoadCache reads the cache at path. A missing file yields an empty cache bound to path.
func LoadCache(path string) (*Cache, error) {
	c := NewCache()
	c.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read selector cache %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("failed to parse selector cache %s: %w", path, err)
	}
	if c.entries == nil {
		c.entries = make(map[string]browser.Descriptor)
	}
	return c, nil
}

// Get returns the cached descriptor for name.
func (c *Cache) Get(name string) (browser.Descriptor, bool) {
	if c == nil || name == "" {
		return browser.Descriptor{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[name]
	return d, ok
}

// Remember records d as the working descriptor for name.
func (c *Cache) Remember(name string, d browser.Descriptor) {
	if c == nil || name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[name] == d {
		return
	}
	c.entries[name] = d
	c.dirty = true
}

// Forget evicts name.
func (c *Cache) Forget(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; ok {
		delete(c.entries, name)
		c.dirty = true
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Save writes the cache to its path if it changed. In-memory caches are not saved.
func (c *Cache) Save() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path == "" || !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal selector cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create selector cache directory: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write selector cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace selector cache: %w", err)
	}
	c.dirty = false
	return nil
}
