package templates

import (
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"jordanella.com/autopilot/internal/cv"
)

// Cache loads template images once and shares them between tasks.
// Relative paths resolve against the base directory.
type Cache struct {
	basePath string

	mu     sync.Mutex
	images map[string]*entry
	stats  CacheStats
}

type entry struct {
	once sync.Once
	img  *image.RGBA
	err  error
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits   int64 // served from memory
	Misses int64 // had to load
	Failed int64 // load errors
}

// NewCache creates a cache rooted at basePath
func NewCache(basePath string) *Cache {
	return &Cache{
		basePath: basePath,
		images:   make(map[string]*entry),
	}
}

// Resolve returns the file path a template name refers to
func (c *Cache) Resolve(name string) string {
	if filepath.IsAbs(name) || c.basePath == "" {
		return filepath.Clean(name)
	}
	return filepath.Join(c.basePath, name)
}

// Get returns the image for name, loading it on first use. Failed loads are
// remembered so a missing file is reported once per name.
func (c *Cache) Get(name string) (*image.RGBA, error) {
	path := c.Resolve(name)

	c.mu.Lock()
	e, ok := c.images[path]
	if ok {
		c.stats.Hits++
	} else {
		e = &entry{}
		c.images[path] = e
		c.stats.Misses++
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.img, e.err = cv.LoadTemplate(path)
		if e.err != nil {
			c.mu.Lock()
			c.stats.Failed++
			c.mu.Unlock()
		}
	})
	if e.err != nil {
		return nil, fmt.Errorf("template %s: %w", name, e.err)
	}
	return e.img, nil
}

// Preload loads every name up front and returns the first failure
func (c *Cache) Preload(names ...string) error {
	for _, name := range names {
		if _, err := c.Get(name); err != nil {
			return err
		}
	}
	return nil
}

// Forget drops a cached image so the next Get reads the file again
func (c *Cache) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.images, c.Resolve(name))
}

// Len returns the number of cached paths, including failed ones
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
