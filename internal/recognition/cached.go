package recognition

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/corona10/goimagehash"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/cv"
)

// DefaultMaxHashDistance treats regions within this Hamming distance as unchanged
const DefaultMaxHashDistance = 5

type cacheEntry struct {
	hash *goimagehash.ImageHash
	text string
}

// Cached skips the underlying engine when a region looks the same as the
// last time it was recognized
type Cached struct {
	next        Recognizer
	maxDistance int

	mu      sync.Mutex
	entries map[image.Rectangle]cacheEntry
	hits    int
	misses  int
}

// NewCached wraps next. maxDistance <= 0 uses DefaultMaxHashDistance.
func NewCached(next Recognizer, maxDistance int) *Cached {
	if maxDistance <= 0 {
		maxDistance = DefaultMaxHashDistance
	}
	return &Cached{next: next, maxDistance: maxDistance, entries: make(map[image.Rectangle]cacheEntry)}
}

func (c *Cached) Recognize(ctx context.Context, frame capture.Frame, roi image.Rectangle) (string, error) {
	region, err := cv.Crop(frame.Image(), roi)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognitionFailed, err)
	}
	hash, err := goimagehash.PerceptionHash(region)
	if err != nil {
		return c.next.Recognize(ctx, frame, roi)
	}

	c.mu.Lock()
	entry, ok := c.entries[roi]
	if ok {
		if dist, err := entry.hash.Distance(hash); err == nil && dist <= c.maxDistance {
			c.hits++
			c.mu.Unlock()
			return entry.text, nil
		}
	}
	c.misses++
	c.mu.Unlock()

	text, err := c.next.Recognize(ctx, frame, roi)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[roi] = cacheEntry{hash: hash, text: text}
	c.mu.Unlock()
	return text, nil
}

// Stats returns cache hits and misses
func (c *Cached) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
