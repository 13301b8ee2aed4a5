package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image"
	_ "image/png"
	"sync"
	"time"

	"github.com/corona10/goimagehash"

	"github.com/docugen/platform/internal/element"
)

type visionEntry struct {
	elements  []element.Metadata
	timestamp time.Time
	phash     *goimagehash.ImageHash // nil when the image bytes did not decode
}

// VisionCache stores vision-model results keyed by the content hash of
// the screenshot bytes. Entries expire after a fixed TTL regardless of
// access pattern; capacity overflow evicts the globally oldest entry by
// timestamp. A perceptual hash per entry lets lookups match screenshots
// that differ only by compression noise. Safe for concurrent use.
type VisionCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*visionEntry

	hits   uint64
	misses uint64

	now func() time.Time // replaced in tests
}

// NewVisionCache returns a cache with the given capacity and TTL.
// Non-positive values fall back to the defaults.
func NewVisionCache(capacity int, ttl time.Duration) *VisionCache {
	if capacity <= 0 {
		capacity = DefaultVisionCapacity
	}
	if ttl <= 0 {
		ttl = DefaultVisionTTL
	}
	return &VisionCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*visionEntry, capacity),
		now:      time.Now,
	}
}

// HashImage returns the content-hash key for raw screenshot bytes.
func HashImage(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached elements for the screenshot, if present and
// unexpired. Expiry is checked lazily: an expired entry is deleted and
// the access counts as a miss. When the exact content hash misses, a
// near-duplicate entry within a small perceptual-hash distance is
// accepted instead.
func (c *VisionCache) Get(imageData []byte) ([]element.Metadata, bool) {
	key := HashImage(imageData)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if c.now().Sub(e.timestamp) > c.ttl {
			delete(c.entries, key)
			c.misses++
			return nil, false
		}
		c.hits++
		return e.elements, true
	}

	if e := c.nearMatchLocked(imageData); e != nil {
		c.hits++
		return e.elements, true
	}

	c.misses++
	return nil, false
}

// nearMatchLocked scans live entries for one whose perceptual hash is
// within nearDuplicateDistance of the query image. Caller holds mu.
func (c *VisionCache) nearMatchLocked(imageData []byte) *visionEntry {
	qh := perceptualHash(imageData)
	if qh == nil {
		return nil
	}
	now := c.now()
	for _, e := range c.entries {
		if e.phash == nil || now.Sub(e.timestamp) > c.ttl {
			continue
		}
		if d, err := qh.Distance(e.phash); err == nil && d <= nearDuplicateDistance {
			return e
		}
	}
	return nil
}

// Put stores the elements for the screenshot, evicting the oldest
// entry by timestamp when over capacity.
func (c *VisionCache) Put(imageData []byte, elements []element.Metadata) {
	key := HashImage(imageData)
	entry := &visionEntry{
		elements:  elements,
		timestamp: c.now(),
		phash:     perceptualHash(imageData),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.timestamp.Before(oldest) {
				oldestKey, oldest = k, e.timestamp
			}
		}
		delete(c.entries, oldestKey)
	}
	c.entries[key] = entry
}

// Len reports the number of entries, expired or not.
func (c *VisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cumulative hit and miss counts.
func (c *VisionCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func perceptualHash(data []byte) *goimagehash.ImageHash {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil
	}
	return h
}
