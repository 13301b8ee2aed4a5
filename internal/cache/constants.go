package cache

import "time"

const (
	// DefaultElementCapacity bounds the element cache before LRU eviction.
	DefaultElementCapacity = 100

	// DefaultVisionCapacity bounds the vision cache before oldest-entry eviction.
	DefaultVisionCapacity = 50

	// DefaultVisionTTL is how long a vision result stays valid.
	DefaultVisionTTL = 300 * time.Second

	// bucketSize is the coordinate grid used for element cache keys, so
	// nearby clicks on the same control resolve to the same entry.
	bucketSize = 10

	// nearDuplicateDistance is the maximum perceptual-hash Hamming
	// distance treated as the same screenshot content.
	nearDuplicateDistance = 5
)
