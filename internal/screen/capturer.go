// Package screen provides platform-agnostic screenshot capture with
// cheap change detection, feeding the step detector's before/after
// frames and the visual identification fallback.
package screen

import (
	"crypto/md5"
	"os"
)

// Capturer captures full-screen PNG frames with change detection.
type Capturer interface {
	// Capture returns the current frame and true, or nil and false
	// when capture failed or the screen is unchanged since last time.
	Capture() ([]byte, bool)
	// CaptureAlways returns the current frame regardless of change
	// detection, or nil on failure.
	CaptureAlways() []byte
	Close()
}

// backend implements platform-specific raw capture
type backend interface {
	captureRaw() []byte
	cleanup()
}

// baseCapturer provides shared hash-based change detection
type baseCapturer struct {
	backend
	lastHash [16]byte
	tempDir  string
}

func newBase(b backend, tempDir string) *baseCapturer {
	return &baseCapturer{backend: b, tempDir: tempDir}
}

func (c *baseCapturer) Capture() ([]byte, bool) {
	data := c.captureRaw()
	if data == nil {
		return nil, false
	}
	// Hash only the leading bytes for speed; PNG headers plus the
	// first rows shift whenever visible content does.
	hash := md5.Sum(data[:min(len(data), hashPrefixBytes)])
	if hash == c.lastHash {
		return nil, false
	}
	c.lastHash = hash
	return data, true
}

func (c *baseCapturer) CaptureAlways() []byte {
	data := c.captureRaw()
	if data != nil {
		c.lastHash = md5.Sum(data[:min(len(data), hashPrefixBytes)])
	}
	return data
}

func (c *baseCapturer) Close() {
	c.cleanup()
	if c.tempDir != "" {
		os.RemoveAll(c.tempDir)
	}
}

const hashPrefixBytes = 4096
