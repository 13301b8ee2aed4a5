// Package element defines the unified UI-element data model shared by the
// accessibility adapters, the vision identifier, and the annotation layer.
package element

import (
	"fmt"

	"github.com/google/uuid"
)

// Platform identifies the accessibility framework a result came from.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
)

// Source tags the identification path that produced a result.
type Source string

const (
	SourceAccessibility Source = "accessibility"
	SourceVisual        Source = "visual"
)

// Permission status values reported by platform adapters.
const (
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

// Rect is an axis-aligned bounding box in pixels, top-left origin.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Validate reports whether the rect has a positive extent. Adapters may
// construct invalid rects from partial platform data; callers must validate
// before handing a rect to the annotation layer.
func (r Rect) Validate() error {
	if r.Width <= 0 {
		return fmt.Errorf("rect width must be > 0, got %d", r.Width)
	}
	if r.Height <= 0 {
		return fmt.Errorf("rect height must be > 0, got %d", r.Height)
	}
	return nil
}

// Contains reports whether the point lies inside the rect.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Center returns the rect's center point.
func (r Rect) Center() (float64, float64) {
	return float64(r.X) + float64(r.Width)/2, float64(r.Y) + float64(r.Height)/2
}

// Metadata is the unified identification result. It is created by an
// adapter or the vision identifier, normalized once, and immutable after
// it is cached or returned.
type Metadata struct {
	ElementID  string   `json:"element_id"`
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	Bounds     Rect     `json:"bounds"`
	Confidence float64  `json:"confidence_score"`
	Platform   Platform `json:"platform"`

	// Platform-specific identifier fields; empty when not applicable.
	WindowsAutomationID string `json:"windows_automation_id,omitempty"`
	WindowsClassName    string `json:"windows_class_name,omitempty"`
	MacAXIdentifier     string `json:"macos_ax_identifier,omitempty"`
	MacAXRole           string `json:"macos_ax_role,omitempty"`

	Properties       map[string]any `json:"properties,omitempty"`
	QueryLatencyMS   float64        `json:"query_latency_ms"`
	PermissionStatus string         `json:"permission_status,omitempty"`

	Source         Source `json:"source"`
	FallbackUsed   bool   `json:"fallback_used"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// Validate checks the invariants the annotation layer relies on.
func (m *Metadata) Validate() error {
	if m.Platform != PlatformWindows && m.Platform != PlatformMacOS {
		return fmt.Errorf("platform must be %q or %q, got %q", PlatformWindows, PlatformMacOS, m.Platform)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %v", m.Confidence)
	}
	return m.Bounds.Validate()
}

// NewElementID builds a stable-looking element identifier from a platform
// prefix and a framework identifier, or a random one when the framework
// provided nothing.
func NewElementID(platform Platform, frameworkID string) string {
	if frameworkID != "" {
		return string(platform) + "_" + frameworkID
	}
	return string(platform) + "_" + uuid.NewString()
}
