// Package accessibility queries the native accessibility tree for the
// UI element at a screen point. Platform backends live behind build
// tags; the tree walk itself is platform-neutral and testable.
package accessibility

import (
	"context"

	"github.com/docugen/platform/internal/element"
)

// Adapter resolves screen coordinates to element metadata via the
// platform accessibility API. Queries may fail with a permission,
// not-found, or query-failure error code; callers enforce timeouts,
// so implementations must be safe to abandon mid-call.
type Adapter interface {
	// Platform identifies which backend is active.
	Platform() element.Platform
	// PermissionStatus reports whether the platform's accessibility
	// permission is granted. Platforms without an explicit permission
	// always report granted.
	PermissionStatus() string
	// ElementAtPoint returns the innermost element whose bounds
	// contain the screen point, or nil when nothing matches.
	ElementAtPoint(ctx context.Context, x, y int) (*element.Metadata, error)
	// FocusedElement returns the element with keyboard focus, or nil.
	FocusedElement(ctx context.Context) (*element.Metadata, error)
}
