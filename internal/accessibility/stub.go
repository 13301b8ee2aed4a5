//go:build !windows && (!darwin || !cgo)

package accessibility

import (
	"context"
	"runtime"

	"github.com/docugen/platform/internal/element"
	"github.com/docugen/platform/internal/errors"
)

type stubAdapter struct{}

// New returns a stub adapter on platforms without a native
// accessibility backend; every query reports unsupported so the
// orchestrator falls through to visual identification.
func New() Adapter {
	return &stubAdapter{}
}

func (a *stubAdapter) Platform() element.Platform { return element.Platform(runtime.GOOS) }

func (a *stubAdapter) PermissionStatus() string { return element.PermissionGranted }

func (a *stubAdapter) ElementAtPoint(ctx context.Context, x, y int) (*element.Metadata, error) {
	return nil, errors.Newf(errors.CodeUnsupported, "accessibility queries not supported on %s", runtime.GOOS)
}

func (a *stubAdapter) FocusedElement(ctx context.Context) (*element.Metadata, error) {
	return nil, errors.Newf(errors.CodeUnsupported, "accessibility queries not supported on %s", runtime.GOOS)
}
