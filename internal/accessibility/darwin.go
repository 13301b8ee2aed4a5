//go:build darwin && cgo

package accessibility

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreGraphics -framework CoreFoundation
#include <stdlib.h>
#include <ApplicationServices/ApplicationServices.h>
#include <CoreGraphics/CoreGraphics.h>

typedef struct {
	int ok;
	double x, y, w, h;
} axFrame;

static int axTrusted(void) {
	return AXIsProcessTrusted() ? 1 : 0;
}

static double axMainDisplayHeight(void) {
	return CGDisplayBounds(CGMainDisplayID()).size.height;
}

static AXUIElementRef axElementAtPoint(float x, float y, int *axerr) {
	AXUIElementRef sys = AXUIElementCreateSystemWide();
	AXUIElementRef out = NULL;
	*axerr = (int)AXUIElementCopyElementAtPosition(sys, x, y, &out);
	CFRelease(sys);
	return out;
}

static AXUIElementRef axFocusedElement(int *axerr) {
	AXUIElementRef sys = AXUIElementCreateSystemWide();
	CFTypeRef out = NULL;
	*axerr = (int)AXUIElementCopyAttributeValue(sys, kAXFocusedUIElementAttribute, &out);
	CFRelease(sys);
	return (AXUIElementRef)out;
}

static char *axCopyStringAttr(AXUIElementRef el, CFStringRef attr) {
	CFTypeRef val = NULL;
	if (AXUIElementCopyAttributeValue(el, attr, &val) != kAXErrorSuccess || val == NULL) {
		return NULL;
	}
	char *out = NULL;
	if (CFGetTypeID(val) == CFStringGetTypeID()) {
		CFStringRef s = (CFStringRef)val;
		CFIndex cap = CFStringGetMaximumSizeForEncoding(CFStringGetLength(s), kCFStringEncodingUTF8) + 1;
		out = malloc(cap);
		if (out != NULL && !CFStringGetCString(s, out, cap, kCFStringEncodingUTF8)) {
			free(out);
			out = NULL;
		}
	}
	CFRelease(val);
	return out;
}

static axFrame axCopyFrame(AXUIElementRef el) {
	axFrame f = {0};
	CFTypeRef posVal = NULL, sizeVal = NULL;
	if (AXUIElementCopyAttributeValue(el, kAXPositionAttribute, &posVal) != kAXErrorSuccess || posVal == NULL) {
		return f;
	}
	if (AXUIElementCopyAttributeValue(el, kAXSizeAttribute, &sizeVal) != kAXErrorSuccess || sizeVal == NULL) {
		CFRelease(posVal);
		return f;
	}
	CGPoint p;
	CGSize s;
	if (AXValueGetValue((AXValueRef)posVal, kAXValueTypeCGPoint, &p) &&
	    AXValueGetValue((AXValueRef)sizeVal, kAXValueTypeCGSize, &s)) {
		f.ok = 1;
		f.x = p.x;
		f.y = p.y;
		f.w = s.width;
		f.h = s.height;
	}
	CFRelease(posVal);
	CFRelease(sizeVal);
	return f;
}

static CFArrayRef axCopyChildren(AXUIElementRef el) {
	CFTypeRef val = NULL;
	if (AXUIElementCopyAttributeValue(el, kAXChildrenAttribute, &val) != kAXErrorSuccess || val == NULL) {
		return NULL;
	}
	if (CFGetTypeID(val) != CFArrayGetTypeID()) {
		CFRelease(val);
		return NULL;
	}
	return (CFArrayRef)val;
}

static AXUIElementRef axChildAt(CFArrayRef children, CFIndex i) {
	return (AXUIElementRef)CFArrayGetValueAtIndex(children, i);
}

static CFStringRef axAttrTitle(void)      { return kAXTitleAttribute; }
static CFStringRef axAttrDescription(void){ return kAXDescriptionAttribute; }
static CFStringRef axAttrRole(void)       { return kAXRoleAttribute; }
static CFStringRef axAttrIdentifier(void) { return kAXIdentifierAttribute; }
*/
import "C"

import (
	"context"
	"math"
	"time"
	"unsafe"

	"github.com/docugen/platform/internal/element"
	"github.com/docugen/platform/internal/errors"
	"github.com/docugen/platform/internal/trace"
)

type darwinAdapter struct{}

// New returns the macOS accessibility adapter.
func New() Adapter {
	return &darwinAdapter{}
}

func (a *darwinAdapter) Platform() element.Platform { return element.PlatformMacOS }

func (a *darwinAdapter) PermissionStatus() string {
	if C.axTrusted() == 1 {
		return element.PermissionGranted
	}
	return element.PermissionDenied
}

func (a *darwinAdapter) ElementAtPoint(ctx context.Context, x, y int) (*element.Metadata, error) {
	if a.PermissionStatus() != element.PermissionGranted {
		return nil, errors.New(errors.CodePermissionDenied,
			"accessibility permission denied, grant it in System Settings > Privacy & Security > Accessibility")
	}

	start := time.Now()
	var axerr C.int
	ref := C.axElementAtPoint(C.float(x), C.float(y), &axerr)
	if ref == nil {
		if code := C.AXError(axerr); code == C.kAXErrorCannotComplete || code == C.kAXErrorNotImplemented {
			return nil, errors.Newf(errors.CodeQueryFailure, "element lookup failed at (%d, %d): AXError %d", x, y, int(axerr))
		}
		// kAXErrorNoValue and friends: nothing under the point.
		return nil, nil
	}
	root := newAXNode(ref)
	defer root.release()

	hit := DeepestAt(root, x, y)
	if hit == nil {
		// CopyElementAtPosition can return a container whose readable
		// bounds miss the point; treat as no element.
		trace.Logger(ctx).Debug("no element at point", "x", x, "y", y)
		return nil, nil
	}

	meta := hit.(*axNode).metadata(time.Since(start), a.PermissionStatus())
	if meta == nil {
		return nil, nil
	}
	return meta, nil
}

func (a *darwinAdapter) FocusedElement(ctx context.Context) (*element.Metadata, error) {
	if a.PermissionStatus() != element.PermissionGranted {
		return nil, errors.New(errors.CodePermissionDenied,
			"accessibility permission denied, grant it in System Settings > Privacy & Security > Accessibility")
	}

	start := time.Now()
	var axerr C.int
	ref := C.axFocusedElement(&axerr)
	if ref == nil {
		return nil, nil
	}
	n := newAXNode(ref)
	defer n.release()
	return n.metadata(time.Since(start), a.PermissionStatus()), nil
}

// axNode adapts an AXUIElementRef to the hit-test Node interface.
// Child nodes are materialized lazily and released with their parent.
type axNode struct {
	ref      C.AXUIElementRef
	children []*axNode
	kids     []Node
	walked   bool
}

func newAXNode(ref C.AXUIElementRef) *axNode {
	return &axNode{ref: ref}
}

func (n *axNode) release() {
	for _, c := range n.children {
		c.release()
	}
	C.CFRelease(C.CFTypeRef(unsafe.Pointer(n.ref)))
}

// Bounds reads AXPosition/AXSize and converts the bottom-left-origin
// native frame to top-left-origin screen coordinates. Elements whose
// frame cannot be read are discarded by the walk.
func (n *axNode) Bounds() (element.Rect, bool) {
	f := C.axCopyFrame(n.ref)
	if f.ok == 0 {
		return element.Rect{}, false
	}
	displayH := float64(C.axMainDisplayHeight())
	return element.Rect{
		X:      int(math.Round(float64(f.x))),
		Y:      int(math.Round(displayH - float64(f.y) - float64(f.h))),
		Width:  int(math.Round(float64(f.w))),
		Height: int(math.Round(float64(f.h))),
	}, true
}

func (n *axNode) Children() []Node {
	if n.walked {
		return n.kids
	}
	n.walked = true

	arr := C.axCopyChildren(n.ref)
	if arr == nil {
		return nil
	}
	defer C.CFRelease(C.CFTypeRef(unsafe.Pointer(arr)))

	count := int(C.CFArrayGetCount(arr))
	for i := 0; i < count; i++ {
		ref := C.axChildAt(arr, C.CFIndex(i))
		if ref == nil {
			continue
		}
		C.CFRetain(C.CFTypeRef(unsafe.Pointer(ref)))
		child := newAXNode(ref)
		n.children = append(n.children, child)
		n.kids = append(n.kids, child)
	}
	return n.kids
}

func (n *axNode) stringAttr(attr C.CFStringRef) string {
	cs := C.axCopyStringAttr(n.ref, attr)
	if cs == nil {
		return ""
	}
	defer C.free(unsafe.Pointer(cs))
	return C.GoString(cs)
}

// metadata extracts the unified element record. Returns nil when the
// frame is unreadable: bounds are mandatory.
func (n *axNode) metadata(elapsed time.Duration, permission string) *element.Metadata {
	bounds, ok := n.Bounds()
	if !ok {
		return nil
	}
	raw := element.MacRaw{
		AXRole:        n.stringAttr(C.axAttrRole()),
		AXTitle:       n.stringAttr(C.axAttrTitle()),
		AXDescription: n.stringAttr(C.axAttrDescription()),
		AXIdentifier:  n.stringAttr(C.axAttrIdentifier()),
		Bounds:        bounds,
	}
	return element.NormalizeMac(raw, float64(elapsed.Milliseconds()), permission)
}
