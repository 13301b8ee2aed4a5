//go:build windows

package accessibility

import (
	"syscall"
	"testing"
	"time"
	"unsafe"

	"github.com/docugen/platform/internal/element"
)

var procSysAllocString = oleaut32.NewProc("SysAllocString")

// fakeAcc is read by the vtable callbacks below. Callbacks registered
// with syscall.NewCallback are process-global, so tests mutate this
// shared state instead of constructing per-test closures.
var fakeAcc struct {
	name   string
	role   int32
	bounds element.Rect
	locHR  uintptr

	gotChildVT  uint16
	gotChildVal int64
}

func fakeRelease(this uintptr) uintptr { return 0 }

func fakeName(this, varChild, pszName uintptr) uintptr {
	v := (*variant)(unsafe.Pointer(varChild))
	fakeAcc.gotChildVT = v.vt
	fakeAcc.gotChildVal = v.val

	ptr, err := syscall.UTF16PtrFromString(fakeAcc.name)
	if err != nil {
		return sFalse
	}
	bstr, _, _ := procSysAllocString.Call(uintptr(unsafe.Pointer(ptr)))
	*(*uintptr)(unsafe.Pointer(pszName)) = bstr
	return sOK
}

func fakeRole(this, varChild, pvarRole uintptr) uintptr {
	out := (*variant)(unsafe.Pointer(pvarRole))
	out.vt = vtI4
	out.val = int64(fakeAcc.role)
	return sOK
}

func fakeLocation(this, pxLeft, pyTop, pcxWidth, pcyHeight, varChild uintptr) uintptr {
	v := (*variant)(unsafe.Pointer(varChild))
	fakeAcc.gotChildVT = v.vt
	fakeAcc.gotChildVal = v.val

	*(*int32)(unsafe.Pointer(pxLeft)) = int32(fakeAcc.bounds.X)
	*(*int32)(unsafe.Pointer(pyTop)) = int32(fakeAcc.bounds.Y)
	*(*int32)(unsafe.Pointer(pcxWidth)) = int32(fakeAcc.bounds.Width)
	*(*int32)(unsafe.Pointer(pcyHeight)) = int32(fakeAcc.bounds.Height)
	return fakeAcc.locHR
}

// newFakeAccessible builds an IAccessible whose vtable is backed by Go
// callbacks. Because NewCallback registers functions with the native
// stdcall convention, a call only reaches these functions with sane
// arguments when the caller passes the by-value VARIANT the way Win64
// expects: as a single pointer to a copy.
func newFakeAccessible() *iAccessible {
	vtbl := &iAccessibleVtbl{
		release:     syscall.NewCallback(fakeRelease),
		getAccName:  syscall.NewCallback(fakeName),
		getAccRole:  syscall.NewCallback(fakeRole),
		accLocation: syscall.NewCallback(fakeLocation),
	}
	return &iAccessible{lpVtbl: vtbl}
}

func TestExtractReadsElement(t *testing.T) {
	fakeAcc.name = "Save"
	fakeAcc.role = 0x2B // ROLE_SYSTEM_PUSHBUTTON
	fakeAcc.bounds = element.Rect{X: 10, Y: 20, Width: 30, Height: 40}
	fakeAcc.locHR = sOK
	fakeAcc.gotChildVT = 0
	fakeAcc.gotChildVal = -1

	adapter := &windowsAdapter{}
	meta := adapter.extract(newFakeAccessible(), variant{vt: vtI4, val: childidSelf}, "Chrome_WidgetWin_1", time.Now())
	if meta == nil {
		t.Fatal("extract returned nil for a readable element")
	}
	if meta.Name != "Save" {
		t.Errorf("Name = %q, want %q", meta.Name, "Save")
	}
	if meta.Role != "button" {
		t.Errorf("Role = %q, want %q", meta.Role, "button")
	}
	if meta.Bounds != fakeAcc.bounds {
		t.Errorf("Bounds = %+v, want %+v", meta.Bounds, fakeAcc.bounds)
	}
	if meta.WindowsClassName != "Chrome_WidgetWin_1" {
		t.Errorf("WindowsClassName = %q", meta.WindowsClassName)
	}
	// The child VARIANT must arrive intact on the far side of the call.
	if fakeAcc.gotChildVT != vtI4 || fakeAcc.gotChildVal != childidSelf {
		t.Errorf("callee saw VARIANT {vt: %d, val: %d}, want {vt: %d, val: %d}",
			fakeAcc.gotChildVT, fakeAcc.gotChildVal, vtI4, int64(childidSelf))
	}
}

func TestExtractDiscardsZeroExtentBounds(t *testing.T) {
	fakeAcc.name = "Ghost"
	fakeAcc.role = 0x2B
	fakeAcc.bounds = element.Rect{X: 100, Y: 100, Width: 0, Height: 0}
	fakeAcc.locHR = sOK

	adapter := &windowsAdapter{}
	if meta := adapter.extract(newFakeAccessible(), variant{vt: vtI4, val: childidSelf}, "", time.Now()); meta != nil {
		t.Errorf("extract = %+v, want nil for zero-extent bounds", meta)
	}
}

func TestExtractDiscardsFailedLocation(t *testing.T) {
	fakeAcc.bounds = element.Rect{X: 10, Y: 20, Width: 30, Height: 40}
	fakeAcc.locHR = 0x80004005 // E_FAIL

	adapter := &windowsAdapter{}
	if meta := adapter.extract(newFakeAccessible(), variant{vt: vtI4, val: childidSelf}, "", time.Now()); meta != nil {
		t.Errorf("extract = %+v, want nil when accLocation fails", meta)
	}
}
