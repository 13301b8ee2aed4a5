//go:build windows

package accessibility

import (
	"context"
	"syscall"
	"time"
	"unsafe"

	"github.com/docugen/platform/internal/element"
	"github.com/docugen/platform/internal/errors"
	"github.com/docugen/platform/internal/trace"
)

var (
	oleacc   = syscall.NewLazyDLL("oleacc.dll")
	oleaut32 = syscall.NewLazyDLL("oleaut32.dll")
	user32   = syscall.NewLazyDLL("user32.dll")

	procAccessibleObjectFromPoint  = oleacc.NewProc("AccessibleObjectFromPoint")
	procAccessibleObjectFromWindow = oleacc.NewProc("AccessibleObjectFromWindow")
	procSysFreeString              = oleaut32.NewProc("SysFreeString")
	procSysStringLen               = oleaut32.NewProc("SysStringLen")
	procWindowFromPoint            = user32.NewProc("WindowFromPoint")
	procGetClassNameW              = user32.NewProc("GetClassNameW")
	procGetGUIThreadInfo           = user32.NewProc("GetGUIThreadInfo")
)

const (
	vtI4       = 4
	vtDispatch = 9

	childidSelf = 0

	objidClient = 0xFFFFFFFC

	sOK    = 0
	sFalse = 1
)

// IID_IAccessible {618736E0-3C3D-11CF-810C-00AA00389B71}
var iidIAccessible = syscall.GUID{
	Data1: 0x618736E0, Data2: 0x3C3D, Data3: 0x11CF,
	Data4: [8]byte{0x81, 0x0C, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71},
}

type point struct{ x, y int32 }

type variant struct {
	vt  uint16
	_   [3]uint16
	val int64
	_   [8]byte
}

// iAccessible wraps a raw IAccessible COM pointer. Methods are invoked
// through the vtable directly; only the slots this package needs are
// declared.
type iAccessible struct {
	lpVtbl *iAccessibleVtbl
}

type iAccessibleVtbl struct {
	queryInterface uintptr
	addRef         uintptr
	release        uintptr

	getTypeInfoCount uintptr
	getTypeInfo      uintptr
	getIDsOfNames    uintptr
	invoke           uintptr

	getAccParent           uintptr
	getAccChildCount       uintptr
	getAccChild            uintptr
	getAccName             uintptr
	getAccValue            uintptr
	getAccDescription      uintptr
	getAccRole             uintptr
	getAccState            uintptr
	getAccHelp             uintptr
	getAccHelpTopic        uintptr
	getAccKeyboardShortcut uintptr
	getAccFocus            uintptr
	getAccSelection        uintptr
	getAccDefaultAction    uintptr
	accSelect              uintptr
	accLocation            uintptr
	accNavigate            uintptr
	accHitTest             uintptr
	accDoDefaultAction     uintptr
	putAccName             uintptr
	putAccValue            uintptr
}

func (a *iAccessible) Release() {
	syscall.SyscallN(a.lpVtbl.release, uintptr(unsafe.Pointer(a)))
}

// By-value VARIANT arguments are passed as a pointer to a copy: the
// Win64 convention passes aggregates larger than 8 bytes by reference.

func (a *iAccessible) name(child variant) string {
	var bstr uintptr
	hr, _, _ := syscall.SyscallN(a.lpVtbl.getAccName,
		uintptr(unsafe.Pointer(a)),
		uintptr(unsafe.Pointer(&child)),
		uintptr(unsafe.Pointer(&bstr)))
	_ = hr
	return bstrToString(bstr)
}

func (a *iAccessible) role(child variant) int32 {
	var out variant
	syscall.SyscallN(a.lpVtbl.getAccRole,
		uintptr(unsafe.Pointer(a)),
		uintptr(unsafe.Pointer(&child)),
		uintptr(unsafe.Pointer(&out)))
	if out.vt != vtI4 {
		return 0
	}
	return int32(out.val)
}

func (a *iAccessible) location(child variant) (element.Rect, bool) {
	var left, top, width, height int32
	hr, _, _ := syscall.SyscallN(a.lpVtbl.accLocation,
		uintptr(unsafe.Pointer(a)),
		uintptr(unsafe.Pointer(&left)), uintptr(unsafe.Pointer(&top)),
		uintptr(unsafe.Pointer(&width)), uintptr(unsafe.Pointer(&height)),
		uintptr(unsafe.Pointer(&child)))
	if hr != sOK {
		return element.Rect{}, false
	}
	return element.Rect{X: int(left), Y: int(top), Width: int(width), Height: int(height)}, true
}

func (a *iAccessible) focus() (variant, bool) {
	var out variant
	hr, _, _ := syscall.SyscallN(a.lpVtbl.getAccFocus,
		uintptr(unsafe.Pointer(a)), uintptr(unsafe.Pointer(&out)))
	return out, hr == sOK
}

func bstrToString(bstr uintptr) string {
	if bstr == 0 {
		return ""
	}
	defer procSysFreeString.Call(bstr)
	n, _, _ := procSysStringLen.Call(bstr)
	if n == 0 {
		return ""
	}
	buf := unsafe.Slice((*uint16)(unsafe.Pointer(bstr)), n)
	return syscall.UTF16ToString(buf)
}

// msaaRoleNames maps ROLE_SYSTEM_* constants to the control-type names
// the shared role normalization understands.
var msaaRoleNames = map[int32]string{
	0x09: "Window",
	0x0A: "Pane",
	0x15: "TitleBar",
	0x02: "MenuBar",
	0x0B: "Menu",
	0x0C: "MenuItem",
	0x16: "ToolBar",
	0x17: "StatusBar",
	0x18: "Table",
	0x19: "Header",
	0x1B: "DataItem",
	0x1E: "ListItem",
	0x20: "Tree",
	0x21: "TreeItem",
	0x22: "Document",
	0x29: "Text",
	0x2A: "Edit",
	0x2B: "Button",
	0x2C: "CheckBox",
	0x2D: "RadioButton",
	0x2E: "ComboBox",
	0x30: "List",
	0x33: "ProgressBar",
	0x28: "Image",
	0x3E: "Slider",
	0x3C: "SplitButton",
	0x1A: "Calendar",
	0x25: "Tab",
	0x3B: "Group",
	0x1D: "Hyperlink",
	0x12: "ToolTip",
}

type windowsAdapter struct{}

// New returns the Windows accessibility adapter. Windows needs no
// explicit accessibility permission.
func New() Adapter {
	return &windowsAdapter{}
}

func (a *windowsAdapter) Platform() element.Platform { return element.PlatformWindows }

func (a *windowsAdapter) PermissionStatus() string { return element.PermissionGranted }

func (a *windowsAdapter) ElementAtPoint(ctx context.Context, x, y int) (*element.Metadata, error) {
	start := time.Now()
	pt := point{x: int32(x), y: int32(y)}

	var acc *iAccessible
	var child variant
	hr, _, _ := procAccessibleObjectFromPoint.Call(
		uintptr(*(*int64)(unsafe.Pointer(&pt))),
		uintptr(unsafe.Pointer(&acc)),
		uintptr(unsafe.Pointer(&child)))
	if hr != sOK || acc == nil {
		if hr == sFalse {
			return nil, nil
		}
		return nil, errors.Newf(errors.CodeQueryFailure, "accessible object lookup failed at (%d, %d): HRESULT 0x%x", x, y, hr)
	}
	defer acc.Release()

	meta := a.extract(acc, child, classNameAt(x, y), start)
	if meta == nil {
		trace.Logger(ctx).Debug("no readable element at point", "x", x, "y", y)
	}
	return meta, nil
}

func (a *windowsAdapter) FocusedElement(ctx context.Context) (*element.Metadata, error) {
	type guiThreadInfo struct {
		cbSize        uint32
		flags         uint32
		hwndActive    uintptr
		hwndFocus     uintptr
		hwndCapture   uintptr
		hwndMenuOwner uintptr
		hwndMoveSize  uintptr
		hwndCaret     uintptr
		rcCaret       [4]int32
	}
	var info guiThreadInfo
	info.cbSize = uint32(unsafe.Sizeof(info))
	ok, _, _ := procGetGUIThreadInfo.Call(0, uintptr(unsafe.Pointer(&info)))
	if ok == 0 || info.hwndFocus == 0 {
		return nil, nil
	}

	start := time.Now()
	var acc *iAccessible
	hr, _, _ := procAccessibleObjectFromWindow.Call(
		info.hwndFocus,
		uintptr(uint32(objidClient)),
		uintptr(unsafe.Pointer(&iidIAccessible)),
		uintptr(unsafe.Pointer(&acc)))
	if hr != sOK || acc == nil {
		return nil, errors.Newf(errors.CodeQueryFailure, "accessible object for focused window failed: HRESULT 0x%x", hr)
	}
	defer acc.Release()

	child := variant{vt: vtI4, val: childidSelf}
	if focused, ok := acc.focus(); ok && focused.vt == vtI4 {
		child = focused
	}
	return a.extract(acc, child, "", start), nil
}

// extract reads name, role, and location for the (object, child) pair
// and normalizes it. Elements without a readable, positive-extent
// location are discarded.
func (a *windowsAdapter) extract(acc *iAccessible, child variant, className string, start time.Time) *element.Metadata {
	if child.vt != vtI4 {
		child = variant{vt: vtI4, val: childidSelf}
	}

	bounds, ok := acc.location(child)
	if !ok || bounds.Validate() != nil {
		return nil
	}

	roleName := msaaRoleNames[acc.role(child)]
	if roleName == "" {
		roleName = "Unknown"
	}

	raw := element.WindowsRaw{
		ControlType: roleName,
		Name:        acc.name(child),
		ClassName:   className,
		Bounds:      bounds,
	}
	return element.NormalizeWindows(raw, float64(time.Since(start).Milliseconds()))
}

// classNameAt resolves the Win32 window class under the point, used as
// a secondary identifier.
func classNameAt(x, y int) string {
	pt := point{x: int32(x), y: int32(y)}
	hwnd, _, _ := procWindowFromPoint.Call(uintptr(*(*int64)(unsafe.Pointer(&pt))))
	if hwnd == 0 {
		return ""
	}
	var buf [256]uint16
	n, _, _ := procGetClassNameW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return syscall.UTF16ToString(buf[:n])
}
