// Package coords provides pure coordinate-space transformations: DPI
// scaling, multi-monitor validation, and bounds clipping. Everything here
// is stateless; the capture session supplies the image dimensions and DPI
// scale it obtained from the capture collaborator.
package coords

import (
	"math"

	"github.com/docugen/platform/internal/element"
)

// Coordinates further than this from the primary origin are rejected as
// implausible even for large multi-monitor arrangements.
const maxReasonable = 10000

// ScaleBounds multiplies all four rect fields by the DPI scale factor and
// rounds to the nearest integer. Used whenever a measurement in logical
// pixels must be expressed in physical image pixels.
func ScaleBounds(r element.Rect, dpiScale float64) element.Rect {
	return element.Rect{
		X:      int(math.Round(float64(r.X) * dpiScale)),
		Y:      int(math.Round(float64(r.Y) * dpiScale)),
		Width:  int(math.Round(float64(r.Width) * dpiScale)),
		Height: int(math.Round(float64(r.Height) * dpiScale)),
	}
}

// ClipBoundsToImage clamps a rect into the image so annotation code can
// draw it unconditionally. A rect entirely off-canvas degenerates to a
// 1x1 rect pinned to the nearest edge; the result always satisfies
// 0 <= x <= w, 0 <= y <= h, x+width <= w, y+height <= h, width,height >= 1.
func ClipBoundsToImage(r element.Rect, imgW, imgH int) element.Rect {
	x := clamp(r.X, 0, imgW)
	y := clamp(r.Y, 0, imgH)

	// Whatever was clamped off the left/top comes out of the extent.
	w := r.Width - (x - r.X)
	h := r.Height - (y - r.Y)

	// Never extend past the right/bottom edge.
	if x+w > imgW {
		w = imgW - x
	}
	if y+h > imgH {
		h = imgH - y
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	// A 1x1 floor can push the rect past an edge when x==imgW; pin it back.
	if x+w > imgW && x > 0 {
		x = imgW - w
	}
	if y+h > imgH && y > 0 {
		y = imgH - h
	}

	return element.Rect{X: x, Y: y, Width: w, Height: h}
}

// ValidateScreenCoordinates accepts any coordinate within the plausible
// multi-monitor envelope. Negative coordinates are valid: secondary
// monitors positioned left of or above the primary produce them.
func ValidateScreenCoordinates(x, y, screenW, screenH int) bool {
	if x < -maxReasonable || x > maxReasonable {
		return false
	}
	if y < -maxReasonable || y > maxReasonable {
		return false
	}
	return true
}

// TransformToImageCoordinates maps a screen-space point into image space:
// subtract the capture-region offset, then apply DPI scaling, then clamp
// to the image. Offset subtraction must precede scaling because region
// offsets are expressed in the unscaled screen space.
func TransformToImageCoordinates(screenX, screenY int, dpiScale float64, imgW, imgH, offsetX, offsetY int) (int, int) {
	relX := screenX - offsetX
	relY := screenY - offsetY

	x := int(math.Round(float64(relX) * dpiScale))
	y := int(math.Round(float64(relY) * dpiScale))

	return clamp(x, 0, imgW), clamp(y, 0, imgH)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
