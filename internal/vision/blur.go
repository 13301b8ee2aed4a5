package vision

import (
	"bytes"
	"image"
	"image/png"
	"log/slog"
)

// blurRadius controls how aggressively fine text is obscured.
const blurRadius = 3

// blurBlend keeps most of the original structure so the model can
// still identify element shapes.
const blurBlend = 0.3

// blurSensitive softens fine text in the screenshot before it leaves
// the machine, trading readability of field contents for element
// structure. Any decode or encode failure returns the original bytes:
// the privacy pass is best-effort, never a hard failure.
func blurSensitive(data []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Warn("privacy blur skipped, image did not decode", "error", err)
		return data
	}

	blurred := boxBlur(img, blurRadius)
	blended := blend(img, blurred, blurBlend)

	var buf bytes.Buffer
	if err := png.Encode(&buf, blended); err != nil {
		slog.Warn("privacy blur skipped, re-encode failed", "error", err)
		return data
	}
	return buf.Bytes()
}

// boxBlur is a separable mean filter, close enough to gaussian for
// obscuring text at small radii.
func boxBlur(src image.Image, radius int) *image.RGBA {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	horiz := image.NewRGBA(image.Rect(0, 0, w, h))
	out := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, b, a, n uint32
			for dx := -radius; dx <= radius; dx++ {
				sx := x + dx
				if sx < 0 || sx >= w {
					continue
				}
				pr, pg, pb, pa := src.At(bounds.Min.X+sx, bounds.Min.Y+y).RGBA()
				r += pr
				g += pg
				b += pb
				a += pa
				n++
			}
			setRGBA(horiz, x, y, r/n, g/n, b/n, a/n)
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, b, a, n uint32
			for dy := -radius; dy <= radius; dy++ {
				sy := y + dy
				if sy < 0 || sy >= h {
					continue
				}
				pr, pg, pb, pa := horiz.At(x, sy).RGBA()
				r += pr
				g += pg
				b += pb
				a += pa
				n++
			}
			setRGBA(out, x, y, r/n, g/n, b/n, a/n)
		}
	}
	return out
}

// blend mixes alpha parts of b into 1-alpha parts of a.
func blend(a image.Image, b *image.RGBA, alpha float64) *image.RGBA {
	bounds := a.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ar, ag, ab, aa := a.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			br, bg, bb, ba := b.At(x, y).RGBA()
			mix := func(p, q uint32) uint32 {
				return uint32(float64(p)*(1-alpha) + float64(q)*alpha)
			}
			setRGBA(out, x, y, mix(ar, br), mix(ag, bg), mix(ab, bb), mix(aa, ba))
		}
	}
	return out
}

func setRGBA(img *image.RGBA, x, y int, r, g, b, a uint32) {
	i := img.PixOffset(x, y)
	img.Pix[i+0] = uint8(r >> 8)
	img.Pix[i+1] = uint8(g >> 8)
	img.Pix[i+2] = uint8(b >> 8)
	img.Pix[i+3] = uint8(a >> 8)
}
