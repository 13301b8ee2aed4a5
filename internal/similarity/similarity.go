// Package similarity scores how alike two screenshots are, used to
// decide whether a user interaction produced a visible step boundary.
package similarity

import (
	"bytes"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"log/slog"

	"github.com/nfnt/resize"
)

// ssimTileSize is the square window SSIM statistics are computed over.
const ssimTileSize = 8

// Stabilization constants from the SSIM definition, for 8-bit channels.
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)

// Score returns a structural similarity score in [0, 1] between two
// encoded images. Identical bytes score 1.0 without decoding. When
// either image fails to decode the score degrades to a byte
// comparison: 1.0 for equal bytes, otherwise 0.5 (ambiguous, lets the
// caller's threshold decide conservatively).
func Score(a, b []byte) float64 {
	if bytes.Equal(a, b) {
		return 1.0
	}

	imgA, _, errA := image.Decode(bytes.NewReader(a))
	imgB, _, errB := image.Decode(bytes.NewReader(b))
	if errA != nil || errB != nil {
		slog.Debug("similarity decode failed, using byte fallback", "err_a", errA, "err_b", errB)
		return 0.5
	}
	return SSIM(imgA, imgB)
}

// SSIM computes the mean structural similarity over non-overlapping
// 8x8 tiles of the grayscale projections of both images. The second
// image is resampled to the first image's dimensions when they differ.
func SSIM(a, b image.Image) float64 {
	w := a.Bounds().Dx()
	h := a.Bounds().Dy()
	if w == 0 || h == 0 {
		return 0
	}
	if b.Bounds().Dx() != w || b.Bounds().Dy() != h {
		b = resize.Resize(uint(w), uint(h), b, resize.Bilinear)
	}

	ga := grayPlane(a)
	gb := grayPlane(b)

	var sum float64
	var tiles int
	for ty := 0; ty+ssimTileSize <= h; ty += ssimTileSize {
		for tx := 0; tx+ssimTileSize <= w; tx += ssimTileSize {
			sum += tileSSIM(ga, gb, w, tx, ty)
			tiles++
		}
	}
	if tiles == 0 {
		// Image smaller than one tile: single window over everything.
		return windowSSIM(ga, gb)
	}
	return sum / float64(tiles)
}

// grayPlane flattens an image into row-major 8-bit luminance values.
func grayPlane(img image.Image) []float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	plane := make([]float64, w*h)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma, scaled from 16-bit samples.
			plane[i] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
			i++
		}
	}
	return plane
}

func tileSSIM(a, b []float64, stride, tx, ty int) float64 {
	var wa, wb [ssimTileSize * ssimTileSize]float64
	i := 0
	for y := ty; y < ty+ssimTileSize; y++ {
		row := y * stride
		for x := tx; x < tx+ssimTileSize; x++ {
			wa[i] = a[row+x]
			wb[i] = b[row+x]
			i++
		}
	}
	return windowSSIM(wa[:], wb[:])
}

// windowSSIM evaluates the SSIM formula over one window of samples.
func windowSSIM(a, b []float64) float64 {
	n := float64(len(a))
	if n == 0 {
		return 0
	}

	var muA, muB float64
	for i := range a {
		muA += a[i]
		muB += b[i]
	}
	muA /= n
	muB /= n

	var varA, varB, cov float64
	for i := range a {
		da := a[i] - muA
		db := b[i] - muB
		varA += da * da
		varB += db * db
		cov += da * db
	}
	varA /= n
	varB /= n
	cov /= n

	num := (2*muA*muB + ssimC1) * (2*cov + ssimC2)
	den := (muA*muA + muB*muB + ssimC1) * (varA + varB + ssimC2)

	// Anti-correlated windows drive the covariance term negative; clamp
	// to keep the score in [0, 1].
	s := num / den
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
