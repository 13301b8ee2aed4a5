package vision

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/docugen/platform/internal/element"
	"github.com/docugen/platform/internal/errors"
)

// maxVisualConfidence caps confidence from the visual path; model
// self-reports are structurally less trustworthy than a native
// accessibility hit.
const maxVisualConfidence = 0.7

type rawElement struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Bounds     *rawBounds `json:"bounds"`
	Confidence *float64   `json:"confidence"`
}

// rawBounds tolerates fractional pixel values from the model.
type rawBounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b rawBounds) rect() element.Rect {
	return element.Rect{
		X:      int(math.Round(b.X)),
		Y:      int(math.Round(b.Y)),
		Width:  int(math.Round(b.Width)),
		Height: int(math.Round(b.Height)),
	}
}

// parseElements turns the model's reply into element metadata. The
// reply may be fenced in markdown, and may be a bare object instead of
// an array. Elements without bounds are discarded; missing name, type,
// and confidence take defaults. Every survivor is tagged as visual.
func parseElements(text string, platform element.Platform) ([]element.Metadata, error) {
	text = stripCodeFence(strings.TrimSpace(text))

	var raws []rawElement
	if err := json.Unmarshal([]byte(text), &raws); err != nil {
		// Bare object instead of array.
		var single rawElement
		if err2 := json.Unmarshal([]byte(text), &single); err2 != nil {
			return nil, errors.Wrap(err, errors.CodeVisionAPI, "failed to parse vision response JSON")
		}
		raws = []rawElement{single}
	}

	var out []element.Metadata
	for _, raw := range raws {
		if raw.Bounds == nil {
			continue
		}
		name := raw.Name
		if name == "" {
			name = "Unknown"
		}
		role := raw.Type
		if role == "" {
			role = "unknown"
		}
		confidence := 0.5
		if raw.Confidence != nil {
			confidence = *raw.Confidence
		}
		if confidence > maxVisualConfidence {
			confidence = maxVisualConfidence
		}
		out = append(out, element.Metadata{
			ElementID:  element.NewElementID(platform, ""),
			Name:       name,
			Role:       role,
			Bounds:     raw.Bounds.rect(),
			Confidence: element.ClampConfidence(confidence),
			Platform:   platform,
			Source:     element.SourceVisual,
		})
	}
	if len(out) == 0 {
		return nil, errors.New(errors.CodeVisionAPI, "vision response contained no usable elements")
	}
	return out, nil
}

// stripCodeFence removes a surrounding markdown code fence if present.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}
	lines = lines[1:]
	// A truncated reply may never close the fence; keep the last line
	// unless it is one.
	if last := strings.TrimSpace(lines[len(lines)-1]); strings.HasPrefix(last, "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
