// Package detector finds workflow step boundaries by comparing
// successive screenshots. A drop in structural similarity between the
// retained "before" frame and a fresh "after" frame marks a step; the
// after frame then rolls forward as the next comparison baseline.
package detector

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docugen/platform/internal/element"
	"github.com/docugen/platform/internal/errors"
	"github.com/docugen/platform/internal/similarity"
)

// Detection methods recorded on steps.
const (
	MethodSimilarity = "similarity"
	MethodManual     = "manual"
	MethodMerged     = "merged"
)

// StepRecord is one detected workflow step. Step numbers are contiguous
// starting at 1 and are renumbered after merges and deletes.
type StepRecord struct {
	StepNumber      int               `json:"step_number"`
	BeforeImage     []byte            `json:"-"`
	AfterImage      []byte            `json:"-"`
	BeforeRef       string            `json:"before_image_ref,omitempty"`
	AfterRef        string            `json:"after_image_ref,omitempty"`
	SimilarityScore float64           `json:"similarity_score"`
	Timestamp       time.Time         `json:"timestamp"`
	Description     string            `json:"description"`
	ElementMetadata *element.Metadata `json:"element_metadata,omitempty"`
	DetectionMethod string            `json:"detection_method"`
}

// Config controls thresholds and debounce. Web capture renders through
// a browser where minor repaints are common, so it uses a higher bar.
type Config struct {
	DesktopThreshold float64
	WebThreshold     float64
	DebounceSeconds  float64
	WebMode          bool
	// OutputDir, when set, receives step-NN-before/after.png files as
	// steps are recorded.
	OutputDir string
}

// DefaultConfig returns the standard desktop-mode thresholds.
func DefaultConfig() Config {
	return Config{
		DesktopThreshold: 0.87,
		WebThreshold:     0.90,
		DebounceSeconds:  0.3,
	}
}

func (c Config) threshold() float64 {
	if c.WebMode {
		return c.WebThreshold
	}
	return c.DesktopThreshold
}

// Source supplies screenshot frames. Satisfied by screen.Capturer.
type Source interface {
	CaptureAlways() []byte
}

// Detector accumulates step records for one capture session. Safe for
// concurrent use, though the capture pipeline is expected to drive it
// sequentially.
type Detector struct {
	cfg Config
	src Source

	mu       sync.Mutex
	steps    []StepRecord
	before   []byte
	lastStep time.Time

	now func() time.Time
}

func New(cfg Config, src Source) *Detector {
	return &Detector{cfg: cfg, src: src, now: time.Now}
}

// Config returns the detector's configuration.
func (d *Detector) Config() Config { return d.cfg }

// CaptureBefore snapshots the screen as the comparison baseline.
func (d *Detector) CaptureBefore() ([]byte, error) {
	frame := d.src.CaptureAlways()
	if frame == nil {
		return nil, errors.New(errors.CodeQueryFailure, "screen capture failed")
	}
	d.mu.Lock()
	d.before = frame
	d.mu.Unlock()
	return frame, nil
}

// CaptureAfter snapshots the screen, scores it against the baseline and
// records a step when the similarity falls below the threshold. It
// returns nil when no step was recorded: within the debounce window,
// or when the screen did not change enough.
func (d *Detector) CaptureAfter(description string) (*StepRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.before == nil {
		slog.Warn("capture_after called without capture_before")
		if frame := d.src.CaptureAlways(); frame != nil {
			d.before = frame
		}
		return nil, nil
	}

	now := d.now()
	if now.Sub(d.lastStep) < d.debounce() {
		slog.Debug("step debounced", "since_last", now.Sub(d.lastStep))
		return nil, nil
	}

	after := d.src.CaptureAlways()
	if after == nil {
		return nil, errors.New(errors.CodeQueryFailure, "screen capture failed")
	}

	score := similarity.Score(d.before, after)
	threshold := d.cfg.threshold()
	slog.Debug("similarity computed", "score", score, "threshold", threshold)
	if score >= threshold {
		// No significant change; the baseline stays put.
		return nil, nil
	}

	step := d.appendLocked(StepRecord{
		BeforeImage:     d.before,
		AfterImage:      after,
		SimilarityScore: score,
		Timestamp:       now,
		Description:     description,
		DetectionMethod: MethodSimilarity,
	})
	d.before = after
	d.lastStep = now
	return step, nil
}

// RecordManualStep records a step unconditionally, bypassing both the
// similarity threshold and the debounce window.
func (d *Detector) RecordManualStep(description string) (*StepRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.before == nil {
		d.before = d.src.CaptureAlways()
	}
	after := d.src.CaptureAlways()
	if d.before == nil || after == nil {
		return nil, errors.New(errors.CodeQueryFailure, "screen capture failed")
	}

	now := d.now()
	step := d.appendLocked(StepRecord{
		BeforeImage:     d.before,
		AfterImage:      after,
		SimilarityScore: similarity.Score(d.before, after),
		Timestamp:       now,
		Description:     description,
		DetectionMethod: MethodManual,
	})
	d.before = after
	d.lastStep = now
	return step, nil
}

// AttachElement associates identification metadata with a recorded
// step.
func (d *Detector) AttachElement(stepNumber int, meta *element.Metadata) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := stepNumber - 1
	if idx < 0 || idx >= len(d.steps) {
		return errors.Newf(errors.CodeNotFound, "no step %d", stepNumber)
	}
	d.steps[idx].ElementMetadata = meta
	return nil
}

// MergeSteps combines two adjacent steps into one. The merged record
// keeps the first step's non-empty description (falling back to the
// second's), the later step's after image, and the earliest before
// image; remaining steps are renumbered.
func (d *Detector) MergeSteps(first, second int) (*StepRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if second != first+1 {
		return nil, errors.Newf(errors.CodeQueryFailure, "steps %d and %d are not adjacent", first, second)
	}
	i, j := first-1, second-1
	if i < 0 || j >= len(d.steps) {
		return nil, errors.Newf(errors.CodeNotFound, "no steps %d and %d", first, second)
	}

	a, b := d.steps[i], d.steps[j]
	merged := StepRecord{
		BeforeImage:     a.BeforeImage,
		AfterImage:      b.AfterImage,
		BeforeRef:       a.BeforeRef,
		AfterRef:        b.AfterRef,
		SimilarityScore: similarity.Score(a.BeforeImage, b.AfterImage),
		Timestamp:       b.Timestamp,
		Description:     a.Description,
		ElementMetadata: a.ElementMetadata,
		DetectionMethod: MethodMerged,
	}
	if merged.Description == "" {
		merged.Description = b.Description
	}
	if merged.ElementMetadata == nil {
		merged.ElementMetadata = b.ElementMetadata
	}

	d.steps[i] = merged
	d.steps = append(d.steps[:j], d.steps[j+1:]...)
	d.renumberLocked()
	out := d.steps[i]
	return &out, nil
}

// DeleteStep removes one step and renumbers the rest.
func (d *Detector) DeleteStep(stepNumber int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := stepNumber - 1
	if idx < 0 || idx >= len(d.steps) {
		return errors.Newf(errors.CodeNotFound, "no step %d", stepNumber)
	}
	d.steps = append(d.steps[:idx], d.steps[idx+1:]...)
	d.renumberLocked()
	return nil
}

// Redetect re-applies a new similarity threshold to every
// similarity-detected step, dropping steps whose score no longer falls
// below it. Manual and merged steps are untouched. Returns the number
// of steps removed.
func (d *Detector) Redetect(threshold float64) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.steps[:0]
	removed := 0
	for _, s := range d.steps {
		if s.DetectionMethod == MethodSimilarity && s.SimilarityScore >= threshold {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	d.steps = kept
	d.renumberLocked()
	if removed > 0 {
		slog.Info("redetect removed steps", "removed", removed, "threshold", threshold)
	}
	return removed
}

// Steps returns a copy of the recorded steps.
func (d *Detector) Steps() []StepRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]StepRecord, len(d.steps))
	copy(out, d.steps)
	return out
}

// StepCount returns the number of recorded steps.
func (d *Detector) StepCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.steps)
}

// Reset clears all recorded steps and the comparison baseline.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.steps = nil
	d.before = nil
	d.lastStep = time.Time{}
}

func (d *Detector) debounce() time.Duration {
	return time.Duration(d.cfg.DebounceSeconds * float64(time.Second))
}

func (d *Detector) appendLocked(step StepRecord) *StepRecord {
	step.StepNumber = len(d.steps) + 1
	if d.cfg.OutputDir != "" {
		d.saveStep(&step)
	}
	d.steps = append(d.steps, step)
	return &d.steps[len(d.steps)-1]
}

func (d *Detector) renumberLocked() {
	for i := range d.steps {
		d.steps[i].StepNumber = i + 1
	}
}

// saveStep writes the step's frames to the output directory. Failures
// are logged, never fatal; the in-memory record still carries the
// bytes.
func (d *Detector) saveStep(step *StepRecord) {
	if err := os.MkdirAll(d.cfg.OutputDir, 0o755); err != nil {
		slog.Warn("cannot create step output dir", "dir", d.cfg.OutputDir, "error", err)
		return
	}
	before := filepath.Join(d.cfg.OutputDir, fmt.Sprintf("step-%02d-before.png", step.StepNumber))
	after := filepath.Join(d.cfg.OutputDir, fmt.Sprintf("step-%02d-after.png", step.StepNumber))
	if err := os.WriteFile(before, step.BeforeImage, 0o644); err != nil {
		slog.Warn("cannot save before frame", "path", before, "error", err)
		return
	}
	if err := os.WriteFile(after, step.AfterImage, 0o644); err != nil {
		slog.Warn("cannot save after frame", "path", after, "error", err)
		return
	}
	step.BeforeRef = before
	step.AfterRef = after
}
