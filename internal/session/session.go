// Package session runs one workflow capture session: it drives the step
// detector, enriches recorded steps with element identification, and
// assembles the final workflow document for the documentation pipeline.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docugen/platform/internal/detector"
	"github.com/docugen/platform/internal/element"
	"github.com/docugen/platform/internal/errors"
	"github.com/docugen/platform/internal/fallback"
	"github.com/docugen/platform/internal/trace"
)

// Session states.
const (
	StateIdle      = "idle"
	StateRecording = "recording"
	StatePaused    = "paused"
	StateFinished  = "finished"
)

// Identifier resolves element metadata for a step. Satisfied by
// fallback.Orchestrator.
type Identifier interface {
	Identify(ctx context.Context, req fallback.Request) (*element.Metadata, error)
}

// Event is pushed to subscribers when a step is recorded, merged,
// deleted or the session changes state.
type Event struct {
	Type      string               `json:"type"`
	Timestamp time.Time            `json:"timestamp"`
	Step      *detector.StepRecord `json:"step,omitempty"`
	State     string               `json:"state,omitempty"`
}

// Options configures a capture session.
type Options struct {
	Title       string
	Description string
	AppName     string
	DPIScale    float64
	Platform    element.Platform
}

// CaptureSession owns one recording from start to finish. Steps flow
// through the detector; each recorded step is handed to the identifier
// for element metadata before it reaches subscribers.
type CaptureSession struct {
	opts     Options
	detector *detector.Detector
	ident    Identifier

	mu    sync.Mutex
	state string
	subs  map[int]chan Event
	nextS int

	now func() time.Time
}

// New creates an idle session. ident may be nil when element
// identification is not wired (steps then carry no metadata).
func New(opts Options, det *detector.Detector, ident Identifier) *CaptureSession {
	if opts.DPIScale <= 0 {
		opts.DPIScale = 1.0
	}
	return &CaptureSession{
		opts:     opts,
		detector: det,
		ident:    ident,
		state:    StateIdle,
		subs:     make(map[int]chan Event),
		now:      time.Now,
	}
}

// State returns the current session state.
func (s *CaptureSession) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins recording and takes the initial baseline frame.
func (s *CaptureSession) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return errors.Newf(errors.CodeQueryFailure, "session already %s", state)
	}
	s.state = StateRecording
	s.mu.Unlock()

	if _, err := s.detector.CaptureBefore(); err != nil {
		return err
	}
	s.publish(Event{Type: "state", State: StateRecording})
	return nil
}

// RecordStep captures the after frame, runs step detection and, when a
// step boundary is found, identifies the element at the interaction
// point. Returns nil when no step was recorded (debounced or no visual
// change).
func (s *CaptureSession) RecordStep(ctx context.Context, description string, x, y int) (*detector.StepRecord, error) {
	if err := s.requireRecording(); err != nil {
		return nil, err
	}
	step, err := s.detector.CaptureAfter(description)
	if err != nil || step == nil {
		return nil, err
	}
	s.identifyAndPublish(ctx, step, x, y)
	return step, nil
}

// RecordManualStep records a step regardless of visual change, for
// explicit user triggers like hotkeys or keyboard-only actions.
func (s *CaptureSession) RecordManualStep(ctx context.Context, description string, x, y int) (*detector.StepRecord, error) {
	if err := s.requireRecording(); err != nil {
		return nil, err
	}
	step, err := s.detector.RecordManualStep(description)
	if err != nil {
		return nil, err
	}
	s.identifyAndPublish(ctx, step, x, y)
	return step, nil
}

func (s *CaptureSession) identifyAndPublish(ctx context.Context, step *detector.StepRecord, x, y int) {
	if s.ident != nil {
		meta, err := s.ident.Identify(ctx, fallback.Request{
			X:          x,
			Y:          y,
			AppName:    s.opts.AppName,
			Screenshot: step.AfterImage,
			DPIScale:   s.opts.DPIScale,
		})
		if err != nil {
			trace.Logger(ctx).Warn("element identification failed", "step", step.StepNumber, "error", err)
		}
		if meta != nil {
			step.ElementMetadata = meta
			s.detector.AttachElement(step.StepNumber, meta)
		}
	}
	s.publish(Event{Type: "step", Step: step})
}

// Pause suspends recording; RecordStep calls fail until Resume.
func (s *CaptureSession) Pause() error {
	return s.transition(StateRecording, StatePaused)
}

// Resume continues a paused session.
func (s *CaptureSession) Resume() error {
	return s.transition(StatePaused, StateRecording)
}

func (s *CaptureSession) transition(from, to string) error {
	s.mu.Lock()
	if s.state != from {
		state := s.state
		s.mu.Unlock()
		return errors.Newf(errors.CodeQueryFailure, "cannot move to %s from %s", to, state)
	}
	s.state = to
	s.mu.Unlock()
	s.publish(Event{Type: "state", State: to})
	return nil
}

// MergeSteps merges two adjacent steps, see detector.MergeSteps.
func (s *CaptureSession) MergeSteps(first, second int) (*detector.StepRecord, error) {
	merged, err := s.detector.MergeSteps(first, second)
	if err != nil {
		return nil, err
	}
	s.publish(Event{Type: "merge", Step: merged})
	return merged, nil
}

// DeleteStep removes a step and renumbers the rest.
func (s *CaptureSession) DeleteStep(stepNumber int) error {
	if err := s.detector.DeleteStep(stepNumber); err != nil {
		return err
	}
	s.publish(Event{Type: "delete"})
	return nil
}

// UndoLastStep removes the most recent step, if any.
func (s *CaptureSession) UndoLastStep() (bool, error) {
	n := s.detector.StepCount()
	if n == 0 {
		return false, nil
	}
	if err := s.detector.DeleteStep(n); err != nil {
		return false, err
	}
	s.publish(Event{Type: "delete"})
	return true, nil
}

// Redetect re-applies a similarity threshold across recorded steps.
func (s *CaptureSession) Redetect(threshold float64) int {
	removed := s.detector.Redetect(threshold)
	if removed > 0 {
		s.publish(Event{Type: "redetect"})
	}
	return removed
}

// Steps returns the recorded steps so far.
func (s *CaptureSession) Steps() []detector.StepRecord {
	return s.detector.Steps()
}

// Finish ends the session and assembles the workflow document.
// Finishing twice returns the same document.
func (s *CaptureSession) Finish() (*Workflow, error) {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil, errors.New(errors.CodeQueryFailure, "session never started")
	}
	s.state = StateFinished
	s.mu.Unlock()

	s.publish(Event{Type: "state", State: StateFinished})
	return s.workflow(), nil
}

// Subscribe registers for session events. The returned cancel func
// must be called to release the subscription. Slow subscribers drop
// events rather than block the capture pipeline.
func (s *CaptureSession) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextS
	s.nextS++
	ch := make(chan Event, 16)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *CaptureSession) publish(ev Event) {
	ev.Timestamp = s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *CaptureSession) requireRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return errors.Newf(errors.CodeQueryFailure, "session is %s, not recording", s.state)
	}
	return nil
}

// PlatformInfo describes the capture host in the workflow document.
type PlatformInfo struct {
	OS       string  `json:"os"`
	DPIScale float64 `json:"dpi_scale"`
}

// WorkflowStep is one step in the assembled document.
type WorkflowStep struct {
	Number          int               `json:"number"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Screenshot      string            `json:"screenshot"`
	ExpectedResult  string            `json:"expected_result"`
	Mode            string            `json:"mode"`
	AppName         string            `json:"app_name"`
	SimilarityScore float64           `json:"similarity_score"`
	Timestamp       string            `json:"timestamp"`
	Element         *element.Metadata `json:"element,omitempty"`
}

// Workflow is the document handed to the markdown/PDF generator.
type Workflow struct {
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Mode            string         `json:"mode"`
	AppName         string         `json:"app_name"`
	Platform        PlatformInfo   `json:"platform"`
	Prerequisites   []string       `json:"prerequisites"`
	Steps           []WorkflowStep `json:"steps"`
	Troubleshooting []string       `json:"troubleshooting"`
}

func (s *CaptureSession) workflow() *Workflow {
	steps := s.detector.Steps()
	wf := &Workflow{
		Title:       s.opts.Title,
		Description: s.opts.Description,
		Mode:        "desktop",
		AppName:     s.opts.AppName,
		Platform: PlatformInfo{
			OS:       string(s.opts.Platform),
			DPIScale: s.opts.DPIScale,
		},
		Prerequisites:   []string{},
		Steps:           make([]WorkflowStep, 0, len(steps)),
		Troubleshooting: []string{},
	}
	for _, step := range steps {
		title := step.Description
		if title == "" {
			title = fmt.Sprintf("Step %d", step.StepNumber)
		}
		screenshot := step.AfterRef
		if screenshot == "" {
			screenshot = fmt.Sprintf("./images/step-%02d-after.png", step.StepNumber)
		}
		wf.Steps = append(wf.Steps, WorkflowStep{
			Number:          step.StepNumber,
			Title:           title,
			Description:     step.Description,
			Screenshot:      screenshot,
			Mode:            "desktop",
			AppName:         s.opts.AppName,
			SimilarityScore: step.SimilarityScore,
			Timestamp:       step.Timestamp.Format(time.RFC3339),
			Element:         step.ElementMetadata,
		})
	}
	return wf
}

// SaveWorkflowJSON writes the workflow document for downstream
// consumption.
func SaveWorkflowJSON(wf *Workflow, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeQueryFailure, "create output dir")
	}
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeQueryFailure, "marshal workflow")
	}
	return os.WriteFile(path, data, 0o644)
}
