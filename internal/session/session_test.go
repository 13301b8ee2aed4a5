package session

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/docugen/platform/internal/detector"
	"github.com/docugen/platform/internal/element"
	"github.com/docugen/platform/internal/fallback"
)

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

type fakeSource struct {
	frames [][]byte
	pos    int
}

func (s *fakeSource) CaptureAlways() []byte {
	if len(s.frames) == 0 {
		return nil
	}
	f := s.frames[s.pos]
	if s.pos < len(s.frames)-1 {
		s.pos++
	}
	return f
}

type fakeIdentifier struct {
	meta *element.Metadata
	reqs []fallback.Request
}

func (f *fakeIdentifier) Identify(ctx context.Context, req fallback.Request) (*element.Metadata, error) {
	f.reqs = append(f.reqs, req)
	return f.meta, nil
}

func fastConfig() detector.Config {
	cfg := detector.DefaultConfig()
	cfg.DebounceSeconds = 0
	return cfg
}

func TestSessionLifecycle(t *testing.T) {
	black := solidPNG(t, color.Black)
	white := solidPNG(t, color.White)
	det := detector.New(fastConfig(), &fakeSource{frames: [][]byte{black, white}})
	ident := &fakeIdentifier{meta: &element.Metadata{ElementID: "e1", Role: "button"}}
	s := New(Options{Title: "Change settings", AppName: "settings", Platform: element.PlatformMacOS}, det, ident)

	if s.State() != StateIdle {
		t.Fatalf("state = %q, want idle", s.State())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("second start should fail")
	}

	step, err := s.RecordStep(context.Background(), "clicked displays", 85, 320)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if step == nil {
		t.Fatal("expected a step for a full-screen change")
	}
	if step.ElementMetadata == nil || step.ElementMetadata.ElementID != "e1" {
		t.Errorf("element metadata not attached: %+v", step.ElementMetadata)
	}
	if len(ident.reqs) != 1 || ident.reqs[0].X != 85 || ident.reqs[0].AppName != "settings" {
		t.Errorf("identifier request = %+v", ident.reqs)
	}
	if !bytes.Equal(ident.reqs[0].Screenshot, white) {
		t.Error("identifier should receive the after frame")
	}

	wf, err := s.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if s.State() != StateFinished {
		t.Errorf("state = %q, want finished", s.State())
	}
	if len(wf.Steps) != 1 || wf.Steps[0].Title != "clicked displays" {
		t.Fatalf("workflow steps = %+v", wf.Steps)
	}
	if wf.Steps[0].Element == nil {
		t.Error("workflow step lost element metadata")
	}
	if wf.Platform.OS != string(element.PlatformMacOS) || wf.Platform.DPIScale != 1.0 {
		t.Errorf("platform info = %+v", wf.Platform)
	}
}

func TestRecordStepRequiresRecordingState(t *testing.T) {
	black := solidPNG(t, color.Black)
	det := detector.New(fastConfig(), &fakeSource{frames: [][]byte{black}})
	s := New(Options{Title: "t"}, det, nil)

	if _, err := s.RecordStep(context.Background(), "too early", 0, 0); err == nil {
		t.Error("recording before start should fail")
	}

	s.Start()
	if err := s.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := s.RecordStep(context.Background(), "while paused", 0, 0); err == nil {
		t.Error("recording while paused should fail")
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := s.Resume(); err == nil {
		t.Error("resuming a recording session should fail")
	}
}

func TestManualStepAndUndo(t *testing.T) {
	black := solidPNG(t, color.Black)
	det := detector.New(fastConfig(), &fakeSource{frames: [][]byte{black, black}})
	s := New(Options{Title: "t"}, det, nil)
	s.Start()

	step, err := s.RecordManualStep(context.Background(), "pressed ctrl+s", 0, 0)
	if err != nil || step == nil {
		t.Fatalf("manual step: (%+v, %v)", step, err)
	}
	if step.DetectionMethod != detector.MethodManual {
		t.Errorf("method = %q", step.DetectionMethod)
	}

	undone, err := s.UndoLastStep()
	if err != nil || !undone {
		t.Fatalf("undo: (%v, %v)", undone, err)
	}
	if len(s.Steps()) != 0 {
		t.Errorf("steps remain after undo: %d", len(s.Steps()))
	}
	undone, err = s.UndoLastStep()
	if err != nil || undone {
		t.Errorf("empty undo = (%v, %v), want (false, nil)", undone, err)
	}
}

func TestSubscribeReceivesStepEvents(t *testing.T) {
	black := solidPNG(t, color.Black)
	white := solidPNG(t, color.White)
	det := detector.New(fastConfig(), &fakeSource{frames: [][]byte{black, white}})
	s := New(Options{Title: "t"}, det, nil)

	ch, cancel := s.Subscribe()
	defer cancel()

	s.Start()
	if ev := <-ch; ev.Type != "state" || ev.State != StateRecording {
		t.Fatalf("first event = %+v", ev)
	}

	s.RecordStep(context.Background(), "change", 0, 0)
	ev := <-ch
	if ev.Type != "step" || ev.Step == nil || ev.Step.StepNumber != 1 {
		t.Fatalf("step event = %+v", ev)
	}

	cancel()
	if _, open := <-ch; open {
		t.Error("cancel should close the channel")
	}
}

func TestSaveWorkflowJSON(t *testing.T) {
	wf := &Workflow{
		Title:           "Configure firewall",
		Mode:            "desktop",
		Prerequisites:   []string{},
		Troubleshooting: []string{},
		Steps: []WorkflowStep{
			{Number: 1, Title: "Step 1", Screenshot: "./images/step-01-after.png", Mode: "desktop"},
		},
	}
	path := filepath.Join(t.TempDir(), "out", "workflow.json")
	if err := SaveWorkflowJSON(wf, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var got Workflow
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Title != wf.Title || len(got.Steps) != 1 {
		t.Errorf("round trip lost data: %+v", got)
	}
}

func TestFinishWithoutStart(t *testing.T) {
	black := solidPNG(t, color.Black)
	det := detector.New(fastConfig(), &fakeSource{frames: [][]byte{black}})
	s := New(Options{Title: "t"}, det, nil)
	if _, err := s.Finish(); err == nil {
		t.Error("finishing an idle session should fail")
	}
}
