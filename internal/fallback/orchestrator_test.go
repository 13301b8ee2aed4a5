package fallback

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docugen/platform/internal/cache"
	"github.com/docugen/platform/internal/config"
	"github.com/docugen/platform/internal/element"
	"github.com/docugen/platform/internal/errors"
	"github.com/docugen/platform/internal/metrics"
)

type fakeAdapter struct {
	platform   element.Platform
	permission string
	delay      time.Duration
	meta       *element.Metadata
	err        error
	calls      atomic.Int64
}

func (a *fakeAdapter) Platform() element.Platform { return a.platform }

func (a *fakeAdapter) PermissionStatus() string {
	if a.permission == "" {
		return element.PermissionGranted
	}
	return a.permission
}

func (a *fakeAdapter) ElementAtPoint(ctx context.Context, x, y int) (*element.Metadata, error) {
	a.calls.Add(1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	return a.meta, a.err
}

func (a *fakeAdapter) FocusedElement(ctx context.Context) (*element.Metadata, error) {
	return a.meta, a.err
}

type fakeVision struct {
	meta  *element.Metadata
	err   error
	calls atomic.Int64
}

func (v *fakeVision) IdentifyAt(ctx context.Context, imageData []byte, x, y int) (*element.Metadata, error) {
	v.calls.Add(1)
	if v.meta == nil {
		return nil, v.err
	}
	cp := *v.meta
	return &cp, v.err
}

func accessMeta() *element.Metadata {
	return &element.Metadata{
		ElementID:  "win:1",
		Name:       "Save",
		Role:       "button",
		Bounds:     element.Rect{X: 100, Y: 200, Width: 80, Height: 30},
		Confidence: 1.0,
		Platform:   element.PlatformWindows,
		Source:     element.SourceAccessibility,
	}
}

func visualMeta() *element.Metadata {
	return &element.Metadata{
		ElementID:  "vis:1",
		Name:       "Save",
		Role:       "button",
		Bounds:     element.Rect{X: 98, Y: 198, Width: 84, Height: 34},
		Confidence: 0.7,
		Platform:   element.PlatformWindows,
		Source:     element.SourceVisual,
	}
}

func testConfig() config.Fallback {
	return config.Fallback{
		TimeoutMS:             25,
		RetryStrategy:         config.RetryExponentialBackoff,
		PermissionHandling:    config.PermissionAutoFallback,
		CacheTTLSeconds:       300,
		MaxRetries:            2,
		VisualFallbackEnabled: true,
	}
}

func newTestOrchestrator(cfg config.Fallback, adapter *fakeAdapter, vision *fakeVision) *Orchestrator {
	collector := metrics.NewCollector(prometheus.NewRegistry())
	return NewOrchestrator(cfg, adapter, vision, cache.NewElementCache(cache.DefaultElementCapacity), collector)
}

func TestIdentifyAccessibilitySuccess(t *testing.T) {
	adapter := &fakeAdapter{platform: element.PlatformWindows, meta: accessMeta()}
	vision := &fakeVision{meta: visualMeta()}
	o := newTestOrchestrator(testConfig(), adapter, vision)

	req := Request{X: 100, Y: 200, AppName: "notepad", Screenshot: []byte("png")}
	meta, err := o.Identify(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta == nil || meta.ElementID != "win:1" {
		t.Fatalf("got %+v, want accessibility element", meta)
	}
	if meta.FallbackUsed {
		t.Error("accessibility result should not be marked as fallback")
	}
	if n := vision.calls.Load(); n != 0 {
		t.Errorf("vision called %d times, want 0", n)
	}

	// Second query in the same coordinate bucket is served from cache.
	meta2, err := o.Identify(context.Background(), Request{X: 103, Y: 207, AppName: "notepad"})
	if err != nil || meta2 == nil {
		t.Fatalf("cached lookup failed: %v", err)
	}
	if n := adapter.calls.Load(); n != 1 {
		t.Errorf("adapter called %d times, want 1", n)
	}

	stats := o.metrics.Stats()
	if stats.AccessibilitySuccess != 1 {
		t.Errorf("accessibility successes = %d, want 1", stats.AccessibilitySuccess)
	}
	if cs := o.metrics.CacheStats(); cs.Hits != 1 || cs.Misses != 1 {
		t.Errorf("cache stats = %+v, want 1 hit 1 miss", cs)
	}
}

func TestIdentifyTimeoutFallsBackToVisual(t *testing.T) {
	adapter := &fakeAdapter{platform: element.PlatformWindows, delay: 200 * time.Millisecond, meta: accessMeta()}
	vision := &fakeVision{meta: visualMeta()}
	o := newTestOrchestrator(testConfig(), adapter, vision)

	meta, err := o.Identify(context.Background(), Request{X: 10, Y: 10, AppName: "slowapp", Screenshot: []byte("png")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta == nil {
		t.Fatal("expected visual fallback result")
	}
	if !meta.FallbackUsed || meta.FallbackReason != ReasonTimeout {
		t.Errorf("got fallback_used=%v reason=%q, want true/%q", meta.FallbackUsed, meta.FallbackReason, ReasonTimeout)
	}
	if meta.Source != element.SourceVisual {
		t.Errorf("source = %q, want %q", meta.Source, element.SourceVisual)
	}
}

func TestIdentifySkipsAccessibilityAfterRepeatedTimeouts(t *testing.T) {
	adapter := &fakeAdapter{platform: element.PlatformWindows, delay: 200 * time.Millisecond, meta: accessMeta()}
	vision := &fakeVision{meta: visualMeta()}
	o := newTestOrchestrator(testConfig(), adapter, vision)

	// Distinct coordinate buckets so the element cache stays out of the
	// way, same app so the timeout counter accumulates.
	for i := 0; i < 2; i++ {
		o.Identify(context.Background(), Request{X: i * 100, Y: 0, AppName: "slowapp", Screenshot: []byte("png")})
	}
	if n := adapter.calls.Load(); n != 2 {
		t.Fatalf("adapter called %d times after two timeouts, want 2", n)
	}

	meta, err := o.Identify(context.Background(), Request{X: 900, Y: 0, AppName: "slowapp", Screenshot: []byte("png")})
	if err != nil || meta == nil {
		t.Fatalf("third query failed: %v", err)
	}
	if n := adapter.calls.Load(); n != 2 {
		t.Errorf("adapter called %d times, want backoff to skip the third attempt", n)
	}
	if meta.FallbackReason != ReasonTimeout {
		t.Errorf("reason = %q, want %q", meta.FallbackReason, ReasonTimeout)
	}
}

func TestIdentifySuccessResetsTimeoutCounter(t *testing.T) {
	adapter := &fakeAdapter{platform: element.PlatformWindows, delay: 200 * time.Millisecond, meta: accessMeta()}
	vision := &fakeVision{meta: visualMeta()}
	o := newTestOrchestrator(testConfig(), adapter, vision)

	o.Identify(context.Background(), Request{X: 0, Y: 0, AppName: "flaky", Screenshot: []byte("png")})
	adapter.delay = 0
	o.Identify(context.Background(), Request{X: 100, Y: 0, AppName: "flaky", Screenshot: []byte("png")})

	if n := o.consecutiveTimeouts("flaky"); n != 0 {
		t.Errorf("timeout counter = %d after success, want 0", n)
	}
}

func TestIdentifyPermissionDeniedAutoFallback(t *testing.T) {
	adapter := &fakeAdapter{platform: element.PlatformMacOS, permission: element.PermissionDenied, meta: accessMeta()}
	vision := &fakeVision{meta: visualMeta()}
	o := newTestOrchestrator(testConfig(), adapter, vision)

	meta, err := o.Identify(context.Background(), Request{X: 5, Y: 5, AppName: "finder", Screenshot: []byte("png")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta == nil || meta.FallbackReason != ReasonPermissionDenied {
		t.Fatalf("got %+v, want visual result with permission_denied reason", meta)
	}
	if n := adapter.calls.Load(); n != 0 {
		t.Errorf("adapter queried %d times despite denied permission, want 0", n)
	}
}

func TestIdentifyPermissionDeniedFailMode(t *testing.T) {
	cfg := testConfig()
	cfg.PermissionHandling = config.PermissionFail
	adapter := &fakeAdapter{platform: element.PlatformMacOS, permission: element.PermissionDenied}
	o := newTestOrchestrator(cfg, adapter, &fakeVision{meta: visualMeta()})

	_, err := o.Identify(context.Background(), Request{X: 5, Y: 5, AppName: "finder", Screenshot: []byte("png")})
	if !errors.IsCode(err, errors.CodePermissionDenied) {
		t.Fatalf("got %v, want permission denied error", err)
	}
}

func TestIdentifyNotFoundMarksAppUnsupported(t *testing.T) {
	adapter := &fakeAdapter{
		platform: element.PlatformWindows,
		err:      stderrors.New("automation element not found for window"),
	}
	vision := &fakeVision{meta: visualMeta()}
	o := newTestOrchestrator(testConfig(), adapter, vision)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	o.now = func() time.Time { return now }

	o.Identify(context.Background(), Request{X: 0, Y: 0, AppName: "legacyapp", Screenshot: []byte("png")})
	if n := adapter.calls.Load(); n != 1 {
		t.Fatalf("adapter called %d times, want 1", n)
	}

	// Within the TTL the adapter is skipped entirely.
	meta, _ := o.Identify(context.Background(), Request{X: 500, Y: 0, AppName: "legacyapp", Screenshot: []byte("png")})
	if n := adapter.calls.Load(); n != 1 {
		t.Errorf("adapter called %d times while unsupported, want 1", n)
	}
	if meta == nil || meta.FallbackReason != ReasonUnsupported {
		t.Fatalf("got %+v, want unsupported reason", meta)
	}

	// After the TTL elapses the mark expires and accessibility is tried
	// again.
	now = base.Add(301 * time.Second)
	o.Identify(context.Background(), Request{X: 700, Y: 0, AppName: "legacyapp", Screenshot: []byte("png")})
	if n := adapter.calls.Load(); n != 2 {
		t.Errorf("adapter called %d times after TTL expiry, want 2", n)
	}
}

func TestIdentifyBothPathsFail(t *testing.T) {
	adapter := &fakeAdapter{platform: element.PlatformWindows, err: stderrors.New("query failed")}
	vision := &fakeVision{err: errors.New(errors.CodeVisionAPI, "api unavailable")}
	o := newTestOrchestrator(testConfig(), adapter, vision)

	meta, err := o.Identify(context.Background(), Request{X: 0, Y: 0, AppName: "app", Screenshot: []byte("png")})
	if err != nil {
		t.Fatalf("total failure should not error: %v", err)
	}
	if meta != nil {
		t.Fatalf("got %+v, want nil metadata", meta)
	}

	stats := o.metrics.Stats()
	if stats.AccessibilityFailures != 1 {
		t.Errorf("accessibility failures = %d, want 1", stats.AccessibilityFailures)
	}
}

func TestIdentifyVisualDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.VisualFallbackEnabled = false
	adapter := &fakeAdapter{platform: element.PlatformWindows, err: stderrors.New("query failed")}
	vision := &fakeVision{meta: visualMeta()}
	o := newTestOrchestrator(cfg, adapter, vision)

	meta, err := o.Identify(context.Background(), Request{X: 0, Y: 0, AppName: "app", Screenshot: []byte("png")})
	if err != nil || meta != nil {
		t.Fatalf("got (%+v, %v), want (nil, nil)", meta, err)
	}
	if n := vision.calls.Load(); n != 0 {
		t.Errorf("vision called %d times while disabled, want 0", n)
	}
}

func TestIdentifyNoScreenshotSkipsVisual(t *testing.T) {
	adapter := &fakeAdapter{platform: element.PlatformWindows, err: stderrors.New("query failed")}
	vision := &fakeVision{meta: visualMeta()}
	o := newTestOrchestrator(testConfig(), adapter, vision)

	meta, err := o.Identify(context.Background(), Request{X: 0, Y: 0, AppName: "app"})
	if err != nil || meta != nil {
		t.Fatalf("got (%+v, %v), want (nil, nil)", meta, err)
	}
	if n := vision.calls.Load(); n != 0 {
		t.Errorf("vision called %d times without screenshot, want 0", n)
	}
}

func TestIdentifyAppRuleSkipsAccessibility(t *testing.T) {
	cfg := testConfig()
	cfg.AppSpecificRules = map[string]config.AppRule{
		"electronapp": {SkipAccessibility: true},
	}
	adapter := &fakeAdapter{platform: element.PlatformWindows, meta: accessMeta()}
	vision := &fakeVision{meta: visualMeta()}
	o := newTestOrchestrator(cfg, adapter, vision)

	meta, err := o.Identify(context.Background(), Request{X: 0, Y: 0, AppName: "electronapp", Screenshot: []byte("png")})
	if err != nil || meta == nil {
		t.Fatalf("got (%+v, %v), want visual result", meta, err)
	}
	if n := adapter.calls.Load(); n != 0 {
		t.Errorf("adapter called %d times despite skip rule, want 0", n)
	}
	if meta.FallbackReason != ReasonUnsupported {
		t.Errorf("reason = %q, want %q", meta.FallbackReason, ReasonUnsupported)
	}
}

func TestIdentifyAppRuleDisablesVisual(t *testing.T) {
	off := false
	cfg := testConfig()
	cfg.AppSpecificRules = map[string]config.AppRule{
		"secureapp": {VisualFallbackEnabled: &off},
	}
	adapter := &fakeAdapter{platform: element.PlatformWindows, err: stderrors.New("query failed")}
	vision := &fakeVision{meta: visualMeta()}
	o := newTestOrchestrator(cfg, adapter, vision)

	meta, _ := o.Identify(context.Background(), Request{X: 0, Y: 0, AppName: "secureapp", Screenshot: []byte("png")})
	if meta != nil {
		t.Fatalf("got %+v, want nil with per-app visual disabled", meta)
	}
	if n := vision.calls.Load(); n != 0 {
		t.Errorf("vision called %d times, want 0", n)
	}
}

func TestIdentifyLowConfidenceFallsBack(t *testing.T) {
	weak := accessMeta()
	weak.Confidence = 0.3
	adapter := &fakeAdapter{platform: element.PlatformWindows, meta: weak}
	vision := &fakeVision{meta: visualMeta()}
	o := newTestOrchestrator(testConfig(), adapter, vision)

	meta, err := o.Identify(context.Background(), Request{X: 0, Y: 0, AppName: "app", Screenshot: []byte("png")})
	if err != nil || meta == nil {
		t.Fatalf("got (%+v, %v), want visual result", meta, err)
	}
	if !meta.FallbackUsed || meta.Source != element.SourceVisual {
		t.Errorf("low confidence result not replaced: %+v", meta)
	}
}

func TestIdentifyRejectsImplausibleCoordinates(t *testing.T) {
	adapter := &fakeAdapter{platform: element.PlatformWindows, meta: accessMeta()}
	o := newTestOrchestrator(testConfig(), adapter, &fakeVision{meta: visualMeta()})

	_, err := o.Identify(context.Background(), Request{X: 50000, Y: 100, AppName: "app"})
	if !errors.IsCode(err, errors.CodeQueryFailure) {
		t.Fatalf("got %v, want query failure for absurd coordinates", err)
	}
	if n := adapter.calls.Load(); n != 0 {
		t.Errorf("adapter called %d times, want 0", n)
	}
}

func TestIdentifyFastFailureRecordsMeasuredLatency(t *testing.T) {
	cfg := testConfig()
	cfg.TimeoutMS = 5000
	cfg.RetryStrategy = config.RetryNone
	adapter := &fakeAdapter{platform: element.PlatformWindows, err: stderrors.New("query blew up")}
	o := newTestOrchestrator(cfg, adapter, &fakeVision{meta: visualMeta()})

	o.Identify(context.Background(), Request{X: 0, Y: 0, AppName: "app", Screenshot: []byte("png")})

	// An instantaneous failure must record what it actually took, not
	// the configured deadline.
	for _, e := range o.metrics.Entries() {
		if e.Source == element.SourceAccessibility && !e.Success {
			if e.LatencyMS >= float64(cfg.TimeoutMS) {
				t.Errorf("failure latency = %v ms, want measured value below %d", e.LatencyMS, cfg.TimeoutMS)
			}
			return
		}
	}
	t.Fatal("no accessibility failure entry recorded")
}

func TestIdentifyRetryImmediate(t *testing.T) {
	cfg := testConfig()
	cfg.RetryStrategy = config.RetryImmediate
	adapter := &fakeAdapter{platform: element.PlatformWindows, err: stderrors.New("flaky query")}
	vision := &fakeVision{meta: visualMeta()}
	o := newTestOrchestrator(cfg, adapter, vision)

	o.Identify(context.Background(), Request{X: 0, Y: 0, AppName: "app", Screenshot: []byte("png")})
	if n := adapter.calls.Load(); n != int64(cfg.MaxRetries+1) {
		t.Errorf("adapter called %d times, want %d immediate attempts", n, cfg.MaxRetries+1)
	}
}
