package fallback

import (
	"bytes"
	"context"
	"image"
	_ "image/png"
	"strings"
	"sync"
	"time"

	"github.com/docugen/platform/internal/cache"
	"github.com/docugen/platform/internal/config"
	"github.com/docugen/platform/internal/coords"
	"github.com/docugen/platform/internal/element"
	"github.com/docugen/platform/internal/errors"
	"github.com/docugen/platform/internal/metrics"
	"github.com/docugen/platform/internal/trace"
)

// confidenceThreshold is the minimum accessibility confidence accepted
// without triggering the visual fallback.
const confidenceThreshold = 0.5

// Fallback reasons recorded on metadata and metric entries.
const (
	ReasonTimeout          = "timeout"
	ReasonPermissionDenied = "permission_denied"
	ReasonError            = "error"
	ReasonUnsupported      = "unsupported"
)

// Adapter is the accessibility surface the orchestrator drives. It is
// satisfied by accessibility.Adapter.
type Adapter interface {
	Platform() element.Platform
	PermissionStatus() string
	ElementAtPoint(ctx context.Context, x, y int) (*element.Metadata, error)
}

// VisionIdentifier resolves an element from a screenshot. Satisfied by
// vision.Identifier.
type VisionIdentifier interface {
	IdentifyAt(ctx context.Context, imageData []byte, x, y int) (*element.Metadata, error)
}

// Request is one identification query. X and Y are screen-space
// coordinates; the visual path transforms them into image space using
// DPIScale before prompting the model.
type Request struct {
	X, Y    int
	AppName string
	// Screenshot is the current screen image for the visual fallback;
	// nil disables it for this request.
	Screenshot []byte
	// DPIScale maps screen points to screenshot pixels; 0 means 1.0.
	DPIScale float64
}

// Orchestrator runs the identification pipeline: element cache, then
// accessibility under a hard deadline, then the vision fallback. It
// tracks per-app consecutive timeouts so chronically slow apps stop
// paying the accessibility deadline on every query, and remembers apps
// whose accessibility tree is unreadable for the cache TTL.
type Orchestrator struct {
	cfg     config.Fallback
	adapter Adapter
	vision  VisionIdentifier
	cache   *cache.ElementCache
	metrics *metrics.Collector
	runner  *Runner

	mu           sync.Mutex
	timeoutCount map[string]int
	unsupported  map[string]time.Time

	now func() time.Time
}

// NewOrchestrator wires the pipeline. vision may be nil when the visual
// fallback is disabled entirely.
func NewOrchestrator(cfg config.Fallback, adapter Adapter, vision VisionIdentifier, elements *cache.ElementCache, collector *metrics.Collector) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		adapter:      adapter,
		vision:       vision,
		cache:        elements,
		metrics:      collector,
		runner:       NewRunner(DefaultPoolSize),
		timeoutCount: make(map[string]int),
		unsupported:  make(map[string]time.Time),
		now:          time.Now,
	}
}

// Identify resolves the element at the requested point. It returns
// (nil, nil) when both the accessibility and visual paths fail, so
// callers can record a step without element metadata. A non-nil error
// is returned only when permission handling is configured to fail hard.
func (o *Orchestrator) Identify(ctx context.Context, req Request) (*element.Metadata, error) {
	log := trace.Logger(ctx).With("app", req.AppName, "x", req.X, "y", req.Y)

	if !coords.ValidateScreenCoordinates(req.X, req.Y, 0, 0) {
		return nil, errors.Newf(errors.CodeQueryFailure, "coordinates (%d, %d) outside plausible screen space", req.X, req.Y)
	}

	if o.isUnsupported(req.AppName) {
		log.Debug("app marked unsupported, skipping accessibility")
		return o.tryVisual(ctx, req, ReasonUnsupported)
	}

	key := cache.MakeKey(o.adapter.Platform(), req.AppName, req.X, req.Y)
	if meta, ok := o.cache.Get(key); ok {
		o.metrics.RecordCacheHit()
		log.Debug("element cache hit", "element_id", meta.ElementID)
		return &meta, nil
	}
	o.metrics.RecordCacheMiss()

	rule, hasRule := o.cfg.Rule(req.AppName)
	if hasRule && rule.SkipAccessibility {
		log.Debug("app rule skips accessibility")
		return o.tryVisual(ctx, req, ReasonUnsupported)
	}

	if o.adapter.PermissionStatus() == element.PermissionDenied {
		switch o.cfg.PermissionHandling {
		case config.PermissionFail:
			return nil, errors.New(errors.CodePermissionDenied, "accessibility permission denied")
		case config.PermissionPromptUser:
			log.Warn("accessibility permission denied, grant it in system settings to improve identification accuracy")
		}
		return o.tryVisual(ctx, req, ReasonPermissionDenied)
	}

	if o.shouldSkipAccessibility(req.AppName) {
		log.Debug("skipping accessibility after repeated timeouts",
			"consecutive_timeouts", o.consecutiveTimeouts(req.AppName))
		return o.tryVisual(ctx, req, ReasonTimeout)
	}

	accStart := o.now()
	meta, err := o.tryAccessibility(ctx, req, rule)
	if err == nil && meta != nil && meta.Confidence < confidenceThreshold {
		log.Info("accessibility result below confidence threshold",
			"confidence", meta.Confidence, "threshold", confidenceThreshold)
		err = errors.Newf(errors.CodeLowConfidence, "confidence %.2f below %.2f", meta.Confidence, confidenceThreshold)
		meta = nil
	}
	if err == nil && meta != nil {
		o.resetTimeouts(req.AppName)
		o.cache.Put(key, *meta)
		o.metrics.RecordEvent(req.AppName, meta.Platform, element.SourceAccessibility, true, meta.QueryLatencyMS, "")
		return meta, nil
	}

	reason := o.classifyFailure(ctx, req.AppName, err)
	o.metrics.RecordEvent(req.AppName, o.adapter.Platform(), element.SourceAccessibility, false,
		float64(o.now().Sub(accStart).Milliseconds()), reason)

	return o.tryVisual(ctx, req, reason)
}

// tryAccessibility queries the adapter on the worker pool under the
// configured deadline, retrying immediately when the strategy asks for
// it. A nil element with a nil error means the tree had nothing at the
// point; callers treat it as a generic failure.
func (o *Orchestrator) tryAccessibility(ctx context.Context, req Request, rule config.AppRule) (*element.Metadata, error) {
	timeout := time.Duration(o.cfg.TimeoutMS) * time.Millisecond
	if rule.TimeoutMS > 0 {
		timeout = time.Duration(rule.TimeoutMS) * time.Millisecond
	}

	attempts := 1
	if o.cfg.RetryStrategy == config.RetryImmediate {
		attempts = o.cfg.MaxRetries + 1
	}

	var meta *element.Metadata
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		meta, err = RunWithDeadline(o.runner, ctx, timeout, func() (*element.Metadata, error) {
			return o.adapter.ElementAtPoint(ctx, req.X, req.Y)
		})
		if err == nil && meta != nil {
			return meta, nil
		}
		if errors.IsCode(err, errors.CodePermissionDenied) {
			return nil, err
		}
	}
	return meta, err
}

// classifyFailure maps an accessibility failure to a fallback reason
// and updates the per-app bookkeeping that drives future skips.
func (o *Orchestrator) classifyFailure(ctx context.Context, appName string, err error) string {
	switch {
	case err == nil:
		return ReasonError
	case errors.IsCode(err, errors.CodeTimeout), errors.IsCode(err, errors.CodePoolExhausted):
		n := o.recordTimeout(appName)
		trace.Logger(ctx).Warn("accessibility query timed out",
			"app", appName, "consecutive_timeouts", n)
		return ReasonTimeout
	case errors.IsCode(err, errors.CodePermissionDenied):
		return ReasonPermissionDenied
	default:
		if errors.IsCode(err, errors.CodeNotFound) ||
			strings.Contains(strings.ToLower(err.Error()), "not found") {
			o.markUnsupported(appName)
			trace.Logger(ctx).Info("marking app unsupported for accessibility",
				"app", appName, "ttl_seconds", o.cfg.CacheTTLSeconds)
		}
		trace.Logger(ctx).Warn("accessibility query failed", "app", appName, "error", err)
		return ReasonError
	}
}

// tryVisual runs the vision fallback when it is enabled and a
// screenshot is available. Both success and failure record a metric
// entry carrying the reason accessibility was bypassed.
func (o *Orchestrator) tryVisual(ctx context.Context, req Request, reason string) (*element.Metadata, error) {
	log := trace.Logger(ctx)

	enabled := o.cfg.VisualFallbackEnabled
	if rule, ok := o.cfg.Rule(req.AppName); ok && rule.VisualFallbackEnabled != nil {
		enabled = *rule.VisualFallbackEnabled
	}
	if !enabled || o.vision == nil {
		log.Debug("visual fallback disabled", "reason", reason)
		return nil, nil
	}
	if len(req.Screenshot) == 0 {
		log.Warn("no screenshot available for visual fallback", "reason", reason)
		return nil, nil
	}

	vx, vy := req.X, req.Y
	scale := req.DPIScale
	if scale <= 0 {
		scale = 1.0
	}
	if cfg, _, cfgErr := image.DecodeConfig(bytes.NewReader(req.Screenshot)); cfgErr == nil {
		vx, vy = coords.TransformToImageCoordinates(req.X, req.Y, scale, cfg.Width, cfg.Height, 0, 0)
	}

	start := o.now()
	meta, err := o.vision.IdentifyAt(ctx, req.Screenshot, vx, vy)
	latency := float64(o.now().Sub(start).Milliseconds())
	if err != nil || meta == nil {
		log.Warn("visual fallback failed", "reason", reason, "error", err)
		o.metrics.RecordEvent(req.AppName, o.adapter.Platform(), element.SourceVisual, false, latency, reason)
		return nil, nil
	}

	meta.FallbackUsed = true
	meta.FallbackReason = reason
	if meta.QueryLatencyMS == 0 {
		meta.QueryLatencyMS = latency
	}
	o.cache.Put(cache.MakeKey(o.adapter.Platform(), req.AppName, req.X, req.Y), *meta)
	o.metrics.RecordEvent(req.AppName, meta.Platform, element.SourceVisual, true, meta.QueryLatencyMS, reason)
	log.Info("visual fallback identified element",
		"element_id", meta.ElementID, "role", meta.Role, "reason", reason)
	return meta, nil
}

func (o *Orchestrator) isUnsupported(appName string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	marked, ok := o.unsupported[appName]
	if !ok {
		return false
	}
	if o.now().Sub(marked) > time.Duration(o.cfg.CacheTTLSeconds)*time.Second {
		delete(o.unsupported, appName)
		return false
	}
	return true
}

func (o *Orchestrator) markUnsupported(appName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unsupported[appName] = o.now()
}

// shouldSkipAccessibility reports whether the app has timed out often
// enough in a row that the deadline is not worth paying. Only the
// exponential backoff strategy skips; the others keep trying.
func (o *Orchestrator) shouldSkipAccessibility(appName string) bool {
	if o.cfg.RetryStrategy != config.RetryExponentialBackoff {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timeoutCount[appName] >= o.cfg.MaxRetries
}

func (o *Orchestrator) recordTimeout(appName string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeoutCount[appName]++
	return o.timeoutCount[appName]
}

func (o *Orchestrator) resetTimeouts(appName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.timeoutCount, appName)
}

func (o *Orchestrator) consecutiveTimeouts(appName string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timeoutCount[appName]
}
