package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/docugen/platform/internal/cache"
	"github.com/docugen/platform/internal/coords"
	"github.com/docugen/platform/internal/element"
	"github.com/docugen/platform/internal/resilience"
	"github.com/docugen/platform/internal/trace"
)

// Identifier resolves UI elements from screenshots through the vision
// model, with result caching, retry, and a circuit breaker around the
// API.
type Identifier struct {
	client   Client
	cache    *cache.VisionCache
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig
	platform element.Platform
	blur     bool
}

// Option configures an Identifier.
type Option func(*Identifier)

// WithBlur enables the pre-send privacy pass.
func WithBlur() Option {
	return func(i *Identifier) { i.blur = true }
}

// WithRetryConfig overrides the retry policy, mainly for tests.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(i *Identifier) { i.retry = cfg }
}

// NewIdentifier builds an identifier for the given platform.
func NewIdentifier(client Client, visionCache *cache.VisionCache, platform element.Platform, opts ...Option) *Identifier {
	ident := &Identifier{
		client:   client,
		cache:    visionCache,
		breaker:  resilience.NewBreaker(resilience.VisionConfig()),
		retry:    resilience.VisionRetryConfig(),
		platform: platform,
	}
	for _, opt := range opts {
		opt(ident)
	}
	return ident
}

// IdentifyAt returns the element at or nearest the interaction point.
// Results for identical screenshot bytes come from the cache without
// an API call. When the model returns several candidates, the one
// whose bounds center is closest to the point wins.
func (i *Identifier) IdentifyAt(ctx context.Context, imageData []byte, x, y int) (*element.Metadata, error) {
	elements, err := i.identify(ctx, imageData, fmt.Sprintf(focusedElementPrompt, x, y))
	if err != nil {
		return nil, err
	}
	best := closestToPoint(elements, x, y)
	return &best, nil
}

// IdentifyAll returns every interactive element the model can see.
func (i *Identifier) IdentifyAll(ctx context.Context, imageData []byte) ([]element.Metadata, error) {
	return i.identify(ctx, imageData, elementAnalysisPrompt)
}

func (i *Identifier) identify(ctx context.Context, imageData []byte, prompt string) ([]element.Metadata, error) {
	if cached, ok := i.cache.Get(imageData); ok {
		trace.Logger(ctx).Debug("vision cache hit")
		return cached, nil
	}

	sendData := imageData
	if i.blur {
		sendData = blurSensitive(imageData)
	}

	start := time.Now()
	elements, err := resilience.ExecuteWithResult(i.breaker, func() ([]element.Metadata, error) {
		var reply string
		retryErr := resilience.Retry(ctx, i.retry, func() error {
			var callErr error
			reply, callErr = i.client.Complete(ctx, sendData, prompt)
			return callErr
		})
		if retryErr != nil {
			return nil, retryErr
		}
		return parseElements(reply, i.platform)
	})
	if err != nil {
		return nil, err
	}

	latency := float64(time.Since(start).Milliseconds())
	for idx := range elements {
		elements[idx].QueryLatencyMS = latency
	}

	// Clamp model-reported bounds into the frame; the model occasionally
	// hallucinates boxes past the image edge.
	if cfg, _, cfgErr := image.DecodeConfig(bytes.NewReader(imageData)); cfgErr == nil {
		for idx := range elements {
			elements[idx].Bounds = coords.ClipBoundsToImage(elements[idx].Bounds, cfg.Width, cfg.Height)
		}
	}

	// Cache keyed by the original bytes so a later lookup for the
	// same frame hits regardless of the blur setting.
	i.cache.Put(imageData, elements)
	return elements, nil
}

// closestToPoint picks the element whose bounds center is
// Euclidean-closest to the interaction point.
func closestToPoint(elements []element.Metadata, x, y int) element.Metadata {
	best := elements[0]
	bestDist := math.Inf(1)
	for _, e := range elements {
		cx, cy := e.Bounds.Center()
		d := math.Hypot(cx-float64(x), cy-float64(y))
		if d < bestDist {
			best, bestDist = e, d
		}
	}
	return best
}
