// Package metrics collects identification events for the fallback
// pipeline: an append-only in-process event log with derived rollups,
// mirrored into Prometheus for scraping.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/docugen/platform/internal/element"
)

// Entry is one recorded identification event.
type Entry struct {
	Timestamp      time.Time        `json:"timestamp"`
	AppName        string           `json:"app_name,omitempty"`
	Platform       element.Platform `json:"platform"`
	Source         element.Source   `json:"source"`
	Success        bool             `json:"success"`
	LatencyMS      float64          `json:"latency_ms"`
	FallbackReason string           `json:"fallback_reason,omitempty"`
}

// AggregateStats are the rollups derived from the event log.
type AggregateStats struct {
	TotalCalls            int            `json:"total_calls"`
	AccessibilitySuccess  int            `json:"accessibility_success"`
	AccessibilityFailures int            `json:"accessibility_failures"`
	VisualFallbacks       int            `json:"visual_fallbacks"`
	AvgLatencyMS          float64        `json:"avg_latency_ms"`
	SuccessRate           float64        `json:"success_rate"`
	FallbackRate          float64        `json:"fallback_rate"`
	FallbackReasons       map[string]int `json:"fallback_reasons"`
}

// CacheStats summarizes element cache effectiveness.
type CacheStats struct {
	Hits    int     `json:"hits"`
	Misses  int     `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Collector accumulates events for the process lifetime. Entries are
// never dropped unless Reset is called; there is no persistence.
// Safe for concurrent use.
type Collector struct {
	mu          sync.Mutex
	entries     []Entry
	appEntries  map[string][]Entry
	cacheHits   int
	cacheMisses int

	prom *promMetrics
}

type promMetrics struct {
	events    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	cacheHits *prometheus.CounterVec
}

// NewCollector returns a collector whose Prometheus series register
// against reg. Pass prometheus.NewRegistry() in tests to stay hermetic.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		appEntries: make(map[string][]Entry),
		prom: &promMetrics{
			events: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "docugen_identification_events_total",
				Help: "Identification events by source, outcome, and fallback reason.",
			}, []string{"source", "success", "reason"}),
			latency: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "docugen_identification_latency_ms",
				Help:    "Identification latency in milliseconds by source.",
				Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			}, []string{"source"}),
			cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "docugen_element_cache_lookups_total",
				Help: "Element cache lookups by result.",
			}, []string{"result"}),
		},
	}
}

// RecordEvent appends one identification event to the log.
func (c *Collector) RecordEvent(appName string, platform element.Platform, source element.Source, success bool, latencyMS float64, fallbackReason string) {
	entry := Entry{
		Timestamp:      time.Now(),
		AppName:        appName,
		Platform:       platform,
		Source:         source,
		Success:        success,
		LatencyMS:      latencyMS,
		FallbackReason: fallbackReason,
	}

	c.mu.Lock()
	c.entries = append(c.entries, entry)
	if appName != "" {
		c.appEntries[appName] = append(c.appEntries[appName], entry)
	}
	c.mu.Unlock()

	outcome := "false"
	if success {
		outcome = "true"
	}
	reason := fallbackReason
	if reason == "" {
		reason = "none"
	}
	c.prom.events.WithLabelValues(string(source), outcome, reason).Inc()
	c.prom.latency.WithLabelValues(string(source)).Observe(latencyMS)
}

// RecordCacheHit counts an element cache hit.
func (c *Collector) RecordCacheHit() {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
	c.prom.cacheHits.WithLabelValues("hit").Inc()
}

// RecordCacheMiss counts an element cache miss.
func (c *Collector) RecordCacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
	c.prom.cacheHits.WithLabelValues("miss").Inc()
}

// Stats aggregates the full event log.
func (c *Collector) Stats() AggregateStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return aggregate(c.entries)
}

// AppStats aggregates events for one application.
func (c *Collector) AppStats(appName string) AggregateStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return aggregate(c.appEntries[appName])
}

// CacheStats reports element cache hit/miss counts and hit rate.
func (c *Collector) CacheStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := CacheStats{Hits: c.cacheHits, Misses: c.cacheMisses}
	if total := c.cacheHits + c.cacheMisses; total > 0 {
		s.HitRate = float64(c.cacheHits) / float64(total)
	}
	return s
}

// Entries returns a copy of the event log.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Reset clears the event log and cache counters. The Prometheus
// counters are cumulative by design and are not reset.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.appEntries = make(map[string][]Entry)
	c.cacheHits = 0
	c.cacheMisses = 0
}

func aggregate(entries []Entry) AggregateStats {
	stats := AggregateStats{FallbackReasons: map[string]int{}}
	if len(entries) == 0 {
		return stats
	}

	var latencySum float64
	for _, e := range entries {
		switch {
		case e.Source == element.SourceAccessibility && e.Success:
			stats.AccessibilitySuccess++
		case e.Source == element.SourceAccessibility:
			stats.AccessibilityFailures++
		case e.Source == element.SourceVisual:
			stats.VisualFallbacks++
		}
		latencySum += e.LatencyMS
		if e.FallbackReason != "" {
			stats.FallbackReasons[e.FallbackReason]++
		}
	}

	total := len(entries)
	stats.TotalCalls = total
	stats.AvgLatencyMS = latencySum / float64(total)
	stats.SuccessRate = float64(stats.AccessibilitySuccess+stats.VisualFallbacks) / float64(total)
	stats.FallbackRate = float64(stats.VisualFallbacks) / float64(total)
	return stats
}
