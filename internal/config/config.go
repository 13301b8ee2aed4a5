// Package config handles service configuration
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/docugen/platform/internal/errors"
)

// Retry strategies for failed accessibility queries.
const (
	RetryNone               = "none"
	RetryImmediate          = "immediate"
	RetryExponentialBackoff = "exponential_backoff"
)

// Permission handling modes.
const (
	PermissionAutoFallback = "auto_fallback"
	PermissionPromptUser   = "prompt_user"
	PermissionFail         = "fail"
)

// AppRule overrides fallback behavior for one application.
type AppRule struct {
	TimeoutMS             int   `yaml:"timeout_ms"`
	VisualFallbackEnabled *bool `yaml:"visual_fallback_enabled"`
	SkipAccessibility     bool  `yaml:"skip_accessibility"`
}

// Fallback configures the identification fallback pipeline. Immutable
// after Load.
type Fallback struct {
	TimeoutMS             int
	RetryStrategy         string
	PermissionHandling    string
	CacheTTLSeconds       int
	MaxRetries            int
	VisualFallbackEnabled bool
	AppSpecificRules      map[string]AppRule
}

type Config struct {
	HTTPAddr                   string
	VisionEndpoint             string
	VisionModel                string
	VisionAPIKey               string
	WebCaptureMode             bool
	DesktopSimilarityThreshold float64
	WebSimilarityThreshold     float64
	DebounceSeconds            float64
	Fallback                   Fallback
}

func Load() *Config {
	return &Config{
		HTTPAddr:                   getEnv("HTTP_ADDR", ":8400"),
		VisionEndpoint:             getEnv("VISION_ENDPOINT", "https://api.anthropic.com/v1/messages"),
		VisionModel:                getEnv("VISION_MODEL", "claude-3-5-sonnet-20241022"),
		VisionAPIKey:               getEnv("VISION_API_KEY", ""),
		WebCaptureMode:             getEnvBool("WEB_CAPTURE_MODE", false),
		DesktopSimilarityThreshold: getEnvFloat("DESKTOP_SIMILARITY_THRESHOLD", 0.87),
		WebSimilarityThreshold:     getEnvFloat("WEB_SIMILARITY_THRESHOLD", 0.90),
		DebounceSeconds:            getEnvFloat("STEP_DEBOUNCE_SECONDS", 0.3),
		Fallback: Fallback{
			TimeoutMS:             getEnvInt("FALLBACK_TIMEOUT_MS", 100),
			RetryStrategy:         getEnv("FALLBACK_RETRY_STRATEGY", RetryExponentialBackoff),
			PermissionHandling:    getEnv("FALLBACK_PERMISSION_HANDLING", PermissionAutoFallback),
			CacheTTLSeconds:       getEnvInt("FALLBACK_CACHE_TTL", 300),
			MaxRetries:            getEnvInt("FALLBACK_MAX_RETRIES", 2),
			VisualFallbackEnabled: getEnvBool("FALLBACK_VISUAL_ENABLED", true),
			AppSpecificRules:      loadAppRules(getEnv("FALLBACK_RULES_FILE", "")),
		},
	}
}

// Validate rejects unknown enum values before they reach the
// orchestrator.
func (f Fallback) Validate() error {
	switch f.RetryStrategy {
	case RetryNone, RetryImmediate, RetryExponentialBackoff:
	default:
		return errors.Newf(errors.CodeConfigInvalid, "unknown retry strategy %q", f.RetryStrategy)
	}
	switch f.PermissionHandling {
	case PermissionAutoFallback, PermissionPromptUser, PermissionFail:
	default:
		return errors.Newf(errors.CodeConfigInvalid, "unknown permission handling %q", f.PermissionHandling)
	}
	if f.TimeoutMS <= 0 {
		return errors.Newf(errors.CodeConfigInvalid, "timeout_ms must be positive, got %d", f.TimeoutMS)
	}
	if f.MaxRetries < 0 {
		return errors.Newf(errors.CodeConfigInvalid, "max_retries must be non-negative, got %d", f.MaxRetries)
	}
	return nil
}

// Rule returns the overrides for an app, if any.
func (f Fallback) Rule(appName string) (AppRule, bool) {
	r, ok := f.AppSpecificRules[appName]
	return r, ok
}

// loadAppRules reads per-app overrides from a YAML file keyed by app
// name. A missing or unreadable file yields no rules rather than a
// startup failure.
func loadAppRules(path string) map[string]AppRule {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var rules map[string]AppRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil
	}
	return rules
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1"
	}
	return def
}
