// Package server provides the HTTP and WebSocket control surface for a
// capture session.
package server

import "time"

// Server configuration constants
const (
	// Per-connection rate limiting for WebSocket commands.
	RateLimitMessages = 20
	RateLimitWindow   = time.Second

	// Maximum accepted request body for REST endpoints.
	MaxBodyBytes = 1 << 20
)
