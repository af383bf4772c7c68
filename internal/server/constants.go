// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection rate limiting for inbound WebSocket messages
	RateLimitMessages = 20
	RateLimitWindow   = time.Second

	// Deadline for pushing one message to one client
	WriteTimeout = 2 * time.Second

	// Upper bound on REST request bodies
	MaxRequestBytes = 1 << 16
)

// WebSocket message types
const (
	TypeResults   = "results"
	TypeBounds    = "bounds"
	TypeLanguages = "languages"
	TypeError     = "error"
)
