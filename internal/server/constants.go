// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection command rate limiting
	RateLimitMessages = 5               // Max client commands per window
	RateLimitWindow   = 2 * time.Second // Sliding window duration

	// Per-message write deadline for broadcasts
	WriteTimeout = 2 * time.Second

	// Endpoint paths
	PathHealth  = "/healthz"
	PathStatus  = "/api/status"
	PathRefresh = "/api/monitors/refresh"
	PathReload  = "/api/templates/reload"
	PathEvents  = "/ws"
)
