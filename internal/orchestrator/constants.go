package orchestrator

import "time"

// Orchestrator configuration constants
const (
	// Buffered events; publishing never blocks the loop.
	EventBuffer = 64

	// Lower bound on the wait after a fatal-to-cycle error.
	MinDisplayRetry = 100 * time.Millisecond

	// Debug image layout (pixels)
	DebugHeaderWidth  = 450
	DebugHeaderHeight = 40
	DebugThumbMax     = 100
	DebugThumbX       = 10
	DebugThumbY       = 50
	DebugMaxHeight    = 800
	DebugFontScale    = 0.7
	DebugFontWeight   = 2
)
