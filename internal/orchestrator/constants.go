// Package orchestrator runs the capture, recognize and translate loop.
package orchestrator

import "time"

// Coordinator defaults
const (
	// Time between processing cycles
	DefaultInterval = time.Second

	// Maximum wait in Stop for the worker to exit
	DefaultStopTimeout = 2 * time.Second

	// Window displacement (pixels) that counts as a move
	DefaultMoveThreshold = 50

	// Window size change (pixels) that counts as a resize
	DefaultResizeThreshold = 10

	// Segments below this recognizer confidence are dropped
	DefaultMinConfidence = 0.5
)

// Keys returned by CacheStatistics.
const (
	RecognitionCache = "recognition"
	TranslationCache = "translation"
)
