package resilience

import (
	"log/slog"
	"time"
)

// Breaker defaults for inference models.
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// Models called from the capture loop trip sooner, so a dead inference
	// server costs one fast failure per cycle.
	CycleThreshold         = 3
	CycleResetTimeout      = 10 * time.Second
	CycleHalfOpenSuccesses = 1
)

// Config holds the breaker settings for one model.
type Config struct {
	Name              string        // model name, used in logs
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // wait before a half-open trial call
	HalfOpenSuccesses int           // trial successes needed to close
	Logger            *slog.Logger
}

// DefaultConfig returns settings for model calls made outside the capture loop.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// CycleConfig returns settings for OCR and translation calls made every cycle.
func CycleConfig(name string) Config {
	return Config{
		Name:              name,
		Threshold:         CycleThreshold,
		ResetTimeout:      CycleResetTimeout,
		HalfOpenSuccesses: CycleHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
