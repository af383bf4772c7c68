// Package grpcclient talks to the remote inference server that hosts the
// recognition and translation models.
package grpcclient

import "time"

// Client configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Per-attempt deadline for model calls
	DefaultCallTimeout = 5 * time.Second

	// Deadline for a health probe
	HealthCheckTimeout = 2 * time.Second
)

// Full method names served by the inference server. Messages are
// google.protobuf.Struct on both sides.
const (
	DetectMethod         = "/livetranslator.v1.Recognition/Detect"
	TranslateBatchMethod = "/livetranslator.v1.Translation/TranslateBatch"
)

// Image encoding sent with Detect
const imageFormat = "png"
