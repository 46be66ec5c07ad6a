// Package config holds the defaults shared by the round driver, the probe
// and the demo command.
package config

import "time"

// Round driver
const (
	DefaultThreshold = 4
	DefaultRounds    = 1
	MinWorkerDelay   = 100 * time.Millisecond
	MaxWorkerDelay   = 4000 * time.Millisecond
)

// Probe
const (
	// PingTimeout is deliberately long so a probe makes a visible delay.
	PingTimeout = 8 * time.Second
	// PingTTL lets an echo cross up to 180 hops.
	PingTTL = 180
	// PingPayloadSize is the echo body length, filled with 'a'.
	PingPayloadSize = 32
)
