package transport

import (
	"time"

	"mindfry/protocol"
)

// ---------------------------------------------------------------------------
// Pipeline defaults
// ---------------------------------------------------------------------------

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxPending     = 1000
	DefaultSweepInterval  = 1 * time.Second
	DefaultMaxFrameSize   = protocol.DefaultMaxFrameSize
)

// Config tunes a Pipeline. Zero-valued fields take the defaults above.
type Config struct {
	// Timeout is how long a request may stay unanswered before the sweep rejects it.
	Timeout time.Duration
	// MaxPending is the in-flight limit; Send fails with ErrBackpressure beyond it.
	MaxPending int
	// SweepInterval is the timeout sweep period.
	SweepInterval time.Duration
	// MaxFrameSize bounds both outgoing and incoming frames.
	MaxFrameSize int
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       DefaultRequestTimeout,
		MaxPending:    DefaultMaxPending,
		SweepInterval: DefaultSweepInterval,
		MaxFrameSize:  DefaultMaxFrameSize,
	}
}

// applyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultRequestTimeout
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	// A sweep slower than the timeout would let requests overstay by up to a
	// full period; keep at least two sweeps per timeout window.
	if c.SweepInterval > c.Timeout/2 {
		c.SweepInterval = c.Timeout / 2
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Millisecond
	}
	if c.MaxFrameSize < protocol.HeaderSize {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
}
