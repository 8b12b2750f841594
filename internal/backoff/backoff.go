// Package backoff implements the exponential-with-jitter backoff formula
// that Subchannel reconnect attempts use. Ported from the original
// implementation's
// BackOff::NextAttemptDelay (src/core/lib/backoff/backoff.{h,cc}).
package backoff

import (
	"math/rand"
	"time"
)

// Config holds the constant parameters of a backoff strategy.
type Config struct {
	// BaseDelay is the amount of time to wait before retrying after the
	// first failure.
	BaseDelay time.Duration
	// Multiplier is the factor with which the backoff is multiplied after
	// each failed attempt.
	Multiplier float64
	// Jitter is the factor by which the backoff is randomized; the
	// returned delay is uniformly distributed in
	// [current*(1-Jitter), current*(1+Jitter)].
	Jitter float64
	// MaxDelay is the upper bound on the backoff delay.
	MaxDelay time.Duration
}

// DefaultConfig is the backoff configuration used when a Subchannel is not
// constructed with an explicit one, matching the values grpc-go has used
// historically: 1s base, *1.6 multiplier, 0.2 jitter, 120s cap.
var DefaultConfig = Config{
	BaseDelay:  time.Second,
	Multiplier: 1.6,
	Jitter:     0.2,
	MaxDelay:   120 * time.Second,
}

// Strategy computes successive backoff delays for a config. It is not
// safe for concurrent use; callers (e.g. Subchannel) serialize access to
// it through their own control-plane lock or the WorkSerializer.
type Strategy struct {
	config Config
	rng    *rand.Rand

	current time.Duration
	initial bool
}

// New returns a Strategy ready to produce delays for cfg.
func New(cfg Config) *Strategy {
	s := &Strategy{config: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	s.Reset()
	return s
}

// Reset restores the strategy to its initial state: the next call to
// NextDelay returns BaseDelay (jittered).
func (s *Strategy) Reset() {
	s.current = s.config.BaseDelay
	s.initial = true
}

// NextDelay returns the delay to wait before the next connection attempt,
// and advances the strategy's internal state for the attempt after that.
func (s *Strategy) NextDelay() time.Duration {
	if s.initial {
		s.initial = false
	} else {
		backoff := float64(s.current) * s.config.Multiplier
		if max := float64(s.config.MaxDelay); backoff > max {
			backoff = max
		}
		s.current = time.Duration(backoff)
	}
	return s.jittered(s.current)
}

func (s *Strategy) jittered(d time.Duration) time.Duration {
	if s.config.Jitter <= 0 {
		return d
	}
	delta := s.config.Jitter * float64(d)
	min := float64(d) - delta
	max := float64(d) + delta
	jittered := min + (max-min)*s.rng.Float64()
	if jittered < 0 {
		return 0
	}
	return time.Duration(jittered)
}
