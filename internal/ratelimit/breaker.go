package ratelimit

import (
	"sync"
	"time"
)

// CircuitState is the state of one tool's breaker.
type CircuitState int

// Breaker states.
const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

// String returns the state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the error rate in [0,1] that opens the circuit.
	FailureThreshold float64
	// MinSamples is the minimum observed calls before the rate is trusted.
	MinSamples int
	// Window is how long observations count toward the rate.
	Window time.Duration
	// CoolDown is how long an open circuit stays open before probing.
	CoolDown time.Duration
	// HalfOpenProbes is how many trial calls half-open admits.
	HalfOpenProbes int
}

// DefaultBreakerConfig mirrors the backend failure containment policy.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 0.5,
		MinSamples:       10,
		Window:           30 * time.Second,
		CoolDown:         15 * time.Second,
		HalfOpenProbes:   2,
	}
}

type observation struct {
	at time.Time
	ok bool
}

// circuit is the breaker state for one tool.
type circuit struct {
	state       CircuitState
	openedAt    time.Time
	probesInUse int
	history     []observation
}

// Breaker is a per-tool circuit breaker. Like the limiter it is constructed
// once and injected, never a package global.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	cfg      BreakerConfig
	now      func() time.Time

	// onStateChange, when set, observes transitions for metrics.
	onStateChange func(tool string, state CircuitState)
}

// NewBreaker creates a breaker with the given configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &Breaker{
		circuits: make(map[string]*circuit),
		cfg:      cfg,
		now:      time.Now,
	}
}

// OnStateChange registers a transition observer. Call before first use.
func (b *Breaker) OnStateChange(fn func(tool string, state CircuitState)) {
	b.onStateChange = fn
}

// Allow reports whether a call to tool may proceed. Open circuits
// short-circuit until the cool-down elapses, then admit a bounded number of
// half-open probes.
func (b *Breaker) Allow(tool string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(tool)
	switch c.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if b.now().Sub(c.openedAt) < b.cfg.CoolDown {
			return false
		}
		b.transitionLocked(tool, c, CircuitHalfOpen)
		c.probesInUse = 1
		return true
	case CircuitHalfOpen:
		if c.probesInUse >= b.cfg.HalfOpenProbes {
			return false
		}
		c.probesInUse++
		return true
	default:
		return false
	}
}

// Record reports a call outcome for tool and advances the breaker state.
func (b *Breaker) Record(tool string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(tool)
	now := b.now()
	c.history = append(c.history, observation{at: now, ok: success})
	b.pruneLocked(c, now)

	switch c.state {
	case CircuitHalfOpen:
		if success {
			b.transitionLocked(tool, c, CircuitClosed)
			c.history = nil
			c.probesInUse = 0
		} else {
			b.transitionLocked(tool, c, CircuitOpen)
			c.openedAt = now
			c.probesInUse = 0
		}
	case CircuitClosed:
		if b.failureRateLocked(c) >= b.cfg.FailureThreshold && len(c.history) >= b.cfg.MinSamples {
			b.transitionLocked(tool, c, CircuitOpen)
			c.openedAt = now
		}
	case CircuitOpen:
		// Outcomes arriving after the circuit opened (in-flight calls)
		// do not change state.
	}
}

// State returns the current state for tool.
func (b *Breaker) State(tool string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuitLocked(tool).state
}

func (b *Breaker) circuitLocked(tool string) *circuit {
	c, ok := b.circuits[tool]
	if !ok {
		c = &circuit{state: CircuitClosed}
		b.circuits[tool] = c
	}
	return c
}

func (b *Breaker) pruneLocked(c *circuit, now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := c.history[:0]
	for _, obs := range c.history {
		if obs.at.After(cutoff) {
			kept = append(kept, obs)
		}
	}
	c.history = kept
}

func (b *Breaker) failureRateLocked(c *circuit) float64 {
	if len(c.history) == 0 {
		return 0
	}
	failures := 0
	for _, obs := range c.history {
		if !obs.ok {
			failures++
		}
	}
	return float64(failures) / float64(len(c.history))
}

func (b *Breaker) transitionLocked(tool string, c *circuit, to CircuitState) {
	if c.state == to {
		return
	}
	c.state = to
	if b.onStateChange != nil {
		b.onStateChange(tool, to)
	}
}
