// Package breaker implements a per-dependency circuit breaker.
//
// Closed: calls pass through while a trailing window tracks the error rate.
// The breaker opens when the rate reaches ErrorThreshold with at least
// MinSamples observations. Open: calls short-circuit for Cooldown, then the
// breaker moves to half-open. Half-open: one call in ProbeEvery is admitted
// as a probe; any probe failure reopens the breaker, ProbeSuccesses
// consecutive probe successes close it and reset the counters.
package breaker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kailas-cloud/prodsearch/internal/domain"
)

// State is the breaker state.
type State int

// Breaker states.
const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds. Zero values fall back to defaults.
type Config struct {
	ErrorThreshold float64       // error rate that opens the breaker (default 0.5)
	Window         time.Duration // trailing window for the error rate (default 1m)
	MinSamples     int           // minimum observations before the rate is meaningful (default 10)
	Cooldown       time.Duration // open duration before probing (default 30s)
	ProbeFraction  float64       // fraction of half-open calls admitted as probes (default 0.1)
	ProbeSuccesses int           // consecutive probe successes that close the breaker (default 3)
}

func (c *Config) applyDefaults() {
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 0.5
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.ProbeFraction <= 0 || c.ProbeFraction > 1 {
		c.ProbeFraction = 0.1
	}
	if c.ProbeSuccesses <= 0 {
		c.ProbeSuccesses = 3
	}
}

// probeEvery converts the probe fraction into a 1-in-N admission rule.
func (c *Config) probeEvery() int {
	n := int(math.Round(1 / c.ProbeFraction))
	if n < 1 {
		n = 1
	}
	return n
}

type sample struct {
	at time.Time
	ok bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock substitutes the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithOnStateChange registers a transition hook (metrics, logging).
// The hook is called outside the breaker lock.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker guards one dependency. Safe for concurrent use.
type Breaker struct {
	name     string
	cfg      Config
	now      func() time.Time
	onChange func(name string, from, to State)

	mu           sync.Mutex
	state        State
	history      []sample
	openedAt     time.Time
	probeSeen    int // half-open calls observed since the last transition
	probeSuccess int // consecutive probe successes
}

// New creates a breaker for the named dependency.
func New(name string, cfg Config, opts ...Option) *Breaker {
	cfg.applyDefaults()
	b := &Breaker{
		name: name,
		cfg:  cfg,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the guarded dependency name.
func (b *Breaker) Name() string { return b.name }

// State evaluates time-based transitions and returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	st, change := b.evaluateLocked()
	b.mu.Unlock()
	b.notify(change)
	return st
}

// Do runs fn under breaker protection. When the call is short-circuited the
// returned error wraps domain.ErrBreakerOpen and fn is not invoked. The
// outcome of every admitted call is reported back into the breaker.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return fmt.Errorf("%s: %w", b.name, domain.ErrBreakerOpen)
	}
	err := fn(ctx)
	b.Record(err == nil)
	return err
}

// Allow reports whether a call may proceed. Callers that bypass Do must pair
// every Allow()==true with a Record call so the counters stay accurate.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	st, change := b.evaluateLocked()

	var allowed bool
	switch st {
	case StateClosed:
		allowed = true
	case StateOpen:
		allowed = false
	case StateHalfOpen:
		// The first half-open call is always a probe, then one in N.
		allowed = b.probeSeen%b.cfg.probeEvery() == 0
		b.probeSeen++
	}
	b.mu.Unlock()

	b.notify(change)
	return allowed
}

// Record reports a call outcome into the breaker.
func (b *Breaker) Record(ok bool) {
	b.mu.Lock()
	now := b.now()

	var change *transition
	switch b.state {
	case StateHalfOpen:
		if !ok {
			change = b.transitionLocked(StateOpen, now)
		} else {
			b.probeSuccess++
			if b.probeSuccess >= b.cfg.ProbeSuccesses {
				b.history = nil
				change = b.transitionLocked(StateClosed, now)
			}
		}
	case StateClosed:
		b.history = append(b.history, sample{at: now, ok: ok})
		b.pruneLocked(now)
		if b.shouldTripLocked() {
			change = b.transitionLocked(StateOpen, now)
		}
	case StateOpen:
		// Outcome of an in-flight call that started before the trip.
		b.history = append(b.history, sample{at: now, ok: ok})
	}
	b.mu.Unlock()

	b.notify(change)
}

// Snapshot returns the current request and failure counts in the window.
func (b *Breaker) Snapshot() (state State, requests, failures int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.now())
	for _, s := range b.history {
		requests++
		if !s.ok {
			failures++
		}
	}
	return b.state, requests, failures
}

type transition struct {
	from, to State
}

// evaluateLocked applies time-based transitions (open -> half-open) and
// prunes the trailing window. Caller holds b.mu.
func (b *Breaker) evaluateLocked() (State, *transition) {
	now := b.now()
	b.pruneLocked(now)

	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen, b.transitionLocked(StateHalfOpen, now)
	}
	return b.state, nil
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.history) && b.history[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.history = append(b.history[:0], b.history[i:]...)
	}
}

func (b *Breaker) shouldTripLocked() bool {
	total := len(b.history)
	if total < b.cfg.MinSamples {
		return false
	}
	failures := 0
	for _, s := range b.history {
		if !s.ok {
			failures++
		}
	}
	return float64(failures)/float64(total) >= b.cfg.ErrorThreshold
}

func (b *Breaker) transitionLocked(to State, now time.Time) *transition {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.probeSeen = 0
	b.probeSuccess = 0
	if to == StateOpen {
		b.openedAt = now
	}
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(t *transition) {
	if t != nil && b.onChange != nil {
		b.onChange(b.name, t.from, t.to)
	}
}
