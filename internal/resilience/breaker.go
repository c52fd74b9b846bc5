// Package resilience keeps flaky video hosts from stalling jobs: retries with
// backoff for transient failures and per-host circuit breakers.
package resilience

import (
	"log/slog"
	"sync/atomic"
	"time"

	apperrors "github.com/binh234/video2slides/internal/errors"
	"github.com/binh234/video2slides/internal/syncx"
)

// State represents circuit breaker state
type State uint32

const (
	Closed   State = iota // requests flow
	Open                  // failing fast
	HalfOpen              // one probe at a time
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned while a breaker rejects calls.
var ErrOpen = apperrors.New(apperrors.CodeUnavailable, "circuit breaker open")

const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 2
)

// Config holds circuit breaker settings.
type Config struct {
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // wait before a half-open probe
	HalfOpenSuccesses int           // probe successes needed to close
}

// DefaultConfig returns the settings used for download hosts.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
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
	return c
}

// Breaker is a lock-free circuit breaker.
type Breaker struct {
	name        string
	cfg         Config
	state       atomic.Uint32
	failures    atomic.Int32
	successes   atomic.Int32
	probing     atomic.Bool
	lastFailure atomic.Int64 // unix nano

	onStateChange func(from, to State)
}

// New creates a closed breaker.
func New(name string, cfg Config) *Breaker {
	b := &Breaker{name: name, cfg: cfg.withDefaults()}
	b.state.Store(uint32(Closed))
	return b
}

// WithHook sets a state change callback.
func (b *Breaker) WithHook(fn func(from, to State)) *Breaker {
	b.onStateChange = fn
	return b
}

// Allow returns nil if a call may proceed. In the half-open state only one
// call is let through until it reports back.
func (b *Breaker) Allow() error {
	switch State(b.state.Load()) {
	case Open:
		if !b.resetDue() {
			return ErrOpen
		}
		b.transition(Open, HalfOpen)
		fallthrough
	case HalfOpen:
		if !b.probing.CompareAndSwap(false, true) {
			return ErrOpen
		}
	}
	return nil
}

// Success records a successful call.
func (b *Breaker) Success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		b.probing.Store(false)
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(HalfOpen, Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.lastFailure.Store(time.Now().UnixNano())
	count := b.failures.Add(1)

	switch State(b.state.Load()) {
	case HalfOpen:
		b.probing.Store(false)
		b.transition(HalfOpen, Open)
	case Closed:
		if count >= int32(b.cfg.Threshold) {
			b.transition(Closed, Open)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Do runs fn under breaker protection. Only errors accepted by counts are
// recorded as failures; others (a 404, a non-video response) say nothing
// about the host's health.
func Do[T any](b *Breaker, counts func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, apperrors.Wrapf(err, apperrors.CodeUnavailable, "%s unavailable", b.name)
	}
	v, err := fn()
	if err != nil {
		if counts == nil || counts(err) {
			b.Failure()
		} else {
			b.Success()
		}
		return zero, err
	}
	b.Success()
	return v, nil
}

func (b *Breaker) transition(from, to State) {
	if !b.state.CompareAndSwap(uint32(from), uint32(to)) {
		return
	}

	switch to {
	case Closed:
		b.failures.Store(0)
		b.successes.Store(0)
		slog.Info("circuit breaker closed", "name", b.name)
	case Open:
		b.successes.Store(0)
		slog.Warn("circuit breaker opened", "name", b.name, "failures", b.failures.Load())
	case HalfOpen:
		b.successes.Store(0)
		b.probing.Store(false)
		slog.Info("circuit breaker half-open", "name", b.name)
	}

	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

func (b *Breaker) resetDue() bool {
	last := b.lastFailure.Load()
	return last == 0 || time.Since(time.Unix(0, last)) > b.cfg.ResetTimeout
}

// Group hands out one breaker per key (a download host).
type Group struct {
	cfg      Config
	breakers *syncx.Guard[map[string]*Breaker]
}

// NewGroup creates an empty group whose breakers share cfg.
func NewGroup(cfg Config) *Group {
	return &Group{cfg: cfg, breakers: syncx.NewGuard(map[string]*Breaker{})}
}

// Get returns the breaker for key, creating it on first use.
func (g *Group) Get(key string) *Breaker {
	if b := syncx.Read(g.breakers, func(m map[string]*Breaker) *Breaker { return m[key] }); b != nil {
		return b
	}
	return syncx.Update(g.breakers, func(m *map[string]*Breaker) *Breaker {
		if b, ok := (*m)[key]; ok {
			return b
		}
		b := New(key, g.cfg)
		(*m)[key] = b
		return b
	})
}
