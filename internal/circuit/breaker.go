// Package circuit fails fast when a backend is misbehaving. A drive wraps
// its remote calls in a Breaker; once failures pile up the breaker opens
// and callers get an immediate retryable error instead of a hanging
// kernel request, until a cooldown probe shows the backend recovered.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	derrors "github.com/drivefs/drivefs/pkg/errors"
)

// State is the breaker position.
type State int

const (
	// StateClosed passes calls through while counting outcomes.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probes through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Counts tracks call outcomes inside the current window or state.
type Counts struct {
	Calls                uint32 `json:"calls"`
	Successes            uint32 `json:"successes"`
	Failures             uint32 `json:"failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

func (c *Counts) onCall()    { c.Calls++ }
func (c *Counts) onSuccess() { c.Successes++; c.ConsecutiveSuccesses++; c.ConsecutiveFailures = 0 }
func (c *Counts) onFailure() { c.Failures++; c.ConsecutiveFailures++; c.ConsecutiveSuccesses = 0 }
func (c *Counts) clear()     { *c = Counts{} }

// Config tunes a breaker.
type Config struct {
	// MaxProbes is how many calls may run in the half-open state. The
	// breaker closes after that many consecutive probe successes.
	MaxProbes uint32 `yaml:"max_probes" json:"max_probes"`
	// Window is how long closed-state counts accumulate before resetting.
	Window time.Duration `yaml:"window" json:"window"`
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`

	// ReadyToTrip decides when closed flips to open. The default trips
	// on five consecutive failures.
	ReadyToTrip func(Counts) bool `yaml:"-" json:"-"`
	// OnStateChange observes transitions.
	OnStateChange func(name string, from, to State) `yaml:"-" json:"-"`
	// IsSuccessful classifies call results. The default treats nil and
	// every non-backend error as success: a not-found answer is the
	// backend working fine.
	IsSuccessful func(error) bool `yaml:"-" json:"-"`
}

func (c Config) withDefaults() Config {
	if c.MaxProbes == 0 {
		c.MaxProbes = 1
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.ReadyToTrip == nil {
		c.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 5
		}
	}
	if c.IsSuccessful == nil {
		c.IsSuccessful = func(err error) bool {
			if err == nil {
				return true
			}
			var dfsErr *derrors.DriveFSError
			if !errors.As(err, &dfsErr) {
				// Unclassified errors are assumed to be backend trouble.
				return false
			}
			return dfsErr.Category != derrors.CategoryBackend
		}
	}
	return c
}

// Breaker is a circuit breaker around one backend.
type Breaker struct {
	name string
	cfg  Config

	mu       sync.Mutex
	state    State
	counts   Counts
	deadline time.Time
}

// New builds a closed breaker named for its backend.
func New(name string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		name:     name,
		cfg:      cfg,
		state:    StateClosed,
		deadline: time.Now().Add(cfg.Window),
	}
}

// Name returns the backend label.
func (b *Breaker) Name() string { return b.name }

// Do runs fn under the breaker.
func (b *Breaker) Do(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

// DoCtx runs fn with ctx under the breaker.
func (b *Breaker) DoCtx(ctx context.Context, fn func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

// State reports the current position, advancing open to half-open when
// the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.advance(time.Now())
}

// Counts returns a snapshot of the current window's outcomes.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset force-closes the breaker and clears its counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts.clear()
	b.transition(StateClosed, time.Now())
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.advance(now) {
	case StateOpen:
		return derrors.NewError(derrors.ErrCodeCircuitOpen, "backend circuit is open").
			WithErrno(derrors.EAGAIN).
			WithRetryable(true).
			WithContext("breaker", b.name)
	case StateHalfOpen:
		if b.counts.Calls >= b.cfg.MaxProbes {
			return derrors.NewError(derrors.ErrCodeCircuitOpen, "all recovery probes are in flight").
				WithErrno(derrors.EAGAIN).
				WithRetryable(true).
				WithContext("breaker", b.name)
		}
	}
	b.counts.onCall()
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.advance(now)

	if b.cfg.IsSuccessful(err) {
		b.counts.onSuccess()
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.cfg.MaxProbes {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.onFailure()
	switch state {
	case StateClosed:
		if b.cfg.ReadyToTrip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// advance rolls time-driven transitions. Callers hold the lock.
func (b *Breaker) advance(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.deadline.IsZero() && b.deadline.Before(now) {
			b.counts.clear()
			b.deadline = now.Add(b.cfg.Window)
		}
	case StateOpen:
		if b.deadline.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.counts.clear()

	switch to {
	case StateClosed:
		b.deadline = now.Add(b.cfg.Window)
	case StateOpen:
		b.deadline = now.Add(b.cfg.Cooldown)
	case StateHalfOpen:
		b.deadline = time.Time{}
	}

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// IsOpenError reports whether err is a breaker rejection rather than a
// result from the wrapped call.
func IsOpenError(err error) bool {
	var dfsErr *derrors.DriveFSError
	if !errors.As(err, &dfsErr) {
		return false
	}
	return dfsErr.Code == derrors.ErrCodeCircuitOpen
}
