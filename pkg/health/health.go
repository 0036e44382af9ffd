// Package health tracks per-component health for a mounted drive and
// decides how far service degrades before the mount should stop
// accepting traffic (read-only fallback, then unavailable).
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	derrors "github.com/drivefs/drivefs/pkg/errors"
)

// State is a component health level. Higher values are worse; the
// overall state of a mount is its worst component.
type State int

const (
	// StateHealthy indicates the component is fully operational.
	StateHealthy State = iota

	// StateDegraded indicates the component works but errors are
	// accumulating.
	StateDegraded

	// StateReadOnly indicates writes are failing while reads still work.
	StateReadOnly

	// StateUnavailable indicates the component is not operational.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ComponentHealth is the tracked record for one component.
type ComponentHealth struct {
	Name              string                 `json:"name"`
	State             State                  `json:"state"`
	LastStateChange   time.Time              `json:"last_state_change"`
	LastChecked       time.Time              `json:"last_checked"`
	ConsecutiveErrors int                    `json:"consecutive_errors"`
	LastError         error                  `json:"-"`
	LastErrorMessage  string                 `json:"last_error_message,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Config tunes the degradation thresholds.
type Config struct {
	// ErrorThreshold is the consecutive-error count that degrades a
	// component.
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the consecutive-error count that marks a
	// component unavailable.
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	// CheckInterval is the probe cadence for StartChecks.
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		CheckInterval:        30 * time.Second,
	}
}

// Listener observes health events. Callbacks run on the goroutine that
// recorded the event, after the tracker lock is released.
type Listener interface {
	OnStateChange(component string, from, to State, err error)
	OnCheck(component string, healthy bool, err error)
}

// Tracker tracks the health of registered components and derives the
// overall mount state from them.
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     Config
	listeners  []Listener
}

// NewTracker creates a health tracker. Zero thresholds fall back to the
// defaults.
func NewTracker(config Config) *Tracker {
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = 3
	}
	if config.UnavailableThreshold <= 0 {
		config.UnavailableThreshold = 10
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
	}
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
	}
}

// RegisterComponent starts tracking a component. Registering an
// existing name is a no-op.
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		now := time.Now()
		t.components[name] = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastChecked:     now,
			Metadata:        make(map[string]interface{}),
		}
	}
}

// RecordSuccess records a successful operation. Each success pays down
// one consecutive error; the component recovers when the debt is gone.
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	c, ok := t.components[component]
	if !ok {
		t.mu.Unlock()
		return
	}

	from := c.State
	c.LastChecked = time.Now()
	if c.ConsecutiveErrors > 0 {
		c.ConsecutiveErrors--
		if c.ConsecutiveErrors == 0 && c.State != StateHealthy {
			t.transition(c, StateHealthy)
		}
	}
	to := c.State
	listeners := t.snapshotListeners()
	t.mu.Unlock()

	for _, l := range listeners {
		l.OnCheck(component, true, nil)
	}
	if from != to {
		for _, l := range listeners {
			l.OnStateChange(component, from, to, nil)
		}
	}
}

// RecordError records a failed operation and re-evaluates the
// component's state against the thresholds.
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	c, ok := t.components[component]
	if !ok {
		t.mu.Unlock()
		return
	}

	from := c.State
	c.LastChecked = time.Now()
	c.ConsecutiveErrors++
	c.LastError = err
	if err != nil {
		c.LastErrorMessage = err.Error()
	}

	next := c.State
	switch {
	case c.ConsecutiveErrors >= t.config.UnavailableThreshold:
		next = StateUnavailable
	case c.ConsecutiveErrors >= t.config.ErrorThreshold:
		if isWriteError(err) {
			next = StateReadOnly
		} else {
			next = StateDegraded
		}
	}
	if next != from {
		t.transition(c, next)
	}
	to := c.State
	listeners := t.snapshotListeners()
	t.mu.Unlock()

	for _, l := range listeners {
		l.OnCheck(component, false, err)
	}
	if from != to {
		for _, l := range listeners {
			l.OnStateChange(component, from, to, err)
		}
	}
}

// GetState returns the current state of a component. Unknown components
// report unavailable.
func (t *Tracker) GetState(component string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if c, exists := t.components[component]; exists {
		return c.State
	}
	return StateUnavailable
}

// GetComponentHealth returns a snapshot of one component's record.
func (t *Tracker) GetComponentHealth(component string) (*ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, exists := t.components[component]
	if !exists {
		return nil, fmt.Errorf("component %s not registered", component)
	}
	return c.clone(), nil
}

// GetAllComponents returns snapshots of every tracked component.
func (t *Tracker) GetAllComponents() map[string]*ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]*ComponentHealth, len(t.components))
	for name, c := range t.components {
		result[name] = c.clone()
	}
	return result
}

// GetOverallHealth returns the worst state across all components. An
// empty tracker is healthy.
func (t *Tracker) GetOverallHealth() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, c := range t.components {
		if c.State > overall {
			overall = c.State
		}
	}
	return overall
}

// IsHealthy reports whether the component is fully operational.
func (t *Tracker) IsHealthy(component string) bool {
	return t.GetState(component) == StateHealthy
}

// CanRead reports whether read operations should be attempted.
func (t *Tracker) CanRead(component string) bool {
	return t.GetState(component) != StateUnavailable
}

// CanWrite reports whether write operations should be attempted.
func (t *Tracker) CanWrite(component string) bool {
	state := t.GetState(component)
	return state == StateHealthy || state == StateDegraded
}

// AddListener registers a health event listener.
func (t *Tracker) AddListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.listeners = append(t.listeners, l)
}

// SetComponentMetadata attaches a key/value to a component's record.
func (t *Tracker) SetComponentMetadata(component, key string, value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, exists := t.components[component]; exists {
		c.Metadata[key] = value
	}
}

// StartChecks probes every registered component on the configured
// interval until ctx is canceled. Probe results feed RecordSuccess and
// RecordError, so a backend that stops answering degrades on its own.
func (t *Tracker) StartChecks(ctx context.Context, check func(ctx context.Context, component string) error) {
	ticker := time.NewTicker(t.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range t.componentNames() {
				if err := check(ctx, name); err != nil {
					t.RecordError(name, err)
				} else {
					t.RecordSuccess(name)
				}
			}
		}
	}
}

func (t *Tracker) componentNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.components))
	for name := range t.components {
		names = append(names, name)
	}
	return names
}

// transition must be called with t.mu held.
func (t *Tracker) transition(c *ComponentHealth, to State) {
	c.State = to
	c.LastStateChange = time.Now()

	if to == StateHealthy {
		c.ConsecutiveErrors = 0
		c.LastError = nil
		c.LastErrorMessage = ""
	}
}

// snapshotListeners must be called with t.mu held.
func (t *Tracker) snapshotListeners() []Listener {
	if len(t.listeners) == 0 {
		return nil
	}
	out := make([]Listener, len(t.listeners))
	copy(out, t.listeners)
	return out
}

func (c *ComponentHealth) clone() *ComponentHealth {
	out := *c
	if c.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// isWriteError reports whether err only blocks writes, leaving the read
// path usable. Backend permission and quota failures qualify: GETs keep
// working when a bucket policy or quota rejects PUTs.
func isWriteError(err error) bool {
	var dfsErr *derrors.DriveFSError
	if !errors.As(err, &dfsErr) {
		return false
	}
	switch dfsErr.Code {
	case derrors.ErrCodeNotPermitted, derrors.ErrCodeResourceLimit:
		return true
	}
	return false
}
