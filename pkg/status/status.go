// Package status tracks long-running drive operations (mounts, flushes,
// transfers) and exposes them to the monitoring API.
package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	derrors "github.com/drivefs/drivefs/pkg/errors"
	"github.com/drivefs/drivefs/pkg/health"
)

var opIDCounter uint64

// OperationStatus represents the lifecycle stage of a tracked operation.
type OperationStatus int

const (
	// StatusPending indicates the operation is queued but not started.
	StatusPending OperationStatus = iota

	// StatusInProgress indicates the operation is executing.
	StatusInProgress

	// StatusCompleted indicates the operation finished successfully.
	StatusCompleted

	// StatusFailed indicates the operation failed.
	StatusFailed

	// StatusCanceled indicates the operation was canceled.
	StatusCanceled
)

func (s OperationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Operation is one tracked unit of work. The tracker holds the live
// record; everything it hands out is a detached Copy.
type Operation struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Status    OperationStatus        `json:"status"`
	Progress  *Progress              `json:"progress,omitempty"`
	StartTime time.Time              `json:"start_time"`
	EndTime   *time.Time             `json:"end_time,omitempty"`
	Error     *derrors.DriveFSError  `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	mu          sync.RWMutex
	cancel      context.CancelFunc
	subscribers []chan Update
}

// Progress is the advancing position of an operation. Rate and ETA are
// derived from the spacing of Update calls.
type Progress struct {
	Current    int64          `json:"current"`
	Total      int64          `json:"total"`
	Unit       string         `json:"unit"`
	Percentage float64        `json:"percentage"`
	Rate       float64        `json:"rate,omitempty"`
	ETA        *time.Duration `json:"eta,omitempty"`
	Phase      string         `json:"phase,omitempty"`
	Message    string         `json:"message,omitempty"`

	mu          sync.RWMutex
	lastUpdate  time.Time
	lastCurrent int64
}

// Update is delivered to subscribers when an operation changes.
type Update struct {
	Operation *Operation `json:"operation"`
	Timestamp time.Time  `json:"timestamp"`
	Message   string     `json:"message,omitempty"`
}

// Tracker owns the set of active operations and a bounded history of
// finished ones.
type Tracker struct {
	mu         sync.RWMutex
	operations map[string]*Operation
	history    []*Operation
	maxHistory int
	health     *health.Tracker
}

// Config configures operation tracking.
type Config struct {
	// MaxHistorySize bounds the finished-operation history.
	MaxHistorySize int `json:"max_history_size"`

	// HealthTracker, when set, contributes component health to
	// GetSystemStatus.
	HealthTracker *health.Tracker `json:"-"`
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{MaxHistorySize: 1000}
}

// NewTracker creates an operation tracker.
func NewTracker(config Config) *Tracker {
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = 1000
	}
	return &Tracker{
		operations: make(map[string]*Operation),
		history:    make([]*Operation, 0, config.MaxHistorySize),
		maxHistory: config.MaxHistorySize,
		health:     config.HealthTracker,
	}
}

// StartOperation registers a new in-progress operation. The returned
// context is canceled when the operation finishes, so work driven by it
// stops when the operation is canceled through the tracker.
func (t *Tracker) StartOperation(ctx context.Context, opType string, metadata map[string]interface{}) (*Operation, context.Context) {
	opCtx, cancel := context.WithCancel(ctx)

	op := &Operation{
		ID:        newOperationID(),
		Type:      opType,
		Status:    StatusInProgress,
		StartTime: time.Now(),
		Metadata:  metadata,
		cancel:    cancel,
	}

	t.mu.Lock()
	t.operations[op.ID] = op
	t.mu.Unlock()

	return op, opCtx
}

// UpdateProgress advances an operation's progress counters.
func (t *Tracker) UpdateProgress(opID string, current, total int64, unit string) error {
	op, err := t.lookup(opID)
	if err != nil {
		return err
	}

	op.mu.Lock()
	if op.Progress == nil {
		op.Progress = &Progress{Unit: unit}
	}
	op.Progress.Update(current, total)
	op.mu.Unlock()

	notify(op, op.subscriberList(), "progress updated")
	return nil
}

// SetPhase labels the current phase of an operation.
func (t *Tracker) SetPhase(opID, phase string) error {
	op, err := t.lookup(opID)
	if err != nil {
		return err
	}

	op.mu.Lock()
	if op.Progress == nil {
		op.Progress = &Progress{}
	}
	op.Progress.Phase = phase
	op.mu.Unlock()

	notify(op, op.subscriberList(), "phase changed: "+phase)
	return nil
}

// SetMessage sets the current status message of an operation.
func (t *Tracker) SetMessage(opID, message string) error {
	op, err := t.lookup(opID)
	if err != nil {
		return err
	}

	op.mu.Lock()
	if op.Progress == nil {
		op.Progress = &Progress{}
	}
	op.Progress.Message = message
	op.mu.Unlock()

	notify(op, op.subscriberList(), message)
	return nil
}

// CompleteOperation marks an operation as finished and moves it to
// history.
func (t *Tracker) CompleteOperation(opID string) error {
	return t.finish(opID, StatusCompleted, nil, "operation completed")
}

// FailOperation marks an operation as failed and moves it to history.
// A cause that is not already a drive error is wrapped as an internal
// one so the record always carries a structured error.
func (t *Tracker) FailOperation(opID string, cause error) error {
	message := "operation failed"
	if cause != nil {
		message += ": " + cause.Error()
	}
	return t.finish(opID, StatusFailed, cause, message)
}

// CancelOperation cancels an operation's context and moves it to
// history.
func (t *Tracker) CancelOperation(opID string) error {
	return t.finish(opID, StatusCanceled, nil, "operation canceled")
}

func (t *Tracker) finish(opID string, final OperationStatus, cause error, message string) error {
	t.mu.Lock()
	op, ok := t.operations[opID]
	if !ok {
		t.mu.Unlock()
		return errOperationNotFound(opID)
	}

	op.mu.Lock()
	op.Status = final
	now := time.Now()
	op.EndTime = &now
	if cause != nil {
		var dfsErr *derrors.DriveFSError
		if errors.As(cause, &dfsErr) {
			op.Error = dfsErr
		} else {
			op.Error = derrors.NewError(derrors.ErrCodeInternalError, cause.Error()).WithCause(cause)
		}
	}
	if op.cancel != nil {
		op.cancel()
	}
	subscribers := make([]chan Update, len(op.subscribers))
	copy(subscribers, op.subscribers)
	op.subscribers = nil
	op.mu.Unlock()

	t.history = append([]*Operation{op.Copy()}, t.history...)
	if len(t.history) > t.maxHistory {
		t.history = t.history[:t.maxHistory]
	}
	delete(t.operations, opID)
	t.mu.Unlock()

	notify(op, subscribers, message)
	return nil
}

// GetOperation returns a snapshot of an active operation.
func (t *Tracker) GetOperation(opID string) (*Operation, error) {
	op, err := t.lookup(opID)
	if err != nil {
		return nil, err
	}
	return op.Copy(), nil
}

// GetAllOperations returns snapshots of all active operations.
func (t *Tracker) GetAllOperations() []*Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ops := make([]*Operation, 0, len(t.operations))
	for _, op := range t.operations {
		ops = append(ops, op.Copy())
	}
	return ops
}

// GetHistory returns finished operations, newest first. A non-positive
// limit returns the full history.
func (t *Tracker) GetHistory(limit int) []*Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}
	result := make([]*Operation, limit)
	copy(result, t.history[:limit])
	return result
}

// Subscribe returns a channel of updates for an active operation. The
// channel is buffered; a subscriber that falls behind loses updates
// rather than stalling the operation path.
func (t *Tracker) Subscribe(opID string) (<-chan Update, error) {
	op, err := t.lookup(opID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Update, 10)
	op.mu.Lock()
	op.subscribers = append(op.subscribers, ch)
	op.mu.Unlock()
	return ch, nil
}

// SystemStatus is the /status document: active operation counts plus
// the health tracker's view when one is attached.
type SystemStatus struct {
	Timestamp        time.Time                          `json:"timestamp"`
	ActiveOps        int                                `json:"active_operations"`
	OperationsByType map[string]int                     `json:"operations_by_type"`
	HealthState      health.State                       `json:"health_state"`
	ComponentHealth  map[string]*health.ComponentHealth `json:"component_health,omitempty"`
}

// GetSystemStatus summarizes active operations and component health.
func (t *Tracker) GetSystemStatus() *SystemStatus {
	t.mu.RLock()
	st := &SystemStatus{
		Timestamp:        time.Now(),
		ActiveOps:        len(t.operations),
		OperationsByType: make(map[string]int),
	}
	for _, op := range t.operations {
		st.OperationsByType[op.Type]++
	}
	t.mu.RUnlock()

	if t.health != nil {
		st.HealthState = t.health.GetOverallHealth()
		st.ComponentHealth = t.health.GetAllComponents()
	}
	return st
}

func (t *Tracker) lookup(opID string) (*Operation, error) {
	t.mu.RLock()
	op, ok := t.operations[opID]
	t.mu.RUnlock()
	if !ok {
		return nil, errOperationNotFound(opID)
	}
	return op, nil
}

func errOperationNotFound(opID string) error {
	return derrors.NewError(derrors.ErrCodeNotFound, "operation not found").
		WithContext("operation_id", opID)
}

// notify delivers an update without blocking. Full subscriber channels
// drop the update.
func notify(op *Operation, subscribers []chan Update, message string) {
	if len(subscribers) == 0 {
		return
	}
	update := Update{
		Operation: op.Copy(),
		Timestamp: time.Now(),
		Message:   message,
	}
	for _, ch := range subscribers {
		select {
		case ch <- update:
		default:
		}
	}
}

func (o *Operation) subscriberList() []chan Update {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if len(o.subscribers) == 0 {
		return nil
	}
	subs := make([]chan Update, len(o.subscribers))
	copy(subs, o.subscribers)
	return subs
}

// Copy returns a detached snapshot safe to hand outside the tracker.
func (o *Operation) Copy() *Operation {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := &Operation{
		ID:        o.ID,
		Type:      o.Type,
		Status:    o.Status,
		StartTime: o.StartTime,
		Error:     o.Error,
	}
	if o.EndTime != nil {
		end := *o.EndTime
		out.EndTime = &end
	}
	if o.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(o.Metadata))
		for k, v := range o.Metadata {
			out.Metadata[k] = v
		}
	}
	if o.Progress != nil {
		out.Progress = o.Progress.Copy()
	}
	return out
}

// Update advances the counters and recomputes percentage, rate, and
// ETA. Rate needs two calls to establish a baseline.
func (p *Progress) Update(current, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.Current = current
	p.Total = total

	if total > 0 {
		p.Percentage = float64(current) / float64(total) * 100
	}

	if !p.lastUpdate.IsZero() && current > p.lastCurrent {
		elapsed := now.Sub(p.lastUpdate).Seconds()
		if elapsed > 0 {
			p.Rate = float64(current-p.lastCurrent) / elapsed
		}
		if p.Rate > 0 && total > current {
			eta := time.Duration(float64(total-current) / p.Rate * float64(time.Second))
			p.ETA = &eta
		}
	}

	p.lastUpdate = now
	p.lastCurrent = current
}

// Copy returns a detached snapshot of the progress record.
func (p *Progress) Copy() *Progress {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := &Progress{
		Current:     p.Current,
		Total:       p.Total,
		Unit:        p.Unit,
		Percentage:  p.Percentage,
		Rate:        p.Rate,
		Phase:       p.Phase,
		Message:     p.Message,
		lastUpdate:  p.lastUpdate,
		lastCurrent: p.lastCurrent,
	}
	if p.ETA != nil {
		eta := *p.ETA
		out.ETA = &eta
	}
	return out
}

func newOperationID() string {
	// Timestamp plus process-wide counter keeps IDs unique and roughly
	// sortable.
	counter := atomic.AddUint64(&opIDCounter, 1)
	return fmt.Sprintf("%d-%d", time.Now().Unix(), counter)
}
