package buffer

import (
	"context"
	"sync"
	"time"

	derrors "github.com/drivefs/drivefs/pkg/errors"
)

// Flusher persists one staged object. It runs outside the staging lock and
// receives a private copy of the content. The copy is pooled and reused
// after the call returns, so the flusher must not retain it.
type Flusher func(ctx context.Context, key string, data []byte) error

// Config tunes write staging.
type Config struct {
	// MaxObject caps a single staged object. Writes past it fail.
	MaxObject int64 `yaml:"max_object" json:"max_object"`
	// MaxTotal caps all staged bytes together.
	MaxTotal int64 `yaml:"max_total" json:"max_total"`
	// FlushInterval is the background sweep period.
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	// IdleAfter is how long a dirty object may sit unwritten before the
	// sweep pushes it out.
	IdleAfter time.Duration `yaml:"idle_after" json:"idle_after"`
}

func (c Config) withDefaults() Config {
	if c.MaxObject == 0 {
		c.MaxObject = 512 * 1024 * 1024
	}
	if c.MaxTotal == 0 {
		c.MaxTotal = 1024 * 1024 * 1024
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 30 * time.Second
	}
	if c.IdleAfter == 0 {
		c.IdleAfter = 5 * time.Second
	}
	return c
}

// Stats counts staging activity.
type Stats struct {
	Writes        uint64        `json:"writes"`
	Flushes       uint64        `json:"flushes"`
	FlushErrors   uint64        `json:"flush_errors"`
	BytesWritten  int64         `json:"bytes_written"`
	StagedObjects int           `json:"staged_objects"`
	StagedBytes   int64         `json:"staged_bytes"`
	AvgFlushTime  time.Duration `json:"avg_flush_time"`
	LastFlush     time.Time     `json:"last_flush"`
}

// staged holds one object's full content while it is being modified.
// gen increments on every mutation; a flush only marks the object clean
// when no write landed while the flusher was running.
type staged struct {
	key       string
	data      []byte
	dirty     bool
	flushing  bool
	gen       uint64
	lastWrite time.Time
}

// Staging collects whole-object writes so a drive can turn many small
// kernel writes into one upload. Objects are staged complete because the
// backing store replaces objects rather than patching ranges; reads must
// consult the staged copy first so uncommitted writes stay visible.
type Staging struct {
	mu      sync.Mutex
	cfg     Config
	objects map[string]*staged
	total   int64
	flush   Flusher
	stats   Stats

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}
}

// NewStaging builds a staging area flushing through fn. The background
// sweep starts immediately; Close flushes what is left and stops it.
func NewStaging(cfg Config, fn Flusher) *Staging {
	s := &Staging{
		cfg:     cfg.withDefaults(),
		objects: make(map[string]*staged),
		flush:   fn,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Seed installs fetched content as the staged copy of key, clean. It is
// the read-modify-write entry point: stage the current object, then write
// into it. Seeding over an existing staged object is a no-op so a slow
// fetch cannot clobber newer writes.
func (s *Staging) Seed(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objects[key]; exists {
		return
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	s.objects[key] = &staged{key: key, data: owned, lastWrite: time.Now()}
	s.total += int64(len(owned))
}

// Staged reports whether key has a staged copy.
func (s *Staging) Staged(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// WriteAt writes data into the staged object at off, growing it with a
// zero-filled gap when off is past the end.
func (s *Staging) WriteAt(key string, data []byte, off int64) (int, error) {
	if off < 0 {
		return 0, derrors.ErrInvalid("negative write offset").WithPath(key)
	}
	end := off + int64(len(data))

	s.mu.Lock()
	defer s.mu.Unlock()

	if end > s.cfg.MaxObject {
		return 0, derrors.NewError(derrors.ErrCodeResourceLimit, "staged object would exceed the size cap").
			WithPath(key).
			WithErrno(derrors.EFBIG).
			WithContext("cap", s.cfg.MaxObject)
	}

	obj := s.objects[key]
	if obj == nil {
		obj = &staged{key: key}
		s.objects[key] = obj
	}

	grow := end - int64(len(obj.data))
	if grow > 0 {
		if s.total+grow > s.cfg.MaxTotal {
			return 0, derrors.NewError(derrors.ErrCodeResourceLimit, "staging area is full").
				WithPath(key).
				WithErrno(derrors.ENOSPC).
				WithContext("staged_bytes", s.total)
		}
		obj.data = append(obj.data, make([]byte, grow)...)
		s.total += grow
	}
	copy(obj.data[off:end], data)

	obj.dirty = true
	obj.gen++
	obj.lastWrite = time.Now()
	s.stats.Writes++
	s.stats.BytesWritten += int64(len(data))
	return len(data), nil
}

// ReadAt copies staged content at off into buf. The second result is
// false when key has no staged copy.
func (s *Staging) ReadAt(key string, buf []byte, off int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj := s.objects[key]
	if obj == nil {
		return 0, false
	}
	if off < 0 || off >= int64(len(obj.data)) {
		return 0, true
	}
	return copy(buf, obj.data[off:]), true
}

// Len returns the staged object's size, false when not staged.
func (s *Staging) Len(key string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj := s.objects[key]
	if obj == nil {
		return 0, false
	}
	return int64(len(obj.data)), true
}

// Truncate resizes the staged object, zero-filling growth.
func (s *Staging) Truncate(key string, size int64) error {
	if size < 0 {
		return derrors.ErrInvalid("negative truncate size").WithPath(key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if size > s.cfg.MaxObject {
		return derrors.NewError(derrors.ErrCodeResourceLimit, "staged object would exceed the size cap").
			WithPath(key).
			WithErrno(derrors.EFBIG)
	}

	obj := s.objects[key]
	if obj == nil {
		obj = &staged{key: key}
		s.objects[key] = obj
	}

	delta := size - int64(len(obj.data))
	if delta > 0 {
		if s.total+delta > s.cfg.MaxTotal {
			return derrors.NewError(derrors.ErrCodeResourceLimit, "staging area is full").
				WithPath(key).
				WithErrno(derrors.ENOSPC)
		}
		obj.data = append(obj.data, make([]byte, delta)...)
	} else {
		obj.data = obj.data[:size]
	}
	s.total += delta

	obj.dirty = true
	obj.gen++
	obj.lastWrite = time.Now()
	return nil
}

// Dirty reports whether key has unflushed writes.
func (s *Staging) Dirty(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj := s.objects[key]
	return obj != nil && obj.dirty
}

// Flush pushes key's staged content through the flusher. The staged copy
// stays resident and clean, so follow-up reads skip the backing store. A
// write racing the flusher leaves the object dirty for the next round.
func (s *Staging) Flush(ctx context.Context, key string) error {
	s.mu.Lock()
	obj := s.objects[key]
	if obj == nil || !obj.dirty || obj.flushing {
		s.mu.Unlock()
		return nil
	}
	obj.flushing = true
	gen := obj.gen
	data := Get(len(obj.data))
	copy(data, obj.data)
	s.mu.Unlock()

	start := time.Now()
	err := s.flush(ctx, key, data)
	took := time.Since(start)
	Put(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	obj.flushing = false
	if err != nil {
		s.stats.FlushErrors++
		return err
	}
	if obj.gen == gen {
		obj.dirty = false
	}
	s.stats.Flushes++
	s.stats.LastFlush = time.Now()
	if s.stats.Flushes == 1 {
		s.stats.AvgFlushTime = took
	} else {
		s.stats.AvgFlushTime = time.Duration((int64(s.stats.AvgFlushTime)*9 + int64(took)) / 10)
	}
	return nil
}

// FlushAll flushes every dirty object, returning the first error.
func (s *Staging) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.objects))
	for key, obj := range s.objects {
		if obj.dirty {
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()

	var firstErr error
	for _, key := range keys {
		if err := s.Flush(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Drop discards key's staged copy without flushing. For removed objects.
func (s *Staging) Drop(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if obj, ok := s.objects[key]; ok {
		s.total -= int64(len(obj.data))
		delete(s.objects, key)
	}
}

// Evict releases a clean staged copy to free memory. Dirty objects stay.
func (s *Staging) Evict(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok || obj.dirty || obj.flushing {
		return false
	}
	s.total -= int64(len(obj.data))
	delete(s.objects, key)
	return true
}

// GetStats returns a snapshot of the staging counters.
func (s *Staging) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.StagedObjects = len(s.objects)
	stats.StagedBytes = s.total
	return stats
}

// Close flushes everything dirty and stops the background sweep.
func (s *Staging) Close(ctx context.Context) error {
	err := s.FlushAll(ctx)
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.stopped
	return err
}

func (s *Staging) sweep() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.flushIdle()
		}
	}
}

func (s *Staging) flushIdle() {
	now := time.Now()

	s.mu.Lock()
	var idle []string
	for key, obj := range s.objects {
		if obj.dirty && !obj.flushing && now.Sub(obj.lastWrite) > s.cfg.IdleAfter {
			idle = append(idle, key)
		}
	}
	s.mu.Unlock()

	for _, key := range idle {
		// Sweep errors are retried next round; the object stays dirty.
		_ = s.Flush(context.Background(), key)
	}
}
