package mount

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"github.com/drivefs/drivefs/internal/bridge"
	derrors "github.com/drivefs/drivefs/pkg/errors"
	"github.com/drivefs/drivefs/pkg/types"
)

// State is the mount lifecycle position.
type State int

const (
	StateUnmounted State = iota
	StateMounting
	StateMounted
	StateUnmounting
)

func (s State) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateMounting:
		return "mounting"
	case StateMounted:
		return "mounted"
	case StateUnmounting:
		return "unmounting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures one mount.
type Options struct {
	// MountPath is where the filesystem appears. Created if missing.
	MountPath string `yaml:"mount_path" json:"mount_path"`

	// FSName and Subtype label the mount for mount tables.
	FSName  string `yaml:"fsname" json:"fsname"`
	Subtype string `yaml:"subtype" json:"subtype"`

	// VolumeName is the Finder display name on darwin.
	VolumeName string `yaml:"volume_name" json:"volume_name"`

	// AllowOther and AllowRoot relax the kernel's same-user access check.
	AllowOther bool `yaml:"allow_other" json:"allow_other"`
	AllowRoot  bool `yaml:"allow_root" json:"allow_root"`

	// ForceOwnership reports the mounting identity as owner of every
	// entry, not only the root.
	ForceOwnership bool `yaml:"force_ownership" json:"force_ownership"`

	// Debug turns on transport protocol tracing and per-op logs.
	Debug bool `yaml:"debug" json:"debug"`

	// Kernel cache windows for attributes and directory entries.
	AttrTimeout  time.Duration `yaml:"attr_timeout" json:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout" json:"entry_timeout"`

	// MaxWrite caps the write request size the kernel may send.
	MaxWrite int `yaml:"max_write" json:"max_write"`

	// LockPath overrides the exclusive lock file location. Empty means a
	// path derived from MountPath under the system temp directory.
	LockPath string `yaml:"lock_path" json:"lock_path"`
}

func (o Options) withDefaults() Options {
	if o.FSName == "" {
		o.FSName = "drivefs"
	}
	if o.Subtype == "" {
		o.Subtype = "drive"
	}
	if o.AttrTimeout == 0 {
		o.AttrTimeout = time.Second
	}
	if o.EntryTimeout == 0 {
		o.EntryTimeout = time.Second
	}
	if o.MaxWrite == 0 {
		o.MaxWrite = 128 * 1024
	}
	return o
}

// Result is what a successful mount hands back: where the filesystem
// landed, the live operation handlers, the drive's key in hex, and the
// drive itself for callers that outlive the mount.
type Result struct {
	MountPath string
	Handlers  *bridge.Session
	Key       string
	Drive     types.Drive
}

// Transport registers a session with the kernel. Implementations are chosen
// at build time.
type Transport interface {
	// Serve attaches the session at opts.MountPath and returns once the
	// kernel is talking to the filesystem.
	Serve(ctx context.Context, session *bridge.Session, opts Options) error
	// Unmount asks the kernel to detach.
	Unmount() error
	// Detach force-detaches when a regular Unmount is refused.
	Detach(mountPath string) error
	// Wait blocks until the kernel connection ends.
	Wait()
}

// Manager drives the mount state machine for one drive.
type Manager struct {
	mu        sync.Mutex
	state     State
	session   *bridge.Session
	transport Transport
	lock      *flock.Flock
	exited    chan struct{}

	drive   types.Drive
	opts    Options
	logger  *log.Entry
	metrics types.MetricsCollector

	// newTransport is swappable so tests can mount without a kernel.
	newTransport func(logger *log.Entry) Transport
}

// NewManager builds a manager for drive. logger and metrics may be nil.
func NewManager(drive types.Drive, opts Options, logger *log.Entry, metrics types.MetricsCollector) *Manager {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Manager{
		drive:        drive,
		opts:         opts.withDefaults(),
		logger:       logger.WithField("component", "mount"),
		metrics:      metrics,
		newTransport: newPlatformTransport,
	}
}

// State reports the current lifecycle position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the live bridge session, nil unless mounted.
func (m *Manager) Session() *bridge.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Drive returns the managed drive. It outlives every mount.
func (m *Manager) Drive() types.Drive {
	return m.drive
}

// processIdentity captures the mounting process uid and gid. Platforms
// without POSIX identity report -1, which clamps to 0.
func processIdentity() (uint32, uint32) {
	uid, gid := uint32(0), uint32(0)
	if id := os.Getuid(); id >= 0 {
		uid = uint32(id)
	}
	if id := os.Getgid(); id >= 0 {
		gid = uint32(id)
	}
	return uid, gid
}

func defaultLockPath(mountPath string) string {
	sum := sha256.Sum256([]byte(mountPath))
	return filepath.Join(os.TempDir(), fmt.Sprintf("drivefs-%s.lock", hex.EncodeToString(sum[:8])))
}

type mountPieces struct {
	session   *bridge.Session
	transport Transport
	lock      *flock.Flock
}

// Mount takes the drive through Mounting to Mounted. A mount that is
// already in progress or active fails immediately without waiting.
func (m *Manager) Mount(ctx context.Context) (*Result, error) {
	start := time.Now()

	m.mu.Lock()
	if m.state != StateUnmounted {
		current := m.state
		m.mu.Unlock()
		return nil, derrors.NewError(derrors.ErrCodeAlreadyMounted, "mount already in progress or active").
			WithPath(m.opts.MountPath).
			WithContext("state", current.String())
	}
	m.state = StateMounting
	m.mu.Unlock()

	result, pieces, err := m.doMount(ctx)

	m.mu.Lock()
	if err != nil {
		m.state = StateUnmounted
		m.mu.Unlock()
		m.record("mount", start, false)
		return nil, err
	}
	m.session = pieces.session
	m.transport = pieces.transport
	m.lock = pieces.lock
	m.exited = make(chan struct{})
	m.state = StateMounted
	exited := m.exited
	m.mu.Unlock()

	go m.watchExit(pieces.transport, exited)

	m.record("mount", start, true)
	m.logger.WithFields(log.Fields{
		"path": result.MountPath,
		"key":  result.Key,
	}).Info("filesystem mounted")
	return result, nil
}

func (m *Manager) doMount(ctx context.Context) (*Result, mountPieces, error) {
	var none mountPieces
	opts := m.opts

	if err := os.MkdirAll(opts.MountPath, 0o755); err != nil {
		return nil, none, derrors.NewError(derrors.ErrCodeMountFailed, "preparing mount point").
			WithPath(opts.MountPath).
			WithCause(err)
	}

	lockPath := opts.LockPath
	if lockPath == "" {
		lockPath = defaultLockPath(opts.MountPath)
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, none, derrors.NewError(derrors.ErrCodeMountFailed, "acquiring mount lock").
			WithPath(lockPath).
			WithCause(err)
	}
	if !locked {
		return nil, none, derrors.NewError(derrors.ErrCodeAlreadyMounted, "mount point locked by another process").
			WithErrno(derrors.EBUSY).
			WithPath(opts.MountPath)
	}

	// One readiness barrier per attempt, before the kernel ever sees the
	// filesystem. Per-operation calls never wait again.
	if err := m.drive.Ready(ctx); err != nil {
		releaseLock(lock, m.logger)
		return nil, none, derrors.NewError(derrors.ErrCodeNotReady, "waiting for drive readiness").
			WithPath(opts.MountPath).
			WithCause(err)
	}

	uid, gid := processIdentity()
	session := bridge.NewSession(m.drive, bridge.Config{
		MountPath:      opts.MountPath,
		UID:            uid,
		GID:            gid,
		ForceOwnership: opts.ForceOwnership,
		Debug:          opts.Debug,
	}, m.logger, m.metrics)

	transport := m.newTransport(m.logger)
	if err := transport.Serve(ctx, session, opts); err != nil {
		releaseLock(lock, m.logger)
		return nil, none, derrors.NewError(derrors.ErrCodeMountFailed, "registering filesystem with the kernel").
			WithPath(opts.MountPath).
			WithCause(err)
	}

	result := &Result{
		MountPath: opts.MountPath,
		Handlers:  session,
		Key:       hex.EncodeToString(m.drive.Key()),
		Drive:     m.drive,
	}
	return result, mountPieces{session: session, transport: transport, lock: lock}, nil
}

// Unmount takes a mounted filesystem back to Unmounted. When the kernel
// refuses, even after a force detach, the state stays Mounted because the
// filesystem is still live. The drive is never touched.
func (m *Manager) Unmount(ctx context.Context) error {
	start := time.Now()

	m.mu.Lock()
	if m.state != StateMounted {
		current := m.state
		m.mu.Unlock()
		return derrors.NewError(derrors.ErrCodeNotMounted, "filesystem is not mounted").
			WithPath(m.opts.MountPath).
			WithContext("state", current.String())
	}
	m.state = StateUnmounting
	transport := m.transport
	exited := m.exited
	m.mu.Unlock()

	if err := transport.Unmount(); err != nil {
		m.logger.WithError(err).Warn("unmount refused, attempting force detach")
		if derr := transport.Detach(m.opts.MountPath); derr != nil {
			m.mu.Lock()
			m.state = StateMounted
			m.mu.Unlock()
			m.record("unmount", start, false)
			return derrors.NewError(derrors.ErrCodeUnmountFailed, "kernel refused unmount").
				WithPath(m.opts.MountPath).
				WithCause(err)
		}
	}

	// Let the serving loop drain; a canceled context stops the wait but
	// the kernel detach has already happened.
	select {
	case <-exited:
	case <-ctx.Done():
	}

	m.mu.Lock()
	releaseLock(m.lock, m.logger)
	m.lock = nil
	m.transport = nil
	m.session = nil
	m.state = StateUnmounted
	m.mu.Unlock()

	m.record("unmount", start, true)
	m.logger.WithField("path", m.opts.MountPath).Info("filesystem unmounted")
	return nil
}

// Wait blocks until the kernel connection ends, however that happens.
func (m *Manager) Wait() {
	m.mu.Lock()
	exited := m.exited
	m.mu.Unlock()
	if exited != nil {
		<-exited
	}
}

// watchExit notices the kernel connection ending outside Unmount, such as
// an external umount(8), and folds the state machine back to Unmounted.
func (m *Manager) watchExit(t Transport, exited chan struct{}) {
	t.Wait()
	close(exited)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateMounted && m.transport == t {
		m.logger.WithField("path", m.opts.MountPath).Warn("filesystem detached outside Unmount")
		releaseLock(m.lock, m.logger)
		m.lock = nil
		m.transport = nil
		m.session = nil
		m.state = StateUnmounted
	}
}

func (m *Manager) record(op string, start time.Time, success bool) {
	if m.metrics != nil {
		m.metrics.RecordOperation(op, time.Since(start), 0, success)
	}
}

func releaseLock(lock *flock.Flock, logger *log.Entry) {
	if lock == nil {
		return
	}
	if err := lock.Unlock(); err != nil {
		logger.WithError(err).Warn("releasing mount lock")
	}
}
