package bridge

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/drivefs/drivefs/pkg/types"
	"github.com/drivefs/drivefs/pkg/utils"
)

// Config carries the per-mount settings a Session needs. UID and GID are the
// identity of the mounting process, captured by the caller at mount time and
// never re-read afterwards.
type Config struct {
	// MountPath is the OS path the drive is mounted at. Readlink uses it
	// to rebase absolute symlink targets.
	MountPath string `yaml:"mount_path" json:"mount_path"`

	// UID and GID identify the mounting process.
	UID uint32 `yaml:"uid" json:"uid"`
	GID uint32 `yaml:"gid" json:"gid"`

	// ForceOwnership reports the session identity as the owner of every
	// entry, not just the mount root. Useful when the drive carries
	// ownership from another machine.
	ForceOwnership bool `yaml:"force_ownership" json:"force_ownership"`

	// Debug enables per-operation trace logging.
	Debug bool `yaml:"debug" json:"debug"`
}

// Session dispatches kernel filesystem requests against one mounted drive.
// Methods map one-to-one onto FUSE operations, take canonical inputs, and
// return negated canonical errnos (0 on success). Sessions are safe for
// concurrent use; they keep no per-request state and no handle table.
type Session struct {
	drive   types.Drive
	cfg     Config
	logger  *log.Entry
	metrics types.MetricsCollector
}

// NewSession builds a Session over drive. logger and metrics may be nil.
func NewSession(drive types.Drive, cfg Config, logger *log.Entry, metrics types.MetricsCollector) *Session {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Session{
		drive:   drive,
		cfg:     cfg,
		logger:  logger.WithField("component", "bridge"),
		metrics: metrics,
	}
}

// Drive returns the backing drive.
func (s *Session) Drive() types.Drive {
	return s.drive
}

// MountPath returns the configured mount path.
func (s *Session) MountPath() string {
	return s.cfg.MountPath
}

func (s *Session) record(op string, start time.Time, errno int, size int64) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, time.Since(start), size, errno == 0)
	}
	if s.cfg.Debug {
		s.logger.WithFields(log.Fields{
			"op":    op,
			"errno": errno,
			"took":  time.Since(start),
		}).Trace("operation complete")
	}
}

// Getattr stats path without following a final symlink. The mount root
// always reports the session identity as owner, as does every other path
// when ForceOwnership is set.
func (s *Session) Getattr(ctx context.Context, path string) (*types.Stat, int) {
	start := time.Now()
	p := utils.CleanDrivePath(path)

	st, err := s.drive.Lstat(ctx, p)
	if err != nil {
		errno := mapError(err, famLookup)
		s.record("getattr", start, errno, 0)
		return nil, errno
	}
	if s.cfg.ForceOwnership || utils.IsDriveRoot(p) {
		st.UID = s.cfg.UID
		st.GID = s.cfg.GID
	}
	s.record("getattr", start, 0, 0)
	return st, 0
}

// Chmod replaces the permission bits of path. File type bits are preserved
// by the patch application, and no other attribute is touched.
func (s *Session) Chmod(ctx context.Context, path string, mode uint32) (errno int) {
	start := time.Now()
	defer func() { s.record("chmod", start, errno, 0) }()

	patch := &types.AttrPatch{Mode: &mode}
	return mapError(s.drive.Update(ctx, utils.CleanDrivePath(path), patch), famAttr)
}

// Chown updates the owner of path. A uid or gid of ^uint32(0) means that
// field is not being changed and stays out of the patch.
func (s *Session) Chown(ctx context.Context, path string, uid, gid uint32) (errno int) {
	start := time.Now()
	defer func() { s.record("chown", start, errno, 0) }()

	patch := &types.AttrPatch{}
	if uid != ^uint32(0) {
		patch.UID = &uid
	}
	if gid != ^uint32(0) {
		patch.GID = &gid
	}
	if patch.IsZero() {
		return 0
	}
	return mapError(s.drive.Update(ctx, utils.CleanDrivePath(path), patch), famAttr)
}

// Utimens updates access and modification times. Nil times are left alone.
func (s *Session) Utimens(ctx context.Context, path string, atime, mtime *time.Time) (errno int) {
	start := time.Now()
	defer func() { s.record("utimens", start, errno, 0) }()

	patch := &types.AttrPatch{Atime: atime, Mtime: mtime}
	if patch.IsZero() {
		return 0
	}
	return mapError(s.drive.Update(ctx, utils.CleanDrivePath(path), patch), famAttr)
}
