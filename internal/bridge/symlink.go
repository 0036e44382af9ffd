package bridge

import (
	"context"
	"path"
	"path/filepath"
	"time"

	derrors "github.com/drivefs/drivefs/pkg/errors"
	"github.com/drivefs/drivefs/pkg/utils"
)

// ResolveLinkTarget rewrites a symlink target for presentation through the
// mount point. Absolute targets name drive paths, so they are rebased under
// the mount path to keep resolution inside the mounted tree. Relative
// targets already resolve against their containing directory and pass
// through unchanged.
func ResolveLinkTarget(mountPath, target string) string {
	if !path.IsAbs(target) {
		return target
	}
	return filepath.Join(mountPath, target)
}

// Symlink records a symbolic link at linkpath pointing to target. The
// target is stored verbatim; it is not required to name an existing entry.
func (s *Session) Symlink(ctx context.Context, target, linkpath string) (errno int) {
	start := time.Now()
	defer func() { s.record("symlink", start, errno, 0) }()

	return mapError(s.drive.Symlink(ctx, target, utils.CleanDrivePath(linkpath)), famLookup)
}

// Readlink reads the target of the symlink at path. Absolute targets are
// rebased under the mount point so they resolve inside the mounted tree.
func (s *Session) Readlink(ctx context.Context, path string) (string, int) {
	start := time.Now()

	st, err := s.drive.Lstat(ctx, utils.CleanDrivePath(path))
	if err != nil {
		errno := mapError(err, famLookup)
		s.record("readlink", start, errno, 0)
		return "", errno
	}
	if !st.IsSymlink() {
		errno := -int(derrors.EINVAL)
		s.record("readlink", start, errno, 0)
		return "", errno
	}
	s.record("readlink", start, 0, 0)
	return ResolveLinkTarget(s.cfg.MountPath, st.LinkTarget), 0
}
