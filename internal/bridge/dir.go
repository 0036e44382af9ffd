package bridge

import (
	"context"
	"time"

	derrors "github.com/drivefs/drivefs/pkg/errors"
	"github.com/drivefs/drivefs/pkg/utils"
)

// Readdir lists the entries of the directory at path in the order the drive
// reports them. The bridge never sorts; listing order is a drive property.
// The "." and ".." entries are the transport's concern.
func (s *Session) Readdir(ctx context.Context, path string) ([]string, int) {
	start := time.Now()

	names, err := s.drive.Readdir(ctx, utils.CleanDrivePath(path))
	if err != nil {
		errno := mapError(err, famLookup)
		s.record("readdir", start, errno, 0)
		return nil, errno
	}
	s.record("readdir", start, 0, int64(len(names)))
	return names, 0
}

// Opendir checks that path names a directory. Directory handles are not
// tracked, so there is nothing to allocate.
func (s *Session) Opendir(ctx context.Context, path string) (errno int) {
	start := time.Now()
	defer func() { s.record("opendir", start, errno, 0) }()

	st, err := s.drive.Stat(ctx, utils.CleanDrivePath(path))
	if err != nil {
		return mapError(err, famLookup)
	}
	if !st.IsDir() {
		return -int(derrors.ENOTDIR)
	}
	return 0
}

// Releasedir acknowledges a directory handle release. Nothing was allocated
// at opendir, so there is nothing to free.
func (s *Session) Releasedir(ctx context.Context, path string) int {
	return 0
}

// Mkdir creates a directory at path.
func (s *Session) Mkdir(ctx context.Context, path string, mode uint32) (errno int) {
	start := time.Now()
	defer func() { s.record("mkdir", start, errno, 0) }()

	return mapError(s.drive.Mkdir(ctx, utils.CleanDrivePath(path), mode), famLookup)
}

// Rmdir removes the directory at path. Drives reject non-empty directories
// with ENOTEMPTY.
func (s *Session) Rmdir(ctx context.Context, path string) (errno int) {
	start := time.Now()
	defer func() { s.record("rmdir", start, errno, 0) }()

	return mapError(s.drive.Rmdir(ctx, utils.CleanDrivePath(path)), famLookup)
}
