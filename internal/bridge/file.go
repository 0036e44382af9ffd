package bridge

import (
	"context"
	"time"

	"github.com/drivefs/drivefs/pkg/types"
	"github.com/drivefs/drivefs/pkg/utils"
)

// Open opens path with canonical flags and returns the drive descriptor.
// The descriptor passes through the kernel as the FUSE handle and is never
// interpreted by the bridge.
func (s *Session) Open(ctx context.Context, path string, flags types.OpenFlags) (uint64, int) {
	start := time.Now()

	fd, err := s.drive.Open(ctx, utils.CleanDrivePath(path), flags)
	if err != nil {
		errno := mapError(err, famLookup)
		s.record("open", start, errno, 0)
		return 0, errno
	}
	s.record("open", start, 0, 0)
	return fd, 0
}

// Create makes a new regular file owned by the session identity and opens it
// for writing. When creation fails the open is never attempted.
func (s *Session) Create(ctx context.Context, path string, mode uint32) (uint64, int) {
	start := time.Now()
	p := utils.CleanDrivePath(path)

	if err := s.drive.Create(ctx, p, mode, s.cfg.UID, s.cfg.GID); err != nil {
		errno := mapError(err, famLookup)
		s.record("create", start, errno, 0)
		return 0, errno
	}
	fd, err := s.drive.Open(ctx, p, types.FlagWriteOnly)
	if err != nil {
		errno := mapError(err, famLookup)
		s.record("create", start, errno, 0)
		return 0, errno
	}
	s.record("create", start, 0, 0)
	return fd, 0
}

// Read fills buf from the descriptor at off and returns the byte count, 0 at
// end of file, or a negated errno.
func (s *Session) Read(ctx context.Context, fd uint64, buf []byte, off int64) int {
	start := time.Now()

	n, err := s.drive.Read(ctx, fd, buf, off)
	if err != nil {
		errno := mapError(err, famHandle)
		s.record("read", start, errno, 0)
		return errno
	}
	s.record("read", start, 0, int64(n))
	return n
}

// Write stores data at off through the descriptor. The payload buffer
// belongs to the transport and is reused the moment this method returns, so
// it is copied before the drive sees it; drives may keep the copy as long
// as they like.
func (s *Session) Write(ctx context.Context, fd uint64, data []byte, off int64) int {
	start := time.Now()

	owned := make([]byte, len(data))
	copy(owned, data)

	n, err := s.drive.Write(ctx, fd, owned, off)
	if err != nil {
		errno := mapError(err, famHandle)
		s.record("write", start, errno, 0)
		return errno
	}
	s.record("write", start, 0, int64(n))
	return n
}

// Truncate resizes the file at path.
func (s *Session) Truncate(ctx context.Context, path string, size int64) (errno int) {
	start := time.Now()
	defer func() { s.record("truncate", start, errno, 0) }()

	return mapError(s.drive.Truncate(ctx, utils.CleanDrivePath(path), size), famLookup)
}

// Ftruncate resizes the file behind an open descriptor.
func (s *Session) Ftruncate(ctx context.Context, fd uint64, size int64) (errno int) {
	start := time.Now()
	defer func() { s.record("ftruncate", start, errno, 0) }()

	return mapError(s.drive.Ftruncate(ctx, fd, size), famHandle)
}

// Release closes the drive descriptor. The close always reaches the drive;
// descriptors are never abandoned on the bridge side.
func (s *Session) Release(ctx context.Context, fd uint64) (errno int) {
	start := time.Now()
	defer func() { s.record("release", start, errno, 0) }()

	return mapError(s.drive.Close(ctx, fd), famHandle)
}

// Unlink removes the file or symlink at path.
func (s *Session) Unlink(ctx context.Context, path string) (errno int) {
	start := time.Now()
	defer func() { s.record("unlink", start, errno, 0) }()

	return mapError(s.drive.Unlink(ctx, utils.CleanDrivePath(path)), famLookup)
}
