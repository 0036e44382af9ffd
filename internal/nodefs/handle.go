package nodefs

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/drivefs/drivefs/internal/bridge"
)

// fileHandle carries one drive descriptor through the kernel. The session
// keeps no table of these; the descriptor is the drive's and travels
// opaquely.
type fileHandle struct {
	session *bridge.Session
	fd      uint64
}

var (
	_ fs.FileReader   = (*fileHandle)(nil)
	_ fs.FileWriter   = (*fileHandle)(nil)
	_ fs.FileFlusher  = (*fileHandle)(nil)
	_ fs.FileReleaser = (*fileHandle)(nil)
	_ fs.FileFsyncer  = (*fileHandle)(nil)
)

// Read fills dest from the descriptor.
func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n := h.session.Read(ctx, h.fd, dest, off)
	if n < 0 {
		return nil, toErrno(n)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

// Write stores data through the descriptor.
func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n := h.session.Write(ctx, h.fd, data, off)
	if n < 0 {
		return 0, toErrno(n)
	}
	return uint32(n), 0
}

// Flush acknowledges close(2); the descriptor stays live until Release.
func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	return 0
}

// Fsync acknowledges durability requests. Persistence scheduling belongs to
// the drive, which sees every write as it happens.
func (h *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return 0
}

// Release closes the drive descriptor on final close.
func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	return toErrno(h.session.Release(ctx, h.fd))
}
