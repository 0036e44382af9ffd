package mem

import (
	"context"
	"time"

	derrors "github.com/drivefs/drivefs/pkg/errors"
	"github.com/drivefs/drivefs/pkg/types"
)

// Open resolves p and issues a descriptor. O_CREAT makes a missing file,
// O_EXCL turns an existing one into EEXIST, and O_TRUNC empties the file
// when the access mode allows writing. Descriptors start at 1 and are never
// reused within a drive's lifetime.
func (d *Drive) Open(ctx context.Context, p string, flags types.OpenFlags) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.resolve(p, true)
	if err != nil {
		if derrors.ErrnoOf(err) != derrors.ENOENT || !flags.Has(types.FlagCreate) {
			return 0, err
		}
		parent, name, perr := d.resolveParent(p)
		if perr != nil {
			return 0, perr
		}
		if parent.children[name] != nil {
			// The earlier miss was a broken symlink along the way.
			return 0, err
		}
		now := time.Now()
		n = newFileNode(0o644, 0, 0, now)
		parent.addChild(name, n)
		parent.mtime = now
		parent.ctime = now
	} else {
		if flags.Has(types.FlagCreate) && flags.Has(types.FlagExclusive) {
			return 0, derrors.ErrExists(p)
		}
		if n.isDir() {
			return 0, derrors.ErrIsDirectory(p)
		}
	}
	if flags.Has(types.FlagTruncate) && flags.Writable() {
		n.resize(0, d.chunkSize)
		now := time.Now()
		n.mtime = now
		n.ctime = now
	}

	fd := d.nextFD
	d.nextFD++
	d.handles[fd] = &handle{node: n, flags: flags}
	return fd, nil
}

// Close retires a descriptor. Closing an unknown descriptor is an error.
func (d *Drive) Close(ctx context.Context, fd uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.handles[fd]; !ok {
		return derrors.ErrBadHandle(fd)
	}
	delete(d.handles, fd)
	return nil
}

// Read fills buf from the descriptor at off. Reading a write-only
// descriptor is an error; reading past end of file returns 0.
func (d *Drive) Read(ctx context.Context, fd uint64, buf []byte, off int64) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h, ok := d.handles[fd]
	if !ok {
		return 0, derrors.ErrBadHandle(fd)
	}
	if !h.flags.Readable() {
		return 0, derrors.ErrBadHandle(fd)
	}
	return h.node.readAt(buf, off, d.chunkSize), nil
}

// Write stores data through the descriptor. With O_APPEND the offset is
// ignored and the write lands at end of file.
func (d *Drive) Write(ctx context.Context, fd uint64, data []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.handles[fd]
	if !ok {
		return 0, derrors.ErrBadHandle(fd)
	}
	if !h.flags.Writable() {
		return 0, derrors.ErrBadHandle(fd)
	}
	if h.flags.Has(types.FlagAppend) {
		off = h.node.size
	}
	n := h.node.writeAt(data, off, d.chunkSize)
	now := time.Now()
	h.node.mtime = now
	h.node.ctime = now
	return n, nil
}

// Ftruncate resizes the file behind an open descriptor. The descriptor must
// be writable.
func (d *Drive) Ftruncate(ctx context.Context, fd uint64, size int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.handles[fd]
	if !ok {
		return derrors.ErrBadHandle(fd)
	}
	if !h.flags.Writable() {
		return derrors.NewError(derrors.ErrCodeHandleReadOnly, "descriptor is not open for writing").
			WithErrno(derrors.EINVAL)
	}
	h.node.resize(size, d.chunkSize)
	now := time.Now()
	h.node.mtime = now
	h.node.ctime = now
	return nil
}

// OpenHandles reports the number of live descriptors.
func (d *Drive) OpenHandles() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handles)
}
