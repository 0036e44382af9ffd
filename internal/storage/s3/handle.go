package s3

import (
	"context"

	derrors "github.com/drivefs/drivefs/pkg/errors"
	"github.com/drivefs/drivefs/pkg/types"
	"github.com/drivefs/drivefs/pkg/utils"
)

// Open resolves p and issues a descriptor. O_CREAT makes a missing file,
// O_EXCL turns an existing one into EEXIST, and O_TRUNC empties the file
// when the access mode allows writing. Descriptors start at 1 and are never
// reused within a drive's lifetime.
func (d *Drive) Open(ctx context.Context, p string, flags types.OpenFlags) (uint64, error) {
	rp, st, err := d.resolve(ctx, p, true)
	if err != nil {
		if derrors.ErrnoOf(err) != derrors.ENOENT || !flags.Has(types.FlagCreate) {
			return 0, err
		}
		if _, _, lerr := d.resolve(ctx, p, false); lerr == nil {
			// The earlier miss was a broken symlink target.
			return 0, err
		}
		rp = utils.CleanDrivePath(p)
		if cerr := d.createObject(ctx, rp, 0o644, 0, 0); cerr != nil {
			return 0, cerr
		}
		st = &types.Stat{Mode: types.ModeRegular | 0o644, Nlink: 1}
	} else {
		if flags.Has(types.FlagCreate) && flags.Has(types.FlagExclusive) {
			return 0, derrors.ErrExists(p)
		}
		if st.IsDir() {
			return 0, derrors.ErrIsDirectory(p)
		}
	}

	key := d.keyFor(rp)
	size := st.Size
	if staged, ok := d.staging.Len(key); ok {
		size = staged
	}

	if flags.Has(types.FlagTruncate) && flags.Writable() && size > 0 {
		// The old content is being discarded, so seed empty instead of
		// fetching it.
		d.staging.Seed(key, nil)
		if err := d.staging.Truncate(key, 0); err != nil {
			return 0, err
		}
		d.cache.Invalidate(key)
		d.mu.Lock()
		if _, ok := d.stagedAttrs[key]; !ok {
			d.stagedAttrs[key] = cloneStat(st)
		}
		d.mu.Unlock()
		d.touchStaged(key, 0)
		size = 0
	}

	d.mu.Lock()
	fd := d.nextFD
	d.nextFD++
	d.handles[fd] = &handle{path: rp, key: key, flags: flags, size: size}
	d.openCount[key]++
	d.mu.Unlock()
	return fd, nil
}

// Close retires a descriptor, flushing staged writes to the bucket first.
// A failed flush keeps the staged copy so a retry can still persist it.
func (d *Drive) Close(ctx context.Context, fd uint64) error {
	d.mu.Lock()
	h, ok := d.handles[fd]
	if !ok {
		d.mu.Unlock()
		return derrors.ErrBadHandle(fd)
	}
	delete(d.handles, fd)
	d.openCount[h.key]--
	last := d.openCount[h.key] <= 0
	if last {
		delete(d.openCount, h.key)
	}
	d.mu.Unlock()

	var flushErr error
	if d.staging.Dirty(h.key) {
		flushErr = d.staging.Flush(ctx, h.key)
	}
	if last && flushErr == nil {
		if d.staging.Evict(h.key) {
			d.mu.Lock()
			delete(d.stagedAttrs, h.key)
			d.mu.Unlock()
		}
	}
	return flushErr
}

// Read fills buf from the descriptor at off. A staged copy is served from
// memory; otherwise blocks come from the cache, with misses fetched by
// ranged GET. Reading past end of file returns 0.
func (d *Drive) Read(ctx context.Context, fd uint64, buf []byte, off int64) (int, error) {
	d.mu.RLock()
	h, ok := d.handles[fd]
	d.mu.RUnlock()
	if !ok {
		return 0, derrors.ErrBadHandle(fd)
	}
	if !h.flags.Readable() {
		return 0, derrors.ErrBadHandle(fd)
	}
	if off < 0 {
		return 0, derrors.ErrInvalid("negative read offset").WithPath(h.path)
	}

	if n, ok := d.staging.ReadAt(h.key, buf, off); ok {
		return n, nil
	}
	return d.readThrough(ctx, h.key, h.size, buf, off)
}

// readThrough serves a read from the block cache, fetching missing blocks
// from the backend. size is the object length observed at open.
func (d *Drive) readThrough(ctx context.Context, key string, size int64, buf []byte, off int64) (int, error) {
	if off >= size {
		return 0, nil
	}
	want := int64(len(buf))
	if remaining := size - off; want > remaining {
		want = remaining
	}

	blockSize := d.cfg.BlockSize
	var done int64
	for done < want {
		pos := off + done
		idx := pos / blockSize
		blockOff := pos % blockSize

		data := d.cache.Get(key, idx)
		if data != nil {
			d.recordCacheHit(key, int64(len(data)))
		} else {
			blockStart := idx * blockSize
			blockLen := blockSize
			if rest := size - blockStart; blockLen > rest {
				blockLen = rest
			}
			fetched, err := d.backend.GetObject(ctx, key, blockStart, blockLen)
			if err != nil {
				return int(done), err
			}
			d.recordCacheMiss(key, int64(len(fetched)))
			d.cache.Put(key, idx, fetched)
			data = fetched
		}

		if blockOff >= int64(len(data)) {
			break
		}
		n := copy(buf[done:want], data[blockOff:])
		done += int64(n)
		if int64(len(data)) < blockSize && done < want {
			// Short block: the object ended sooner than size promised.
			break
		}
	}
	return int(done), nil
}

// Write stores data through the descriptor. The first write stages the full
// object locally; written blocks are dropped from the read cache. With
// O_APPEND the offset is ignored and the write lands at end of file.
func (d *Drive) Write(ctx context.Context, fd uint64, data []byte, off int64) (int, error) {
	d.mu.RLock()
	h, ok := d.handles[fd]
	d.mu.RUnlock()
	if !ok {
		return 0, derrors.ErrBadHandle(fd)
	}
	if !h.flags.Writable() {
		return 0, derrors.ErrBadHandle(fd)
	}
	if off < 0 {
		return 0, derrors.ErrInvalid("negative write offset").WithPath(h.path)
	}

	if err := d.stageForWrite(ctx, h.key); err != nil {
		return 0, err
	}
	if h.flags.Has(types.FlagAppend) {
		if size, ok := d.staging.Len(h.key); ok {
			off = size
		}
	}

	n, err := d.staging.WriteAt(h.key, data, off)
	if err != nil {
		return 0, err
	}
	d.cache.InvalidateFrom(h.key, off/d.cfg.BlockSize)

	end := off + int64(n)
	d.mu.Lock()
	if end > h.size {
		h.size = end
	}
	d.mu.Unlock()
	if size, ok := d.staging.Len(h.key); ok {
		d.touchStaged(h.key, size)
	}
	return n, nil
}

// Ftruncate resizes the file behind an open descriptor. The descriptor must
// be writable. The new size persists when the descriptor is closed.
func (d *Drive) Ftruncate(ctx context.Context, fd uint64, size int64) error {
	d.mu.RLock()
	h, ok := d.handles[fd]
	d.mu.RUnlock()
	if !ok {
		return derrors.ErrBadHandle(fd)
	}
	if !h.flags.Writable() {
		return derrors.NewError(derrors.ErrCodeHandleReadOnly, "descriptor is not open for writing").
			WithErrno(derrors.EINVAL)
	}
	if size < 0 {
		return derrors.ErrInvalid("negative truncate size").WithPath(h.path)
	}

	if err := d.stageForWrite(ctx, h.key); err != nil {
		return err
	}
	if err := d.staging.Truncate(h.key, size); err != nil {
		return err
	}
	d.cache.InvalidateFrom(h.key, size/d.cfg.BlockSize)
	d.mu.Lock()
	h.size = size
	d.mu.Unlock()
	d.touchStaged(h.key, size)
	return nil
}

// OpenHandles reports the number of live descriptors.
func (d *Drive) OpenHandles() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handles)
}
