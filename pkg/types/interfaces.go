package types

import (
	"context"
	"time"
)

// Drive defines the virtual filesystem backend consumed by the bridge.
//
// A drive owns its file-descriptor table: Open and Create issue descriptors,
// Close retires them, and any read/write against a retired descriptor is an
// error. Directory iteration order is the drive's own; the bridge imposes no
// sorting. Symlink targets are stored raw and surfaced through Lstat's
// LinkTarget field.
type Drive interface {
	// Ready blocks until the drive can serve operations. It is invoked
	// exactly once per mount attempt, before the kernel transport is
	// registered, never per operation.
	Ready(ctx context.Context) error

	// Key returns the drive's content-identifying key. The bridge renders
	// it hex-encoded in the mount result.
	Key() []byte

	// Path operations
	Stat(ctx context.Context, path string) (*Stat, error)
	Lstat(ctx context.Context, path string) (*Stat, error)
	Readdir(ctx context.Context, path string) ([]string, error)

	// Create makes a new regular file owned by uid/gid. It does not open
	// the file; callers that need a descriptor follow up with Open.
	Create(ctx context.Context, path string, mode, uid, gid uint32) error
	Unlink(ctx context.Context, path string) error
	Mkdir(ctx context.Context, path string, mode uint32) error
	Rmdir(ctx context.Context, path string) error
	Symlink(ctx context.Context, target, linkpath string) error
	Truncate(ctx context.Context, path string, size int64) error

	// Descriptor operations
	Open(ctx context.Context, path string, flags OpenFlags) (uint64, error)
	Close(ctx context.Context, fd uint64) error
	Read(ctx context.Context, fd uint64, buf []byte, off int64) (int, error)
	Write(ctx context.Context, fd uint64, data []byte, off int64) (int, error)
	Ftruncate(ctx context.Context, fd uint64, size int64) error

	// Metadata operations (extended attribute storage)
	SetMetadata(ctx context.Context, path, name string, value []byte) error
	RemoveMetadata(ctx context.Context, path, name string) error

	// Update applies a partial attribute patch (uid/gid/mode/times).
	// Attributes the patch leaves nil keep their current values.
	Update(ctx context.Context, path string, patch *AttrPatch) error
}

// MetricsCollector defines the metrics collection interface
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordCacheHit(key string, size int64)
	RecordCacheMiss(key string, size int64)
	RecordError(operation string, err error)
	GetMetrics() map[string]interface{}
}
