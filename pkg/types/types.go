package types

import (
	"strings"
	"time"
)

// File type bits in the canonical Stat.Mode layout. These mirror the POSIX
// S_IF* values so drives can compose them with permission bits directly.
const (
	ModeTypeMask uint32 = 0o170000
	ModeRegular  uint32 = 0o100000
	ModeDir      uint32 = 0o040000
	ModeSymlink  uint32 = 0o120000
)

// Stat is the normalized file metadata record returned by Drive.Stat and
// Drive.Lstat. The bridge converts it into whatever attribute shape the
// active FUSE transport expects.
type Stat struct {
	Size   int64     `json:"size"`
	Blocks int64     `json:"blocks"`
	Mode   uint32    `json:"mode"`
	UID    uint32    `json:"uid"`
	GID    uint32    `json:"gid"`
	Nlink  uint32    `json:"nlink"`
	Atime  time.Time `json:"atime"`
	Mtime  time.Time `json:"mtime"`
	Ctime  time.Time `json:"ctime"`

	// LinkTarget holds the raw stored target for symlinks, exactly as it
	// was passed to Symlink. Empty for non-links.
	LinkTarget string `json:"link_target,omitempty"`

	// Metadata is the per-path extended attribute map. A nil map is a
	// valid state and means the path has no attributes.
	Metadata map[string][]byte `json:"-"`
}

// IsDir reports whether the record describes a directory.
func (s *Stat) IsDir() bool {
	return s.Mode&ModeTypeMask == ModeDir
}

// IsSymlink reports whether the record describes a symbolic link.
func (s *Stat) IsSymlink() bool {
	return s.Mode&ModeTypeMask == ModeSymlink
}

// IsRegular reports whether the record describes a regular file.
func (s *Stat) IsRegular() bool {
	return s.Mode&ModeTypeMask == ModeRegular
}

// Perm returns the permission bits of the mode.
func (s *Stat) Perm() uint32 {
	return s.Mode &^ ModeTypeMask
}

// AttrPatch is a partial attribute update applied through Drive.Update.
// Nil fields are left unchanged; a drive must never clobber an attribute
// the patch does not name.
type AttrPatch struct {
	UID   *uint32
	GID   *uint32
	Mode  *uint32
	Atime *time.Time
	Mtime *time.Time
}

// IsZero reports whether the patch names no attributes at all.
func (p *AttrPatch) IsZero() bool {
	return p == nil || (p.UID == nil && p.GID == nil && p.Mode == nil && p.Atime == nil && p.Mtime == nil)
}

// ApplyTo merges the patch into st, touching only the named attributes.
// Mode updates preserve the file type bits already present in st.
func (p *AttrPatch) ApplyTo(st *Stat) {
	if p == nil || st == nil {
		return
	}
	if p.UID != nil {
		st.UID = *p.UID
	}
	if p.GID != nil {
		st.GID = *p.GID
	}
	if p.Mode != nil {
		st.Mode = st.Mode&ModeTypeMask | *p.Mode&^ModeTypeMask
	}
	if p.Atime != nil {
		st.Atime = *p.Atime
	}
	if p.Mtime != nil {
		st.Mtime = *p.Mtime
	}
}

// OpenFlags is the canonical open-flag bit layout handed to Drive.Open.
// The bit values follow the Linux encoding; on other platforms the bridge
// translates incoming flags bit-by-bit by semantic meaning before they
// reach a drive, dropping bits with no canonical equivalent.
type OpenFlags uint32

const (
	FlagReadOnly  OpenFlags = 0o0
	FlagWriteOnly OpenFlags = 0o1
	FlagReadWrite OpenFlags = 0o2
	FlagCreate    OpenFlags = 0o100
	FlagExclusive OpenFlags = 0o200
	FlagTruncate  OpenFlags = 0o1000
	FlagAppend    OpenFlags = 0o2000

	// AccessModeMask extracts the read/write access mode bits.
	AccessModeMask OpenFlags = 0o3
)

// AccessMode returns the access-mode portion of the flags.
func (f OpenFlags) AccessMode() OpenFlags {
	return f & AccessModeMask
}

// Has reports whether every bit in mask is set.
func (f OpenFlags) Has(mask OpenFlags) bool {
	return f&mask == mask
}

// Writable reports whether the flags request write access.
func (f OpenFlags) Writable() bool {
	m := f.AccessMode()
	return m == FlagWriteOnly || m == FlagReadWrite
}

// Readable reports whether the flags request read access.
func (f OpenFlags) Readable() bool {
	m := f.AccessMode()
	return m == FlagReadOnly || m == FlagReadWrite
}

// String renders the flags for logs, e.g. "O_RDWR|O_CREAT|O_TRUNC".
func (f OpenFlags) String() string {
	var parts []string
	switch f.AccessMode() {
	case FlagReadOnly:
		parts = append(parts, "O_RDONLY")
	case FlagWriteOnly:
		parts = append(parts, "O_WRONLY")
	case FlagReadWrite:
		parts = append(parts, "O_RDWR")
	}
	if f.Has(FlagCreate) {
		parts = append(parts, "O_CREAT")
	}
	if f.Has(FlagExclusive) {
		parts = append(parts, "O_EXCL")
	}
	if f.Has(FlagTruncate) {
		parts = append(parts, "O_TRUNC")
	}
	if f.Has(FlagAppend) {
		parts = append(parts, "O_APPEND")
	}
	return strings.Join(parts, "|")
}

// ObjectInfo represents metadata about a stored object in an object-store
// backed drive.
type ObjectInfo struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	ETag         string            `json:"etag"`
	ContentType  string            `json:"content_type"`
	Metadata     map[string]string `json:"metadata"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// ConnectionStats represents connection pool statistics
type ConnectionStats struct {
	Active      int           `json:"active"`
	Idle        int           `json:"idle"`
	Total       int           `json:"total"`
	MaxOpen     int           `json:"max_open"`
	Lifetime    time.Duration `json:"lifetime"`
	IdleTimeout time.Duration `json:"idle_timeout"`
}

// DriveStats reports aggregate drive activity for status endpoints.
type DriveStats struct {
	BytesRead      int64         `json:"bytes_read"`
	BytesWritten   int64         `json:"bytes_written"`
	OpenHandles    int           `json:"open_handles"`
	Operations     uint64        `json:"operations"`
	Errors         uint64        `json:"errors"`
	LastError      string        `json:"last_error,omitempty"`
	LastErrorTime  time.Time     `json:"last_error_time,omitempty"`
	AverageLatency time.Duration `json:"average_latency"`
}
