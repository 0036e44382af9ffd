//go:build cgofuse
// +build cgofuse

package bridge

import (
	"context"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	derrors "github.com/drivefs/drivefs/pkg/errors"
	"github.com/drivefs/drivefs/pkg/types"
)

// dirFHUnset is the handle value reported for directories; the bridge does
// not track directory handles.
const dirFHUnset = ^uint64(0)

// HostFS adapts a Session to the cgofuse host interface. Each method decodes
// the platform request, dispatches to the session, and encodes the result
// with platform errnos. cgofuse delivers requests without a context, so
// every dispatch runs under context.Background; the bridge arms no deadline
// of its own.
type HostFS struct {
	fuse.FileSystemBase
	session *Session
	flags   *FlagTable
	ready   chan struct{}
}

// NewHostFS wraps session for mounting through cgofuse.
func NewHostFS(session *Session) *HostFS {
	return &HostFS{
		session: session,
		flags:   hostFlagTable(),
		ready:   make(chan struct{}),
	}
}

// Init runs once when the kernel connection comes up.
func (h *HostFS) Init() {
	close(h.ready)
}

// Ready is closed after Init, when the host has accepted the mount.
func (h *HostFS) Ready() <-chan struct{} {
	return h.ready
}

// hostFlagTable maps this platform's open flags onto the canonical layout.
// cgofuse exposes the host's native flag values, so the table is built from
// its constants rather than hard-coded numbers.
func hostFlagTable() *FlagTable {
	return &FlagTable{
		AccessMask: uint32(fuse.O_ACCMODE),
		ReadOnly:   uint32(fuse.O_RDONLY),
		WriteOnly:  uint32(fuse.O_WRONLY),
		ReadWrite:  uint32(fuse.O_RDWR),
		Bits: []FlagBit{
			{Platform: uint32(fuse.O_CREAT), Canonical: types.FlagCreate},
			{Platform: uint32(fuse.O_EXCL), Canonical: types.FlagExclusive},
			{Platform: uint32(fuse.O_TRUNC), Canonical: types.FlagTruncate},
			{Platform: uint32(fuse.O_APPEND), Canonical: types.FlagAppend},
		},
	}
}

// hostErrno converts a negated canonical errno to this platform's negated
// errno. cgofuse's E* constants carry the host values, so the bridge's
// Linux-layout results cannot pass through untranslated on darwin.
func hostErrno(errno int) int {
	if errno >= 0 {
		return errno
	}
	switch derrors.Errno(-errno) {
	case derrors.EPERM:
		return -fuse.EPERM
	case derrors.ENOENT:
		return -fuse.ENOENT
	case derrors.EINTR:
		return -fuse.EINTR
	case derrors.EIO:
		return -fuse.EIO
	case derrors.EBADF:
		return -fuse.EBADF
	case derrors.EAGAIN:
		return -fuse.EAGAIN
	case derrors.EACCES:
		return -fuse.EACCES
	case derrors.EBUSY:
		return -fuse.EBUSY
	case derrors.EEXIST:
		return -fuse.EEXIST
	case derrors.ENOTDIR:
		return -fuse.ENOTDIR
	case derrors.EISDIR:
		return -fuse.EISDIR
	case derrors.EINVAL:
		return -fuse.EINVAL
	case derrors.EFBIG:
		return -fuse.EFBIG
	case derrors.ENOSPC:
		return -fuse.ENOSPC
	case derrors.EROFS:
		return -fuse.EROFS
	case derrors.ENAMETOOLONG:
		return -fuse.ENAMETOOLONG
	case derrors.ENOSYS:
		return -fuse.ENOSYS
	case derrors.ENOTEMPTY:
		return -fuse.ENOTEMPTY
	case derrors.ELOOP:
		return -fuse.ELOOP
	case derrors.ENODATA:
		return -fuse.ENODATA
	default:
		return -fuse.EIO
	}
}

func fillStat(st *types.Stat, out *fuse.Stat_t) {
	out.Mode = st.Mode
	out.Nlink = st.Nlink
	out.Uid = st.UID
	out.Gid = st.GID
	out.Size = st.Size
	out.Blocks = st.Blocks
	out.Atim = fuse.NewTimespec(st.Atime)
	out.Mtim = fuse.NewTimespec(st.Mtime)
	out.Ctim = fuse.NewTimespec(st.Ctime)
}

// Getattr reports entry attributes.
func (h *HostFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	st, errno := h.session.Getattr(context.Background(), path)
	if errno != 0 {
		return hostErrno(errno)
	}
	fillStat(st, stat)
	return 0
}

// Opendir validates that path is a directory.
func (h *HostFS) Opendir(path string) (int, uint64) {
	return hostErrno(h.session.Opendir(context.Background(), path)), dirFHUnset
}

// Readdir streams directory entries in drive order.
func (h *HostFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	names, errno := h.session.Readdir(context.Background(), path)
	if errno != 0 {
		return hostErrno(errno)
	}
	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, name := range names {
		if !fill(name, nil, 0) {
			break
		}
	}
	return 0
}

// Releasedir releases a directory handle.
func (h *HostFS) Releasedir(path string, fh uint64) int {
	return hostErrno(h.session.Releasedir(context.Background(), path))
}

// Open opens a file and returns its drive descriptor as the FUSE handle.
func (h *HostFS) Open(path string, flags int) (int, uint64) {
	fd, errno := h.session.Open(context.Background(), path, h.flags.Translate(uint32(flags)))
	if errno != 0 {
		return hostErrno(errno), 0
	}
	return 0, fd
}

// Create makes a new file and opens it for writing.
func (h *HostFS) Create(path string, flags int, mode uint32) (int, uint64) {
	fd, errno := h.session.Create(context.Background(), path, mode)
	if errno != 0 {
		return hostErrno(errno), 0
	}
	return 0, fd
}

// Read fills buff from the file at ofst.
func (h *HostFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	return hostErrno(h.session.Read(context.Background(), fh, buff, ofst))
}

// Write stores buff at ofst.
func (h *HostFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	return hostErrno(h.session.Write(context.Background(), fh, buff, ofst))
}

// Truncate resizes a file by path, or through the descriptor when the
// kernel supplies one (fh is ^uint64(0) for plain truncate).
func (h *HostFS) Truncate(path string, size int64, fh uint64) int {
	if fh != ^uint64(0) {
		return hostErrno(h.session.Ftruncate(context.Background(), fh, size))
	}
	return hostErrno(h.session.Truncate(context.Background(), path, size))
}

// Release closes the drive descriptor behind fh.
func (h *HostFS) Release(path string, fh uint64) int {
	return hostErrno(h.session.Release(context.Background(), fh))
}

// Unlink removes a file or symlink.
func (h *HostFS) Unlink(path string) int {
	return hostErrno(h.session.Unlink(context.Background(), path))
}

// Mkdir creates a directory.
func (h *HostFS) Mkdir(path string, mode uint32) int {
	return hostErrno(h.session.Mkdir(context.Background(), path, mode))
}

// Rmdir removes an empty directory.
func (h *HostFS) Rmdir(path string) int {
	return hostErrno(h.session.Rmdir(context.Background(), path))
}

// Symlink records a symbolic link.
func (h *HostFS) Symlink(target string, newpath string) int {
	return hostErrno(h.session.Symlink(context.Background(), target, newpath))
}

// Readlink reads a symlink target.
func (h *HostFS) Readlink(path string) (int, string) {
	target, errno := h.session.Readlink(context.Background(), path)
	return hostErrno(errno), target
}

// Chmod updates permission bits.
func (h *HostFS) Chmod(path string, mode uint32) int {
	return hostErrno(h.session.Chmod(context.Background(), path, mode))
}

// Chown updates ownership. cgofuse reports unchanged fields as ^uint32(0),
// which the session already treats as absent.
func (h *HostFS) Chown(path string, uid uint32, gid uint32) int {
	return hostErrno(h.session.Chown(context.Background(), path, uid, gid))
}

// Utimens updates access and modification times. A nil slice means both
// stamps move to the current time.
func (h *HostFS) Utimens(path string, tmsp []fuse.Timespec) int {
	var atime, mtime time.Time
	if len(tmsp) < 2 {
		now := time.Now()
		atime, mtime = now, now
	} else {
		atime = tmsp[0].Time()
		mtime = tmsp[1].Time()
	}
	return hostErrno(h.session.Utimens(context.Background(), path, &atime, &mtime))
}

// Getxattr reads one extended attribute.
func (h *HostFS) Getxattr(path string, name string) (int, []byte) {
	value, errno := h.session.Getxattr(context.Background(), path, name)
	if errno != 0 {
		return hostErrno(errno), nil
	}
	return 0, value
}

// Setxattr stores one extended attribute. Position flags are not honored.
func (h *HostFS) Setxattr(path string, name string, value []byte, flags int) int {
	return hostErrno(h.session.Setxattr(context.Background(), path, name, value))
}

// Listxattr reports attribute names.
func (h *HostFS) Listxattr(path string, fill func(name string) bool) int {
	names, errno := h.session.Listxattr(context.Background(), path)
	if errno != 0 {
		return hostErrno(errno)
	}
	for _, name := range names {
		if !fill(name) {
			break
		}
	}
	return 0
}

// Removexattr deletes one extended attribute.
func (h *HostFS) Removexattr(path string, name string) int {
	return hostErrno(h.session.Removexattr(context.Background(), path, name))
}

// Statfs reports fixed filesystem statistics.
func (h *HostFS) Statfs(path string, stat *fuse.Statfs_t) int {
	vfs := h.session.Statfs(path)
	stat.Bsize = vfs.Bsize
	stat.Frsize = vfs.Frsize
	stat.Blocks = vfs.Blocks
	stat.Bfree = vfs.Bfree
	stat.Bavail = vfs.Bavail
	stat.Files = vfs.Files
	stat.Ffree = vfs.Ffree
	stat.Favail = vfs.Favail
	stat.Fsid = vfs.Fsid
	stat.Flag = vfs.Flag
	stat.Namemax = vfs.Namemax
	return 0
}
