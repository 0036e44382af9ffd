package nodefs

import (
	"context"
	"path"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/drivefs/drivefs/internal/bridge"
	"github.com/drivefs/drivefs/pkg/types"
)

// safeInt64ToUint64 converts int64 to uint64, clamping negatives to zero.
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// baseNode carries the state every node kind shares and implements the
// operations that apply to any entry: attributes, attribute updates,
// extended attributes, and statfs.
type baseNode struct {
	fs.Inode
	session *bridge.Session
	path    string
}

// dirNode is a directory entry.
type dirNode struct {
	baseNode
}

// fileNode is a regular file entry.
type fileNode struct {
	baseNode
}

// linkNode is a symlink entry.
type linkNode struct {
	baseNode
}

var (
	_ fs.NodeGetattrer     = (*baseNode)(nil)
	_ fs.NodeSetattrer     = (*baseNode)(nil)
	_ fs.NodeStatfser      = (*baseNode)(nil)
	_ fs.NodeGetxattrer    = (*baseNode)(nil)
	_ fs.NodeSetxattrer    = (*baseNode)(nil)
	_ fs.NodeListxattrer   = (*baseNode)(nil)
	_ fs.NodeRemovexattrer = (*baseNode)(nil)

	_ fs.NodeLookuper  = (*dirNode)(nil)
	_ fs.NodeReaddirer = (*dirNode)(nil)
	_ fs.NodeOpendirer = (*dirNode)(nil)
	_ fs.NodeMkdirer   = (*dirNode)(nil)
	_ fs.NodeCreater   = (*dirNode)(nil)
	_ fs.NodeUnlinker  = (*dirNode)(nil)
	_ fs.NodeRmdirer   = (*dirNode)(nil)
	_ fs.NodeSymlinker = (*dirNode)(nil)

	_ fs.NodeOpener     = (*fileNode)(nil)
	_ fs.NodeReadlinker = (*linkNode)(nil)
)

// Root builds the mount root node for session.
func Root(session *bridge.Session) fs.InodeEmbedder {
	return &dirNode{baseNode{session: session, path: "/"}}
}

func fillAttr(st *types.Stat, out *fuse.Attr) {
	out.Mode = st.Mode
	out.Nlink = st.Nlink
	out.Size = safeInt64ToUint64(st.Size)
	out.Blocks = safeInt64ToUint64(st.Blocks)
	out.Owner.Uid = st.UID
	out.Owner.Gid = st.GID
	out.Atime = safeInt64ToUint64(st.Atime.Unix())
	out.Atimensec = uint32(st.Atime.Nanosecond())
	out.Mtime = safeInt64ToUint64(st.Mtime.Unix())
	out.Mtimensec = uint32(st.Mtime.Nanosecond())
	out.Ctime = safeInt64ToUint64(st.Ctime.Unix())
	out.Ctimensec = uint32(st.Ctime.Nanosecond())
}

// Getattr reports the entry's attributes.
func (n *baseNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st, errno := n.session.Getattr(ctx, n.path)
	if errno != 0 {
		return toErrno(errno)
	}
	fillAttr(st, &out.Attr)
	return 0
}

// Setattr decomposes a kernel attribute update into the session's single
// purpose operations: truncate for size, chmod for mode, chown for
// ownership, utimens for times. Unset fields never reach the drive.
func (n *baseNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		var errno int
		if h, isHandle := f.(*fileHandle); isHandle {
			errno = n.session.Ftruncate(ctx, h.fd, int64(size))
		} else {
			errno = n.session.Truncate(ctx, n.path, int64(size))
		}
		if errno != 0 {
			return toErrno(errno)
		}
	}

	if mode, ok := in.GetMode(); ok {
		if errno := n.session.Chmod(ctx, n.path, mode); errno != 0 {
			return toErrno(errno)
		}
	}

	uid, haveUID := in.GetUID()
	gid, haveGID := in.GetGID()
	if haveUID || haveGID {
		if !haveUID {
			uid = ^uint32(0)
		}
		if !haveGID {
			gid = ^uint32(0)
		}
		if errno := n.session.Chown(ctx, n.path, uid, gid); errno != 0 {
			return toErrno(errno)
		}
	}

	atime, haveAtime := in.GetATime()
	mtime, haveMtime := in.GetMTime()
	if haveAtime || haveMtime {
		var ap, mp *time.Time
		if haveAtime {
			ap = &atime
		}
		if haveMtime {
			mp = &mtime
		}
		if errno := n.session.Utimens(ctx, n.path, ap, mp); errno != 0 {
			return toErrno(errno)
		}
	}

	return n.Getattr(ctx, f, out)
}

// Statfs reports the session's fixed filesystem statistics, clipped to the
// fields this transport can carry.
func (n *baseNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	vfs := n.session.Statfs(n.path)
	out.Blocks = vfs.Blocks
	out.Bfree = vfs.Bfree
	out.Bavail = vfs.Bavail
	out.Files = vfs.Files
	out.Ffree = vfs.Ffree
	out.Bsize = uint32(vfs.Bsize)
	out.Frsize = uint32(vfs.Frsize)
	out.NameLen = uint32(vfs.Namemax)
	return 0
}

// Getxattr copies one attribute value into dest, reporting ERANGE with the
// needed size when dest is too small.
func (n *baseNode) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	value, errno := n.session.Getxattr(ctx, n.path, attr)
	if errno != 0 {
		return 0, toErrno(errno)
	}
	if len(dest) < len(value) {
		return uint32(len(value)), syscall.ERANGE
	}
	copy(dest, value)
	return uint32(len(value)), 0
}

// Setxattr stores one attribute value.
func (n *baseNode) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return toErrno(n.session.Setxattr(ctx, n.path, attr, data))
}

// Listxattr writes the NUL-joined attribute names into dest.
func (n *baseNode) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	names, errno := n.session.Listxattr(ctx, n.path)
	if errno != 0 {
		return 0, toErrno(errno)
	}
	var need int
	for _, name := range names {
		need += len(name) + 1
	}
	if len(dest) < need {
		return uint32(need), syscall.ERANGE
	}
	off := 0
	for _, name := range names {
		off += copy(dest[off:], name)
		dest[off] = 0
		off++
	}
	return uint32(need), 0
}

// Removexattr deletes one attribute.
func (n *baseNode) Removexattr(ctx context.Context, attr string) syscall.Errno {
	return toErrno(n.session.Removexattr(ctx, n.path, attr))
}

// child wraps a stat record into the right node kind for its type.
func (n *dirNode) child(ctx context.Context, childPath string, st *types.Stat) *fs.Inode {
	base := baseNode{session: n.session, path: childPath}
	switch {
	case st.IsDir():
		return n.NewInode(ctx, &dirNode{base}, fs.StableAttr{Mode: fuse.S_IFDIR})
	case st.IsSymlink():
		return n.NewInode(ctx, &linkNode{base}, fs.StableAttr{Mode: fuse.S_IFLNK})
	default:
		return n.NewInode(ctx, &fileNode{base}, fs.StableAttr{Mode: fuse.S_IFREG})
	}
}

// Lookup resolves one child name.
func (n *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := path.Join(n.path, name)
	st, errno := n.session.Getattr(ctx, childPath)
	if errno != 0 {
		return nil, toErrno(errno)
	}
	fillAttr(st, &out.Attr)
	return n.child(ctx, childPath, st), 0
}

// Opendir verifies the directory exists; no handle state is kept.
func (n *dirNode) Opendir(ctx context.Context) syscall.Errno {
	return toErrno(n.session.Opendir(ctx, n.path))
}

// Readdir streams names in the order the drive reports them. Entry types
// are left unknown; readdirplus fills them through Lookup.
func (n *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, errno := n.session.Readdir(ctx, n.path)
	if errno != 0 {
		return nil, toErrno(errno)
	}
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, fuse.DirEntry{Name: name})
	}
	return fs.NewListDirStream(entries), 0
}

// Mkdir creates a child directory.
func (n *dirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := path.Join(n.path, name)
	if errno := n.session.Mkdir(ctx, childPath, mode); errno != 0 {
		return nil, toErrno(errno)
	}
	st, errno := n.session.Getattr(ctx, childPath)
	if errno != 0 {
		return nil, toErrno(errno)
	}
	fillAttr(st, &out.Attr)
	return n.child(ctx, childPath, st), 0
}

// Create makes a new file owned by the session identity and returns it
// opened for writing.
func (n *dirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := path.Join(n.path, name)
	fd, errno := n.session.Create(ctx, childPath, mode)
	if errno != 0 {
		return nil, nil, 0, toErrno(errno)
	}
	st, errno := n.session.Getattr(ctx, childPath)
	if errno != 0 {
		return nil, nil, 0, toErrno(errno)
	}
	fillAttr(st, &out.Attr)
	handle := &fileHandle{session: n.session, fd: fd}
	return n.child(ctx, childPath, st), handle, 0, 0
}

// Unlink removes a child file or symlink.
func (n *dirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.session.Unlink(ctx, path.Join(n.path, name)))
}

// Rmdir removes an empty child directory.
func (n *dirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.session.Rmdir(ctx, path.Join(n.path, name)))
}

// Symlink records a link under this directory.
func (n *dirNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := path.Join(n.path, name)
	if errno := n.session.Symlink(ctx, target, childPath); errno != 0 {
		return nil, toErrno(errno)
	}
	st, errno := n.session.Getattr(ctx, childPath)
	if errno != 0 {
		return nil, toErrno(errno)
	}
	fillAttr(st, &out.Attr)
	return n.child(ctx, childPath, st), 0
}

// Open opens the file and hands the drive descriptor to the kernel wrapped
// in a handle. go-fuse delivers Linux-layout flags, so translation through
// the canonical table only drops bits outside the vocabulary.
func (f *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	canonical := bridge.CanonicalFlagTable().Translate(flags)
	fd, errno := f.session.Open(ctx, f.path, canonical)
	if errno != 0 {
		return nil, 0, toErrno(errno)
	}
	return &fileHandle{session: f.session, fd: fd}, 0, 0
}

// Readlink reports the link target with absolute targets rebased under the
// mount point.
func (l *linkNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, errno := l.session.Readlink(ctx, l.path)
	if errno != 0 {
		return nil, toErrno(errno)
	}
	return []byte(target), 0
}
