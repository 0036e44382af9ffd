package nodefs

import (
	"context"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivefs/drivefs/internal/bridge"
	"github.com/drivefs/drivefs/internal/storage/mem"
	derrors "github.com/drivefs/drivefs/pkg/errors"
	"github.com/drivefs/drivefs/pkg/types"
)

func newTestSession(t *testing.T) (*bridge.Session, *mem.Drive) {
	t.Helper()
	drive, err := mem.New(mem.Config{})
	require.NoError(t, err)
	cfg := bridge.Config{MountPath: "/mnt/test", UID: 1000, GID: 1000}
	return bridge.NewSession(drive, cfg, nil, nil), drive
}

func TestToErrno(t *testing.T) {
	tests := []struct {
		name  string
		errno int
		want  syscall.Errno
	}{
		{"success", 0, 0},
		{"positive byte count", 42, 0},
		{"enoent", -int(derrors.ENOENT), syscall.ENOENT},
		{"ebadf", -int(derrors.EBADF), syscall.EBADF},
		{"eperm", -int(derrors.EPERM), syscall.EPERM},
		{"enotempty", -int(derrors.ENOTEMPTY), syscall.ENOTEMPTY},
		{"eloop", -int(derrors.ELOOP), syscall.ELOOP},
		{"unknown falls back to eio", -125, syscall.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toErrno(tt.errno); got != tt.want {
				t.Errorf("toErrno(%d) = %v, want %v", tt.errno, got, tt.want)
			}
		})
	}
}

func TestGetattrFillsAttr(t *testing.T) {
	ctx := context.Background()
	session, drive := newTestSession(t)
	require.NoError(t, drive.Create(ctx, "/f", 0o640, 77, 88))

	node := &baseNode{session: session, path: "/f"}
	var out fuse.AttrOut
	require.Equal(t, syscall.Errno(0), node.Getattr(ctx, nil, &out))
	assert.Equal(t, uint32(types.ModeRegular|0o640), out.Mode)
	assert.Equal(t, uint32(77), out.Owner.Uid)
	assert.Equal(t, uint32(88), out.Owner.Gid)
	assert.NotZero(t, out.Mtime)

	missing := &baseNode{session: session, path: "/missing"}
	assert.Equal(t, syscall.ENOENT, missing.Getattr(ctx, nil, &out))
}

func TestSetattrDecomposesUpdates(t *testing.T) {
	ctx := context.Background()
	session, drive := newTestSession(t)
	require.NoError(t, drive.Create(ctx, "/f", 0o644, 1, 1))

	fd, err := drive.Open(ctx, "/f", types.FlagWriteOnly)
	require.NoError(t, err)
	_, err = drive.Write(ctx, fd, []byte("some content"), 0)
	require.NoError(t, err)
	require.NoError(t, drive.Close(ctx, fd))

	node := &baseNode{session: session, path: "/f"}

	t.Run("mode only", func(t *testing.T) {
		in := &fuse.SetAttrIn{}
		in.Valid = fuse.FATTR_MODE
		in.Mode = 0o600
		var out fuse.AttrOut
		require.Equal(t, syscall.Errno(0), node.Setattr(ctx, nil, in, &out))

		st, err := drive.Stat(ctx, "/f")
		require.NoError(t, err)
		assert.Equal(t, uint32(0o600), st.Perm())
		assert.Equal(t, uint32(1), st.UID, "mode update must not touch ownership")
	})

	t.Run("size by path", func(t *testing.T) {
		in := &fuse.SetAttrIn{}
		in.Valid = fuse.FATTR_SIZE
		in.Size = 4
		var out fuse.AttrOut
		require.Equal(t, syscall.Errno(0), node.Setattr(ctx, nil, in, &out))
		assert.Equal(t, uint64(4), out.Size)
	})

	t.Run("size through open handle", func(t *testing.T) {
		fd, err := drive.Open(ctx, "/f", types.FlagReadWrite)
		require.NoError(t, err)
		h := &fileHandle{session: session, fd: fd}

		in := &fuse.SetAttrIn{}
		in.Valid = fuse.FATTR_SIZE
		in.Size = 2
		var out fuse.AttrOut
		require.Equal(t, syscall.Errno(0), node.Setattr(ctx, h, in, &out))
		assert.Equal(t, uint64(2), out.Size)
		require.Equal(t, syscall.Errno(0), h.Release(ctx))
	})

	t.Run("gid only leaves uid", func(t *testing.T) {
		in := &fuse.SetAttrIn{}
		in.Valid = fuse.FATTR_GID
		in.Gid = 9
		var out fuse.AttrOut
		require.Equal(t, syscall.Errno(0), node.Setattr(ctx, nil, in, &out))
		assert.Equal(t, uint32(1), out.Owner.Uid)
		assert.Equal(t, uint32(9), out.Owner.Gid)
	})
}

func TestReaddirKeepsDriveOrder(t *testing.T) {
	ctx := context.Background()
	session, drive := newTestSession(t)
	require.NoError(t, drive.Create(ctx, "/nu", 0o644, 0, 0))
	require.NoError(t, drive.Create(ctx, "/beta", 0o644, 0, 0))
	require.NoError(t, drive.Mkdir(ctx, "/alpha", 0o755))

	root := &dirNode{baseNode{session: session, path: "/"}}
	stream, errno := root.Readdir(ctx)
	require.Equal(t, syscall.Errno(0), errno)

	var names []string
	for stream.HasNext() {
		entry, errno := stream.Next()
		require.Equal(t, syscall.Errno(0), errno)
		names = append(names, entry.Name)
	}
	assert.Equal(t, []string{"nu", "beta", "alpha"}, names)
}

func TestXattrBufferProtocol(t *testing.T) {
	ctx := context.Background()
	session, drive := newTestSession(t)
	require.NoError(t, drive.Create(ctx, "/f", 0o644, 0, 0))
	require.NoError(t, drive.SetMetadata(ctx, "/f", "user.alpha", []byte("first")))
	require.NoError(t, drive.SetMetadata(ctx, "/f", "user.beta", []byte("second")))

	node := &baseNode{session: session, path: "/f"}

	t.Run("getxattr sizing probe", func(t *testing.T) {
		size, errno := node.Getxattr(ctx, "user.alpha", nil)
		assert.Equal(t, syscall.ERANGE, errno)
		assert.Equal(t, uint32(5), size)

		dest := make([]byte, 16)
		size, errno = node.Getxattr(ctx, "user.alpha", dest)
		require.Equal(t, syscall.Errno(0), errno)
		assert.Equal(t, "first", string(dest[:size]))
	})

	t.Run("missing attribute reads empty", func(t *testing.T) {
		size, errno := node.Getxattr(ctx, "user.nope", make([]byte, 8))
		assert.Equal(t, syscall.Errno(0), errno)
		assert.Zero(t, size)
	})

	t.Run("listxattr null joins sorted names", func(t *testing.T) {
		need, errno := node.Listxattr(ctx, nil)
		assert.Equal(t, syscall.ERANGE, errno)

		dest := make([]byte, need)
		size, errno := node.Listxattr(ctx, dest)
		require.Equal(t, syscall.Errno(0), errno)
		assert.Equal(t, "user.alpha\x00user.beta\x00", string(dest[:size]))
	})

	t.Run("set and remove", func(t *testing.T) {
		require.Equal(t, syscall.Errno(0), node.Setxattr(ctx, "user.gamma", []byte("third"), 0))
		require.Equal(t, syscall.Errno(0), node.Removexattr(ctx, "user.beta"))

		st, err := drive.Stat(ctx, "/f")
		require.NoError(t, err)
		assert.Equal(t, []byte("third"), st.Metadata["user.gamma"])
		_, ok := st.Metadata["user.beta"]
		assert.False(t, ok)
	})
}

func TestFileHandleReadWrite(t *testing.T) {
	ctx := context.Background()
	session, drive := newTestSession(t)
	require.NoError(t, drive.Create(ctx, "/f", 0o644, 0, 0))

	fd, err := drive.Open(ctx, "/f", types.FlagReadWrite)
	require.NoError(t, err)
	h := &fileHandle{session: session, fd: fd}

	n, errno := h.Write(ctx, []byte("payload"), 0)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(7), n)

	dest := make([]byte, 4)
	res, errno := h.Read(ctx, dest, 3)
	require.Equal(t, syscall.Errno(0), errno)
	data, fuseStatus := res.Bytes(nil)
	require.Equal(t, fuse.OK, fuseStatus)
	assert.Equal(t, "load", string(data))

	assert.Equal(t, syscall.Errno(0), h.Flush(ctx))
	assert.Equal(t, syscall.Errno(0), h.Fsync(ctx, 0))
	require.Equal(t, syscall.Errno(0), h.Release(ctx))
	assert.Zero(t, drive.OpenHandles())

	assert.Equal(t, syscall.EBADF, h.Release(ctx))
}

func TestStatfsClipsToTransportFields(t *testing.T) {
	session, _ := newTestSession(t)
	node := &baseNode{session: session, path: "/"}

	var out fuse.StatfsOut
	require.Equal(t, syscall.Errno(0), node.Statfs(context.Background(), &out))
	assert.Equal(t, uint64(1000000), out.Blocks)
	assert.Equal(t, uint64(1000000), out.Bfree)
	assert.Equal(t, uint64(1000000), out.Bavail)
	assert.Equal(t, uint64(1000000), out.Files)
	assert.Equal(t, uint64(1000000), out.Ffree)
	assert.Equal(t, uint32(1000000), out.Bsize)
	assert.Equal(t, uint32(1000000), out.NameLen)
}
