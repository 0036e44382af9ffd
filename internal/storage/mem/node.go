package mem

import (
	"time"

	"github.com/drivefs/drivefs/pkg/types"
)

// node is one entry in the tree. Directories keep children in a map for
// lookup plus a slice recording insertion order, which is the order Readdir
// reports. File content lives in fixed-size chunks; a nil chunk is a hole
// that reads as zeros.
type node struct {
	mode  uint32
	uid   uint32
	gid   uint32
	nlink uint32

	atime time.Time
	mtime time.Time
	ctime time.Time

	linkTarget string
	metadata   map[string][]byte

	children map[string]*node
	order    []string

	chunks [][]byte
	size   int64
}

func newDirNode(mode, uid, gid uint32, now time.Time) *node {
	return &node{
		mode:     types.ModeDir | (mode &^ types.ModeTypeMask),
		uid:      uid,
		gid:      gid,
		nlink:    2,
		atime:    now,
		mtime:    now,
		ctime:    now,
		children: make(map[string]*node),
	}
}

func newFileNode(mode, uid, gid uint32, now time.Time) *node {
	return &node{
		mode:  types.ModeRegular | (mode &^ types.ModeTypeMask),
		uid:   uid,
		gid:   gid,
		nlink: 1,
		atime: now,
		mtime: now,
		ctime: now,
	}
}

func newSymlinkNode(target string, uid, gid uint32, now time.Time) *node {
	return &node{
		mode:       types.ModeSymlink | 0o777,
		uid:        uid,
		gid:        gid,
		nlink:      1,
		atime:      now,
		mtime:      now,
		ctime:      now,
		linkTarget: target,
	}
}

func (n *node) isDir() bool     { return n.mode&types.ModeTypeMask == types.ModeDir }
func (n *node) isSymlink() bool { return n.mode&types.ModeTypeMask == types.ModeSymlink }
func (n *node) isRegular() bool { return n.mode&types.ModeTypeMask == types.ModeRegular }

// addChild appends name to the insertion order and registers the child.
func (n *node) addChild(name string, child *node) {
	n.children[name] = child
	n.order = append(n.order, name)
}

// removeChild drops name from both the map and the order slice.
func (n *node) removeChild(name string) {
	delete(n.children, name)
	for i, existing := range n.order {
		if existing == name {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// readAt copies content into buf starting at off and returns the byte
// count. Reads past the end of file return 0.
func (n *node) readAt(buf []byte, off int64, chunkSize int64) int {
	if off >= n.size {
		return 0
	}
	want := int64(len(buf))
	if remaining := n.size - off; want > remaining {
		want = remaining
	}
	var done int64
	for done < want {
		idx := (off + done) / chunkSize
		chunkOff := (off + done) % chunkSize
		span := chunkSize - chunkOff
		if span > want-done {
			span = want - done
		}
		if chunk := n.chunks[idx]; chunk != nil {
			copy(buf[done:done+span], chunk[chunkOff:chunkOff+span])
		} else {
			zero(buf[done : done+span])
		}
		done += span
	}
	return int(done)
}

// writeAt stores data at off, growing the file and materializing hole
// chunks as needed.
func (n *node) writeAt(data []byte, off int64, chunkSize int64) int {
	end := off + int64(len(data))
	n.growChunks(end, chunkSize)
	var done int64
	for done < int64(len(data)) {
		idx := (off + done) / chunkSize
		chunkOff := (off + done) % chunkSize
		span := chunkSize - chunkOff
		if span > int64(len(data))-done {
			span = int64(len(data)) - done
		}
		if n.chunks[idx] == nil {
			n.chunks[idx] = make([]byte, chunkSize)
		}
		copy(n.chunks[idx][chunkOff:], data[done:done+span])
		done += span
	}
	if end > n.size {
		n.size = end
	}
	return len(data)
}

// resize truncates or extends the file. Shrinking zeroes the tail of the
// boundary chunk so a later extension reads zeros, and extending leaves
// holes unmaterialized.
func (n *node) resize(size int64, chunkSize int64) {
	if size < n.size {
		keep := int((size + chunkSize - 1) / chunkSize)
		for i := keep; i < len(n.chunks); i++ {
			n.chunks[i] = nil
		}
		n.chunks = n.chunks[:keep]
		if tail := size % chunkSize; tail != 0 && keep > 0 && n.chunks[keep-1] != nil {
			zero(n.chunks[keep-1][tail:])
		}
	} else if size > n.size {
		n.growChunks(size, chunkSize)
	}
	n.size = size
}

func (n *node) growChunks(size int64, chunkSize int64) {
	need := int((size + chunkSize - 1) / chunkSize)
	for len(n.chunks) < need {
		n.chunks = append(n.chunks, nil)
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// stat materializes the node's attributes. The metadata map is copied so
// callers cannot mutate drive state through the returned record.
func (n *node) stat() *types.Stat {
	size := n.size
	if n.isSymlink() {
		size = int64(len(n.linkTarget))
	}
	st := &types.Stat{
		Size:       size,
		Blocks:     (size + 511) / 512,
		Mode:       n.mode,
		UID:        n.uid,
		GID:        n.gid,
		Nlink:      n.nlink,
		Atime:      n.atime,
		Mtime:      n.mtime,
		Ctime:      n.ctime,
		LinkTarget: n.linkTarget,
	}
	if len(n.metadata) > 0 {
		st.Metadata = make(map[string][]byte, len(n.metadata))
		for name, value := range n.metadata {
			st.Metadata[name] = value
		}
	}
	return st
}
