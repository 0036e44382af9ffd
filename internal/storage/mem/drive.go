package mem

import (
	"context"
	"crypto/rand"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	derrors "github.com/drivefs/drivefs/pkg/errors"
	"github.com/drivefs/drivefs/pkg/types"
	"github.com/drivefs/drivefs/pkg/utils"
)

const (
	// DefaultChunkSize is the content chunk size when the config leaves
	// it unset.
	DefaultChunkSize = 64 * 1024

	// keyLength is the size of the random drive key in bytes.
	keyLength = 32

	// maxSymlinkDepth bounds symlink resolution before ELOOP.
	maxSymlinkDepth = 16
)

// Config holds memory drive settings.
type Config struct {
	// ChunkSize is the content chunk size in bytes. Zero means
	// DefaultChunkSize.
	ChunkSize int64 `yaml:"chunk_size" json:"chunk_size"`
}

// Drive is an in-memory types.Drive. One mutex guards the whole tree and
// the descriptor table; this backend favors being an unambiguous reference
// over concurrency throughput.
type Drive struct {
	mu        sync.RWMutex
	root      *node
	handles   map[uint64]*handle
	nextFD    uint64
	key       []byte
	chunkSize int64
}

type handle struct {
	node  *node
	flags types.OpenFlags
}

var _ types.Drive = (*Drive)(nil)

// New builds an empty drive with a fresh random key.
func New(cfg Config) (*Drive, error) {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating drive key: %w", err)
	}
	return &Drive{
		root:      newDirNode(0o755, 0, 0, time.Now()),
		handles:   make(map[uint64]*handle),
		nextFD:    1,
		key:       key,
		chunkSize: chunkSize,
	}, nil
}

// Ready reports immediately; memory needs no warm-up.
func (d *Drive) Ready(ctx context.Context) error {
	return nil
}

// Key returns the drive's random identity key.
func (d *Drive) Key() []byte {
	return d.key
}

func errLoop(p string) error {
	return derrors.NewError(derrors.ErrCodePathInvalid, "too many levels of symbolic links").
		WithErrno(derrors.ELOOP).
		WithPath(p)
}

func splitComponents(p string) []string {
	p = strings.Trim(utils.CleanDrivePath(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// walk resolves p to a node. Symlinks in intermediate components always
// resolve; the final component resolves only when follow is set. depth
// decrements per link traversal and turns into ELOOP at zero.
func (d *Drive) walk(p string, follow bool, depth int) (*node, error) {
	comps := splitComponents(p)
	cur := d.root
	curPath := "/"
	for i, comp := range comps {
		if !cur.isDir() {
			return nil, derrors.ErrNotDirectory(curPath)
		}
		child := cur.children[comp]
		if child == nil {
			return nil, derrors.ErrNotFound(path.Join(curPath, comp))
		}
		last := i == len(comps)-1
		if child.isSymlink() && (!last || follow) {
			if depth == 0 {
				return nil, errLoop(p)
			}
			target := child.linkTarget
			if !path.IsAbs(target) {
				target = path.Join(curPath, target)
			}
			rest := append([]string{target}, comps[i+1:]...)
			return d.walk(path.Join(rest...), follow, depth-1)
		}
		if last {
			return child, nil
		}
		cur = child
		curPath = path.Join(curPath, comp)
	}
	return cur, nil
}

func (d *Drive) resolve(p string, follow bool) (*node, error) {
	return d.walk(p, follow, maxSymlinkDepth)
}

// resolveParent returns the directory that would hold p plus p's base name.
// The parent path follows symlinks; the base name is untouched.
func (d *Drive) resolveParent(p string) (*node, string, error) {
	dir, name := utils.SplitDrivePath(p)
	if name == "/" {
		return nil, "", derrors.NewError(derrors.ErrCodeNotPermitted, "mount root is not addressable here").
			WithErrno(derrors.EBUSY).
			WithPath(p)
	}
	parent, err := d.resolve(dir, true)
	if err != nil {
		return nil, "", err
	}
	if !parent.isDir() {
		return nil, "", derrors.ErrNotDirectory(dir)
	}
	return parent, name, nil
}

// Stat resolves path following a final symlink.
func (d *Drive) Stat(ctx context.Context, p string) (*types.Stat, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, err := d.resolve(p, true)
	if err != nil {
		return nil, err
	}
	return n.stat(), nil
}

// Lstat resolves path without following a final symlink.
func (d *Drive) Lstat(ctx context.Context, p string) (*types.Stat, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, err := d.resolve(p, false)
	if err != nil {
		return nil, err
	}
	return n.stat(), nil
}

// Readdir lists directory entries in insertion order.
func (d *Drive) Readdir(ctx context.Context, p string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, err := d.resolve(p, true)
	if err != nil {
		return nil, err
	}
	if !n.isDir() {
		return nil, derrors.ErrNotDirectory(p)
	}
	names := make([]string, len(n.order))
	copy(names, n.order)
	return names, nil
}

// Create makes a new regular file owned by uid/gid.
func (d *Drive) Create(ctx context.Context, p string, mode, uid, gid uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, name, err := d.resolveParent(p)
	if err != nil {
		return err
	}
	if parent.children[name] != nil {
		return derrors.ErrExists(p)
	}
	now := time.Now()
	parent.addChild(name, newFileNode(mode, uid, gid, now))
	parent.mtime = now
	parent.ctime = now
	return nil
}

// Unlink removes a file or symlink.
func (d *Drive) Unlink(ctx context.Context, p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, name, err := d.resolveParent(p)
	if err != nil {
		return err
	}
	n := parent.children[name]
	if n == nil {
		return derrors.ErrNotFound(p)
	}
	if n.isDir() {
		return derrors.ErrIsDirectory(p)
	}
	parent.removeChild(name)
	now := time.Now()
	parent.mtime = now
	parent.ctime = now
	return nil
}

// Mkdir creates a directory.
func (d *Drive) Mkdir(ctx context.Context, p string, mode uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, name, err := d.resolveParent(p)
	if err != nil {
		return err
	}
	if parent.children[name] != nil {
		return derrors.ErrExists(p)
	}
	now := time.Now()
	parent.addChild(name, newDirNode(mode, 0, 0, now))
	parent.mtime = now
	parent.ctime = now
	return nil
}

// Rmdir removes an empty directory.
func (d *Drive) Rmdir(ctx context.Context, p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, name, err := d.resolveParent(p)
	if err != nil {
		return err
	}
	n := parent.children[name]
	if n == nil {
		return derrors.ErrNotFound(p)
	}
	if !n.isDir() {
		return derrors.ErrNotDirectory(p)
	}
	if len(n.children) > 0 {
		return derrors.ErrNotEmpty(p)
	}
	parent.removeChild(name)
	now := time.Now()
	parent.mtime = now
	parent.ctime = now
	return nil
}

// Symlink records a link at linkpath pointing at target. The target is kept
// verbatim and may dangle.
func (d *Drive) Symlink(ctx context.Context, target, linkpath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, name, err := d.resolveParent(linkpath)
	if err != nil {
		return err
	}
	if parent.children[name] != nil {
		return derrors.ErrExists(linkpath)
	}
	now := time.Now()
	parent.addChild(name, newSymlinkNode(target, 0, 0, now))
	parent.mtime = now
	parent.ctime = now
	return nil
}

// Truncate resizes the file at p.
func (d *Drive) Truncate(ctx context.Context, p string, size int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.resolve(p, true)
	if err != nil {
		return err
	}
	if n.isDir() {
		return derrors.ErrIsDirectory(p)
	}
	if !n.isRegular() {
		return derrors.ErrInvalid("truncate target is not a regular file").WithPath(p)
	}
	n.resize(size, d.chunkSize)
	now := time.Now()
	n.mtime = now
	n.ctime = now
	return nil
}

// SetMetadata stores one metadata value on the entry at p.
func (d *Drive) SetMetadata(ctx context.Context, p, name string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.resolve(p, true)
	if err != nil {
		return err
	}
	if n.metadata == nil {
		n.metadata = make(map[string][]byte)
	}
	n.metadata[name] = value
	n.ctime = time.Now()
	return nil
}

// RemoveMetadata deletes one metadata value. Removing an absent name is not
// an error.
func (d *Drive) RemoveMetadata(ctx context.Context, p, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.resolve(p, true)
	if err != nil {
		return err
	}
	delete(n.metadata, name)
	n.ctime = time.Now()
	return nil
}

// Update applies a partial attribute patch. Nil fields keep their current
// values, and mode updates never disturb the file type bits.
func (d *Drive) Update(ctx context.Context, p string, patch *types.AttrPatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.resolve(p, true)
	if err != nil {
		return err
	}
	if patch == nil || patch.IsZero() {
		return nil
	}
	if patch.UID != nil {
		n.uid = *patch.UID
	}
	if patch.GID != nil {
		n.gid = *patch.GID
	}
	if patch.Mode != nil {
		n.mode = n.mode&types.ModeTypeMask | *patch.Mode&^types.ModeTypeMask
	}
	if patch.Atime != nil {
		n.atime = *patch.Atime
	}
	if patch.Mtime != nil {
		n.mtime = *patch.Mtime
	}
	n.ctime = time.Now()
	return nil
}
