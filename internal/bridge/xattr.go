package bridge

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/drivefs/drivefs/pkg/utils"
)

// appleReservedPrefix marks the attribute namespace macOS uses for Finder
// and resource-fork bookkeeping. Drives have no use for it, so writes under
// it are accepted and dropped on darwin to keep Finder copies working.
const appleReservedPrefix = "com.apple."

func dropXattrOn(goos, name string) bool {
	return goos == "darwin" && strings.HasPrefix(name, appleReservedPrefix)
}

// Getxattr reads one extended attribute from the metadata of path. A missing
// attribute or an entry with no metadata reports an empty value, not an
// error.
func (s *Session) Getxattr(ctx context.Context, path, name string) ([]byte, int) {
	start := time.Now()

	st, err := s.drive.Stat(ctx, utils.CleanDrivePath(path))
	if err != nil {
		errno := mapError(err, famLookup)
		s.record("getxattr", start, errno, 0)
		return nil, errno
	}
	s.record("getxattr", start, 0, 0)
	return st.Metadata[name], 0
}

// Setxattr stores one extended attribute in the metadata of path. On darwin
// the com.apple. namespace is silently discarded.
func (s *Session) Setxattr(ctx context.Context, path, name string, value []byte) (errno int) {
	start := time.Now()
	defer func() { s.record("setxattr", start, errno, 0) }()

	if dropXattrOn(runtime.GOOS, name) {
		return 0
	}
	owned := make([]byte, len(value))
	copy(owned, value)
	return mapError(s.drive.SetMetadata(ctx, utils.CleanDrivePath(path), name, owned), famAttr)
}

// Listxattr reports the attribute names present on path, sorted. An entry
// without metadata lists empty.
func (s *Session) Listxattr(ctx context.Context, path string) ([]string, int) {
	start := time.Now()

	st, err := s.drive.Stat(ctx, utils.CleanDrivePath(path))
	if err != nil {
		errno := mapError(err, famLookup)
		s.record("listxattr", start, errno, 0)
		return nil, errno
	}
	names := make([]string, 0, len(st.Metadata))
	for name := range st.Metadata {
		names = append(names, name)
	}
	sort.Strings(names)
	s.record("listxattr", start, 0, int64(len(names)))
	return names, 0
}

// Removexattr deletes one extended attribute from the metadata of path.
func (s *Session) Removexattr(ctx context.Context, path, name string) (errno int) {
	start := time.Now()
	defer func() { s.record("removexattr", start, errno, 0) }()

	return mapError(s.drive.RemoveMetadata(ctx, utils.CleanDrivePath(path), name), famAttr)
}
