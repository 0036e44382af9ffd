package bridge

import (
	derrors "github.com/drivefs/drivefs/pkg/errors"
)

// errnoFamily selects the fallback errno for drive errors that carry no
// errno of their own. Families group operations by what a generic failure
// most plausibly means to the caller.
type errnoFamily int

const (
	// famLookup covers path-addressed operations; unexplained failures
	// read as a missing entry.
	famLookup errnoFamily = iota
	// famHandle covers descriptor-addressed operations; unexplained
	// failures read as a stale or invalid handle.
	famHandle
	// famAttr covers attribute and permission changes; unexplained
	// failures read as a permission denial.
	famAttr
)

// mapError converts a drive error to a negated canonical errno. Errors that
// embed an errno keep it untouched; anything else gets the family default.
// A nil error maps to 0.
func mapError(err error, family errnoFamily) int {
	if err == nil {
		return 0
	}
	if eno := derrors.ErrnoOf(err); eno != 0 {
		return -int(eno)
	}
	switch family {
	case famHandle:
		return -int(derrors.EBADF)
	case famAttr:
		return -int(derrors.EPERM)
	default:
		return -int(derrors.ENOENT)
	}
}
