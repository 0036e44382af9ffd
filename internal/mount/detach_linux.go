//go:build linux
// +build linux

package mount

import "golang.org/x/sys/unix"

// forceDetach takes the mount out from under busy handles. Lazy detach
// first, so open files fail on next use instead of blocking the unmount.
func forceDetach(mountPath string) error {
	if err := unix.Unmount(mountPath, unix.MNT_DETACH); err == nil {
		return nil
	}
	return unix.Unmount(mountPath, unix.MNT_FORCE)
}
