//go:build darwin
// +build darwin

package mount

import "golang.org/x/sys/unix"

// forceDetach force-unmounts. macOS has no lazy detach, so MNT_FORCE is
// the only lever.
func forceDetach(mountPath string) error {
	return unix.Unmount(mountPath, unix.MNT_FORCE)
}
