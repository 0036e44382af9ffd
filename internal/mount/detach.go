package mount

import (
	derrors "github.com/drivefs/drivefs/pkg/errors"
)

// Detach force-unmounts mountPath without going through a Manager. It is
// the path for mounts whose serving process is gone or unreachable; a live
// Manager should be asked to Unmount instead, so it can release its lock
// and fold its state.
func Detach(mountPath string) error {
	if listed, ok := InMountTable(mountPath); ok && !listed {
		return derrors.NewError(derrors.ErrCodeNotMounted, "path is not in the mount table").
			WithPath(mountPath)
	}
	if err := forceDetach(mountPath); err != nil {
		return derrors.NewError(derrors.ErrCodeUnmountFailed, "detaching filesystem").
			WithPath(mountPath).
			WithCause(err)
	}
	return nil
}
