package nodefs

import (
	"syscall"

	derrors "github.com/drivefs/drivefs/pkg/errors"
)

// toErrno converts a negated canonical errno from the session into this
// platform's syscall errno. The syscall constants compile to the right
// values per platform, so the switch is the whole translation.
func toErrno(errno int) syscall.Errno {
	if errno >= 0 {
		return 0
	}
	switch derrors.Errno(-errno) {
	case derrors.EPERM:
		return syscall.EPERM
	case derrors.ENOENT:
		return syscall.ENOENT
	case derrors.EINTR:
		return syscall.EINTR
	case derrors.EIO:
		return syscall.EIO
	case derrors.EBADF:
		return syscall.EBADF
	case derrors.EAGAIN:
		return syscall.EAGAIN
	case derrors.EACCES:
		return syscall.EACCES
	case derrors.EBUSY:
		return syscall.EBUSY
	case derrors.EEXIST:
		return syscall.EEXIST
	case derrors.ENOTDIR:
		return syscall.ENOTDIR
	case derrors.EISDIR:
		return syscall.EISDIR
	case derrors.EINVAL:
		return syscall.EINVAL
	case derrors.EFBIG:
		return syscall.EFBIG
	case derrors.ENOSPC:
		return syscall.ENOSPC
	case derrors.EROFS:
		return syscall.EROFS
	case derrors.ENAMETOOLONG:
		return syscall.ENAMETOOLONG
	case derrors.ENOSYS:
		return syscall.ENOSYS
	case derrors.ENOTEMPTY:
		return syscall.ENOTEMPTY
	case derrors.ELOOP:
		return syscall.ELOOP
	case derrors.ENODATA:
		return syscall.ENODATA
	default:
		return syscall.EIO
	}
}
