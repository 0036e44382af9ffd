//go:build !linux && !darwin
// +build !linux,!darwin

package mount

import (
	"fmt"
	"runtime"
)

func forceDetach(mountPath string) error {
	return fmt.Errorf("force detach is not supported on %s", runtime.GOOS)
}
