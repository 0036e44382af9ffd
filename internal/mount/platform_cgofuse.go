//go:build cgofuse
// +build cgofuse

package mount

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/winfsp/cgofuse/fuse"
	log "github.com/sirupsen/logrus"

	"github.com/drivefs/drivefs/internal/bridge"
	derrors "github.com/drivefs/drivefs/pkg/errors"
)

// mountReadyTimeout bounds the wait for the host library to bring the
// kernel connection up.
const mountReadyTimeout = 30 * time.Second

// hostTransport serves a session through cgofuse. Selected by the cgofuse
// build tag, it is the route to WinFsp and macFUSE hosts.
type hostTransport struct {
	host   *fuse.FileSystemHost
	fsys   *bridge.HostFS
	logger *log.Entry
	errCh  chan error
	done   chan struct{}
}

func newPlatformTransport(logger *log.Entry) Transport {
	return &hostTransport{
		logger: logger.WithField("transport", "cgofuse"),
		errCh:  make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (t *hostTransport) Serve(ctx context.Context, session *bridge.Session, opts Options) error {
	t.fsys = bridge.NewHostFS(session)
	t.host = fuse.NewFileSystemHost(t.fsys)
	t.host.SetCapReaddirPlus(true)

	args := buildHostArgs(opts)
	go func() {
		defer close(t.done)
		defer func() {
			// cgofuse panics on some setup failures instead of
			// returning false.
			if r := recover(); r != nil {
				t.errCh <- fmt.Errorf("host mount panicked: %v", r)
			}
		}()
		if !t.host.Mount(opts.MountPath, args) {
			t.errCh <- fmt.Errorf("host mount returned failure")
			return
		}
		t.errCh <- nil
	}()

	select {
	case err := <-t.errCh:
		if err == nil {
			err = fmt.Errorf("host exited before the kernel connection came up")
		}
		return derrors.NewError(derrors.ErrCodeMountFailed, "cgofuse host").
			WithPath(opts.MountPath).
			WithCause(err)
	case <-t.fsys.Ready():
		t.logger.WithField("path", opts.MountPath).Debug("kernel accepted mount")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mountReadyTimeout):
		return derrors.NewError(derrors.ErrCodeMountFailed, "timed out waiting for the kernel connection").
			WithPath(opts.MountPath)
	}
}

func buildHostArgs(opts Options) []string {
	args := []string{
		"-o", "fsname=" + opts.FSName,
		"-o", "subtype=" + opts.Subtype,
		"-o", fmt.Sprintf("attr_timeout=%g", opts.AttrTimeout.Seconds()),
	}
	if opts.Debug {
		args = append(args, "-o", "debug")
	}
	if opts.AllowOther {
		args = append(args, "-o", "allow_other")
	}
	if opts.AllowRoot {
		args = append(args, "-o", "allow_root")
	}
	if runtime.GOOS == "darwin" {
		args = append(args, "-o", "noappledouble", "-o", "noapplexattr")
		if opts.VolumeName != "" {
			args = append(args, "-o", "volname="+opts.VolumeName)
		}
	}
	return args
}

func (t *hostTransport) Unmount() error {
	if t.host == nil {
		return nil
	}
	if !t.host.Unmount() {
		return fmt.Errorf("host unmount returned failure")
	}
	return nil
}

func (t *hostTransport) Detach(mountPath string) error {
	return forceDetach(mountPath)
}

func (t *hostTransport) Wait() {
	<-t.done
}
