//go:build !cgofuse
// +build !cgofuse

package mount

import (
	"context"
	"fmt"
	"runtime"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"

	"github.com/drivefs/drivefs/internal/bridge"
	"github.com/drivefs/drivefs/internal/nodefs"
)

// fuseTransport serves a session through go-fuse. It is the transport on
// every build without the cgofuse tag.
type fuseTransport struct {
	server *fuse.Server
	logger *log.Entry
}

func newPlatformTransport(logger *log.Entry) Transport {
	return &fuseTransport{logger: logger.WithField("transport", "go-fuse")}
}

func (t *fuseTransport) Serve(ctx context.Context, session *bridge.Session, opts Options) error {
	server, err := gofs.Mount(opts.MountPath, nodefs.Root(session), buildFUSEOptions(opts))
	if err != nil {
		return err
	}
	if err := server.WaitMount(); err != nil {
		_ = server.Unmount()
		return err
	}
	t.server = server
	t.logger.WithField("path", opts.MountPath).Debug("kernel accepted mount")
	return nil
}

func buildFUSEOptions(opts Options) *gofs.Options {
	attrTimeout := opts.AttrTimeout
	entryTimeout := opts.EntryTimeout

	fsOpts := &gofs.Options{
		MountOptions: fuse.MountOptions{
			Name:       opts.Subtype,
			FsName:     opts.FSName,
			Debug:      opts.Debug,
			AllowOther: opts.AllowOther,
			MaxWrite:   opts.MaxWrite,
		},

		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,

		// The drive decides permissions, not the kernel's mode check.
		NullPermissions: true,
	}

	if opts.AllowRoot {
		fsOpts.Options = append(fsOpts.Options, "allow_root")
	}
	if opts.FSName != "" {
		fsOpts.Options = append(fsOpts.Options, fmt.Sprintf("fsname=%s", opts.FSName))
	}
	if opts.Subtype != "" {
		fsOpts.Options = append(fsOpts.Options, fmt.Sprintf("subtype=%s", opts.Subtype))
	}
	if runtime.GOOS == "darwin" && opts.VolumeName != "" {
		fsOpts.Options = append(fsOpts.Options, fmt.Sprintf("volname=%s", opts.VolumeName))
	}

	return fsOpts
}

func (t *fuseTransport) Unmount() error {
	if t.server == nil {
		return nil
	}
	return t.server.Unmount()
}

func (t *fuseTransport) Detach(mountPath string) error {
	return forceDetach(mountPath)
}

func (t *fuseTransport) Wait() {
	if t.server != nil {
		t.server.Wait()
	}
}
