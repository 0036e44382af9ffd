/*
Package mount owns the lifecycle of one drive mount.

The Manager walks a four-state machine:

	Unmounted ──Mount──▶ Mounting ──▶ Mounted
	    ▲                   │            │
	    │              (mount fails)  Unmount
	    │                   │            │
	    └───────────────────┴── Unmounting

Mount prepares the mount point, takes an exclusive lock file, waits for the
drive's one-time readiness barrier, builds the bridge session with the
current process identity, and hands the session to the platform transport.
A second Mount while any of that is in flight fails immediately. A failed
Unmount leaves the state Mounted, because the kernel still holds the
filesystem. Unmounting never destroys the drive; callers reuse it for the
next mount.

The transport is chosen at build time: go-fuse by default, cgofuse under
the cgofuse build tag. Both serve the same bridge session.
*/
package mount
