/*
Package bridge translates kernel filesystem requests into drive operations.

The bridge is the core of DriveFS: a Session holds one mounted drive and
exposes one method per kernel-facing operation. FUSE transports (cgofuse on
macOS and Windows, go-fuse on Linux) are thin adapters that decode their
platform's request format, call the matching Session method, and encode the
result back. All filesystem semantics live here, in portable untagged code,
so the same behavior is testable without a kernel mount.

# Request Flow

	┌─────────────────────────────────────────────┐
	│              User Applications              │
	│           (ls, cat, cp, vim, tar)           │
	└─────────────────────────────────────────────┘
	                      │ syscalls
	┌─────────────────────────────────────────────┐
	│           Kernel VFS / FUSE Driver          │
	└─────────────────────────────────────────────┘
	                      │ FUSE protocol
	┌─────────────────────────────────────────────┐
	│          Transport Adapter (tagged)         │
	│    cgofuse (darwin, windows) / go-fuse      │
	│  decode request → canonical flags → Session │
	└─────────────────────────────────────────────┘
	                      │ one method per op
	┌─────────────────────────────────────────────┐
	│              bridge.Session                 │  ← This Package
	│  ownership overrides, payload copying,      │
	│  errno mapping, symlink target resolution,  │
	│  extended attribute emulation               │
	└─────────────────────────────────────────────┘
	                      │ types.Drive
	┌─────────────────────────────────────────────┐
	│         Drive Backend (mem, s3, ...)        │
	└─────────────────────────────────────────────┘

# Operation Contract

Every Session method reports success exactly or one negated canonical errno,
never both. Results use Linux errno values regardless of host platform; the
transport adapter converts to platform codes at the boundary. Backend errors
are mapped through their embedded errno when present and fall back to a
per-family default (lookup operations report ENOENT, handle operations EBADF,
attribute and permission operations EPERM). The bridge never retries a failed
drive call; drives that want retry semantics implement them internally.

# Identity and Ownership

The mounting process identity (uid, gid) is captured once when the Session is
constructed. Getattr reports that identity for the mount root, and for every
path when ForceOwnership is set, so mounts remain browsable even when the
drive stores foreign ownership. Create stamps new files with the session
identity before opening them for writing.

# Handles

The bridge keeps no handle table. Drive descriptors returned by Open and
Create travel through the kernel as FUSE handle values and come back verbatim
on read, write, ftruncate, and release. Handle lifetime, locking, and offset
bookkeeping are entirely the drive's concern.

# Buffer Ownership

Write payloads arriving from the transport are only valid until the handler
returns. Session.Write copies the payload before the first drive call so the
drive may retain the slice beyond the request without corruption.
*/
package bridge
