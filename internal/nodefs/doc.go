/*
Package nodefs is the go-fuse transport. It adapts the bridge session to the
hanwen/go-fuse v2 node API and is the default transport on builds without
the cgofuse tag.

Nodes carry their drive path and delegate every operation to the session;
the package adds no semantics of its own. Rename is deliberately absent, so
a node's path never changes for the life of the mount. Errnos arriving from
the session use the canonical Linux layout and are converted to this
platform's syscall values on the way out.
*/
package nodefs
