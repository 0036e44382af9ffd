/*
Package types provides the core interfaces, data structures, and type definitions for DriveFS.

This package is the contract layer between the FUSE-facing bridge and the
pluggable drive backends. Everything above it (the operation dispatcher, the
mount lifecycle manager) and everything below it (the in-memory drive, the S3
drive) communicates exclusively through the types defined here.

# Architecture Overview

DriveFS follows a layered architecture with well-defined interfaces between
components:

	┌─────────────────────────────────────────────┐
	│              Kernel VFS / FUSE              │
	│      (cgofuse or go-fuse transports)       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Bridge Operation Layer            │
	│            (internal/bridge)                │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              Drive Interface                │ ← This Package
	└─────────────────────────────────────────────┘
	          │                      │
	┌─────────┴─────────┐  ┌─────────┴─────────┐
	│   Memory Drive    │  │     S3 Drive      │
	│ (storage/mem)     │  │  (storage/s3)     │
	└───────────────────┘  └───────────────────┘

# Core Interfaces

Drive Interface:
Abstracts a virtual filesystem backend keyed by path and numeric file
descriptors. A drive owns its file-descriptor table, its directory iteration
order, and its metadata map; the bridge threads descriptors through opaquely
and never adds a second layer of locking around them.

MetricsCollector Interface:
Enables operation tracking, cache metrics, and error reporting for
Prometheus integration without coupling components to a concrete collector.

# Data Structures

Stat:
Normalized file metadata returned by Stat/Lstat, including the symlink
target for links and the per-path extended-attribute map. A nil metadata
map is a valid state meaning "no attributes".

AttrPatch:
A partial attribute update (uid/gid/mode/atime/mtime) where nil fields mean
"leave unchanged". Used to express chown, chmod, and utimens uniformly.

OpenFlags:
The canonical open-flag bit layout. Platform-specific flag encodings are
translated into this layout by the bridge before they reach a drive, so
drive implementations never see platform bit values.

# Interface Contracts

All interfaces in this package follow these principles:

 1. Context Awareness: operations accept context.Context
 2. Error Handling: explicit error returns; drives report failures through
    the structured error type in pkg/errors so the bridge can map them
 3. Concurrency: drives must tolerate concurrent calls, including
    interleavings of read/write/close against the same descriptor
 4. Ownership: the byte slices passed to Write belong to the caller; a
    drive that retains data beyond the call must copy it
*/
package types
