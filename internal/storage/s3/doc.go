/*
Package s3 implements a drive backed by an S3 bucket or a key prefix
inside one.

The bucket stays a plain bucket: every file is one object under the
prefix, directories are zero-byte ".dir" marker objects, and prefixes
holding objects written by other tools appear as directories even without
a marker. Any S3 client can read what this drive writes.

# Attribute overlay

S3 objects have no owner, mode, or symlink target, so the drive rides
those on each object as user metadata: octal mode, uid and gid, nanosecond
timestamps, the symlink target, and extended attributes as base64 JSON.
Objects written by other tools simply lack the overlay and surface with
defaults (0644 files, 0755 directories). Metadata-only updates go through
CopyObject onto the same key, since S3 cannot patch metadata in place.

# Data path

Reads go through a block cache fed by ranged GETs, so sequential small
reads from the kernel cost one object request per block. Writes stage the
whole object in memory and upload it on close, idle flush, or explicit
truncate; S3 replaces objects rather than patching ranges, so the first
write to an object pulls it down whole. Entry creation is synchronous: a
create, mkdir, or symlink is durable in the bucket before the call
returns.

# Request handling

Every request runs through a circuit breaker and retry with exponential
backoff. Errors are classified before retry decisions, so missing keys
and permission failures are never retried while throttling and server
errors are. Uploads ride the CargoShip transporter when enabled, falling
back to pooled PutObject calls.

# Storage tiers

The configured storage tier applies to every upload. Tier constraints are
enforced where AWS bills or rejects: writes below a tier's minimum
billable size log a warning, deletes inside a tier's embargo window are
refused, and deletes inside the minimum storage duration warn about the
early deletion charge.
*/
package s3
