// Package mem implements an in-memory drive. It is the reference backend:
// fully featured, insertion-ordered directory listings, chunked file
// content, and no external dependencies. Tests throughout the tree mount
// against it.
package mem
