/*
Package cache provides the in-memory block cache used by remote drives.

Remote reads arrive at the kernel in small windows while object stores
prefer large ranged fetches. The cache bridges the two: a drive fetches a
fixed-size block once, parks it here, and serves the follow-up windows
from memory.

# Addressing

Blocks are addressed by object key plus block index, not by byte range.
Two reads that land in the same block share one entry regardless of their
offsets. When an object is written or removed the drive drops all of its
blocks with Invalidate; a truncate only needs InvalidateFrom, which keeps
the blocks below the new size.

# Eviction

Eviction is LRU by byte budget, with an optional block-count lid and an
optional TTL swept in the background. Data crossing the cache boundary is
copied in both directions, so callers may reuse their buffers and mutate
returned slices freely.

Basic use:

	c := cache.New(cache.Config{MaxSize: 256 << 20, TTL: 5 * time.Minute})
	defer c.Close()

	if blk := c.Get(key, 3); blk != nil {
		// hit
	} else {
		blk = fetchBlock(key, 3)
		c.Put(key, 3, blk)
	}

Statistics (hits, misses, evictions, utilization) are exposed through
Stats for the metrics collector.
*/
package cache
