package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/drivefs/drivefs/pkg/types"
)

// Config tunes a block cache.
type Config struct {
	// MaxSize caps the cached bytes.
	MaxSize int64 `yaml:"max_size" json:"max_size"`
	// MaxBlocks caps the block count. Zero means unbounded by count.
	MaxBlocks int `yaml:"max_blocks" json:"max_blocks"`
	// TTL expires blocks by age. Zero disables expiry.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// CleanupInterval is how often expired blocks are swept.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

func (c Config) withDefaults() Config {
	if c.MaxSize == 0 {
		c.MaxSize = 256 * 1024 * 1024
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = time.Minute
	}
	return c
}

type entry struct {
	key     string
	block   int64
	data    []byte
	stored  time.Time
	element *list.Element
}

// BlockCache is a thread-safe LRU over fixed-position blocks of named
// objects. Blocks are addressed by (key, block index); a whole object's
// blocks can be dropped at once when its content changes underneath.
// Stored and returned data is always copied, never aliased.
type BlockCache struct {
	mu      sync.Mutex
	cfg     Config
	size    int64
	blocks  int
	objects map[string]map[int64]*entry
	order   *list.List

	stats types.CacheStats

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}
}

// New builds a block cache. The expiry sweeper runs only when a TTL is
// configured; Close stops it.
func New(cfg Config) *BlockCache {
	cfg = cfg.withDefaults()
	c := &BlockCache{
		cfg:     cfg,
		objects: make(map[string]map[int64]*entry),
		order:   list.New(),
		stats:   types.CacheStats{Capacity: cfg.MaxSize},
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if cfg.TTL > 0 {
		go c.sweep()
	} else {
		close(c.stopped)
	}
	return c
}

// Close stops the expiry sweeper. The cache stays usable.
func (c *BlockCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.stopped
}

// Get returns a copy of the cached block, or nil on a miss.
func (c *BlockCache) Get(key string, block int64) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookup(key, block)
	if e == nil {
		c.stats.Misses++
		c.refreshHitRate()
		return nil
	}
	if c.expired(e, time.Now()) {
		c.remove(e)
		c.stats.Misses++
		c.refreshHitRate()
		return nil
	}

	c.order.MoveToFront(e.element)
	c.stats.Hits++
	c.refreshHitRate()

	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out
}

// Put stores a copy of data as the block. An existing block at the same
// position is replaced.
func (c *BlockCache) Put(key string, block int64, data []byte) {
	if len(data) == 0 || int64(len(data)) > c.cfg.MaxSize {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	owned := make([]byte, len(data))
	copy(owned, data)

	if e := c.lookup(key, block); e != nil {
		c.size += int64(len(owned)) - int64(len(e.data))
		e.data = owned
		e.stored = time.Now()
		c.order.MoveToFront(e.element)
		c.enforceLimits()
		return
	}

	e := &entry{
		key:    key,
		block:  block,
		data:   owned,
		stored: time.Now(),
	}
	e.element = c.order.PushFront(e)

	byBlock := c.objects[key]
	if byBlock == nil {
		byBlock = make(map[int64]*entry)
		c.objects[key] = byBlock
	}
	byBlock[block] = e

	c.size += int64(len(owned))
	c.blocks++
	c.enforceLimits()
}

// Invalidate drops every cached block of key.
func (c *BlockCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.objects[key] {
		c.remove(e)
	}
}

// InvalidateFrom drops cached blocks of key at or beyond block. Used when
// an object is truncated: earlier blocks stay valid.
func (c *BlockCache) InvalidateFrom(key string, block int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for idx, e := range c.objects[key] {
		if idx >= block {
			c.remove(e)
		}
	}
}

// Size returns the cached byte total.
func (c *BlockCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the cached block count.
func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks
}

// Stats returns a snapshot of the cache counters.
func (c *BlockCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.size
	if c.cfg.MaxSize > 0 {
		stats.Utilization = float64(c.size) / float64(c.cfg.MaxSize)
	}
	return stats
}

// Clear drops everything.
func (c *BlockCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Evictions += uint64(c.blocks)
	c.objects = make(map[string]map[int64]*entry)
	c.order.Init()
	c.size = 0
	c.blocks = 0
}

func (c *BlockCache) lookup(key string, block int64) *entry {
	byBlock := c.objects[key]
	if byBlock == nil {
		return nil
	}
	return byBlock[block]
}

func (c *BlockCache) expired(e *entry, now time.Time) bool {
	return c.cfg.TTL > 0 && now.Sub(e.stored) > c.cfg.TTL
}

func (c *BlockCache) remove(e *entry) {
	c.order.Remove(e.element)
	byBlock := c.objects[e.key]
	delete(byBlock, e.block)
	if len(byBlock) == 0 {
		delete(c.objects, e.key)
	}
	c.size -= int64(len(e.data))
	c.blocks--
	c.stats.Evictions++
}

func (c *BlockCache) enforceLimits() {
	for c.size > c.cfg.MaxSize && c.order.Len() > 0 {
		c.evictOldest()
	}
	if c.cfg.MaxBlocks > 0 {
		for c.blocks > c.cfg.MaxBlocks && c.order.Len() > 0 {
			c.evictOldest()
		}
	}
}

func (c *BlockCache) evictOldest() {
	back := c.order.Back()
	if back == nil {
		return
	}
	c.remove(back.Value.(*entry))
}

func (c *BlockCache) refreshHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}

func (c *BlockCache) sweep() {
	defer close(c.stopped)

	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			var stale []*entry
			for _, byBlock := range c.objects {
				for _, e := range byBlock {
					if c.expired(e, now) {
						stale = append(stale, e)
					}
				}
			}
			for _, e := range stale {
				c.remove(e)
			}
			c.mu.Unlock()
		}
	}
}
