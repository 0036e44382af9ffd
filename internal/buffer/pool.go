package buffer

import "sync"

// bucketSizes are the pooled capacities, smallest first. Transfers larger
// than the top bucket allocate directly and are left to the GC.
var bucketSizes = []int{
	4 * 1024,
	16 * 1024,
	64 * 1024,
	256 * 1024,
	1024 * 1024,
	4 * 1024 * 1024,
	16 * 1024 * 1024,
}

// Pool hands out transfer buffers in fixed capacity buckets so block
// fetches and flush copies stop churning the allocator. The bucket table
// is fixed at construction, so Get and Put need no locking of their own.
type Pool struct {
	buckets []*sync.Pool
}

// NewPool builds a pool over the standard bucket sizes.
func NewPool() *Pool {
	p := &Pool{buckets: make([]*sync.Pool, len(bucketSizes))}
	for i, size := range bucketSizes {
		size := size
		p.buckets[i] = &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		}
	}
	return p
}

// Get returns a buffer with len(buf) == size from the smallest fitting
// bucket. Content is unspecified; callers overwrite it.
func (p *Pool) Get(size int) []byte {
	for i, bucket := range bucketSizes {
		if bucket >= size {
			buf := *p.buckets[i].Get().(*[]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a buffer obtained from Get. Buffers that never came from a
// bucket are dropped.
func (p *Pool) Put(buf []byte) {
	c := cap(buf)
	for i, bucket := range bucketSizes {
		if bucket == c {
			full := buf[:c]
			p.buckets[i].Put(&full)
			return
		}
	}
}

var defaultPool = NewPool()

// Get hands out a buffer from the package-level pool.
func Get(size int) []byte {
	return defaultPool.Get(size)
}

// Put returns a buffer to the package-level pool.
func Put(buf []byte) {
	defaultPool.Put(buf)
}
