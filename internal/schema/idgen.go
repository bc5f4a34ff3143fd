package schema

import (
	"sync/atomic"
	"time"
)

// IDGenerator hands out monotonically increasing broker order ids for orders
// that have not been acknowledged by the broker yet.
type IDGenerator struct {
	next int64
}

// NewIDGenerator returns a generator seeded with the given value.
func NewIDGenerator(seed int64) *IDGenerator {
	if seed == 0 {
		seed = time.Now().UTC().UnixNano() / int64(time.Millisecond)
	}
	return &IDGenerator{next: seed}
}

// Next returns the next id.
func (g *IDGenerator) Next() int64 {
	return atomic.AddInt64(&g.next, 1)
}

// Observe moves the generator past id, so ids recovered from a snapshot are never reused.
func (g *IDGenerator) Observe(id int64) {
	for {
		cur := atomic.LoadInt64(&g.next)
		if id <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&g.next, cur, id) {
			return
		}
	}
}
