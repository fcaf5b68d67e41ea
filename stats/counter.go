package stats

import (
	"fmt"
	"sync/atomic"
)

// Counter is a 64-bit integer cell with atomic add/set/get and no internal
// locking. All operations are total and linearizable with respect to each
// other. Overflow on extreme long-running workloads wraps silently.
type Counter struct {
	n atomic.Int64
}

var _ Metric = (*Counter)(nil)

func NewCounter() *Counter {
	return &Counter{}
}

// Add atomically adds delta and returns the new value.
func (c *Counter) Add(delta int64) int64 {
	return c.n.Add(delta)
}

// Inc adds 1 and returns the new value.
func (c *Counter) Inc() int64 {
	return c.Add(1)
}

// Dec subtracts 1 and returns the new value.
func (c *Counter) Dec() int64 {
	return c.Add(-1)
}

func (c *Counter) Set(v int64) {
	c.n.Store(v)
}

func (c *Counter) Get() int64 {
	return c.n.Load()
}

func (c *Counter) Copy() Metric {
	n := NewCounter()
	n.Set(c.Get())
	return n
}

func (c *Counter) String() string {
	return fmt.Sprintf("count=%d", c.Get())
}
