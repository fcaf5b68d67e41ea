package stats

import (
	"fmt"
	"sync/atomic"
)

// UniformReservoir keeps a fixed-capacity uniformly random sample of an
// unbounded stream of int64 observations using Vitter's Algorithm R: the
// first capacity values fill the slots in order, and each later value
// replaces a random slot with probability capacity/observed.
//
// Update is safe for arbitrary concurrent callers. The classical
// unbiasedness proof assumes serialized updates; under concurrency two
// racing updates can both draw their slot from a stale observed count,
// which biases the sample toward recent values under heavy contention.
// That relaxation is accepted: every count increment and slot write is
// individually atomic, so the structure itself never corrupts.
type UniformReservoir struct {
	observed atomic.Int64
	slots    []atomic.Int64
	rnd      Rand
}

var _ Metric = (*UniformReservoir)(nil)

// NewUniformReservoir returns a reservoir holding at most capacity values,
// drawing eviction slots from the given Rand. A nil rnd falls back to a
// shared seeded source. Capacity below 1 is a construction-time usage
// fault and panics; Update itself never fails.
func NewUniformReservoir(capacity int, rnd Rand) *UniformReservoir {
	if capacity < 1 {
		panic(fmt.Sprintf("stats: reservoir capacity must be >= 1, got %d", capacity))
	}
	if rnd == nil {
		rnd = defaultRand
	}
	return &UniformReservoir{
		slots: make([]atomic.Int64, capacity),
		rnd:   rnd,
	}
}

// Update offers a value to the sample.
func (r *UniformReservoir) Update(value int64) {
	c := r.observed.Add(1)
	if c <= int64(len(r.slots)) {
		r.slots[c-1].Store(value)
		return
	}
	if i := r.rnd.Int63n(c); i < int64(len(r.slots)) {
		r.slots[i].Store(value)
	}
}

// Count returns the number of sampled values currently held. It is bounded
// to the capacity even though the internal observed count is not.
func (r *UniformReservoir) Count() int {
	if c := r.observed.Load(); c < int64(len(r.slots)) {
		return int(c)
	}
	return len(r.slots)
}

// Observed returns the total number of values ever offered.
func (r *UniformReservoir) Observed() int64 {
	return r.observed.Load()
}

func (r *UniformReservoir) Capacity() int {
	return len(r.slots)
}

// Values returns an independent copy of the current sample, in slot order.
// It never mutates the reservoir.
func (r *UniformReservoir) Values() []int64 {
	out := make([]int64, r.Count())
	for i := range out {
		out[i] = r.slots[i].Load()
	}
	return out
}

// Mean returns the arithmetic mean of the current sample, 0 when empty.
func (r *UniformReservoir) Mean() float64 {
	values := r.Values()
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

// Clear zeroes every slot and resets the observed count. An Update racing
// with Clear is a soft reset: one pre-clear value may remain visible to an
// overlapping reader. That weak behavior is accepted; it does not corrupt
// later sampling.
func (r *UniformReservoir) Clear() {
	r.observed.Store(0)
	for i := range r.slots {
		r.slots[i].Store(0)
	}
}

// Copy returns an independently mutable reservoir seeded with a snapshot
// of the current slots and observed count. It shares the source's Rand.
func (r *UniformReservoir) Copy() Metric {
	n := &UniformReservoir{
		slots: make([]atomic.Int64, len(r.slots)),
		rnd:   r.rnd,
	}
	for i := range r.slots {
		n.slots[i].Store(r.slots[i].Load())
	}
	n.observed.Store(r.observed.Load())
	return n
}

func (r *UniformReservoir) String() string {
	return fmt.Sprintf("samples=%d capacity=%d mean=%.2f", r.Count(), r.Capacity(), r.Mean())
}
