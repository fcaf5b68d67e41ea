package stats

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// EWMA tracks an exponentially weighted moving average of an event rate.
// Events accumulate in an atomic sum between clock ticks; each tick folds
// the accumulated sum into the decayed rate. Update is lock-free and safe
// from any goroutine at any time, including concurrently with Tick. Tick
// must be driven by a single ticking task, normally the owning meter's
// ticker, so the rate field has one writer.
type EWMA struct {
	alpha         float64
	intervalNanos float64

	uncounted atomic.Int64

	mu   sync.Mutex
	rate float64 // events per nanosecond, written only by Tick
	init bool
}

// NewEWMA returns an estimator whose smoothing constant is derived from
// the tick interval and the target averaging window:
// alpha = 1 - exp(-tickInterval/window).
func NewEWMA(tickInterval, window time.Duration) *EWMA {
	return &EWMA{
		alpha:         1 - math.Exp(-tickInterval.Seconds()/window.Seconds()),
		intervalNanos: float64(tickInterval.Nanoseconds()),
	}
}

// Update adds n events to the sum folded in on the next tick.
func (e *EWMA) Update(n int64) {
	e.uncounted.Add(n)
}

// Tick folds the events accumulated since the last tick into the decayed
// rate. The first tick seeds the rate with the instantaneous rate; later
// ticks apply the standard EWMA recurrence.
func (e *EWMA) Tick() {
	count := e.uncounted.Swap(0)
	instantRate := float64(count) / e.intervalNanos

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.init {
		e.rate += e.alpha * (instantRate - e.rate)
	} else {
		e.rate = instantRate
		e.init = true
	}
}

// Rate returns the decayed rate in events per unit. It is 0 until the
// first tick fires.
func (e *EWMA) Rate(unit RateUnit) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate * unit.Nanos()
}

// Copy returns an independent estimator with the same smoothing constant,
// seeded with the current rate and uncounted sum.
func (e *EWMA) Copy() *EWMA {
	e.mu.Lock()
	rate, init := e.rate, e.init
	e.mu.Unlock()

	n := &EWMA{
		alpha:         e.alpha,
		intervalNanos: e.intervalNanos,
		rate:          rate,
		init:          init,
	}
	n.uncounted.Store(e.uncounted.Load())
	return n
}
