package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTickInterval is how often a meter folds accumulated events into
// its decayed rates.
const DefaultTickInterval = 5 * time.Second

// RateMeter measures the throughput of an event stream: a total count, 1-,
// 5-, and 15-minute exponentially decayed rates, and an undecayed lifetime
// mean rate. Mark may be called from any goroutine; the meter owns a
// background ticker that drives the decay independently of producers, so
// marking never blocks on ticking.
type RateMeter struct {
	count *Counter
	m1    *EWMA
	m5    *EWMA
	m15   *EWMA

	eventType string
	unit      RateUnit
	interval  time.Duration
	start     time.Time

	clock    clockwork.Clock
	ticker   clockwork.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

var _ Metric = (*RateMeter)(nil)

// NewRateMeter returns a running meter that ticks every
// DefaultTickInterval on the given clock. eventType is a descriptive label
// for what is being counted ("requests", "spans"); it defaults to "events"
// when empty. Stop the meter when discarding it or its ticking goroutine
// leaks.
func NewRateMeter(eventType string, unit RateUnit, clock clockwork.Clock) *RateMeter {
	return NewRateMeterWithInterval(eventType, unit, clock, DefaultTickInterval)
}

// NewRateMeterWithInterval is NewRateMeter with an explicit tick interval,
// used by tests and by registries configured for faster folding.
func NewRateMeterWithInterval(eventType string, unit RateUnit, clock clockwork.Clock, interval time.Duration) *RateMeter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if eventType == "" {
		eventType = "events"
	}
	m := &RateMeter{
		count:     NewCounter(),
		m1:        NewEWMA(interval, time.Minute),
		m5:        NewEWMA(interval, 5*time.Minute),
		m15:       NewEWMA(interval, 15*time.Minute),
		eventType: eventType,
		unit:      unit,
		interval:  interval,
		start:     clock.Now(),
		clock:     clock,
		done:      make(chan struct{}),
	}
	m.ticker = clock.NewTicker(interval)
	go m.run()
	return m
}

func (m *RateMeter) run() {
	defer m.ticker.Stop()
	for {
		select {
		case <-m.ticker.Chan():
			m.tick()
		case <-m.done:
			return
		}
	}
}

func (m *RateMeter) tick() {
	m.m1.Tick()
	m.m5.Tick()
	m.m15.Tick()
}

// Mark records the occurrence of n events.
func (m *RateMeter) Mark(n int64) {
	m.count.Add(n)
	m.m1.Update(n)
	m.m5.Update(n)
	m.m15.Update(n)
}

// Count returns the total number of events marked.
func (m *RateMeter) Count() int64 {
	return m.count.Get()
}

// OneMinuteRate returns the 1-minute decayed rate in the meter's unit.
func (m *RateMeter) OneMinuteRate() float64 {
	return m.m1.Rate(m.unit)
}

// FiveMinuteRate returns the 5-minute decayed rate in the meter's unit.
func (m *RateMeter) FiveMinuteRate() float64 {
	return m.m5.Rate(m.unit)
}

// FifteenMinuteRate returns the 15-minute decayed rate in the meter's unit.
func (m *RateMeter) FifteenMinuteRate() float64 {
	return m.m15.Rate(m.unit)
}

// MeanRate returns the undecayed lifetime average rate in the meter's
// unit, 0 when nothing has been marked yet.
func (m *RateMeter) MeanRate() float64 {
	count := m.count.Get()
	if count == 0 {
		return 0
	}
	elapsed := m.clock.Since(m.start)
	if elapsed <= 0 {
		return 0
	}
	return float64(count) / float64(elapsed.Nanoseconds()) * m.unit.Nanos()
}

// EventType returns the descriptive label for the events being counted.
func (m *RateMeter) EventType() string {
	return m.eventType
}

// RateUnit returns the unit rates are presented in.
func (m *RateMeter) RateUnit() RateUnit {
	return m.unit
}

// Stop halts the ticker. The meter stays readable and markable, but its
// rates no longer decay. A tick already in flight may complete; none
// starts afterward. Stop is idempotent.
func (m *RateMeter) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
}

// Copy returns a live meter with the same event type, unit, tick interval,
// clock and start time, seeded with a snapshot of the count and rates. The
// copy owns its own ticker and must be stopped independently of the
// source.
func (m *RateMeter) Copy() Metric {
	n := &RateMeter{
		count:     NewCounter(),
		m1:        m.m1.Copy(),
		m5:        m.m5.Copy(),
		m15:       m.m15.Copy(),
		eventType: m.eventType,
		unit:      m.unit,
		interval:  m.interval,
		start:     m.start,
		clock:     m.clock,
		done:      make(chan struct{}),
	}
	n.count.Set(m.count.Get())
	n.ticker = m.clock.NewTicker(m.interval)
	go n.run()
	return n
}

func (m *RateMeter) String() string {
	return fmt.Sprintf("%s: count=%d mean=%.2f m1=%.2f m5=%.2f m15=%.2f (per %s)",
		m.eventType, m.Count(), m.MeanRate(), m.OneMinuteRate(), m.FiveMinuteRate(), m.FifteenMinuteRate(), m.unit)
}
