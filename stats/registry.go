package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Registry is a named collection of metrics with get-or-create semantics.
// It hands every meter the shared clock and derives every reservoir's
// random seed from the metric name and the registry seed, so a fixed seed
// reproduces sampling behavior across runs regardless of registration
// order.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric

	clock    clockwork.Clock
	seed     uint64
	interval time.Duration
}

// NewRegistry returns a registry whose meters tick every
// DefaultTickInterval on the given clock. seed feeds per-reservoir random
// sources; pass a fixed value for reproducible sampling.
func NewRegistry(clock clockwork.Clock, seed uint64) *Registry {
	return NewRegistryWithInterval(clock, seed, DefaultTickInterval)
}

// NewRegistryWithInterval is NewRegistry with an explicit meter tick
// interval.
func NewRegistryWithInterval(clock clockwork.Clock, seed uint64, interval time.Duration) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Registry{
		metrics:  make(map[string]Metric),
		clock:    clock,
		seed:     seed,
		interval: interval,
	}
}

// GetOrCreateMeter returns the meter registered under name, creating it if
// needed. eventType and unit are honored only at creation. It fails when
// name is already registered as a different kind.
func (r *Registry) GetOrCreateMeter(name, eventType string, unit RateUnit) (*RateMeter, error) {
	if m, ok, err := existing[*RateMeter](r, name); ok || err != nil {
		return m, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[name]; ok {
		return assertKind[*RateMeter](name, m)
	}
	m := NewRateMeterWithInterval(eventType, unit, r.clock, r.interval)
	r.metrics[name] = m
	return m, nil
}

// GetOrCreateReservoir returns the reservoir registered under name,
// creating it with the given capacity if needed. capacity is honored only
// at creation.
func (r *Registry) GetOrCreateReservoir(name string, capacity int) (*UniformReservoir, error) {
	if m, ok, err := existing[*UniformReservoir](r, name); ok || err != nil {
		return m, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[name]; ok {
		return assertKind[*UniformReservoir](name, m)
	}
	m := NewUniformReservoir(capacity, NewRand(SeedFor(r.seed, name)))
	r.metrics[name] = m
	return m, nil
}

// GetOrCreateCounter returns the counter registered under name, creating
// it if needed.
func (r *Registry) GetOrCreateCounter(name string) (*Counter, error) {
	if m, ok, err := existing[*Counter](r, name); ok || err != nil {
		return m, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[name]; ok {
		return assertKind[*Counter](name, m)
	}
	m := NewCounter()
	r.metrics[name] = m
	return m, nil
}

// GetOrCreateGauge returns the gauge registered under name, creating it if
// needed.
func (r *Registry) GetOrCreateGauge(name string) (*Gauge, error) {
	if m, ok, err := existing[*Gauge](r, name); ok || err != nil {
		return m, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[name]; ok {
		return assertKind[*Gauge](name, m)
	}
	m := NewGauge()
	r.metrics[name] = m
	return m, nil
}

// RegisterFunctionalGauge registers an evaluator-backed gauge under name.
// Unlike the get-or-create methods it fails when the name is taken, since
// two closures cannot be merged.
func (r *Registry) RegisterFunctionalGauge(name string, eval func() int64) (*FunctionalGauge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[name]; ok {
		return nil, fmt.Errorf("metric %q is already registered", name)
	}
	m := NewFunctionalGauge(eval)
	r.metrics[name] = m
	return m, nil
}

// Get returns the metric registered under name.
func (r *Registry) Get(name string) (Metric, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[name]
	return m, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := maps.Keys(r.metrics)
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Each visits every metric in name order. fn must not call back into
// methods that take the registry lock.
func (r *Registry) Each(fn func(name string, m Metric)) {
	for _, name := range r.Names() {
		if m, ok := r.Get(name); ok {
			fn(name, m)
		}
	}
}

// Snapshot returns independent copies of every registered metric, keyed by
// name. Reporters consume the copies without holding references producers
// keep mutating underneath them. Copied meters are stopped so they do not
// tick on their own.
func (r *Registry) Snapshot() map[string]Metric {
	out := make(map[string]Metric, r.Len())
	r.Each(func(name string, m Metric) {
		c := m.Copy()
		if meter, ok := c.(*RateMeter); ok {
			meter.Stop()
		}
		out[name] = c
	})
	return out
}

// Unregister removes the metric registered under name, stopping its ticker
// when it is a meter. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	m, ok := r.metrics[name]
	delete(r.metrics, name)
	r.mu.Unlock()
	if !ok {
		return
	}
	if meter, ok := m.(*RateMeter); ok {
		meter.Stop()
	}
}

// StopAll stops every registered meter's ticker. Called at shutdown; the
// metrics stay readable.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.metrics {
		if meter, ok := m.(*RateMeter); ok {
			meter.Stop()
		}
	}
}

// Stop implements startstop.Stopper so a registry in the injection graph
// has its meters stopped at shutdown.
func (r *Registry) Stop() error {
	r.StopAll()
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.metrics)
}

// existing is the fast path for get-or-create: a read-locked lookup that
// kind-checks any hit.
func existing[T Metric](r *Registry, name string) (T, bool, error) {
	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false, nil
	}
	t, err := assertKind[T](name, m)
	return t, true, err
}

func assertKind[T Metric](name string, m Metric) (T, error) {
	t, ok := m.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("metric %q is registered as %T, not %T", name, m, zero)
	}
	return t, nil
}
