// Package stats is flowmeter's instrumentation core: concurrency-safe
// counters, gauges, EWMA rate estimators, uniform reservoir samplers, and
// the composite rate meter that combines them to report event throughput.
//
// Producers mutate metrics from arbitrary goroutines without coordination;
// each meter owns a background ticker that periodically folds accumulated
// counts into its decayed rates. Individual field updates are atomic and
// never lost, but no multi-field read is linearizable: a meter's count and
// its rates may reflect slightly different instants. That is the intended
// steady-state semantics for continuous monitoring, not a defect.
package stats

// Metric is the capability surface every metric kind exposes to the
// registry and reporter layers.
type Metric interface {
	// String renders the current value as text for display and export.
	String() string

	// Copy returns an independent metric of the same kind, seeded with a
	// snapshot of the current state. Mutating the source or the copy
	// afterward never affects the other. Copying never blocks writers.
	Copy() Metric
}
