package types

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/flowmetrics/flowmeter/stats"
)

// RequestIDContextKey is the context key under which the router middleware
// stores the generated request id.
type RequestIDContextKey struct{}

// MarkRequest is the body of a mark call. Every field is optional: N
// defaults to 1, and EventType and Unit only matter on the call that
// creates the meter.
type MarkRequest struct {
	N         int64  `json:"n,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

// ObserveRequest is the body of an observe call. Capacity only matters on
// the call that creates the reservoir; later values are ignored.
type ObserveRequest struct {
	Value    int64 `json:"value"`
	Capacity int   `json:"capacity,omitempty"`
}

// Kind labels for MetricView; these are the strings the batch kind field
// accepts as well.
const (
	KindCounter   = "counter"
	KindGauge     = "gauge"
	KindMeter     = "meter"
	KindReservoir = "reservoir"
)

// MetricView is the exported snapshot of one registered metric. Kind says
// which of the remaining fields carry data; everything else is omitted
// from the JSON encoding.
type MetricView struct {
	Name string `json:"name"`
	Kind string `json:"kind"`

	// counters and gauges
	Value int64 `json:"value,omitempty"`

	// meters
	EventType         string  `json:"event_type,omitempty"`
	Count             int64   `json:"count,omitempty"`
	OneMinuteRate     float64 `json:"rate_1m,omitempty"`
	FiveMinuteRate    float64 `json:"rate_5m,omitempty"`
	FifteenMinuteRate float64 `json:"rate_15m,omitempty"`
	MeanRate          float64 `json:"rate_mean,omitempty"`
	Unit              string  `json:"unit,omitempty"`

	// reservoirs
	Samples  int     `json:"samples,omitempty"`
	Capacity int     `json:"capacity,omitempty"`
	Observed int64   `json:"observed,omitempty"`
	Mean     float64 `json:"mean,omitempty"`
}

// ViewOf flattens a metric into its exported view. It reads the metric
// directly, so hand it a copy when the source is still being written to
// and the view needs to be internally consistent.
func ViewOf(name string, m stats.Metric) MetricView {
	v := MetricView{Name: name}
	switch t := m.(type) {
	case *stats.Counter:
		v.Kind = KindCounter
		v.Value = t.Get()
	case *stats.Gauge:
		v.Kind = KindGauge
		v.Value = t.Get()
	case *stats.FunctionalGauge:
		v.Kind = KindGauge
		v.Value = t.Get()
	case *stats.RateMeter:
		v.Kind = KindMeter
		v.EventType = t.EventType()
		v.Count = t.Count()
		v.OneMinuteRate = t.OneMinuteRate()
		v.FiveMinuteRate = t.FiveMinuteRate()
		v.FifteenMinuteRate = t.FifteenMinuteRate()
		v.MeanRate = t.MeanRate()
		v.Unit = t.RateUnit().String()
	case *stats.UniformReservoir:
		v.Kind = KindReservoir
		v.Samples = t.Count()
		v.Capacity = t.Capacity()
		v.Observed = t.Observed()
		v.Mean = t.Mean()
	}
	return v
}

// ViewsOf flattens a snapshot into views sorted by name.
func ViewsOf(snapshot map[string]stats.Metric) []MetricView {
	names := maps.Keys(snapshot)
	slices.Sort(names)
	views := make([]MetricView, 0, len(names))
	for _, name := range names {
		views = append(views, ViewOf(name, snapshot[name]))
	}
	return views
}
