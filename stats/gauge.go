package stats

import (
	"fmt"
	"sync/atomic"
)

// Gauge is a settable 64-bit value.
type Gauge struct {
	v atomic.Int64
}

var _ Metric = (*Gauge)(nil)

func NewGauge() *Gauge {
	return &Gauge{}
}

func (g *Gauge) Set(v int64) {
	g.v.Store(v)
}

func (g *Gauge) Get() int64 {
	return g.v.Load()
}

func (g *Gauge) Copy() Metric {
	n := NewGauge()
	n.Set(g.Get())
	return n
}

func (g *Gauge) String() string {
	return fmt.Sprintf("value=%d", g.Get())
}

// FunctionalGauge reports the result of an evaluator closure at read time.
// The closure must be safe to call from any goroutine.
type FunctionalGauge struct {
	eval func() int64
}

var _ Metric = (*FunctionalGauge)(nil)

func NewFunctionalGauge(eval func() int64) *FunctionalGauge {
	return &FunctionalGauge{eval: eval}
}

func (g *FunctionalGauge) Get() int64 {
	return g.eval()
}

// Copy freezes the evaluated value into a settable Gauge; the evaluator
// closure itself cannot be meaningfully duplicated.
func (g *FunctionalGauge) Copy() Metric {
	n := NewGauge()
	n.Set(g.Get())
	return n
}

func (g *FunctionalGauge) String() string {
	return fmt.Sprintf("value=%d", g.Get())
}
