package types

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/flowmetrics/flowmeter/stats"
)

func TestViewOfCounter(t *testing.T) {
	c := stats.NewCounter()
	c.Add(42)
	v := ViewOf("reqs", c)
	assert.Equal(t, "reqs", v.Name)
	assert.Equal(t, KindCounter, v.Kind)
	assert.Equal(t, int64(42), v.Value)
}

func TestViewOfGauges(t *testing.T) {
	g := stats.NewGauge()
	g.Set(17)
	v := ViewOf("depth", g)
	assert.Equal(t, KindGauge, v.Kind)
	assert.Equal(t, int64(17), v.Value)

	fg := stats.NewFunctionalGauge(func() int64 { return 99 })
	v = ViewOf("goroutines", fg)
	assert.Equal(t, KindGauge, v.Kind)
	assert.Equal(t, int64(99), v.Value)
}

func TestViewOfMeter(t *testing.T) {
	cl := clockwork.NewFakeClock()
	m := stats.NewRateMeter("spans", stats.Seconds, cl)
	defer m.Stop()
	m.Mark(10)

	v := ViewOf("ingest", m)
	assert.Equal(t, KindMeter, v.Kind)
	assert.Equal(t, "spans", v.EventType)
	assert.Equal(t, int64(10), v.Count)
	assert.Equal(t, "seconds", v.Unit)
}

func TestViewOfReservoir(t *testing.T) {
	r := stats.NewUniformReservoir(4, stats.NewRand(1))
	r.Update(10)
	r.Update(20)

	v := ViewOf("latency", r)
	assert.Equal(t, KindReservoir, v.Kind)
	assert.Equal(t, 2, v.Samples)
	assert.Equal(t, 4, v.Capacity)
	assert.Equal(t, int64(2), v.Observed)
	assert.Equal(t, 15.0, v.Mean)
}

func TestViewsOfSortsByName(t *testing.T) {
	cl := clockwork.NewFakeClock()
	reg := stats.NewRegistryWithInterval(cl, 1, time.Second)
	_, err := reg.GetOrCreateCounter("zebra")
	assert.NoError(t, err)
	_, err = reg.GetOrCreateCounter("aardvark")
	assert.NoError(t, err)
	_, err = reg.GetOrCreateGauge("marmot")
	assert.NoError(t, err)

	views := ViewsOf(reg.Snapshot())
	assert.Len(t, views, 3)
	assert.Equal(t, "aardvark", views[0].Name)
	assert.Equal(t, "marmot", views[1].Name)
	assert.Equal(t, "zebra", views[2].Name)
}
