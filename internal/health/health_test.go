package health

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmetrics/flowmeter/stats"
)

func TestHealthStartup(t *testing.T) {
	cl := clockwork.NewFakeClock()
	h := &Health{
		Clock: cl,
	}
	h.Start()

	// at time 0 with no registrations, it should be alive and not ready
	assert.True(t, h.IsAlive())
	assert.False(t, h.IsReady())
	h.Stop()
}

func TestHealthRegistrationNotReady(t *testing.T) {
	cl := clockwork.NewFakeClock()
	h := &Health{
		Clock: cl,
	}
	h.Start()
	// at time 0 with no registrations, it should be alive and not ready
	assert.True(t, h.IsAlive())
	assert.False(t, h.IsReady())

	// register a subsystem that will never report in
	h.Register("foo", 1500*time.Millisecond)
	// now it should also be alive and not ready
	assert.True(t, h.IsAlive())
	assert.False(t, h.IsReady())

	// and even after the timeout, it should still be alive and not ready
	for i := 0; i < 10; i++ {
		cl.Advance(500 * time.Millisecond)
		time.Sleep(1 * time.Millisecond) // give goroutines time to run
	}
	assert.True(t, h.IsAlive())
	assert.False(t, h.IsReady())
	h.Stop()
}

func TestHealthRegistrationAndReady(t *testing.T) {
	cl := clockwork.NewFakeClock()
	h := &Health{
		Clock: cl,
	}
	h.Start()
	// register a subsystem
	h.Register("foo", 1500*time.Millisecond)
	cl.Advance(500 * time.Millisecond)
	// tell h we're ready
	h.Ready("foo", true)
	// now h should also be alive and ready
	assert.True(t, h.IsAlive())
	assert.True(t, h.IsReady())

	// make some periodic ready calls, it should stay alive and ready
	for i := 0; i < 10; i++ {
		h.Ready("foo", true)
		cl.Advance(500 * time.Millisecond)
		time.Sleep(1 * time.Millisecond) // give goroutines time to run
		assert.True(t, h.IsAlive())
		assert.True(t, h.IsReady())
	}

	// now run for a bit with no ready calls, it should be dead and not ready
	for i := 0; i < 10; i++ {
		cl.Advance(500 * time.Millisecond)
		time.Sleep(1 * time.Millisecond) // give goroutines time to run
	}
	assert.False(t, h.IsAlive())
	assert.False(t, h.IsReady())
	h.Stop()
}

func TestHealthReadyFalse(t *testing.T) {
	cl := clockwork.NewFakeClock()
	h := &Health{
		Clock: cl,
	}
	h.Start()
	h.Register("foo", 1500*time.Millisecond)
	h.Ready("foo", true)

	cl.Advance(500 * time.Millisecond)
	time.Sleep(1 * time.Millisecond) // give goroutines time to run
	assert.True(t, h.IsAlive())
	assert.True(t, h.IsReady())

	// tell it we're not ready
	h.Ready("foo", false)
	cl.Advance(500 * time.Millisecond)
	time.Sleep(1 * time.Millisecond) // give goroutines time to run
	assert.True(t, h.IsAlive())
	assert.False(t, h.IsReady())
	h.Stop()
}

func TestNotReadyFromOneSubsystem(t *testing.T) {
	cl := clockwork.NewFakeClock()
	h := &Health{
		Clock: cl,
	}
	h.Start()
	h.Register("foo", 1500*time.Millisecond)
	h.Register("bar", 1500*time.Millisecond)
	h.Register("baz", 1500*time.Millisecond)
	h.Ready("foo", true)
	h.Ready("bar", true)
	h.Ready("baz", true)
	assert.True(t, h.IsAlive())
	assert.True(t, h.IsReady())

	// make bar not ready
	h.Ready("bar", false)
	cl.Advance(500 * time.Millisecond)
	time.Sleep(1 * time.Millisecond) // give goroutines time to run
	assert.True(t, h.IsAlive())
	assert.False(t, h.IsReady())
	h.Stop()
}

func TestUnregisteredSubsystemStopsCounting(t *testing.T) {
	cl := clockwork.NewFakeClock()
	h := &Health{
		Clock: cl,
	}
	h.Start()
	h.Register("foo", 1500*time.Millisecond)
	h.Register("bar", 1500*time.Millisecond)
	h.Ready("foo", true)
	h.Ready("bar", true)
	assert.True(t, h.IsReady())

	// once bar unregisters, its silence can't kill the process
	h.Unregister("bar")
	for i := 0; i < 10; i++ {
		h.Ready("foo", true)
		cl.Advance(500 * time.Millisecond)
		time.Sleep(1 * time.Millisecond) // give goroutines time to run
	}
	assert.True(t, h.IsAlive())
	// but a subsystem that unregistered is never ready
	assert.False(t, h.IsReady())

	// late reports from it are ignored without complaint
	h.Ready("bar", true)
	assert.False(t, h.IsReady())
	h.Stop()
}

func TestHealthGauges(t *testing.T) {
	cl := clockwork.NewFakeClock()
	reg := stats.NewRegistry(cl, 1)
	h := &Health{
		Clock:    cl,
		Registry: reg,
	}
	require.NoError(t, h.Start())

	m, ok := reg.Get("flowmeter_is_alive")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.(*stats.FunctionalGauge).Get())

	m, ok = reg.Get("flowmeter_is_ready")
	require.True(t, ok)
	ready := m.(*stats.FunctionalGauge)
	assert.Equal(t, int64(0), ready.Get())

	h.Register("foo", 1500*time.Millisecond)
	h.Ready("foo", true)
	assert.Equal(t, int64(1), ready.Get())

	// the gauges go away with the health system
	h.Stop()
	_, ok = reg.Get("flowmeter_is_alive")
	assert.False(t, ok)
	_, ok = reg.Get("flowmeter_is_ready")
	assert.False(t, ok)
}
