package health

import (
	"sync"
	"time"

	"github.com/facebookgo/startstop"
	"github.com/jonboulle/clockwork"

	"github.com/flowmetrics/flowmeter/logger"
	"github.com/flowmetrics/flowmeter/stats"
)

// The Health object is shared by:
// - subsystems (the router, the reporter) that want to record their readiness
//   to do work
// - the router, which reads that data back when it answers liveness and
//   readiness probes
// It lives in its own package so that both sides can import it without cycles.

// A subsystem registers with the interval at which it expects to report, and
// if it goes quiet for longer than that interval we mark it (and the whole
// process) as not alive. A subsystem can also report that it is alive but not
// ready; then the process as a whole is not ready but still alive, which is
// the state we want during shutdown.

// Subsystems typically Register during Start and then call Ready on every
// work cycle. Registration alone doesn't start the countdown -- that begins
// with the first Ready call.

// Recorder is the interface subsystems use to record their own health status.
type Recorder interface {
	Register(subsystem string, timeout time.Duration)
	Unregister(subsystem string)
	Ready(subsystem string, ready bool)
}

// Reporter is the interface used to read back the health of the process.
type Reporter interface {
	IsAlive() bool
	IsReady() bool
}

// TickerTime is the interval at which we survey the registered subsystems,
// decrementing each one's countdown. A countdown that reaches 0 marks its
// subsystem as dead. This should be less than any registration timeout in
// the system.
var TickerTime = 500 * time.Millisecond

// Gauges we publish so the health state shows up alongside everything else.
const (
	isAliveGauge = "flowmeter_is_alive"
	isReadyGauge = "flowmeter_is_ready"
)

// Health tracks the liveness and readiness of every registered subsystem.
// Each one is expected to report in at least once per its timeout interval;
// if it doesn't, it gets marked as not alive.
type Health struct {
	Clock    clockwork.Clock `inject:""`
	Registry *stats.Registry `inject:""`
	Logger   logger.Logger   `inject:""`
	timeouts map[string]time.Duration
	timeLeft map[string]time.Duration
	readies  map[string]bool
	alives   map[string]bool
	mut      sync.RWMutex
	done     chan struct{}
	startstop.Starter
	startstop.Stopper
	Recorder
	Reporter
}

func (h *Health) Start() error {
	// if we don't have a logger, use the null one (makes testing easier)
	if h.Logger == nil {
		h.Logger = &logger.NullLogger{}
	}
	h.timeouts = make(map[string]time.Duration)
	h.timeLeft = make(map[string]time.Duration)
	h.readies = make(map[string]bool)
	h.alives = make(map[string]bool)
	h.done = make(chan struct{})
	if h.Registry != nil {
		if _, err := h.Registry.RegisterFunctionalGauge(isAliveGauge, func() int64 {
			return gaugeValue(h.IsAlive())
		}); err != nil {
			return err
		}
		if _, err := h.Registry.RegisterFunctionalGauge(isReadyGauge, func() int64 {
			return gaugeValue(h.IsReady())
		}); err != nil {
			return err
		}
	}
	go h.ticker()
	return nil
}

func (h *Health) Stop() error {
	close(h.done)
	if h.Registry != nil {
		h.Registry.Unregister(isAliveGauge)
		h.Registry.Unregister(isReadyGauge)
	}
	return nil
}

func gaugeValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (h *Health) ticker() {
	tick := h.Clock.NewTicker(TickerTime)
	for {
		select {
		case <-tick.Chan():
			h.mut.Lock()
			for subsystem, timeLeft := range h.timeLeft {
				// only decrement positive countdowns since 0 means dead
				if timeLeft > 0 {
					h.timeLeft[subsystem] -= TickerTime
					if h.timeLeft[subsystem] < 0 {
						h.timeLeft[subsystem] = 0
					}
				}
			}
			h.mut.Unlock()
		case <-h.done:
			return
		}
	}
}

// Register a subsystem with the health system. The timeout is the longest
// interval we expect between its reports. Once the subsystem has called Ready
// for the first time, going longer than the timeout without another call
// marks it (and the whole process) as not alive.
func (h *Health) Register(subsystem string, timeout time.Duration) {
	h.mut.Lock()
	defer h.mut.Unlock()
	h.timeouts[subsystem] = timeout
	h.readies[subsystem] = false
	// negative means no report yet, so we don't declare it dead immediately
	h.timeLeft[subsystem] = -1
	fields := map[string]any{
		"subsystem": subsystem,
		"timeout":   timeout,
	}
	h.Logger.Debug().WithFields(fields).Logf("registered subsystem with health")
	if timeout < TickerTime {
		h.Logger.Error().WithFields(fields).Logf("registering a timeout shorter than the ticker time")
	}
}

// Unregister a subsystem. It is marked as not ready and dropped from alive
// tracking, and it no longer needs to report in. Reports that do arrive are
// ignored.
func (h *Health) Unregister(subsystem string) {
	h.mut.Lock()
	defer h.mut.Unlock()
	delete(h.timeouts, subsystem)
	delete(h.timeLeft, subsystem)
	delete(h.alives, subsystem)

	// we don't remove it from readies, but an unregistered subsystem can
	// never be ready
	h.readies[subsystem] = false
}

// Ready is called by a subsystem to report its readiness to do work. If any
// subsystem is not ready, the process as a whole is not ready. Unready
// subsystems still count as alive as long as they keep reporting in.
func (h *Health) Ready(subsystem string, ready bool) {
	h.mut.Lock()
	defer h.mut.Unlock()
	if _, ok := h.timeouts[subsystem]; !ok {
		// an entry in readies without one in timeouts means the subsystem
		// called Unregister but is still reporting in; that's not an error
		if _, ok := h.readies[subsystem]; !ok {
			// never having registered at all is
			h.Logger.Error().WithField("subsystem", subsystem).Logf("Health.Ready called for unregistered subsystem")
		}
		return
	}
	if h.readies[subsystem] != ready {
		h.Logger.Info().WithFields(map[string]any{
			"subsystem": subsystem,
			"ready":     ready,
		}).Logf("subsystem changing readiness state")
	}
	h.readies[subsystem] = ready
	h.timeLeft[subsystem] = h.timeouts[subsystem]
	if !h.alives[subsystem] {
		h.alives[subsystem] = true
		h.Logger.Info().WithField("subsystem", subsystem).Logf("subsystem alive")
	}
}

// IsAlive returns true if all registered subsystems are alive.
func (h *Health) IsAlive() bool {
	h.mut.Lock()
	defer h.mut.Unlock()
	return h.checkAlive()
}

// checkAlive returns true if all registered subsystems are alive.
// Only call with the write lock held.
func (h *Health) checkAlive() bool {
	// a countdown at 0 means that subsystem is dead
	for subsystem, counter := range h.timeLeft {
		if counter == 0 {
			if h.alives[subsystem] {
				h.Logger.Error().WithField("subsystem", subsystem).Logf("subsystem dead due to missed reports")
				h.alives[subsystem] = false
			}
			return false
		}
	}
	return true
}

// IsReady returns true if all registered subsystems are ready.
func (h *Health) IsReady() bool {
	h.mut.RLock()
	defer h.mut.RUnlock()
	return h.checkReady()
}

// checkReady returns true if all registered subsystems are ready.
// Only call with the lock held.
func (h *Health) checkReady() bool {
	// nothing registered yet means not ready
	if len(h.readies) == 0 {
		h.Logger.Debug().Logf("IsReady: no subsystems have registered yet")
		return false
	}

	// a countdown that ran out means not ready
	for subsystem, counter := range h.timeLeft {
		if counter <= 0 {
			h.Logger.Info().WithFields(map[string]any{
				"subsystem": subsystem,
				"counter":   counter,
			}).Logf("IsReady false because countdown ran out")
			return false
		}
	}

	// any subsystem reporting unready makes the process unready
	ready := true
	for subsystem, r := range h.readies {
		if !r {
			h.Logger.Info().WithField("subsystem", subsystem).Logf("IsReady false because subsystem reported not ready")
		}
		ready = ready && r
	}
	return ready
}
