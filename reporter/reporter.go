package reporter

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/pool"

	"github.com/flowmetrics/flowmeter/config"
	"github.com/flowmetrics/flowmeter/internal/health"
	"github.com/flowmetrics/flowmeter/logger"
	"github.com/flowmetrics/flowmeter/stats"
	"github.com/flowmetrics/flowmeter/types"
)

const reporterHealthSource = "reporter"

// maxConcurrentFlushes bounds how many sinks flush at once in a cycle.
const maxConcurrentFlushes = 2

// Snapshot is one reporting cycle's view of every registered metric.
// Metrics holds independent copies, so sinks can read them without racing
// the live registry; Views holds the same data flattened and sorted by
// name.
type Snapshot struct {
	At      time.Time
	Metrics map[string]stats.Metric
	Views   []types.MetricView
}

// Sink is one destination for metric snapshots. The reporter calls Report
// once per cycle and waits for every sink before the next one, so a sink
// never sees concurrent calls to itself. A returned error is logged and the
// cycle goes on.
type Sink interface {
	Name() string
	Report(ctx context.Context, snap *Snapshot) error
}

// NullSink stands in for sinks that are disabled in config.
type NullSink struct{}

func (n *NullSink) Name() string                            { return "null" }
func (n *NullSink) Report(context.Context, *Snapshot) error { return nil }

// Reporter periodically snapshots the registry and fans the snapshot out to
// zero or more sinks.
//
// Every sink slot is injected by name so that disabled ones can be provided
// as NullSink; Start collects the real ones. A failing sink only loses its
// own copy of that cycle. The reporter records its own health, so a cycle
// that wedges eventually turns the whole process unhealthy.
type Reporter struct {
	Config   config.Config   `inject:""`
	Logger   logger.Logger   `inject:""`
	Registry *stats.Registry `inject:""`
	Health   health.Recorder `inject:""`
	Clock    clockwork.Clock `inject:""`

	ConsoleSink  Sink `inject:"consoleSink"`
	JSONSink     Sink `inject:"jsonSink"`
	UpstreamSink Sink `inject:"upstreamSink"`
	PromSink     Sink `inject:"promSink"`

	sinks    []Sink
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
}

func (r *Reporter) Start() error {
	r.interval = r.Config.GetReporterInterval()
	for _, s := range []Sink{r.ConsoleSink, r.JSONSink, r.UpstreamSink, r.PromSink} {
		if s == nil {
			continue
		}
		if _, ok := s.(*NullSink); ok {
			continue
		}
		r.sinks = append(r.sinks, s)
	}
	names := make([]string, len(r.sinks))
	for i, s := range r.sinks {
		names[i] = s.Name()
	}
	r.Logger.Info().WithField("sinks", names).WithField("interval", r.interval).Logf("starting metrics reporter")

	r.done = make(chan struct{})
	// the health timeout allows for one cycle that flushes right up to its
	// deadline plus a little scheduling slack
	r.Health.Register(reporterHealthSource, 3*r.interval)
	r.Health.Ready(reporterHealthSource, true)
	r.wg.Add(1)
	go r.run()
	return nil
}

func (r *Reporter) Stop() error {
	r.Health.Ready(reporterHealthSource, false)
	close(r.done)
	r.wg.Wait()
	return nil
}

func (r *Reporter) run() {
	defer r.wg.Done()
	tick := r.Clock.NewTicker(r.interval)
	defer tick.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-tick.Chan():
			r.report()
			r.Health.Ready(reporterHealthSource, true)
		}
	}
}

// report takes one snapshot and hands it to every sink.
func (r *Reporter) report() {
	if len(r.sinks) == 0 {
		return
	}
	metrics := r.Registry.Snapshot()
	snap := &Snapshot{
		At:      r.Clock.Now(),
		Metrics: metrics,
		Views:   types.ViewsOf(metrics),
	}
	// a sink gets at most one interval to flush; anything slower would back
	// up behind the next cycle
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	p := pool.New().WithMaxGoroutines(maxConcurrentFlushes)
	for _, s := range r.sinks {
		p.Go(func() {
			if err := s.Report(ctx, snap); err != nil {
				r.Logger.Error().WithString("sink", s.Name()).WithField("error.detail", err.Error()).Logf("metrics report failed")
			}
		})
	}
	p.Wait()
}
