package reporter

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowmetrics/flowmeter/config"
	"github.com/flowmetrics/flowmeter/logger"
	"github.com/flowmetrics/flowmeter/types"
)

// PromSink republishes each snapshot as prometheus gauges and serves them
// on a scrape endpoint, so an existing prometheus installation can collect
// flowmeter data without speaking the reporter protocol. Everything becomes
// a gauge because each cycle overwrites the previous value, counts
// included.
type PromSink struct {
	Config config.Config `inject:""`
	Logger logger.Logger `inject:""`

	// gauges keeps a record of everything registered so far so we can set
	// values by name on each cycle
	gauges   map[string]prometheus.Gauge
	lock     sync.RWMutex
	registry *prometheus.Registry
}

func (p *PromSink) Name() string { return "prometheus" }

func (p *PromSink) Start() error {
	p.Logger.Debug().Logf("Starting PromSink")
	defer func() { p.Logger.Debug().Logf("Finished starting PromSink") }()
	pc := p.Config.GetPrometheus()

	p.init()

	muxxer := mux.NewRouter()
	muxxer.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	go http.ListenAndServe(pc.ListenAddr, muxxer)
	return nil
}

func (p *PromSink) init() {
	p.gauges = make(map[string]prometheus.Gauge)
	p.registry = prometheus.NewRegistry()
}

func (p *PromSink) Report(ctx context.Context, snap *Snapshot) error {
	for _, v := range snap.Views {
		base := promName(v.Name)
		switch v.Kind {
		case types.KindCounter, types.KindGauge:
			p.ensureGauge(base).Set(float64(v.Value))
		case types.KindMeter:
			p.ensureGauge(base + "_count").Set(float64(v.Count))
			p.ensureGauge(base + "_rate_1m").Set(v.OneMinuteRate)
			p.ensureGauge(base + "_rate_5m").Set(v.FiveMinuteRate)
			p.ensureGauge(base + "_rate_15m").Set(v.FifteenMinuteRate)
			p.ensureGauge(base + "_rate_mean").Set(v.MeanRate)
		case types.KindReservoir:
			p.ensureGauge(base + "_samples").Set(float64(v.Samples))
			p.ensureGauge(base + "_observed").Set(float64(v.Observed))
			p.ensureGauge(base + "_mean").Set(v.Mean)
		}
	}
	return nil
}

// ensureGauge returns the gauge for a name, registering it the first time.
// Don't register twice; that makes the prometheus client panic.
func (p *PromSink) ensureGauge(name string) prometheus.Gauge {
	p.lock.RLock()
	g, exists := p.gauges[name]
	p.lock.RUnlock()
	if exists {
		return g
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	if g, exists = p.gauges[name]; exists {
		return g
	}
	g = promauto.With(p.registry).NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: name,
	})
	p.gauges[name] = g
	return g
}

// promName mangles a metric name into prometheus's [a-zA-Z0-9_:] alphabet.
// Ingested names can be anything, so distinct names can collide here; the
// colliders just share a gauge.
func promName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_' || r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			// names can't start with a digit
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
