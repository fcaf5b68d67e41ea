package app

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/facebookgo/inject"
	"github.com/facebookgo/startstop"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmetrics/flowmeter/config"
	"github.com/flowmetrics/flowmeter/internal/health"
	"github.com/flowmetrics/flowmeter/logger"
	"github.com/flowmetrics/flowmeter/reporter"
	"github.com/flowmetrics/flowmeter/route"
	"github.com/flowmetrics/flowmeter/stats"
	"github.com/flowmetrics/flowmeter/types"
)

func newStartedApp(t *testing.T) (*App, inject.Graph) {
	c := &config.MockConfig{
		GetListenAddrVal:        "127.0.0.1:11000",
		GetTickIntervalVal:      100 * time.Millisecond,
		GetRateUnitVal:          stats.Seconds,
		GetReservoirCapacityVal: 16,
		GetMaxBodySizeVal:       1 << 20,
		GetHandleCacheSizeVal:   100,
		GetBatchNameFieldVal:    "name",
		GetBatchValueFieldVal:   "value",
		GetBatchKindFieldVal:    "kind",
		GetReporterIntervalVal:  time.Second,
		GetHealthTimeoutVal:     5 * time.Second,
		GetConfigHashVal:        "deadbeef",
	}

	lgr := &logger.LogrusLogger{
		Config: c,
	}
	lgr.SetLevel("error")

	clock := clockwork.NewRealClock()
	reg := stats.NewRegistryWithInterval(clock, 1, c.GetTickInterval())

	a := App{}

	var g inject.Graph
	err := g.Provide(
		&inject.Object{Value: c},
		&inject.Object{Value: lgr},
		&inject.Object{Value: clock},
		&inject.Object{Value: reg},
		&inject.Object{Value: &health.Health{}},
		&inject.Object{Value: &route.Router{}},
		&inject.Object{Value: &reporter.Reporter{}},
		&inject.Object{Value: &reporter.NullSink{}, Name: "consoleSink"},
		&inject.Object{Value: &reporter.NullSink{}, Name: "jsonSink"},
		&inject.Object{Value: &reporter.NullSink{}, Name: "upstreamSink"},
		&inject.Object{Value: &reporter.NullSink{}, Name: "promSink"},
		&inject.Object{Value: &http.Transport{}, Name: "upstreamTransport"},
		&inject.Object{Value: "test", Name: "version"},
		&inject.Object{Value: "test-instance", Name: "instanceID"},
		&inject.Object{Value: &a},
	)
	require.NoError(t, err)

	require.NoError(t, g.Populate())

	require.NoError(t, startstop.Start(g.Objects(), nil))

	// Racy: wait just a moment for ListenAndServe to start up.
	time.Sleep(10 * time.Millisecond)
	return &a, g
}

func TestAppIntegration(t *testing.T) {
	a, graph := newStartedApp(t)
	assert.Equal(t, "test", a.Version)
	assert.Equal(t, "test-instance", a.InstanceID)

	// the process is alive and ready once everything has started
	resp, err := http.Get("http://127.0.0.1:11000/alive")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"source":"flowmeter","alive":"yes"}`, string(body))

	resp, err = http.Get("http://127.0.0.1:11000/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// mark a meter over the wire and read it back
	resp, err = http.Post("http://127.0.0.1:11000/1/mark/requests", "application/json", strings.NewReader(`{"n": 5}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://127.0.0.1:11000/1/metrics/requests")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view types.MetricView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, types.KindMeter, view.Kind)
	assert.Equal(t, int64(5), view.Count)

	resp, err = http.Get("http://127.0.0.1:11000/version")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, `{"source":"flowmeter","version":"test","instance_id":"test-instance"}`, string(body))

	require.NoError(t, startstop.Stop(graph.Objects(), nil))
}
