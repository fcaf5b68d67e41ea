package route

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/facebookgo/inject"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/flowmetrics/flowmeter/config"
	"github.com/flowmetrics/flowmeter/internal/health"
	"github.com/flowmetrics/flowmeter/logger"
	"github.com/flowmetrics/flowmeter/stats"
	"github.com/flowmetrics/flowmeter/types"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()

	cl := clockwork.NewFakeClock()
	cache, err := lru.New[string, *stats.RateMeter](100)
	require.NoError(t, err)
	decoders, err := makeDecoders(1)
	require.NoError(t, err)

	reg := stats.NewRegistryWithInterval(cl, 1, time.Second)
	router := &Router{
		Config: &config.MockConfig{
			GetListenAddrVal:        "127.0.0.1:8080",
			GetMaxBodySizeVal:       1 << 20,
			GetHandleCacheSizeVal:   100,
			GetRateUnitVal:          stats.Seconds,
			GetReservoirCapacityVal: 8,
			GetBatchNameFieldVal:    "name",
			GetBatchValueFieldVal:   "value",
			GetBatchKindFieldVal:    "kind",
			GetHealthTimeoutVal:     5 * time.Second,
		},
		Logger:       &logger.MockLogger{},
		Registry:     reg,
		Clock:        cl,
		meterCache:   cache,
		zstdDecoders: decoders,
	}
	router.ingestEvents, err = reg.GetOrCreateMeter("flowmeter_ingest_events", "events", stats.Seconds)
	require.NoError(t, err)
	t.Cleanup(reg.StopAll)
	return router
}

func TestDecompression(t *testing.T) {
	payload := `{"n": 3}`
	pReader := strings.NewReader(payload)

	decoders, err := makeDecoders(1)
	require.NoError(t, err)

	router := &Router{zstdDecoders: decoders}
	req := &http.Request{
		Body:   io.NopCloser(pReader),
		Header: http.Header{},
	}
	reader, err := router.getMaybeCompressedBody(req)
	require.NoError(t, err)
	b, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, string(b))

	buf := &bytes.Buffer{}
	w := gzip.NewWriter(buf)
	_, err = w.Write([]byte(payload))
	require.NoError(t, err)
	w.Close()

	req.Body = io.NopCloser(buf)
	req.Header.Set("Content-Encoding", "gzip")
	reader, err = router.getMaybeCompressedBody(req)
	require.NoError(t, err)
	b, err = io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, string(b))

	buf = &bytes.Buffer{}
	zstdW, err := zstd.NewWriter(buf)
	require.NoError(t, err)
	_, err = zstdW.Write([]byte(payload))
	require.NoError(t, err)
	zstdW.Close()

	req.Body = io.NopCloser(buf)
	req.Header.Set("Content-Encoding", "zstd")
	reader, err = router.getMaybeCompressedBody(req)
	require.NoError(t, err)
	b, err = io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, string(b))
}

func TestUnmarshal(t *testing.T) {
	t.Run("invalid content type defaults to JSON", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/test", nil)
		req.Header.Set("Content-Type", "nope")

		var mr types.MarkRequest
		err := unmarshal(req, strings.NewReader(`{"n": 7}`), &mr)
		assert.NoError(t, err)
		assert.Equal(t, int64(7), mr.N)
	})

	t.Run("msgpack", func(t *testing.T) {
		body, err := msgpack.Marshal(types.MarkRequest{N: 5, EventType: "spans"})
		require.NoError(t, err)

		for _, contentType := range []string{"application/msgpack", "application/x-msgpack"} {
			t.Run(contentType, func(t *testing.T) {
				req := httptest.NewRequest("POST", "/test", nil)
				req.Header.Set("Content-Type", contentType)

				var mr types.MarkRequest
				err := unmarshal(req, bytes.NewReader(body), &mr)
				require.NoError(t, err)
				assert.Equal(t, int64(5), mr.N)
				assert.Equal(t, "spans", mr.EventType)
			})
		}
	})
}

func markRequest(t *testing.T, name, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", "/1/mark/"+name, strings.NewReader(body))
	require.NoError(t, err)
	return mux.SetURLVars(req, map[string]string{"name": name})
}

func TestMarkDefaultsToOne(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.mark(rr, markRequest(t, "requests", ""))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `{"status":"ok"}`, rr.Body.String())

	m, ok := router.Registry.Get("requests")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.(*stats.RateMeter).Count())
}

func TestMarkWithCount(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.mark(rr, markRequest(t, "requests", `{"n": 5}`))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.mark(rr, markRequest(t, "requests", `{"n": 2}`))
	assert.Equal(t, http.StatusOK, rr.Code)

	m, _ := router.Registry.Get("requests")
	assert.Equal(t, int64(7), m.(*stats.RateMeter).Count())
	// ingest meter ticks once per request
	assert.Equal(t, int64(2), router.ingestEvents.Count())
}

func TestMarkHonorsEventTypeAndUnitOnFirstTouch(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.mark(rr, markRequest(t, "spans", `{"n": 1, "event_type": "spans", "unit": "minutes"}`))
	require.Equal(t, http.StatusOK, rr.Code)

	m, _ := router.Registry.Get("spans")
	meter := m.(*stats.RateMeter)
	assert.Equal(t, "spans", meter.EventType())
	assert.Equal(t, stats.Minutes, meter.RateUnit())

	// a different unit on the second touch is ignored
	rr = httptest.NewRecorder()
	router.mark(rr, markRequest(t, "spans", `{"unit": "hours"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, stats.Minutes, meter.RateUnit())
}

func TestMarkRejectsBadUnit(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.mark(rr, markRequest(t, "requests", `{"unit": "fortnights"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "failed to parse mark request")
}

func TestMarkKindConflict(t *testing.T) {
	router := newTestRouter(t)
	_, err := router.Registry.GetOrCreateReservoir("latency", 8)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	router.mark(rr, markRequest(t, "latency", ""))
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "metric kind conflict")
}

func observeRequest(t *testing.T, name, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", "/1/observe/"+name, strings.NewReader(body))
	require.NoError(t, err)
	return mux.SetURLVars(req, map[string]string{"name": name})
}

func TestObserve(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.observe(rr, observeRequest(t, "latency", `{"value": 123}`))
	assert.Equal(t, http.StatusOK, rr.Code)

	m, ok := router.Registry.Get("latency")
	require.True(t, ok)
	res := m.(*stats.UniformReservoir)
	assert.Equal(t, []int64{123}, res.Values())
	// capacity came from config
	assert.Equal(t, 8, res.Capacity())
}

func TestObserveCapacityAtCreationOnly(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.observe(rr, observeRequest(t, "latency", `{"value": 1, "capacity": 4}`))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.observe(rr, observeRequest(t, "latency", `{"value": 2, "capacity": 99}`))
	require.Equal(t, http.StatusOK, rr.Code)

	m, _ := router.Registry.Get("latency")
	res := m.(*stats.UniformReservoir)
	assert.Equal(t, 4, res.Capacity())
	assert.Equal(t, int64(2), res.Observed())
}

func TestObserveRejectsNegativeCapacity(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.observe(rr, observeRequest(t, "latency", `{"value": 1, "capacity": -3}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "must not be negative")
}

func batchRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", "/1/batch", strings.NewReader(body))
	require.NoError(t, err)
	return req
}

func TestBatch(t *testing.T) {
	router := newTestRouter(t)

	body := `[
		{"name": "requests"},
		{"name": "latency", "value": 42},
		{"name": "widgets", "value": 3, "kind": "counter"},
		{"name": "depth", "value": 9, "kind": "gauge"},
		{"name": "requests", "kind": "meter", "value": 4}
	]`
	rr := httptest.NewRecorder()
	router.batch(rr, batchRequest(t, body))
	require.Equal(t, http.StatusOK, rr.Code)

	var responses []*BatchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &responses))
	require.Len(t, responses, 5)
	for i, resp := range responses {
		assert.Equal(t, http.StatusAccepted, resp.Status, "response %d should be accepted", i)
		assert.Empty(t, resp.Error, "response %d should have no error", i)
	}

	m, _ := router.Registry.Get("requests")
	assert.Equal(t, int64(5), m.(*stats.RateMeter).Count())

	m, _ = router.Registry.Get("latency")
	assert.Equal(t, []int64{42}, m.(*stats.UniformReservoir).Values())

	m, _ = router.Registry.Get("widgets")
	assert.Equal(t, int64(3), m.(*stats.Counter).Get())

	m, _ = router.Registry.Get("depth")
	assert.Equal(t, int64(9), m.(*stats.Gauge).Get())

	assert.Equal(t, int64(5), router.ingestEvents.Count())
}

func TestBatchPerEventFailures(t *testing.T) {
	router := newTestRouter(t)
	_, err := router.Registry.GetOrCreateCounter("widgets")
	require.NoError(t, err)

	body := `[
		{"value": 1},
		{"name": "x", "kind": "histogram"},
		{"name": "widgets", "kind": "gauge", "value": 2},
		{"name": "ok"}
	]`
	rr := httptest.NewRecorder()
	router.batch(rr, batchRequest(t, body))
	require.Equal(t, http.StatusOK, rr.Code)

	var responses []*BatchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &responses))
	require.Len(t, responses, 4)

	assert.Equal(t, http.StatusBadRequest, responses[0].Status)
	assert.Contains(t, responses[0].Error, "no metric name")

	assert.Equal(t, http.StatusBadRequest, responses[1].Status)
	assert.Contains(t, responses[1].Error, "unknown metric kind")

	assert.Equal(t, http.StatusConflict, responses[2].Status)

	assert.Equal(t, http.StatusAccepted, responses[3].Status)
	assert.Equal(t, int64(1), router.ingestEvents.Count())
}

func TestBatchRejectsNonArray(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.batch(rr, batchRequest(t, `{"name": "requests"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "failed to parse JSON")
}

func TestGetMetrics(t *testing.T) {
	router := newTestRouter(t)
	c, err := router.Registry.GetOrCreateCounter("widgets")
	require.NoError(t, err)
	c.Add(12)

	req, _ := http.NewRequest("GET", "/1/metrics", nil)
	rr := httptest.NewRecorder()
	router.getMetrics(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var views []types.MetricView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &views))
	// the dogfood ingest meter plus widgets
	require.Len(t, views, 2)
	assert.Equal(t, "flowmeter_ingest_events", views[0].Name)
	assert.Equal(t, "widgets", views[1].Name)
	assert.Equal(t, int64(12), views[1].Value)
}

func TestGetMetric(t *testing.T) {
	router := newTestRouter(t)
	g, err := router.Registry.GetOrCreateGauge("depth")
	require.NoError(t, err)
	g.Set(4)

	req, _ := http.NewRequest("GET", "/1/metrics/depth", nil)
	req = mux.SetURLVars(req, map[string]string{"name": "depth"})
	rr := httptest.NewRecorder()
	router.getMetric(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var view types.MetricView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, types.KindGauge, view.Kind)
	assert.Equal(t, int64(4), view.Value)
}

func TestGetMetricSuggestsNearestName(t *testing.T) {
	router := newTestRouter(t)
	_, err := router.Registry.GetOrCreateGauge("depth")
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", "/1/metrics/detph", nil)
	req = mux.SetURLVars(req, map[string]string{"name": "detph"})
	rr := httptest.NewRecorder()
	router.getMetric(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "did you mean")
	assert.Contains(t, rr.Body.String(), "depth")
}

func TestGetMetricNoSuggestionWhenFar(t *testing.T) {
	router := newTestRouter(t)

	req, _ := http.NewRequest("GET", "/1/metrics/zzzzzzzzzzzzzzzz", nil)
	req = mux.SetURLVars(req, map[string]string{"name": "zzzzzzzzzzzzzzzz"})
	rr := httptest.NewRecorder()
	router.getMetric(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NotContains(t, rr.Body.String(), "did you mean")
}

func TestDeleteMetric(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.mark(rr, markRequest(t, "requests", ""))
	require.Equal(t, http.StatusOK, rr.Code)

	req, _ := http.NewRequest("DELETE", "/1/metrics/requests", nil)
	req = mux.SetURLVars(req, map[string]string{"name": "requests"})
	rr = httptest.NewRecorder()
	router.deleteMetric(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	_, ok := router.Registry.Get("requests")
	assert.False(t, ok)
	// the handle cache forgot it too, so a new mark recreates it
	rr = httptest.NewRecorder()
	router.mark(rr, markRequest(t, "requests", ""))
	require.Equal(t, http.StatusOK, rr.Code)
	m, ok := router.Registry.Get("requests")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.(*stats.RateMeter).Count())
}

func TestDeleteMetricUnknown(t *testing.T) {
	router := newTestRouter(t)

	req, _ := http.NewRequest("DELETE", "/1/metrics/nope", nil)
	req = mux.SetURLVars(req, map[string]string{"name": "nope"})
	rr := httptest.NewRecorder()
	router.deleteMetric(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAliveAndReady(t *testing.T) {
	cl := clockwork.NewFakeClock()
	h := &health.Health{Clock: cl}
	require.NoError(t, h.Start())
	defer h.Stop()

	router := newTestRouter(t)
	router.Health = h

	req, _ := http.NewRequest("GET", "/alive", nil)
	rr := httptest.NewRecorder()
	router.alive(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `{"source":"flowmeter","alive":"yes"}`, rr.Body.String())

	// nothing has registered, so the service is alive but not ready
	req, _ = http.NewRequest("GET", "/ready", nil)
	rr = httptest.NewRecorder()
	router.ready(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, `{"source":"flowmeter","ready":"no"}`, rr.Body.String())

	h.Register("sub", time.Second)
	h.Ready("sub", true)
	rr = httptest.NewRecorder()
	router.ready(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestVersionEndpoint(t *testing.T) {
	router := newTestRouter(t)
	router.Version = "1.2.3"
	router.InstanceID = "abc-def"

	req, _ := http.NewRequest("GET", "/version", nil)
	rr := httptest.NewRecorder()
	router.version(rr, req)
	assert.Equal(t, `{"source":"flowmeter","version":"1.2.3","instance_id":"abc-def"}`, rr.Body.String())
}

func TestPanicCatcherMiddleware(t *testing.T) {
	router := newTestRouter(t)

	muxxer := mux.NewRouter()
	muxxer.Use(router.setResponseHeaders)
	muxxer.Use(router.requestLogger)
	muxxer.Use(router.panicCatcher)
	muxxer.HandleFunc("/panic", router.panic).Name("intentional panic")

	server := httptest.NewServer(muxxer)
	defer server.Close()

	resp, err := http.Get(server.URL + "/panic")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"error":"unexpected error!"}`, string(body))
}

func TestBodyTooLarge(t *testing.T) {
	router := newTestRouter(t)
	router.Config.(*config.MockConfig).GetMaxBodySizeVal = 10

	muxxer := mux.NewRouter()
	muxxer.Use(router.setResponseHeaders)
	muxxer.Use(router.requestLogger)
	muxxer.Use(router.panicCatcher)
	ingest := muxxer.PathPrefix("/1/").Methods("POST").Subrouter()
	ingest.Use(router.limitRequestBody)
	ingest.HandleFunc("/mark/{name}", router.mark).Name("mark")

	server := httptest.NewServer(muxxer)
	defer server.Close()

	body := strings.Repeat("x", 100)
	resp, err := http.Post(server.URL+"/1/mark/requests", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestDependencyInjection(t *testing.T) {
	var g inject.Graph
	err := g.Provide(
		&inject.Object{Value: &Router{}},

		&inject.Object{Value: &config.MockConfig{}},
		&inject.Object{Value: &logger.NullLogger{}},
		&inject.Object{Value: stats.NewRegistry(clockwork.NewFakeClock(), 1)},
		&inject.Object{Value: &health.Health{}},
		&inject.Object{Value: clockwork.NewFakeClock()},
		&inject.Object{Value: "test", Name: "version"},
		&inject.Object{Value: "instance", Name: "instanceID"},
	)
	if err != nil {
		t.Error(err)
	}
	if err := g.Populate(); err != nil {
		t.Error(err)
	}
}
