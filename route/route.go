package route

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/flowmetrics/flowmeter/config"
	"github.com/flowmetrics/flowmeter/internal/health"
	"github.com/flowmetrics/flowmeter/logger"
	"github.com/flowmetrics/flowmeter/stats"
	"github.com/flowmetrics/flowmeter/types"
)

const (
	// numZstdDecoders is set statically here - we may make it into a config option
	// A normal practice might be to use some multiple of the CPUs, but that goes south
	// in kubernetes
	numZstdDecoders = 4

	// routerHealthSource is the name the router reports health under
	routerHealthSource = "router"
)

type Router struct {
	Config     config.Config   `inject:""`
	Logger     logger.Logger   `inject:""`
	Registry   *stats.Registry `inject:""`
	Health     health.Reporter `inject:""`
	Recorder   health.Recorder `inject:""`
	Clock      clockwork.Clock `inject:""`
	Version    string          `inject:"version"`
	InstanceID string          `inject:"instanceID"`

	// meterCache keeps hot meter handles so the ingest path doesn't take
	// the registry lock on every mark
	meterCache *lru.Cache[string, *stats.RateMeter]

	// the service meters itself
	httpRequests *stats.RateMeter
	ingestEvents *stats.RateMeter

	zstdDecoders chan *zstd.Decoder

	server *http.Server
	done   chan struct{}
	eg     *errgroup.Group
}

type BatchResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Start builds the muxxer and spins up the listener. The router reports its
// own health under routerHealthSource for as long as it runs.
func (r *Router) Start() error {
	r.done = make(chan struct{})
	r.eg = &errgroup.Group{}

	var err error
	r.zstdDecoders, err = makeDecoders(numZstdDecoders)
	if err != nil {
		return errors.Wrap(err, "couldn't start zstd decoders")
	}

	r.meterCache, err = lru.New[string, *stats.RateMeter](r.Config.GetHandleCacheSize())
	if err != nil {
		return errors.Wrap(err, "couldn't build meter handle cache")
	}

	r.httpRequests, err = r.Registry.GetOrCreateMeter("flowmeter_http_requests", "requests", r.Config.GetRateUnit())
	if err != nil {
		return err
	}
	r.ingestEvents, err = r.Registry.GetOrCreateMeter("flowmeter_ingest_events", "events", r.Config.GetRateUnit())
	if err != nil {
		return err
	}

	muxxer := mux.NewRouter()

	muxxer.Use(r.setResponseHeaders)
	muxxer.Use(r.requestLogger)
	muxxer.Use(r.panicCatcher)

	// answer basic health checks locally
	muxxer.HandleFunc("/alive", r.alive).Name("local health")
	muxxer.HandleFunc("/ready", r.ready).Name("local readiness")
	muxxer.HandleFunc("/panic", r.panic).Name("intentional panic")
	muxxer.HandleFunc("/version", r.version).Name("report version info")
	if r.Config.GetDebug() {
		muxxer.HandleFunc("/debug/config", r.debugConfig).Name("dump running config")
	}

	// ingest endpoints
	ingestMuxxer := muxxer.PathPrefix("/1/").Methods("POST").Subrouter()
	ingestMuxxer.Use(r.limitRequestBody)

	ingestMuxxer.HandleFunc("/mark/{name}", r.mark).Name("mark")
	ingestMuxxer.HandleFunc("/observe/{name}", r.observe).Name("observe")
	ingestMuxxer.HandleFunc("/batch", r.batch).Name("batch")

	// read and admin endpoints
	muxxer.HandleFunc("/1/metrics", r.getMetrics).Methods("GET").Name("list metrics")
	muxxer.HandleFunc("/1/metrics/{name}", r.getMetric).Methods("GET").Name("get metric")
	muxxer.HandleFunc("/1/metrics/{name}", r.deleteMetric).Methods("DELETE").Name("delete metric")

	listenAddr := r.Config.GetListenAddr()
	r.Logger.Info().Logf("Listening on %s", listenAddr)
	r.server = &http.Server{
		Addr:    listenAddr,
		Handler: muxxer,
	}

	r.Recorder.Register(routerHealthSource, r.Config.GetHealthTimeout())

	r.eg.Go(func() error {
		err := r.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.Logger.Error().Logf("failed to ListenAndServe: %s", err)
			return err
		}
		return nil
	})

	r.eg.Go(r.reportHealth)

	return nil
}

// reportHealth checks in with the health system until the router stops.
func (r *Router) reportHealth() error {
	tick := r.Clock.NewTicker(r.Config.GetHealthTimeout() / 2)
	defer tick.Stop()
	r.Recorder.Ready(routerHealthSource, true)
	for {
		select {
		case <-tick.Chan():
			r.Recorder.Ready(routerHealthSource, true)
		case <-r.done:
			return nil
		}
	}
}

func (r *Router) Stop() error {
	r.Recorder.Ready(routerHealthSource, false)
	close(r.done)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err := r.server.Shutdown(ctx)
	if err != nil {
		return err
	}
	return r.eg.Wait()
}

func (r *Router) alive(w http.ResponseWriter, req *http.Request) {
	r.Logger.Debug().Logf("answered /alive check")
	if !r.Health.IsAlive() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"source":"flowmeter","alive":"no"}`))
		return
	}
	w.Write([]byte(`{"source":"flowmeter","alive":"yes"}`))
}

func (r *Router) ready(w http.ResponseWriter, req *http.Request) {
	r.Logger.Debug().Logf("answered /ready check")
	if !r.Health.IsReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"source":"flowmeter","ready":"no"}`))
		return
	}
	w.Write([]byte(`{"source":"flowmeter","ready":"yes"}`))
}

func (r *Router) panic(w http.ResponseWriter, req *http.Request) {
	panic("a panic, as requested")
}

func (r *Router) version(w http.ResponseWriter, req *http.Request) {
	w.Write([]byte(fmt.Sprintf(`{"source":"flowmeter","version":"%s","instance_id":"%s"}`, r.Version, r.InstanceID)))
}

// debugConfig dumps the running config. Only routed when debug is on.
func (r *Router) debugConfig(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	spew.Fdump(w, r.Config)
}

// mark is the handler for POST /1/mark/{name}; it bumps the named meter.
// The body is optional; without one we mark a single event.
func (r *Router) mark(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	bodyReader, err := r.getMaybeCompressedBody(req)
	if err != nil {
		r.handlerReturnWithError(w, ErrPostBody, err)
		return
	}

	reqBod, err := io.ReadAll(bodyReader)
	if err != nil {
		r.handlerReturnWithError(w, bodyError(err), err)
		return
	}

	mr := types.MarkRequest{N: 1}
	if len(reqBod) > 0 {
		if err := unmarshal(req, bytes.NewReader(reqBod), &mr); err != nil {
			r.handlerReturnWithError(w, ErrJSONFailed, err)
			return
		}
	}

	unit := r.Config.GetRateUnit()
	if mr.Unit != "" {
		unit, err = stats.ParseRateUnit(mr.Unit)
		if err != nil {
			r.handlerReturnWithError(w, ErrReqToMark, err)
			return
		}
	}

	meter, err := r.meterFor(mux.Vars(req)["name"], mr.EventType, unit)
	if err != nil {
		r.handlerReturnWithError(w, ErrKindConflict, err)
		return
	}
	meter.Mark(mr.N)
	r.ingestEvents.Mark(1)
	w.Write([]byte(`{"status":"ok"}`))
}

// observe is the handler for POST /1/observe/{name}; it offers the body's
// value to the named reservoir. An explicit capacity only matters on the
// request that creates the reservoir.
func (r *Router) observe(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	bodyReader, err := r.getMaybeCompressedBody(req)
	if err != nil {
		r.handlerReturnWithError(w, ErrPostBody, err)
		return
	}

	reqBod, err := io.ReadAll(bodyReader)
	if err != nil {
		r.handlerReturnWithError(w, bodyError(err), err)
		return
	}

	var or types.ObserveRequest
	if err := unmarshal(req, bytes.NewReader(reqBod), &or); err != nil {
		r.handlerReturnWithError(w, ErrJSONFailed, err)
		return
	}
	if or.Capacity < 0 {
		r.handlerReturnWithError(w, ErrReqToObserve, fmt.Errorf("capacity %d must not be negative", or.Capacity))
		return
	}

	capacity := or.Capacity
	if capacity == 0 {
		capacity = r.Config.GetReservoirCapacity()
	}

	res, err := r.Registry.GetOrCreateReservoir(mux.Vars(req)["name"], capacity)
	if err != nil {
		r.handlerReturnWithError(w, ErrKindConflict, err)
		return
	}
	res.Update(or.Value)
	r.ingestEvents.Mark(1)
	w.Write([]byte(`{"status":"ok"}`))
}

// batch is the handler for POST /1/batch. The body is a JSON array of
// arbitrary event objects; the configured gjson paths pull a metric name,
// an optional value, and an optional kind out of each one. Events we can't
// apply get their own status in the response instead of failing the batch.
func (r *Router) batch(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	reqID := req.Context().Value(types.RequestIDContextKey{})
	debugLog := r.Logger.Debug().WithField("request_id", reqID)

	bodyReader, err := r.getMaybeCompressedBody(req)
	if err != nil {
		r.handlerReturnWithError(w, ErrPostBody, err)
		return
	}

	reqBod, err := io.ReadAll(bodyReader)
	if err != nil {
		r.handlerReturnWithError(w, bodyError(err), err)
		return
	}

	parsed := gjson.ParseBytes(reqBod)
	if !parsed.IsArray() {
		debugLog.WithField("request.url", req.URL).Logf("batch body is not a JSON array")
		r.handlerReturnWithError(w, ErrJSONFailed, fmt.Errorf("batch body must be a JSON array"))
		return
	}

	events := parsed.Array()
	batchedResponses := make([]*BatchResponse, 0, len(events))
	for _, ev := range events {
		resp := r.processBatchedEvent(ev)
		if resp.Error != "" {
			debugLog.WithField("error", resp.Error).Logf("event from batch failed to process")
		}
		batchedResponses = append(batchedResponses, resp)
	}
	response, err := json.Marshal(batchedResponses)
	if err != nil {
		r.handlerReturnWithError(w, ErrJSONBuildFailed, err)
		return
	}
	w.Write(response)
}

// processBatchedEvent applies one batch event to the registry. Events
// without an explicit kind feed a reservoir when they carry a value and a
// meter when they don't.
func (r *Router) processBatchedEvent(ev gjson.Result) *BatchResponse {
	name := ev.Get(r.Config.GetBatchNameField()).String()
	if name == "" {
		return &BatchResponse{
			Status: http.StatusBadRequest,
			Error:  fmt.Sprintf("no metric name at %q", r.Config.GetBatchNameField()),
		}
	}
	value := ev.Get(r.Config.GetBatchValueField())
	kind := ev.Get(r.Config.GetBatchKindField()).String()
	if kind == "" {
		if value.Exists() {
			kind = types.KindReservoir
		} else {
			kind = types.KindMeter
		}
	}

	var err error
	switch kind {
	case types.KindMeter:
		var meter *stats.RateMeter
		meter, err = r.meterFor(name, "", r.Config.GetRateUnit())
		if err == nil {
			n := int64(1)
			if value.Exists() {
				n = value.Int()
			}
			meter.Mark(n)
		}
	case types.KindReservoir:
		var res *stats.UniformReservoir
		res, err = r.Registry.GetOrCreateReservoir(name, r.Config.GetReservoirCapacity())
		if err == nil {
			res.Update(value.Int())
		}
	case types.KindCounter:
		var c *stats.Counter
		c, err = r.Registry.GetOrCreateCounter(name)
		if err == nil {
			n := int64(1)
			if value.Exists() {
				n = value.Int()
			}
			c.Add(n)
		}
	case types.KindGauge:
		var g *stats.Gauge
		g, err = r.Registry.GetOrCreateGauge(name)
		if err == nil {
			g.Set(value.Int())
		}
	default:
		return &BatchResponse{
			Status: http.StatusBadRequest,
			Error:  fmt.Sprintf("unknown metric kind %q", kind),
		}
	}
	if err != nil {
		return &BatchResponse{
			Status: http.StatusConflict,
			Error:  err.Error(),
		}
	}
	r.ingestEvents.Mark(1)
	return &BatchResponse{Status: http.StatusAccepted}
}

// getMetrics is the handler for GET /1/metrics; it renders a consistent
// snapshot of everything registered.
func (r *Router) getMetrics(w http.ResponseWriter, req *http.Request) {
	views := types.ViewsOf(r.Registry.Snapshot())
	response, err := jsoniter.Marshal(views)
	if err != nil {
		r.handlerReturnWithError(w, ErrJSONBuildFailed, err)
		return
	}
	w.Write(response)
}

// getMetric is the handler for GET /1/metrics/{name}. Misses suggest the
// nearest registered name when one is close enough.
func (r *Router) getMetric(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	m, ok := r.Registry.Get(name)
	if !ok {
		r.handlerReturnWithError(w, ErrMetricNotFound, r.unknownMetricError(name))
		return
	}
	response, err := jsoniter.Marshal(types.ViewOf(name, m))
	if err != nil {
		r.handlerReturnWithError(w, ErrJSONBuildFailed, err)
		return
	}
	w.Write(response)
}

// deleteMetric is the handler for DELETE /1/metrics/{name}; it unregisters
// the metric, stopping its ticker when it's a meter.
func (r *Router) deleteMetric(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	if _, ok := r.Registry.Get(name); !ok {
		r.handlerReturnWithError(w, ErrMetricNotFound, r.unknownMetricError(name))
		return
	}
	r.Registry.Unregister(name)
	r.meterCache.Remove(name)
	w.Write([]byte(`{"status":"ok"}`))
}

func (r *Router) unknownMetricError(name string) error {
	if guess := closestMetricName(name, r.Registry.Names()); guess != "" {
		return fmt.Errorf("no metric named %q; did you mean %q?", name, guess)
	}
	return fmt.Errorf("no metric named %q", name)
}

// closestMetricName returns the registered name nearest to name, or ""
// when nothing is within editing distance 5.
func closestMetricName(name string, known []string) string {
	best := ""
	bestDist := 6
	for _, k := range known {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(k))
		if d < bestDist {
			bestDist = d
			best = k
		}
	}
	return best
}

// meterFor looks the named meter up in the handle cache, falling back to
// the registry on a miss. eventType and unit only matter when this call
// ends up creating the meter.
func (r *Router) meterFor(name, eventType string, unit stats.RateUnit) (*stats.RateMeter, error) {
	if m, ok := r.meterCache.Get(name); ok {
		return m, nil
	}
	m, err := r.Registry.GetOrCreateMeter(name, eventType, unit)
	if err != nil {
		return nil, err
	}
	r.meterCache.Add(name, m)
	return m, nil
}

func (r *Router) getMaybeCompressedBody(req *http.Request) (io.Reader, error) {
	var reader io.Reader
	switch req.Header.Get("Content-Encoding") {
	case "gzip":
		gzipReader, err := gzip.NewReader(req.Body)
		if err != nil {
			return nil, err
		}
		defer gzipReader.Close()

		buf := &bytes.Buffer{}
		if _, err := io.Copy(buf, gzipReader); err != nil {
			return nil, err
		}
		reader = buf
	case "zstd":
		zReader := <-r.zstdDecoders
		defer func(zReader *zstd.Decoder) {
			zReader.Reset(nil)
			r.zstdDecoders <- zReader
		}(zReader)

		err := zReader.Reset(req.Body)
		if err != nil {
			return nil, err
		}
		buf := &bytes.Buffer{}
		if _, err := io.Copy(buf, zReader); err != nil {
			return nil, err
		}

		reader = buf
	default:
		reader = req.Body
	}
	return reader, nil
}

// bodyError picks the right handler error for a body read failure.
func bodyError(err error) handlerError {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return ErrBodyTooLarge
	}
	return ErrPostBody
}

func unmarshal(r *http.Request, data io.Reader, v interface{}) error {
	switch r.Header.Get("Content-Type") {
	case "application/x-msgpack", "application/msgpack":
		dec := msgpack.NewDecoder(data)
		dec.UseLooseInterfaceDecoding(true)
		return dec.Decode(v)
	default:
		return jsoniter.NewDecoder(data).Decode(v)
	}
}

func makeDecoders(num int) (chan *zstd.Decoder, error) {
	zstdDecoders := make(chan *zstd.Decoder, num)
	for i := 0; i < num; i++ {
		zReader, err := zstd.NewReader(
			nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(true),
			zstd.WithDecoderMaxMemory(8*1024*1024),
		)
		if err != nil {
			return nil, err
		}
		zstdDecoders <- zReader
	}
	return zstdDecoders, nil
}
