package reporter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmetrics/flowmeter/config"
	"github.com/flowmetrics/flowmeter/logger"
	"github.com/flowmetrics/flowmeter/types"
)

func newUpstreamSink(t *testing.T, url string, retries int) *UpstreamSink {
	t.Helper()
	s := &UpstreamSink{
		Config: &config.MockConfig{
			GetUpstreamReporterVal: config.UpstreamReporterConfig{
				Enabled: true,
				URL:     url,
				Timeout: config.Duration(2 * time.Second),
				Retries: retries,
			},
		},
		Logger:     &logger.NullLogger{},
		Transport:  &http.Transport{},
		Version:    "test",
		InstanceID: "instance-1",
	}
	require.NoError(t, s.Start())
	return s
}

func TestUpstreamSinkPostsSnapshot(t *testing.T) {
	var mut sync.Mutex
	var got snapshotPayload
	var contentType, userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mut.Lock()
		defer mut.Unlock()
		contentType = r.Header.Get("Content-Type")
		userAgent = r.Header.Get("User-Agent")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	s := newUpstreamSink(t, server.URL, 0)
	snap := &Snapshot{
		At:    time.Now(),
		Views: []types.MetricView{{Name: "widgets", Kind: types.KindCounter, Value: 7}},
	}
	require.NoError(t, s.Report(context.Background(), snap))

	mut.Lock()
	defer mut.Unlock()
	assert.Equal(t, "application/json", contentType)
	assert.Contains(t, userAgent, "flowmeter/test")
	assert.Equal(t, "flowmeter", got.Source)
	assert.Equal(t, "instance-1", got.InstanceID)
	assert.Equal(t, "test", got.Version)
	require.Len(t, got.Metrics, 1)
	assert.Equal(t, int64(7), got.Metrics[0].Value)
}

func TestUpstreamSinkRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := newUpstreamSink(t, server.URL, 2)
	err := s.Report(context.Background(), &Snapshot{At: time.Now()})
	assert.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestUpstreamSinkExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := newUpstreamSink(t, server.URL, 1)
	err := s.Report(context.Background(), &Snapshot{At: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.EqualValues(t, 2, calls.Load())
}

func TestUpstreamSinkDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	s := newUpstreamSink(t, server.URL, 5)
	err := s.Report(context.Background(), &Snapshot{At: time.Now()})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestUpstreamSinkRequiresURL(t *testing.T) {
	s := &UpstreamSink{
		Config:    &config.MockConfig{},
		Logger:    &logger.NullLogger{},
		Transport: &http.Transport{},
	}
	assert.Error(t, s.Start())
}
