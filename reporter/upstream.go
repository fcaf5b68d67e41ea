package reporter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/flowmetrics/flowmeter/config"
	"github.com/flowmetrics/flowmeter/logger"
	"github.com/flowmetrics/flowmeter/types"
)

// UpstreamSink POSTs each snapshot to an aggregation endpoint so a fleet of
// flowmeters can be read in one place. Server-side and connection failures
// are retried a configured number of times; after that the cycle's data is
// dropped, since the next cycle carries fresh state anyway.
type UpstreamSink struct {
	Config     config.Config   `inject:""`
	Logger     logger.Logger   `inject:""`
	Transport  *http.Transport `inject:"upstreamTransport"`
	Version    string          `inject:"version"`
	InstanceID string          `inject:"instanceID"`

	url       string
	retries   int
	hostname  string
	userAgent string
	client    *http.Client
}

// snapshotPayload is the wire shape one reporting cycle posts upstream.
type snapshotPayload struct {
	Source     string             `json:"source"`
	Hostname   string             `json:"hostname"`
	InstanceID string             `json:"instance_id"`
	Version    string             `json:"version"`
	At         time.Time          `json:"at"`
	Metrics    []types.MetricView `json:"metrics"`
}

func (s *UpstreamSink) Name() string { return "upstream" }

func (s *UpstreamSink) Start() error {
	uc := s.Config.GetUpstreamReporter()
	if uc.URL == "" {
		return errors.New("upstream reporter enabled without a URL")
	}
	if _, err := url.Parse(uc.URL); err != nil {
		return errors.Wrapf(err, "parsing upstream URL %s", uc.URL)
	}
	s.url = uc.URL
	s.retries = uc.Retries
	s.hostname, _ = os.Hostname()
	s.userAgent = fmt.Sprintf("flowmeter/%s %s (%s/%s)", s.Version, strings.Replace(runtime.Version(), "go", "go/", 1), runtime.GOOS, runtime.GOARCH)
	s.client = &http.Client{
		Transport: s.Transport,
		Timeout:   time.Duration(uc.Timeout),
	}
	s.Logger.Debug().WithString("url", s.url).Logf("upstream metrics sink ready")
	return nil
}

func (s *UpstreamSink) Report(ctx context.Context, snap *Snapshot) error {
	payload := snapshotPayload{
		Source:     "flowmeter",
		Hostname:   s.hostname,
		InstanceID: s.InstanceID,
		Version:    s.Version,
		At:         snap.At,
		Metrics:    snap.Views,
	}
	data, err := jsoniter.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encoding snapshot payload")
	}

	var lastErr error
	for try := 0; try <= s.retries; try++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
		if err != nil {
			return errors.Wrap(err, "building snapshot request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", s.userAgent)

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = errors.Wrap(err, "posting snapshot")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			// worth retrying
			lastErr = errors.Errorf("upstream returned %s", resp.Status)
		default:
			// our fault, retrying won't change the answer
			return errors.Errorf("upstream returned %s", resp.Status)
		}
	}
	return lastErr
}
