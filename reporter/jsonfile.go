package reporter

import (
	"context"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/flowmetrics/flowmeter/config"
	"github.com/flowmetrics/flowmeter/logger"
	"github.com/flowmetrics/flowmeter/types"
)

// JSONSink appends one JSON line per reporting cycle to a file, a shape
// that tail -f and jq get along with.
type JSONSink struct {
	Config config.Config `inject:""`
	Logger logger.Logger `inject:""`

	path string
	mut  sync.Mutex
	file *os.File
}

type jsonSnapshot struct {
	At      time.Time          `json:"at"`
	Metrics []types.MetricView `json:"metrics"`
}

func (s *JSONSink) Name() string { return "jsonfile" }

func (s *JSONSink) Start() error {
	s.path = s.Config.GetJSONReporter().Path
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "opening metrics file %s", s.path)
	}
	s.file = f
	s.Logger.Debug().WithString("path", s.path).Logf("json metrics sink open")
	return nil
}

func (s *JSONSink) Stop() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *JSONSink) Report(ctx context.Context, snap *Snapshot) error {
	line, err := jsoniter.Marshal(jsonSnapshot{At: snap.At, Metrics: snap.Views})
	if err != nil {
		return errors.Wrap(err, "encoding metrics snapshot")
	}
	line = append(line, '\n')

	s.mut.Lock()
	defer s.mut.Unlock()
	if s.file == nil {
		return errors.New("json metrics sink is closed")
	}
	if _, err := s.file.Write(line); err != nil {
		return errors.Wrapf(err, "appending to %s", s.path)
	}
	return nil
}
