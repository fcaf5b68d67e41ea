package reporter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmetrics/flowmeter/config"
	"github.com/flowmetrics/flowmeter/logger"
	"github.com/flowmetrics/flowmeter/types"
)

func TestJSONSinkAppendsOneLinePerCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.ndjson")
	s := &JSONSink{
		Config: &config.MockConfig{
			GetJSONReporterVal: config.JSONReporterConfig{Enabled: true, Path: path},
		},
		Logger: &logger.NullLogger{},
	}
	require.NoError(t, s.Start())

	snap := &Snapshot{
		At:    time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
		Views: []types.MetricView{{Name: "widgets", Kind: types.KindCounter, Value: 3}},
	}
	require.NoError(t, s.Report(context.Background(), snap))
	require.NoError(t, s.Report(context.Background(), snap))
	require.NoError(t, s.Stop())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var parsed jsonSnapshot
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &parsed))
	require.Len(t, parsed.Metrics, 1)
	assert.Equal(t, "widgets", parsed.Metrics[0].Name)
	assert.Equal(t, int64(3), parsed.Metrics[0].Value)
	assert.True(t, parsed.At.Equal(snap.At))

	// reporting after Stop returns an error instead of panicking
	assert.Error(t, s.Report(context.Background(), snap))
}

func TestJSONSinkBadPath(t *testing.T) {
	s := &JSONSink{
		Config: &config.MockConfig{
			GetJSONReporterVal: config.JSONReporterConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "no", "such", "dir", "out.ndjson")},
		},
		Logger: &logger.NullLogger{},
	}
	assert.Error(t, s.Start())
}
