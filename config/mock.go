package config

import (
	"time"

	"github.com/flowmetrics/flowmeter/stats"
)

// MockConfig will respond with whatever config it's set to do during
// initialization
type MockConfig struct {
	GetListenAddrVal        string
	GetLoggerTypeVal        string
	GetLoggerLevelVal       Level
	GetLoggerFormatVal      string
	GetTickIntervalVal      time.Duration
	GetRateUnitVal          stats.RateUnit
	GetReservoirCapacityVal int
	GetSeedVal              uint64
	GetMaxBodySizeVal       int64
	GetHandleCacheSizeVal   int
	GetBatchNameFieldVal    string
	GetBatchValueFieldVal   string
	GetBatchKindFieldVal    string
	GetReporterIntervalVal  time.Duration
	GetConsoleEnabledVal    bool
	GetJSONReporterVal      JSONReporterConfig
	GetUpstreamReporterVal  UpstreamReporterConfig
	GetPrometheusVal        PrometheusConfig
	GetHealthTimeoutVal     time.Duration
	GetDebugVal             bool
	GetConfigHashVal        string
}

var _ = Config((*MockConfig)(nil))

func (m *MockConfig) GetListenAddr() string                  { return m.GetListenAddrVal }
func (m *MockConfig) GetLoggerType() string                  { return m.GetLoggerTypeVal }
func (m *MockConfig) GetLoggerLevel() Level                  { return m.GetLoggerLevelVal }
func (m *MockConfig) GetLoggerFormat() string                { return m.GetLoggerFormatVal }
func (m *MockConfig) GetTickInterval() time.Duration         { return m.GetTickIntervalVal }
func (m *MockConfig) GetRateUnit() stats.RateUnit            { return m.GetRateUnitVal }
func (m *MockConfig) GetReservoirCapacity() int              { return m.GetReservoirCapacityVal }
func (m *MockConfig) GetSeed() uint64                        { return m.GetSeedVal }
func (m *MockConfig) GetMaxBodySize() int64                  { return m.GetMaxBodySizeVal }
func (m *MockConfig) GetHandleCacheSize() int                { return m.GetHandleCacheSizeVal }
func (m *MockConfig) GetBatchNameField() string              { return m.GetBatchNameFieldVal }
func (m *MockConfig) GetBatchValueField() string             { return m.GetBatchValueFieldVal }
func (m *MockConfig) GetBatchKindField() string              { return m.GetBatchKindFieldVal }
func (m *MockConfig) GetReporterInterval() time.Duration     { return m.GetReporterIntervalVal }
func (m *MockConfig) GetConsoleEnabled() bool                { return m.GetConsoleEnabledVal }
func (m *MockConfig) GetJSONReporter() JSONReporterConfig    { return m.GetJSONReporterVal }
func (m *MockConfig) GetUpstreamReporter() UpstreamReporterConfig {
	return m.GetUpstreamReporterVal
}
func (m *MockConfig) GetPrometheus() PrometheusConfig { return m.GetPrometheusVal }
func (m *MockConfig) GetHealthTimeout() time.Duration { return m.GetHealthTimeoutVal }
func (m *MockConfig) GetDebug() bool                  { return m.GetDebugVal }
func (m *MockConfig) GetConfigHash() string           { return m.GetConfigHashVal }
