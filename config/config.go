package config

import (
	"time"

	"github.com/flowmetrics/flowmeter/stats"
)

// Config is the interface the rest of the service uses to read
// configuration. The concrete implementation loads one or more files,
// applies defaults, and overlays command line options and environment
// variables; see NewConfig.
type Config interface {
	// GetListenAddr returns the address the HTTP API listens on.
	GetListenAddr() string

	// GetLoggerType returns the configured logger implementation
	// ("logrus" or "none").
	GetLoggerType() string
	GetLoggerLevel() Level
	// GetLoggerFormat returns "text" or "json".
	GetLoggerFormat() string

	// GetTickInterval returns how often meters fold accumulated events
	// into their decayed rates.
	GetTickInterval() time.Duration
	// GetRateUnit returns the unit rates are presented in.
	GetRateUnit() stats.RateUnit
	// GetReservoirCapacity returns the slot count for reservoirs created
	// without an explicit capacity.
	GetReservoirCapacity() int
	// GetSeed returns the process seed for reservoir random sources; 0
	// means pick a random seed at startup.
	GetSeed() uint64

	GetMaxBodySize() int64
	GetHandleCacheSize() int
	// Batch ingestion field paths (gjson syntax).
	GetBatchNameField() string
	GetBatchValueField() string
	GetBatchKindField() string

	GetReporterInterval() time.Duration
	GetConsoleEnabled() bool
	GetJSONReporter() JSONReporterConfig
	GetUpstreamReporter() UpstreamReporterConfig
	GetPrometheus() PrometheusConfig

	// GetHealthTimeout returns how stale a subsystem's health report may
	// get before the service stops reporting alive.
	GetHealthTimeout() time.Duration

	// GetDebug reports whether the config dump endpoint is enabled.
	GetDebug() bool

	// GetConfigHash returns the md5 hash of the loaded config files.
	GetConfigHash() string
}

type JSONReporterConfig struct {
	Enabled bool   `yaml:"Enabled" json:"enabled"`
	Path    string `yaml:"Path" json:"path" default:"flowmeter-metrics.ndjson"`
}

type UpstreamReporterConfig struct {
	Enabled bool     `yaml:"Enabled" json:"enabled"`
	URL     string   `yaml:"URL" json:"url"`
	Timeout Duration `yaml:"Timeout" json:"timeout" default:"10s"`
	Retries int      `yaml:"Retries" json:"retries" default:"2"`
}

type PrometheusConfig struct {
	Enabled    bool   `yaml:"Enabled" json:"enabled"`
	ListenAddr string `yaml:"ListenAddr" json:"listenaddr" default:"0.0.0.0:2112"`
}
