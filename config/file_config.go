package config

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/flowmetrics/flowmeter/stats"
)

// configContents mirrors the layout of the config file. Field defaults
// come from the default tags; see the sample config.yaml for the
// documented file shape.
type configContents struct {
	General  GeneralConfig  `yaml:"General" json:"general"`
	Logger   LoggerConfig   `yaml:"Logger" json:"logger"`
	API      APIConfig      `yaml:"API" json:"api"`
	Reporter ReporterConfig `yaml:"Reporter" json:"reporter"`
	Health   HealthConfig   `yaml:"Health" json:"health"`
}

type GeneralConfig struct {
	TickInterval      Duration `yaml:"TickInterval" json:"tickinterval" default:"5s"`
	RateUnit          string   `yaml:"RateUnit" json:"rateunit" default:"seconds"`
	ReservoirCapacity int      `yaml:"ReservoirCapacity" json:"reservoircapacity" default:"1028"`
	Seed              uint64   `yaml:"Seed" json:"seed"`
}

type LoggerConfig struct {
	Type   string `yaml:"Type" json:"type" default:"logrus"`
	Level  Level  `yaml:"Level" json:"level" default:"info"`
	Format string `yaml:"Format" json:"format" default:"text"`
}

type APIConfig struct {
	ListenAddr      string `yaml:"ListenAddr" json:"listenaddr" default:"0.0.0.0:8080" cmdenv:"ListenAddr"`
	MaxBodySize     int64  `yaml:"MaxBodySize" json:"maxbodysize" default:"1048576"`
	HandleCacheSize int    `yaml:"HandleCacheSize" json:"handlecachesize" default:"1000"`
	BatchNameField  string `yaml:"BatchNameField" json:"batchnamefield" default:"name"`
	BatchValueField string `yaml:"BatchValueField" json:"batchvaluefield" default:"value"`
	BatchKindField  string `yaml:"BatchKindField" json:"batchkindfield" default:"kind"`
}

type ReporterConfig struct {
	Interval   Duration               `yaml:"Interval" json:"interval" default:"30s"`
	Console    ConsoleReporterConfig  `yaml:"Console" json:"console"`
	JSON       JSONReporterConfig     `yaml:"JSON" json:"json"`
	Upstream   UpstreamReporterConfig `yaml:"Upstream" json:"upstream"`
	Prometheus PrometheusConfig       `yaml:"Prometheus" json:"prometheus"`
}

type ConsoleReporterConfig struct {
	Enabled *DefaultTrue `yaml:"Enabled" json:"enabled"`
}

type HealthConfig struct {
	Timeout Duration `yaml:"Timeout" json:"timeout" default:"5s"`
}

// DefaultTrue is a bool whose zero behavior is inverted: fields declared
// as *DefaultTrue read as true when absent from the config, which a plain
// bool with a default tag cannot express because an explicit false is
// indistinguishable from unset.
type DefaultTrue bool

// Get returns the value of the DefaultTrue type; nil means unset, so
// we return true.
func (dt *DefaultTrue) Get() (enabled bool) {
	if dt == nil {
		return true
	}
	return bool(*dt)
}

func (dt DefaultTrue) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatBool(bool(dt))), nil
}

func (dt *DefaultTrue) UnmarshalText(text []byte) error {
	b, err := strconv.ParseBool(string(text))
	if err != nil {
		return err
	}
	*dt = DefaultTrue(b)
	return nil
}

// fileConfig implements Config on top of one or more config files. The
// contents are read once at construction and never mutated afterwards, so
// the getters need no locking.
type fileConfig struct {
	conf     configContents
	opts     *CmdEnv
	rateUnit stats.RateUnit
	hash     string
}

var _ = Config((*fileConfig)(nil))

// NewConfig reads the configs from the locations given on the command
// line, in order, with later files overriding earlier ones. The load
// happens in two phases: the files are first read into a plain map and
// checked for unknown or malformed keys, then read into the config struct
// where defaults and command line options are applied, and finally the
// result is validated semantically.
func NewConfig(opts *CmdEnv) (Config, error) {
	if !opts.NoValidate {
		userData := make(map[string]any)
		if err := loadConfigsIntoMap(userData, opts.ConfigLocations); err != nil {
			return nil, err
		}
		if failures := validateConfigKeys(userData); len(failures) > 0 {
			return nil, formatFailures(failures)
		}
	}

	cfg := &fileConfig{opts: opts}
	hash, err := readConfigInto(&cfg.conf, opts.ConfigLocations, opts)
	if err != nil {
		return nil, err
	}
	cfg.hash = hash

	// the command line log level is a string and has to be folded in by
	// hand; applyCmdEnvTags only copies between identical types
	if opts.LogLevel != "" {
		level := ParseLevel(opts.LogLevel)
		if level == UnknownLevel {
			return nil, fmt.Errorf("unknown log level %q on command line", opts.LogLevel)
		}
		cfg.conf.Logger.Level = level
	}
	if opts.Debug {
		cfg.conf.Logger.Level = DebugLevel
	}

	if failures := cfg.validate(); len(failures) > 0 {
		return nil, formatFailures(failures)
	}

	cfg.rateUnit, _ = stats.ParseRateUnit(cfg.conf.General.RateUnit)

	// a zero seed means nobody asked for reproducibility; pick one now so
	// the value reported by /debug/config is the one actually in use
	if cfg.conf.General.Seed == 0 {
		cfg.conf.General.Seed = rand.Uint64()
	}

	return cfg, nil
}

func formatFailures(failures []string) error {
	return fmt.Errorf("config validation failed:\n  %s", strings.Join(failures, "\n  "))
}

// validate checks the loaded values for semantic problems that the
// key-level validation pass cannot see. It returns a list of failures,
// empty if the config is good.
func (f *fileConfig) validate() []string {
	failures := make([]string, 0)

	if f.conf.General.TickInterval.Duration() <= 0 {
		failures = append(failures, fmt.Sprintf("General.TickInterval must be positive, got %v", f.conf.General.TickInterval))
	}
	if _, err := stats.ParseRateUnit(f.conf.General.RateUnit); err != nil {
		failures = append(failures, fmt.Sprintf("General.RateUnit must be one of seconds, minutes, or hours, got %q", f.conf.General.RateUnit))
	}
	if f.conf.General.ReservoirCapacity < 1 {
		failures = append(failures, fmt.Sprintf("General.ReservoirCapacity must be at least 1, got %d", f.conf.General.ReservoirCapacity))
	}

	switch f.conf.Logger.Type {
	case "logrus", "none":
	default:
		failures = append(failures, fmt.Sprintf("Logger.Type must be logrus or none, got %q", f.conf.Logger.Type))
	}
	if f.conf.Logger.Level == UnknownLevel {
		failures = append(failures, "Logger.Level must be one of debug, info, warn, or error")
	}
	switch f.conf.Logger.Format {
	case "text", "json":
	default:
		failures = append(failures, fmt.Sprintf("Logger.Format must be text or json, got %q", f.conf.Logger.Format))
	}

	if f.conf.API.ListenAddr != "" {
		if failure := validateHostPort("API.ListenAddr", f.conf.API.ListenAddr); failure != "" {
			failures = append(failures, failure)
		}
	}
	if f.conf.API.MaxBodySize < 0 {
		failures = append(failures, fmt.Sprintf("API.MaxBodySize must not be negative, got %d", f.conf.API.MaxBodySize))
	}
	if f.conf.API.HandleCacheSize < 1 {
		failures = append(failures, fmt.Sprintf("API.HandleCacheSize must be at least 1, got %d", f.conf.API.HandleCacheSize))
	}

	if f.conf.Reporter.Interval.Duration() <= 0 {
		failures = append(failures, fmt.Sprintf("Reporter.Interval must be positive, got %v", f.conf.Reporter.Interval))
	}
	if f.conf.Reporter.Upstream.Enabled {
		if failure := validateURL("Reporter.Upstream.URL", f.conf.Reporter.Upstream.URL); failure != "" {
			failures = append(failures, failure)
		}
		if f.conf.Reporter.Upstream.Retries < 0 {
			failures = append(failures, fmt.Sprintf("Reporter.Upstream.Retries must not be negative, got %d", f.conf.Reporter.Upstream.Retries))
		}
	}
	if f.conf.Reporter.Prometheus.Enabled {
		if failure := validateHostPort("Reporter.Prometheus.ListenAddr", f.conf.Reporter.Prometheus.ListenAddr); failure != "" {
			failures = append(failures, failure)
		}
	}

	if f.conf.Health.Timeout.Duration() <= 0 {
		failures = append(failures, fmt.Sprintf("Health.Timeout must be positive, got %v", f.conf.Health.Timeout))
	}

	return failures
}

func (f *fileConfig) GetListenAddr() string {
	return f.conf.API.ListenAddr
}

func (f *fileConfig) GetLoggerType() string {
	return f.conf.Logger.Type
}

func (f *fileConfig) GetLoggerLevel() Level {
	return f.conf.Logger.Level
}

func (f *fileConfig) GetLoggerFormat() string {
	return f.conf.Logger.Format
}

func (f *fileConfig) GetTickInterval() time.Duration {
	return f.conf.General.TickInterval.Duration()
}

func (f *fileConfig) GetRateUnit() stats.RateUnit {
	return f.rateUnit
}

func (f *fileConfig) GetReservoirCapacity() int {
	return f.conf.General.ReservoirCapacity
}

func (f *fileConfig) GetSeed() uint64 {
	return f.conf.General.Seed
}

func (f *fileConfig) GetMaxBodySize() int64 {
	return f.conf.API.MaxBodySize
}

func (f *fileConfig) GetHandleCacheSize() int {
	return f.conf.API.HandleCacheSize
}

func (f *fileConfig) GetBatchNameField() string {
	return f.conf.API.BatchNameField
}

func (f *fileConfig) GetBatchValueField() string {
	return f.conf.API.BatchValueField
}

func (f *fileConfig) GetBatchKindField() string {
	return f.conf.API.BatchKindField
}

func (f *fileConfig) GetReporterInterval() time.Duration {
	return f.conf.Reporter.Interval.Duration()
}

func (f *fileConfig) GetConsoleEnabled() bool {
	return f.conf.Reporter.Console.Enabled.Get()
}

func (f *fileConfig) GetJSONReporter() JSONReporterConfig {
	return f.conf.Reporter.JSON
}

func (f *fileConfig) GetUpstreamReporter() UpstreamReporterConfig {
	return f.conf.Reporter.Upstream
}

func (f *fileConfig) GetPrometheus() PrometheusConfig {
	return f.conf.Reporter.Prometheus
}

func (f *fileConfig) GetHealthTimeout() time.Duration {
	return f.conf.Health.Timeout.Duration()
}

func (f *fileConfig) GetDebug() bool {
	return f.opts != nil && f.opts.Debug
}

func (f *fileConfig) GetConfigHash() string {
	return f.hash
}
