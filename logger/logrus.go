package logger

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/flowmetrics/flowmeter/config"
)

// LogrusLogger sends all logs to stdout using the Logrus package to get
// nice formatting.
type LogrusLogger struct {
	Config config.Config `inject:""`

	logger *logrus.Logger
	level  *logrus.Level
}

var _ = Logger((*LogrusLogger)(nil))

type LogrusEntry struct {
	entry *logrus.Entry
	level logrus.Level
}

func (l *LogrusLogger) Start() error {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if l.Config != nil {
		if l.Config.GetLoggerFormat() == "json" {
			logger.SetFormatter(&logrus.JSONFormatter{})
		}
		// UnknownLevel means the config never set one; keep the default
		if lvl := l.Config.GetLoggerLevel(); lvl != config.UnknownLevel {
			level, err := logrus.ParseLevel(lvl.String())
			if err != nil {
				return err
			}
			logger.SetLevel(level)
		}
	}
	if l.level != nil {
		logger.SetLevel(*l.level)
	}
	l.logger = logger
	return nil
}

func (l *LogrusLogger) Debug() Entry {
	return &LogrusEntry{entry: logrus.NewEntry(l.logger), level: logrus.DebugLevel}
}

func (l *LogrusLogger) Info() Entry {
	return &LogrusEntry{entry: logrus.NewEntry(l.logger), level: logrus.InfoLevel}
}

func (l *LogrusLogger) Warn() Entry {
	return &LogrusEntry{entry: logrus.NewEntry(l.logger), level: logrus.WarnLevel}
}

func (l *LogrusLogger) Error() Entry {
	return &LogrusEntry{entry: logrus.NewEntry(l.logger), level: logrus.ErrorLevel}
}

func (l *LogrusLogger) SetLevel(level string) error {
	logrusLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	// record the choice and set it if we're already initialized
	l.level = &logrusLevel
	if l.logger != nil {
		l.logger.SetLevel(logrusLevel)
	}
	return nil
}

func (e *LogrusEntry) WithField(key string, value any) Entry {
	return &LogrusEntry{entry: e.entry.WithField(key, value), level: e.level}
}

func (e *LogrusEntry) WithString(key string, value string) Entry {
	return &LogrusEntry{entry: e.entry.WithField(key, value), level: e.level}
}

func (e *LogrusEntry) WithFields(fields map[string]any) Entry {
	return &LogrusEntry{entry: e.entry.WithFields(fields), level: e.level}
}

func (e *LogrusEntry) Logf(f string, args ...any) {
	switch e.level {
	case logrus.DebugLevel:
		e.entry.Debugf(f, args...)
	case logrus.InfoLevel:
		e.entry.Infof(f, args...)
	case logrus.WarnLevel:
		e.entry.Warnf(f, args...)
	default:
		e.entry.Errorf(f, args...)
	}
}
