package logger

import (
	"fmt"
	"maps"
	"sync"

	"github.com/flowmetrics/flowmeter/config"
)

// MockLogger records every completed entry so tests can assert on what
// got logged and at which level.
type MockLogger struct {
	Events []*MockLoggerEvent
	mutex  sync.Mutex
}

var _ = Logger((*MockLogger)(nil))

type MockLoggerEvent struct {
	l      *MockLogger
	level  config.Level
	Fields map[string]any
}

func (l *MockLogger) entryAt(level config.Level) Entry {
	return &MockLoggerEvent{
		l:      l,
		level:  level,
		Fields: make(map[string]any),
	}
}

func (l *MockLogger) Debug() Entry {
	return l.entryAt(config.DebugLevel)
}

func (l *MockLogger) Info() Entry {
	return l.entryAt(config.InfoLevel)
}

func (l *MockLogger) Warn() Entry {
	return l.entryAt(config.WarnLevel)
}

func (l *MockLogger) Error() Entry {
	return l.entryAt(config.ErrorLevel)
}

func (l *MockLogger) SetLevel(level string) error {
	return nil
}

// EventsWithLevel returns the recorded events at the given level.
func (l *MockLogger) EventsWithLevel(level config.Level) []*MockLoggerEvent {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	var out []*MockLoggerEvent
	for _, e := range l.Events {
		if e.level == level {
			out = append(out, e)
		}
	}
	return out
}

func (e *MockLoggerEvent) WithField(key string, value any) Entry {
	e.Fields[key] = value

	return e
}

func (e *MockLoggerEvent) WithString(key string, value string) Entry {
	return e.WithField(key, value)
}

func (e *MockLoggerEvent) WithFields(fields map[string]any) Entry {
	maps.Copy(e.Fields, fields)

	return e
}

// Logf stores the formatted message in a field named after the level, so
// a test can find it with Fields["error"] and friends.
func (e *MockLoggerEvent) Logf(f string, args ...any) {
	if e.level == config.UnknownLevel {
		panic("unexpected log level")
	}
	e.WithField(e.level.String(), fmt.Sprintf(f, args...))

	e.l.mutex.Lock()
	e.l.Events = append(e.l.Events, e)
	e.l.mutex.Unlock()
}
