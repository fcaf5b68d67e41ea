package logger

// Logger is the interface components use to emit logs. Each level method
// starts a new Entry; fields accumulate on the entry and nothing is
// written until Logf fires.
type Logger interface {
	Debug() Entry
	Info() Entry
	Warn() Entry
	Error() Entry
	// SetLevel sets the logging level (debug, info, warn, error)
	SetLevel(level string) error
}

type Entry interface {
	WithField(key string, value any) Entry

	// WithString does the same thing as WithField, but is more efficient
	// for strings since the value doesn't escape through an interface.
	WithString(key string, value string) Entry

	WithFields(fields map[string]any) Entry
	Logf(f string, args ...any)
}

// GetLoggerImplementation returns the logger for the configured type.
// Unknown types get the null logger; config validation rejects them before
// this runs.
func GetLoggerImplementation(loggerType string) Logger {
	switch loggerType {
	case "logrus":
		return &LogrusLogger{}
	case "none":
		return &NullLogger{}
	default:
		return &NullLogger{}
	}
}
