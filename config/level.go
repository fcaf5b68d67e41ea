package config

import (
	"errors"
	"strings"
)

type Level int

const (
	UnknownLevel Level = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
)

// levelNames holds the canonical spelling of each level; ParseLevel
// accepts these plus the aliases below.
var levelNames = map[Level]string{
	DebugLevel: "debug",
	InfoLevel:  "info",
	WarnLevel:  "warn",
	ErrorLevel: "error",
}

var levelAliases = map[string]Level{
	"warning": WarnLevel,
}

func ParseLevel(s string) Level {
	name := strings.TrimSpace(strings.ToLower(s))
	for level, canonical := range levelNames {
		if name == canonical {
			return level
		}
	}
	if level, ok := levelAliases[name]; ok {
		return level
	}
	return UnknownLevel
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	*l = ParseLevel(string(text))
	if *l == UnknownLevel {
		return errors.New("unknown logging level '" + string(text) + "'")
	}
	return nil
}
