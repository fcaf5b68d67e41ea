package stats

import (
	"fmt"
	"strings"
	"time"
)

// RateUnit is the time granularity used to present a computed rate.
// Rates are tracked internally in events per nanosecond and converted on
// read by multiplying with the unit's nanosecond count.
type RateUnit int

const (
	Seconds RateUnit = iota
	Minutes
	Hours
)

// Nanos returns the number of nanoseconds in one unit.
func (u RateUnit) Nanos() float64 {
	switch u {
	case Seconds:
		return float64(time.Second)
	case Minutes:
		return float64(time.Minute)
	case Hours:
		return float64(time.Hour)
	default:
		return float64(time.Second)
	}
}

func (u RateUnit) String() string {
	switch u {
	case Seconds:
		return "seconds"
	case Minutes:
		return "minutes"
	case Hours:
		return "hours"
	default:
		return fmt.Sprintf("RateUnit(%d)", int(u))
	}
}

// ParseRateUnit reads a unit from its configuration spelling. It accepts
// the plural forms used in config files and their singular variants.
func ParseRateUnit(s string) (RateUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "second", "seconds":
		return Seconds, nil
	case "minute", "minutes":
		return Minutes, nil
	case "hour", "hours":
		return Hours, nil
	default:
		return Seconds, fmt.Errorf("unknown rate unit %q (want seconds, minutes, or hours)", s)
	}
}
