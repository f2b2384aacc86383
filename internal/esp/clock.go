package esp

import (
	"fmt"
	"strings"
	"time"
)

// DefaultGracePeriod is how long account setup may stay pending after the
// Autopilot start marker before it is assumed finished.
const DefaultGracePeriod = time.Hour

// StartTimeLayout is the layout espgate writes marker subkeys with.
const StartTimeLayout = time.RFC3339

var zonedLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
}

// Layouts produced by [datetime] ToString() on common locales.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"01/02/2006 15:04:05",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 15:04:05",
	"02.01.2006 15:04:05",
}

// ResolveStartTime picks the single Autopilot start marker out of the
// subkey names found under the marker key.
func ResolveStartTime(names []string) (time.Time, error) {
	switch len(names) {
	case 0:
		return time.Time{}, newError(KindAmbiguityFailure, "autopilot start time", ErrNoStartTime)
	case 1:
	default:
		return time.Time{}, newError(KindAmbiguityFailure, "autopilot start time",
			fmt.Errorf("%w: %d markers", ErrMultipleStartTimes, len(names)))
	}
	return ParseStartTime(names[0])
}

// ParseStartTime parses one marker subkey name.
func ParseStartTime(name string) (time.Time, error) {
	name = strings.TrimSpace(name)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, name); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, name, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, newError(KindParseFailure, "autopilot start time",
		fmt.Errorf("%w: %q", ErrUnparsableStartTime, name))
}

// GraceClock measures the account-setup allowance.
type GraceClock struct {
	Period time.Duration
}

// Elapsed reports whether now is at or past start+Period.
func (c GraceClock) Elapsed(start, now time.Time) bool {
	period := c.Period
	if period <= 0 {
		period = DefaultGracePeriod
	}
	return !now.Before(start.Add(period))
}
