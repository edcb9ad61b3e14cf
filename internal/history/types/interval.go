package types

import (
	"fmt"
	"time"
)

// Interval is the width of an aggregation bucket.
type Interval int

const (
	IntervalMinute Interval = iota
	IntervalFiveMinutes
	IntervalFifteenMinutes
	IntervalHour
	IntervalDay
)

// String returns the string representation of the interval.
func (i Interval) String() string {
	switch i {
	case IntervalMinute:
		return "minute"
	case IntervalFiveMinutes:
		return "5min"
	case IntervalFifteenMinutes:
		return "15min"
	case IntervalHour:
		return "hour"
	case IntervalDay:
		return "day"
	default:
		return fmt.Sprintf("unknown(%d)", int(i))
	}
}

// Duration returns the bucket width.
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalMinute:
		return time.Minute
	case IntervalFiveMinutes:
		return 5 * time.Minute
	case IntervalFifteenMinutes:
		return 15 * time.Minute
	case IntervalHour:
		return time.Hour
	case IntervalDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Truncate returns the start of the bucket containing ts, in UTC.
// Truncation always rounds down: 10:55 lands in the 10:00 hour bucket.
func (i Interval) Truncate(ts time.Time) time.Time {
	ts = ts.UTC()
	switch i {
	case IntervalMinute, IntervalFiveMinutes, IntervalFifteenMinutes, IntervalHour:
		return ts.Truncate(i.Duration())
	case IntervalDay:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return ts
	}
}

// ParseInterval parses a string into an Interval.
func ParseInterval(s string) (Interval, error) {
	switch s {
	case "minute", "1m":
		return IntervalMinute, nil
	case "5min", "5m":
		return IntervalFiveMinutes, nil
	case "15min", "15m":
		return IntervalFifteenMinutes, nil
	case "hour", "1h":
		return IntervalHour, nil
	case "day", "1d":
		return IntervalDay, nil
	default:
		return IntervalMinute, fmt.Errorf("unknown interval: %s", s)
	}
}

// DayOf returns midnight UTC of the day containing ts.
func DayOf(ts time.Time) time.Time {
	return IntervalDay.Truncate(ts)
}
