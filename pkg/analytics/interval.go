package analytics

import (
	"fmt"
	"time"
)

// TimestampLayout is the persisted created_at format. It sorts
// lexicographically in time order and its first ten bytes are the UTC day.
const TimestampLayout = "2006-01-02T15:04:05Z"

// DayLayout is the calendar-day key used by the per-day series.
const DayLayout = "2006-01-02"

// RealtimeWindow is the trailing window counted by the realtime query.
const RealtimeWindow = 5 * time.Minute

// Interval is a half-open UTC time range [From, To).
type Interval struct {
	From time.Time
	To   time.Time
}

// NewInterval normalizes both bounds to UTC with whole-second resolution,
// matching the resolution of stored timestamps.
func NewInterval(from, to time.Time) Interval {
	return Interval{
		From: from.UTC().Truncate(time.Second),
		To:   to.UTC().Truncate(time.Second),
	}
}

// Contains reports whether t falls inside [From, To).
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.From) && t.Before(iv.To)
}

// Days returns the interval length in fractional days, floored at 1 so that
// per-day averages stay finite for short, empty or inverted intervals.
func (iv Interval) Days() float64 {
	days := iv.To.Sub(iv.From).Hours() / 24
	if days < 1 {
		return 1
	}
	return days
}

// String renders the interval for logs.
func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", FormatTimestamp(iv.From), FormatTimestamp(iv.To))
}

// AvgViewsPerDay divides total by the floored day count of iv.
func AvgViewsPerDay(total int64, iv Interval) float64 {
	return float64(total) / iv.Days()
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a persisted created_at value.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// DayOf returns the UTC calendar day of t.
func DayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}
