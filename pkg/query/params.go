package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/config"
)

// ParseTime accepts RFC 3339 or a bare YYYY-MM-DD (midnight UTC).
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(analytics.DayLayout, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: expected RFC 3339 or YYYY-MM-DD", s)
}

// ParseInterval reads from/to. A missing to is the end of the current
// second, so events stored at now are included; a missing from is window
// before to. Inverted intervals are passed through and match nothing.
func ParseInterval(q url.Values, now time.Time, window time.Duration) (analytics.Interval, error) {
	to := now.UTC().Truncate(time.Second).Add(time.Second)
	if raw := q.Get("to"); raw != "" {
		t, err := ParseTime(raw)
		if err != nil {
			return analytics.Interval{}, fmt.Errorf("to: %w", err)
		}
		to = t
	}

	from := to.Add(-window)
	if raw := q.Get("from"); raw != "" {
		t, err := ParseTime(raw)
		if err != nil {
			return analytics.Interval{}, fmt.Errorf("from: %w", err)
		}
		from = t
	}

	return analytics.NewInterval(from, to), nil
}

// ParseLimit reads limit, defaulting to config.QueryDefaultLimit and
// capping at config.QueryMaxLimit. Zero is allowed and yields no rows.
func ParseLimit(q url.Values) (int, error) {
	raw := q.Get("limit")
	if raw == "" {
		return config.QueryDefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("limit must not be negative")
	}
	if n > config.QueryMaxLimit {
		n = config.QueryMaxLimit
	}
	return n, nil
}
