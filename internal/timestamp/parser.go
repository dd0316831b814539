package timestamp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// FutureSkew is how far ahead of the receive clock an RFC3164 stamp may be
// before it is assumed to belong to the previous year.
const FutureSkew = time.Hour

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseISO parses RFC3339 and the common space-separated variants.
// A comma decimal separator (2024-01-15 10:30:45,123) is accepted.
func ParseISO(value string) (time.Time, bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, false
	}
	if i := strings.IndexByte(s, ','); i > 0 && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9' {
		s = s[:i] + "." + s[i+1:]
	}
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// ParseRFC3164 parses a BSD syslog stamp ("Oct 11 22:14:15", "Oct  1 ...").
// The stamp carries no year, so the year of now is assumed; a result more
// than FutureSkew ahead of now is moved back one year.
func ParseRFC3164(stamp string, now time.Time) (time.Time, bool) {
	ts, err := time.ParseInLocation(time.Stamp, stamp, now.Location())
	if err != nil {
		if ts, err = time.ParseInLocation(time.StampMicro, stamp, now.Location()); err != nil {
			return time.Time{}, false
		}
	}
	ts = time.Date(now.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), now.Location())
	if ts.After(now.Add(FutureSkew)) {
		ts = ts.AddDate(-1, 0, 0)
	}
	return ts, true
}

// ParseEpoch converts a numeric unix time into an absolute time.
// Seconds may be fractional. Magnitudes beyond plausible seconds are read as
// milliseconds, microseconds or nanoseconds.
func ParseEpoch(value any) (time.Time, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return time.Time{}, false
		}
		f = parsed
	default:
		return time.Time{}, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}

	abs := math.Abs(f)
	switch {
	case abs > 1e17:
		return time.Unix(0, int64(f)).UTC(), true
	case abs > 1e14:
		return time.UnixMicro(int64(f)).UTC(), true
	case abs > 1e11:
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), true
}

// Parse accepts either an ISO string or a numeric epoch.
func Parse(value any) (time.Time, bool) {
	if s, ok := value.(string); ok {
		if ts, ok := ParseISO(s); ok {
			return ts, true
		}
	}
	return ParseEpoch(value)
}
