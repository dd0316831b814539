package timestamp

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseISO(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"RFC3339", "2024-01-15T10:30:45Z"},
		{"RFC3339Nano", "2024-01-15T10:30:45.123456789Z"},
		{"RFC3339 offset", "2024-01-15T10:30:45+05:00"},
		{"space separated", "2024-01-15 10:30:45"},
		{"millis", "2024-01-15 10:30:45.123"},
		{"comma decimal", "2024-01-15 10:30:45,123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, ok := ParseISO(tt.input)
			if !ok {
				t.Fatalf("ParseISO(%q) failed", tt.input)
			}
			if ts.Year() != 2024 || ts.Month() != time.January || ts.Day() != 15 {
				t.Errorf("ParseISO(%q) = %v, want 2024-01-15", tt.input, ts)
			}
		})
	}
}

func TestParseISO_Invalid(t *testing.T) {
	for _, input := range []string{"", "   ", "just a regular log message", "2024-13-45"} {
		if _, ok := ParseISO(input); ok {
			t.Errorf("ParseISO(%q) should fail", input)
		}
	}
}

func TestParseRFC3164_CurrentYear(t *testing.T) {
	now := time.Date(2025, time.November, 1, 12, 0, 0, 0, time.UTC)

	ts, ok := ParseRFC3164("Oct 11 22:14:15", now)
	if !ok {
		t.Fatal("ParseRFC3164 failed")
	}
	want := time.Date(2025, time.October, 11, 22, 14, 15, 0, time.UTC)
	if !ts.Equal(want) {
		t.Fatalf("ParseRFC3164 = %v, want %v", ts, want)
	}
}

func TestParseRFC3164_SingleDigitDay(t *testing.T) {
	now := time.Date(2025, time.November, 1, 12, 0, 0, 0, time.UTC)

	for _, stamp := range []string{"Oct  1 08:00:00", "Oct 1 08:00:00"} {
		ts, ok := ParseRFC3164(stamp, now)
		if !ok {
			t.Fatalf("ParseRFC3164(%q) failed", stamp)
		}
		if ts.Day() != 1 || ts.Month() != time.October {
			t.Fatalf("ParseRFC3164(%q) = %v", stamp, ts)
		}
	}
}

func TestParseRFC3164_RollsBackFutureYear(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 5, 0, 0, time.UTC)

	ts, ok := ParseRFC3164("Dec 31 23:59:50", now)
	if !ok {
		t.Fatal("ParseRFC3164 failed")
	}
	if ts.Year() != 2025 {
		t.Fatalf("year = %d, want 2025", ts.Year())
	}
	if ts.After(now) {
		t.Fatalf("timestamp %v should not be after %v", ts, now)
	}
}

func TestParseRFC3164_SmallSkewKeepsYear(t *testing.T) {
	now := time.Date(2025, time.October, 11, 22, 14, 0, 0, time.UTC)

	ts, ok := ParseRFC3164("Oct 11 22:14:15", now)
	if !ok {
		t.Fatal("ParseRFC3164 failed")
	}
	if ts.Year() != 2025 {
		t.Fatalf("year = %d, want 2025", ts.Year())
	}
}

func TestParseEpoch(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  time.Time
	}{
		{"seconds", float64(946684800), time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"fractional seconds", 1385053862.3072, time.Unix(1385053862, 307200000).UTC()},
		{"int64 seconds", int64(946684800), time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"millis", float64(1600000000000), time.UnixMilli(1600000000000).UTC()},
		{"nanos", int64(1600000000000000000), time.Unix(0, 1600000000000000000).UTC()},
		{"json number", json.Number("946684800"), time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"numeric string", "946684800", time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseEpoch(tt.input)
			if !ok {
				t.Fatalf("ParseEpoch(%v) failed", tt.input)
			}
			if d := got.Sub(tt.want); d > time.Microsecond || d < -time.Microsecond {
				t.Errorf("ParseEpoch(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseEpoch_Rejects(t *testing.T) {
	for _, input := range []any{nil, "", "abc", float64(0), float64(-5), true} {
		if _, ok := ParseEpoch(input); ok {
			t.Errorf("ParseEpoch(%v) should fail", input)
		}
	}
}

func TestParse_PrefersISOForStrings(t *testing.T) {
	ts, ok := Parse("2024-01-15T10:30:45Z")
	if !ok || ts.Year() != 2024 {
		t.Fatalf("Parse ISO = %v, %v", ts, ok)
	}
	ts, ok = Parse(float64(946684800))
	if !ok || ts.Year() != 2000 {
		t.Fatalf("Parse epoch = %v, %v", ts, ok)
	}
}
