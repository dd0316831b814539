package model

import "strings"

// Severity is the syslog severity, 0 (emergency) through 7 (debug).
type Severity int

const (
	SeverityEmergency Severity = iota
	SeverityAlert
	SeverityCritical
	SeverityError
	SeverityWarning
	SeverityNotice
	SeverityInformational
	SeverityDebug
)

var severityNames = [...]string{"emergency", "alert", "critical", "error", "warning", "notice", "info", "debug"}

// Valid reports whether s is inside the syslog range.
func (s Severity) Valid() bool {
	return s >= SeverityEmergency && s <= SeverityDebug
}

func (s Severity) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return severityNames[s]
}

// Level collapses the eight syslog severities onto the five filter tiers.
func (s Severity) Level() Level {
	switch {
	case s >= SeverityDebug:
		return LevelDebug
	case s >= SeverityNotice:
		return LevelInfo
	case s == SeverityWarning:
		return LevelWarn
	case s == SeverityError:
		return LevelError
	default:
		return LevelCritical
	}
}

// Level is the ordinal scale debug < info < warn < error < critical.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

var levelNames = [...]string{"debug", "info", "warn", "error", "critical"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelCritical {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel resolves a tier name. Common aliases (warning, err, fatal) are accepted.
func ParseLevel(name string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "trace":
		return LevelDebug, true
	case "info", "notice", "information":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error", "err":
		return LevelError, true
	case "critical", "crit", "fatal", "alert", "emergency", "emerg", "panic":
		return LevelCritical, true
	default:
		return 0, false
	}
}
