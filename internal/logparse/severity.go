package logparse

import (
	"math"
	"strconv"
	"strings"

	"github.com/tinytelemetry/lotus/internal/model"
)

// SeverityFromName maps a textual level to a syslog severity.
// Abbreviations and prefixed variants (WARNING_LEVEL, ERR, CRIT) are accepted.
func SeverityFromName(name string) (model.Severity, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(name))

	switch normalized {
	case "":
		return 0, false
	case "TRACE", "TRAC", "TRC", "DEBUG", "DEBU", "DBG", "DEB":
		return model.SeverityDebug, true
	case "INFO", "INFORMATION", "INFORMATIONAL", "INF":
		return model.SeverityInformational, true
	case "NOTICE", "NOTE":
		return model.SeverityNotice, true
	case "WARN", "WARNING", "WRNG", "WRN":
		return model.SeverityWarning, true
	case "ERROR", "ERR", "ERRO":
		return model.SeverityError, true
	case "CRITICAL", "CRIT", "CRT", "FATAL", "FATL", "FTL":
		return model.SeverityCritical, true
	case "ALERT":
		return model.SeverityAlert, true
	case "EMERGENCY", "EMERG", "PANIC", "PNC":
		return model.SeverityEmergency, true
	}

	if len(normalized) >= 4 {
		switch normalized[:4] {
		case "TRAC", "DEBU":
			return model.SeverityDebug, true
		case "INFO":
			return model.SeverityInformational, true
		case "WARN":
			return model.SeverityWarning, true
		case "ERRO":
			return model.SeverityError, true
		case "FATA", "CRIT":
			return model.SeverityCritical, true
		case "EMER":
			return model.SeverityEmergency, true
		}
	}
	return 0, false
}

// SeverityFromNumber maps a numeric level. Values 0-7 are syslog severities;
// larger values are read as pino/bunyan levels (10 trace .. 60 fatal).
func SeverityFromNumber(n int) (model.Severity, bool) {
	switch {
	case n < 0:
		return 0, false
	case n <= 7:
		return model.Severity(n), true
	case n < 30:
		return model.SeverityDebug, true
	case n < 40:
		return model.SeverityInformational, true
	case n < 50:
		return model.SeverityWarning, true
	case n < 60:
		return model.SeverityError, true
	default:
		return model.SeverityCritical, true
	}
}

// SeverityFromValue interprets a decoded JSON value as a severity.
func SeverityFromValue(v any) (model.Severity, bool) {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || val != math.Trunc(val) {
			return 0, false
		}
		return SeverityFromNumber(int(val))
	case int:
		return SeverityFromNumber(val)
	case int64:
		return SeverityFromNumber(int(val))
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return SeverityFromNumber(n)
		}
		return SeverityFromName(val)
	default:
		return 0, false
	}
}
