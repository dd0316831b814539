package decode

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/tinytelemetry/lotus/internal/logparse"
	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/timestamp"
)

var beatsConsumed = keySet("@timestamp", "message")

// ParseBeats decodes newline-delimited Beats JSON. Lines that are not JSON
// objects are skipped.
func ParseBeats(payload []byte, now time.Time) []*model.LogEvent {
	var events []*model.LogEvent
	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		if ev := ParseBeatsLine(line, now); ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// ParseBeatsLine decodes one Beats event. Severity stays info unless the
// event carries log.level or level.
func ParseBeatsLine(line []byte, now time.Time) *model.LogEvent {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil || raw == nil {
		return nil
	}

	ev := model.NewLogEvent()
	ev.Timestamp = now
	if s, ok := raw["@timestamp"].(string); ok {
		if ts, ok := timestamp.ParseISO(s); ok {
			ev.Timestamp = ts
		}
	}

	if msg, ok := raw["message"].(string); ok {
		ev.Message = sanitizeMessage(msg)
	} else {
		ev.Message = sanitizeMessage(stringPath(raw, "event.original", "log.original"))
	}

	if host, ok := raw["host"].(string); ok {
		ev.Hostname = host
	} else {
		ev.Hostname = stringPath(raw, "host.name", "host.hostname", "agent.hostname")
	}
	ev.Source = stringPath(raw, "service.name", "fields.app", "fields.service", "agent.name", "agent.type")

	for _, path := range []string{"log.level", "level"} {
		if v, ok := lookupPath(raw, path); ok {
			if sev, ok := logparse.SeverityFromValue(v); ok {
				ev.Severity = sev
				break
			}
		}
	}

	flattenInto(ev.Fields, "", raw, beatsConsumed)
	return ev
}
