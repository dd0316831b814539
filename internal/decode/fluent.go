package decode

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/tinytelemetry/lotus/internal/logparse"
	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/timestamp"
)

var fluentConsumed = keySet("message", "log", "msg", "time", "timestamp")

// ParseFluent decodes a Fluent JSON payload without a tag.
func ParseFluent(payload []byte, now time.Time) []*model.LogEvent {
	return ParseFluentTagged(payload, "", now)
}

// ParseFluentTagged decodes a Fluent JSON payload. Accepted shapes:
//
//	{"message": ...}                    one record
//	[[epoch, {...}], [epoch, {...}]]    pairs
//	["tag", epoch, {...}]               forward-style triple
//	[{...}, {...}]                      record list
//
// tag becomes the event source when the record names none.
func ParseFluentTagged(payload []byte, tag string, now time.Time) []*model.LogEvent {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil
	}

	switch payload[0] {
	case '{':
		var record map[string]any
		if err := json.Unmarshal(payload, &record); err != nil || record == nil {
			return nil
		}
		return single(fluentRecord(record, time.Time{}, tag, now))
	case '[':
		var items []any
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil
		}
		return fluentArray(items, tag, now)
	default:
		return nil
	}
}

func fluentArray(items []any, tag string, now time.Time) []*model.LogEvent {
	if len(items) == 3 {
		if t, ok := items[0].(string); ok {
			ts, okTS := timestamp.ParseEpoch(items[1])
			record, okRec := items[2].(map[string]any)
			if okTS && okRec {
				if tag == "" {
					tag = t
				}
				return single(fluentRecord(record, ts, tag, now))
			}
			return nil
		}
	}

	var events []*model.LogEvent
	for _, item := range items {
		switch v := item.(type) {
		case []any:
			if len(v) != 2 {
				continue
			}
			ts, ok := timestamp.ParseEpoch(v[0])
			if !ok {
				continue
			}
			record, ok := v[1].(map[string]any)
			if !ok {
				continue
			}
			if ev := fluentRecord(record, ts, tag, now); ev != nil {
				events = append(events, ev)
			}
		case map[string]any:
			if ev := fluentRecord(v, time.Time{}, tag, now); ev != nil {
				events = append(events, ev)
			}
		}
	}
	return events
}

func fluentRecord(record map[string]any, ts time.Time, tag string, now time.Time) *model.LogEvent {
	ev := model.NewLogEvent()

	switch {
	case !ts.IsZero():
		ev.Timestamp = ts
	default:
		ev.Timestamp = now
		for _, key := range []string{"time", "timestamp"} {
			if v, ok := record[key]; ok {
				if parsed, ok := timestamp.Parse(v); ok {
					ev.Timestamp = parsed
					break
				}
			}
		}
	}

	ev.Message = sanitizeMessage(stringField(record, "message", "log", "msg"))
	ev.Hostname = stringField(record, "host", "hostname")
	ev.Source = stringField(record, "app", "service", "application", "container_name")
	if ev.Source == "" {
		ev.Source = tag
	}
	if tag != "" {
		ev.SetField("fluent.tag", tag)
	}

	for _, key := range []string{"level", "severity", "log_level"} {
		if v, ok := record[key]; ok {
			if sev, ok := logparse.SeverityFromValue(v); ok {
				ev.Severity = sev
				break
			}
		}
	}

	flattenInto(ev.Fields, "", record, fluentConsumed)
	ev.Source = strings.TrimPrefix(ev.Source, "/")
	return ev
}
