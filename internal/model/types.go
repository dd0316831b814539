package model

import (
	"encoding/json"
	"time"
)

// Protocol identifies the wire format an event arrived in.
type Protocol string

const (
	ProtocolSyslog Protocol = "syslog"
	ProtocolGELF   Protocol = "gelf"
	ProtocolBeats  Protocol = "beats"
	ProtocolFluent Protocol = "fluent"
)

// Protocols lists every supported protocol in a stable order.
var Protocols = []Protocol{ProtocolSyslog, ProtocolGELF, ProtocolBeats, ProtocolFluent}

// Transport identifies how the bytes reached the listener.
type Transport string

const (
	TransportUDP   Transport = "udp"
	TransportTCP   Transport = "tcp"
	TransportHTTP  Transport = "http"
	TransportStdin Transport = "stdin"
)

// NoFacility marks formats that carry no syslog facility.
const NoFacility = -1

// LogEvent is the canonical record produced by every decoder.
// Once handed to the dispatcher it is shared read-only between consumers.
type LogEvent struct {
	Timestamp  time.Time
	Severity   Severity
	Facility   int
	Hostname   string
	Source     string
	Message    string
	Protocol   Protocol
	Transport  Transport
	SourceIP   string
	ReceivedAt time.Time
	Fields     map[string]any
}

// NewLogEvent returns an event with info severity, no facility and an empty field set.
func NewLogEvent() *LogEvent {
	return &LogEvent{
		Severity: SeverityInformational,
		Facility: NoFacility,
		Fields:   map[string]any{},
	}
}

// SetField records an extension field, ignoring empty keys.
func (e *LogEvent) SetField(key string, value any) {
	if key == "" {
		return
	}
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = value
}

// Level returns the event's position on the five-tier filter scale.
func (e *LogEvent) Level() Level {
	return e.Severity.Level()
}

var canonicalKeys = map[string]struct{}{
	"timestamp": {}, "severity": {}, "level": {}, "facility": {}, "hostname": {},
	"source": {}, "message": {}, "protocol": {}, "transport": {}, "source_ip": {},
	"received_at": {},
}

// Map flattens the event into its canonical wire shape. Extension fields are
// merged at the top level; a field that collides with a canonical key is
// emitted as field_<key>.
func (e *LogEvent) Map() map[string]any {
	out := make(map[string]any, len(canonicalKeys)+len(e.Fields))
	for k, v := range e.Fields {
		if _, taken := canonicalKeys[k]; taken {
			out["field_"+k] = v
			continue
		}
		out[k] = v
	}
	out["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	out["severity"] = int(e.Severity)
	out["level"] = e.Severity.Level().String()
	if e.Facility >= 0 {
		out["facility"] = e.Facility
	}
	out["hostname"] = e.Hostname
	out["source"] = e.Source
	out["message"] = e.Message
	out["protocol"] = string(e.Protocol)
	out["transport"] = string(e.Transport)
	out["source_ip"] = e.SourceIP
	if !e.ReceivedAt.IsZero() {
		out["received_at"] = e.ReceivedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// MarshalJSON encodes the canonical flat shape.
func (e *LogEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Map())
}
