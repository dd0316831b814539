// Package stats keeps process-lifetime ingestion and fan-out counters.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/lotus/internal/model"
)

type protocolCounters struct {
	messages     atomic.Uint64
	bytes        atomic.Uint64
	decodeErrors atomic.Uint64
	dropped      atomic.Uint64
	overflows    atomic.Uint64
}

// Stats is a set of monotonic counters safe for concurrent use. All methods
// accept a nil receiver so components can run without statistics.
type Stats struct {
	started time.Time

	messages          atomic.Uint64
	bytes             atomic.Uint64
	decodeErrors      atomic.Uint64
	forwardErrors     atomic.Uint64
	droppedEnvelopes  atomic.Uint64
	streamsOpened     atomic.Uint64
	streamsClosed     atomic.Uint64
	overflows         atomic.Uint64
	connections       atomic.Uint64
	disconnections    atomic.Uint64
	activeClients     atomic.Int64
	admissionRejected atomic.Uint64
	eventsFiltered    atomic.Uint64
	eventsDelivered   atomic.Uint64
	eventsDropped     atomic.Uint64
	filterErrors      atomic.Uint64

	// Fixed at construction; read without locking.
	protocols map[model.Protocol]*protocolCounters
}

// New returns zeroed counters with one slot per supported protocol.
func New() *Stats {
	s := &Stats{
		started:   time.Now(),
		protocols: make(map[model.Protocol]*protocolCounters, len(model.Protocols)),
	}
	for _, p := range model.Protocols {
		s.protocols[p] = &protocolCounters{}
	}
	return s
}

func (s *Stats) protocol(p model.Protocol) *protocolCounters {
	if s == nil {
		return nil
	}
	return s.protocols[p]
}

// RecordEnvelope counts one received frame of size bytes carrying events events.
func (s *Stats) RecordEnvelope(p model.Protocol, size, events int) {
	if s == nil {
		return
	}
	s.messages.Add(uint64(events))
	s.bytes.Add(uint64(max(size, 0)))
	if pc := s.protocol(p); pc != nil {
		pc.messages.Add(uint64(events))
		pc.bytes.Add(uint64(max(size, 0)))
	}
}

// RecordDecodeError counts a payload that failed to decode.
func (s *Stats) RecordDecodeError(p model.Protocol) {
	if s == nil {
		return
	}
	s.decodeErrors.Add(1)
	if pc := s.protocol(p); pc != nil {
		pc.decodeErrors.Add(1)
	}
}

// RecordDropped counts an envelope a listener discarded because the
// dispatcher queue was full.
func (s *Stats) RecordDropped(p model.Protocol) {
	if s == nil {
		return
	}
	s.droppedEnvelopes.Add(1)
	if pc := s.protocol(p); pc != nil {
		pc.dropped.Add(1)
	}
}

// RecordOverflow counts frames lost to reassembly limits or unterminated at close.
func (s *Stats) RecordOverflow(p model.Protocol, n int) {
	if s == nil || n <= 0 {
		return
	}
	s.overflows.Add(uint64(n))
	if pc := s.protocol(p); pc != nil {
		pc.overflows.Add(uint64(n))
	}
}

// RecordForwardError counts a consumer failure.
func (s *Stats) RecordForwardError() {
	if s != nil {
		s.forwardErrors.Add(1)
	}
}

// RecordStreamOpened counts an accepted ingestion connection.
func (s *Stats) RecordStreamOpened() {
	if s != nil {
		s.streamsOpened.Add(1)
	}
}

// RecordStreamClosed counts a closed ingestion connection.
func (s *Stats) RecordStreamClosed() {
	if s != nil {
		s.streamsClosed.Add(1)
	}
}

// RecordConnection counts an admitted subscriber.
func (s *Stats) RecordConnection() {
	if s != nil {
		s.connections.Add(1)
		s.activeClients.Add(1)
	}
}

// RecordDisconnection counts a departed subscriber.
func (s *Stats) RecordDisconnection() {
	if s != nil {
		s.disconnections.Add(1)
		s.activeClients.Add(-1)
	}
}

// RecordRejected counts a subscriber refused by admission control.
func (s *Stats) RecordRejected() {
	if s != nil {
		s.admissionRejected.Add(1)
	}
}

// RecordFiltered counts an event withheld from a subscription by its filters.
func (s *Stats) RecordFiltered() {
	if s != nil {
		s.eventsFiltered.Add(1)
	}
}

// RecordDelivered counts an event queued to a subscriber.
func (s *Stats) RecordDelivered() {
	if s != nil {
		s.eventsDelivered.Add(1)
	}
}

// RecordSlowClientDrop counts an event dropped because a subscriber queue was full.
func (s *Stats) RecordSlowClientDrop() {
	if s != nil {
		s.eventsDropped.Add(1)
	}
}

// RecordFilterError counts a custom filter that failed to evaluate.
func (s *Stats) RecordFilterError() {
	if s != nil {
		s.filterErrors.Add(1)
	}
}

// ProtocolSnapshot holds the per-protocol counters.
type ProtocolSnapshot struct {
	Messages     uint64 `json:"messages"`
	Bytes        uint64 `json:"bytes"`
	DecodeErrors uint64 `json:"decode_errors"`
	Dropped      uint64 `json:"dropped"`
	Overflows    uint64 `json:"overflows"`
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Timestamp         time.Time                   `json:"timestamp"`
	Uptime            time.Duration               `json:"uptime_ns"`
	Messages          uint64                      `json:"messages"`
	Bytes             uint64                      `json:"bytes"`
	DecodeErrors      uint64                      `json:"decode_errors"`
	ForwardErrors     uint64                      `json:"forward_errors"`
	DroppedEnvelopes  uint64                      `json:"dropped_envelopes"`
	StreamsOpened     uint64                      `json:"streams_opened"`
	StreamsClosed     uint64                      `json:"streams_closed"`
	Overflows         uint64                      `json:"overflows"`
	Connections       uint64                      `json:"connections"`
	Disconnections    uint64                      `json:"disconnections"`
	ActiveClients     int64                       `json:"active_clients"`
	AdmissionRejected uint64                      `json:"admission_rejected"`
	EventsFiltered    uint64                      `json:"events_filtered"`
	EventsDelivered   uint64                      `json:"events_delivered"`
	EventsDropped     uint64                      `json:"events_dropped"`
	FilterErrors      uint64                      `json:"filter_errors"`
	Protocols         map[string]ProtocolSnapshot `json:"protocols"`
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{Timestamp: time.Now(), Protocols: map[string]ProtocolSnapshot{}}
	}
	now := time.Now()
	snap := Snapshot{
		Timestamp:         now,
		Uptime:            now.Sub(s.started),
		Messages:          s.messages.Load(),
		Bytes:             s.bytes.Load(),
		DecodeErrors:      s.decodeErrors.Load(),
		ForwardErrors:     s.forwardErrors.Load(),
		DroppedEnvelopes:  s.droppedEnvelopes.Load(),
		StreamsOpened:     s.streamsOpened.Load(),
		StreamsClosed:     s.streamsClosed.Load(),
		Overflows:         s.overflows.Load(),
		Connections:       s.connections.Load(),
		Disconnections:    s.disconnections.Load(),
		ActiveClients:     s.activeClients.Load(),
		AdmissionRejected: s.admissionRejected.Load(),
		EventsFiltered:    s.eventsFiltered.Load(),
		EventsDelivered:   s.eventsDelivered.Load(),
		EventsDropped:     s.eventsDropped.Load(),
		FilterErrors:      s.filterErrors.Load(),
		Protocols:         make(map[string]ProtocolSnapshot, len(s.protocols)),
	}
	for p, pc := range s.protocols {
		snap.Protocols[string(p)] = ProtocolSnapshot{
			Messages:     pc.messages.Load(),
			Bytes:        pc.bytes.Load(),
			DecodeErrors: pc.decodeErrors.Load(),
			Dropped:      pc.dropped.Load(),
			Overflows:    pc.overflows.Load(),
		}
	}
	return snap
}
