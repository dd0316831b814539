// Package decode turns protocol payloads into canonical log events.
//
// Every decoder is a pure function. A payload that does not fit the format
// yields no events rather than an error value or a panic; Decode wraps that
// absence in a *DecodeError for callers that count failures.
package decode

import (
	"errors"
	"fmt"
	"time"

	"github.com/tinytelemetry/lotus/internal/model"
)

var (
	// ErrMalformed reports a payload that does not match its protocol.
	ErrMalformed = errors.New("malformed payload")
	// ErrUnknownProtocol reports a protocol tag with no decoder.
	ErrUnknownProtocol = errors.New("unknown protocol")
)

// DecodeError is returned by Decode for payloads that produced no events.
type DecodeError struct {
	Protocol model.Protocol
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Protocol, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Func decodes one complete payload.
type Func func(payload []byte, now time.Time) []*model.LogEvent

var decoders = map[model.Protocol]Func{
	model.ProtocolSyslog: func(payload []byte, now time.Time) []*model.LogEvent {
		return single(ParseSyslog(string(payload), now))
	},
	model.ProtocolGELF: func(payload []byte, now time.Time) []*model.LogEvent {
		return single(ParseGELF(payload, now))
	},
	model.ProtocolBeats:  ParseBeats,
	model.ProtocolFluent: ParseFluent,
}

// Decode dispatches payload to the decoder registered for protocol. Decoded
// events are tagged with the protocol. A recovered panic is reported as a
// malformed payload.
func Decode(protocol model.Protocol, payload []byte, now time.Time) (events []*model.LogEvent, err error) {
	fn, ok := decoders[protocol]
	if !ok {
		return nil, &DecodeError{Protocol: protocol, Err: ErrUnknownProtocol}
	}

	defer func() {
		if r := recover(); r != nil {
			events = nil
			err = &DecodeError{Protocol: protocol, Err: fmt.Errorf("%w: recovered: %v", ErrMalformed, r)}
		}
	}()

	events = fn(payload, now)
	if len(events) == 0 {
		return nil, &DecodeError{Protocol: protocol, Err: ErrMalformed}
	}
	for _, ev := range events {
		ev.Protocol = protocol
	}
	return events, nil
}

// Supported reports whether a decoder exists for protocol.
func Supported(protocol model.Protocol) bool {
	_, ok := decoders[protocol]
	return ok
}

func single(ev *model.LogEvent) []*model.LogEvent {
	if ev == nil {
		return nil
	}
	return []*model.LogEvent{ev}
}
