// Package reassembly turns a TCP byte stream into complete frames.
package reassembly

import (
	"bytes"
	"errors"
)

const (
	// DefaultMaxFrameSize bounds a single frame (1MB).
	DefaultMaxFrameSize = 1024 * 1024

	maxOctetDigits = 9
)

// ErrFrameTooLarge is reported for frames dropped because they exceeded MaxFrameSize.
var ErrFrameTooLarge = errors.New("reassembly: frame exceeds maximum size")

// Config controls framing for one connection.
type Config struct {
	// Delimiter terminates a frame: '\n' for syslog and Beats, 0 for GELF.
	Delimiter byte
	// MaxFrameSize drops any frame larger than this many bytes.
	MaxFrameSize int
	// OctetCounting additionally accepts RFC6587 "LEN SP MSG" frames,
	// recognised by a leading non-zero digit.
	OctetCounting bool
}

// Reassembler accumulates chunks for a single connection. It is not safe for
// concurrent use; each connection owns its own.
type Reassembler struct {
	cfg        Config
	buf        []byte
	discarding bool
	overflows  int
}

// New returns a Reassembler for cfg.
func New(cfg Config) *Reassembler {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	return &Reassembler{cfg: cfg}
}

// Feed appends chunk and returns every frame completed by it, in order.
// The trailing incomplete remainder is kept for the next call. Returned
// frames do not alias internal state.
func (r *Reassembler) Feed(chunk []byte) [][]byte {
	r.buf = append(r.buf, chunk...)

	var frames [][]byte
	rest := r.buf
	for len(rest) > 0 {
		if r.discarding {
			idx := bytes.IndexByte(rest, r.cfg.Delimiter)
			if idx < 0 {
				rest = rest[:0]
				break
			}
			rest = rest[idx+1:]
			r.discarding = false
			continue
		}

		if r.cfg.OctetCounting && rest[0] >= '1' && rest[0] <= '9' {
			frame, consumed, state := r.octetFrame(rest)
			if state == octetIncomplete {
				break
			}
			if state == octetComplete {
				rest = rest[consumed:]
				if frame != nil {
					frames = append(frames, frame)
				}
				continue
			}
		}

		idx := bytes.IndexByte(rest, r.cfg.Delimiter)
		if idx < 0 {
			if len(rest) > r.cfg.MaxFrameSize {
				r.overflows++
				r.discarding = true
				rest = rest[:0]
			}
			break
		}

		frame := rest[:idx]
		rest = rest[idx+1:]
		if r.cfg.Delimiter == '\n' {
			frame = bytes.TrimSuffix(frame, []byte{'\r'})
		}
		if len(frame) > r.cfg.MaxFrameSize {
			r.overflows++
			continue
		}
		if len(frame) == 0 {
			continue
		}
		frames = append(frames, bytes.Clone(frame))
	}

	n := copy(r.buf, rest)
	r.buf = r.buf[:n]
	return frames
}

type octetState int

const (
	octetNotFramed octetState = iota
	octetIncomplete
	octetComplete
)

// octetFrame reads one octet-counted frame from the front of b.
func (r *Reassembler) octetFrame(b []byte) ([]byte, int, octetState) {
	length := 0
	i := 0
	for ; i < len(b) && i <= maxOctetDigits; i++ {
		c := b[i]
		if c == ' ' {
			break
		}
		if c < '0' || c > '9' {
			return nil, 0, octetNotFramed
		}
		length = length*10 + int(c-'0')
	}
	if i == len(b) {
		return nil, 0, octetIncomplete
	}
	if i > maxOctetDigits || b[i] != ' ' {
		return nil, 0, octetNotFramed
	}
	if length > r.cfg.MaxFrameSize {
		// Too large to buffer; fall back to delimiter framing, which
		// drops it as an oversized frame.
		return nil, 0, octetNotFramed
	}

	start := i + 1
	end := start + length
	if end > len(b) {
		return nil, 0, octetIncomplete
	}
	frame := b[start:end]
	if r.cfg.Delimiter == '\n' {
		frame = bytes.TrimSuffix(frame, []byte{'\n'})
	}
	if len(frame) == 0 {
		return nil, end, octetComplete
	}
	return bytes.Clone(frame), end, octetComplete
}

// Pending returns the number of buffered bytes not yet part of a complete frame.
func (r *Reassembler) Pending() int { return len(r.buf) }

// Overflows returns how many frames were dropped for exceeding MaxFrameSize.
func (r *Reassembler) Overflows() int { return r.overflows }

// Close discards the unterminated remainder and returns its size.
// An incomplete frame is never decoded.
func (r *Reassembler) Close() int {
	n := len(r.buf)
	r.buf = r.buf[:0]
	r.discarding = false
	return n
}
