package decode

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/tinytelemetry/lotus/internal/logparse"
	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/timestamp"
)

// MaxInflatedSize bounds a decompressed GELF payload.
const MaxInflatedSize = 8 << 20

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	chunkMagic = []byte{0x1e, 0x0f}
)

var gelfReserved = keySet("version", "host", "short_message", "full_message", "timestamp", "level", "facility", "line", "file")

// ParseGELF decodes a GELF payload, transparently inflating gzip and zlib
// bodies. version, host and short_message are mandatory. Chunked GELF is
// not reassembled and decodes to nil.
func ParseGELF(payload []byte, now time.Time) *model.LogEvent {
	data, ok := inflateGELF(payload)
	if !ok {
		return nil
	}
	data = bytes.Trim(data, "\x00 \t\r\n")

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil
	}

	version, ok := raw["version"].(string)
	if !ok || strings.TrimSpace(version) == "" {
		return nil
	}
	host, ok := raw["host"].(string)
	if !ok || strings.TrimSpace(host) == "" {
		return nil
	}
	short, ok := raw["short_message"].(string)
	if !ok || strings.TrimSpace(short) == "" {
		return nil
	}

	ev := model.NewLogEvent()
	ev.Hostname = host
	ev.Message = sanitizeMessage(short)
	ev.Timestamp = now
	if v, present := raw["timestamp"]; present {
		if ts, ok := timestamp.ParseEpoch(v); ok {
			ev.Timestamp = ts
		}
	}
	if v, present := raw["level"]; present {
		if sev, ok := logparse.SeverityFromValue(v); ok && sev.Valid() {
			ev.Severity = sev
		}
	}

	ev.SetField("gelf.version", version)
	if full, ok := raw["full_message"].(string); ok && full != "" {
		ev.SetField("full_message", full)
	}
	if facility, ok := raw["facility"].(string); ok && facility != "" {
		ev.SetField("gelf_facility", facility)
	}
	if v, ok := raw["line"]; ok {
		ev.SetField("line", v)
	}
	if v, ok := raw["file"].(string); ok && v != "" {
		ev.SetField("file", v)
	}

	for k, v := range raw {
		if _, reserved := gelfReserved[k]; reserved {
			continue
		}
		if !strings.HasPrefix(k, "_") {
			continue
		}
		name := strings.TrimPrefix(k, "_")
		if name == "" || name == "id" {
			continue
		}
		ev.SetField(name, v)
	}

	ev.Source = gelfSource(ev.Fields)
	return ev
}

func gelfSource(fields map[string]any) string {
	for _, key := range []string{"application_name", "app", "service", "service_name", "gelf_facility"} {
		if s, ok := fields[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// inflateGELF returns the plain JSON body, detecting compression from the
// leading magic bytes.
func inflateGELF(payload []byte) ([]byte, bool) {
	switch {
	case len(payload) < 2:
		return payload, len(payload) > 0
	case bytes.HasPrefix(payload, chunkMagic):
		return nil, false
	case bytes.HasPrefix(payload, gzipMagic):
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, false
		}
		defer r.Close()
		return readBounded(r)
	case isZlibHeader(payload[0], payload[1]):
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, false
		}
		defer r.Close()
		return readBounded(r)
	default:
		return payload, true
	}
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

func readBounded(r io.Reader) ([]byte, bool) {
	data, err := io.ReadAll(io.LimitReader(r, MaxInflatedSize+1))
	if err != nil || len(data) > MaxInflatedSize {
		return nil, false
	}
	return data, true
}
