package decode

import (
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/timestamp"
)

const (
	maxPRI    = 191
	nilValue  = "-"
	utf8BOM   = "\xef\xbb\xbf"
	maxTagLen = 48
)

// ParseSyslog decodes a syslog line of unknown flavour. RFC5424 is tried
// first because its grammar is stricter; RFC3164 is the fallback.
func ParseSyslog(line string, now time.Time) *model.LogEvent {
	line = strings.TrimRight(line, "\r\n\x00")
	if ev := ParseRFC5424(line, now); ev != nil {
		return ev
	}
	return ParseRFC3164(line, now)
}

// parsePRI splits "<PRI>" from the front of s.
func parsePRI(s string) (pri int, rest string, ok bool) {
	if len(s) < 3 || s[0] != '<' {
		return 0, "", false
	}
	end := strings.IndexByte(s, '>')
	if end < 2 || end > 4 {
		return 0, "", false
	}
	digits := s[1:end]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, "", false
		}
	}
	if len(digits) > 1 && digits[0] == '0' {
		return 0, "", false
	}
	pri, err := strconv.Atoi(digits)
	if err != nil || pri > maxPRI {
		return 0, "", false
	}
	return pri, s[end+1:], true
}

func applyPRI(ev *model.LogEvent, pri int) {
	ev.Severity = model.Severity(pri % 8)
	ev.Facility = pri / 8
}

// nextToken splits s at the first space.
func nextToken(s string) (tok, rest string, ok bool) {
	if s == "" {
		return "", "", false
	}
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return s, "", true
	}
	return s[:i], s[i+1:], true
}

func nilable(tok string) string {
	if tok == nilValue {
		return ""
	}
	return tok
}

// ParseRFC5424 decodes "<PRI>VER TS HOST APP PROCID MSGID SD [MSG]".
// It returns nil when the line does not follow that grammar.
func ParseRFC5424(line string, now time.Time) *model.LogEvent {
	pri, rest, ok := parsePRI(line)
	if !ok {
		return nil
	}

	version, rest, ok := nextToken(rest)
	if !ok || version == "" || len(version) > 2 || version[0] == '0' {
		return nil
	}
	if _, err := strconv.Atoi(version); err != nil {
		return nil
	}

	var header [5]string
	for i := range header {
		if header[i], rest, ok = nextToken(rest); !ok || header[i] == "" {
			return nil
		}
	}
	stamp, host, app, procID, msgID := header[0], header[1], header[2], header[3], header[4]

	ts := now
	if stamp != nilValue {
		parsed, ok := timestamp.ParseISO(stamp)
		if !ok || !strings.Contains(stamp, "T") {
			return nil
		}
		ts = parsed
	}

	sd, msg, ok := parseStructuredData(rest)
	if !ok {
		return nil
	}

	ev := model.NewLogEvent()
	applyPRI(ev, pri)
	ev.Timestamp = ts
	ev.Hostname = nilable(host)
	ev.Source = nilable(app)
	ev.Message = sanitizeMessage(strings.TrimPrefix(msg, utf8BOM))
	ev.SetField("syslog.version", version)
	if v := nilable(procID); v != "" {
		ev.SetField("proc_id", v)
	}
	if v := nilable(msgID); v != "" {
		ev.SetField("msg_id", v)
	}
	for k, v := range sd {
		ev.SetField(k, v)
	}
	return ev
}

// parseStructuredData consumes the SD section ("-" or one or more
// [id k="v" ...] elements) and returns the params keyed as sd.<id>.<k>
// plus the remaining message.
func parseStructuredData(s string) (map[string]string, string, bool) {
	if s == nilValue {
		return nil, "", true
	}
	if strings.HasPrefix(s, nilValue+" ") {
		return nil, s[2:], true
	}
	if s == "" || s[0] != '[' {
		return nil, "", false
	}

	fields := map[string]string{}
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
		start := i
		for i < len(s) && s[i] != ' ' && s[i] != ']' {
			i++
		}
		id := s[start:i]
		if id == "" || i >= len(s) {
			return nil, "", false
		}
		params := 0
		for i < len(s) && s[i] == ' ' {
			i++
			nameStart := i
			for i < len(s) && s[i] != '=' {
				i++
			}
			if i+1 >= len(s) || s[i+1] != '"' {
				return nil, "", false
			}
			name := s[nameStart:i]
			i += 2

			var value strings.Builder
			closed := false
			for i < len(s) {
				c := s[i]
				if c == '\\' && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\' || s[i+1] == ']') {
					value.WriteByte(s[i+1])
					i += 2
					continue
				}
				if c == '"' {
					closed = true
					i++
					break
				}
				value.WriteByte(c)
				i++
			}
			if !closed || name == "" {
				return nil, "", false
			}
			fields["sd."+id+"."+name] = value.String()
			params++
		}
		if i >= len(s) || s[i] != ']' {
			return nil, "", false
		}
		i++
		if params == 0 {
			fields["sd."+id] = ""
		}
	}

	msg := s[i:]
	if msg != "" {
		if msg[0] != ' ' {
			return nil, "", false
		}
		msg = msg[1:]
	}
	return fields, msg, true
}

// ParseRFC3164 decodes "<PRI>MMM D HH:MM:SS HOST TAG: MSG". The header is
// best effort: a line with a valid PRI but no recognisable stamp keeps the
// receipt time and the whole remainder as its message.
func ParseRFC3164(line string, now time.Time) *model.LogEvent {
	pri, rest, ok := parsePRI(line)
	if !ok {
		return nil
	}
	if strings.TrimSpace(rest) == "" {
		return nil
	}

	ev := model.NewLogEvent()
	applyPRI(ev, pri)
	ev.Timestamp = now

	ts, after, found := parse3164Stamp(rest, now)
	if !found {
		ev.Message = sanitizeMessage(strings.TrimSpace(rest))
		return ev
	}
	ev.Timestamp = ts

	host, body, _ := nextToken(strings.TrimLeft(after, " "))
	if strings.HasSuffix(host, ":") || strings.Contains(host, "[") {
		// No HOST field; the first token is already the tag.
		body = after
		host = ""
	}
	ev.Hostname = host

	tag, pid, msg := splitTag(strings.TrimLeft(body, " "))
	ev.Source = tag
	if pid != "" {
		ev.SetField("pid", pid)
	}
	ev.Message = sanitizeMessage(msg)
	return ev
}

// parse3164Stamp reads either a BSD stamp or an RFC3339 stamp.
func parse3164Stamp(s string, now time.Time) (time.Time, string, bool) {
	if len(s) >= len(time.Stamp) {
		if ts, ok := timestamp.ParseRFC3164(s[:len(time.Stamp)], now); ok {
			return ts, s[len(time.Stamp):], true
		}
	}
	if tok, rest, ok := nextToken(s); ok && strings.Contains(tok, "T") {
		if ts, ok := timestamp.ParseISO(tok); ok {
			return ts, rest, true
		}
	}
	return time.Time{}, "", false
}

// splitTag separates "TAG[PID]: MSG". Without a recognisable tag the whole
// input is the message.
func splitTag(s string) (tag, pid, msg string) {
	end := strings.IndexAny(s, ":[ ")
	if end <= 0 || end > maxTagLen {
		return "", "", s
	}
	switch s[end] {
	case ' ':
		return "", "", s
	case '[':
		closeIdx := strings.IndexByte(s[end:], ']')
		if closeIdx < 0 {
			return "", "", s
		}
		tag = s[:end]
		pid = s[end+1 : end+closeIdx]
		rest := s[end+closeIdx+1:]
		rest = strings.TrimPrefix(rest, ":")
		return tag, pid, strings.TrimPrefix(rest, " ")
	default:
		tag = s[:end]
		return tag, "", strings.TrimPrefix(s[end+1:], " ")
	}
}
