package decode

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/lotus/internal/model"
)

var testNow = time.Date(2025, time.November, 1, 12, 0, 0, 0, time.UTC)

func TestParseRFC3164_Scenario(t *testing.T) {
	t.Parallel()

	ev := ParseRFC3164("<34>Oct 11 22:14:15 mymachine su: 'su root' failed", testNow)
	require.NotNil(t, ev)

	assert.Equal(t, 4, ev.Facility)
	assert.Equal(t, model.SeverityCritical, ev.Severity)
	assert.Equal(t, "mymachine", ev.Hostname)
	assert.Equal(t, "su", ev.Source)
	assert.Equal(t, "'su root' failed", ev.Message)
	assert.Equal(t, time.Date(2025, time.October, 11, 22, 14, 15, 0, time.UTC), ev.Timestamp)
}

func TestParseRFC3164_PRIDecomposition(t *testing.T) {
	t.Parallel()

	for pri := 0; pri <= 191; pri++ {
		line := fmt.Sprintf("<%d>Oct 11 22:14:15 host app: message %d", pri, pri)
		ev := ParseRFC3164(line, testNow)
		require.NotNil(t, ev, line)
		assert.Equal(t, model.Severity(pri%8), ev.Severity, line)
		assert.Equal(t, pri/8, ev.Facility, line)
	}
}

func TestParseRFC3164_TagWithPID(t *testing.T) {
	t.Parallel()

	ev := ParseRFC3164("<13>Feb  5 17:32:18 web01 sshd[4123]: Accepted publickey for deploy", testNow)
	require.NotNil(t, ev)

	assert.Equal(t, "web01", ev.Hostname)
	assert.Equal(t, "sshd", ev.Source)
	assert.Equal(t, "4123", ev.Fields["pid"])
	assert.Equal(t, "Accepted publickey for deploy", ev.Message)
	assert.Equal(t, model.SeverityNotice, ev.Severity)
	assert.Equal(t, 1, ev.Facility)
}

func TestParseRFC3164_NoHost(t *testing.T) {
	t.Parallel()

	ev := ParseRFC3164("<13>Feb  5 17:32:18 cron[77]: job done", testNow)
	require.NotNil(t, ev)

	assert.Empty(t, ev.Hostname)
	assert.Equal(t, "cron", ev.Source)
	assert.Equal(t, "job done", ev.Message)
}

func TestParseRFC3164_NoHeaderKeepsReceiptTime(t *testing.T) {
	t.Parallel()

	ev := ParseRFC3164("<14>plain message without header", testNow)
	require.NotNil(t, ev)

	assert.Equal(t, testNow, ev.Timestamp)
	assert.Equal(t, "plain message without header", ev.Message)
	assert.Equal(t, model.SeverityInformational, ev.Severity)
}

func TestParseRFC3164_FutureStampRollsBack(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.January, 1, 0, 1, 0, 0, time.UTC)
	ev := ParseRFC3164("<13>Dec 31 23:59:59 host app: late", now)
	require.NotNil(t, ev)
	assert.Equal(t, 2025, ev.Timestamp.Year())
}

func TestParseRFC3164_Malformed(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		"",
		"no pri here",
		"<>Oct 11 22:14:15 host app: x",
		"<192>Oct 11 22:14:15 host app: x",
		"<abc>Oct 11 22:14:15 host app: x",
		"<013>Oct 11 22:14:15 host app: x",
		"<13>",
		"<13>   ",
	} {
		assert.Nil(t, ParseRFC3164(line, testNow), "line %q", line)
	}
}

func TestParseRFC5424_Full(t *testing.T) {
	t.Parallel()

	line := `<165>1 2003-10-11T22:14:15.003Z mymachine.example.com evntslog - ID47 [exampleSDID@32473 iut="3" eventSource="Application" eventID="1011"] An application event log entry`
	ev := ParseRFC5424(line, testNow)
	require.NotNil(t, ev)

	assert.Equal(t, 20, ev.Facility)
	assert.Equal(t, model.SeverityNotice, ev.Severity)
	assert.Equal(t, "mymachine.example.com", ev.Hostname)
	assert.Equal(t, "evntslog", ev.Source)
	assert.Equal(t, "An application event log entry", ev.Message)
	assert.Equal(t, time.Date(2003, 10, 11, 22, 14, 15, 3_000_000, time.UTC), ev.Timestamp.UTC())
	assert.Equal(t, "ID47", ev.Fields["msg_id"])
	assert.NotContains(t, ev.Fields, "proc_id")
	assert.Equal(t, "3", ev.Fields["sd.exampleSDID@32473.iut"])
	assert.Equal(t, "Application", ev.Fields["sd.exampleSDID@32473.eventSource"])
	assert.Equal(t, "1011", ev.Fields["sd.exampleSDID@32473.eventID"])
}

func TestParseRFC5424_NilValues(t *testing.T) {
	t.Parallel()

	ev := ParseRFC5424("<34>1 - - - - - -", testNow)
	require.NotNil(t, ev)

	assert.Equal(t, testNow, ev.Timestamp)
	assert.Empty(t, ev.Hostname)
	assert.Empty(t, ev.Source)
	assert.Empty(t, ev.Message)
}

func TestParseRFC5424_BOMAndEscapes(t *testing.T) {
	t.Parallel()

	line := "<13>1 2024-01-15T10:30:45+02:00 host app 1234 - [meta note=\"a \\\"quoted\\\" \\] value\"][empty] \xef\xbb\xbfhello"
	ev := ParseRFC5424(line, testNow)
	require.NotNil(t, ev)

	assert.Equal(t, "hello", ev.Message)
	assert.Equal(t, "1234", ev.Fields["proc_id"])
	assert.Equal(t, `a "quoted" ] value`, ev.Fields["sd.meta.note"])
	assert.Contains(t, ev.Fields, "sd.empty")
}

func TestParseRFC5424_Malformed(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		"<34>Oct 11 22:14:15 mymachine su: 'su root' failed",
		"<34>1 2003-10-11T22:14:15Z host app",
		"<34>1 notatime host app - - - msg",
		"<34>1 2003-10-11T22:14:15Z host app - - [broken",
		"<34>1 2003-10-11T22:14:15Z host app - - nosd",
		"<34>0 - - - - - -",
	} {
		assert.Nil(t, ParseRFC5424(line, testNow), "line %q", line)
	}
}

func TestParseSyslog_PrefersRFC5424(t *testing.T) {
	t.Parallel()

	ev := ParseSyslog("<14>1 2024-05-01T08:00:00Z api-1 billing 42 - - charge ok\r\n", testNow)
	require.NotNil(t, ev)
	assert.Equal(t, "billing", ev.Source)
	assert.Equal(t, "charge ok", ev.Message)
	assert.Equal(t, "1", ev.Fields["syslog.version"])

	ev = ParseSyslog("<34>Oct 11 22:14:15 mymachine su: 'su root' failed", testNow)
	require.NotNil(t, ev)
	assert.Equal(t, "su", ev.Source)
	assert.NotContains(t, ev.Fields, "syslog.version")
}
