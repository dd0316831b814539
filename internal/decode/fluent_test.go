package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/lotus/internal/model"
)

func TestParseFluent_SingleObject(t *testing.T) {
	t.Parallel()

	events := ParseFluent([]byte(`{"message":"user created","host":"api-2","level":"warn","user":{"id":7}}`), testNow)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "user created", ev.Message)
	assert.Equal(t, "api-2", ev.Hostname)
	assert.Equal(t, model.SeverityWarning, ev.Severity)
	assert.Equal(t, testNow, ev.Timestamp)
	assert.Equal(t, float64(7), ev.Fields["user.id"])
}

func TestParseFluent_EpochPairs(t *testing.T) {
	t.Parallel()

	payload := `[[1700000000,{"log":"first\n"}],[1700000001.5,{"message":"second","severity":"error"}]]`
	events := ParseFluent([]byte(payload), testNow)
	require.Len(t, events, 2)

	assert.Equal(t, time.Unix(1700000000, 0).UTC(), events[0].Timestamp)
	assert.Equal(t, "first", events[0].Message)
	assert.Equal(t, model.SeverityInformational, events[0].Severity)

	assert.Equal(t, time.Unix(1700000001, 500_000_000).UTC(), events[1].Timestamp)
	assert.Equal(t, model.SeverityError, events[1].Severity)
}

func TestParseFluent_ForwardTriple(t *testing.T) {
	t.Parallel()

	events := ParseFluent([]byte(`["docker.web",1700000000,{"log":"hello","container_name":"/web"}]`), testNow)
	require.Len(t, events, 1)
	assert.Equal(t, "web", events[0].Source)
	assert.Equal(t, "docker.web", events[0].Fields["fluent.tag"])
}

func TestParseFluentTagged_TagIsSourceFallback(t *testing.T) {
	t.Parallel()

	events := ParseFluentTagged([]byte(`{"message":"x"}`), "app.orders", testNow)
	require.Len(t, events, 1)
	assert.Equal(t, "app.orders", events[0].Source)

	events = ParseFluentTagged([]byte(`{"message":"x","app":"billing"}`), "app.orders", testNow)
	require.Len(t, events, 1)
	assert.Equal(t, "billing", events[0].Source)
}

func TestParseFluent_SkipsBadPairs(t *testing.T) {
	t.Parallel()

	payload := `[[1700000000,{"message":"ok"}],["nope",{"message":"bad"}],[1700000000],42]`
	events := ParseFluent([]byte(payload), testNow)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Message)
}

func TestParseFluent_Malformed(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{"", "plain text", "[", `{"message":`, "[]", `[1,2]`} {
		assert.Empty(t, ParseFluent([]byte(payload), testNow), "payload %q", payload)
	}
}
