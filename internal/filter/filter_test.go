package filter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/lotus/internal/model"
)

func sampleEvent() *model.LogEvent {
	e := model.NewLogEvent()
	e.Timestamp = time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)
	e.Severity = model.SeverityError
	e.Hostname = "web-01"
	e.Source = "Nginx"
	e.Message = "Upstream timed out while reading response"
	e.Protocol = model.ProtocolSyslog
	e.Transport = model.TransportUDP
	e.SourceIP = "10.0.0.7"
	e.SetField("status", 504)
	e.SetField("region", "eu-west-1")
	return e
}

func mustCompile(t *testing.T, specs ...Spec) []Matcher {
	t.Helper()
	m, err := Compile(specs, nil)
	require.NoError(t, err)
	return m
}

func TestLevelFilter(t *testing.T) {
	e := sampleEvent()
	tests := []struct {
		level string
		want  bool
	}{
		{"debug", true},
		{"info", true},
		{"warn", true},
		{"error", true},
		{"critical", false},
		{"WARNING", true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			m := mustCompile(t, Spec{Type: TypeLevel, Level: tt.level})
			assert.Equal(t, tt.want, Match(e, m...))
		})
	}
}

func TestStringOperatorsCaseInsensitive(t *testing.T) {
	e := sampleEvent()
	tests := []struct {
		name string
		spec Spec
		want bool
	}{
		{"equals", Spec{Type: TypeSource, Operator: OpEquals, Value: "nginx"}, true},
		{"equals miss", Spec{Type: TypeSource, Operator: OpEquals, Value: "ngin"}, false},
		{"contains", Spec{Type: TypeMessage, Operator: OpContains, Value: "TIMED OUT"}, true},
		{"default operator is contains", Spec{Type: TypeMessage, Value: "reading"}, true},
		{"starts_with", Spec{Type: TypeMessage, Operator: OpStartsWith, Value: "upstream"}, true},
		{"ends_with", Spec{Type: TypeMessage, Operator: OpEndsWith, Value: "RESPONSE"}, true},
		{"ends_with miss", Spec{Type: TypeMessage, Operator: OpEndsWith, Value: "request"}, false},
		{"regex", Spec{Type: TypeMessage, Operator: OpRegex, Value: `^upstream\s+timed`}, true},
		{"hostname", Spec{Type: TypeHostname, Operator: OpStartsWith, Value: "WEB-"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustCompile(t, tt.spec)
			assert.Equal(t, tt.want, Match(e, m...))
		})
	}
}

func TestTimeRangeInclusive(t *testing.T) {
	e := sampleEvent()

	m := mustCompile(t, Spec{Type: TypeTimeRange, From: "2025-11-01T12:00:00Z", To: "2025-11-01T12:00:00Z"})
	assert.True(t, Match(e, m...))

	m = mustCompile(t, Spec{Type: TypeTimeRange, From: "2025-11-01T12:00:01Z"})
	assert.False(t, Match(e, m...))

	m = mustCompile(t, Spec{Type: TypeTimeRange, To: float64(e.Timestamp.Unix() - 1)})
	assert.False(t, Match(e, m...))
}

func TestFiltersAreANDed(t *testing.T) {
	e := sampleEvent()
	m := mustCompile(t,
		Spec{Type: TypeLevel, Level: "warn"},
		Spec{Type: TypeSource, Operator: OpEquals, Value: "nginx"},
	)
	assert.True(t, Match(e, m...))

	m = mustCompile(t,
		Spec{Type: TypeLevel, Level: "warn"},
		Spec{Type: TypeSource, Operator: OpEquals, Value: "postgres"},
	)
	assert.False(t, Match(e, m...))

	assert.True(t, Match(e), "no filters passes everything")
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want error
	}{
		{"unknown type", Spec{Type: "severity"}, ErrUnknownType},
		{"unknown operator", Spec{Type: TypeSource, Operator: "like", Value: "x"}, ErrUnknownOperator},
		{"bad regex", Spec{Type: TypeMessage, Operator: OpRegex, Value: "("}, ErrInvalidFilter},
		{"bad level", Spec{Type: TypeLevel, Level: "loud"}, ErrInvalidFilter},
		{"empty range", Spec{Type: TypeTimeRange}, ErrInvalidFilter},
		{"bad range bound", Spec{Type: TypeTimeRange, From: "yesterday"}, ErrInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile([]Spec{tt.spec}, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCustomExpression(t *testing.T) {
	e := sampleEvent()
	m := mustCompile(t, Spec{Type: TypeCustom, Expression: `severity <= 3 && fields.region == "eu-west-1"`})
	assert.True(t, Match(e, m...))

	m = mustCompile(t, Spec{Type: TypeCustom, Expression: `protocol == "gelf"`})
	assert.False(t, Match(e, m...))
}

func TestCustomExpressionFailsOpen(t *testing.T) {
	e := sampleEvent()
	var failures []string
	onError := func(expression string, err error) { failures = append(failures, expression) }

	m, err := Compile([]Spec{
		{Type: TypeCustom, Expression: `fields.region > 5`},
		{Type: TypeCustom, Expression: `this is not ( valid`},
	}, onError)
	require.NoError(t, err)

	assert.True(t, Match(e, m...))
	assert.Equal(t, []string{`fields.region > 5`, `this is not ( valid`}, failures)
}

func TestSpecJSON(t *testing.T) {
	var specs []Spec
	raw := `[{"type":"level","level":"warn"},{"type":"time_range","from":1761955200,"to":"2030-01-01T00:00:00Z"}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &specs))

	m, err := Compile(specs, nil)
	require.NoError(t, err)
	assert.True(t, Match(sampleEvent(), m...))
}
