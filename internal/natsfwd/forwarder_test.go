package natsfwd

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/stats"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix   string
		protocol model.Protocol
		want     string
	}{
		{"lotus.logs", model.ProtocolSyslog, "lotus.logs.syslog"},
		{"ingest.", model.ProtocolGELF, "ingest.gelf"},
		{"", model.ProtocolBeats, DefaultSubjectPrefix + ".beats"},
		{"x", "", "x.unknown"},
	}
	for _, tt := range tests {
		f := New(&fakePublisher{}, tt.prefix, zerolog.Nop())
		assert.Equal(t, tt.want, f.Subject(tt.protocol))
	}
}

func TestConsumePublishesCanonicalJSON(t *testing.T) {
	pub := &fakePublisher{}
	f := New(pub, "lotus.logs", zerolog.Nop())
	assert.Equal(t, "nats", f.Name())

	e := model.NewLogEvent()
	e.Timestamp = time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)
	e.Message = "hello"
	e.Protocol = model.ProtocolFluent
	e.SetField("tag", "app.web")

	require.NoError(t, f.Consume(e))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "lotus.logs.fluent", pub.msgs[0].subject)

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &got))
	assert.Equal(t, "hello", got["message"])
	assert.Equal(t, "app.web", got["tag"])
	assert.Equal(t, "info", got["level"])
}

func TestConsumeWrapsPublishError(t *testing.T) {
	boom := errors.New("no responders")
	f := New(&fakePublisher{err: boom}, "", zerolog.Nop())

	err := f.Consume(model.NewLogEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestPublishSnapshot(t *testing.T) {
	pub := &fakePublisher{}
	f := New(pub, "lotus.logs", zerolog.Nop())

	s := stats.New()
	s.RecordEnvelope(model.ProtocolSyslog, 42, 1)
	require.NoError(t, f.Publish(context.Background(), s.Snapshot()))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "lotus.logs.stats", pub.msgs[0].subject)

	var snap stats.Snapshot
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &snap))
	assert.Equal(t, uint64(1), snap.Messages)
	assert.Equal(t, uint64(42), snap.Bytes)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.Publish(ctx, s.Snapshot()), context.Canceled)
}

func TestCloseWithoutConnection(t *testing.T) {
	f := New(&fakePublisher{}, "", zerolog.Nop())
	assert.NoError(t, f.Close())
}
