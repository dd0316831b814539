package main

import (
	"context"
	"sync"

	"github.com/tinytelemetry/lotus/internal/logsource"
	"github.com/tinytelemetry/lotus/internal/model"
)

// DefaultMuxBuffer is the default channel buffer size for the source multiplexer.
const DefaultMuxBuffer = 50_000

// SourceMultiplexer merges every source into the single stream the
// dispatcher drains.
type SourceMultiplexer struct {
	ctx    context.Context
	cancel context.CancelFunc

	sources   []logsource.Source
	envelopes chan model.IngestEnvelope

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSourceMultiplexer(parent context.Context, sources []logsource.Source, buffer int) *SourceMultiplexer {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	return &SourceMultiplexer{
		ctx:       ctx,
		cancel:    cancel,
		sources:   sources,
		envelopes: make(chan model.IngestEnvelope, buffer),
	}
}

func (m *SourceMultiplexer) Start() {
	m.startOnce.Do(func() {
		if len(m.sources) == 0 {
			m.closeOutput()
			return
		}

		for _, src := range m.sources {
			m.wg.Add(1)
			go m.forward(src)
		}

		go func() {
			m.wg.Wait()
			m.closeOutput()
		}()
	})
}

// Stop tears down every source independently. A source that is slow to
// close does not keep the others open.
func (m *SourceMultiplexer) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		var stopWg sync.WaitGroup
		for _, src := range m.sources {
			stopWg.Add(1)
			go func(src logsource.Source) {
				defer stopWg.Done()
				src.Stop()
			}(src)
		}
		stopWg.Wait()
		m.wg.Wait()
		m.closeOutput()
	})
}

func (m *SourceMultiplexer) HasSources() bool {
	return len(m.sources) > 0
}

// Names lists the sources in start order.
func (m *SourceMultiplexer) Names() []string {
	names := make([]string, 0, len(m.sources))
	for _, src := range m.sources {
		names = append(names, src.Name())
	}
	return names
}

func (m *SourceMultiplexer) Envelopes() <-chan model.IngestEnvelope {
	return m.envelopes
}

func (m *SourceMultiplexer) forward(src logsource.Source) {
	defer m.wg.Done()

	in := src.Envelopes()
	for {
		select {
		case <-m.ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			if len(env.Events) == 0 {
				continue
			}
			select {
			case m.envelopes <- env:
			case <-m.ctx.Done():
				return
			}
		}
	}
}

func (m *SourceMultiplexer) closeOutput() {
	m.closeOnce.Do(func() {
		close(m.envelopes)
	})
}
