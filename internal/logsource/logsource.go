// Package logsource defines the contract between ingestion inputs and the
// dispatcher.
package logsource

import "github.com/tinytelemetry/lotus/internal/model"

// Source is a unified interface for all log inputs (network listeners, stdin).
type Source interface {
	Envelopes() <-chan model.IngestEnvelope // closed when the source stops
	Stop()                                  // graceful shutdown
	Name() string                           // "syslog/udp", "gelf/tcp", "stdin"
}

// Listener is the lifecycle shared by the network servers.
type Listener interface {
	Envelopes() <-chan model.IngestEnvelope
	Stop() error
}

// NetworkSource wraps an already-started listener as a Source.
type NetworkSource struct {
	listener Listener
	name     string
}

// NewNetworkSource names a started listener after its (protocol, transport) pair.
func NewNetworkSource(listener Listener, cfg model.ListenerConfig) *NetworkSource {
	return &NetworkSource{listener: listener, name: cfg.Name()}
}

func (n *NetworkSource) Envelopes() <-chan model.IngestEnvelope { return n.listener.Envelopes() }
func (n *NetworkSource) Stop()                                  { _ = n.listener.Stop() }
func (n *NetworkSource) Name() string                           { return n.name }

// Addr returns the bound address when the listener exposes one.
func (n *NetworkSource) Addr() string {
	if a, ok := n.listener.(interface{ Addr() string }); ok {
		return a.Addr()
	}
	return ""
}
