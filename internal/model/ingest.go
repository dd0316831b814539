package model

// IngestEnvelope carries the events decoded from one frame, datagram or request
// along with the listener metadata. It is the transport contract between
// listeners and the dispatcher.
type IngestEnvelope struct {
	Protocol  Protocol
	Transport Transport
	SourceIP  string
	Size      int
	Events    []*LogEvent
}
