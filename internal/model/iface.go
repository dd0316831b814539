package model

// EventWriter provides append-oriented writes for decoded events.
type EventWriter interface {
	InsertEventBatch(events []*LogEvent) error
}

// EventReader provides the small read surface used by local introspection.
type EventReader interface {
	TotalEventCount() (int64, error)
	CountsByProtocol() (map[string]int64, error)
	RecentEvents(limit int) ([]map[string]any, error)
}
