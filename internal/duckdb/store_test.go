package duckdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tinytelemetry/lotus/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore(\"\") failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testEvent(ts time.Time, msg string) *model.LogEvent {
	e := model.NewLogEvent()
	e.Timestamp = ts
	e.ReceivedAt = ts
	e.Message = msg
	e.Hostname = "web1"
	e.Protocol = model.ProtocolSyslog
	e.Transport = model.TransportUDP
	e.SourceIP = "10.0.0.1"
	return e
}

func insertTestEvents(t *testing.T, store *Store, events ...*model.LogEvent) {
	t.Helper()
	if err := store.InsertEventBatch(events); err != nil {
		t.Fatalf("InsertEventBatch failed: %v", err)
	}
}

func TestNewStoreCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lotus.duckdb")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", path, err)
	}
	defer store.Close()

	if store.DBPath() != path {
		t.Errorf("DBPath = %q, want %q", store.DBPath(), path)
	}
	if store.QueryTimeout != DefaultQueryTimeout {
		t.Errorf("QueryTimeout = %v, want %v", store.QueryTimeout, DefaultQueryTimeout)
	}
}

func TestInsertEventBatch(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)

	gelf := testEvent(now, "disk usage high")
	gelf.Protocol = model.ProtocolGELF
	gelf.Severity = model.SeverityWarning
	gelf.Facility = model.NoFacility
	gelf.SetField("region", "us-east")

	insertTestEvents(t, store, testEvent(now.Add(-time.Second), "hello world"), gelf)

	count, err := store.TotalEventCount()
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if count != 2 {
		t.Errorf("TotalEventCount = %d, want 2", count)
	}

	counts, err := store.CountsByProtocol()
	if err != nil {
		t.Fatalf("CountsByProtocol: %v", err)
	}
	if counts["syslog"] != 1 || counts["gelf"] != 1 {
		t.Errorf("CountsByProtocol = %v", counts)
	}
}

func TestInsertEventBatch_Empty(t *testing.T) {
	store := newTestStore(t)
	if err := store.InsertEventBatch(nil); err != nil {
		t.Fatalf("InsertEventBatch(nil): %v", err)
	}
}

func TestRecentEvents(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)

	last := testEvent(now, "third")
	last.Severity = model.SeverityError
	last.Facility = 4
	last.SetField("user", "alice")
	last.SetField("message", "collides")

	insertTestEvents(t, store,
		testEvent(now.Add(-2*time.Second), "first"),
		testEvent(now.Add(-time.Second), "second"),
		last,
	)

	rows, err := store.RecentEvents(2)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("RecentEvents returned %d rows, want 2", len(rows))
	}

	top := rows[0]
	if top["message"] != "third" {
		t.Errorf("newest message = %v, want third", top["message"])
	}
	if top["level"] != "error" {
		t.Errorf("level = %v, want error", top["level"])
	}
	if top["facility"] != 4 {
		t.Errorf("facility = %v, want 4", top["facility"])
	}
	if top["user"] != "alice" {
		t.Errorf("user = %v, want alice", top["user"])
	}
	if top["field_message"] != "collides" {
		t.Errorf("field_message = %v, want collides", top["field_message"])
	}
	if top["timestamp"] != now.Format(time.RFC3339Nano) {
		t.Errorf("timestamp = %v, want %s", top["timestamp"], now.Format(time.RFC3339Nano))
	}
	if rows[1]["message"] != "second" {
		t.Errorf("second row message = %v, want second", rows[1]["message"])
	}
	if _, ok := rows[1]["facility"]; ok {
		// syslog test events default to NoFacility.
		t.Errorf("unexpected facility on row without one: %v", rows[1]["facility"])
	}
}

func TestDeleteBefore(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)
	insertTestEvents(t, store,
		testEvent(now.Add(-3*time.Hour), "a"),
		testEvent(now.Add(-2*time.Hour), "b"),
		testEvent(now, "c"),
	)

	n, err := store.DeleteBefore(now.Add(-90 * time.Minute))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}
}
