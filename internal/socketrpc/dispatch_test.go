package socketrpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/lotus/internal/hub"
	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/stats"
)

// stubRuntime returns fixed values for dispatch unit testing.
type stubRuntime struct {
	lastLimit int
}

func (r *stubRuntime) Stats() stats.Snapshot     { return stats.Snapshot{Messages: 100} }
func (r *stubRuntime) Clients() []hub.ClientInfo { return nil }
func (r *stubRuntime) Listeners() []string       { return []string{"syslog/udp"} }
func (r *stubRuntime) Recent(limit int) []*model.LogEvent {
	r.lastLimit = limit
	return nil
}

type stubStore struct {
	err error
}

func (s *stubStore) TotalEventCount() (int64, error) { return 100, s.err }
func (s *stubStore) CountsByProtocol() (map[string]int64, error) {
	return map[string]int64{"syslog": 100}, s.err
}
func (s *stubStore) RecentEvents(limit int) ([]map[string]any, error) {
	return []map[string]any{{"message": "x"}}, s.err
}

func newTestDispatcher() *Server {
	return NewServer("", &stubRuntime{}, ServerConfig{Store: &stubStore{}, Logger: zerolog.Nop()})
}

func TestDispatch_AllMethods(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher()

	tests := []struct {
		method string
		params string
	}{
		{"Stats", `{}`},
		{"Clients", `{}`},
		{"Listeners", `{}`},
		{"RecentEvents", `{"Limit":10}`},
		{"StoredEventCount", `{}`},
		{"StoredProtocolCounts", `{}`},
		{"StoredRecentEvents", `{"Limit":10}`},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			t.Parallel()
			req := Request{
				JSONRPC: "2.0",
				ID:      1,
				Method:  tt.method,
				Params:  json.RawMessage(tt.params),
			}
			resp := srv.dispatch(req)
			if resp.Error != nil {
				t.Fatalf("dispatch(%s) error: %s", tt.method, resp.Error.Message)
			}
			if resp.Result == nil {
				t.Fatalf("dispatch(%s) returned nil result", tt.method)
			}
			if resp.JSONRPC != "2.0" {
				t.Errorf("JSONRPC = %q, want 2.0", resp.JSONRPC)
			}
			if resp.ID != 1 {
				t.Errorf("ID = %d, want 1", resp.ID)
			}
		})
	}
}

func TestDispatch_EmptyRecentIsArray(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher()

	resp := srv.dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "RecentEvents"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s", resp.Error.Message)
	}
	if string(resp.Result) != "[]" {
		t.Fatalf("result = %s, want []", resp.Result)
	}
}

func TestDispatch_MethodNotFound(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher()

	resp := srv.dispatch(Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "NonExistentMethod",
		Params:  json.RawMessage(`{}`),
	})
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("error code = %d, want -32601", resp.Error.Code)
	}
}

func TestDispatch_InvalidParams(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher()

	for _, method := range []string{"RecentEvents", "StoredRecentEvents"} {
		resp := srv.dispatch(Request{
			JSONRPC: "2.0",
			ID:      2,
			Method:  method,
			Params:  json.RawMessage(`not json`),
		})
		if resp.Error == nil {
			t.Fatalf("%s: expected error for malformed params", method)
		}
		if resp.Error.Code != -32602 {
			t.Errorf("%s: error code = %d, want -32602 (invalid params)", method, resp.Error.Code)
		}
	}
}

func TestDispatch_DefaultLimit(t *testing.T) {
	t.Parallel()
	rt := &stubRuntime{}
	srv := NewServer("", rt)

	for _, params := range []string{"", `{}`, `{"Limit":0}`, `{"Limit":-4}`} {
		rt.lastLimit = 0
		resp := srv.dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "RecentEvents", Params: json.RawMessage(params)})
		if resp.Error != nil {
			t.Fatalf("params %q: %s", params, resp.Error.Message)
		}
		if rt.lastLimit != defaultRecentLimit {
			t.Fatalf("params %q: limit = %d, want %d", params, rt.lastLimit, defaultRecentLimit)
		}
	}
}

func TestDispatch_StoreErrors(t *testing.T) {
	t.Parallel()
	srv := NewServer("", &stubRuntime{}, ServerConfig{Store: &stubStore{err: errors.New("db closed")}})

	resp := srv.dispatch(Request{JSONRPC: "2.0", ID: 3, Method: "StoredEventCount"})
	if resp.Error == nil {
		t.Fatal("expected store error")
	}
	if resp.Error.Code != -32000 || resp.Error.Message != "db closed" {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestDispatch_NoStore(t *testing.T) {
	t.Parallel()
	srv := NewServer("", &stubRuntime{})

	for _, method := range []string{"StoredEventCount", "StoredProtocolCounts", "StoredRecentEvents"} {
		resp := srv.dispatch(Request{JSONRPC: "2.0", ID: 1, Method: method})
		if resp.Error == nil {
			t.Fatalf("%s: expected error without store", method)
		}
		if resp.Error.Message != ErrNoStore.Error() {
			t.Errorf("%s: message = %q", method, resp.Error.Message)
		}
	}
}

func TestDispatch_PreservesRequestID(t *testing.T) {
	t.Parallel()
	srv := newTestDispatcher()

	for _, id := range []int{0, 1, 42, 9999} {
		resp := srv.dispatch(Request{
			JSONRPC: "2.0",
			ID:      id,
			Method:  "Listeners",
			Params:  json.RawMessage(`{}`),
		})
		if resp.ID != id {
			t.Errorf("request ID %d: response ID = %d", id, resp.ID)
		}
	}
}
