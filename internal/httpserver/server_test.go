package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinytelemetry/lotus/internal/hub"
	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/stats"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	total int64
	err   error
}

func (f fakeStore) TotalEventCount() (int64, error)             { return f.total, f.err }
func (f fakeStore) CountsByProtocol() (map[string]int64, error) { return nil, f.err }
func (f fakeStore) RecentEvents(int) ([]map[string]any, error)  { return nil, f.err }

func newTestServer(t *testing.T, store model.EventReader) (*Server, *hub.Hub, *stats.Stats) {
	t.Helper()
	st := stats.New()
	h := hub.New(hub.Config{Stats: st, RingBufferSize: 10})
	reg := prometheus.NewRegistry()
	reg.MustRegister(stats.NewCollector(st))

	srv := NewServer("", Config{
		Hub:       h,
		Stats:     st,
		Store:     store,
		Gatherer:  reg,
		Listeners: func() []string { return []string{"syslog/udp", "gelf/tcp"} },
	})
	return srv, h, st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, fakeStore{total: 42})

	w := get(t, srv.Handler(), "/api/health")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
	if body["stored_events"] != float64(42) {
		t.Errorf("stored_events = %v, want 42", body["stored_events"])
	}
	if got := body["listeners"].([]any); len(got) != 2 {
		t.Errorf("listeners = %v, want 2 entries", got)
	}
}

func TestHealthEndpoint_StoreFailure(t *testing.T) {
	srv, _, _ := newTestServer(t, fakeStore{err: errors.New("db gone")})

	w := get(t, srv.Handler(), "/api/health")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("health POST status = %d, want 405 or 404", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _, st := newTestServer(t, nil)
	st.RecordEnvelope(model.ProtocolBeats, 100, 2)

	w := get(t, srv.Handler(), "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d, want %d", w.Code, http.StatusOK)
	}
	var snap stats.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if snap.Messages != 2 || snap.Protocols["beats"].Bytes != 100 {
		t.Fatalf("snapshot = %+v, want 2 messages and 100 beats bytes", snap)
	}
}

func TestRecentEndpoint(t *testing.T) {
	srv, h, _ := newTestServer(t, nil)
	for _, m := range []string{"a", "b", "c"} {
		e := model.NewLogEvent()
		e.Message = m
		_ = h.Consume(e)
	}

	w := get(t, srv.Handler(), "/api/events/recent?limit=2")
	var body struct {
		Events []map[string]any `json:"events"`
		Count  int              `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal recent: %v", err)
	}
	if body.Count != 2 || body.Events[0]["message"] != "b" || body.Events[1]["message"] != "c" {
		t.Fatalf("recent = %+v, want [b c]", body)
	}

	if w := get(t, srv.Handler(), "/api/events/recent?limit=zero"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, st := newTestServer(t, nil)
	st.RecordEnvelope(model.ProtocolGELF, 10, 1)

	w := get(t, srv.Handler(), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `lotus_ingest_messages_total{protocol="gelf"} 1`) {
		t.Fatalf("metrics output missing gelf counter:\n%s", w.Body.String())
	}
}

func TestWebsocketRouteAndClients(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial /ws: %v", err)
	}
	defer conn.Close()

	var hello map[string]any
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if hello["type"] != hub.TypeConnection {
		t.Fatalf("greeting type = %v, want %s", hello["type"], hub.TypeConnection)
	}

	w := get(t, srv.Handler(), "/api/clients")
	var body struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Count != 1 {
		t.Fatalf("clients count = %d, want 1", body.Count)
	}
}
