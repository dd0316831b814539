package socketrpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/lotus/internal/hub"
	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/stats"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (1 MB).
	scannerInitBufSize = 1024 * 1024
	// scannerMaxTokenSize is the maximum token size the scanner will accept (10 MB).
	scannerMaxTokenSize = 10 * 1024 * 1024

	defaultRecentLimit = 100
)

// ErrNoStore is returned by Stored* methods when persistence is disabled.
var ErrNoStore = errors.New("persistence store not configured")

// Introspector is the runtime view exposed over the socket.
type Introspector interface {
	Stats() stats.Snapshot
	Clients() []hub.ClientInfo
	Listeners() []string
	Recent(limit int) []*model.LogEvent
}

// ServerConfig holds optional collaborators for the socket server.
type ServerConfig struct {
	Store  model.EventReader
	Logger zerolog.Logger
}

// Server exposes an Introspector over a Unix domain socket using JSON-RPC 2.0.
type Server struct {
	socketPath string
	runtime    Introspector
	store      model.EventReader
	logger     zerolog.Logger
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new socket RPC server.
func NewServer(socketPath string, runtime Introspector, conf ...ServerConfig) *Server {
	cfg := ServerConfig{Logger: zerolog.Nop()}
	if len(conf) > 0 {
		cfg = conf[0]
	}
	return &Server{
		socketPath: socketPath,
		runtime:    runtime,
		store:      cfg.Store,
		logger:     cfg.Logger.With().Str("component", "socketrpc").Logger(),
		quit:       make(chan struct{}),
	}
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	// Ensure the parent directory exists.
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// Remove stale socket if it exists.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			// Socket file exists but nobody is listening.
			_ = os.Remove(s.socketPath)
		} else {
			_ = conn.Close()
			return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info().Str("path", s.socketPath).Msg("listening")
	return nil
}

// Stop closes the listener, waits for connections to drain, and removes the socket file.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.wg.Wait()
		_ = os.Remove(s.socketPath)
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.logger.Warn().Err(err).Msg("accept error")
				// Continue on transient errors (e.g., fd limit) instead of
				// killing the entire accept loop.
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Unblock the scanner when the server stops.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.quit:
			_ = conn.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp := Response{JSONRPC: "2.0", ID: 0, Error: &RPCError{Code: -32700, Message: "parse error"}}
			_ = encoder.Encode(resp)
			continue
		}

		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

type limitParams struct {
	Limit int
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	marshalResult := func(v any, err error) Response {
		if err != nil {
			resp.Error = &RPCError{Code: -32000, Message: err.Error()}
			return resp
		}
		data, merr := json.Marshal(v)
		if merr != nil {
			resp.Error = &RPCError{Code: -32603, Message: merr.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}

	invalidParams := func(err error) Response {
		resp.Error = &RPCError{Code: -32602, Message: fmt.Sprintf("invalid params: %v", err)}
		return resp
	}

	// Allow empty/null params for defaults; only reject genuinely malformed JSON.
	limit := func() (int, error) {
		var p limitParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return 0, err
			}
		}
		if p.Limit <= 0 {
			p.Limit = defaultRecentLimit
		}
		return p.Limit, nil
	}

	switch req.Method {
	case "Stats":
		return marshalResult(s.runtime.Stats(), nil)

	case "Clients":
		return marshalResult(s.runtime.Clients(), nil)

	case "Listeners":
		return marshalResult(s.runtime.Listeners(), nil)

	case "RecentEvents":
		n, err := limit()
		if err != nil {
			return invalidParams(err)
		}
		events := s.runtime.Recent(n)
		if events == nil {
			events = []*model.LogEvent{}
		}
		return marshalResult(events, nil)

	case "StoredEventCount":
		if s.store == nil {
			return marshalResult(nil, ErrNoStore)
		}
		return marshalResult(s.store.TotalEventCount())

	case "StoredProtocolCounts":
		if s.store == nil {
			return marshalResult(nil, ErrNoStore)
		}
		return marshalResult(s.store.CountsByProtocol())

	case "StoredRecentEvents":
		n, err := limit()
		if err != nil {
			return invalidParams(err)
		}
		if s.store == nil {
			return marshalResult(nil, ErrNoStore)
		}
		return marshalResult(s.store.RecentEvents(n))

	default:
		resp.Error = &RPCError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
}
