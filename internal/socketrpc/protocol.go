package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes runtime introspection over a Unix domain socket.
//
//   Method                    Params                  Result
//   ──────────────────────    ────────────────────    ─────────────────────────
//   Stats                     (none)                  stats.Snapshot
//   Clients                   (none)                  []hub.ClientInfo
//   Listeners                 (none)                  []string
//   RecentEvents              {Limit: int}            []map[string]any (ring buffer, oldest first)
//   StoredEventCount          (none)                  int64
//   StoredProtocolCounts      (none)                  map[string]int64
//   StoredRecentEvents        {Limit: int}            []map[string]any (newest first)
//
// Stored* methods need a persistence store; without one they fail with -32000.
// Methods with optional params accept empty or null params gracefully.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (query failure)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/lotus/lotus.sock, falling back to
// ~/.local/state/lotus/lotus.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "lotus", "lotus.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/lotus.sock"
	}
	return filepath.Join(home, ".local", "state", "lotus", "lotus.sock")
}
