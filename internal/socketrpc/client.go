package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/lotus/internal/hub"
	"github.com/tinytelemetry/lotus/internal/stats"
)

// Client calls a running server's introspection methods over a Unix domain socket.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params any, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	_ = c.conn.SetDeadline(time.Now().Add(30 * time.Second))
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) Stats() (stats.Snapshot, error) {
	var result stats.Snapshot
	err := c.call("Stats", map[string]any{}, &result)
	return result, err
}

func (c *Client) Clients() ([]hub.ClientInfo, error) {
	var result []hub.ClientInfo
	err := c.call("Clients", map[string]any{}, &result)
	return result, err
}

func (c *Client) Listeners() ([]string, error) {
	var result []string
	err := c.call("Listeners", map[string]any{}, &result)
	return result, err
}

func (c *Client) RecentEvents(limit int) ([]map[string]any, error) {
	var result []map[string]any
	err := c.call("RecentEvents", map[string]any{"Limit": limit}, &result)
	return result, err
}

func (c *Client) StoredEventCount() (int64, error) {
	var result int64
	err := c.call("StoredEventCount", map[string]any{}, &result)
	return result, err
}

func (c *Client) StoredProtocolCounts() (map[string]int64, error) {
	var result map[string]int64
	err := c.call("StoredProtocolCounts", map[string]any{}, &result)
	return result, err
}

func (c *Client) StoredRecentEvents(limit int) ([]map[string]any, error) {
	var result []map[string]any
	err := c.call("StoredRecentEvents", map[string]any{"Limit": limit}, &result)
	return result, err
}
