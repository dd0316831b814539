package model

import (
	"net"
	"strconv"
	"time"
)

// Default listener ports.
const (
	DefaultSyslogUDPPort  = 514
	DefaultSyslogTCPPort  = 601
	DefaultGELFUDPPort    = 12201
	DefaultGELFTCPPort    = 12202
	DefaultBeatsTCPPort   = 5044
	DefaultFluentHTTPPort = 9880
	DefaultHubPort        = 8080
)

// Hub defaults shared by the server and its tests.
const (
	DefaultRingBufferSize  = 1000
	DefaultMaxClientsPerIP = 10
	DefaultTotalMaxClients = 500
	DefaultRateLimitWindow = 60 * time.Second
	DefaultReplayCount     = 100
)

// ListenerConfig describes one (protocol, transport) listener. It is fixed at startup.
type ListenerConfig struct {
	Protocol  Protocol
	Transport Transport
	Bind      string
	Port      int
}

// Name returns "<protocol>/<transport>".
func (c ListenerConfig) Name() string {
	return string(c.Protocol) + "/" + string(c.Transport)
}

// Addr returns the host:port the listener binds.
func (c ListenerConfig) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}
