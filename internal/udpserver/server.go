// Package udpserver receives one log payload per datagram for one protocol.
package udpserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tinytelemetry/lotus/internal/decode"
	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/stats"
)

const (
	// DefaultEnvelopeBufferSize is the default buffer size for the outgoing envelope channel.
	DefaultEnvelopeBufferSize = 10_000

	// DefaultSocketBufferSize is requested from the kernel for the receive queue.
	DefaultSocketBufferSize = 4 * 1024 * 1024

	maxDatagramSize = 65536
	pollInterval    = 250 * time.Millisecond
)

// ServerConfig holds tunable parameters for the UDP server.
type ServerConfig struct {
	Protocol           model.Protocol
	EnvelopeBufferSize int
	SocketBufferSize   int
	Stats              *stats.Stats
	Logger             zerolog.Logger
}

// Server reads datagrams and emits one envelope per decoded datagram. When the
// envelope channel is full the datagram is dropped and counted; reads never
// block on downstream consumers.
type Server struct {
	conn         *net.UDPConn
	addr         string
	protocol     model.Protocol
	sockBuf      int
	envelopeChan chan model.IngestEnvelope
	stats        *stats.Stats
	logger       zerolog.Logger
	dropLog      rate.Sometimes
	decodeLog    rate.Sometimes

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewServer creates a new UDP server. Default addr is "127.0.0.1:514" and the
// default protocol is syslog.
func NewServer(addr string, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = "127.0.0.1:514"
	}
	cfg := ServerConfig{Logger: zerolog.Nop()}
	if len(conf) > 0 {
		cfg = conf[0]
	}
	if cfg.Protocol == "" {
		cfg.Protocol = model.ProtocolSyslog
	}
	if cfg.EnvelopeBufferSize <= 0 {
		cfg.EnvelopeBufferSize = DefaultEnvelopeBufferSize
	}
	if cfg.SocketBufferSize <= 0 {
		cfg.SocketBufferSize = DefaultSocketBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:         addr,
		protocol:     cfg.Protocol,
		sockBuf:      cfg.SocketBufferSize,
		envelopeChan: make(chan model.IngestEnvelope, cfg.EnvelopeBufferSize),
		stats:        cfg.Stats,
		logger: cfg.Logger.With().
			Str("component", "udpserver").
			Str("protocol", string(cfg.Protocol)).Logger(),
		dropLog:   rate.Sometimes{First: 1, Interval: 10 * time.Second},
		decodeLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start binds the socket and begins reading.
func (s *Server) Start() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	if err := conn.SetReadBuffer(s.sockBuf); err != nil {
		s.logger.Warn().Err(err).Int("bytes", s.sockBuf).Msg("could not set socket receive buffer")
	}
	s.conn = conn

	s.wg.Add(1)
	go s.readLoop()
	return nil
}

func (s *Server) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("read failed")
			continue
		}
		if n == 0 {
			continue
		}
		s.handleDatagram(buf[:n], addr)
	}
}

func (s *Server) handleDatagram(payload []byte, addr *net.UDPAddr) {
	remote := ""
	if addr != nil {
		remote = addr.IP.String()
	}

	// Decoders do not retain payload, so the read buffer can be reused.
	events, err := decode.Decode(s.protocol, payload, time.Now())
	if err != nil {
		s.stats.RecordDecodeError(s.protocol)
		s.decodeLog.Do(func() {
			s.logger.Warn().Err(err).Str("remote", remote).Msg("decode failed")
		})
		return
	}
	for _, ev := range events {
		ev.Transport = model.TransportUDP
		ev.SourceIP = remote
	}

	env := model.IngestEnvelope{
		Protocol:  s.protocol,
		Transport: model.TransportUDP,
		SourceIP:  remote,
		Size:      len(payload),
		Events:    events,
	}
	select {
	case s.envelopeChan <- env:
	default:
		s.stats.RecordDropped(s.protocol)
		s.dropLog.Do(func() {
			s.logger.Warn().Msg("envelope queue full, dropping datagrams")
		})
	}
}

// Stop closes the socket, waits for the read loop and closes the envelope
// channel. It is safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.wg.Wait()
		close(s.envelopeChan)
	})
	return nil
}

// Envelopes returns the channel of decoded envelopes.
func (s *Server) Envelopes() <-chan model.IngestEnvelope {
	return s.envelopeChan
}

// Protocol returns the protocol this server decodes.
func (s *Server) Protocol() model.Protocol { return s.protocol }

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.conn != nil {
		return s.conn.LocalAddr().String()
	}
	return s.addr
}
