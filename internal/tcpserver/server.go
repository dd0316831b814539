// Package tcpserver accepts framed log streams over TCP for one protocol.
package tcpserver

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
	"github.com/tinytelemetry/lotus/internal/reassembly"
	"github.com/tinytelemetry/lotus/internal/stats"
)

const (
	// DefaultEnvelopeBufferSize is the default buffer size for the outgoing envelope channel.
	DefaultEnvelopeBufferSize = 10_000

	// DefaultMaxFrameSize is the default maximum size (in bytes) of a single frame.
	DefaultMaxFrameSize = reassembly.DefaultMaxFrameSize

	readChunkSize = 32 * 1024
)

// ServerConfig holds tunable parameters for the TCP server.
type ServerConfig struct {
	Protocol           model.Protocol
	EnvelopeBufferSize int
	MaxFrameSize       int
	// IdleTimeout closes connections that send nothing for this long. Zero disables it.
	IdleTimeout time.Duration
	Stats       *stats.Stats
	Logger      zerolog.Logger
}

// Server accepts TCP connections and emits one envelope per decoded frame.
type Server struct {
	listener     net.Listener
	addr         string
	protocol     model.Protocol
	framing      reassembly.Config
	idleTimeout  time.Duration
	envelopeChan chan model.IngestEnvelope
	stats        *stats.Stats
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	decodeLog rate.Sometimes
	stopOnce  sync.Once
}

// NewServer creates a new TCP server. Default addr is "127.0.0.1:601" and the
// default protocol is syslog.
func NewServer(addr string, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = "127.0.0.1:601"
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
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	framing := FramingFor(cfg.Protocol)
	framing.MaxFrameSize = cfg.MaxFrameSize

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:         addr,
		protocol:     cfg.Protocol,
		framing:      framing,
		idleTimeout:  cfg.IdleTimeout,
		envelopeChan: make(chan model.IngestEnvelope, cfg.EnvelopeBufferSize),
		stats:        cfg.Stats,
		logger: cfg.Logger.With().
			Str("component", "tcpserver").
			Str("protocol", string(cfg.Protocol)).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
		decodeLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// FramingFor returns the stream framing used by protocol. GELF frames are
// NUL-terminated; everything else is newline-delimited, and syslog also
// accepts RFC6587 octet counting.
func FramingFor(protocol model.Protocol) reassembly.Config {
	switch protocol {
	case model.ProtocolGELF:
		return reassembly.Config{Delimiter: 0}
	case model.ProtocolSyslog:
		return reassembly.Config{Delimiter: '\n', OctetCounting: true}
	default:
		return reassembly.Config{Delimiter: '\n'}
	}
}

// Start begins accepting TCP connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn().Err(err).Msg("accept failed")
				continue
			}
			if !s.track(conn) {
				_ = conn.Close()
				return
			}
			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}()

	return nil
}

// track registers conn for Stop to close. It refuses once Stop has begun,
// since Stop may already have swept the set.
func (s *Server) track(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	s.stats.RecordStreamOpened()
	defer s.stats.RecordStreamClosed()

	remote := remoteIP(conn.RemoteAddr())
	r := reassembly.New(s.framing)
	overflows := 0
	buf := make([]byte, readChunkSize)

	defer func() {
		// An unterminated trailing frame is discarded, never decoded.
		if n := r.Close(); n > 0 {
			s.stats.RecordOverflow(s.protocol, 1)
			s.logger.Debug().Str("remote", remote).Int("bytes", n).Msg("discarded unterminated frame")
		}
	}()

	for {
		if s.idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			for _, frame := range r.Feed(buf[:n]) {
				if !s.emit(frame, remote) {
					return
				}
			}
			if o := r.Overflows(); o > overflows {
				s.stats.RecordOverflow(s.protocol, o-overflows)
				s.logger.Warn().Str("remote", remote).Int("max_frame_size", s.framing.MaxFrameSize).
					Msg("dropped oversized frame")
				overflows = o
			}
		}
		if err != nil {
			return
		}
	}
}

// emit decodes one frame and queues its envelope. It returns false once the
// server is shutting down.
func (s *Server) emit(frame []byte, remote string) bool {
	events, err := decode.Decode(s.protocol, frame, time.Now())
	if err != nil {
		s.stats.RecordDecodeError(s.protocol)
		s.decodeLog.Do(func() {
			s.logger.Warn().Err(err).Str("remote", remote).Msg("decode failed")
		})
		return true
	}
	for _, ev := range events {
		ev.Transport = model.TransportTCP
		ev.SourceIP = remote
	}
	env := model.IngestEnvelope{
		Protocol:  s.protocol,
		Transport: model.TransportTCP,
		SourceIP:  remote,
		Size:      len(frame),
		Events:    events,
	}
	select {
	case s.envelopeChan <- env:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Stop closes the listener and every open connection, waits for handlers to
// finish and closes the envelope channel. It is safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.connMu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connMu.Unlock()
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

// Addr returns the active listen address.
// Before Start, it returns the configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
