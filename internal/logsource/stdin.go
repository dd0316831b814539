package logsource

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/lotus/internal/decode"
	"github.com/tinytelemetry/lotus/internal/model"
)

const (
	// DefaultStdinBuffer is the default channel buffer size for stdin envelopes.
	DefaultStdinBuffer = 50_000

	// DefaultStdinMaxLineSize is the default maximum size (in bytes) of a single stdin line.
	DefaultStdinMaxLineSize = 1024 * 1024 // 1MB
)

// StdinConfig holds tunable parameters for the stdin source.
type StdinConfig struct {
	BufferSize  int
	MaxLineSize int
	Logger      zerolog.Logger
}

// StdinSource reads manual test input, one syslog line per line. Each line
// is tried as RFC5424 first and RFC3164 second; lines that are neither
// become plain informational events.
type StdinSource struct {
	ch       chan model.IngestEnvelope
	cancel   context.CancelFunc
	logger   zerolog.Logger
	stopOnce sync.Once
}

// NewStdinSource creates a StdinSource that reads from stdin in a background goroutine.
func NewStdinSource(ctx context.Context, conf ...StdinConfig) *StdinSource {
	return newStdinSourceWithReader(ctx, os.Stdin, conf...)
}

func newStdinSourceWithReader(ctx context.Context, r io.Reader, conf ...StdinConfig) *StdinSource {
	cfg := StdinConfig{Logger: zerolog.Nop()}
	if len(conf) > 0 {
		cfg = conf[0]
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultStdinBuffer
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = DefaultStdinMaxLineSize
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &StdinSource{
		ch:     make(chan model.IngestEnvelope, cfg.BufferSize),
		cancel: cancel,
		logger: cfg.Logger.With().Str("component", "stdin").Logger(),
	}
	go s.read(ctx, r, cfg.MaxLineSize)
	return s
}

func (s *StdinSource) read(ctx context.Context, r io.Reader, maxLineSize int) {
	defer close(s.ch)

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLineSize)

	// Use a single goroutine for blocking scan with a done channel to
	// detect context cancellation without spawning a goroutine per line.
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				s.logger.Warn().Int("max_line_size", maxLineSize).Msg("stdin line exceeded max size, stopping stdin source")
				return
			}
			s.logger.Warn().Err(err).Msg("stdin scanner error")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			select {
			case s.ch <- s.envelope(line):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *StdinSource) envelope(line string) model.IngestEnvelope {
	now := time.Now()
	ev := decode.ParseSyslog(line, now)
	if ev == nil {
		ev = model.NewLogEvent()
		ev.Timestamp = now
		ev.Message = line
		ev.Source = "stdin"
	}
	ev.Protocol = model.ProtocolSyslog
	ev.Transport = model.TransportStdin
	return model.IngestEnvelope{
		Protocol:  model.ProtocolSyslog,
		Transport: model.TransportStdin,
		Size:      len(line),
		Events:    []*model.LogEvent{ev},
	}
}

func (s *StdinSource) Envelopes() <-chan model.IngestEnvelope { return s.ch }
func (s *StdinSource) Stop()                                  { s.stopOnce.Do(s.cancel) }
func (s *StdinSource) Name() string                           { return "stdin" }
