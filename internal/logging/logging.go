// Package logging builds the zerolog loggers shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config selects level, encoding and destination.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// New returns a logger with timestamps at the configured level.
// Unknown levels fall back to info; a nil Output means stderr.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, FormatConsole) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// ParseLevel accepts zerolog level names case-insensitively. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("logging: unknown level %q", s)
	}
	return level, nil
}

// ValidFormat reports whether f names a supported encoding.
func ValidFormat(f string) bool {
	switch strings.ToLower(f) {
	case "", FormatJSON, FormatConsole:
		return true
	}
	return false
}

// Nop returns a disabled logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// DefaultRuntimeLogPath is ~/.local/state/lotus/lotus.log.
func DefaultRuntimeLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", "lotus", "lotus.log")
}

// OpenRuntimeLog opens path for appending, creating parent directories.
// An empty path selects DefaultRuntimeLogPath. The returned closer is never nil.
func OpenRuntimeLog(path string) (io.Writer, func(), error) {
	if path == "" {
		path = DefaultRuntimeLogPath()
	}
	if path == "" || path == "-" {
		return os.Stderr, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return os.Stderr, func() {}, fmt.Errorf("logging: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return os.Stderr, func() {}, fmt.Errorf("logging: open %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}
