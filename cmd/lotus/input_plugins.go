package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/lotus/internal/httpinput"
	"github.com/tinytelemetry/lotus/internal/logsource"
	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/stats"
	"github.com/tinytelemetry/lotus/internal/tcpserver"
	"github.com/tinytelemetry/lotus/internal/udpserver"
)

// ErrNoListeners is returned when no input could be started.
var ErrNoListeners = errors.New("no listeners could be started")

// InputSourcePlugin is a small plugin primitive for wiring log inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (logsource.Source, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	Listeners          []listenerSpec
	EnvelopeBufferSize int
	MaxFrameSize       int
	Stats              *stats.Stats
	Logger             zerolog.Logger
}

// buildInputPlugins returns one plugin per configured listener followed by stdin.
func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	plugins := make([]InputSourcePlugin, 0, len(cfg.Listeners)+1)
	for _, l := range cfg.Listeners {
		base := listenerPlugin{spec: l, cfg: cfg}
		switch l.Transport {
		case model.TransportTCP:
			plugins = append(plugins, tcpInputPlugin{base})
		case model.TransportUDP:
			plugins = append(plugins, udpInputPlugin{base})
		case model.TransportHTTP:
			plugins = append(plugins, httpInputPlugin{base})
		}
	}
	plugins = append(plugins, stdinInputPlugin{logger: cfg.Logger})
	return plugins
}

type listenerPlugin struct {
	spec listenerSpec
	cfg  InputPluginConfig
}

func (p listenerPlugin) Name() string  { return p.spec.Name() }
func (p listenerPlugin) Enabled() bool { return p.spec.Enabled }

type tcpInputPlugin struct{ listenerPlugin }

func (p tcpInputPlugin) Build(_ context.Context) (logsource.Source, error) {
	server := tcpserver.NewServer(p.spec.Addr(), tcpserver.ServerConfig{
		Protocol:           p.spec.Protocol,
		EnvelopeBufferSize: p.cfg.EnvelopeBufferSize,
		MaxFrameSize:       p.cfg.MaxFrameSize,
		Stats:              p.cfg.Stats,
		Logger:             p.cfg.Logger,
	})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", p.Name(), err)
	}
	return logsource.NewNetworkSource(server, p.spec.ListenerConfig), nil
}

type udpInputPlugin struct{ listenerPlugin }

func (p udpInputPlugin) Build(_ context.Context) (logsource.Source, error) {
	server := udpserver.NewServer(p.spec.Addr(), udpserver.ServerConfig{
		Protocol:           p.spec.Protocol,
		EnvelopeBufferSize: p.cfg.EnvelopeBufferSize,
		Stats:              p.cfg.Stats,
		Logger:             p.cfg.Logger,
	})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", p.Name(), err)
	}
	return logsource.NewNetworkSource(server, p.spec.ListenerConfig), nil
}

type httpInputPlugin struct{ listenerPlugin }

func (p httpInputPlugin) Build(_ context.Context) (logsource.Source, error) {
	server := httpinput.NewServer(p.spec.Addr(), httpinput.ServerConfig{
		EnvelopeBufferSize: p.cfg.EnvelopeBufferSize,
		Stats:              p.cfg.Stats,
		Logger:             p.cfg.Logger,
	})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", p.Name(), err)
	}
	return logsource.NewNetworkSource(server, p.spec.ListenerConfig), nil
}

type stdinInputPlugin struct {
	logger zerolog.Logger
}

func (p stdinInputPlugin) Name() string { return "stdin" }

func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (logsource.Source, error) {
	return logsource.NewStdinSource(ctx, logsource.StdinConfig{Logger: p.logger}), nil
}

// startSources builds every enabled network plugin. A failure on one listener
// is logged and does not prevent the others from starting. Stdin is used only
// when it is piped and no network listener came up.
func startSources(ctx context.Context, plugins []InputSourcePlugin, logger zerolog.Logger) ([]logsource.Source, error) {
	sources := make([]logsource.Source, 0, len(plugins))
	var stdin InputSourcePlugin
	for _, plugin := range plugins {
		if plugin.Name() == "stdin" {
			stdin = plugin
			continue
		}
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			logger.Error().Err(err).Str("listener", plugin.Name()).Msg("listener failed to start")
			continue
		}
		logger.Info().Str("listener", plugin.Name()).Msg("listener started")
		sources = append(sources, src)
	}

	if len(sources) == 0 && stdin != nil && stdin.Enabled() {
		if src, err := stdin.Build(ctx); err == nil {
			sources = append(sources, src)
		}
	}

	if len(sources) == 0 {
		return nil, ErrNoListeners
	}
	return sources, nil
}
