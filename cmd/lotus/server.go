package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/lotus/internal/duckdb"
	"github.com/tinytelemetry/lotus/internal/httpserver"
	"github.com/tinytelemetry/lotus/internal/hub"
	"github.com/tinytelemetry/lotus/internal/ingest"
	"github.com/tinytelemetry/lotus/internal/logging"
	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/natsfwd"
	"github.com/tinytelemetry/lotus/internal/socketrpc"
	"github.com/tinytelemetry/lotus/internal/stats"
)

const (
	shutdownDeadline = 10 * time.Second
	hubDrainTimeout  = 5 * time.Second
)

// runtimeView exposes live state to the socket RPC server.
type runtimeView struct {
	stats     *stats.Stats
	hub       *hub.Hub
	listeners []string
}

func (r runtimeView) Stats() stats.Snapshot              { return r.stats.Snapshot() }
func (r runtimeView) Clients() []hub.ClientInfo          { return r.hub.Clients() }
func (r runtimeView) Listeners() []string                { return r.listeners }
func (r runtimeView) Recent(limit int) []*model.LogEvent { return r.hub.Recent(limit) }

// runServer starts every listener, the dispatcher and the hub, and blocks
// until ctx is cancelled or a termination signal arrives.
func runServer(parent context.Context, cfg appConfig) error {
	logOut, closeLog, logErr := logging.OpenRuntimeLog(cfg.LogFile)
	defer closeLog()
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: logOut})
	if logErr != nil {
		logger.Warn().Err(logErr).Msg("runtime log unavailable, using stderr")
	}

	counters := stats.New()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		stats.NewCollector(counters),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h := hub.New(hub.Config{
		MaxClientsPerIP: cfg.MaxClientsPerIP,
		TotalMaxClients: cfg.TotalMaxClients,
		RateLimitWindow: cfg.RateLimitWindow,
		RingBufferSize:  cfg.RingBufferSize,
		SendQueueSize:   cfg.ClientSendQueue,
		Stats:           counters,
		Logger:          logger,
	})

	dispatcher := ingest.NewDispatcher(ingest.DispatcherConfig{Stats: counters, Logger: logger})
	dispatcher.Register(h)

	// Optional persistence consumer.
	var store *duckdb.Store
	var storeReader model.EventReader
	if cfg.DBEnabled {
		var err error
		store, err = duckdb.NewStore(cfg.DBPath, duckdb.StoreConfig{QueryTimeout: cfg.QueryTimeout, Logger: logger})
		if err != nil {
			return fmt.Errorf("failed to initialize DuckDB: %w", err)
		}
		defer store.Close()
		storeReader = store

		insertBuffer := duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
			BatchSize:      cfg.InsertBatchSize,
			FlushInterval:  cfg.InsertFlushInterval,
			FlushQueueSize: cfg.InsertFlushQueue,
			Logger:         logger,
		})
		defer insertBuffer.Stop()
		dispatcher.Register(insertBuffer)

		retention := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{MaxAge: cfg.DBRetention, Logger: logger})
		defer retention.Stop()
	}

	// Optional NATS forwarding; it also receives stats snapshots.
	var sink stats.Sink = stats.LogSink{Logger: logger.With().Str("component", "stats").Logger()}
	if cfg.NATSURL != "" {
		natsCfg := natsfwd.DefaultConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.SubjectPrefix = cfg.NATSSubjectPrefix
		natsCfg.Logger = logger
		fwd, err := natsfwd.Connect(natsCfg)
		if err != nil {
			logger.Error().Err(err).Msg("nats forwarding disabled")
		} else {
			defer fwd.Close()
			dispatcher.Register(fwd)
			sink = fwd
		}
	}

	sampler := stats.NewSampler(counters, sink, cfg.StatsInterval, logger)
	defer sampler.Stop()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(shutdownDeadline)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nForce shutdown.")
		case <-deadline.C:
			fmt.Fprintln(os.Stderr, "Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	// Build input plugins; a bind failure on one listener leaves the rest running.
	var enabled []listenerSpec
	for _, l := range cfg.listeners() {
		if l.Enabled {
			enabled = append(enabled, l)
		}
	}
	plugins := buildInputPlugins(InputPluginConfig{
		Listeners:          enabled,
		EnvelopeBufferSize: cfg.EnvelopeBufferSize,
		MaxFrameSize:       cfg.MaxFrameSize,
		Stats:              counters,
		Logger:             logger,
	})
	sources, err := startSources(ctx, plugins, logger)
	if err != nil {
		return err
	}

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()

	control := httpserver.NewServer(cfg.HubAddr, httpserver.Config{
		Hub:       h,
		Stats:     counters,
		Store:     storeReader,
		Gatherer:  registry,
		Listeners: mux.Names,
		Logger:    logger,
	})
	if err := control.Start(); err != nil {
		mux.Stop()
		return fmt.Errorf("failed to start hub server: %w", err)
	}
	defer control.Stop()

	view := runtimeView{stats: counters, hub: h, listeners: mux.Names()}
	sockServer := socketrpc.NewServer(cfg.SocketPath, view, socketrpc.ServerConfig{Store: storeReader, Logger: logger})
	if err := sockServer.Start(); err != nil {
		logger.Warn().Err(err).Msg("socket server not started")
	} else {
		defer sockServer.Stop()
	}

	printStartupBanner(cfg, mux.Names(), dispatcher.Consumers())
	logger.Info().
		Str("hub", control.Addr()).
		Strs("listeners", mux.Names()).
		Strs("consumers", dispatcher.Consumers()).
		Msg("lotus started")

	g, gctx := errgroup.WithContext(ctx)

	// Ingestion loop; when every source has closed there is nothing left to serve.
	g.Go(func() error {
		defer cancel()
		return dispatcher.Run(gctx, mux.Envelopes())
	})

	// Wait for cancellation, then notify clients before tearing down listeners.
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, drainCancel := context.WithTimeout(context.Background(), hubDrainTimeout)
		defer drainCancel()
		if err := h.Shutdown(drainCtx); err != nil {
			logger.Warn().Err(err).Msg("hub shutdown incomplete")
		}
		mux.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("errgroup exited with error")
	}
	cancel()
	mux.Stop()

	logger.Info().Msg("lotus stopped")
	return nil
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func printStartupBanner(cfg appConfig, listeners, consumers []string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╦  ╔═╗╔╦╗╦ ╦╔═╗
    ║  ║ ║ ║ ║ ║╚═╗
    ╩═╝╚═╝ ╩ ╚═╝╚═╝`)

	var lines []string
	lines = append(lines, "", logo, "    "+dim.Render("v"+version), "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator, "")

	lines = append(lines, bold.Render("    Listeners"), "")
	started := make(map[string]bool, len(listeners))
	for _, name := range listeners {
		started[name] = true
	}
	for _, l := range cfg.listeners() {
		name := l.Name()
		switch {
		case started[name]:
			lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, name, cyan.Render(l.Addr())))
		case l.Enabled:
			lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, name, yellow.Render("failed to bind")))
		default:
			lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, name, dim.Render("disabled")))
		}
	}
	if started["stdin"] {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "stdin", dim.Render("piped")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Gateway"), "")
	lines = append(lines, fmt.Sprintf("    %s  Hub            %s", check, cyan.Render("ws://"+cfg.HubAddr+"/ws")))
	lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", check, cyan.Render(shortenPath(cfg.SocketPath))))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Consumers"), "")
	lines = append(lines, fmt.Sprintf("    %s  Dispatch       %s", check, dim.Render(strings.Join(consumers, ", "))))
	if cfg.DBEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Storage        %s", check, dim.Render(shortenPath(cfg.DBPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Storage        %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Fprintln(os.Stderr, strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}

// compile-time checks for consumer wiring.
var (
	_ ingest.Consumer = (*hub.Hub)(nil)
	_ ingest.Consumer = (*duckdb.InsertBuffer)(nil)
	_ ingest.Consumer = (*natsfwd.Forwarder)(nil)
	_ stats.Sink      = (*natsfwd.Forwarder)(nil)
)
