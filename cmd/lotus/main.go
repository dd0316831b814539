package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tinytelemetry/lotus/internal/socketrpc"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

// GetVersionInfo returns the current version and commit information.
func GetVersionInfo() (string, string) {
	return version, commit
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configPath string

	cmd := &cobra.Command{
		Use:           "lotus",
		Short:         "Multi-protocol log ingestion with live websocket fan-out",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/lotus/config.yml)")
	flags.String("host", defaultBindHost, "bind address for every listener")
	flags.Int("hub-port", 0, "websocket hub and control API port")
	flags.String("hub-addr", "", "explicit hub address, overrides host and hub-port")
	flags.Bool("db-enabled", false, "persist events to DuckDB")
	flags.String("db-path", "", "DuckDB database path")
	flags.String("nats-url", "", "forward events to this NATS server")
	flags.String("socket-path", "", "unix socket for local introspection")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (json, console)")
	flags.String("log-file", "", "log file path, - for stderr")
	for _, name := range []string{"host", "hub-port", "hub-addr", "db-enabled", "db-path", "nats-url", "socket-path", "log-level", "log-format", "log-file"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	cmd.AddCommand(newVersionCmd(), newStatusCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Lotus - Log Ingestion Service\n")
			fmt.Fprintf(out, "  Version:    %s\n", version)
			fmt.Fprintf(out, "  Commit:     %s\n", commit)
			fmt.Fprintf(out, "  Built:      %s\n", buildTime)
			fmt.Fprintf(out, "  Go version: %s\n", goVersion)
		},
	}
}

// newStatusCmd queries a running instance over its unix socket.
func newStatusCmd() *cobra.Command {
	var socketPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show counters, listeners and clients of a running instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := socketrpc.Dial(socketPath)
			if err != nil {
				return err
			}
			defer client.Close()

			snap, err := client.Stats()
			if err != nil {
				return err
			}
			listeners, err := client.Listeners()
			if err != nil {
				return err
			}
			clients, err := client.Clients()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"stats":     snap,
				"listeners": listeners,
				"clients":   clients,
			})
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket-path", socketrpc.DefaultSocketPath(), "unix socket of the running instance")
	return cmd
}
