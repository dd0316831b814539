package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/tinytelemetry/lotus/internal/duckdb"
	"github.com/tinytelemetry/lotus/internal/logging"
	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/natsfwd"
	"github.com/tinytelemetry/lotus/internal/reassembly"
	"github.com/tinytelemetry/lotus/internal/socketrpc"
	"github.com/tinytelemetry/lotus/internal/stats"
)

const (
	defaultBindHost            = "127.0.0.1"
	defaultMuxBufferSize       = DefaultMuxBuffer
	defaultEnvelopeBuffer      = 10_000
	defaultClientSendQueue     = 256
	defaultQueryTimeout        = duckdb.DefaultQueryTimeout
	defaultInsertBatchSize     = duckdb.DefaultBatchSize
	defaultInsertFlushInterval = duckdb.DefaultFlushInterval
	defaultInsertFlushQueue    = duckdb.DefaultFlushQueueSize
	defaultDBRetention         = 30 * 24 * time.Hour // 0 = disabled
	defaultStatsInterval       = stats.DefaultSampleInterval
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Host string `mapstructure:"host" validate:"required"`

	SyslogUDPEnabled  bool `mapstructure:"syslog-udp-enabled"`
	SyslogUDPPort     int  `mapstructure:"syslog-udp-port" validate:"min=1,max=65535"`
	SyslogTCPEnabled  bool `mapstructure:"syslog-tcp-enabled"`
	SyslogTCPPort     int  `mapstructure:"syslog-tcp-port" validate:"min=1,max=65535"`
	GELFUDPEnabled    bool `mapstructure:"gelf-udp-enabled"`
	GELFUDPPort       int  `mapstructure:"gelf-udp-port" validate:"min=1,max=65535"`
	GELFTCPEnabled    bool `mapstructure:"gelf-tcp-enabled"`
	GELFTCPPort       int  `mapstructure:"gelf-tcp-port" validate:"min=1,max=65535"`
	BeatsTCPEnabled   bool `mapstructure:"beats-tcp-enabled"`
	BeatsTCPPort      int  `mapstructure:"beats-tcp-port" validate:"min=1,max=65535"`
	FluentHTTPEnabled bool `mapstructure:"fluent-http-enabled"`
	FluentHTTPPort    int  `mapstructure:"fluent-http-port" validate:"min=1,max=65535"`

	HubPort         int           `mapstructure:"hub-port" validate:"min=1,max=65535"`
	HubAddr         string        `mapstructure:"hub-addr"`
	MaxClientsPerIP int           `mapstructure:"max-clients-per-ip" validate:"gt=0"`
	TotalMaxClients int           `mapstructure:"total-max-clients" validate:"gt=0,gtefield=MaxClientsPerIP"`
	RateLimitWindow time.Duration `mapstructure:"rate-limit-window" validate:"gt=0"`
	RingBufferSize  int           `mapstructure:"ring-buffer-size" validate:"gt=0"`
	ClientSendQueue int           `mapstructure:"client-send-queue" validate:"gt=0"`

	EnvelopeBufferSize int `mapstructure:"envelope-buffer-size" validate:"gt=0"`
	MaxFrameSize       int `mapstructure:"max-frame-size" validate:"gt=0"`
	MuxBufferSize      int `mapstructure:"mux-buffer-size" validate:"gt=0"`

	DBEnabled           bool          `mapstructure:"db-enabled"`
	DBPath              string        `mapstructure:"db-path"`
	DBRetention         time.Duration `mapstructure:"db-retention" validate:"gte=0"`
	QueryTimeout        time.Duration `mapstructure:"query-timeout" validate:"gt=0"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size" validate:"gt=0"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval" validate:"gt=0"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size" validate:"gt=0"`

	NATSURL           string `mapstructure:"nats-url" validate:"omitempty,url"`
	NATSSubjectPrefix string `mapstructure:"nats-subject-prefix"`

	SocketPath    string        `mapstructure:"socket-path"`
	LogLevel      string        `mapstructure:"log-level"`
	LogFormat     string        `mapstructure:"log-format" validate:"omitempty,oneof=json console"`
	LogFile       string        `mapstructure:"log-file"`
	StatsInterval time.Duration `mapstructure:"stats-interval" validate:"gt=0"`

	ConfigPath string `mapstructure:"-"` // not from config file
}

// listenerSpec is one configured (protocol, transport) pair.
type listenerSpec struct {
	model.ListenerConfig
	Enabled bool
}

// listeners returns every known listener in a stable order.
func (c appConfig) listeners() []listenerSpec {
	mk := func(p model.Protocol, t model.Transport, port int, enabled bool) listenerSpec {
		return listenerSpec{
			ListenerConfig: model.ListenerConfig{Protocol: p, Transport: t, Bind: c.Host, Port: port},
			Enabled:        enabled,
		}
	}
	return []listenerSpec{
		mk(model.ProtocolSyslog, model.TransportUDP, c.SyslogUDPPort, c.SyslogUDPEnabled),
		mk(model.ProtocolSyslog, model.TransportTCP, c.SyslogTCPPort, c.SyslogTCPEnabled),
		mk(model.ProtocolGELF, model.TransportUDP, c.GELFUDPPort, c.GELFUDPEnabled),
		mk(model.ProtocolGELF, model.TransportTCP, c.GELFTCPPort, c.GELFTCPEnabled),
		mk(model.ProtocolBeats, model.TransportTCP, c.BeatsTCPPort, c.BeatsTCPEnabled),
		mk(model.ProtocolFluent, model.TransportHTTP, c.FluentHTTPPort, c.FluentHTTPEnabled),
	}
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("host", defaultBindHost)
	v.SetDefault("syslog-udp-enabled", true)
	v.SetDefault("syslog-udp-port", model.DefaultSyslogUDPPort)
	v.SetDefault("syslog-tcp-enabled", true)
	v.SetDefault("syslog-tcp-port", model.DefaultSyslogTCPPort)
	v.SetDefault("gelf-udp-enabled", true)
	v.SetDefault("gelf-udp-port", model.DefaultGELFUDPPort)
	v.SetDefault("gelf-tcp-enabled", true)
	v.SetDefault("gelf-tcp-port", model.DefaultGELFTCPPort)
	v.SetDefault("beats-tcp-enabled", true)
	v.SetDefault("beats-tcp-port", model.DefaultBeatsTCPPort)
	v.SetDefault("fluent-http-enabled", true)
	v.SetDefault("fluent-http-port", model.DefaultFluentHTTPPort)

	v.SetDefault("hub-port", model.DefaultHubPort)
	v.SetDefault("max-clients-per-ip", model.DefaultMaxClientsPerIP)
	v.SetDefault("total-max-clients", model.DefaultTotalMaxClients)
	v.SetDefault("rate-limit-window", model.DefaultRateLimitWindow)
	v.SetDefault("ring-buffer-size", model.DefaultRingBufferSize)
	v.SetDefault("client-send-queue", defaultClientSendQueue)

	v.SetDefault("envelope-buffer-size", defaultEnvelopeBuffer)
	v.SetDefault("max-frame-size", reassembly.DefaultMaxFrameSize)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)

	v.SetDefault("db-enabled", false)
	v.SetDefault("db-path", filepath.Join(home, ".local", "share", "lotus", "lotus.duckdb"))
	v.SetDefault("db-retention", defaultDBRetention)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)

	v.SetDefault("nats-url", "")
	v.SetDefault("nats-subject-prefix", natsfwd.DefaultSubjectPrefix)

	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", logging.FormatJSON)
	v.SetDefault("log-file", "")
	v.SetDefault("stats-interval", defaultStatsInterval)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	// Report config keys rather than Go field names.
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return val
}

func loadConfig(v *viper.Viper, configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v.SetEnvPrefix("LOTUS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	setDefaults(v, home)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "lotus", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, statErr := os.Stat(cfg.ConfigPath); statErr != nil {
		cfg.ConfigPath = ""
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return cfg, fmt.Errorf("invalid %s: %v (must satisfy %s)", fe.Field(), fe.Value(), validationRule(fe))
		}
		return cfg, err
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return cfg, fmt.Errorf("invalid log-level: %w", err)
	}

	// Expand ~ in paths
	cfg.DBPath = expandHome(cfg.DBPath, home)
	cfg.SocketPath = expandHome(cfg.SocketPath, home)
	cfg.LogFile = expandHome(cfg.LogFile, home)

	if cfg.HubAddr == "" {
		cfg.HubAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.HubPort))
	}

	return cfg, nil
}

func validationRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
