// Package config loads runtime settings for servers and clients. Values come
// from built-in defaults, then an optional TOML file, then MCP_* environment
// variables, in that order of increasing priority.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"

	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// Config holds every setting of a session endpoint
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Session   SessionConfig   `toml:"session"`
	Reconnect ReconnectConfig `toml:"reconnect"`
	Logging   LoggingConfig   `toml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Tracing   TracingConfig   `toml:"tracing"`
	Redis     RedisConfig     `toml:"redis"`
	Resources ResourcesConfig `toml:"resources"`
}

// ServerConfig selects the transport binding and implementation metadata
type ServerConfig struct {
	Name      string `toml:"name" env:"MCP_SERVER_NAME"`
	Version   string `toml:"version" env:"MCP_SERVER_VERSION"`
	Transport string `toml:"transport" env:"MCP_TRANSPORT"` // "stdio", "socket", "websocket"
	Address   string `toml:"address" env:"MCP_ADDRESS"`
	Path      string `toml:"path" env:"MCP_WEBSOCKET_PATH"`
}

// SessionConfig tunes the session engine
type SessionConfig struct {
	ProtocolVersions      []string `toml:"protocol_versions" env:"MCP_PROTOCOL_VERSIONS"` // newest first, ';' separated in env
	RequestTimeout        Duration `toml:"request_timeout" env:"MCP_REQUEST_TIMEOUT"`
	MaxConcurrentRequests int      `toml:"max_concurrent_requests" env:"MCP_MAX_CONCURRENT_REQUESTS"`
	NotificationBuffer    int      `toml:"notification_buffer" env:"MCP_NOTIFICATION_BUFFER"`
	PageSize              int      `toml:"page_size" env:"MCP_PAGE_SIZE"`
}

// ReconnectConfig is the dial policy for socket and websocket clients
type ReconnectConfig struct {
	MaxAttempts  int      `toml:"max_attempts" env:"MCP_RECONNECT_MAX_ATTEMPTS"`
	InitialDelay Duration `toml:"initial_delay" env:"MCP_RECONNECT_INITIAL_DELAY"`
	MaxDelay     Duration `toml:"max_delay" env:"MCP_RECONNECT_MAX_DELAY"`
	Multiplier   float64  `toml:"multiplier" env:"MCP_RECONNECT_MULTIPLIER"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level" env:"MCP_LOG_LEVEL"`   // "debug", "info", "warn", "error", "off"
	Format string `toml:"format" env:"MCP_LOG_FORMAT"` // "text", "json"
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" env:"MCP_METRICS_ENABLED"`
	Address string `toml:"address" env:"MCP_METRICS_ADDRESS"`
}

// TracingConfig controls OpenTelemetry export
type TracingConfig struct {
	Enabled     bool    `toml:"enabled" env:"MCP_TRACING_ENABLED"`
	Exporter    string  `toml:"exporter" env:"MCP_TRACING_EXPORTER"` // "otlp-grpc", "otlp-http", "none"
	Endpoint    string  `toml:"endpoint" env:"MCP_TRACING_ENDPOINT"`
	Insecure    bool    `toml:"insecure" env:"MCP_TRACING_INSECURE"`
	SampleRate  float64 `toml:"sample_rate" env:"MCP_TRACING_SAMPLE_RATE"`
	ServiceName string  `toml:"service_name" env:"MCP_TRACING_SERVICE_NAME"`
}

// RedisConfig enables the cross-process change bus when Addr is set
type RedisConfig struct {
	Addr    string `toml:"addr" env:"MCP_REDIS_ADDR"`
	Channel string `toml:"channel" env:"MCP_REDIS_CHANNEL"`
}

// ResourcesConfig points the directory resource source at a root
type ResourcesConfig struct {
	Dir   string `toml:"dir" env:"MCP_RESOURCES_DIR"`
	Watch bool   `toml:"watch" env:"MCP_RESOURCES_WATCH"`
}

// Duration is a time.Duration written as "5s" in TOML and in the environment
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Default returns a Config with all default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:      "mcp-session",
			Version:   "0.1.0",
			Transport: "stdio",
			Address:   "127.0.0.1:7400",
			Path:      "/mcp",
		},
		Session: SessionConfig{
			ProtocolVersions:      append([]string(nil), protocol.DefaultSupportedVersions...),
			RequestTimeout:        Duration(30 * time.Second),
			MaxConcurrentRequests: 64,
			NotificationBuffer:    64,
			PageSize:              50,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts:  5,
			InitialDelay: Duration(100 * time.Millisecond),
			MaxDelay:     Duration(5 * time.Second),
			Multiplier:   2.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			SampleRate:  1.0,
			ServiceName: "mcp-session",
		},
		Redis: RedisConfig{
			Channel: "mcp:changes",
		},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays MCP_* environment variables. Unset variables leave the
// current values alone.
func (c *Config) ApplyEnv() error {
	if err := envdecode.Decode(c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}

// Validate checks values that would otherwise fail later and far from their source
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "stdio", "socket", "websocket":
	default:
		return fmt.Errorf("server.transport must be stdio, socket or websocket, got %q", c.Server.Transport)
	}
	if len(c.Session.ProtocolVersions) == 0 {
		return errors.New("session.protocol_versions must not be empty")
	}
	if c.Session.RequestTimeout < 0 {
		return errors.New("session.request_timeout must not be negative")
	}
	if c.Session.MaxConcurrentRequests < 1 {
		return errors.New("session.max_concurrent_requests must be at least 1")
	}
	if c.Session.NotificationBuffer < 1 {
		return errors.New("session.notification_buffer must be at least 1")
	}
	if c.Session.PageSize < 1 {
		return errors.New("session.page_size must be at least 1")
	}
	if c.Reconnect.Multiplier < 1 {
		return errors.New("reconnect.multiplier must be at least 1")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if _, err := logging.NewFormatter(c.Logging.Format); err != nil {
		return fmt.Errorf("logging.format: %w", err)
	}
	switch c.Tracing.Exporter {
	case "none", "otlp-grpc", "otlp-http":
	default:
		return fmt.Errorf("tracing.exporter must be none, otlp-grpc or otlp-http, got %q", c.Tracing.Exporter)
	}
	return nil
}

// Logger builds the logger described by the logging section
func (c *Config) Logger() logging.Logger {
	formatter, err := logging.NewFormatter(c.Logging.Format)
	if err != nil {
		formatter = logging.NewTextFormatter()
	}
	logger := logging.New(nil, formatter)
	if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
