// Package config loads rxmq settings from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/rxmq/codec"
	mqerrors "github.com/vinayprograms/rxmq/errors"
	"github.com/vinayprograms/rxmq/logging"
	"github.com/vinayprograms/rxmq/registry"
	"github.com/vinayprograms/rxmq/stream"
	"github.com/vinayprograms/rxmq/telemetry"
	"github.com/vinayprograms/rxmq/transport"
)

// ErrInsecurePermissions is returned when a config file holding NATS
// secrets is readable by group or others.
var ErrInsecurePermissions = fmt.Errorf("config file has insecure permissions")

// Duration is a time.Duration written as a string ("650ms") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the top-level configuration.
type Config struct {
	// Transport is "zmq", "nats" or "memory".
	Transport string `toml:"transport"`

	// Codec is "msgpack", "proto" or "json".
	Codec string `toml:"codec"`

	HighWaterMark    int      `toml:"high_water_mark"`
	BindTimeout      Duration `toml:"bind_timeout"`
	ConnectTimeout   Duration `toml:"connect_timeout"`
	PublisherSettle  Duration `toml:"publisher_settle"`
	SubscriberSettle Duration `toml:"subscriber_settle"`
	StartTimeout     Duration `toml:"start_timeout"`
	JoinTimeout      Duration `toml:"join_timeout"`

	// LogLevel is DEBUG, INFO, WARN or ERROR.
	LogLevel string `toml:"log_level"`

	NATS      NATSConfig      `toml:"nats"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// NATSConfig is the [nats] section.
type NATSConfig struct {
	Name           string   `toml:"name"`
	Token          string   `toml:"token"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	ReconnectWait  Duration `toml:"reconnect_wait"`
	MaxReconnects  int      `toml:"max_reconnects"`
	ConnectTimeout Duration `toml:"connect_timeout"`
}

// TelemetryConfig is the [telemetry] section.
type TelemetryConfig struct {
	// Exporter is "none", "otlp-grpc" or "otlp-http".
	Exporter    string `toml:"exporter"`
	Endpoint    string `toml:"endpoint"`
	ServiceName string `toml:"service_name"`
	Insecure    bool   `toml:"insecure"`
	Debug       bool   `toml:"debug"`

	// SampleRatio is the fraction of new traces kept, in (0, 1].
	SampleRatio float64 `toml:"sample_ratio"`
}

// Default returns the built-in configuration.
func Default() *Config {
	reg := registry.DefaultConfig()
	nats := transport.DefaultNATSConfig()
	return &Config{
		Transport:        "zmq",
		Codec:            "msgpack",
		HighWaterMark:    reg.HighWaterMark,
		BindTimeout:      Duration{reg.BindTimeout},
		ConnectTimeout:   Duration{reg.ConnectTimeout},
		PublisherSettle:  Duration{reg.PublisherSettle},
		SubscriberSettle: Duration{reg.SubscriberSettle},
		StartTimeout:     Duration{stream.DefaultStartTimeout},
		JoinTimeout:      Duration{stream.DefaultJoinTimeout},
		LogLevel:         "INFO",
		NATS: NATSConfig{
			Name:           nats.Name,
			ReconnectWait:  Duration{nats.ReconnectWait},
			MaxReconnects:  nats.MaxReconnects,
			ConnectTimeout: Duration{nats.ConnectTimeout},
		},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: telemetry.DefaultServiceName,
			SampleRatio: 1,
		},
	}
}

// StandardPaths returns the standard config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{}

	// 1. Current directory
	paths = append(paths, "rxmq.toml")

	// 2. ~/.config/rxmq/rxmq.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "rxmq", "rxmq.toml"))
	}

	return paths
}

// Load loads the first config file found in the standard locations. With
// no file present it returns the defaults and an empty path.
func Load() (*Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return cfg, path, nil
		}
	}
	return Default(), "", nil
}

// LoadFile loads a config file over the defaults and validates it.
// Files that carry a NATS token or password must not be readable by group
// or others.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, mqerrors.WrapWithCode(err, mqerrors.ErrCodeConfig, fmt.Sprintf("parsing %s", path))
	}

	if cfg.NATS.Token != "" || cfg.NATS.Password != "" {
		if err := checkPermissions(path); err != nil {
			return nil, mqerrors.WrapWithCode(err, mqerrors.ErrCodeConfig, "refusing to load NATS secrets")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("%w: %s has mode %04o (must not be group or world accessible)",
			ErrInsecurePermissions, path, mode)
	}
	return nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Transport) {
	case "zmq", "nats", "memory":
	default:
		problems = append(problems, fmt.Sprintf("transport %q (want zmq, nats or memory)", c.Transport))
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		problems = append(problems, err.Error())
	}
	if c.HighWaterMark < 0 {
		problems = append(problems, "high_water_mark must not be negative")
	}
	for name, d := range map[string]Duration{
		"bind_timeout":      c.BindTimeout,
		"connect_timeout":   c.ConnectTimeout,
		"publisher_settle":  c.PublisherSettle,
		"subscriber_settle": c.SubscriberSettle,
		"start_timeout":     c.StartTimeout,
		"join_timeout":      c.JoinTimeout,
	} {
		if d.Duration < 0 {
			problems = append(problems, name+" must not be negative")
		}
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	switch strings.ToLower(c.Telemetry.Exporter) {
	case "", "none":
	case "otlp-grpc", "otlp-http":
		if c.Telemetry.Endpoint == "" && os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
			problems = append(problems, "telemetry.endpoint is required for the "+c.Telemetry.Exporter+" exporter")
		}
	default:
		problems = append(problems, fmt.Sprintf("telemetry.exporter %q (want none, otlp-grpc or otlp-http)", c.Telemetry.Exporter))
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		problems = append(problems, "telemetry.sample_ratio must be between 0 and 1")
	}

	if len(problems) > 0 {
		return mqerrors.Config("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// NATSToken returns the configured token, falling back to NATS_TOKEN.
func (c *Config) NATSToken() string {
	if c.NATS.Token != "" {
		return c.NATS.Token
	}
	return os.Getenv("NATS_TOKEN")
}

// NewTransport builds the configured transport.
func (c *Config) NewTransport() (transport.Transport, error) {
	switch strings.ToLower(c.Transport) {
	case "zmq":
		return transport.NewZMQ(transport.DefaultZMQConfig()), nil
	case "nats":
		return transport.NewNATS(transport.NATSConfig{
			Name:           c.NATS.Name,
			Token:          c.NATSToken(),
			User:           c.NATS.User,
			Password:       c.NATS.Password,
			ReconnectWait:  c.NATS.ReconnectWait.Duration,
			MaxReconnects:  c.NATS.MaxReconnects,
			ConnectTimeout: c.NATS.ConnectTimeout.Duration,
		}), nil
	case "memory":
		return transport.NewMemory(), nil
	default:
		return nil, mqerrors.Config(fmt.Sprintf("unknown transport %q", c.Transport))
	}
}

// NewCodec builds the configured codec.
func (c *Config) NewCodec() (codec.Codec, error) {
	cd, err := codec.ByName(c.Codec)
	if err != nil {
		return nil, mqerrors.WrapWithCode(err, mqerrors.ErrCodeConfig, "selecting codec")
	}
	return cd, nil
}

// RegistryConfig returns the registry timing settings.
func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{
		HighWaterMark:    c.HighWaterMark,
		BindTimeout:      c.BindTimeout.Duration,
		ConnectTimeout:   c.ConnectTimeout.Duration,
		PublisherSettle:  c.PublisherSettle.Duration,
		SubscriberSettle: c.SubscriberSettle.Duration,
	}
}

// StreamOptions returns the stream options implied by the configuration.
func (c *Config) StreamOptions() ([]stream.Option, error) {
	cd, err := c.NewCodec()
	if err != nil {
		return nil, err
	}
	return []stream.Option{
		stream.WithCodec(cd),
		stream.WithStartTimeout(c.StartTimeout.Duration),
		stream.WithJoinTimeout(c.JoinTimeout.Duration),
	}, nil
}

// Logger returns a stdout logger at the configured level.
func (c *Config) Logger() *logging.Logger {
	l := logging.New()
	if level, err := logging.ParseLevel(c.LogLevel); err == nil {
		l.SetLevel(level)
	}
	return l
}

// ProviderConfig returns the telemetry provider settings. ok is false when
// tracing is disabled.
func (c *Config) ProviderConfig() (cfg telemetry.ProviderConfig, ok bool) {
	protocol, ok := telemetry.ProtocolForExporter(c.Telemetry.Exporter)
	if !ok {
		return telemetry.ProviderConfig{}, false
	}
	return telemetry.ProviderConfig{
		ServiceName: c.Telemetry.ServiceName,
		Endpoint:    c.Telemetry.Endpoint,
		Protocol:    protocol,
		Insecure:    c.Telemetry.Insecure,
		Debug:       c.Telemetry.Debug,
		Transport:   strings.ToLower(c.Transport),
		Codec:       c.Codec,
		SampleRatio: c.Telemetry.SampleRatio,
	}, true
}
