// Command rxmq publishes and subscribes to rxmq streams from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/rxmq/config"
	"github.com/vinayprograms/rxmq/logging"
	"github.com/vinayprograms/rxmq/registry"
	"github.com/vinayprograms/rxmq/shutdown"
	"github.com/vinayprograms/rxmq/stream"
	"github.com/vinayprograms/rxmq/telemetry"
	"github.com/vinayprograms/rxmq/transport"
)

var (
	// Global flags
	configPath    string
	transportName string
	logLevel      string
)

// Message is the payload carried by the CLI.
type Message struct {
	Seq  int64     `msgpack:"seq" json:"seq"`
	Body string    `msgpack:"body" json:"body"`
	Sent time.Time `msgpack:"sent" json:"sent"`
}

// TopicTag names the default topic for CLI messages.
func (Message) TopicTag() string { return "rxmq.cli.message" }

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rxmq",
		Short: "Typed pub/sub streams over ZeroMQ or NATS",
		Long: `rxmq publishes and subscribes to typed event streams.

Settings come from rxmq.toml in the working directory or
~/.config/rxmq/rxmq.toml unless --config names a file.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: standard locations)")
	rootCmd.PersistentFlags().StringVar(&transportName, "transport", "", "Override the configured transport (zmq, nats, memory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newSubscribeCommand())
	return rootCmd
}

// app holds everything a command needs, wired from the configuration.
type app struct {
	cfg    *config.Config
	log    *logging.Logger
	reg    *registry.Registry
	opts   []stream.Option
	coord  *shutdown.Coordinator
	tracer *telemetry.Tracer
}

func loadConfig() (*config.Config, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if configPath != "" {
		path = configPath
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if transportName != "" {
		cfg.Transport = strings.ToLower(transportName)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if path != "" {
		log := cfg.Logger()
		log.SetOutput(os.Stderr)
		log.Debug("config_loaded", map[string]interface{}{"path": path})
	}
	return cfg, nil
}

// newApp builds the registry, tracer and shutdown coordinator for cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	tr, err := cfg.NewTransport()
	if err != nil {
		return nil, err
	}
	return newAppWithTransport(ctx, cfg, tr)
}

func newAppWithTransport(ctx context.Context, cfg *config.Config, tr transport.Transport) (*app, error) {
	// stdout carries subscriber output.
	log := cfg.Logger()
	log.SetOutput(os.Stderr)
	opts, err := cfg.StreamOptions()
	if err != nil {
		return nil, err
	}

	coord := shutdown.NewCoordinator(shutdown.Config{
		Timeout: cfg.JoinTimeout.Duration + 5*time.Second,
		Logger:  log,
	})

	tracer := telemetry.NewNoopTracer()
	if pcfg, ok := cfg.ProviderConfig(); ok {
		provider, err := telemetry.InitProvider(ctx, pcfg)
		if err != nil {
			return nil, err
		}
		tracer = provider.Tracer()
		coord.Register("telemetry", shutdown.PhaseTelemetry, provider.Shutdown)
	}

	reg := registry.New(tr, cfg.RegistryConfig(), registry.WithLogger(log))
	coord.RegisterCloser("registry", shutdown.PhaseRegistry, reg)

	opts = append(opts, stream.WithLogger(log), stream.WithTracer(tracer))
	return &app{cfg: cfg, log: log, reg: reg, opts: opts, coord: coord, tracer: tracer}, nil
}

// streamOptions returns the configured stream options followed by extra.
func (a *app) streamOptions(extra ...stream.Option) []stream.Option {
	out := make([]stream.Option, 0, len(a.opts)+len(extra))
	out = append(out, a.opts...)
	return append(out, extra...)
}
