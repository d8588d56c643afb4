// Package shutdown closes rxmq components in phases on exit.
//
// Streams are closed first so their receive goroutines stop reading, then
// the registry releases the sockets, then telemetry flushes spans:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	ctx := coord.HandleSignals(context.Background())
//
//	coord.RegisterCloser("subscriber", shutdown.PhaseStreams, sub)
//	coord.RegisterCloser("registry", shutdown.PhaseRegistry, reg)
//	coord.Register("telemetry", shutdown.PhaseTelemetry, provider.Shutdown)
//
//	<-ctx.Done()
//	<-coord.Done()
//
// Handlers in the same phase run concurrently; lower phases run first.
package shutdown

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/rxmq/logging"
)

// Common errors.
var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed during shutdown.
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// Standard phases.
const (
	PhaseStreams   = 10
	PhaseRegistry  = 20
	PhaseTelemetry = 30
)

// Handler releases one component.
type Handler func(ctx context.Context) error

// Closer is anything with a Close method, such as a stream or a registry.
type Closer interface {
	Close() error
}

// HandlerResult contains the result of a single handler's shutdown.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result contains the complete shutdown result.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult

	// Err is the overall error (nil if all handlers succeeded).
	Err error
}

// FailedHandlers returns the names of handlers that failed.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the shutdown coordinator.
type Config struct {
	// Timeout bounds a signal-triggered shutdown.
	// Default: 30 seconds
	Timeout time.Duration

	// Logger receives one entry per handler. Default: logging.Nop().
	Logger *logging.Logger

	// OnProgress is called when each handler completes.
	OnProgress func(result HandlerResult)
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}
