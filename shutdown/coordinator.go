package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/rxmq/logging"
)

// Coordinator runs registered handlers phase by phase, once.
type Coordinator struct {
	config Config
	log    *logging.Logger

	mu       sync.Mutex
	handlers []registration
	started  bool
	done     chan struct{}
	result   *Result
	trigger  chan struct{}
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(config Config) *Coordinator {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	log := logging.Nop()
	if config.Logger != nil {
		log = config.Logger
	}
	return &Coordinator{
		config:  config,
		log:     log.WithComponent("shutdown"),
		done:    make(chan struct{}),
		trigger: make(chan struct{}, 1),
	}
}

// Register adds a handler for phase.
func (c *Coordinator) Register(name string, phase int, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, handler: handler, phase: phase})
}

// RegisterCloser adds a handler that calls closer.Close. The close runs in
// its own goroutine so the handler can give up when ctx expires.
func (c *Coordinator) RegisterCloser(name string, phase int, closer Closer) {
	c.Register(name, phase, func(ctx context.Context) error {
		errc := make(chan error, 1)
		go func() { errc <- closer.Close() }()
		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
	})
}

// Shutdown runs every handler. A second call returns ErrAlreadyShutdown.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyShutdown
	}
	c.started = true
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	result := c.run(ctx, handlers)

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()
	close(c.done)
	return result.Err
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or the configured
// timeout when zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals starts shutdown on SIGINT, SIGTERM or Trigger. The returned
// context is canceled as soon as shutdown begins.
func (c *Coordinator) HandleSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			c.log.Info("signal_received", map[string]interface{}{"signal": sig.String()})
		case <-c.trigger:
		case <-parent.Done():
		}
		cancel()
		_ = c.ShutdownWithTimeout(c.config.Timeout)
	}()
	return ctx
}

// Trigger starts a HandleSignals shutdown without a signal.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Done returns a channel that is closed when shutdown is complete.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the shutdown result, or nil before Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context, handlers []registration) *Result {
	start := time.Now()
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Results: make([]HandlerResult, 0, len(handlers))}
	var errs []error

	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			errs = append(errs, ErrTimeout)
			break
		}
		for _, hr := range c.runPhase(ctx, group) {
			result.Results = append(result.Results, hr)
			if hr.Err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", hr.Name, hr.Err))
			}
		}
	}

	if len(errs) > 0 {
		if !errors.Is(errors.Join(errs...), ErrTimeout) {
			errs = append([]error{ErrHandlerFailed}, errs...)
		}
		result.Err = errors.Join(errs...)
	}
	result.TotalDuration = time.Since(start)
	return result
}

// runPhase runs all handlers in a phase concurrently.
func (c *Coordinator) runPhase(ctx context.Context, handlers []registration) []HandlerResult {
	results := make([]HandlerResult, len(handlers))
	var wg sync.WaitGroup

	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := r.handler(ctx)
			hr := HandlerResult{
				Name:     r.name,
				Phase:    r.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			results[idx] = hr

			fields := map[string]interface{}{
				"handler":  hr.Name,
				"phase":    hr.Phase,
				"duration": hr.Duration.String(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.log.Warn("handler_failed", fields)
			} else {
				c.log.Debug("handler_done", fields)
			}
			if c.config.OnProgress != nil {
				c.config.OnProgress(hr)
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}

// groupByPhase groups handlers, already sorted, by their phase number.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
