// Package heartbeat keeps a publisher visibly alive between events by
// sending connectivity probes at a fixed interval.
//
// Subscribers never surface probes to observers; they only keep the
// underlying connection warm and let a publisher find out early that its
// socket has gone away.
package heartbeat

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/rxmq/logging"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Pinger sends one probe. stream.Publisher and stream.Subject implement it.
type Pinger interface {
	Ping() error
}

// Config configures a Sender.
type Config struct {
	// Interval between probes. Default: 5 seconds
	Interval time.Duration

	// MaxFailures stops the sender after this many consecutive failed
	// probes. Zero means never stop.
	MaxFailures int

	// Logger receives probe failures. Default: logging.Nop().
	Logger *logging.Logger

	// OnError is called for every failed probe.
	OnError func(err error)
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Interval < 0 || c.MaxFailures < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Sender pings at a fixed interval until stopped.
type Sender struct {
	pinger      Pinger
	interval    time.Duration
	maxFailures int
	log         *logging.Logger
	onError     func(error)

	running  atomic.Bool
	sent     atomic.Uint64
	failures atomic.Uint64
	lastErr  atomic.Pointer[error]
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSender creates a sender for p.
func NewSender(p Pinger, cfg Config) (*Sender, error) {
	if p == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultConfig().Interval
	}
	log := logging.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger
	}
	return &Sender{
		pinger:      p,
		interval:    interval,
		maxFailures: cfg.MaxFailures,
		log:         log.WithComponent("heartbeat"),
		onError:     cfg.OnError,
	}, nil
}

// Start sends one probe immediately and then one per interval.
func (s *Sender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx, s.stopCh, s.doneCh)
	return nil
}

func (s *Sender) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if !s.ping() {
		s.running.Store(false)
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.running.Store(false)
			return
		case <-stop:
			return
		case <-ticker.C:
			if !s.ping() {
				s.running.Store(false)
				return
			}
		}
	}
}

// ping sends one probe and reports whether the sender should continue.
func (s *Sender) ping() bool {
	err := s.pinger.Ping()
	if err == nil {
		s.sent.Add(1)
		s.failures.Store(0)
		return true
	}

	n := s.failures.Add(1)
	s.lastErr.Store(&err)
	s.log.Warn("ping_failed", map[string]interface{}{
		"consecutive": n,
		"error":       err.Error(),
	})
	if s.onError != nil {
		s.onError(err)
	}
	return s.maxFailures == 0 || n < uint64(s.maxFailures)
}

// Stop stops the sender and waits for its goroutine to exit.
func (s *Sender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// Close stops the sender if it is running.
func (s *Sender) Close() error {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotStarted) {
		return err
	}
	return nil
}

// Running reports whether probes are still being sent.
func (s *Sender) Running() bool {
	return s.running.Load()
}

// Sent returns the number of successful probes.
func (s *Sender) Sent() uint64 {
	return s.sent.Load()
}

// LastError returns the most recent probe failure, or nil.
func (s *Sender) LastError() error {
	if p := s.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}
