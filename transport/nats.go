package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultNATSSubject is used when an address carries no subject path.
const DefaultNATSSubject = "rxmq"

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Name:           "rxmq",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // Unlimited
		ConnectTimeout: 5 * time.Second,
	}
}

// NATS implements Transport over a NATS server. Addresses have the form
// "nats://host:port/subject"; every message travels on that subject as a
// msgpack-encoded frame array and topic filtering happens on the receiver.
type NATS struct {
	config NATSConfig

	mu    sync.Mutex
	bound map[string]bool
}

// NewNATS creates a NATS transport.
func NewNATS(cfg NATSConfig) *NATS {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultNATSConfig().ConnectTimeout
	}
	return &NATS{config: cfg, bound: make(map[string]bool)}
}

// Name implements Transport.
func (n *NATS) Name() string { return "nats" }

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

// ParseNATSAddress splits an address into server URL and subject.
func ParseNATSAddress(address string) (server, subject string, err error) {
	if err := ValidateAddress(address); err != nil {
		return "", "", err
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if u.Scheme != "nats" && u.Scheme != "tls" {
		return "", "", fmt.Errorf("%w: scheme %q, want nats", ErrBadAddress, u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("%w: missing host in %q", ErrBadAddress, address)
	}

	subject = strings.Trim(u.Path, "/")
	if subject == "" {
		subject = DefaultNATSSubject
	}
	if strings.ContainsAny(subject, " \t\r\n*>/") {
		return "", "", fmt.Errorf("%w: invalid subject %q", ErrBadAddress, subject)
	}

	u.Path = ""
	u.RawQuery = ""
	return u.String(), subject, nil
}

func (n *NATS) connect(ctx context.Context, server string) (*nats.Conn, error) {
	cfg := n.config
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 && left < cfg.ConnectTimeout {
			cfg.ConnectTimeout = left
		}
	}
	conn, err := nats.Connect(server, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// Bind implements Transport. Only one publisher per address is allowed per
// NATS transport.
func (n *NATS) Bind(ctx context.Context, address string, opts Options) (PubSocket, error) {
	server, subject, err := ParseNATSAddress(address)
	if err != nil {
		return nil, err
	}
	key := server + "/" + subject

	n.mu.Lock()
	if n.bound[key] {
		n.mu.Unlock()
		return nil, fmt.Errorf("nats bind %q: %w", address, ErrAddressInUse)
	}
	n.bound[key] = true
	n.mu.Unlock()

	conn, err := n.connect(ctx, server)
	if err != nil {
		n.release(key)
		return nil, err
	}
	opts.signal(EventListening)

	return &natsPub{conn: conn, subject: subject, release: func() { n.release(key) }}, nil
}

func (n *NATS) release(key string) {
	n.mu.Lock()
	delete(n.bound, key)
	n.mu.Unlock()
}

// Connect implements Transport. The connected event fires once the server
// has acknowledged the subscription.
func (n *NATS) Connect(ctx context.Context, address string, opts Options) (SubSocket, error) {
	server, subject, err := ParseNATSAddress(address)
	if err != nil {
		return nil, err
	}

	conn, err := n.connect(ctx, server)
	if err != nil {
		return nil, err
	}

	sub, err := conn.SubscribeSync(subject)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	if err := sub.SetPendingLimits(opts.hwm(), -1); err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats pending limits: %w", err)
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	opts.signal(EventConnected)

	rctx, cancel := context.WithCancel(context.Background())
	return &natsSub{conn: conn, sub: sub, ctx: rctx, cancel: cancel}, nil
}

type natsPub struct {
	conn    *nats.Conn
	subject string
	release func()
	closed  atomic.Bool
}

// Send implements PubSocket.
func (p *natsPub) Send(frames [][]byte) error {
	if p.closed.Load() || p.conn.IsClosed() {
		return ErrClosed
	}
	data, err := msgpack.Marshal(frames)
	if err != nil {
		return fmt.Errorf("nats pack frames: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the subject.
func (p *natsPub) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	defer p.release()
	// Drain flushes buffered publishes before closing.
	return p.conn.Drain()
}

type natsSub struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	filters []string
	dropped atomic.Uint64
	closed  atomic.Bool
}

// Subscribe implements SubSocket.
func (s *natsSub) Subscribe(prefix string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	s.filters = append(s.filters, prefix)
	s.mu.Unlock()
	return nil
}

// Recv implements SubSocket. Messages failing the topic filter are skipped.
func (s *natsSub) Recv() ([][]byte, error) {
	for {
		msg, err := s.sub.NextMsgWithContext(s.ctx)
		if err != nil {
			if s.closed.Load() {
				return nil, ErrClosed
			}
			if errors.Is(err, nats.ErrSlowConsumer) {
				s.dropped.Add(1)
				continue
			}
			return nil, fmt.Errorf("nats recv: %w", err)
		}

		var frames [][]byte
		if err := msgpack.Unmarshal(msg.Data, &frames); err != nil {
			return nil, fmt.Errorf("nats unpack frames: %w", err)
		}

		s.mu.RLock()
		ok := matches(s.filters, frames)
		s.mu.RUnlock()
		if ok {
			return frames, nil
		}
	}
}

// Dropped returns how many times the server flagged this subscriber as slow.
func (s *natsSub) Dropped() uint64 {
	return s.dropped.Load()
}

// Close implements SubSocket.
func (s *natsSub) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	_ = s.sub.Unsubscribe()
	s.conn.Close()
	return nil
}
