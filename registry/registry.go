// Package registry owns the transport sockets behind rxmq streams.
//
// A Registry keeps at most one publisher socket per address and hands every
// subscriber a fresh socket of its own. Both kinds of socket go through a
// small state machine that waits for the transport's readiness signal (or a
// timeout) and then a settle delay, so that a message pushed right after
// setup is not lost to a connection that has not finished its handshake.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	mqerrors "github.com/vinayprograms/rxmq/errors"
	"github.com/vinayprograms/rxmq/logging"
	"github.com/vinayprograms/rxmq/transport"
)

// Role identifies which side of a connection a socket serves.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// State is a socket's setup state.
type State int

const (
	StateUnbound State = iota
	StateBinding
	StateUnconnected
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBinding:
		return "binding"
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Config holds socket setup timing.
type Config struct {
	// HighWaterMark bounds each socket's queue, in messages.
	// Default: transport.DefaultHighWaterMark
	HighWaterMark int

	// BindTimeout bounds the wait for a publisher's readiness signal.
	BindTimeout time.Duration

	// ConnectTimeout bounds the wait for a subscriber's readiness signal.
	ConnectTimeout time.Duration

	// PublisherSettle is slept after a publisher becomes ready.
	PublisherSettle time.Duration

	// SubscriberSettle is slept after a subscriber becomes ready.
	SubscriberSettle time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HighWaterMark:    transport.DefaultHighWaterMark,
		BindTimeout:      3 * time.Second,
		ConnectTimeout:   3 * time.Second,
		PublisherSettle:  650 * time.Millisecond,
		SubscriberSettle: 500 * time.Millisecond,
	}
}

// ReadyEvent describes how a socket became ready.
type ReadyEvent struct {
	Address string
	Role    Role

	// Event is the readiness signal that ended the wait; empty when the
	// wait timed out.
	Event transport.Event

	// Waited is the time spent waiting for the signal, settle excluded.
	Waited time.Duration

	// TimedOut is set when no signal arrived in time. The socket is used
	// regardless.
	TimedOut bool
}

// Stats is a snapshot of the sockets a registry owns.
type Stats struct {
	Transport   string
	Publishers  int
	Subscribers int
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l.WithComponent("registry")
		}
	}
}

// WithReadyHook registers a callback run each time a socket becomes ready.
func WithReadyHook(fn func(ReadyEvent)) Option {
	return func(r *Registry) {
		r.hook = fn
	}
}

// Registry pools transport sockets by address.
type Registry struct {
	tr   transport.Transport
	cfg  Config
	log  *logging.Logger
	hook func(ReadyEvent)

	mu     sync.Mutex
	pubs   map[string]*pubEntry
	subs   map[*subHandle]struct{}
	closed bool
}

// pubEntry is locked across binding so concurrent callers for one address
// wait for the same socket.
type pubEntry struct {
	mu        sync.Mutex
	state     State
	sock      *sharedPub
	discarded bool
}

// New creates a registry over tr.
func New(tr transport.Transport, cfg Config, opts ...Option) *Registry {
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = transport.DefaultHighWaterMark
	}
	r := &Registry{
		tr:   tr,
		cfg:  cfg,
		log:  logging.Nop(),
		pubs: make(map[string]*pubEntry),
		subs: make(map[*subHandle]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Transport returns the transport sockets are created on.
func (r *Registry) Transport() transport.Transport {
	return r.tr
}

// Publisher returns the publisher socket bound to address, binding it on
// first use. Concurrent callers for the same address share one bind. The
// returned socket belongs to the registry: its Close is a no-op and the
// socket is released by Registry.Close.
func (r *Registry) Publisher(ctx context.Context, address string) (transport.PubSocket, error) {
	if address == "" {
		return nil, mqerrors.Config("publisher address must not be empty")
	}

	for {
		e, err := r.pubEntry(address)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		if e.discarded {
			// Lost a race with a failed bind or Close; look the address up again.
			e.mu.Unlock()
			if r.isClosed() {
				return nil, mqerrors.Closed("registry is closed", mqerrors.WithAddress(address))
			}
			continue
		}
		if e.state == StateReady {
			e.mu.Unlock()
			return e.sock, nil
		}

		e.state = StateBinding
		r.transition(address, RolePublisher, e.state)
		sock, err := r.bind(ctx, address)
		if err != nil {
			e.state = StateUnbound
			r.transition(address, RolePublisher, e.state)
			e.discarded = true
			r.mu.Lock()
			if r.pubs[address] == e {
				delete(r.pubs, address)
			}
			r.mu.Unlock()
			e.mu.Unlock()
			return nil, err
		}
		e.sock = sock
		e.state = StateReady
		r.transition(address, RolePublisher, e.state)
		e.mu.Unlock()
		return sock, nil
	}
}

func (r *Registry) pubEntry(address string) (*pubEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, mqerrors.Closed("registry is closed", mqerrors.WithAddress(address))
	}
	e, ok := r.pubs[address]
	if !ok {
		e = &pubEntry{state: StateUnbound}
		r.pubs[address] = e
	}
	return e, nil
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) bind(ctx context.Context, address string) (*sharedPub, error) {
	ready := make(chan transport.Event, 8)
	opts := r.socketOptions(address, ready)

	start := time.Now()
	sock, err := r.tr.Bind(ctx, address, opts)
	if err != nil {
		if errors.Is(err, transport.ErrBadAddress) {
			return nil, mqerrors.WrapWithCode(err, mqerrors.ErrCodeConfig, "invalid publisher address", mqerrors.WithAddress(address))
		}
		return nil, mqerrors.AddressInUse(address, mqerrors.WithCause(err))
	}

	ev, timedOut, err := await(ctx, ready, r.cfg.BindTimeout, publisherReady)
	if err != nil {
		sock.Close()
		return nil, mqerrors.Wrap(err, "waiting for publisher socket", mqerrors.WithAddress(address))
	}
	waited := time.Since(start)
	r.log.SocketBound(address, waited, timedOut)
	r.notify(ReadyEvent{Address: address, Role: RolePublisher, Event: ev, Waited: waited, TimedOut: timedOut})

	if err := settle(ctx, r.cfg.PublisherSettle); err != nil {
		sock.Close()
		return nil, mqerrors.Wrap(err, "settling publisher socket", mqerrors.WithAddress(address))
	}
	return &sharedPub{sock: sock}, nil
}

// Subscriber connects a new socket to address, filtered on the filter
// prefix. The caller owns the socket and must close it.
func (r *Registry) Subscriber(ctx context.Context, address, filter string) (transport.SubSocket, error) {
	if address == "" {
		return nil, mqerrors.Config("subscriber address must not be empty")
	}
	if r.isClosed() {
		return nil, mqerrors.Closed("registry is closed", mqerrors.WithAddress(address))
	}

	ready := make(chan transport.Event, 8)
	opts := r.socketOptions(address, ready)

	r.transition(address, RoleSubscriber, StateConnecting)
	start := time.Now()
	sock, err := r.tr.Connect(ctx, address, opts)
	if err != nil {
		r.transition(address, RoleSubscriber, StateUnconnected)
		if errors.Is(err, transport.ErrBadAddress) {
			return nil, mqerrors.WrapWithCode(err, mqerrors.ErrCodeConfig, "invalid subscriber address", mqerrors.WithAddress(address))
		}
		return nil, mqerrors.ConnectFailed(address, mqerrors.WithCause(err))
	}

	ev, timedOut, err := await(ctx, ready, r.cfg.ConnectTimeout, subscriberReady)
	if err != nil {
		sock.Close()
		return nil, mqerrors.Wrap(err, "waiting for subscriber socket", mqerrors.WithAddress(address))
	}
	if err := sock.Subscribe(filter); err != nil {
		sock.Close()
		return nil, mqerrors.WrapWithCode(err, mqerrors.ErrCodeConnectFailed, "applying topic filter",
			mqerrors.WithAddress(address), mqerrors.WithTopic(filter))
	}
	waited := time.Since(start)
	r.log.SocketConnected(address, filter, waited, timedOut)
	r.notify(ReadyEvent{Address: address, Role: RoleSubscriber, Event: ev, Waited: waited, TimedOut: timedOut})

	if err := settle(ctx, r.cfg.SubscriberSettle); err != nil {
		sock.Close()
		return nil, mqerrors.Wrap(err, "settling subscriber socket", mqerrors.WithAddress(address))
	}

	h := &subHandle{SubSocket: sock, reg: r}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sock.Close()
		return nil, mqerrors.Closed("registry is closed", mqerrors.WithAddress(address))
	}
	r.subs[h] = struct{}{}
	r.mu.Unlock()
	r.transition(address, RoleSubscriber, StateReady)
	return h, nil
}

func (r *Registry) transition(address string, role Role, state State) {
	r.log.Debug("socket_state", map[string]interface{}{
		"address": address,
		"role":    string(role),
		"state":   state.String(),
	})
}

func (r *Registry) socketOptions(address string, ready chan<- transport.Event) transport.Options {
	return transport.Options{
		HighWaterMark: r.cfg.HighWaterMark,
		Ready: func(ev transport.Event) {
			r.log.ReadyEvent(address, string(ev))
			select {
			case ready <- ev:
			default:
			}
		},
	}
}

func (r *Registry) notify(ev ReadyEvent) {
	if r.hook != nil {
		r.hook(ev)
	}
}

func publisherReady(ev transport.Event) bool {
	return ev == transport.EventListening || ev == transport.EventAccepted
}

func subscriberReady(ev transport.Event) bool {
	return ev == transport.EventConnected || ev == transport.EventRetrying
}

// await blocks until an accepted readiness event arrives or timeout passes.
// A timeout is not an error.
func await(ctx context.Context, ready <-chan transport.Event, timeout time.Duration, accept func(transport.Event) bool) (transport.Event, bool, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		select {
		case ev := <-ready:
			if accept(ev) {
				return ev, false, nil
			}
		case <-expired:
			return "", true, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports the sockets the registry currently owns.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{Transport: r.tr.Name(), Subscribers: len(r.subs)}
	for _, e := range r.pubs {
		if e.sock != nil {
			s.Publishers++
		}
	}
	return s
}

// Close releases every socket the registry still owns. Later calls to
// Publisher or Subscriber fail with a CLOSED error.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pubs := r.pubs
	subs := r.subs
	r.pubs = make(map[string]*pubEntry)
	r.subs = make(map[*subHandle]struct{})
	r.mu.Unlock()

	var errs []error
	for _, e := range pubs {
		e.mu.Lock()
		e.discarded = true
		if e.sock != nil {
			if err := e.sock.release(); err != nil {
				errs = append(errs, err)
			}
		}
		e.mu.Unlock()
	}
	for h := range subs {
		if err := h.SubSocket.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sharedPub serializes multipart sends on a pooled publisher socket.
type sharedPub struct {
	mu   sync.Mutex
	sock transport.PubSocket
}

// Send implements transport.PubSocket.
func (p *sharedPub) Send(frames [][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sock.Send(frames)
}

// Close is a no-op; the registry owns the socket.
func (p *sharedPub) Close() error { return nil }

func (p *sharedPub) release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sock.Close()
}

// subHandle forgets itself in the registry when closed.
type subHandle struct {
	transport.SubSocket
	reg  *Registry
	once sync.Once
}

// Close implements transport.SubSocket.
func (h *subHandle) Close() error {
	var err error
	h.once.Do(func() {
		h.reg.mu.Lock()
		delete(h.reg.subs, h)
		h.reg.mu.Unlock()
		err = h.SubSocket.Close()
	})
	return err
}
