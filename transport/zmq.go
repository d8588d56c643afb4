package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
)

// ZMQConfig holds ZeroMQ socket configuration.
type ZMQConfig struct {
	// DialRetry is the wait between subscriber connection attempts.
	// Default: 250ms
	DialRetry time.Duration
}

// DefaultZMQConfig returns configuration with sensible defaults.
func DefaultZMQConfig() ZMQConfig {
	return ZMQConfig{
		DialRetry: 250 * time.Millisecond,
	}
}

// ZMQ implements Transport with ZeroMQ PUB/SUB sockets. Addresses are
// ZeroMQ endpoints such as "tcp://127.0.0.1:56001" or "ipc:///tmp/feed".
type ZMQ struct {
	config ZMQConfig
}

// NewZMQ creates a ZeroMQ transport.
func NewZMQ(cfg ZMQConfig) *ZMQ {
	if cfg.DialRetry <= 0 {
		cfg.DialRetry = DefaultZMQConfig().DialRetry
	}
	return &ZMQ{config: cfg}
}

// Name implements Transport.
func (z *ZMQ) Name() string { return "zmq" }

func socketID() zmq4.Option {
	return zmq4.WithID(zmq4.SocketIdentity(uuid.NewString()))
}

// Bind implements Transport. The listening event fires once the listener is
// accepting connections.
func (z *ZMQ) Bind(ctx context.Context, address string, opts Options) (PubSocket, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The socket outlives ctx, which only bounds setup.
	sck := zmq4.NewPub(context.Background(), socketID())
	// Best effort: older sockets ignore the high-water mark option.
	_ = sck.SetOption(zmq4.OptionHWM, opts.hwm())

	if err := sck.Listen(address); err != nil {
		sck.Close()
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("zmq bind %q: %w: %v", address, ErrAddressInUse, err)
		}
		return nil, fmt.Errorf("zmq bind %q: %w", address, err)
	}
	opts.signal(EventListening)

	return &zmqPub{sck: sck}, nil
}

// Connect implements Transport. Like a native ZeroMQ connect it does not
// wait for the publisher: the socket dials in the background, retrying until
// a peer is bound or the socket is closed. EventRetrying fires at once and
// EventConnected once the dial succeeds. Subscriptions made before then are
// sent when the connection comes up.
func (z *ZMQ) Connect(ctx context.Context, address string, opts Options) (SubSocket, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sck := zmq4.NewSub(context.Background(), socketID(),
		zmq4.WithDialerRetry(z.config.DialRetry),
		zmq4.WithDialerMaxRetries(-1))
	_ = sck.SetOption(zmq4.OptionHWM, opts.hwm())

	sub := &zmqSub{sck: sck, dialed: make(chan struct{})}
	opts.signal(EventRetrying)
	go func() {
		defer close(sub.dialed)
		if err := sck.Dial(address); err != nil {
			sub.dialErr.Store(&err)
			return
		}
		opts.signal(EventConnected)
	}()

	return sub, nil
}

// zmqPub serializes sends: a ZeroMQ socket is not safe for concurrent
// multipart writes.
type zmqPub struct {
	mu     sync.Mutex
	sck    zmq4.Socket
	closed atomic.Bool
}

// Send implements PubSocket.
func (p *zmqPub) Send(frames [][]byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sck.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		return fmt.Errorf("zmq send: %w", err)
	}
	return nil
}

// Close implements PubSocket.
func (p *zmqPub) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.sck.Close()
}

type zmqSub struct {
	sck    zmq4.Socket
	closed atomic.Bool

	// dialed is closed when the background dial returns.
	dialed  chan struct{}
	dialErr atomic.Pointer[error]
}

// Subscribe implements SubSocket.
func (s *zmqSub) Subscribe(prefix string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.sck.SetOption(zmq4.OptionSubscribe, prefix); err != nil {
		return fmt.Errorf("zmq subscribe %q: %w", prefix, err)
	}
	return nil
}

// Recv implements SubSocket.
func (s *zmqSub) Recv() ([][]byte, error) {
	msg, err := s.sck.Recv()
	if err != nil {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		if dErr := s.dialErr.Load(); dErr != nil {
			return nil, fmt.Errorf("zmq connect: %w", *dErr)
		}
		return nil, fmt.Errorf("zmq recv: %w", err)
	}
	return msg.Frames, nil
}

// Close implements SubSocket.
func (s *zmqSub) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.sck.Close()
	// Closing cancels the socket context, which ends the dial loop.
	<-s.dialed
	return err
}
