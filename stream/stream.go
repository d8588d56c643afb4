package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/rxmq/codec"
	mqerrors "github.com/vinayprograms/rxmq/errors"
	"github.com/vinayprograms/rxmq/logging"
	"github.com/vinayprograms/rxmq/telemetry"
	"github.com/vinayprograms/rxmq/topic"
)

// Default timeouts.
const (
	DefaultStartTimeout = 3 * time.Second
	DefaultJoinTimeout  = 30 * time.Second
)

// Endpoint identifies one logical channel. Many topics may share an address.
type Endpoint struct {
	Address string

	// Topic is the channel identifier. Identifiers longer than
	// topic.MaxLength bytes are shortened by topic.Resolve. When empty the
	// payload type must implement topic.Tagger.
	Topic string
}

func (e Endpoint) String() string {
	return e.Address + "#" + e.Topic
}

// resolveEndpoint validates ep and resolves its wire topic for payload T.
func resolveEndpoint[T any](ep Endpoint) (Endpoint, error) {
	if strings.TrimSpace(ep.Address) == "" {
		return Endpoint{}, mqerrors.Config("endpoint address must not be empty")
	}
	var (
		resolved string
		err      error
	)
	if ep.Topic != "" {
		resolved, err = topic.Resolve(ep.Topic)
	} else {
		resolved, err = topic.For[T]()
	}
	if err != nil {
		return Endpoint{}, mqerrors.Wrap(err, fmt.Sprintf("resolving topic for %s", ep.Address),
			mqerrors.WithAddress(ep.Address))
	}
	ep.Topic = resolved
	return ep, nil
}

// Observer receives stream events. OnNext is required; OnError and
// OnCompleted may be nil.
type Observer[T any] struct {
	OnNext      func(T)
	OnError     func(error)
	OnCompleted func()
}

// Mode selects when sockets are set up.
type Mode int

const (
	// Lazy sets sockets up on first use.
	Lazy Mode = iota

	// EagerPublisher binds the publisher socket during construction.
	EagerPublisher

	// EagerSubscriber connects the subscriber socket and starts the
	// receive goroutine during construction.
	EagerSubscriber
)

func (m Mode) String() string {
	switch m {
	case Lazy:
		return "lazy"
	case EagerPublisher:
		return "eager-publisher"
	case EagerSubscriber:
		return "eager-subscriber"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) valid() bool {
	return m >= Lazy && m <= EagerSubscriber
}

type options struct {
	ctx          context.Context
	codec        codec.Codec
	log          *logging.Logger
	tracer       *telemetry.Tracer
	mode         Mode
	startTimeout time.Duration
	joinTimeout  time.Duration
}

// Option configures a Publisher, Subscriber or Subject.
type Option func(*options)

// WithContext sets the parent context. Canceling it aborts socket setup and
// stops the receive goroutine.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// WithCodec sets the payload codec. Default: msgpack.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTracer sets the tracer. Default: telemetry.GetTracer().
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithMode sets the connection mode. Default: Lazy.
func WithMode(m Mode) Option {
	return func(o *options) {
		o.mode = m
	}
}

// WithStartTimeout bounds the wait for the receive goroutine to start.
func WithStartTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.startTimeout = d
		}
	}
}

// WithJoinTimeout bounds the wait for the receive goroutine to exit on Close.
func WithJoinTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.joinTimeout = d
		}
	}
}

func newOptions(opts []Option) (options, error) {
	o := options{
		ctx:          context.Background(),
		codec:        codec.Default(),
		log:          logging.Nop(),
		startTimeout: DefaultStartTimeout,
		joinTimeout:  DefaultJoinTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = telemetry.GetTracer()
	}
	if !o.mode.valid() {
		return o, mqerrors.Config(fmt.Sprintf("unknown connection mode %s", o.mode))
	}
	return o, nil
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	once    sync.Once
	dispose func()
}

// Dispose removes the subscription's observer. Other observers and the
// receive goroutine are unaffected. Safe to call more than once.
func (s *Subscription) Dispose() {
	s.once.Do(s.dispose)
}
