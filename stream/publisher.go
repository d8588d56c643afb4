package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vinayprograms/rxmq/codec"
	"github.com/vinayprograms/rxmq/envelope"
	mqerrors "github.com/vinayprograms/rxmq/errors"
	"github.com/vinayprograms/rxmq/exception"
	"github.com/vinayprograms/rxmq/logging"
	"github.com/vinayprograms/rxmq/registry"
	"github.com/vinayprograms/rxmq/telemetry"
	"github.com/vinayprograms/rxmq/transport"
)

// Publisher pushes events of type T to one Endpoint. It is safe for
// concurrent use.
type Publisher[T any] struct {
	reg    *registry.Registry
	ep     Endpoint
	codec  codec.Codec
	log    *logging.Logger
	tracer *telemetry.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	sock   transport.PubSocket
	closed bool
}

// NewPublisher creates a publisher for ep. With EagerPublisher the socket is
// bound before NewPublisher returns.
func NewPublisher[T any](reg *registry.Registry, ep Endpoint, opts ...Option) (*Publisher[T], error) {
	if reg == nil {
		return nil, mqerrors.Config("publisher needs a registry")
	}
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.mode == EagerSubscriber {
		return nil, mqerrors.Config("a publisher cannot set up a subscriber eagerly; use Lazy or EagerPublisher")
	}
	ep, err = resolveEndpoint[T](ep)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(o.ctx)
	p := &Publisher[T]{
		reg:    reg,
		ep:     ep,
		codec:  o.codec,
		log:    o.log.WithComponent("publisher").WithAddress(ep.Address),
		tracer: o.tracer,
		ctx:    ctx,
		cancel: cancel,
	}

	if o.mode == EagerPublisher {
		if _, err := p.socket(); err != nil {
			cancel()
			return nil, err
		}
	}
	return p, nil
}

// Endpoint returns the publisher's endpoint with its resolved topic.
func (p *Publisher[T]) Endpoint() Endpoint {
	return p.ep
}

// socket returns the registry socket, binding it on first use.
func (p *Publisher[T]) socket() (transport.PubSocket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, mqerrors.Closed(fmt.Sprintf("publisher for %s is closed", p.ep), mqerrors.WithTopic(p.ep.Topic))
	}
	if p.sock == nil {
		sock, err := p.reg.Publisher(p.ctx, p.ep.Address)
		if err != nil {
			return nil, err
		}
		p.sock = sock
	}
	return p.sock, nil
}

// PushNext encodes v and sends it. It returns once the message is handed to
// the transport.
//
// When the codec cannot encode v, the failure is first sent to remote
// observers as an error event and then returned. Only the send is ordered
// before the return: observers, including those of a Subject's own
// subscriber, receive the event on their receive goroutine and may see it
// after PushNext has returned.
func (p *Publisher[T]) PushNext(v T) error {
	sock, err := p.socket()
	if err != nil {
		return err
	}

	payload, err := p.codec.Marshal(v)
	if err != nil {
		var encErr *mqerrors.Error
		if errors.Is(err, codec.ErrUnsupportedType) {
			encErr = mqerrors.UnsupportedType(fmt.Sprintf("%T", v), p.codec.Name(),
				mqerrors.WithCause(err), mqerrors.WithTopic(p.ep.Topic))
		} else {
			encErr = mqerrors.WrapWithCode(err, mqerrors.ErrCodeSerialization,
				fmt.Sprintf("encoding %T with %s", v, p.codec.Name()), mqerrors.WithTopic(p.ep.Topic))
		}
		p.log.Warn("encode_failed", map[string]interface{}{
			"topic": p.ep.Topic,
			"error": encErr.Error(),
		})
		if pushErr := p.PushError(encErr); pushErr != nil {
			return mqerrors.Join(encErr, pushErr)
		}
		return encErr
	}

	return p.send(sock, envelope.Next(p.ep.Topic, payload))
}

// PushError sends err to remote observers.
func (p *Publisher[T]) PushError(err error) error {
	if err == nil {
		return mqerrors.Config("PushError needs a non-nil error")
	}
	sock, sockErr := p.socket()
	if sockErr != nil {
		return sockErr
	}
	encoded, encErr := exception.Encode(err)
	if encErr != nil {
		return encErr
	}
	return p.send(sock, envelope.Error(p.ep.Topic, err.Error(), encoded))
}

// PushCompleted signals the end of the stream. Remote subscribers stop
// after it; this publisher does not reject later pushes.
func (p *Publisher[T]) PushCompleted() error {
	sock, err := p.socket()
	if err != nil {
		return err
	}
	return p.send(sock, envelope.Completed(p.ep.Topic))
}

// Ping sends a connectivity probe. Subscribers never surface it.
func (p *Publisher[T]) Ping() error {
	sock, err := p.socket()
	if err != nil {
		return err
	}
	return p.send(sock, envelope.Ping(p.ep.Topic))
}

func (p *Publisher[T]) send(sock transport.PubSocket, env envelope.Envelope) error {
	spanOpts := telemetry.StreamSpanOptions{
		Address: p.ep.Address,
		Topic:   env.Topic,
		Kind:    env.Kind.String(),
		Bytes:   len(env.Payload),
	}
	_, span := p.tracer.StartPublishSpan(p.ctx, spanOpts)

	frames, err := env.Frames()
	if err == nil {
		err = sock.Send(frames)
		if errors.Is(err, transport.ErrClosed) {
			err = mqerrors.Closed(fmt.Sprintf("publisher socket for %s is closed", p.ep.Address),
				mqerrors.WithCause(err), mqerrors.WithAddress(p.ep.Address))
		} else if err != nil {
			err = mqerrors.Wrap(err, "sending envelope", mqerrors.WithAddress(p.ep.Address), mqerrors.WithTopic(env.Topic))
		}
	}
	p.tracer.EndStreamSpan(span, spanOpts, -1, err)
	return err
}

// Close releases the publisher. The underlying socket belongs to the
// registry and stays bound for other publishers on the same address. Later
// pushes fail with a CLOSED error.
func (p *Publisher[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.sock = nil
	p.cancel()
	return nil
}
