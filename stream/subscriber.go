package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/rxmq/codec"
	"github.com/vinayprograms/rxmq/envelope"
	mqerrors "github.com/vinayprograms/rxmq/errors"
	"github.com/vinayprograms/rxmq/exception"
	"github.com/vinayprograms/rxmq/logging"
	"github.com/vinayprograms/rxmq/registry"
	"github.com/vinayprograms/rxmq/telemetry"
	"github.com/vinayprograms/rxmq/transport"
)

type loopState int

const (
	loopIdle loopState = iota
	loopRunning
	loopStopped
)

// observerEntry gives each Subscribe call its own identity, so disposing
// one observer never removes another registered with equal callbacks.
type observerEntry[T any] struct {
	obs Observer[T]
}

// Subscriber receives events of type T for one Endpoint and fans them out to
// its observers. One goroutine per Subscriber reads from its own socket.
type Subscriber[T any] struct {
	reg    *registry.Registry
	ep     Endpoint
	id     string
	codec  codec.Codec
	log    *logging.Logger
	tracer *telemetry.Tracer

	startTimeout time.Duration
	joinTimeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// initMu guards the loop state machine.
	initMu sync.Mutex
	state  loopState
	sock   transport.SubSocket

	// mu guards the observer set. Slices are replaced, never mutated in
	// place, so dispatch can iterate a snapshot without the lock.
	mu        sync.Mutex
	observers []*observerEntry[T]
	frozen    bool

	done     chan struct{}
	doneOnce sync.Once
	received atomic.Uint64
}

// NewSubscriber creates a subscriber for ep. With EagerSubscriber the socket
// is connected and the receive goroutine started before NewSubscriber
// returns.
func NewSubscriber[T any](reg *registry.Registry, ep Endpoint, opts ...Option) (*Subscriber[T], error) {
	if reg == nil {
		return nil, mqerrors.Config("subscriber needs a registry")
	}
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.mode == EagerPublisher {
		return nil, mqerrors.Config("a subscriber cannot set up a publisher eagerly; use Lazy or EagerSubscriber")
	}
	ep, err = resolveEndpoint[T](ep)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(o.ctx)
	s := &Subscriber[T]{
		reg:          reg,
		ep:           ep,
		id:           uuid.NewString(),
		codec:        o.codec,
		log:          o.log.WithComponent("subscriber").WithAddress(ep.Address),
		tracer:       o.tracer,
		startTimeout: o.startTimeout,
		joinTimeout:  o.joinTimeout,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	if o.mode == EagerSubscriber {
		if err := s.start(); err != nil {
			cancel()
			return nil, err
		}
	}
	return s, nil
}

// Endpoint returns the subscriber's endpoint with its resolved topic.
func (s *Subscriber[T]) Endpoint() Endpoint {
	return s.ep
}

// Done is closed when the receive goroutine has exited, or when the
// subscriber is closed before it ever started.
func (s *Subscriber[T]) Done() <-chan struct{} {
	return s.done
}

// HasObservers reports whether any observer is registered.
func (s *Subscriber[T]) HasObservers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers) > 0
}

// Subscribe registers obs, starting the receive goroutine on first use.
// Subscribing after the stream has completed or failed returns a CLOSED
// error.
func (s *Subscriber[T]) Subscribe(obs Observer[T]) (*Subscription, error) {
	if obs.OnNext == nil {
		return nil, mqerrors.Config("observer must have an OnNext callback", mqerrors.WithTopic(s.ep.Topic))
	}
	if err := s.start(); err != nil {
		return nil, err
	}

	entry := &observerEntry[T]{obs: obs}
	s.mu.Lock()
	if s.frozen {
		s.mu.Unlock()
		return nil, mqerrors.Closed(fmt.Sprintf("subscriber for %s has terminated", s.ep), mqerrors.WithTopic(s.ep.Topic))
	}
	next := make([]*observerEntry[T], len(s.observers), len(s.observers)+1)
	copy(next, s.observers)
	s.observers = append(next, entry)
	s.mu.Unlock()

	return &Subscription{dispose: func() { s.remove(entry) }}, nil
}

func (s *Subscriber[T]) remove(entry *observerEntry[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.observers {
		if e == entry {
			next := make([]*observerEntry[T], 0, len(s.observers)-1)
			next = append(next, s.observers[:i]...)
			s.observers = append(next, s.observers[i+1:]...)
			return
		}
	}
}

// snapshot returns the current observers.
func (s *Subscriber[T]) snapshot() []*observerEntry[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observers
}

// freeze clears the observer set, blocks later subscriptions and returns
// the observers that were registered.
func (s *Subscriber[T]) freeze() []*observerEntry[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	obs := s.observers
	s.observers = nil
	s.frozen = true
	return obs
}

// start connects the socket and launches the receive goroutine once.
func (s *Subscriber[T]) start() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	switch s.state {
	case loopRunning:
		return nil
	case loopStopped:
		return mqerrors.Closed(fmt.Sprintf("subscriber for %s is closed", s.ep), mqerrors.WithTopic(s.ep.Topic))
	}

	sock, err := s.reg.Subscriber(s.ctx, s.ep.Address, s.ep.Topic)
	if err != nil {
		return err
	}

	// Parent cancellation must reach a Recv that is blocked.
	context.AfterFunc(s.ctx, func() { sock.Close() })

	started := make(chan struct{})
	go s.loop(sock, started)

	timer := time.NewTimer(s.startTimeout)
	defer timer.Stop()
	select {
	case <-started:
	case <-timer.C:
		s.cancel()
		sock.Close()
		s.state = loopStopped
		return mqerrors.Timeout(fmt.Sprintf("receive goroutine for %s did not start within %s", s.ep, s.startTimeout),
			mqerrors.WithTopic(s.ep.Topic))
	}

	s.sock = sock
	s.state = loopRunning
	return nil
}

// loop receives until completion, cancellation or a fatal error.
func (s *Subscriber[T]) loop(sock transport.SubSocket, started chan<- struct{}) {
	var exitErr error
	defer func() {
		s.teardown(sock, exitErr)
	}()

	s.log.LoopStarted(s.ep.Topic, s.id)
	close(started)

	for {
		if s.ctx.Err() != nil {
			return
		}

		frames, err := sock.Recv()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, transport.ErrClosed) {
				exitErr = mqerrors.Closed(fmt.Sprintf("subscriber socket for %s was closed", s.ep.Address),
					mqerrors.WithCause(err), mqerrors.WithAddress(s.ep.Address), mqerrors.WithTopic(s.ep.Topic))
			} else {
				exitErr = mqerrors.Wrap(err, "receiving frames", mqerrors.WithAddress(s.ep.Address), mqerrors.WithTopic(s.ep.Topic))
			}
			s.fail(exitErr)
			return
		}
		s.received.Add(1)

		stop, err := s.handle(frames)
		if err != nil {
			exitErr = err
			s.fail(err)
			return
		}
		if stop {
			return
		}
	}
}

// handle dispatches one message. stop is set after a completion; err is set
// for failures that end the stream.
func (s *Subscriber[T]) handle(frames [][]byte) (stop bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			stop = true
			err = mqerrors.New(mqerrors.ErrCodePanic, fmt.Sprintf("observer callback panicked: %v", r),
				mqerrors.WithTopic(s.ep.Topic))
		}
	}()

	env, err := envelope.Parse(frames, s.ep.Topic)
	if errors.Is(err, envelope.ErrForeignTopic) {
		s.log.Dropped(s.ep.Topic, fmt.Sprintf("topic %q extends ours", env.Topic))
		return false, nil
	}
	if err != nil {
		return true, err
	}

	spanOpts := telemetry.StreamSpanOptions{
		Address: s.ep.Address,
		Topic:   env.Topic,
		Kind:    env.Kind.String(),
		Bytes:   len(env.Payload),
	}
	_, span := s.tracer.StartDispatchSpan(s.ctx, spanOpts)
	observers := -1
	defer func() {
		s.tracer.EndStreamSpan(span, spanOpts, observers, err)
	}()

	switch env.Kind {
	case envelope.KindNext:
		var v T
		if decErr := s.codec.Unmarshal(env.Payload, &v); decErr != nil {
			return true, mqerrors.WrapWithCode(decErr, mqerrors.ErrCodeSerialization,
				fmt.Sprintf("decoding %T with %s", v, s.codec.Name()), mqerrors.WithTopic(s.ep.Topic))
		}
		obs := s.snapshot()
		observers = len(obs)
		for _, e := range obs {
			e.obs.OnNext(v)
		}

	case envelope.KindError:
		remote := exception.Reconstruct(env.Text, env.Payload)
		obs := s.snapshot()
		observers = len(obs)
		for _, e := range obs {
			if e.obs.OnError != nil {
				e.obs.OnError(remote)
			}
		}

	case envelope.KindCompleted:
		obs := s.freeze()
		observers = len(obs)
		s.cancel()
		for _, e := range obs {
			if e.obs.OnCompleted != nil {
				e.obs.OnCompleted()
			}
		}
		return true, nil

	case envelope.KindPing:
		// Connectivity probe; never surfaced.
	}
	return false, nil
}

// fail delivers err to every current observer and freezes the set.
func (s *Subscriber[T]) fail(err error) {
	for _, e := range s.freeze() {
		if e.obs.OnError == nil {
			continue
		}
		s.safeCall(func() { e.obs.OnError(err) })
	}
}

func (s *Subscriber[T]) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("observer_panic", map[string]interface{}{
				"topic": s.ep.Topic,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	fn()
}

func (s *Subscriber[T]) teardown(sock transport.SubSocket, err error) {
	s.freeze()
	s.cancel()
	sock.Close()
	s.log.LoopExited(s.ep.Topic, s.id, s.received.Load(), err)
	s.doneOnce.Do(func() { close(s.done) })
}

// Close clears the observers, stops the receive goroutine and waits up to
// the join timeout for it to exit. Expiry returns a TEARDOWN error.
func (s *Subscriber[T]) Close() error {
	s.initMu.Lock()
	prev := s.state
	s.state = loopStopped
	sock := s.sock
	s.initMu.Unlock()

	s.freeze()
	s.cancel()

	if prev != loopRunning {
		if prev == loopIdle {
			s.doneOnce.Do(func() { close(s.done) })
		}
		return nil
	}

	// Recv cannot observe cancellation; closing the socket unblocks it.
	sock.Close()

	timer := time.NewTimer(s.joinTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return nil
	case <-timer.C:
		return mqerrors.Teardown(
			fmt.Sprintf("receive goroutine for %s did not exit within %s", s.ep, s.joinTimeout),
			mqerrors.WithTopic(s.ep.Topic), mqerrors.WithAddress(s.ep.Address))
	}
}
