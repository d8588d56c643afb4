package stream

import (
	mqerrors "github.com/vinayprograms/rxmq/errors"
	"github.com/vinayprograms/rxmq/registry"
)

// Subject is a Publisher and a Subscriber on one Endpoint. Values pushed
// through a Subject reach its own observers as well as remote ones.
type Subject[T any] struct {
	pub *Publisher[T]
	sub *Subscriber[T]
}

// NewSubject creates both halves. EagerPublisher and EagerSubscriber apply
// to the matching half only.
func NewSubject[T any](reg *registry.Registry, ep Endpoint, opts ...Option) (*Subject[T], error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}

	pubMode, subMode := Lazy, Lazy
	switch o.mode {
	case EagerPublisher:
		pubMode = EagerPublisher
	case EagerSubscriber:
		subMode = EagerSubscriber
	}

	// The subscriber goes first so an eager subscriber is connected before
	// anything is pushed.
	sub, err := NewSubscriber[T](reg, ep, append(opts, WithMode(subMode))...)
	if err != nil {
		return nil, err
	}
	pub, err := NewPublisher[T](reg, ep, append(opts, WithMode(pubMode))...)
	if err != nil {
		sub.Close()
		return nil, err
	}
	return &Subject[T]{pub: pub, sub: sub}, nil
}

// Endpoint returns the subject's endpoint with its resolved topic.
func (s *Subject[T]) Endpoint() Endpoint { return s.pub.Endpoint() }

// Publisher returns the publishing half.
func (s *Subject[T]) Publisher() *Publisher[T] { return s.pub }

// Subscriber returns the subscribing half.
func (s *Subject[T]) Subscriber() *Subscriber[T] { return s.sub }

// Subscribe registers obs on the subscribing half.
func (s *Subject[T]) Subscribe(obs Observer[T]) (*Subscription, error) {
	return s.sub.Subscribe(obs)
}

// HasObservers reports whether the subscribing half has observers.
func (s *Subject[T]) HasObservers() bool { return s.sub.HasObservers() }

// Done is closed when the subscribing half's receive goroutine exits.
func (s *Subject[T]) Done() <-chan struct{} { return s.sub.Done() }

// PushNext sends v.
func (s *Subject[T]) PushNext(v T) error { return s.pub.PushNext(v) }

// PushError sends err.
func (s *Subject[T]) PushError(err error) error { return s.pub.PushError(err) }

// PushCompleted ends the stream.
func (s *Subject[T]) PushCompleted() error { return s.pub.PushCompleted() }

// Ping sends a connectivity probe.
func (s *Subject[T]) Ping() error { return s.pub.Ping() }

// Close closes both halves.
func (s *Subject[T]) Close() error {
	return mqerrors.Join(s.sub.Close(), s.pub.Close())
}
