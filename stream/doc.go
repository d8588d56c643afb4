// Package stream provides typed publish/subscribe endpoints over a
// transport registry.
//
// # Overview
//
// A Publisher pushes lifecycle events (next value, error, completion) for
// one Endpoint. A Subscriber receives them on a dedicated goroutine and fans
// each event out to its registered observers in registration order. A
// Subject is a Publisher and a Subscriber sharing one Endpoint.
//
//	reg := registry.New(transport.NewZMQ(transport.DefaultZMQConfig()), registry.DefaultConfig())
//	defer reg.Close()
//
//	ep := stream.Endpoint{Address: "tcp://127.0.0.1:56001", Topic: "prices"}
//	sub, _ := stream.NewSubscriber[Quote](reg, ep)
//	sub.Subscribe(stream.Observer[Quote]{
//	    OnNext:  func(q Quote) { fmt.Println(q) },
//	    OnError: func(err error) { log.Println(err) },
//	})
//
//	pub, _ := stream.NewPublisher[Quote](reg, ep)
//	pub.PushNext(Quote{Symbol: "ACME", Bid: 10.5})
//
// # Delivery
//
// Delivery is best effort: values pushed before a subscriber has connected
// are lost, and there is no replay. Events from one Publisher reach one
// Subscriber in the order they were pushed.
//
// # Errors
//
// Errors raised by a call are returned to its caller. Failures inside the
// receive goroutine (undecodable payloads, protocol desync, transport
// failures, panics in callbacks) are delivered to every observer's OnError
// and end the stream. An observer without OnError silently drops errors.
//
// # Observers
//
// Callbacks run on the receive goroutine, outside the observer lock, so
// they may subscribe or dispose re-entrantly. A subscription disposed while
// an event is being dispatched may still see that one event. Callbacks must
// not call Subscriber.Close; dispose the subscription instead.
package stream
