// Package transport provides pluggable pub/sub socket transports.
//
// # Overview
//
// A Transport binds publisher sockets and connects subscriber sockets for an
// opaque address. Messages are multipart: a list of frames whose first frame
// is the topic. Subscribers filter on that frame by prefix.
//
// # Available Transports
//
//   - ZMQ: ZeroMQ PUB/SUB over tcp:// or ipc:// endpoints
//   - NATS: one NATS subject per address, frames packed with msgpack
//   - Memory: in-process queues (for tests and single-process use)
//
// # Usage
//
//	tr := transport.NewZMQ(transport.DefaultZMQConfig())
//	pub, err := tr.Bind(ctx, "tcp://127.0.0.1:56001", transport.Options{})
//	...
//	sub, err := tr.Connect(ctx, "tcp://127.0.0.1:56001", transport.Options{
//	    Ready: func(e transport.Event) { log.Println(e) },
//	})
//	sub.Subscribe("prices")
//	frames, err := sub.Recv()
//
// # Delivery
//
// Delivery is best effort. Messages sent before a subscriber has connected
// are lost, and each socket drops messages beyond its high-water mark.
//
// ZMQ subscribers may connect before any publisher is bound. Connect returns
// at once after signalling EventRetrying; the socket keeps dialing in the
// background and signals EventConnected when a publisher accepts it.
//
// # Thread Safety
//
// PubSocket.Send is safe for concurrent use. A SubSocket is read by one
// goroutine; Close may be called from any goroutine to unblock Recv.
package transport
