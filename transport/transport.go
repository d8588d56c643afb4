package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	ErrClosed       = errors.New("socket closed")
	ErrAddressInUse = errors.New("address already in use")
	ErrBadAddress   = errors.New("invalid address")
)

// DefaultHighWaterMark is the number of messages queued per socket before
// further messages are dropped.
const DefaultHighWaterMark = 2000 * 1000

// Event is a readiness signal raised by a transport.
type Event string

const (
	// EventListening fires when a publisher socket accepts connections.
	EventListening Event = "listening"

	// EventAccepted fires when a publisher socket accepts a peer.
	EventAccepted Event = "accepted"

	// EventConnected fires when a subscriber socket completes its handshake.
	EventConnected Event = "connected"

	// EventRetrying fires when a subscriber socket retries its connection.
	EventRetrying Event = "retrying"
)

// Options configures a socket.
type Options struct {
	// HighWaterMark bounds the send or receive queue, in messages.
	// Default: DefaultHighWaterMark
	HighWaterMark int

	// Ready, when set, receives readiness events. It may be called from any
	// goroutine and more than once.
	Ready func(Event)
}

func (o Options) hwm() int {
	if o.HighWaterMark <= 0 {
		return DefaultHighWaterMark
	}
	return o.HighWaterMark
}

func (o Options) signal(e Event) {
	if o.Ready != nil {
		o.Ready(e)
	}
}

// PubSocket sends multipart messages to every connected subscriber whose
// filter matches the first frame.
type PubSocket interface {
	// Send hands one message to the transport. It returns once the message
	// is queued, not when it is delivered.
	Send(frames [][]byte) error

	// Close releases the socket.
	Close() error
}

// SubSocket receives multipart messages.
type SubSocket interface {
	// Subscribe adds a prefix filter on the first frame.
	Subscribe(prefix string) error

	// Recv blocks until a message arrives or the socket is closed, in which
	// case it returns ErrClosed.
	Recv() ([][]byte, error)

	// Close releases the socket and unblocks a pending Recv.
	Close() error
}

// Transport creates sockets.
type Transport interface {
	// Name identifies the transport, e.g. "zmq".
	Name() string

	// Bind creates a publisher socket listening on address.
	Bind(ctx context.Context, address string, opts Options) (PubSocket, error)

	// Connect creates a subscriber socket connected to address.
	Connect(ctx context.Context, address string, opts Options) (SubSocket, error)
}

// ValidateAddress checks an address is usable by any transport.
func ValidateAddress(address string) error {
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("%w: address must not be empty", ErrBadAddress)
	}
	return nil
}

// matches reports whether topic frame passes any of the prefix filters.
func matches(filters []string, frames [][]byte) bool {
	if len(frames) == 0 {
		return false
	}
	for _, f := range filters {
		if strings.HasPrefix(string(frames[0]), f) {
			return true
		}
	}
	return false
}
