package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Memory implements Transport with in-process queues. Addresses are plain
// names; a Memory value is one isolated network, so two registries sharing
// it see each other's sockets. Useful for testing and single-process use.
type Memory struct {
	mu   sync.Mutex
	hubs map[string]*memoryHub
}

// NewMemory creates an empty in-process network.
func NewMemory() *Memory {
	return &Memory{hubs: make(map[string]*memoryHub)}
}

// memoryHub is the rendezvous for one address. Subscribers may attach
// before a publisher binds, as with connect-before-bind on a real socket.
type memoryHub struct {
	mu    sync.RWMutex
	bound bool
	subs  []*memorySub
}

// Name implements Transport.
func (m *Memory) Name() string { return "memory" }

func (m *Memory) hub(address string) *memoryHub {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hubs[address]
	if !ok {
		h = &memoryHub{}
		m.hubs[address] = h
	}
	return h
}

// Bind implements Transport.
func (m *Memory) Bind(ctx context.Context, address string, opts Options) (PubSocket, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := m.hub(address)

	h.mu.Lock()
	if h.bound {
		h.mu.Unlock()
		return nil, fmt.Errorf("memory bind %q: %w", address, ErrAddressInUse)
	}
	h.bound = true
	h.mu.Unlock()

	opts.signal(EventListening)
	return &memoryPub{hub: h}, nil
}

// Connect implements Transport.
func (m *Memory) Connect(ctx context.Context, address string, opts Options) (SubSocket, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := m.hub(address)
	sub := &memorySub{hub: h, hwm: opts.hwm()}
	sub.cond = sync.NewCond(&sub.mu)

	h.mu.Lock()
	h.subs = append(h.subs, sub)
	h.mu.Unlock()

	opts.signal(EventConnected)
	return sub, nil
}

type memoryPub struct {
	hub    *memoryHub
	closed atomic.Bool
}

// Send delivers to every attached subscriber whose filter matches.
func (p *memoryPub) Send(frames [][]byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.hub.mu.RLock()
	subs := p.hub.subs
	p.hub.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(frames)
	}
	return nil
}

// Close releases the address so it can be bound again.
func (p *memoryPub) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.hub.mu.Lock()
	p.hub.bound = false
	p.hub.mu.Unlock()
	return nil
}

type memorySub struct {
	hub *memoryHub
	hwm int

	mu      sync.Mutex
	cond    *sync.Cond
	filters []string
	queue   [][][]byte
	closed  bool
	dropped uint64
}

// Subscribe implements SubSocket.
func (s *memorySub) Subscribe(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.filters = append(s.filters, prefix)
	return nil
}

func (s *memorySub) deliver(frames [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !matches(s.filters, frames) {
		return
	}
	if len(s.queue) >= s.hwm {
		s.dropped++
		return
	}
	s.queue = append(s.queue, frames)
	s.cond.Signal()
}

// Recv implements SubSocket.
func (s *memorySub) Recv() ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil, ErrClosed
	}
	frames := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return frames, nil
}

// Dropped returns how many messages were discarded at the high-water mark.
func (s *memorySub) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close implements SubSocket.
func (s *memorySub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	for i, sub := range s.hub.subs {
		if sub == s {
			s.hub.subs = append(s.hub.subs[:i:i], s.hub.subs[i+1:]...)
			break
		}
	}
	return nil
}
