package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqerrors "github.com/vinayprograms/rxmq/errors"
	"github.com/vinayprograms/rxmq/transport"
)

// fastConfig skips settle delays so tests run quickly.
func fastConfig() Config {
	return Config{
		BindTimeout:    time.Second,
		ConnectTimeout: time.Second,
	}
}

// countingTransport wraps a transport and counts binds and connects.
type countingTransport struct {
	transport.Transport
	binds    atomic.Int32
	connects atomic.Int32
	delay    time.Duration
}

func (c *countingTransport) Bind(ctx context.Context, address string, opts transport.Options) (transport.PubSocket, error) {
	c.binds.Add(1)
	time.Sleep(c.delay)
	return c.Transport.Bind(ctx, address, opts)
}

func (c *countingTransport) Connect(ctx context.Context, address string, opts transport.Options) (transport.SubSocket, error) {
	c.connects.Add(1)
	return c.Transport.Connect(ctx, address, opts)
}

// silentTransport never raises readiness events.
type silentTransport struct {
	transport.Transport
}

func (s silentTransport) Bind(ctx context.Context, address string, opts transport.Options) (transport.PubSocket, error) {
	opts.Ready = nil
	return s.Transport.Bind(ctx, address, opts)
}

func (s silentTransport) Connect(ctx context.Context, address string, opts transport.Options) (transport.SubSocket, error) {
	opts.Ready = nil
	return s.Transport.Connect(ctx, address, opts)
}

// failingTransport refuses binds until allowed.
type failingTransport struct {
	transport.Transport
	fail atomic.Bool
}

func (f *failingTransport) Bind(ctx context.Context, address string, opts transport.Options) (transport.PubSocket, error) {
	if f.fail.Load() {
		return nil, fmt.Errorf("bind %q: %w", address, transport.ErrAddressInUse)
	}
	return f.Transport.Bind(ctx, address, opts)
}

func (f *failingTransport) Connect(ctx context.Context, address string, opts transport.Options) (transport.SubSocket, error) {
	if f.fail.Load() {
		return nil, fmt.Errorf("connect %q: refused", address)
	}
	return f.Transport.Connect(ctx, address, opts)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.HighWaterMark != 2000000 {
		t.Errorf("HighWaterMark = %d", cfg.HighWaterMark)
	}
	if cfg.PublisherSettle != 650*time.Millisecond {
		t.Errorf("PublisherSettle = %v", cfg.PublisherSettle)
	}
	if cfg.SubscriberSettle != 500*time.Millisecond {
		t.Errorf("SubscriberSettle = %v", cfg.SubscriberSettle)
	}
	if cfg.BindTimeout != 3*time.Second || cfg.ConnectTimeout != 3*time.Second {
		t.Errorf("timeouts = %v / %v", cfg.BindTimeout, cfg.ConnectTimeout)
	}
}

func TestRegistry_PublisherIdempotent(t *testing.T) {
	r := New(transport.NewMemory(), fastConfig())
	defer r.Close()
	ctx := context.Background()

	a, err := r.Publisher(ctx, "feed")
	if err != nil {
		t.Fatalf("Publisher error: %v", err)
	}
	b, err := r.Publisher(ctx, "feed")
	if err != nil {
		t.Fatalf("Publisher error: %v", err)
	}
	if a != b {
		t.Error("same address should return the same socket")
	}

	c, err := r.Publisher(ctx, "other")
	if err != nil {
		t.Fatalf("Publisher error: %v", err)
	}
	if c == a {
		t.Error("different addresses should return different sockets")
	}

	if s := r.Stats(); s.Publishers != 2 || s.Transport != "memory" {
		t.Errorf("Stats = %+v", s)
	}
}

func TestRegistry_ConcurrentPublisherBindsOnce(t *testing.T) {
	tr := &countingTransport{Transport: transport.NewMemory(), delay: 20 * time.Millisecond}
	r := New(tr, fastConfig())
	defer r.Close()

	const callers = 16
	socks := make([]transport.PubSocket, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			socks[i], errs[i] = r.Publisher(context.Background(), "shared")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if socks[i] != socks[0] {
			t.Fatalf("caller %d got a different socket", i)
		}
	}
	if n := tr.binds.Load(); n != 1 {
		t.Errorf("binds = %d, want 1", n)
	}
}

func TestRegistry_PublisherCloseIsNoop(t *testing.T) {
	mem := transport.NewMemory()
	r := New(mem, fastConfig())
	defer r.Close()
	ctx := context.Background()

	pub, err := r.Publisher(ctx, "feed")
	if err != nil {
		t.Fatalf("Publisher error: %v", err)
	}
	sub, err := r.Subscriber(ctx, "feed", "T")
	if err != nil {
		t.Fatalf("Subscriber error: %v", err)
	}
	defer sub.Close()

	pub.Close()
	if err := pub.Send([][]byte{[]byte("T"), []byte("C")}); err != nil {
		t.Fatalf("Send after handle Close error: %v", err)
	}
	frames, err := sub.Recv()
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if string(frames[0]) != "T" {
		t.Errorf("topic = %q", frames[0])
	}
}

func TestRegistry_BindFailure(t *testing.T) {
	tr := &failingTransport{Transport: transport.NewMemory()}
	tr.fail.Store(true)
	r := New(tr, fastConfig())
	defer r.Close()

	_, err := r.Publisher(context.Background(), "tcp://127.0.0.1:5555")
	if !mqerrors.Is(err, mqerrors.ErrCodeAddressInUse) {
		t.Fatalf("error = %v, want ADDRESS_IN_USE", err)
	}
	if !mqerrors.IsPermanent(err) {
		t.Error("bind failure should be permanent")
	}
	if r.Stats().Publishers != 0 {
		t.Error("failed entry should be discarded")
	}

	// The failed entry is gone, so a later call retries the bind.
	tr.fail.Store(false)
	if _, err := r.Publisher(context.Background(), "tcp://127.0.0.1:5555"); err != nil {
		t.Fatalf("retry after failure error: %v", err)
	}
}

func TestRegistry_EmptyAddress(t *testing.T) {
	r := New(transport.NewMemory(), fastConfig())
	defer r.Close()

	if _, err := r.Publisher(context.Background(), ""); !mqerrors.Is(err, mqerrors.ErrCodeConfig) {
		t.Errorf("Publisher(\"\") error = %v, want CONFIG", err)
	}
	if _, err := r.Subscriber(context.Background(), "", "T"); !mqerrors.Is(err, mqerrors.ErrCodeConfig) {
		t.Errorf("Subscriber(\"\") error = %v, want CONFIG", err)
	}
	if _, err := r.Publisher(context.Background(), "   "); !mqerrors.Is(err, mqerrors.ErrCodeConfig) {
		t.Errorf("Publisher(blank) error = %v, want CONFIG", err)
	}
}

func TestRegistry_SubscriberFreshSockets(t *testing.T) {
	tr := &countingTransport{Transport: transport.NewMemory()}
	r := New(tr, fastConfig())
	defer r.Close()
	ctx := context.Background()

	a, err := r.Subscriber(ctx, "feed", "A")
	if err != nil {
		t.Fatalf("Subscriber error: %v", err)
	}
	b, err := r.Subscriber(ctx, "feed", "B")
	if err != nil {
		t.Fatalf("Subscriber error: %v", err)
	}
	if a == b {
		t.Error("each subscriber should get its own socket")
	}
	if n := tr.connects.Load(); n != 2 {
		t.Errorf("connects = %d, want 2", n)
	}
	if s := r.Stats(); s.Subscribers != 2 {
		t.Errorf("Subscribers = %d, want 2", s.Subscribers)
	}

	a.Close()
	if s := r.Stats(); s.Subscribers != 1 {
		t.Errorf("Subscribers after close = %d, want 1", s.Subscribers)
	}
	b.Close()
}

func TestRegistry_SubscriberFilter(t *testing.T) {
	r := New(transport.NewMemory(), fastConfig())
	defer r.Close()
	ctx := context.Background()

	pub, _ := r.Publisher(ctx, "feed")
	sub, err := r.Subscriber(ctx, "feed", "keep")
	if err != nil {
		t.Fatalf("Subscriber error: %v", err)
	}

	pub.Send([][]byte{[]byte("drop"), []byte("C")})
	pub.Send([][]byte{[]byte("keep"), []byte("C")})

	frames, err := sub.Recv()
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if string(frames[0]) != "keep" {
		t.Errorf("topic = %q, want keep", frames[0])
	}
}

func TestRegistry_ConnectFailure(t *testing.T) {
	tr := &failingTransport{Transport: transport.NewMemory()}
	tr.fail.Store(true)
	r := New(tr, fastConfig())
	defer r.Close()

	_, err := r.Subscriber(context.Background(), "feed", "T")
	if !mqerrors.Is(err, mqerrors.ErrCodeConnectFailed) {
		t.Fatalf("error = %v, want CONNECT_FAILED", err)
	}
	if !mqerrors.IsRetryable(err) {
		t.Error("connect failure should be retryable")
	}
}

func TestRegistry_ReadyHook(t *testing.T) {
	var mu sync.Mutex
	var events []ReadyEvent
	r := New(transport.NewMemory(), fastConfig(), WithReadyHook(func(ev ReadyEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))
	defer r.Close()
	ctx := context.Background()

	if _, err := r.Publisher(ctx, "feed"); err != nil {
		t.Fatal(err)
	}
	sub, err := r.Subscriber(ctx, "feed", "T")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Role != RolePublisher || events[0].Event != transport.EventListening || events[0].TimedOut {
		t.Errorf("publisher event = %+v", events[0])
	}
	if events[1].Role != RoleSubscriber || events[1].Event != transport.EventConnected || events[1].TimedOut {
		t.Errorf("subscriber event = %+v", events[1])
	}
	if events[0].Address != "feed" {
		t.Errorf("Address = %q", events[0].Address)
	}
}

func TestRegistry_ReadyTimeout(t *testing.T) {
	cfg := Config{BindTimeout: 30 * time.Millisecond, ConnectTimeout: 30 * time.Millisecond}
	var got []ReadyEvent
	r := New(silentTransport{transport.NewMemory()}, cfg, WithReadyHook(func(ev ReadyEvent) {
		got = append(got, ev)
	}))
	defer r.Close()

	start := time.Now()
	if _, err := r.Publisher(context.Background(), "feed"); err != nil {
		t.Fatalf("timeout should not fail the bind: %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("bind returned before the readiness timeout")
	}
	if len(got) != 1 || !got[0].TimedOut || got[0].Event != "" {
		t.Errorf("events = %+v", got)
	}
}

func TestRegistry_SettleDelay(t *testing.T) {
	cfg := fastConfig()
	cfg.PublisherSettle = 40 * time.Millisecond
	r := New(transport.NewMemory(), cfg)
	defer r.Close()

	start := time.Now()
	if _, err := r.Publisher(context.Background(), "feed"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Error("publisher returned before settle delay")
	}

	// Already bound: no second settle.
	start = time.Now()
	r.Publisher(context.Background(), "feed")
	if time.Since(start) > 30*time.Millisecond {
		t.Error("second lookup should not settle again")
	}
}

func TestRegistry_ContextCanceledDuringSettle(t *testing.T) {
	cfg := fastConfig()
	cfg.SubscriberSettle = time.Second
	r := New(transport.NewMemory(), cfg)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Subscriber(ctx, "feed", "T")
	if !mqerrors.Is(err, mqerrors.ErrCodeTimeout) {
		t.Errorf("error = %v, want TIMEOUT", err)
	}
	if r.Stats().Subscribers != 0 {
		t.Error("failed subscriber should not be tracked")
	}
}

func TestRegistry_Close(t *testing.T) {
	r := New(transport.NewMemory(), fastConfig())
	ctx := context.Background()

	if _, err := r.Publisher(ctx, "feed"); err != nil {
		t.Fatal(err)
	}
	sub, err := r.Subscriber(ctx, "feed", "T")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := sub.Recv()
		done <- err
	}()

	if err := r.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	select {
	case err := <-done:
		if err != transport.ErrClosed {
			t.Errorf("Recv error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock subscriber")
	}

	if _, err := r.Publisher(ctx, "feed"); !mqerrors.Is(err, mqerrors.ErrCodeClosed) {
		t.Errorf("Publisher after Close error = %v", err)
	}
	if _, err := r.Subscriber(ctx, "feed", "T"); !mqerrors.Is(err, mqerrors.ErrCodeClosed) {
		t.Errorf("Subscriber after Close error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
	if s := r.Stats(); s.Publishers != 0 || s.Subscribers != 0 {
		t.Errorf("Stats after Close = %+v", s)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateUnbound:     "unbound",
		StateBinding:     "binding",
		StateUnconnected: "unconnected",
		StateConnecting:  "connecting",
		StateReady:       "ready",
		State(99):        "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
