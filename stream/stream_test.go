package stream

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqerrors "github.com/vinayprograms/rxmq/errors"
	"github.com/vinayprograms/rxmq/registry"
	"github.com/vinayprograms/rxmq/transport"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(transport.NewMemory(), registry.Config{
		BindTimeout:    time.Second,
		ConnectTimeout: time.Second,
	})
	t.Cleanup(func() { reg.Close() })
	return reg
}

// recorder collects observer callbacks.
type recorder[T any] struct {
	mu        sync.Mutex
	values    []T
	errs      []error
	completed int
	changed   chan struct{}
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{changed: make(chan struct{}, 1024)}
}

func (r *recorder[T]) observer() Observer[T] {
	return Observer[T]{
		OnNext: func(v T) {
			r.mu.Lock()
			r.values = append(r.values, v)
			r.mu.Unlock()
			r.notify()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.notify()
		},
		OnCompleted: func() {
			r.mu.Lock()
			r.completed++
			r.mu.Unlock()
			r.notify()
		},
	}
}

func (r *recorder[T]) notify() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// waitFor polls cond until it holds or the timeout expires.
func (r *recorder[T]) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		r.mu.Lock()
		ok := cond()
		r.mu.Unlock()
		if ok {
			return
		}
		select {
		case <-r.changed:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
		}
	}
}

func (r *recorder[T]) snapshot() ([]T, []error, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...), append([]error(nil), r.errs...), r.completed
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("receive goroutine did not exit")
	}
}

type tagged struct {
	N int
}

func (tagged) TopicTag() string { return "tagged-payload" }

func TestEndpoint_Resolution(t *testing.T) {
	reg := newTestRegistry(t)

	long := strings.Repeat("x", 40)
	pub, err := NewPublisher[int](reg, Endpoint{Address: "feed", Topic: long})
	if err != nil {
		t.Fatalf("NewPublisher error: %v", err)
	}
	if got := pub.Endpoint().Topic; len(got) != 32 || !strings.HasPrefix(got, strings.Repeat("x", 24)) {
		t.Errorf("resolved topic = %q", got)
	}

	tp, err := NewPublisher[tagged](reg, Endpoint{Address: "feed"})
	if err != nil {
		t.Fatalf("NewPublisher with tagged type error: %v", err)
	}
	if tp.Endpoint().Topic != "tagged-payload" {
		t.Errorf("topic = %q", tp.Endpoint().Topic)
	}

	if _, err := NewPublisher[int](reg, Endpoint{Address: "feed"}); !mqerrors.Is(err, mqerrors.ErrCodeConfig) {
		t.Errorf("untagged type without topic error = %v, want CONFIG", err)
	}
	if _, err := NewSubscriber[int](reg, Endpoint{Topic: "T"}); !mqerrors.Is(err, mqerrors.ErrCodeConfig) {
		t.Errorf("empty address error = %v, want CONFIG", err)
	}
	if _, err := NewPublisher[int](nil, Endpoint{Address: "feed", Topic: "T"}); !mqerrors.Is(err, mqerrors.ErrCodeConfig) {
		t.Errorf("nil registry error = %v, want CONFIG", err)
	}
}

func TestModes(t *testing.T) {
	reg := newTestRegistry(t)
	ep := Endpoint{Address: "feed", Topic: "T"}

	if _, err := NewPublisher[int](reg, ep, WithMode(EagerSubscriber)); !mqerrors.Is(err, mqerrors.ErrCodeConfig) {
		t.Errorf("publisher with EagerSubscriber error = %v, want CONFIG", err)
	}
	if _, err := NewSubscriber[int](reg, ep, WithMode(EagerPublisher)); !mqerrors.Is(err, mqerrors.ErrCodeConfig) {
		t.Errorf("subscriber with EagerPublisher error = %v, want CONFIG", err)
	}
	if _, err := NewSubject[int](reg, ep, WithMode(Mode(7))); !mqerrors.Is(err, mqerrors.ErrCodeConfig) {
		t.Errorf("unknown mode error = %v, want CONFIG", err)
	}

	pub, err := NewPublisher[int](reg, ep, WithMode(EagerPublisher))
	if err != nil {
		t.Fatalf("EagerPublisher error: %v", err)
	}
	defer pub.Close()
	if reg.Stats().Publishers != 1 {
		t.Error("EagerPublisher should bind during construction")
	}

	sub, err := NewSubscriber[int](reg, ep, WithMode(EagerSubscriber))
	if err != nil {
		t.Fatalf("EagerSubscriber error: %v", err)
	}
	defer sub.Close()
	if reg.Stats().Subscribers != 1 {
		t.Error("EagerSubscriber should connect during construction")
	}

	lazy, err := NewSubscriber[int](reg, ep)
	if err != nil {
		t.Fatal(err)
	}
	defer lazy.Close()
	if reg.Stats().Subscribers != 1 {
		t.Error("Lazy subscriber should not connect before Subscribe")
	}
}

func TestSubject_Ordering(t *testing.T) {
	reg := newTestRegistry(t)
	subj, err := NewSubject[int](reg, Endpoint{Address: "feed", Topic: "ints"})
	if err != nil {
		t.Fatalf("NewSubject error: %v", err)
	}
	defer subj.Close()

	rec := newRecorder[int]()
	if _, err := subj.Subscribe(rec.observer()); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	for i := 1; i <= 5; i++ {
		if err := subj.PushNext(i); err != nil {
			t.Fatalf("PushNext(%d) error: %v", i, err)
		}
	}

	rec.waitFor(t, "5 values", func() bool { return len(rec.values) == 5 })
	values, errs, _ := rec.snapshot()
	for i, v := range values {
		if v != i+1 {
			t.Fatalf("values = %v, want [1 2 3 4 5]", values)
		}
	}
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestSubject_FanOutIsolation(t *testing.T) {
	reg := newTestRegistry(t)
	subj, err := NewSubject[string](reg, Endpoint{Address: "feed", Topic: "fan"})
	if err != nil {
		t.Fatal(err)
	}
	defer subj.Close()

	a, b := newRecorder[string](), newRecorder[string]()
	subA, err := subj.Subscribe(a.observer())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := subj.Subscribe(b.observer()); err != nil {
		t.Fatal(err)
	}

	subj.PushNext("both")
	b.waitFor(t, "first value on B", func() bool { return len(b.values) == 1 })
	a.waitFor(t, "first value on A", func() bool { return len(a.values) == 1 })

	subA.Dispose()
	subA.Dispose()
	if !subj.HasObservers() {
		t.Fatal("B should still be registered")
	}

	subj.PushNext("only-b")
	b.waitFor(t, "second value on B", func() bool { return len(b.values) == 2 })

	aValues, _, _ := a.snapshot()
	if len(aValues) != 1 {
		t.Errorf("A received %v after dispose", aValues)
	}
	select {
	case <-subj.Done():
		t.Error("disposing one observer must not stop the receive goroutine")
	default:
	}
}

func TestSubject_CompletionIsTerminal(t *testing.T) {
	reg := newTestRegistry(t)
	subj, err := NewSubject[int](reg, Endpoint{Address: "feed", Topic: "done"})
	if err != nil {
		t.Fatal(err)
	}
	defer subj.Close()

	rec := newRecorder[int]()
	subj.Subscribe(rec.observer())

	subj.PushNext(1)
	if err := subj.PushCompleted(); err != nil {
		t.Fatalf("PushCompleted error: %v", err)
	}
	// Not rejected by the publisher, but never delivered.
	if err := subj.PushNext(2); err != nil {
		t.Fatalf("PushNext after completion error: %v", err)
	}
	subj.PushError(mqerrors.Internal("late"))

	waitDone(t, subj.Done())
	values, errs, completed := rec.snapshot()
	if completed != 1 {
		t.Errorf("completed = %d, want 1", completed)
	}
	if len(values) != 1 || values[0] != 1 {
		t.Errorf("values = %v, want [1]", values)
	}
	if len(errs) != 0 {
		t.Errorf("errors after completion: %v", errs)
	}
	if subj.HasObservers() {
		t.Error("observers should be cleared after completion")
	}
	if _, err := subj.Subscribe(rec.observer()); !mqerrors.Is(err, mqerrors.ErrCodeClosed) {
		t.Errorf("Subscribe after completion error = %v, want CLOSED", err)
	}
}

func TestSubject_ErrorPropagation(t *testing.T) {
	reg := newTestRegistry(t)
	subj, err := NewSubject[int](reg, Endpoint{Address: "feed", Topic: "errs"})
	if err != nil {
		t.Fatal(err)
	}
	defer subj.Close()

	a, b := newRecorder[int](), newRecorder[int]()
	subj.Subscribe(a.observer())
	subj.Subscribe(b.observer())

	if err := subj.PushError(mqerrors.Wrap(mqerrors.Internal("boom"), "handler failed")); err != nil {
		t.Fatalf("PushError error: %v", err)
	}

	for _, r := range []*recorder[int]{a, b} {
		r.waitFor(t, "error", func() bool { return len(r.errs) == 1 })
		_, errs, _ := r.snapshot()
		if !strings.Contains(errs[0].Error(), "boom") {
			t.Errorf("error = %q, want it to contain boom", errs[0])
		}
		if !mqerrors.Is(errs[0], mqerrors.ErrCodeInternal) {
			t.Errorf("remote error lost its code: %v", errs[0])
		}
	}

	// Remote errors do not end the stream.
	subj.PushNext(7)
	a.waitFor(t, "value after error", func() bool { return len(a.values) == 1 })

	if err := subj.PushError(nil); !mqerrors.Is(err, mqerrors.ErrCodeConfig) {
		t.Errorf("PushError(nil) error = %v, want CONFIG", err)
	}
}

func TestSubject_UnsupportedType(t *testing.T) {
	reg := newTestRegistry(t)
	subj, err := NewSubject[any](reg, Endpoint{Address: "feed", Topic: "any"})
	if err != nil {
		t.Fatal(err)
	}
	defer subj.Close()

	rec := newRecorder[any]()
	subj.Subscribe(rec.observer())

	err = subj.PushNext(make(chan int))
	if !mqerrors.Is(err, mqerrors.ErrCodeUnsupportedType) {
		t.Fatalf("PushNext(chan) error = %v, want UNSUPPORTED_TYPE", err)
	}
	if !strings.Contains(err.Error(), "chan int") || !strings.Contains(err.Error(), "msgpack") {
		t.Errorf("error should name the type and codec: %v", err)
	}

	rec.waitFor(t, "remote error", func() bool { return len(rec.errs) == 1 })
	_, errs, _ := rec.snapshot()
	if !mqerrors.Is(errs[0], mqerrors.ErrCodeUnsupportedType) {
		t.Errorf("observer error = %v, want UNSUPPORTED_TYPE", errs[0])
	}
}

func TestSubject_Throughput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping throughput test in short mode")
	}
	const n = 100000

	reg := newTestRegistry(t)
	subj, err := NewSubject[int](reg, Endpoint{Address: "feed", Topic: "bulk"})
	if err != nil {
		t.Fatal(err)
	}
	defer subj.Close()

	var count atomic.Int64
	var sum atomic.Int64
	seen := make([]bool, n)
	var dup atomic.Bool
	subj.Subscribe(Observer[int]{OnNext: func(v int) {
		if seen[v] {
			dup.Store(true)
		}
		seen[v] = true
		sum.Add(int64(v))
		count.Add(1)
	}})

	for i := 0; i < n; i++ {
		if err := subj.PushNext(i); err != nil {
			t.Fatalf("PushNext(%d) error: %v", i, err)
		}
	}

	deadline := time.Now().Add(30 * time.Second)
	for count.Load() < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := count.Load(); got != n {
		t.Fatalf("received %d values, want %d", got, n)
	}
	if dup.Load() {
		t.Error("duplicate delivery")
	}
	if want := int64(n) * (n - 1) / 2; sum.Load() != want {
		t.Errorf("sum = %d, want %d", sum.Load(), want)
	}
}

func TestSharedAddress_NoCrossDelivery(t *testing.T) {
	reg := newTestRegistry(t)

	subA, err := NewSubscriber[string](reg, Endpoint{Address: "shared", Topic: "A"})
	if err != nil {
		t.Fatal(err)
	}
	defer subA.Close()
	rec := newRecorder[string]()
	subA.Subscribe(rec.observer())

	pubB, _ := NewPublisher[string](reg, Endpoint{Address: "shared", Topic: "B"})
	pubAB, _ := NewPublisher[string](reg, Endpoint{Address: "shared", Topic: "AB"})
	pubA, _ := NewPublisher[string](reg, Endpoint{Address: "shared", Topic: "A"})

	pubB.PushNext("from-B")
	pubAB.PushNext("from-AB")
	pubAB.PushCompleted()
	pubA.PushNext("from-A")

	rec.waitFor(t, "value on A", func() bool { return len(rec.values) == 1 })
	// Give stray frames a chance to arrive.
	time.Sleep(20 * time.Millisecond)

	values, errs, completed := rec.snapshot()
	if len(values) != 1 || values[0] != "from-A" {
		t.Errorf("values = %v, want [from-A]", values)
	}
	if len(errs) != 0 || completed != 0 {
		t.Errorf("errs = %v, completed = %d", errs, completed)
	}
	if reg.Stats().Publishers != 1 {
		t.Errorf("publishers on a shared address = %d, want 1", reg.Stats().Publishers)
	}
}

func TestSubscriber_ProtocolDesync(t *testing.T) {
	reg := newTestRegistry(t)
	sub, err := NewSubscriber[int](reg, Endpoint{Address: "feed", Topic: "T"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	rec := newRecorder[int]()
	sub.Subscribe(rec.observer())

	raw, err := reg.Publisher(context.Background(), "feed")
	if err != nil {
		t.Fatal(err)
	}
	raw.Send([][]byte{[]byte("T"), []byte("X")})

	waitDone(t, sub.Done())
	_, errs, _ := rec.snapshot()
	if len(errs) != 1 || !mqerrors.Is(errs[0], mqerrors.ErrCodeProtocol) {
		t.Errorf("errors = %v, want one PROTOCOL error", errs)
	}
	if sub.HasObservers() {
		t.Error("observers should be cleared after a fatal error")
	}
}

// unfilteredTransport ignores topic filters, so every frame on the address
// reaches the subscriber's receive loop.
type unfilteredTransport struct {
	transport.Transport
}

func (u unfilteredTransport) Connect(ctx context.Context, address string, opts transport.Options) (transport.SubSocket, error) {
	sock, err := u.Transport.Connect(ctx, address, opts)
	if err != nil {
		return nil, err
	}
	return unfilteredSub{sock}, nil
}

type unfilteredSub struct {
	transport.SubSocket
}

func (s unfilteredSub) Subscribe(string) error {
	return s.SubSocket.Subscribe("")
}

func TestSubscriber_TopicMismatch(t *testing.T) {
	reg := registry.New(unfilteredTransport{transport.NewMemory()}, registry.Config{
		BindTimeout:    time.Second,
		ConnectTimeout: time.Second,
	})
	t.Cleanup(func() { reg.Close() })

	sub, err := NewSubscriber[int](reg, Endpoint{Address: "feed", Topic: "T"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	rec := newRecorder[int]()
	sub.Subscribe(rec.observer())

	raw, err := reg.Publisher(context.Background(), "feed")
	if err != nil {
		t.Fatal(err)
	}
	// "TX" extends our topic and is skipped; "U" is a different topic.
	raw.Send([][]byte{[]byte("TX"), []byte("N"), []byte{0x01}})
	raw.Send([][]byte{[]byte("U"), []byte("N"), []byte{0x01}})
	raw.Send([][]byte{[]byte("T"), []byte("N"), []byte{0x02}})

	waitDone(t, sub.Done())
	values, errs, _ := rec.snapshot()
	if len(values) != 0 {
		t.Errorf("values = %v, want none", values)
	}
	if len(errs) != 1 || !mqerrors.Is(errs[0], mqerrors.ErrCodeTopicMismatch) {
		t.Errorf("errors = %v, want one TOPIC_MISMATCH error", errs)
	}
	if sub.HasObservers() {
		t.Error("observers should be cleared after a fatal error")
	}
	if _, err := sub.Subscribe(rec.observer()); !mqerrors.Is(err, mqerrors.ErrCodeClosed) {
		t.Errorf("Subscribe after mismatch error = %v, want CLOSED", err)
	}
}

func TestSubscriber_DecodeFailure(t *testing.T) {
	reg := newTestRegistry(t)
	sub, err := NewSubscriber[int](reg, Endpoint{Address: "feed", Topic: "T"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	rec := newRecorder[int]()
	sub.Subscribe(rec.observer())

	pub, _ := NewPublisher[string](reg, Endpoint{Address: "feed", Topic: "T"})
	pub.PushNext("not an int")

	waitDone(t, sub.Done())
	_, errs, _ := rec.snapshot()
	if len(errs) != 1 || !mqerrors.Is(errs[0], mqerrors.ErrCodeSerialization) {
		t.Errorf("errors = %v, want one SERIALIZATION error", errs)
	}
}

func TestSubscriber_PanicInCallback(t *testing.T) {
	reg := newTestRegistry(t)
	subj, err := NewSubject[int](reg, Endpoint{Address: "feed", Topic: "panic"})
	if err != nil {
		t.Fatal(err)
	}
	defer subj.Close()

	rec := newRecorder[int]()
	subj.Subscribe(Observer[int]{OnNext: func(int) { panic("observer bug") }})
	subj.Subscribe(rec.observer())

	subj.PushNext(1)
	waitDone(t, subj.Done())

	_, errs, _ := rec.snapshot()
	if len(errs) != 1 || !mqerrors.Is(errs[0], mqerrors.ErrCodePanic) {
		t.Fatalf("errors = %v, want one PANIC error", errs)
	}
	if !strings.Contains(errs[0].Error(), "observer bug") {
		t.Errorf("error = %q", errs[0])
	}
}

func TestSubscriber_ReentrantDispose(t *testing.T) {
	reg := newTestRegistry(t)
	subj, err := NewSubject[int](reg, Endpoint{Address: "feed", Topic: "reent"})
	if err != nil {
		t.Fatal(err)
	}
	defer subj.Close()

	var calls atomic.Int32
	var self *Subscription
	var ready sync.WaitGroup
	ready.Add(1)
	self, err = subj.Subscribe(Observer[int]{OnNext: func(int) {
		ready.Wait()
		calls.Add(1)
		self.Dispose()
	}})
	if err != nil {
		t.Fatal(err)
	}
	ready.Done()

	rec := newRecorder[int]()
	subj.Subscribe(rec.observer())

	subj.PushNext(1)
	subj.PushNext(2)
	rec.waitFor(t, "two values", func() bool { return len(rec.values) == 2 })

	if calls.Load() != 1 {
		t.Errorf("self-disposing observer called %d times, want 1", calls.Load())
	}
}

func TestSubscriber_SubscribeValidation(t *testing.T) {
	reg := newTestRegistry(t)
	sub, err := NewSubscriber[int](reg, Endpoint{Address: "feed", Topic: "T"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if _, err := sub.Subscribe(Observer[int]{}); !mqerrors.Is(err, mqerrors.ErrCodeConfig) {
		t.Errorf("Subscribe without OnNext error = %v, want CONFIG", err)
	}
	if sub.HasObservers() {
		t.Error("rejected observer should not be registered")
	}
	if _, err := sub.Subscribe(Observer[int]{OnNext: func(int) {}}); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	if !sub.HasObservers() {
		t.Error("HasObservers = false after Subscribe")
	}
}

func TestSubscriber_Close(t *testing.T) {
	reg := newTestRegistry(t)
	sub, err := NewSubscriber[int](reg, Endpoint{Address: "feed", Topic: "T"})
	if err != nil {
		t.Fatal(err)
	}
	sub.Subscribe(Observer[int]{OnNext: func(int) {}})

	if err := sub.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	waitDone(t, sub.Done())
	if sub.HasObservers() {
		t.Error("Close should clear observers")
	}
	if reg.Stats().Subscribers != 0 {
		t.Error("Close should release the socket")
	}
	if err := sub.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
	if _, err := sub.Subscribe(Observer[int]{OnNext: func(int) {}}); !mqerrors.Is(err, mqerrors.ErrCodeClosed) {
		t.Errorf("Subscribe after Close error = %v, want CLOSED", err)
	}

	never, _ := NewSubscriber[int](reg, Endpoint{Address: "feed", Topic: "T"})
	if err := never.Close(); err != nil {
		t.Errorf("Close before start error: %v", err)
	}
	waitDone(t, never.Done())
}

func TestSubscriber_CloseJoinTimeout(t *testing.T) {
	reg := newTestRegistry(t)
	subj, err := NewSubject[int](reg, Endpoint{Address: "feed", Topic: "stuck"}, WithJoinTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	subj.Subscribe(Observer[int]{OnNext: func(int) {
		close(entered)
		<-release
	}})
	subj.PushNext(1)
	<-entered

	err = subj.Close()
	close(release)
	if !mqerrors.Is(err, mqerrors.ErrCodeTeardown) {
		t.Fatalf("Close error = %v, want TEARDOWN", err)
	}
	waitDone(t, subj.Done())
}

func TestSubscriber_ParentContextCancel(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := NewSubscriber[int](reg, Endpoint{Address: "feed", Topic: "T"}, WithContext(ctx))
	if err != nil {
		t.Fatal(err)
	}
	rec := newRecorder[int]()
	sub.Subscribe(rec.observer())

	cancel()
	waitDone(t, sub.Done())
	_, errs, _ := rec.snapshot()
	if len(errs) != 0 {
		t.Errorf("cancellation should not be reported as an error: %v", errs)
	}
}

func TestSubscriber_RegistryClosed(t *testing.T) {
	reg := newTestRegistry(t)
	sub, err := NewSubscriber[int](reg, Endpoint{Address: "feed", Topic: "T"})
	if err != nil {
		t.Fatal(err)
	}
	rec := newRecorder[int]()
	sub.Subscribe(rec.observer())

	reg.Close()
	waitDone(t, sub.Done())
	_, errs, _ := rec.snapshot()
	if len(errs) != 1 || !mqerrors.Is(errs[0], mqerrors.ErrCodeClosed) {
		t.Errorf("errors = %v, want one CLOSED error", errs)
	}
}

func TestPublisher_Close(t *testing.T) {
	reg := newTestRegistry(t)
	pub, err := NewPublisher[int](reg, Endpoint{Address: "feed", Topic: "T"})
	if err != nil {
		t.Fatal(err)
	}
	if err := pub.PushNext(1); err != nil {
		t.Fatalf("PushNext error: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	for name, push := range map[string]func() error{
		"PushNext":      func() error { return pub.PushNext(2) },
		"PushError":     func() error { return pub.PushError(mqerrors.Internal("x")) },
		"PushCompleted": pub.PushCompleted,
		"Ping":          pub.Ping,
	} {
		if err := push(); !mqerrors.Is(err, mqerrors.ErrCodeClosed) {
			t.Errorf("%s after Close error = %v, want CLOSED", name, err)
		}
	}

	// The registry still owns the bound socket.
	if reg.Stats().Publishers != 1 {
		t.Error("publisher Close must not release the registry socket")
	}
	other, _ := NewPublisher[int](reg, Endpoint{Address: "feed", Topic: "U"})
	if err := other.PushNext(3); err != nil {
		t.Errorf("other publisher on the address error: %v", err)
	}
}

func TestPing_NotSurfaced(t *testing.T) {
	reg := newTestRegistry(t)
	subj, err := NewSubject[int](reg, Endpoint{Address: "feed", Topic: "ping"})
	if err != nil {
		t.Fatal(err)
	}
	defer subj.Close()

	rec := newRecorder[int]()
	subj.Subscribe(rec.observer())

	if err := subj.Ping(); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
	subj.PushNext(9)
	rec.waitFor(t, "value", func() bool { return len(rec.values) == 1 })

	values, errs, completed := rec.snapshot()
	if len(values) != 1 || len(errs) != 0 || completed != 0 {
		t.Errorf("ping leaked: values=%v errs=%v completed=%d", values, errs, completed)
	}
}
