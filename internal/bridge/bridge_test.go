package bridge

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"perfhud/internal/testutil"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(msg Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) payloads() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Payload
	}
	return out
}

func newBus(t *testing.T, opts Options) *Bus {
	t.Helper()
	b := New(opts)
	t.Cleanup(b.Close)
	return b
}

func mustSubscribe(t *testing.T, b *Bus, topic Topic, h Handler) func() {
	t.Helper()
	unsubscribe, err := b.Subscribe(topic, h)
	if err != nil {
		t.Fatalf("Subscribe(%s) error = %v", topic, err)
	}
	return unsubscribe
}

func TestDeliversInPublishOrder(t *testing.T) {
	b := newBus(t, Options{})
	var rec recorder
	mustSubscribe(t, b, TopicTelemetry, rec.handle)

	for i := range 100 {
		if err := b.Publish(TopicTelemetry, i); err != nil {
			t.Fatalf("Publish error = %v", err)
		}
	}
	b.Sync()

	got := rec.payloads()
	if len(got) != 100 {
		t.Fatalf("delivered %d messages, want 100", len(got))
	}
	for i, p := range got {
		if p != i {
			t.Fatalf("message %d payload = %v", i, p)
		}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, m := range rec.msgs {
		if m.Seq != uint64(i+1) || m.Topic != TopicTelemetry {
			t.Fatalf("message %d = %+v", i, m)
		}
	}
}

func TestBuffersUntilFirstSubscriber(t *testing.T) {
	b := newBus(t, Options{})
	for _, p := range []string{"a", "b", "c"} {
		if err := b.Publish(TopicToast, p); err != nil {
			t.Fatalf("Publish error = %v", err)
		}
	}
	if got := b.Pending(TopicToast); got != 3 {
		t.Fatalf("Pending = %d, want 3", got)
	}

	var first recorder
	mustSubscribe(t, b, TopicToast, first.handle)
	if err := b.Publish(TopicToast, "d"); err != nil {
		t.Fatalf("Publish error = %v", err)
	}
	b.Sync()

	got := first.payloads()
	want := []any{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("first subscriber got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("first subscriber got %v, want %v", got, want)
		}
	}
	if b.Pending(TopicToast) != 0 {
		t.Fatal("buffer not cleared after replay")
	}

	var second recorder
	mustSubscribe(t, b, TopicToast, second.handle)
	b.Sync()
	if len(second.payloads()) != 0 {
		t.Fatalf("replay delivered twice: %v", second.payloads())
	}
}

func TestNoBufferingAfterFirstSubscriberLeaves(t *testing.T) {
	b := newBus(t, Options{})
	var rec recorder
	unsubscribe := mustSubscribe(t, b, TopicTelemetry, rec.handle)
	unsubscribe()
	unsubscribe()

	if err := b.Publish(TopicTelemetry, 1); err != nil {
		t.Fatalf("Publish error = %v", err)
	}
	if got := b.Pending(TopicTelemetry); got != 0 {
		t.Fatalf("Pending = %d, want 0", got)
	}
	if len(rec.payloads()) != 0 {
		t.Fatalf("unsubscribed handler received %v", rec.payloads())
	}
}

func TestTopicsAreIndependent(t *testing.T) {
	b := newBus(t, Options{})
	var toasts recorder
	mustSubscribe(t, b, TopicToast, toasts.handle)

	if err := b.Publish(TopicTelemetry, "sample"); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(TopicToast, "toast"); err != nil {
		t.Fatal(err)
	}
	b.Sync()

	if got := toasts.payloads(); len(got) != 1 || got[0] != "toast" {
		t.Fatalf("toast subscriber got %v", got)
	}
	if b.Pending(TopicTelemetry) != 1 {
		t.Fatal("telemetry event was not buffered")
	}
}

func TestPendingBufferDropsOldest(t *testing.T) {
	testutil.CaptureLogBuffer(t, slog.LevelDebug)
	b := newBus(t, Options{MaxPending: 2})
	for i := range 5 {
		if err := b.Publish(TopicTelemetry, i); err != nil {
			t.Fatal(err)
		}
	}

	var rec recorder
	mustSubscribe(t, b, TopicTelemetry, rec.handle)
	b.Sync()

	got := rec.payloads()
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("replayed %v, want [3 4]", got)
	}
}

func TestHandlerPanicDoesNotStopTheBus(t *testing.T) {
	testutil.CaptureLogBuffer(t, slog.LevelDebug)
	b := newBus(t, Options{})
	mustSubscribe(t, b, TopicToast, func(Message) { panic("bad handler") })
	var rec recorder
	mustSubscribe(t, b, TopicToast, rec.handle)

	if err := b.Publish(TopicToast, "x"); err != nil {
		t.Fatal(err)
	}
	b.Sync()
	if got := rec.payloads(); len(got) != 1 {
		t.Fatalf("second handler got %v", got)
	}
}

func TestHandlersMayPublish(t *testing.T) {
	b := newBus(t, Options{})
	var rec recorder
	mustSubscribe(t, b, TopicHostStatus, rec.handle)
	mustSubscribe(t, b, TopicSettingsPatch, func(msg Message) {
		_ = b.Publish(TopicHostStatus, msg.Payload)
	})

	if err := b.Publish(TopicSettingsPatch, "patch"); err != nil {
		t.Fatal(err)
	}
	b.Sync()
	b.Sync()
	if got := rec.payloads(); len(got) != 1 || got[0] != "patch" {
		t.Fatalf("got %v", got)
	}
}

func TestClosedBusIsUnavailable(t *testing.T) {
	b := New(Options{})
	var rec recorder
	if _, err := b.Subscribe(TopicToast, rec.handle); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(TopicToast, "last"); err != nil {
		t.Fatal(err)
	}
	b.Close()
	b.Close()

	if got := rec.payloads(); len(got) != 1 {
		t.Fatalf("queued message not drained on close: %v", got)
	}
	if err := b.Publish(TopicToast, "late"); !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("Publish after Close error = %v, want ErrChannelUnavailable", err)
	}
	if _, err := b.Subscribe(TopicToast, rec.handle); !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("Subscribe after Close error = %v, want ErrChannelUnavailable", err)
	}
	b.Sync()
	if b.Pending(TopicToast) != 0 {
		t.Fatal("Pending on closed bus should be 0")
	}
}
