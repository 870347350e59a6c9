package workerutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"perfhud/internal/testutil"
)

func TestRunWithPanicRecovery(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{name: "NormalExit", fn: testNormalExit},
		{name: "RestartsAfterPanic", fn: testRestartsAfterPanic},
		{name: "GivesUpAfterMaxRetries", fn: testGivesUpAfterMaxRetries},
		{name: "ShutdownStopsRestart", fn: testShutdownStopsRestart},
		{name: "CancelDuringBackoff", fn: testCancelDuringBackoff},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testNormalExit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var panics atomic.Int32

	RunWithPanicRecovery(ctx, "normal", &wg, func(ctx context.Context) {
		<-ctx.Done()
	}, RecoveryOptions{OnPanic: func(string, int) { panics.Add(1) }})

	cancel()
	wg.Wait()
	if panics.Load() != 0 {
		t.Fatalf("OnPanic called %d times, want 0", panics.Load())
	}
}

func testRestartsAfterPanic(t *testing.T) {
	var wg sync.WaitGroup
	var calls atomic.Int32
	var attempts []int
	var mu sync.Mutex

	RunWithPanicRecovery(context.Background(), "restart", &wg, func(context.Context) {
		if calls.Add(1) == 1 {
			panic("first run fails")
		}
	}, RecoveryOptions{
		InitialBackoff: time.Millisecond,
		MaxRetries:     5,
		OnPanic: func(_ string, attempt int) {
			mu.Lock()
			attempts = append(attempts, attempt)
			mu.Unlock()
		},
	})
	wg.Wait()

	if calls.Load() != 2 {
		t.Fatalf("fn called %d times, want 2", calls.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 1 || attempts[0] != 1 {
		t.Fatalf("OnPanic attempts = %v, want [1]", attempts)
	}
}

func testGivesUpAfterMaxRetries(t *testing.T) {
	var wg sync.WaitGroup
	var calls, fatal atomic.Int32

	RunWithPanicRecovery(context.Background(), "doomed", &wg, func(context.Context) {
		calls.Add(1)
		panic("always")
	}, RecoveryOptions{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MaxRetries:     3,
		OnFatal:        func(string, int) { fatal.Add(1) },
	})
	wg.Wait()

	if calls.Load() != 3 {
		t.Fatalf("fn called %d times, want 3", calls.Load())
	}
	if fatal.Load() != 1 {
		t.Fatalf("OnFatal called %d times, want 1", fatal.Load())
	}
}

func testShutdownStopsRestart(t *testing.T) {
	var wg sync.WaitGroup
	var calls, panics atomic.Int32

	RunWithPanicRecovery(context.Background(), "shutdown", &wg, func(context.Context) {
		calls.Add(1)
		panic("during shutdown")
	}, RecoveryOptions{
		InitialBackoff: time.Millisecond,
		MaxRetries:     5,
		OnPanic:        func(string, int) { panics.Add(1) },
		IsShutdown:     func() bool { return true },
	})
	wg.Wait()

	if calls.Load() != 1 || panics.Load() != 0 {
		t.Fatalf("calls=%d panics=%d, want 1 and 0", calls.Load(), panics.Load())
	}
}

func testCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	started := make(chan struct{}, 1)

	RunWithPanicRecovery(ctx, "backoff", &wg, func(context.Context) {
		started <- struct{}{}
		panic("enter backoff")
	}, RecoveryOptions{InitialBackoff: 10 * time.Second, MaxBackoff: 10 * time.Second, MaxRetries: 5})

	<-started
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after cancel during backoff")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelDebug)
	var wg sync.WaitGroup
	var ran atomic.Bool

	Go(&wg, "one-shot", func() {
		ran.Store(true)
		panic("boom")
	})
	wg.Wait()

	if !ran.Load() {
		t.Fatal("fn did not run")
	}
	if !strings.Contains(logBuf.String(), "one-shot") {
		t.Fatalf("panic not logged with worker name: %s", logBuf.String())
	}
}

func TestCallReportsPanic(t *testing.T) {
	testutil.CaptureLogBuffer(t, slog.LevelDebug)
	if Call("quiet", func() {}) {
		t.Fatal("Call reported a panic for a normal return")
	}
	if !Call("loud", func() { panic("boom") }) {
		t.Fatal("Call did not report the panic")
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		current, maxBackoff, want time.Duration
	}{
		{current: 100 * time.Millisecond, maxBackoff: time.Second, want: 200 * time.Millisecond},
		{current: 800 * time.Millisecond, maxBackoff: time.Second, want: time.Second},
		{current: time.Second, maxBackoff: time.Second, want: time.Second},
		{current: 0, maxBackoff: time.Second, want: defaultInitialBackoff},
		{current: time.Duration(1<<62 + 1), maxBackoff: time.Duration(1<<63 - 1), want: time.Duration(1<<63 - 1)},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.current, tt.maxBackoff); got != tt.want {
			t.Fatalf("nextBackoff(%s, %s) = %s, want %s", tt.current, tt.maxBackoff, got, tt.want)
		}
	}
}

func TestWithDefaults(t *testing.T) {
	got := RecoveryOptions{}.withDefaults()
	if got.InitialBackoff != defaultInitialBackoff || got.MaxBackoff != defaultMaxBackoff || got.MaxRetries != defaultMaxRetries {
		t.Fatalf("withDefaults() = %+v", got)
	}
	swapped := RecoveryOptions{InitialBackoff: time.Second, MaxBackoff: time.Millisecond}.withDefaults()
	if swapped.MaxBackoff != time.Second {
		t.Fatalf("MaxBackoff = %s, want promoted to 1s", swapped.MaxBackoff)
	}
}
