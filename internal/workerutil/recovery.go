// Package workerutil runs background goroutines that must not take the
// overlay core down with them when they panic.
package workerutil

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultMaxRetries     = 10
)

// RecoveryOptions configures RunWithPanicRecovery. Zero numeric fields take
// the defaults (100ms initial backoff, 5s cap, 10 attempts). MaxRetries=1
// runs the worker once with no restart.
type RecoveryOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int

	// OnPanic runs after each recovered panic, before the backoff wait.
	// attempt is 1-based.
	OnPanic func(worker string, attempt int)
	// OnFatal runs once when the worker is given up on.
	OnFatal func(worker string, maxRetries int)
	// IsShutdown stops restarts while the application tears down.
	IsShutdown func() bool
}

func (opts RecoveryOptions) withDefaults() RecoveryOptions {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		slog.Warn("[WARN-WORKER] MaxBackoff < InitialBackoff, using InitialBackoff as cap",
			"initialBackoff", opts.InitialBackoff, "maxBackoff", opts.MaxBackoff)
		opts.MaxBackoff = opts.InitialBackoff
	}
	return opts
}

// RunWithPanicRecovery starts a long-lived worker tracked by wg. A panic is
// logged with its stack and the worker is restarted with exponential
// backoff until it returns normally, ctx is cancelled, IsShutdown reports
// true or MaxRetries is reached.
func RunWithPanicRecovery(ctx context.Context, name string, wg *sync.WaitGroup, fn func(ctx context.Context), opts RecoveryOptions) {
	opts = opts.withDefaults()
	wg.Go(func() {
		superviseWorker(ctx, name, fn, opts)
	})
}

func superviseWorker(ctx context.Context, name string, fn func(ctx context.Context), opts RecoveryOptions) {
	delay := opts.InitialBackoff
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if !runRecovered(name, func() { fn(ctx) }) || ctx.Err() != nil {
			return
		}
		if opts.IsShutdown != nil && opts.IsShutdown() {
			slog.Info("[DEBUG-PANIC] shutdown in progress, not restarting worker", "worker", name)
			return
		}
		slog.Warn("[DEBUG-PANIC] restarting worker after panic",
			"worker", name, "attempt", attempt, "delay", delay)
		if opts.OnPanic != nil {
			opts.OnPanic(name, attempt)
		}
		if attempt == opts.MaxRetries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = nextBackoff(delay, opts.MaxBackoff)
	}

	slog.Error("[DEBUG-PANIC] worker exceeded max retries, giving up",
		"worker", name, "maxRetries", opts.MaxRetries)
	if opts.OnFatal != nil {
		opts.OnFatal(name, opts.MaxRetries)
	}
}

// Go runs fn once on a goroutine tracked by wg. A panic is logged and
// swallowed.
func Go(wg *sync.WaitGroup, name string, fn func()) {
	wg.Go(func() {
		runRecovered(name, fn)
	})
}

// runRecovered calls fn and reports whether it panicked.
func runRecovered(name string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[DEBUG-PANIC] goroutine recovered from panic",
				"worker", name, "panic", r, "stack", string(debug.Stack()))
			panicked = true
		}
	}()
	fn()
	return false
}

// nextBackoff doubles current up to maxBackoff, guarding against overflow.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	next := current * 2
	if next > maxBackoff || next < current {
		return maxBackoff
	}
	return next
}

// Call runs fn on the calling goroutine, logging and swallowing a panic.
// It reports whether fn panicked.
func Call(name string, fn func()) bool {
	return runRecovered(name, fn)
}
