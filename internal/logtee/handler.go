// Package logtee forwards slog records to a base handler and copies the
// severe ones to a sink, so failures that only reach the log (recovered
// panics, a dead host endpoint) also reach the overlay.
package logtee

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync/atomic"
)

// Sink receives records at or above the handler's threshold. component is
// the bracketed tag that opens the message ("DEBUG-PANIC" for
// "[DEBUG-PANIC] goroutine recovered"), or "" when there is none; msg has
// the tag stripped.
type Sink func(level slog.Level, component, msg string)

// Handler wraps a base slog.Handler. Every record goes to base; records at
// or above minLevel also go to sink.
type Handler struct {
	base     slog.Handler
	sink     Sink
	minLevel slog.Level
	// inSink is shared by every handler derived from the same New call.
	// While the sink runs, other severe records (including any the sink
	// logs itself) only reach base.
	inSink *atomic.Bool
}

// New returns a Handler. A nil sink makes it a plain pass-through.
func New(base slog.Handler, minLevel slog.Level, sink Sink) *Handler {
	return &Handler{base: base, sink: sink, minLevel: minLevel, inSink: new(atomic.Bool)}
}

// Enabled defers to base.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle writes record to base, then hands it to the sink when severe
// enough. The base error is returned even when the sink ran.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)
	if h.sink == nil || record.Level < h.minLevel {
		return err
	}
	if !h.inSink.CompareAndSwap(false, true) {
		return err
	}
	defer h.inSink.Store(false)
	func() {
		defer func() {
			if r := recover(); r != nil {
				// stderr, not slog: logging here would come straight back.
				fmt.Fprintf(os.Stderr, "[logtee] sink panicked: %v\n%s\n", r, debug.Stack())
			}
		}()
		component, msg := SplitTag(record.Message)
		h.sink(record.Level, component, msg)
	}()
	return err
}

// WithAttrs applies attrs to base and keeps the sink.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.base = h.base.WithAttrs(attrs)
	return &clone
}

// WithGroup applies the group to base and keeps the sink.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.base = h.base.WithGroup(name)
	return &clone
}

// SplitTag separates a leading "[TAG]" from a log message.
func SplitTag(message string) (tag, rest string) {
	if !strings.HasPrefix(message, "[") {
		return "", message
	}
	end := strings.IndexByte(message, ']')
	if end < 0 {
		return "", message
	}
	return message[1:end], strings.TrimSpace(message[end+1:])
}
