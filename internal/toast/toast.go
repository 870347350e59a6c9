// Package toast keeps the bounded list of notification toasts shown on the
// overlay. Each toast expires on its own timer; overflow drops the oldest.
package toast

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"perfhud/internal/clock"
)

const (
	DefaultTTL         = 5000 * time.Millisecond
	DefaultMaxRetained = 5
	DefaultMaxVisible  = 3
)

// Kind classifies a toast for styling.
type Kind string

const (
	KindMessage Kind = "message"
	KindComment Kind = "comment"
	KindReply   Kind = "reply"
	KindWarning Kind = "warning"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindMessage, KindComment, KindReply, KindWarning:
		return true
	}
	return false
}

// Toast is one notification. Toasts are never updated after insertion.
type Toast struct {
	ID        string    `json:"id" cbor:"id"`
	Kind      Kind      `json:"kind" cbor:"kind"`
	Title     string    `json:"title" cbor:"title"`
	Body      string    `json:"body" cbor:"body"`
	AvatarURL string    `json:"avatarUrl,omitempty" cbor:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt" cbor:"createdAt"`
}

// Options configures a Queue. Zero values take the defaults.
type Options struct {
	TTL         time.Duration
	MaxRetained int
	MaxVisible  int
	Clock       clock.Clock
	// OnChange receives the visible toasts after every insertion, expiry or
	// dismissal. It is called without the queue lock held.
	OnChange func(visible []Toast)
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxRetained <= 0 {
		o.MaxRetained = DefaultMaxRetained
	}
	if o.MaxVisible <= 0 {
		o.MaxVisible = DefaultMaxVisible
	}
	if o.MaxVisible > o.MaxRetained {
		o.MaxVisible = o.MaxRetained
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}

// entry is keyed by an internal sequence number, not the toast id, because
// ids are not required to be unique.
type entry struct {
	seq   uint64
	toast Toast
	timer *clock.Timer
}

// Queue is safe for concurrent use.
type Queue struct {
	opts    Options
	mu      sync.Mutex
	entries []*entry
	nextSeq uint64
}

// New returns an empty queue.
func New(opts Options) *Queue {
	return &Queue{opts: opts.withDefaults()}
}

// Push inserts t, assigning an id and creation time when missing, and
// returns the stored toast. When more than MaxRetained toasts are held the
// oldest is dropped and its timer cancelled.
func (q *Queue) Push(t Toast) Toast {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if !t.Kind.Valid() {
		if t.Kind != "" {
			slog.Debug("[DEBUG-TOAST] unknown toast kind, using message", "kind", t.Kind)
		}
		t.Kind = KindMessage
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = q.opts.Clock.Now()
	}

	q.mu.Lock()
	q.nextSeq++
	e := &entry{seq: q.nextSeq, toast: t}
	q.entries = append(q.entries, e)
	for len(q.entries) > q.opts.MaxRetained {
		evicted := q.entries[0]
		q.entries = q.entries[1:]
		evicted.timer.Stop()
		slog.Debug("[DEBUG-TOAST] evicted oldest toast", "id", evicted.toast.ID)
	}
	seq := e.seq
	// Scheduling under the lock keeps e.timer set before any eviction can
	// look at it. TTL is positive, so the callback never runs inline.
	e.timer = q.opts.Clock.AfterFunc(q.opts.TTL, func() { q.expire(seq) })
	visible := q.visibleLocked()
	q.mu.Unlock()

	q.emit(visible)
	return t
}

func (q *Queue) expire(seq uint64) {
	q.mu.Lock()
	idx := slices.IndexFunc(q.entries, func(e *entry) bool { return e.seq == seq })
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	q.entries = slices.Delete(q.entries, idx, idx+1)
	visible := q.visibleLocked()
	q.mu.Unlock()

	q.emit(visible)
}

// Dismiss removes every toast with id and reports whether any was removed.
func (q *Queue) Dismiss(id string) bool {
	q.mu.Lock()
	removed := false
	q.entries = slices.DeleteFunc(q.entries, func(e *entry) bool {
		if e.toast.ID != id {
			return false
		}
		e.timer.Stop()
		removed = true
		return true
	})
	visible := q.visibleLocked()
	q.mu.Unlock()

	if removed {
		q.emit(visible)
	}
	return removed
}

// Clear drops every toast and cancels their timers.
func (q *Queue) Clear() {
	q.mu.Lock()
	hadEntries := len(q.entries) > 0
	for _, e := range q.entries {
		e.timer.Stop()
	}
	q.entries = nil
	q.mu.Unlock()

	if hadEntries {
		q.emit(nil)
	}
}

// Visible returns the newest MaxVisible toasts, oldest first.
func (q *Queue) Visible() []Toast {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.visibleLocked()
}

// Retained returns every held toast, oldest first.
func (q *Queue) Retained() []Toast {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Toast, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.toast
	}
	return out
}

// Len returns the number of retained toasts.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) visibleLocked() []Toast {
	start := max(len(q.entries)-q.opts.MaxVisible, 0)
	out := make([]Toast, 0, len(q.entries)-start)
	for _, e := range q.entries[start:] {
		out = append(out, e.toast)
	}
	return out
}

func (q *Queue) emit(visible []Toast) {
	if q.opts.OnChange != nil {
		q.opts.OnChange(visible)
	}
}
