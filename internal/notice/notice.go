// Package notice holds short-lived status messages shown on the overlay:
// rejected shortcuts, failed remote saves, a missing host. Each notice
// clears itself after a fixed TTL.
package notice

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"perfhud/internal/bridge"
	"perfhud/internal/hotkeys"
	"perfhud/internal/store"
)

const (
	DefaultTTL = 3 * time.Second
	// defaultCleanupInterval bounds how late after its TTL an expired notice
	// is announced as gone. Visible() hides it on time regardless.
	defaultCleanupInterval = 250 * time.Millisecond
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Kind groups notices by the failure they report.
type Kind string

const (
	KindShortcut Kind = "shortcut"
	KindSync     Kind = "sync"
	KindChannel  Kind = "channel"
	KindGeneral  Kind = "general"
)

// Notice is one message.
type Notice struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`

	seq uint64
}

// Options configures a Center.
type Options struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	// OnChange receives the live notices after every push, dismissal and
	// expiry.
	OnChange func([]Notice)
}

// Center stores live notices.
type Center struct {
	cache    *cache.Cache
	onChange func([]Notice)

	mu  sync.Mutex
	seq uint64
}

// New returns an empty Center.
func New(opts Options) *Center {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	c := &Center{
		cache:    cache.New(opts.TTL, opts.CleanupInterval),
		onChange: opts.OnChange,
	}
	c.cache.OnEvicted(func(key string, _ any) {
		slog.Debug("[DEBUG-NOTICE] notice cleared", "id", key)
		c.emit()
	})
	return c
}

// Push stores a new notice and returns it.
func (c *Center) Push(level Level, kind Kind, message string) Notice {
	c.mu.Lock()
	c.seq++
	n := Notice{
		ID:        uuid.NewString(),
		Level:     level,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now(),
		seq:       c.seq,
	}
	c.mu.Unlock()

	c.cache.SetDefault(n.ID, n)
	c.emit()
	return n
}

// PushError classifies err and stores it as a notice.
func (c *Center) PushError(err error) Notice {
	level, kind := Classify(err)
	return c.Push(level, kind, err.Error())
}

// Dismiss removes a notice before its TTL.
func (c *Center) Dismiss(id string) {
	// Delete fires OnEvicted, which emits.
	c.cache.Delete(id)
}

// Visible returns unexpired notices, oldest first.
func (c *Center) Visible() []Notice {
	items := c.cache.Items()
	out := make([]Notice, 0, len(items))
	for _, item := range items {
		if n, ok := item.Object.(Notice); ok {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b Notice) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

func (c *Center) emit() {
	if c.onChange != nil {
		c.onChange(c.Visible())
	}
}

// Classify maps an error to its notice level and kind.
func Classify(err error) (Level, Kind) {
	var validation *hotkeys.ValidationError
	var syncErr *store.SyncError
	switch {
	case errors.As(err, &validation),
		errors.Is(err, store.ErrShortcutConflict),
		errors.Is(err, hotkeys.ErrBindingInUse):
		return LevelWarning, KindShortcut
	case errors.As(err, &syncErr):
		return LevelWarning, KindSync
	case errors.Is(err, bridge.ErrChannelUnavailable):
		return LevelError, KindChannel
	default:
		return LevelError, KindGeneral
	}
}
