// Package store owns the overlay settings of the running session. It is
// the only writer: the UI and the host submit patches, and every accepted
// change flows out to the local cache, the host and the remote profile.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"perfhud/internal/hotkeys"
	"perfhud/internal/settings"
	"perfhud/internal/workerutil"
)

const defaultRemoteTimeout = 5 * time.Second

// ErrShortcutConflict is returned by SetShortcut when another action already
// uses the binding.
var ErrShortcutConflict = errors.New("shortcut already assigned to another action")

// RemoteStore is the per-user profile record. Implementations only update
// existing records.
type RemoteStore interface {
	Fetch(ctx context.Context, userID string) (settings.Settings, error)
	UpdateSettings(ctx context.Context, userID string, view settings.HostView) error
	UpdateShortcuts(ctx context.Context, userID string, shortcuts map[settings.Action]hotkeys.Binding) error
}

// LocalCache is the on-disk mirror used as offline fallback.
type LocalCache interface {
	ReadSettings(ctx context.Context) (settings.Settings, bool, error)
	WriteSettings(ctx context.Context, view settings.HostView) error
	WriteShortcuts(ctx context.Context, shortcuts map[settings.Action]hotkeys.Binding) error
}

// HostPublisher pushes state to the host process. Pushes run outside the
// Store's state lock, so a slow host only delays the writer that triggered
// them. Implementations must not call back into the Store.
type HostPublisher interface {
	PublishSettings(view settings.HostView, version uint64) error
	PublishShortcuts(shortcuts map[settings.Action]hotkeys.Binding, version uint64) error
}

// Source tells where Load found the settings.
type Source string

const (
	SourceRemote   Source = "remote"
	SourceCache    Source = "cache"
	SourceDefaults Source = "defaults"
)

// LoadResult describes a completed Load. RemoteErr is the reason the remote
// record was not used, if any.
type LoadResult struct {
	Source    Source
	RemoteErr error
}

// EventKind classifies a change notification.
type EventKind string

const (
	EventLoaded    EventKind = "loaded"
	EventSettings  EventKind = "settings"
	EventShortcuts EventKind = "shortcuts"
)

// Event is delivered to Options.OnChange after every accepted change.
// Consumers treat the highest Version as authoritative.
type Event struct {
	Kind     EventKind
	Version  uint64
	Origin   settings.Origin
	Settings settings.Settings
}

// SyncError reports a failed remote persistence. It is never retried; the
// next save supersedes it.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Options wires a Store. Every collaborator is optional: a nil Remote means
// "not configured", a nil Cache disables the offline mirror and a nil Host
// drops pushes.
type Options struct {
	Remote        RemoteStore
	Cache         LocalCache
	Host          HostPublisher
	RemoteTimeout time.Duration
	OnChange      func(Event)
	OnSyncError   func(*SyncError)
}

// Store is the single owner of the session's settings.
type Store struct {
	opts Options

	// mu serializes memory and cache writes so the cache observes changes
	// in version order.
	mu      sync.Mutex
	current settings.Settings
	userID  string

	// pushMu orders host pushes. A push older than the last one sent on its
	// channel is dropped.
	pushMu          sync.Mutex
	pushedSettings  uint64
	pushedShortcuts uint64

	version atomic.Uint64
	writes  sync.WaitGroup
}

// New returns a Store holding defaults until Load is called.
func New(opts Options) *Store {
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = defaultRemoteTimeout
	}
	return &Store{opts: opts, current: settings.Defaults()}
}

// Load resolves the session's settings: remote record first, then the local
// cache, then defaults. It never fails; a degraded source is reported in
// the result.
func (s *Store) Load(ctx context.Context, userID string) LoadResult {
	result := LoadResult{Source: SourceDefaults}
	loaded, remoteErr := s.fetchRemote(ctx, userID)
	result.RemoteErr = remoteErr

	switch {
	case remoteErr == nil:
		result.Source = SourceRemote
		s.writeThrough(ctx, loaded)
	default:
		slog.Warn("[WARN-STORE] remote settings unavailable, falling back to local cache",
			"userID", userID, "error", remoteErr)
		if cached, ok := s.readCache(ctx); ok {
			loaded = cached
			result.Source = SourceCache
		} else {
			loaded = settings.Defaults()
		}
	}

	s.mu.Lock()
	s.userID = userID
	s.current = loaded
	version := s.version.Add(1)
	snapshot := settings.Clone(loaded)
	s.mu.Unlock()
	s.pushHost(snapshot, version, true)

	slog.Info("[DEBUG-STORE] settings loaded", "source", result.Source, "version", version)
	s.notify(Event{Kind: EventLoaded, Version: version, Origin: settings.OriginLocal, Settings: snapshot})
	return result
}

func (s *Store) fetchRemote(ctx context.Context, userID string) (settings.Settings, error) {
	if s.opts.Remote == nil {
		return settings.Settings{}, errors.New("remote store not configured")
	}
	if userID == "" {
		return settings.Settings{}, errors.New("no user id")
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.RemoteTimeout)
	defer cancel()
	loaded, err := s.opts.Remote.Fetch(fetchCtx, userID)
	if err != nil {
		return settings.Settings{}, err
	}
	settings.Normalize(&loaded)
	return loaded, nil
}

func (s *Store) readCache(ctx context.Context) (settings.Settings, bool) {
	if s.opts.Cache == nil {
		return settings.Settings{}, false
	}
	cached, found, err := s.opts.Cache.ReadSettings(ctx)
	if err != nil {
		slog.Warn("[WARN-STORE] local cache unreadable, using defaults", "error", err)
		return settings.Settings{}, false
	}
	return cached, found
}

func (s *Store) writeThrough(ctx context.Context, loaded settings.Settings) {
	if s.opts.Cache == nil {
		return
	}
	if err := s.opts.Cache.WriteSettings(ctx, loaded.HostView()); err != nil {
		slog.Warn("[WARN-STORE] cache write-through failed", "key", "settings", "error", err)
	}
	if err := s.opts.Cache.WriteShortcuts(ctx, loaded.Shortcuts); err != nil {
		slog.Warn("[WARN-STORE] cache write-through failed", "key", "shortcuts", "error", err)
	}
}

// Current returns a deep copy of the current settings.
func (s *Store) Current() settings.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return settings.Clone(s.current)
}

// Version returns the version of the latest accepted change.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Apply merges patch into the current settings. Host-originated patches are
// first restricted to the fields the host may change. The change is applied
// in memory, written to the cache, pushed to the host (local origin only)
// and persisted remotely in the background.
func (s *Store) Apply(patch settings.Patch, origin settings.Origin) (settings.Settings, error) {
	if err := patch.Validate(); err != nil {
		return s.Current(), fmt.Errorf("apply settings: %w", err)
	}
	patch, dropped := patch.RestrictTo(origin)
	if len(dropped) > 0 {
		slog.Debug("[DEBUG-STORE] dropped fields the origin may not change", "origin", origin, "fields", dropped)
	}
	return s.commit(origin, origin == settings.OriginLocal, func(settings.Settings) settings.Patch {
		return patch
	}), nil
}

// ToggleOverlay flips the overlay enable flag as one step, so concurrent
// toggles never pick the same target. The result is pushed to the host
// whatever the origin: a host shortcut reports only the key press, not the
// new value.
func (s *Store) ToggleOverlay(origin settings.Origin) settings.Settings {
	return s.commit(origin, true, func(current settings.Settings) settings.Patch {
		return settings.Patch{OverlayEnabled: settings.Bool(!current.OverlayEnabled)}
	})
}

// commit builds a patch from the current settings under the state lock and
// runs the write pipeline for it.
func (s *Store) commit(origin settings.Origin, pushToHost bool, build func(current settings.Settings) settings.Patch) settings.Settings {
	s.mu.Lock()
	next, changed := settings.Apply(s.current, build(s.current))
	if !changed {
		snapshot := settings.Clone(s.current)
		s.mu.Unlock()
		return snapshot
	}
	s.current = next
	version := s.version.Add(1)
	snapshot := settings.Clone(next)
	view := snapshot.HostView()
	userID := s.userID

	if s.opts.Cache != nil {
		if err := s.opts.Cache.WriteSettings(context.Background(), view); err != nil {
			slog.Warn("[WARN-STORE] cache write failed", "key", "settings", "error", err)
		}
	}
	s.mu.Unlock()

	if pushToHost {
		s.pushHost(snapshot, version, false)
	}
	s.notify(Event{Kind: EventSettings, Version: version, Origin: origin, Settings: snapshot})
	s.persist("settings", userID, func(ctx context.Context) error {
		return s.opts.Remote.UpdateSettings(ctx, userID, view)
	})
	return snapshot
}

// SetShortcut replaces the binding of one action. Shortcuts travel only on
// their own channel and cache key.
func (s *Store) SetShortcut(action settings.Action, binding hotkeys.Binding) (settings.Settings, error) {
	if !action.Valid() {
		return s.Current(), fmt.Errorf("set shortcut: unknown action %q", action)
	}
	if binding.IsZero() {
		return s.Current(), errors.New("set shortcut: binding is required")
	}

	s.mu.Lock()
	for other, b := range s.current.Shortcuts {
		if other != action && b == binding {
			s.mu.Unlock()
			return s.Current(), fmt.Errorf("%w: %s is used by %s", ErrShortcutConflict, binding.Accelerator(), other)
		}
	}
	if s.current.Shortcuts[action] == binding {
		snapshot := settings.Clone(s.current)
		s.mu.Unlock()
		return snapshot, nil
	}

	next := settings.Clone(s.current)
	if next.Shortcuts == nil {
		next.Shortcuts = map[settings.Action]hotkeys.Binding{}
	}
	next.Shortcuts[action] = binding
	s.current = next
	version := s.version.Add(1)
	snapshot := settings.Clone(next)
	shortcuts := snapshot.Shortcuts
	userID := s.userID

	if s.opts.Cache != nil {
		if err := s.opts.Cache.WriteShortcuts(context.Background(), shortcuts); err != nil {
			slog.Warn("[WARN-STORE] cache write failed", "key", "shortcuts", "error", err)
		}
	}
	s.mu.Unlock()

	s.pushShortcuts(shortcuts, version)

	s.notify(Event{Kind: EventShortcuts, Version: version, Origin: settings.OriginLocal, Settings: snapshot})
	s.persist("shortcuts", userID, func(ctx context.Context) error {
		return s.opts.Remote.UpdateShortcuts(ctx, userID, shortcuts)
	})
	return snapshot, nil
}

// Resync pushes the current settings and shortcuts to the host, e.g. after
// the host (re)connects.
func (s *Store) Resync() {
	s.mu.Lock()
	snapshot := settings.Clone(s.current)
	version := s.version.Load()
	s.mu.Unlock()
	s.pushHost(snapshot, version, true)
}

// Wait blocks until every in-flight remote write has finished.
func (s *Store) Wait() {
	s.writes.Wait()
}

func (s *Store) pushHost(snapshot settings.Settings, version uint64, withShortcuts bool) {
	if s.opts.Host == nil {
		return
	}
	s.pushMu.Lock()
	if version < s.pushedSettings {
		slog.Debug("[DEBUG-STORE] stale settings push skipped", "version", version, "pushed", s.pushedSettings)
	} else {
		s.pushedSettings = version
		if err := s.opts.Host.PublishSettings(snapshot.HostView(), version); err != nil {
			slog.Debug("[DEBUG-STORE] settings push to host failed", "version", version, "error", err)
		}
	}
	s.pushMu.Unlock()
	if withShortcuts {
		s.pushShortcuts(snapshot.Shortcuts, version)
	}
}

func (s *Store) pushShortcuts(shortcuts map[settings.Action]hotkeys.Binding, version uint64) {
	if s.opts.Host == nil {
		return
	}
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	if version < s.pushedShortcuts {
		slog.Debug("[DEBUG-STORE] stale shortcuts push skipped", "version", version, "pushed", s.pushedShortcuts)
		return
	}
	s.pushedShortcuts = version
	if err := s.opts.Host.PublishShortcuts(shortcuts, version); err != nil {
		slog.Debug("[DEBUG-STORE] shortcuts push to host failed", "version", version, "error", err)
	}
}

func (s *Store) notify(ev Event) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(ev)
	}
}

// persist runs one remote write in the background. Writes are never
// cancelled or retried.
func (s *Store) persist(op, userID string, write func(ctx context.Context) error) {
	if s.opts.Remote == nil || userID == "" {
		slog.Debug("[DEBUG-STORE] remote persistence skipped", "op", op, "reason", "not configured")
		return
	}
	workerutil.Go(&s.writes, "store-persist-"+op, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RemoteTimeout)
		defer cancel()
		if err := write(ctx); err != nil {
			syncErr := &SyncError{Op: op, Err: err}
			slog.Warn("[WARN-STORE] remote persistence failed", "op", op, "error", err)
			if s.opts.OnSyncError != nil {
				s.opts.OnSyncError(syncErr)
			}
			return
		}
		slog.Debug("[DEBUG-STORE] remote persistence done", "op", op)
	})
}
