// Package localcache is the on-disk mirror of the overlay settings: a
// string-keyed table of JSON blobs in a local SQLite file.
package localcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"perfhud/internal/hotkeys"
	"perfhud/internal/settings"

	_ "modernc.org/sqlite"
)

const (
	// KeySettings holds the shortcut-free settings snapshot.
	KeySettings = "overlay.settings"
	// KeyShortcuts holds the shortcuts map.
	KeyShortcuts = "overlay.shortcuts"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("cache entry not found")

var nowFn = time.Now

// Cache is a key/value store backed by SQLite.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Cache, error) {
	if path == "" {
		return nil, errors.New("cache path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers; the cache sees a handful of
	// writes per user action.
	db.SetMaxOpenConns(1)

	c := &Cache{db: db}
	if err := c.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := c.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (c *Cache) initSchema() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create kv table: %w", err)
	}
	return nil
}

// Close closes the database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the value stored under key.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("cache get %q: %w", key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (c *Cache) Put(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowFn().UnixMilli())
	if err != nil {
		return fmt.Errorf("cache put %q: %w", key, err)
	}
	return nil
}

// ReadSettings assembles the cached settings. found is false when no
// settings snapshot was ever written. A missing or unreadable shortcuts
// entry falls back to the default shortcuts.
func (c *Cache) ReadSettings(ctx context.Context) (settings.Settings, bool, error) {
	raw, err := c.Get(ctx, KeySettings)
	if errors.Is(err, ErrNotFound) {
		return settings.Settings{}, false, nil
	}
	if err != nil {
		return settings.Settings{}, false, err
	}

	var view settings.HostView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		return settings.Settings{}, false, fmt.Errorf("decode cached settings: %w", err)
	}
	out := settings.Settings{
		OverlayEnabled:   view.OverlayEnabled,
		Mode:             view.Mode,
		Position:         view.Position,
		MetricVisibility: view.MetricVisibility,
		CloseToTray:      view.CloseToTray,
	}

	rawShortcuts, err := c.Get(ctx, KeyShortcuts)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		slog.Warn("[WARN-CACHE] failed to read cached shortcuts, using defaults", "error", err)
	default:
		shortcuts, decodeErr := settings.DecodeShortcuts(rawShortcuts)
		if decodeErr != nil {
			slog.Warn("[WARN-CACHE] failed to decode cached shortcuts, using defaults", "error", decodeErr)
		} else {
			out.Shortcuts = shortcuts
		}
	}
	settings.Normalize(&out)
	return out, true, nil
}

// WriteSettings stores the shortcut-free snapshot.
func (c *Cache) WriteSettings(ctx context.Context, view settings.HostView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return c.Put(ctx, KeySettings, string(data))
}

// WriteShortcuts stores the shortcuts map.
func (c *Cache) WriteShortcuts(ctx context.Context, shortcuts map[settings.Action]hotkeys.Binding) error {
	data, err := settings.EncodeShortcuts(shortcuts)
	if err != nil {
		return err
	}
	return c.Put(ctx, KeyShortcuts, data)
}
