// Package remote persists overlay settings in the per-user profile
// record of a MongoDB collection. It only ever updates existing records.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"perfhud/internal/hotkeys"
	"perfhud/internal/settings"
)

// DefaultCollection is the collection holding one record per user.
const DefaultCollection = "overlay_settings"

// ErrRecordNotFound is returned when no record exists for the user. The
// store never creates one.
var ErrRecordNotFound = errors.New("remote settings record not found")

// record is the persisted document. Field names are part of the shared
// profile schema.
type record struct {
	UserID           string          `bson:"user_id"`
	OverlayEnabled   bool            `bson:"overlay_enabled"`
	OverlayMode      string          `bson:"overlay_mode"`
	OverlayPosition  string          `bson:"overlay_position"`
	MetricVisibility map[string]bool `bson:"metric_visibility"`
	CloseToTray      bool            `bson:"close_to_tray"`
	Shortcuts        string          `bson:"shortcuts"`
	UpdatedAt        time.Time       `bson:"updated_at"`
}

// Collection is the subset of *mongo.Collection the store needs.
type Collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Options configures Connect.
type Options struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store reads and updates overlay settings records.
type Store struct {
	coll   Collection
	client *mongo.Client
	now    func() time.Time
}

// New wraps an existing collection.
func New(coll Collection) *Store {
	return &Store{coll: coll, now: time.Now}
}

// Connect creates a client for opts.URI. It does not wait for the server:
// an unreachable server surfaces as errors from Fetch and the update calls.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	if opts.URI == "" {
		return nil, errors.New("remote: mongo uri required")
	}
	if opts.Database == "" {
		return nil, errors.New("remote: database required")
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	clientOptions := options.Client().
		ApplyURI(opts.URI).
		SetMaxPoolSize(4).
		SetRetryWrites(false)
	if opts.Timeout > 0 {
		clientOptions = clientOptions.
			SetServerSelectionTimeout(opts.Timeout).
			SetConnectTimeout(opts.Timeout)
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	s := New(client.Database(opts.Database).Collection(opts.Collection))
	s.client = client
	slog.Debug("[DEBUG-REMOTE] mongo client created", "database", opts.Database, "collection", opts.Collection)
	return s, nil
}

// Close disconnects the client created by Connect.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Fetch returns the user's settings.
func (s *Store) Fetch(ctx context.Context, userID string) (settings.Settings, error) {
	var rec record
	err := s.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return settings.Settings{}, ErrRecordNotFound
	}
	if err != nil {
		return settings.Settings{}, fmt.Errorf("failed to fetch overlay settings: %w", err)
	}
	return rec.toSettings(), nil
}

// UpdateSettings sets the shortcut-free settings fields of the user's
// record.
func (s *Store) UpdateSettings(ctx context.Context, userID string, view settings.HostView) error {
	visibility := make(map[string]bool, len(view.MetricVisibility))
	for m, visible := range view.MetricVisibility {
		visibility[string(m)] = visible
	}
	return s.update(ctx, userID, bson.M{
		"overlay_enabled":   view.OverlayEnabled,
		"overlay_mode":      string(view.Mode),
		"overlay_position":  string(view.Position),
		"metric_visibility": visibility,
		"close_to_tray":     view.CloseToTray,
	})
}

// UpdateShortcuts sets the shortcuts field of the user's record.
func (s *Store) UpdateShortcuts(ctx context.Context, userID string, shortcuts map[settings.Action]hotkeys.Binding) error {
	encoded, err := settings.EncodeShortcuts(shortcuts)
	if err != nil {
		return err
	}
	return s.update(ctx, userID, bson.M{"shortcuts": encoded})
}

func (s *Store) update(ctx context.Context, userID string, fields bson.M) error {
	fields["updated_at"] = s.now().UTC()
	result, err := s.coll.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update overlay settings: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r record) toSettings() settings.Settings {
	out := settings.Settings{
		OverlayEnabled:   r.OverlayEnabled,
		Mode:             settings.Mode(r.OverlayMode),
		Position:         settings.Position(r.OverlayPosition),
		MetricVisibility: make(map[settings.Metric]bool, len(r.MetricVisibility)),
		CloseToTray:      r.CloseToTray,
	}
	for name, visible := range r.MetricVisibility {
		out.MetricVisibility[settings.Metric(name)] = visible
	}
	if r.Shortcuts != "" {
		shortcuts, err := settings.DecodeShortcuts(r.Shortcuts)
		if err != nil {
			slog.Warn("[WARN-REMOTE] stored shortcuts are unreadable, using defaults", "userID", r.UserID, "error", err)
		} else {
			out.Shortcuts = shortcuts
		}
	}
	settings.Normalize(&out)
	return out
}
