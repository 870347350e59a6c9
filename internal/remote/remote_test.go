package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"perfhud/internal/settings"
)

type fakeCollection struct {
	findDoc any
	findErr error

	matched    int64
	updateErr  error
	filters    []any
	updates    []any
	updateOpts [][]*options.UpdateOptions
}

func (f *fakeCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) *mongo.SingleResult {
	f.filters = append(f.filters, filter)
	doc := f.findDoc
	if doc == nil {
		doc = bson.D{}
	}
	return mongo.NewSingleResultFromDocument(doc, f.findErr, nil)
}

func (f *fakeCollection) UpdateOne(_ context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.filters = append(f.filters, filter)
	f.updates = append(f.updates, update)
	f.updateOpts = append(f.updateOpts, opts)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &mongo.UpdateResult{MatchedCount: f.matched, ModifiedCount: f.matched}, nil
}

func TestFetch(t *testing.T) {
	coll := &fakeCollection{findDoc: bson.M{
		"user_id":           "u1",
		"overlay_enabled":   false,
		"overlay_mode":      "full",
		"overlay_position":  "bottom-left",
		"metric_visibility": bson.M{"gpu": false},
		"close_to_tray":     true,
		"shortcuts":         `{"toggle-overlay":"Alt+F9"}`,
	}}
	s := New(coll)

	got, err := s.Fetch(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.OverlayEnabled || got.Mode != settings.ModeFull || got.Position != settings.BottomLeft || !got.CloseToTray {
		t.Fatalf("Fetch() = %+v", got)
	}
	if got.MetricVisibility[settings.MetricGPU] || !got.MetricVisibility[settings.MetricCPU] {
		t.Fatalf("metric visibility = %v", got.MetricVisibility)
	}
	if acc := got.Shortcuts[settings.ActionToggleOverlay].Accelerator(); acc != "Alt+F9" {
		t.Fatalf("toggle-overlay = %q", acc)
	}
	if acc := got.Shortcuts[settings.ActionToggleMode].Accelerator(); acc != "Ctrl+Shift+M" {
		t.Fatalf("missing toggle-mode not defaulted, got %q", acc)
	}

	filter, ok := coll.filters[0].(bson.M)
	if !ok || filter["user_id"] != "u1" {
		t.Fatalf("filter = %#v", coll.filters[0])
	}
}

func TestFetchNotFound(t *testing.T) {
	s := New(&fakeCollection{findErr: mongo.ErrNoDocuments})
	if _, err := s.Fetch(context.Background(), "ghost"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("Fetch() error = %v, want ErrRecordNotFound", err)
	}
}

func TestFetchError(t *testing.T) {
	boom := errors.New("server selection timeout")
	s := New(&fakeCollection{findErr: boom})
	_, err := s.Fetch(context.Background(), "u1")
	if !errors.Is(err, boom) || errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("Fetch() error = %v", err)
	}
}

func TestUpdateSettingsIsUpdateOnly(t *testing.T) {
	coll := &fakeCollection{matched: 1}
	s := New(coll)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	view := settings.Defaults().HostView()
	view.Mode = settings.ModeFull
	if err := s.UpdateSettings(context.Background(), "u1", view); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}

	if len(coll.updateOpts[0]) != 0 {
		t.Fatalf("UpdateOne called with options %v; upsert must never be requested", coll.updateOpts[0])
	}
	update, ok := coll.updates[0].(bson.M)
	if !ok {
		t.Fatalf("update = %#v", coll.updates[0])
	}
	if len(update) != 1 {
		t.Fatalf("update has operators other than $set: %v", update)
	}
	set, ok := update["$set"].(bson.M)
	if !ok {
		t.Fatalf("$set = %#v", update["$set"])
	}
	if set["overlay_mode"] != "full" {
		t.Fatalf("$set = %v", set)
	}
	if updatedAt, ok := set["updated_at"].(time.Time); !ok || !updatedAt.Equal(fixed) {
		t.Fatalf("updated_at = %v, want %v", set["updated_at"], fixed)
	}
	if _, ok := set["shortcuts"]; ok {
		t.Fatal("settings update must not touch shortcuts")
	}
	if _, ok := set["user_id"]; ok {
		t.Fatal("settings update must not rewrite user_id")
	}
}

func TestUpdateShortcuts(t *testing.T) {
	coll := &fakeCollection{matched: 1}
	s := New(coll)
	if err := s.UpdateShortcuts(context.Background(), "u1", settings.DefaultShortcuts()); err != nil {
		t.Fatalf("UpdateShortcuts() error = %v", err)
	}
	set := coll.updates[0].(bson.M)["$set"].(bson.M)
	raw, ok := set["shortcuts"].(string)
	if !ok {
		t.Fatalf("shortcuts = %#v", set["shortcuts"])
	}
	decoded, err := settings.DecodeShortcuts(raw)
	if err != nil {
		t.Fatalf("DecodeShortcuts error = %v", err)
	}
	if decoded[settings.ActionToggleOverlay].Accelerator() != "Ctrl+Shift+O" {
		t.Fatalf("decoded = %v", decoded)
	}
	if _, ok := set["overlay_mode"]; ok {
		t.Fatal("shortcuts update must not touch settings fields")
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	s := New(&fakeCollection{matched: 0})
	err := s.UpdateSettings(context.Background(), "ghost", settings.Defaults().HostView())
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("UpdateSettings() error = %v, want ErrRecordNotFound", err)
	}
}

func TestUpdateError(t *testing.T) {
	boom := errors.New("network down")
	s := New(&fakeCollection{updateErr: boom})
	err := s.UpdateShortcuts(context.Background(), "u1", settings.DefaultShortcuts())
	if !errors.Is(err, boom) {
		t.Fatalf("UpdateShortcuts() error = %v, want wrapped %v", err, boom)
	}
}

func TestConnectValidation(t *testing.T) {
	if _, err := Connect(context.Background(), Options{Database: "db"}); err == nil {
		t.Fatal("Connect without URI expected error")
	}
	if _, err := Connect(context.Background(), Options{URI: "mongodb://localhost:27017"}); err == nil {
		t.Fatal("Connect without database expected error")
	}
}
