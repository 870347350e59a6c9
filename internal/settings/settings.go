package settings

import (
	"log/slog"
	"maps"

	"perfhud/internal/hotkeys"
)

// Mode selects how much the overlay shows.
type Mode string

const (
	ModeMinimal Mode = "minimal"
	ModeFull    Mode = "full"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeMinimal || m == ModeFull }

// Toggle returns the other mode.
func (m Mode) Toggle() Mode {
	if m == ModeFull {
		return ModeMinimal
	}
	return ModeFull
}

// Position is the screen corner the overlay is anchored to.
type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
)

// Valid reports whether p is a known corner.
func (p Position) Valid() bool {
	switch p {
	case TopLeft, TopRight, BottomLeft, BottomRight:
		return true
	}
	return false
}

// Metric names one telemetry reading the overlay can show.
type Metric string

const (
	MetricCPU  Metric = "cpu"
	MetricGPU  Metric = "gpu"
	MetricRAM  Metric = "ram"
	MetricDisk Metric = "disk"
	MetricFPS  Metric = "fps"
)

// Metrics lists every metric in display order.
var Metrics = []Metric{MetricCPU, MetricGPU, MetricRAM, MetricDisk, MetricFPS}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricCPU, MetricGPU, MetricRAM, MetricDisk, MetricFPS:
		return true
	}
	return false
}

// Action names a bindable shortcut action.
type Action string

const (
	// ActionToggleOverlay flips the persisted overlayEnabled flag.
	ActionToggleOverlay Action = "toggle-overlay"
	// ActionToggleMode flips the session-local Minimal/Full preview.
	ActionToggleMode Action = "toggle-mode"
)

// Actions lists every bindable action.
var Actions = []Action{ActionToggleOverlay, ActionToggleMode}

// Valid reports whether a is a known action.
func (a Action) Valid() bool { return a == ActionToggleOverlay || a == ActionToggleMode }

// Settings is the overlay/display configuration of one user.
type Settings struct {
	OverlayEnabled   bool                       `json:"overlayEnabled"`
	Mode             Mode                       `json:"mode"`
	Position         Position                   `json:"position"`
	MetricVisibility map[Metric]bool            `json:"metricVisibility"`
	Shortcuts        map[Action]hotkeys.Binding `json:"shortcuts"`
	CloseToTray      bool                       `json:"closeToTray"`
}

// HostView is Settings without shortcuts. It is the payload of the settings
// channel; shortcuts travel only on their own channel.
type HostView struct {
	OverlayEnabled   bool            `json:"overlayEnabled"`
	Mode             Mode            `json:"mode"`
	Position         Position        `json:"position"`
	MetricVisibility map[Metric]bool `json:"metricVisibility"`
	CloseToTray      bool            `json:"closeToTray"`
}

// DefaultShortcuts returns the built-in bindings.
func DefaultShortcuts() map[Action]hotkeys.Binding {
	return map[Action]hotkeys.Binding{
		ActionToggleOverlay: mustBinding("Ctrl+Shift+O"),
		ActionToggleMode:    mustBinding("Ctrl+Shift+M"),
	}
}

func mustBinding(spec string) hotkeys.Binding {
	b, err := hotkeys.ParseAccelerator(spec)
	if err != nil {
		panic(err)
	}
	return b
}

// Defaults returns the settings used when neither the remote store nor the
// local cache has anything.
func Defaults() Settings {
	visibility := make(map[Metric]bool, len(Metrics))
	for _, m := range Metrics {
		visibility[m] = true
	}
	return Settings{
		OverlayEnabled:   true,
		Mode:             ModeMinimal,
		Position:         TopRight,
		MetricVisibility: visibility,
		Shortcuts:        DefaultShortcuts(),
		CloseToTray:      false,
	}
}

// Clone returns a deep copy of s.
func Clone(s Settings) Settings {
	dst := s
	if s.MetricVisibility != nil {
		dst.MetricVisibility = maps.Clone(s.MetricVisibility)
	}
	if s.Shortcuts != nil {
		dst.Shortcuts = maps.Clone(s.Shortcuts)
	}
	return dst
}

// HostView returns the shortcut-free projection of s.
func (s Settings) HostView() HostView {
	return HostView{
		OverlayEnabled:   s.OverlayEnabled,
		Mode:             s.Mode,
		Position:         s.Position,
		MetricVisibility: maps.Clone(s.MetricVisibility),
		CloseToTray:      s.CloseToTray,
	}
}

// MetricVisible reports whether metric m is shown. Unknown entries count
// as visible.
func (s Settings) MetricVisible(m Metric) bool {
	visible, ok := s.MetricVisibility[m]
	return !ok || visible
}

// Normalize repairs settings read from an external source in place.
// Invalid values fall back to defaults with a warning; it never fails.
func Normalize(s *Settings) {
	defaults := Defaults()
	if !s.Mode.Valid() {
		if s.Mode != "" {
			slog.Warn("[WARN-SETTINGS] invalid mode, falling back to default", "mode", s.Mode)
		}
		s.Mode = defaults.Mode
	}
	if !s.Position.Valid() {
		if s.Position != "" {
			slog.Warn("[WARN-SETTINGS] invalid position, falling back to default", "position", s.Position)
		}
		s.Position = defaults.Position
	}

	visibility := make(map[Metric]bool, len(Metrics))
	for _, m := range Metrics {
		visibility[m] = true
	}
	for m, visible := range s.MetricVisibility {
		if !m.Valid() {
			slog.Debug("[DEBUG-SETTINGS] dropping unknown metric", "metric", m)
			continue
		}
		visibility[m] = visible
	}
	s.MetricVisibility = visibility

	s.Shortcuts = NormalizeShortcuts(s.Shortcuts)
}

// NormalizeShortcuts drops unknown actions and zero bindings and fills
// missing actions with their defaults. The result is a new map.
func NormalizeShortcuts(in map[Action]hotkeys.Binding) map[Action]hotkeys.Binding {
	out := DefaultShortcuts()
	for action, b := range in {
		if !action.Valid() {
			slog.Debug("[DEBUG-SETTINGS] dropping shortcut for unknown action", "action", action)
			continue
		}
		if b.IsZero() {
			continue
		}
		out[action] = b
	}
	return out
}
