package settings

import (
	"fmt"
	"maps"
)

// Origin identifies who produced a change.
type Origin string

const (
	// OriginLocal is the overlay core's own UI.
	OriginLocal Origin = "local"
	// OriginHost is the privileged host process.
	OriginHost Origin = "host"
)

// Patch is a partial settings update. Nil fields are left unchanged.
// MetricVisibility merges key by key. Shortcuts are never part of a patch.
type Patch struct {
	OverlayEnabled   *bool           `json:"overlayEnabled,omitempty"`
	Mode             *Mode           `json:"mode,omitempty"`
	Position         *Position       `json:"position,omitempty"`
	MetricVisibility map[Metric]bool `json:"metricVisibility,omitempty"`
	CloseToTray      *bool           `json:"closeToTray,omitempty"`
}

// IsEmpty reports whether p changes nothing.
func (p Patch) IsEmpty() bool {
	return p.OverlayEnabled == nil && p.Mode == nil && p.Position == nil &&
		len(p.MetricVisibility) == 0 && p.CloseToTray == nil
}

// Validate rejects unknown enum values.
func (p Patch) Validate() error {
	if p.Mode != nil && !p.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", *p.Mode)
	}
	if p.Position != nil && !p.Position.Valid() {
		return fmt.Errorf("invalid position %q", *p.Position)
	}
	for m := range p.MetricVisibility {
		if !m.Valid() {
			return fmt.Errorf("invalid metric %q", m)
		}
	}
	return nil
}

// RestrictTo returns the subset of p that origin may change, plus the
// names of the dropped fields. The host may only touch the enable flag,
// the mode and metric visibility.
func (p Patch) RestrictTo(origin Origin) (Patch, []string) {
	if origin != OriginHost {
		return p, nil
	}
	var dropped []string
	if p.Position != nil {
		dropped = append(dropped, "position")
	}
	if p.CloseToTray != nil {
		dropped = append(dropped, "closeToTray")
	}
	return Patch{
		OverlayEnabled:   p.OverlayEnabled,
		Mode:             p.Mode,
		MetricVisibility: p.MetricVisibility,
	}, dropped
}

// Apply merges p into a copy of s and reports whether anything changed.
func Apply(s Settings, p Patch) (Settings, bool) {
	out := Clone(s)
	changed := false
	if p.OverlayEnabled != nil && *p.OverlayEnabled != out.OverlayEnabled {
		out.OverlayEnabled = *p.OverlayEnabled
		changed = true
	}
	if p.Mode != nil && *p.Mode != out.Mode {
		out.Mode = *p.Mode
		changed = true
	}
	if p.Position != nil && *p.Position != out.Position {
		out.Position = *p.Position
		changed = true
	}
	if p.CloseToTray != nil && *p.CloseToTray != out.CloseToTray {
		out.CloseToTray = *p.CloseToTray
		changed = true
	}
	if len(p.MetricVisibility) > 0 {
		if out.MetricVisibility == nil {
			out.MetricVisibility = make(map[Metric]bool, len(p.MetricVisibility))
		}
		for m, visible := range p.MetricVisibility {
			if current, ok := out.MetricVisibility[m]; !ok || current != visible {
				out.MetricVisibility[m] = visible
				changed = true
			}
		}
	}
	return out, changed
}

// Clone returns a deep copy of p.
func (p Patch) Clone() Patch {
	out := p
	if p.MetricVisibility != nil {
		out.MetricVisibility = maps.Clone(p.MetricVisibility)
	}
	return out
}

// Bool returns a pointer to v, for building patches.
func Bool(v bool) *bool { return &v }

// ModePtr returns a pointer to m, for building patches.
func ModePtr(m Mode) *Mode { return &m }

// PositionPtr returns a pointer to p, for building patches.
func PositionPtr(p Position) *Position { return &p }
