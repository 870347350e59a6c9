package render

import (
	"log/slog"
	"sync"

	"perfhud/internal/settings"
)

// State is the render state the overlay reports to the shell.
type State struct {
	Enabled       bool          `json:"enabled"`
	PersistedMode settings.Mode `json:"persistedMode"`
	EffectiveMode settings.Mode `json:"effectiveMode"`
	Preview       bool          `json:"preview"`
}

// Machine holds the inputs of Render: the last settings, the last sample
// and the session-only mode preview. Every mutator returns the new frame.
type Machine struct {
	mu       sync.Mutex
	settings settings.Settings
	sample   *Sample
	preview  *settings.Mode
}

// NewMachine returns a machine showing s with no telemetry yet.
func NewMachine(s settings.Settings) *Machine {
	return &Machine{settings: settings.Clone(s)}
}

// SetSettings replaces the settings. A change of the persisted mode
// discards any preview, since the user picked a mode explicitly.
func (m *Machine) SetSettings(s settings.Settings) Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.preview != nil && s.Mode != m.settings.Mode {
		slog.Debug("[DEBUG-RENDER] persisted mode changed, clearing preview",
			"from", m.settings.Mode, "to", s.Mode)
		m.preview = nil
	}
	m.settings = settings.Clone(s)
	return m.frameLocked()
}

// UpdateSample records the latest telemetry. The newest sample always wins.
// Samples are accepted while the overlay is hidden so that re-enabling it
// shows current numbers.
func (m *Machine) UpdateSample(sample Sample) Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sample.Game != nil {
		game := *sample.Game
		sample.Game = &game
	}
	m.sample = &sample
	return m.frameLocked()
}

// ClearTelemetry drops the last sample, e.g. when the host goes away.
func (m *Machine) ClearTelemetry() Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sample = nil
	return m.frameLocked()
}

// TogglePreview flips the effective mode for this session without touching
// the persisted mode. Toggling back to the persisted mode ends the preview.
func (m *Machine) TogglePreview() Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.effectiveModeLocked().Toggle()
	if next == m.persistedModeLocked() {
		m.preview = nil
	} else {
		m.preview = &next
	}
	return m.frameLocked()
}

// ClearPreview ends any preview.
func (m *Machine) ClearPreview() Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preview = nil
	return m.frameLocked()
}

// Frame renders the current inputs.
func (m *Machine) Frame() Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frameLocked()
}

// State reports the enabled flag and modes.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Enabled:       m.settings.OverlayEnabled,
		PersistedMode: m.persistedModeLocked(),
		EffectiveMode: m.effectiveModeLocked(),
		Preview:       m.preview != nil,
	}
}

// LastSample returns a copy of the latest sample, if any.
func (m *Machine) LastSample() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sample == nil {
		return Sample{}, false
	}
	return *m.sample, true
}

func (m *Machine) persistedModeLocked() settings.Mode {
	if m.settings.Mode.Valid() {
		return m.settings.Mode
	}
	return settings.ModeMinimal
}

func (m *Machine) effectiveModeLocked() settings.Mode {
	if m.preview != nil {
		return *m.preview
	}
	return m.persistedModeLocked()
}

func (m *Machine) frameLocked() Frame {
	return Render(m.settings, m.sample, m.preview)
}
