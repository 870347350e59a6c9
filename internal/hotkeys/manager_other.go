//go:build !windows

package hotkeys

import (
	"log/slog"
	"sync"
)

// Manager owns the global hotkey registrations of one process, keyed by a
// caller-chosen name (typically the shortcut action).
type Manager struct {
	mu     sync.Mutex
	active map[string]Binding
}

// NewManager creates a new hotkey manager.
func NewManager() *Manager {
	return &Manager{active: map[string]Binding{}}
}

// Register validates and records the binding. No OS-level hotkey exists on
// this platform, so onTrigger never fires.
func (m *Manager) Register(name string, binding Binding, onTrigger func()) error {
	if err := validateRegistration(name, binding, onTrigger); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if owner := conflictingName(m.active, name, binding); owner != "" {
		return bindingInUseError(binding, owner)
	}

	slog.Warn("[WARN-HOTKEY] global hotkeys are not supported on this platform; binding recorded but will never fire",
		"name", name, "binding", binding.Accelerator())
	m.active[name] = binding
	return nil
}

// Unregister removes the registration with the given name, if any.
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, name)
	return nil
}

// Close removes every registration.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.active)
	return nil
}

// Bindings returns the active accelerators keyed by registration name.
func (m *Manager) Bindings() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshotBindings(m.active)
}
