package main

import (
	"perfhud/internal/config"
	"perfhud/internal/settings"
)

// GetSettings returns the current settings. Before startup it returns the
// defaults.
func (a *App) GetSettings() settings.Settings {
	st, err := a.requireStore()
	if err != nil {
		return settings.Defaults()
	}
	return st.Current()
}

// GetSettingsVersion returns the version stamp of the current settings.
func (a *App) GetSettingsVersion() uint64 {
	st, err := a.requireStore()
	if err != nil {
		return 0
	}
	return st.Version()
}

// UpdateSettings applies a partial update made in the settings screen.
// Shortcuts are changed through SetShortcut.
func (a *App) UpdateSettings(patch settings.Patch) (settings.Settings, error) {
	st, err := a.requireStore()
	if err != nil {
		return settings.Defaults(), err
	}
	next, err := st.Apply(patch, settings.OriginLocal)
	if err != nil {
		a.notices.PushError(err)
		return next, err
	}
	return next, nil
}

// GetConfig returns the app config loaded at startup or by the last reload.
func (a *App) GetConfig() config.Config {
	return a.getConfigSnapshot()
}
