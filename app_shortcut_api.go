package main

import (
	"fmt"
	"log/slog"

	"perfhud/internal/hotkeys"
	"perfhud/internal/settings"
)

// ShortcutRecording is the payload of shortcut:recording and the result of
// HandleShortcutKey.
type ShortcutRecording struct {
	Action      settings.Action `json:"action"`
	Active      bool            `json:"active"`
	Outcome     string          `json:"outcome,omitempty"`
	Accelerator string          `json:"accelerator,omitempty"`
	Label       string          `json:"label,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// StartShortcutRecording begins capturing a binding for action. A
// recording already in progress is cancelled.
func (a *App) StartShortcutRecording(action settings.Action) error {
	if !action.Valid() {
		return fmt.Errorf("start shortcut recording: unknown action %q", action)
	}
	if cancelled := a.recorder.Start(string(action)); cancelled != "" {
		slog.Debug("[DEBUG-APP] previous shortcut recording cancelled", "action", cancelled)
		a.emitRuntimeEvent(eventShortcutRecording, ShortcutRecording{
			Action:  settings.Action(cancelled),
			Outcome: hotkeys.OutcomeAborted.String(),
		})
	}
	a.emitRuntimeEvent(eventShortcutRecording, ShortcutRecording{Action: action, Active: true})
	return nil
}

// CancelShortcutRecording ends the active recording without a result.
func (a *App) CancelShortcutRecording() bool {
	action, active := a.recorder.Active()
	if !a.recorder.Cancel() {
		return false
	}
	if active {
		a.emitRuntimeEvent(eventShortcutRecording, ShortcutRecording{
			Action:  settings.Action(action),
			Outcome: hotkeys.OutcomeAborted.String(),
		})
	}
	return true
}

// HandleShortcutKey feeds one key press from the settings screen into the
// active recording. A captured binding is saved right away.
func (a *App) HandleShortcutKey(ev hotkeys.KeyEvent) ShortcutRecording {
	result := a.recorder.HandleKey(ev)
	status := ShortcutRecording{
		Action:  settings.Action(result.Action),
		Active:  result.Outcome == hotkeys.OutcomeIgnored,
		Outcome: result.Outcome.String(),
	}

	switch result.Outcome {
	case hotkeys.OutcomeInactive:
		return status
	case hotkeys.OutcomeIgnored:
		// Modifier held; keep waiting without telling the frontend again.
		return status
	case hotkeys.OutcomeRejected:
		status.Error = result.Err.Error()
		a.notices.PushError(result.Err)
	case hotkeys.OutcomeRecorded:
		status.Accelerator = result.Binding.Accelerator()
		status.Label = hotkeys.Label(result.Binding)
		if _, err := a.saveShortcut(status.Action, result.Binding); err != nil {
			status.Outcome = hotkeys.OutcomeRejected.String()
			status.Error = err.Error()
		}
	}
	a.emitRuntimeEvent(eventShortcutRecording, status)
	return status
}

// SetShortcut binds action to an accelerator string such as "Ctrl+Shift+O".
func (a *App) SetShortcut(action settings.Action, accelerator string) (settings.Settings, error) {
	binding, err := hotkeys.ParseAccelerator(accelerator)
	if err != nil {
		a.notices.PushError(err)
		return a.GetSettings(), err
	}
	return a.saveShortcut(action, binding)
}

// ResetShortcuts restores the built-in bindings. It stops at the first
// action whose default is held by another action.
func (a *App) ResetShortcuts() (settings.Settings, error) {
	next := a.GetSettings()
	defaults := settings.DefaultShortcuts()
	for _, action := range settings.Actions {
		var err error
		if next, err = a.saveShortcut(action, defaults[action]); err != nil {
			return next, err
		}
	}
	return next, nil
}

// GetShortcuts returns the current bindings with display labels.
func (a *App) GetShortcuts() map[settings.Action]ShortcutView {
	return shortcutViews(a.GetSettings().Shortcuts)
}

func (a *App) saveShortcut(action settings.Action, binding hotkeys.Binding) (settings.Settings, error) {
	st, err := a.requireStore()
	if err != nil {
		return settings.Defaults(), err
	}
	next, err := st.SetShortcut(action, binding)
	if err != nil {
		a.notices.PushError(err)
		return next, err
	}
	return next, nil
}
