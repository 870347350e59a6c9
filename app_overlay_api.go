package main

import (
	"fmt"
	"log/slog"

	"perfhud/internal/bridge"
	"perfhud/internal/notice"
	"perfhud/internal/render"
	"perfhud/internal/settings"
	"perfhud/internal/toast"
)

// GetFrame returns the current overlay frame.
func (a *App) GetFrame() render.Frame {
	return a.overlay.Frame()
}

// GetOverlayState returns the persisted and effective overlay mode.
func (a *App) GetOverlayState() render.State {
	return a.overlay.State()
}

// TogglePreview flips the session-local Minimal/Full preview. Persisted
// settings are not touched.
func (a *App) TogglePreview() render.Frame {
	return a.updateFrame(a.overlay.TogglePreview)
}

// ClearPreview drops the session-local preview.
func (a *App) ClearPreview() render.Frame {
	return a.updateFrame(a.overlay.ClearPreview)
}

// ToggleOverlay flips the persisted overlay flag from the UI.
func (a *App) ToggleOverlay() (settings.Settings, error) {
	next, err := a.toggleOverlay(settings.OriginLocal)
	if err != nil {
		a.notices.PushError(err)
	}
	return next, err
}

// SelectProcess asks the host to track the process with pid.
func (a *App) SelectProcess(pid int) error {
	if a.hub == nil {
		err := fmt.Errorf("select process %d: %w", pid, bridge.ErrChannelUnavailable)
		a.notices.PushError(err)
		return err
	}
	if err := a.hub.SelectProcess(pid); err != nil {
		a.notices.PushError(err)
		return err
	}
	slog.Debug("[DEBUG-APP] process selection sent", "pid", pid)
	return nil
}

// GetToasts returns the toasts currently rendered, oldest first.
func (a *App) GetToasts() []toast.Toast {
	if a.toasts == nil {
		return []toast.Toast{}
	}
	return a.toasts.Visible()
}

// DismissToast removes a toast before its TTL.
func (a *App) DismissToast(id string) bool {
	if a.toasts == nil {
		return false
	}
	return a.toasts.Dismiss(id)
}

// GetNotices returns the live notices, oldest first.
func (a *App) GetNotices() []notice.Notice {
	return a.notices.Visible()
}

// DismissNotice removes a notice before it clears itself.
func (a *App) DismissNotice(id string) {
	a.notices.Dismiss(id)
}
