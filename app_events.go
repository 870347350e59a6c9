package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"perfhud/internal/bridge"
	"perfhud/internal/hotkeys"
	"perfhud/internal/notice"
	"perfhud/internal/render"
	"perfhud/internal/settings"
	"perfhud/internal/store"
	"perfhud/internal/toast"
	"perfhud/internal/wsserver"

	"github.com/fxamacker/cbor/v2"
)

// Frontend event names.
const (
	eventOverlayFrame      = "overlay:frame"
	eventOverlayToasts     = "overlay:toasts"
	eventOverlayNotices    = "overlay:notices"
	eventSettingsUpdated   = "settings:updated"
	eventShortcutsUpdated  = "shortcuts:updated"
	eventShortcutRecording = "shortcut:recording"
	eventHostStatus        = "host:status"
)

// SettingsUpdate is the payload of settings:updated. The frontend keeps the
// highest Version it has seen.
type SettingsUpdate struct {
	Version  uint64            `json:"version"`
	Origin   settings.Origin   `json:"origin"`
	Settings settings.Settings `json:"settings"`
}

// ShortcutView is one binding as the settings screen shows it.
type ShortcutView struct {
	Accelerator string `json:"accelerator"`
	Label       string `json:"label"`
}

// ShortcutsUpdate is the payload of shortcuts:updated.
type ShortcutsUpdate struct {
	Version   uint64                           `json:"version"`
	Shortcuts map[settings.Action]ShortcutView `json:"shortcuts"`
}

// HostStatus is the payload of host:status.
type HostStatus struct {
	Connected  bool   `json:"connected"`
	RemoteAddr string `json:"remoteAddr,omitempty"`
}

func shortcutViews(shortcuts map[settings.Action]hotkeys.Binding) map[settings.Action]ShortcutView {
	views := make(map[settings.Action]ShortcutView, len(shortcuts))
	for action, binding := range shortcuts {
		views[action] = ShortcutView{Accelerator: binding.Accelerator(), Label: hotkeys.Label(binding)}
	}
	return views
}

// emitRuntimeEvent emits via the app context and delegates to emitRuntimeEventWithContext.
func (a *App) emitRuntimeEvent(name string, payload any) {
	a.emitRuntimeEventWithContext(a.runtimeContext(), name, payload)
}

// emitRuntimeEventWithContext emits a runtime event only when ctx is non-nil.
func (a *App) emitRuntimeEventWithContext(ctx context.Context, name string, payload any) {
	if ctx == nil {
		slog.Debug("[EVENT] runtime event dropped because app context is nil", "event", name)
		return
	}
	runtimeEventsEmitFn(ctx, name, payload)
}

// updateFrame runs one state machine step and emits the resulting frame.
// frameMu keeps frames reaching the frontend in the order they were
// computed.
func (a *App) updateFrame(step func() render.Frame) render.Frame {
	a.frameMu.Lock()
	defer a.frameMu.Unlock()
	frame := step()
	a.emitRuntimeEvent(eventOverlayFrame, frame)
	return frame
}

func (a *App) emitToasts(visible []toast.Toast) {
	a.emitRuntimeEvent(eventOverlayToasts, visible)
}

func (a *App) emitNotices(live []notice.Notice) {
	a.emitRuntimeEvent(eventOverlayNotices, live)
}

// onStoreChange feeds accepted settings into the overlay. Store events can
// arrive out of order from concurrent writers; anything older than the
// last applied version is ignored.
func (a *App) onStoreChange(ev store.Event) {
	a.frameMu.Lock()
	defer a.frameMu.Unlock()
	if ev.Version <= a.appliedVersion {
		slog.Debug("[DEBUG-APP] stale settings event ignored", "version", ev.Version, "applied", a.appliedVersion)
		return
	}
	a.appliedVersion = ev.Version

	frame := a.overlay.SetSettings(ev.Settings)
	a.emitRuntimeEvent(eventOverlayFrame, frame)
	if ev.Kind != store.EventShortcuts {
		a.emitRuntimeEvent(eventSettingsUpdated, SettingsUpdate{
			Version:  ev.Version,
			Origin:   ev.Origin,
			Settings: ev.Settings,
		})
	}
	if ev.Kind != store.EventSettings {
		a.emitRuntimeEvent(eventShortcutsUpdated, ShortcutsUpdate{
			Version:   ev.Version,
			Shortcuts: shortcutViews(ev.Settings.Shortcuts),
		})
	}
}

// decodePayload accepts the raw CBOR payload forwarded by the hub or a
// typed value published in process.
func decodePayload[T any](msg bridge.Message) (T, error) {
	var out T
	switch p := msg.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p == nil {
			return out, fmt.Errorf("%s payload: nil", msg.Topic)
		}
		return *p, nil
	case cbor.RawMessage:
		err := wsserver.Envelope{Topic: msg.Topic, Seq: msg.Seq, Payload: p}.Decode(&out)
		return out, err
	default:
		return out, fmt.Errorf("%s payload: unexpected type %T", msg.Topic, msg.Payload)
	}
}

func (a *App) handleTelemetry(msg bridge.Message) {
	sample, err := decodePayload[render.Sample](msg)
	if err != nil {
		slog.Warn("[WARN-APP] telemetry sample dropped", "seq", msg.Seq, "error", err)
		return
	}
	a.updateFrame(func() render.Frame { return a.overlay.UpdateSample(sample) })
}

func (a *App) handleToast(msg bridge.Message) {
	t, err := decodePayload[toast.Toast](msg)
	if err != nil {
		slog.Warn("[WARN-APP] toast dropped", "seq", msg.Seq, "error", err)
		return
	}
	if a.toasts == nil {
		return
	}
	stored := a.toasts.Push(t)
	slog.Debug("[DEBUG-APP] toast queued", "id", stored.ID, "kind", stored.Kind)
}

func (a *App) handleSettingsPatch(msg bridge.Message) {
	patch, err := decodePayload[settings.Patch](msg)
	if err != nil {
		slog.Warn("[WARN-APP] settings patch dropped", "seq", msg.Seq, "error", err)
		return
	}
	if _, err := a.store.Apply(patch, settings.OriginHost); err != nil {
		a.notices.PushError(err)
	}
}

func (a *App) handleShortcutStatus(msg bridge.Message) {
	status, err := decodePayload[wsserver.ShortcutStatusPayload](msg)
	if err != nil {
		slog.Warn("[WARN-APP] shortcut status dropped", "seq", msg.Seq, "error", err)
		return
	}
	if status.Registered {
		slog.Debug("[DEBUG-APP] host registered shortcut", "action", status.Action, "accelerator", status.Accelerator)
		return
	}
	reason := status.Error
	if reason == "" {
		reason = "rejected by the system"
	}
	a.notices.Push(notice.LevelWarning, notice.KindShortcut,
		fmt.Sprintf("Shortcut %s for %s could not be registered: %s", status.Accelerator, status.Action, reason))
}

func (a *App) handleShortcutTriggered(msg bridge.Message) {
	trigger, err := decodePayload[wsserver.ShortcutTriggeredPayload](msg)
	if err != nil {
		slog.Warn("[WARN-APP] shortcut trigger dropped", "seq", msg.Seq, "error", err)
		return
	}
	switch trigger.Action {
	case settings.ActionToggleOverlay:
		if _, err := a.toggleOverlay(settings.OriginHost); err != nil {
			a.notices.PushError(err)
		}
	case settings.ActionToggleMode:
		a.updateFrame(a.overlay.TogglePreview)
	default:
		slog.Warn("[WARN-APP] unknown shortcut action from host", "action", trigger.Action)
	}
}

func (a *App) handleHostStatus(msg bridge.Message) {
	status, err := decodePayload[wsserver.HostStatusPayload](msg)
	if err != nil {
		slog.Warn("[WARN-APP] host status dropped", "seq", msg.Seq, "error", err)
		return
	}
	a.hostConnected.Store(status.Connected)
	a.emitRuntimeEvent(eventHostStatus, HostStatus{Connected: status.Connected, RemoteAddr: status.RemoteAddr})

	if status.Connected {
		a.store.Resync()
		return
	}
	a.updateFrame(a.overlay.ClearTelemetry)
	a.notices.PushError(fmt.Errorf("host disconnected, telemetry paused: %w", bridge.ErrChannelUnavailable))
}

// toggleOverlay flips the persisted overlay flag and shows a hidden window
// when the overlay comes back on.
func (a *App) toggleOverlay(origin settings.Origin) (settings.Settings, error) {
	st, err := a.requireStore()
	if err != nil {
		return settings.Settings{}, err
	}
	next := st.ToggleOverlay(origin)
	if next.OverlayEnabled && a.windowHidden.Load() {
		a.ShowWindow()
	}
	return next, nil
}

var errStoreUnavailable = errors.New("settings store is unavailable")

func (a *App) requireStore() (*store.Store, error) {
	if a.store == nil {
		return nil, errStoreUnavailable
	}
	return a.store, nil
}
