package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"perfhud/internal/bridge"
	"perfhud/internal/hotkeys"
	"perfhud/internal/settings"
	"perfhud/internal/workerutil"
	"perfhud/internal/wsserver"
)

// transport is the subset of *wsserver.Client the host uses.
type transport interface {
	Send(topic bridge.Topic, payload any) error
	Receive() (wsserver.Envelope, error)
	Close() error
}

// registrar is the subset of *hotkeys.Manager the host uses.
type registrar interface {
	Register(name string, binding hotkeys.Binding, onTrigger func()) error
	Unregister(name string) error
}

// host plays the privileged side of the bridge: it reports telemetry and
// owns the global shortcut registrations.
type host struct {
	conn    transport
	hotkeys registrar

	mu         sync.Mutex
	registered map[settings.Action]hotkeys.Binding
	telemetry  *telemetryGenerator
	view       settings.HostView
	version    uint64
}

func newHost(conn transport, reg registrar, gen *telemetryGenerator) *host {
	return &host{
		conn:       conn,
		hotkeys:    reg,
		registered: map[settings.Action]hotkeys.Binding{},
		telemetry:  gen,
	}
}

// run streams telemetry every interval and handles inbound frames until
// ctx is done or the connection fails. It closes conn before returning.
func (h *host) run(ctx context.Context, interval time.Duration) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	workerutil.Go(&wg, "host-receive", func() {
		if err := h.receiveLoop(); err != nil {
			errCh <- err
		}
		cancel()
	})
	workerutil.Go(&wg, "host-telemetry", func() {
		if err := h.telemetryLoop(loopCtx, interval); err != nil {
			errCh <- err
		}
		cancel()
	})

	<-loopCtx.Done()
	_ = h.conn.Close()
	wg.Wait()
	if ctx.Err() != nil {
		// Interrupted: the receive error is the close we just did.
		return nil
	}
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (h *host) telemetryLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := h.sendSample(now); err != nil {
				return err
			}
		}
	}
}

func (h *host) sendSample(now time.Time) error {
	h.mu.Lock()
	sample := h.telemetry.Next(now)
	h.mu.Unlock()
	if err := h.conn.Send(bridge.TopicTelemetry, sample); err != nil {
		return fmt.Errorf("send telemetry: %w", err)
	}
	return nil
}

func (h *host) receiveLoop() error {
	for {
		env, err := h.conn.Receive()
		if err != nil {
			return err
		}
		if err := h.handle(env); err != nil {
			slog.Warn("[WARN-HOST] frame not handled", "topic", env.Topic, "seq", env.Seq, "error", err)
		}
	}
}

func (h *host) handle(env wsserver.Envelope) error {
	switch env.Topic {
	case bridge.TopicSettings:
		var payload wsserver.SettingsPayload
		if err := env.Decode(&payload); err != nil {
			return err
		}
		h.mu.Lock()
		if payload.Version >= h.version {
			h.view, h.version = payload.Settings, payload.Version
		}
		h.mu.Unlock()
		slog.Debug("[DEBUG-HOST] settings received", "version", payload.Version,
			"enabled", payload.Settings.OverlayEnabled, "mode", payload.Settings.Mode)
	case bridge.TopicShortcuts:
		var payload wsserver.ShortcutsPayload
		if err := env.Decode(&payload); err != nil {
			return err
		}
		h.applyShortcuts(payload.Shortcuts)
	case bridge.TopicProcessSelect:
		var payload wsserver.ProcessSelectPayload
		if err := env.Decode(&payload); err != nil {
			return err
		}
		h.mu.Lock()
		h.telemetry.selectProcess(payload.PID)
		h.mu.Unlock()
		slog.Info("[HOST] tracking process", "pid", payload.PID)
	case wsserver.TopicError:
		var payload wsserver.ErrorPayload
		if err := env.Decode(&payload); err != nil {
			return err
		}
		slog.Warn("[WARN-HOST] overlay rejected a frame", "message", payload.Message)
	default:
		return fmt.Errorf("unexpected topic %q", env.Topic)
	}
	return nil
}

// applyShortcuts re-registers every binding that changed and reports each
// result on shortcut-status. Changed bindings are released first so two
// actions can swap keys.
func (h *host) applyShortcuts(shortcuts map[settings.Action]hotkeys.Binding) {
	h.mu.Lock()
	var changed []settings.Action
	for _, action := range settings.Actions {
		next, ok := shortcuts[action]
		if !ok || next == h.registered[action] {
			continue
		}
		changed = append(changed, action)
		if _, was := h.registered[action]; was {
			if err := h.hotkeys.Unregister(string(action)); err != nil {
				slog.Debug("[DEBUG-HOST] unregister failed", "action", action, "error", err)
			}
			delete(h.registered, action)
		}
	}

	statuses := make([]wsserver.ShortcutStatusPayload, 0, len(changed))
	for _, action := range changed {
		binding := shortcuts[action]
		status := wsserver.ShortcutStatusPayload{Action: action, Accelerator: binding.Accelerator()}
		err := h.hotkeys.Register(string(action), binding, func() { h.trigger(action) })
		if err != nil {
			status.Error = err.Error()
		} else {
			status.Registered = true
			h.registered[action] = binding
		}
		statuses = append(statuses, status)
	}
	h.mu.Unlock()

	for _, status := range statuses {
		if err := h.conn.Send(bridge.TopicShortcutStatus, status); err != nil {
			slog.Warn("[WARN-HOST] shortcut status not sent", "action", status.Action, "error", err)
		}
	}
}

func (h *host) trigger(action settings.Action) {
	slog.Debug("[DEBUG-HOST] shortcut pressed", "action", action)
	if err := h.conn.Send(bridge.TopicShortcutTriggered, wsserver.ShortcutTriggeredPayload{Action: action}); err != nil {
		slog.Warn("[WARN-HOST] shortcut trigger not sent", "action", action, "error", err)
	}
}

// settingsView returns the last settings the overlay pushed.
func (h *host) settingsView() (settings.HostView, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view, h.version
}
