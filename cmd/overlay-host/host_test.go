package main

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"perfhud/internal/bridge"
	"perfhud/internal/hotkeys"
	"perfhud/internal/render"
	"perfhud/internal/settings"
	"perfhud/internal/testutil"
	"perfhud/internal/wsserver"
)

const waitTimeout = 2 * time.Second

type sentFrame struct {
	topic   bridge.Topic
	payload any
}

type fakeConn struct {
	mu      sync.Mutex
	sent    []sentFrame
	inbound chan wsserver.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan wsserver.Envelope, 8), closed: make(chan struct{})}
}

func (c *fakeConn) Send(topic bridge.Topic, payload any) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentFrame{topic: topic, payload: payload})
	return nil
}

func (c *fakeConn) Receive() (wsserver.Envelope, error) {
	select {
	case env := <-c.inbound:
		return env, nil
	case <-c.closed:
		return wsserver.Envelope{}, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) byTopic(topic bridge.Topic) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, f := range c.sent {
		if f.topic == topic {
			out = append(out, f.payload)
		}
	}
	return out
}

type fakeRegistrar struct {
	calls    []string
	active   map[string]hotkeys.Binding
	triggers map[string]func()
	fail     map[string]error
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{
		active:   map[string]hotkeys.Binding{},
		triggers: map[string]func(){},
		fail:     map[string]error{},
	}
}

func (r *fakeRegistrar) Register(name string, binding hotkeys.Binding, onTrigger func()) error {
	r.calls = append(r.calls, "register "+name)
	if err := r.fail[name]; err != nil {
		return err
	}
	r.active[name] = binding
	r.triggers[name] = onTrigger
	return nil
}

func (r *fakeRegistrar) Unregister(name string) error {
	r.calls = append(r.calls, "unregister "+name)
	delete(r.active, name)
	delete(r.triggers, name)
	return nil
}

func envelope(t *testing.T, topic bridge.Topic, payload any) wsserver.Envelope {
	t.Helper()
	frame, err := wsserver.EncodeEnvelope(topic, 1, payload)
	if err != nil {
		t.Fatalf("EncodeEnvelope error = %v", err)
	}
	env, err := wsserver.DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("DecodeEnvelope error = %v", err)
	}
	return env
}

func mustBinding(t *testing.T, spec string) hotkeys.Binding {
	t.Helper()
	b, err := hotkeys.ParseAccelerator(spec)
	if err != nil {
		t.Fatalf("ParseAccelerator(%q) error = %v", spec, err)
	}
	return b
}

func newTestHost() (*host, *fakeConn, *fakeRegistrar) {
	conn := newFakeConn()
	reg := newFakeRegistrar()
	return newHost(conn, reg, newTelemetryGenerator(7, nil)), conn, reg
}

func statuses(conn *fakeConn) []wsserver.ShortcutStatusPayload {
	var out []wsserver.ShortcutStatusPayload
	for _, p := range conn.byTopic(bridge.TopicShortcutStatus) {
		out = append(out, p.(wsserver.ShortcutStatusPayload))
	}
	return out
}

func TestHostRegistersShortcuts(t *testing.T) {
	h, conn, reg := newTestHost()

	err := h.handle(envelope(t, bridge.TopicShortcuts, wsserver.ShortcutsPayload{
		Version:   1,
		Shortcuts: settings.DefaultShortcuts(),
	}))
	if err != nil {
		t.Fatalf("handle error = %v", err)
	}

	if got := reg.active[string(settings.ActionToggleOverlay)].Accelerator(); got != "Ctrl+Shift+O" {
		t.Fatalf("toggle-overlay registered as %q", got)
	}
	got := statuses(conn)
	if len(got) != 2 {
		t.Fatalf("statuses = %+v, want 2", got)
	}
	for _, s := range got {
		if !s.Registered || s.Error != "" {
			t.Fatalf("status = %+v, want registered", s)
		}
	}

	// The same bindings again change nothing.
	h.applyShortcuts(settings.DefaultShortcuts())
	if len(statuses(conn)) != 2 || len(reg.calls) != 2 {
		t.Fatalf("unchanged bindings re-registered: calls=%v", reg.calls)
	}
}

func TestHostReportsRegistrationFailure(t *testing.T) {
	h, conn, reg := newTestHost()
	reg.fail[string(settings.ActionToggleMode)] = errors.New("hotkey already registered by another application")

	h.applyShortcuts(settings.DefaultShortcuts())

	var failed *wsserver.ShortcutStatusPayload
	for _, s := range statuses(conn) {
		if s.Action == settings.ActionToggleMode {
			failed = &s
		}
	}
	if failed == nil || failed.Registered || failed.Error == "" {
		t.Fatalf("toggle-mode status = %+v, want a failure", failed)
	}
	if failed.Accelerator != "Ctrl+Shift+M" {
		t.Fatalf("failed accelerator = %q", failed.Accelerator)
	}

	// A failed binding is retried on the next push.
	delete(reg.fail, string(settings.ActionToggleMode))
	h.applyShortcuts(settings.DefaultShortcuts())
	if _, ok := reg.active[string(settings.ActionToggleMode)]; !ok {
		t.Fatal("toggle-mode not retried")
	}
}

func TestHostSwapsBindingsWithoutConflict(t *testing.T) {
	h, _, reg := newTestHost()
	h.applyShortcuts(settings.DefaultShortcuts())
	reg.calls = nil

	h.applyShortcuts(map[settings.Action]hotkeys.Binding{
		settings.ActionToggleOverlay: mustBinding(t, "Ctrl+Shift+M"),
		settings.ActionToggleMode:    mustBinding(t, "Ctrl+Shift+O"),
	})

	want := []string{
		"unregister toggle-overlay",
		"unregister toggle-mode",
		"register toggle-overlay",
		"register toggle-mode",
	}
	if !slices.Equal(reg.calls, want) {
		t.Fatalf("calls = %v, want %v", reg.calls, want)
	}
}

func TestHostForwardsShortcutPress(t *testing.T) {
	h, conn, reg := newTestHost()
	h.applyShortcuts(settings.DefaultShortcuts())

	reg.triggers[string(settings.ActionToggleMode)]()

	sent := conn.byTopic(bridge.TopicShortcutTriggered)
	if len(sent) != 1 {
		t.Fatalf("triggered frames = %d, want 1", len(sent))
	}
	if got := sent[0].(wsserver.ShortcutTriggeredPayload).Action; got != settings.ActionToggleMode {
		t.Fatalf("triggered action = %q", got)
	}
}

func TestHostTracksSettingsAndProcess(t *testing.T) {
	h, _, _ := newTestHost()

	newer := settings.Defaults().HostView()
	newer.Mode = settings.ModeFull
	if err := h.handle(envelope(t, bridge.TopicSettings, wsserver.SettingsPayload{Version: 4, Settings: newer})); err != nil {
		t.Fatalf("handle settings error = %v", err)
	}
	if err := h.handle(envelope(t, bridge.TopicSettings, wsserver.SettingsPayload{Version: 3, Settings: settings.Defaults().HostView()})); err != nil {
		t.Fatalf("handle settings error = %v", err)
	}
	view, version := h.settingsView()
	if version != 4 || view.Mode != settings.ModeFull {
		t.Fatalf("settings view = %+v v%d, want full v4", view, version)
	}

	if err := h.handle(envelope(t, bridge.TopicProcessSelect, wsserver.ProcessSelectPayload{PID: 4242})); err != nil {
		t.Fatalf("handle process:select error = %v", err)
	}
	sample := h.telemetry.Next(time.Now())
	if sample.Game == nil || sample.Game.PID != 4242 {
		t.Fatalf("sample game = %+v, want pid 4242", sample.Game)
	}

	if err := h.handle(envelope(t, wsserver.TopicError, wsserver.ErrorPayload{Message: "bad frame"})); err != nil {
		t.Fatalf("handle error topic = %v", err)
	}
	if err := h.handle(envelope(t, bridge.TopicToast, map[string]string{"title": "x"})); err == nil {
		t.Fatal("handle toast error = nil, want unexpected topic")
	}
}

func TestHostRunStreamsUntilCancelled(t *testing.T) {
	h, conn, _ := newTestHost()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.run(ctx, 5*time.Millisecond) }()

	testutil.WaitFor(t, waitTimeout, func() bool { return len(conn.byTopic(bridge.TopicTelemetry)) >= 2 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run error = %v, want nil on cancel", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("run did not return after cancel")
	}
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection left open")
	}
}

func TestHostRunReportsConnectionLoss(t *testing.T) {
	h, conn, _ := newTestHost()
	done := make(chan error, 1)
	go func() { done <- h.run(context.Background(), time.Hour) }()

	_ = conn.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("run error = nil, want the receive failure")
		}
	case <-time.After(waitTimeout):
		t.Fatal("run did not return after connection loss")
	}
}

func TestHostAgainstHub(t *testing.T) {
	bus := bridge.New(bridge.Options{})
	t.Cleanup(bus.Close)
	var mu sync.Mutex
	var got []bridge.Topic
	for _, topic := range []bridge.Topic{bridge.TopicTelemetry, bridge.TopicShortcutStatus} {
		unsubscribe, err := bus.Subscribe(topic, func(msg bridge.Message) {
			mu.Lock()
			got = append(got, msg.Topic)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Subscribe error = %v", err)
		}
		t.Cleanup(unsubscribe)
	}
	seen := func(topic bridge.Topic) bool {
		mu.Lock()
		defer mu.Unlock()
		return slices.Contains(got, topic)
	}

	hub := wsserver.NewHub(wsserver.HubOptions{Addr: "127.0.0.1:0", Bus: bus})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	t.Cleanup(func() { _ = hub.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	client, err := wsserver.Dial(ctx, hub.URL())
	if err != nil {
		t.Fatalf("Dial error = %v", err)
	}
	reg := newFakeRegistrar()
	h := newHost(client, reg, newTelemetryGenerator(1, &render.GameProcess{Name: "game.exe", PID: 9}))
	done := make(chan error, 1)
	go func() { done <- h.run(ctx, 10*time.Millisecond) }()

	testutil.WaitFor(t, waitTimeout, hub.HasActiveConnection)
	testutil.WaitFor(t, waitTimeout, func() bool { return seen(bridge.TopicTelemetry) })

	if err := hub.PublishShortcuts(settings.DefaultShortcuts(), 1); err != nil {
		t.Fatalf("PublishShortcuts error = %v", err)
	}
	testutil.WaitFor(t, waitTimeout, func() bool { return seen(bridge.TopicShortcutStatus) })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run error = %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("run did not return after cancel")
	}
}

func TestTelemetryGenerator(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := newTelemetryGenerator(3, nil)
	b := newTelemetryGenerator(3, nil)
	for i := range 50 {
		sa, sb := a.Next(now), b.Next(now)
		if sa != sb {
			t.Fatalf("step %d: same seed produced %+v and %+v", i, sa, sb)
		}
		for name, v := range map[string]float64{"cpu": sa.CPUPercent, "gpu": sa.GPUPercent, "ram": sa.RAMPercent, "disk": sa.DiskPercent} {
			if v < 0 || v > 100 {
				t.Fatalf("step %d: %s = %v out of range", i, name, v)
			}
		}
		if sa.Game != nil || sa.FPS != 0 {
			t.Fatalf("step %d: game data without a game: %+v", i, sa)
		}
		if !sa.Timestamp.Equal(now) {
			t.Fatalf("timestamp = %v, want %v", sa.Timestamp, now)
		}
	}

	game := newTelemetryGenerator(3, &render.GameProcess{Name: "game.exe", PID: 12})
	sample := game.Next(now)
	if sample.Game == nil || sample.Game.PID != 12 || sample.Game.Name != "game.exe" {
		t.Fatalf("game = %+v", sample.Game)
	}
	if sample.FPS < 0 || sample.FPS > 100 {
		t.Fatalf("fps = %v out of range", sample.FPS)
	}
}

func TestBuildPatch(t *testing.T) {
	patch, err := buildPatch("off", "FULL", []string{"fps=off", "gpu=on"})
	if err != nil {
		t.Fatalf("buildPatch error = %v", err)
	}
	if patch.OverlayEnabled == nil || *patch.OverlayEnabled {
		t.Fatalf("enabled = %v, want false", patch.OverlayEnabled)
	}
	if patch.Mode == nil || *patch.Mode != settings.ModeFull {
		t.Fatalf("mode = %v, want full", patch.Mode)
	}
	if patch.MetricVisibility[settings.MetricFPS] || !patch.MetricVisibility[settings.MetricGPU] {
		t.Fatalf("metrics = %v", patch.MetricVisibility)
	}

	tests := []struct {
		name    string
		enabled string
		mode    string
		metrics []string
	}{
		{name: "empty"},
		{name: "bad enabled", enabled: "maybe"},
		{name: "bad mode", mode: "huge"},
		{name: "bad metric", metrics: []string{"vram=on"}},
		{name: "metric without state", metrics: []string{"cpu"}},
		{name: "bad metric state", metrics: []string{"cpu=half"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := buildPatch(tt.enabled, tt.mode, tt.metrics); err == nil {
				t.Fatal("buildPatch error = nil")
			}
		})
	}
	if _, err := buildPatch("", "", nil); !errors.Is(err, errNoPatch) {
		t.Fatalf("empty patch error = %v, want errNoPatch", err)
	}
}
