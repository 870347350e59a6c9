package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"perfhud/internal/bridge"
	"perfhud/internal/config"
	"perfhud/internal/localcache"
	"perfhud/internal/notice"
	"perfhud/internal/remote"
	"perfhud/internal/store"
	"perfhud/internal/toast"
	"perfhud/internal/workerutil"
	"perfhud/internal/wsserver"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

type appRuntimeLogger interface {
	Warningf(context.Context, string, ...any)
	Infof(context.Context, string, ...any)
	Errorf(context.Context, string, ...any)
}

type wailsRuntimeLogger struct{}

func formatRuntimeLogMessage(message string, args ...any) string {
	if len(args) == 0 {
		return message
	}
	return fmt.Sprintf(message, args...)
}

func (wailsRuntimeLogger) Warningf(ctx context.Context, message string, args ...any) {
	if ctx == nil {
		slog.Warn(formatRuntimeLogMessage(message, args...))
		return
	}
	runtime.LogWarningf(ctx, message, args...)
}

func (wailsRuntimeLogger) Infof(ctx context.Context, message string, args ...any) {
	if ctx == nil {
		slog.Info(formatRuntimeLogMessage(message, args...))
		return
	}
	runtime.LogInfof(ctx, message, args...)
}

func (wailsRuntimeLogger) Errorf(ctx context.Context, message string, args ...any) {
	if ctx == nil {
		slog.Error(formatRuntimeLogMessage(message, args...))
		return
	}
	runtime.LogErrorf(ctx, message, args...)
}

var (
	runtimeEventsEmitFn                  = runtime.EventsEmit
	runtimeLogger       appRuntimeLogger = wailsRuntimeLogger{}
	runtimeWindowHideFn                  = runtime.WindowHide
	runtimeWindowShowFn                  = runtime.WindowShow
	runtimeQuitFn                        = runtime.Quit
	defaultConfigPathFn                  = config.DefaultPath
	ensureConfigFileFn                   = config.EnsureFile
	watchConfigFn                        = config.Watch
	openCacheFn                          = localcache.Open
	connectRemoteFn                      = remote.Connect
)

const shutdownWaitTimeout = 10 * time.Second

func (a *App) addStartupWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	a.startupWarnMu.Lock()
	a.startupWarnings = append(a.startupWarnings, trimmed)
	a.startupWarnMu.Unlock()
}

func (a *App) consumeStartupWarnings() []string {
	a.startupWarnMu.Lock()
	defer a.startupWarnMu.Unlock()
	warnings := a.startupWarnings
	a.startupWarnings = nil
	return warnings
}

// flushStartupWarnings turns degraded-startup messages into notices so the
// user sees them once the window is up.
func (a *App) flushStartupWarnings() {
	for _, message := range a.consumeStartupWarnings() {
		a.notices.Push(notice.LevelWarning, notice.KindGeneral, message)
	}
}

// surfaceLogRecord is the logtee sink installed by main. Error records
// from background workers become notices; nothing else reports them.
func (a *App) surfaceLogRecord(level slog.Level, component, msg string) {
	if a.shuttingDown.Load() || msg == "" {
		return
	}
	kind := notice.KindGeneral
	if strings.HasSuffix(component, "-WS") {
		kind = notice.KindChannel
	}
	severity := notice.LevelError
	if level < slog.LevelError {
		severity = notice.LevelWarning
	}
	a.notices.Push(severity, kind, fmt.Sprintf("Internal error: %s. See the log for details.", msg))
}

func (a *App) startup(ctx context.Context) {
	a.setRuntimeContext(ctx)

	a.configPath = defaultConfigPathFn()
	for _, message := range config.ConsumeDefaultPathWarnings() {
		a.addStartupWarning(message)
	}
	cfg, err := ensureConfigFileFn(a.configPath)
	if err != nil {
		// A broken config file must not keep the overlay from starting.
		cfg = config.DefaultConfig()
		a.addStartupWarning("Failed to load config file at startup. Running with defaults. Error: " + err.Error())
		runtimeLogger.Warningf(ctx, "failed to load config from %s: %v", a.configPath, err)
	}
	a.setConfigSnapshot(cfg)

	bgCtx, cancel := context.WithCancel(context.Background())
	a.bgCancel = cancel

	a.toasts = toast.New(toast.Options{
		TTL:         cfg.Toast.TTL(),
		MaxRetained: cfg.Toast.MaxRetained,
		MaxVisible:  cfg.Toast.MaxVisible,
		OnChange:    a.emitToasts,
	})
	a.openCache(ctx, cfg)
	a.connectRemote(ctx, cfg)
	a.startHub(ctx, bgCtx, cfg)
	a.store = store.New(a.storeOptions(cfg))

	a.subscribe(bridge.TopicTelemetry, a.handleTelemetry)
	a.subscribe(bridge.TopicToast, a.handleToast)
	a.subscribe(bridge.TopicShortcutStatus, a.handleShortcutStatus)
	a.subscribe(bridge.TopicHostStatus, a.handleHostStatus)
	a.loadSettings(bgCtx, cfg.UserID)

	if err := watchConfigFn(bgCtx, a.configPath, a.onConfigReloaded); err != nil {
		slog.Warn("[WARN-CONFIG] config watch unavailable, edits need a restart", "path", a.configPath, "error", err)
	}
	a.flushStartupWarnings()
}

func (a *App) openCache(ctx context.Context, cfg config.Config) {
	path := cfg.ResolvedCachePath(a.configPath)
	cache, err := openCacheFn(path)
	if err != nil {
		a.addStartupWarning("Local settings cache unavailable. Offline fallback is disabled. Error: " + err.Error())
		runtimeLogger.Warningf(ctx, "failed to open local cache %s: %v", path, err)
		return
	}
	a.cache = cache
}

func (a *App) connectRemote(ctx context.Context, cfg config.Config) {
	if !cfg.Remote.Enabled() {
		slog.Debug("[DEBUG-REMOTE] remote profile store not configured")
		return
	}
	client, err := connectRemoteFn(ctx, remote.Options{
		URI:        cfg.Remote.MongoURI,
		Database:   cfg.Remote.Database,
		Collection: cfg.Remote.Collection,
		Timeout:    cfg.Remote.Timeout(),
	})
	if err != nil {
		a.addStartupWarning("Remote profile store unavailable. Settings are kept locally. Error: " + err.Error())
		runtimeLogger.Warningf(ctx, "remote connect failed: %v", err)
		return
	}
	a.remote = client
}

func (a *App) startHub(logCtx, bgCtx context.Context, cfg config.Config) {
	hub := wsserver.NewHub(wsserver.HubOptions{Addr: cfg.Bridge.ListenAddr, Bus: a.bus})
	if err := hub.Start(bgCtx); err != nil {
		a.addStartupWarning("Failed to start the host endpoint. Telemetry is unavailable. Error: " + err.Error())
		runtimeLogger.Errorf(logCtx, "host endpoint failed: %v", err)
		return
	}
	a.hub = hub
	runtimeLogger.Infof(logCtx, "host endpoint listening: %s", hub.URL())
}

// storeOptions leaves a collaborator nil instead of wrapping a nil pointer
// in a non-nil interface.
func (a *App) storeOptions(cfg config.Config) store.Options {
	opts := store.Options{
		RemoteTimeout: cfg.Remote.Timeout(),
		OnChange:      a.onStoreChange,
		OnSyncError: func(err *store.SyncError) {
			a.notices.PushError(err)
		},
	}
	if a.remote != nil {
		opts.Remote = a.remote
	}
	if a.cache != nil {
		opts.Cache = a.cache
	}
	if a.hub != nil {
		opts.Host = a.hub
	}
	return opts
}

// loadSettings resolves the settings off the UI thread. Host patches and
// shortcut presses stay buffered on the bus until the load is done.
func (a *App) loadSettings(ctx context.Context, userID string) {
	workerutil.Go(&a.bgWG, "settings-load", func() {
		result := a.store.Load(ctx, userID)
		if result.RemoteErr != nil && a.remote != nil {
			a.notices.PushError(&store.SyncError{Op: "load", Err: result.RemoteErr})
		}
		a.subscribe(bridge.TopicSettingsPatch, a.handleSettingsPatch)
		a.subscribe(bridge.TopicShortcutTriggered, a.handleShortcutTriggered)
	})
}

func (a *App) subscribe(topic bridge.Topic, handler bridge.Handler) {
	unsubscribe, err := a.bus.Subscribe(topic, handler)
	if err != nil {
		slog.Debug("[DEBUG-BRIDGE] subscribe skipped", "topic", topic, "error", err)
		return
	}
	a.unsubscribeMu.Lock()
	a.unsubscribe = append(a.unsubscribe, unsubscribe)
	a.unsubscribeMu.Unlock()
}

func (a *App) onConfigReloaded(cfg config.Config) {
	prev := a.getConfigSnapshot()
	a.setConfigSnapshot(cfg)
	slog.Info("[DEBUG-CONFIG] config reloaded", "logLevel", cfg.SlogLevel())
	if prev.Bridge != cfg.Bridge || prev.Remote != cfg.Remote || prev.Toast != cfg.Toast ||
		prev.UserID != cfg.UserID || prev.CachePath != cfg.CachePath {
		a.notices.Push(notice.LevelInfo, notice.KindGeneral, "Config changed. Restart perfhud to apply connection and toast settings.")
	}
}

// beforeClose hides the window instead of quitting when close-to-tray is
// on. Quit bypasses it.
func (a *App) beforeClose(ctx context.Context) (prevent bool) {
	if a.quitting.Load() || a.store == nil || !a.store.Current().CloseToTray {
		return false
	}
	slog.Debug("[DEBUG-APP] close intercepted, hiding to tray")
	runtimeWindowHideFn(ctx)
	a.windowHidden.Store(true)
	return true
}

// Quit exits the application even when close-to-tray is on.
func (a *App) Quit() {
	a.quitting.Store(true)
	if ctx := a.runtimeContext(); ctx != nil {
		runtimeQuitFn(ctx)
	}
}

// ShowWindow brings a hidden overlay back.
func (a *App) ShowWindow() {
	ctx := a.runtimeContext()
	if ctx == nil {
		return
	}
	runtimeWindowShowFn(ctx)
	a.windowHidden.Store(false)
}

func (a *App) shutdown(_ context.Context) {
	logCtx := a.runtimeContext()
	a.shuttingDown.Store(true)

	if a.bgCancel != nil {
		a.bgCancel()
		a.bgCancel = nil
	}
	a.unsubscribeMu.Lock()
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.unsubscribeMu.Unlock()
	for _, fn := range unsubscribe {
		fn()
	}
	a.bus.Close()

	if a.hub != nil {
		if err := a.hub.Stop(); err != nil {
			runtimeLogger.Warningf(logCtx, "host endpoint stop failed: %v", err)
		}
	}
	if !waitWithTimeout(a.bgWG.Wait, shutdownWaitTimeout) {
		runtimeLogger.Warningf(logCtx, "timed out waiting for background workers during shutdown")
	}
	if a.store != nil && !waitWithTimeout(a.store.Wait, shutdownWaitTimeout) {
		runtimeLogger.Warningf(logCtx, "timed out waiting for remote writes during shutdown")
	}
	if a.toasts != nil {
		a.toasts.Clear()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			runtimeLogger.Warningf(logCtx, "local cache close failed: %v", err)
		}
		a.cache = nil
	}
	if a.remote != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.remote.Close(closeCtx); err != nil {
			runtimeLogger.Warningf(logCtx, "remote disconnect failed: %v", err)
		}
		cancel()
		a.remote = nil
	}
	a.setRuntimeContext(nil)
}

func waitWithTimeout(waitFn func(), timeout time.Duration) bool {
	// The waiting goroutine may outlive timeout; this is only used while
	// the process is exiting.
	done := make(chan struct{})
	go func() {
		waitFn()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
