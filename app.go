package main

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"perfhud/internal/bridge"
	"perfhud/internal/config"
	"perfhud/internal/hotkeys"
	"perfhud/internal/localcache"
	"perfhud/internal/notice"
	"perfhud/internal/remote"
	"perfhud/internal/render"
	"perfhud/internal/settings"
	"perfhud/internal/store"
	"perfhud/internal/toast"
	"perfhud/internal/wsserver"
)

// App is the Wails-bound overlay service.
type App struct {
	// Runtime context lifecycle. Nil before startup and after shutdown.
	ctx   context.Context
	ctxMu sync.RWMutex

	// Lock ordering (outer -> inner):
	//   frameMu -> render.Machine.mu
	// cfgMu and startupWarnMu are independent and never held together.
	cfgMu      sync.RWMutex
	cfg        config.Config
	configPath string
	logLevel   *slog.LevelVar

	startupWarnMu   sync.Mutex
	startupWarnings []string

	// frameMu serializes overlay steps with their frame emission and guards
	// appliedVersion, the newest store version reflected in the overlay.
	frameMu        sync.Mutex
	appliedVersion uint64

	// Services. bus, overlay, notices and recorder exist from NewApp; the
	// rest are set once during startup before any bus handler runs.
	bus      *bridge.Bus
	overlay  *render.Machine
	notices  *notice.Center
	recorder hotkeys.Recorder
	toasts   *toast.Queue
	store    *store.Store
	hub      *wsserver.Hub
	remote   *remote.Store
	cache    *localcache.Cache

	unsubscribeMu sync.Mutex
	unsubscribe   []func()

	hostConnected atomic.Bool
	windowHidden  atomic.Bool
	quitting      atomic.Bool
	shuttingDown  atomic.Bool
	bgCancel      context.CancelFunc
	bgWG          sync.WaitGroup
}

// NewApp creates the app service. logLevel is adjusted from the app config;
// nil allocates a private one.
func NewApp(logLevel *slog.LevelVar) *App {
	if logLevel == nil {
		logLevel = new(slog.LevelVar)
	}
	a := &App{
		cfg:      config.DefaultConfig(),
		logLevel: logLevel,
		bus:      bridge.New(bridge.Options{}),
		overlay:  render.NewMachine(settings.Defaults()),
	}
	a.notices = notice.New(notice.Options{OnChange: a.emitNotices})
	return a
}

func (a *App) setRuntimeContext(ctx context.Context) {
	a.ctxMu.Lock()
	a.ctx = ctx
	a.ctxMu.Unlock()
}

func (a *App) runtimeContext() context.Context {
	a.ctxMu.RLock()
	defer a.ctxMu.RUnlock()
	return a.ctx
}

func (a *App) setConfigSnapshot(cfg config.Config) {
	a.cfgMu.Lock()
	a.cfg = cfg
	a.cfgMu.Unlock()
	a.logLevel.Set(cfg.SlogLevel())
}

func (a *App) getConfigSnapshot() config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// GetHostURL returns the websocket endpoint the host process dials, or ""
// when the host transport failed to start.
func (a *App) GetHostURL() string {
	if a.hub == nil {
		slog.Debug("[DEBUG-WS] hub is nil, host URL unavailable")
		return ""
	}
	return a.hub.URL()
}

// IsHostConnected reports whether a host process is attached.
func (a *App) IsHostConnected() bool {
	return a.hostConnected.Load()
}
