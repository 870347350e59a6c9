package main

import (
	"embed"
	"errors"
	"log/slog"
	"os"

	"perfhud/internal/logtee"
	"perfhud/internal/singleinstance"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/windows"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	logLevel := new(slog.LevelVar)
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(textHandler))

	// A second overlay core would fight the first one for the host port.
	lock, err := singleinstance.TryLock(singleinstance.DefaultName())
	if errors.Is(err, singleinstance.ErrAlreadyRunning) {
		slog.Info("[DEBUG-SINGLE] another instance is already running, exiting")
		return
	}
	if err != nil {
		slog.Warn("[DEBUG-SINGLE] lock failed, proceeding without single-instance guard", "error", err)
	}
	if lock != nil {
		defer func() {
			if releaseErr := lock.Release(); releaseErr != nil {
				slog.Warn("[DEBUG-SINGLE] lock release failed", "error", releaseErr)
			}
		}()
	}

	app := NewApp(logLevel)
	slog.SetDefault(slog.New(logtee.New(textHandler, slog.LevelError, app.surfaceLogRecord)))

	err = wails.Run(&options.App{
		Title:            "perfhud",
		Width:            360,
		Height:           240,
		MinWidth:         200,
		MinHeight:        120,
		Frameless:        true,
		AlwaysOnTop:      true,
		BackgroundColour: &options.RGBA{R: 0, G: 0, B: 0, A: 0},
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		Windows: &windows.Options{
			WebviewIsTransparent: true,
			WindowIsTranslucent:  true,
		},
		OnStartup:     app.startup,
		OnBeforeClose: app.beforeClose,
		OnShutdown:    app.shutdown,
		Bind: []any{
			app,
		},
	})
	if err != nil {
		slog.Error("[DEBUG-APP] wails run failed", "error", err)
	}
}
